// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Product
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a product is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/pricewatch/go-tracker-backend/internal/domain"
)

// CreateProduct inserts a new product row. The caller supplies an already
// populated snapshot from the first successful fetch; highest and lowest
// prices are seeded from the current price when unset.
func CreateProduct(ctx context.Context, db *gorm.DB, p *domain.Product) error {
	if p.HighestPrice < p.CurrentPrice {
		p.HighestPrice = p.CurrentPrice
	}
	if p.LowestPrice <= 0 || p.LowestPrice > p.CurrentPrice {
		p.LowestPrice = p.CurrentPrice
	}
	p.LastUpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).Create(p).Error
}

// GetProduct fetches a product by its (marketplace, productID) identity.
// Returns ErrNotFound when the pair is unknown.
func GetProduct(ctx context.Context, db *gorm.DB, marketplace, productID string) (*domain.Product, error) {
	var p domain.Product
	err := db.WithContext(ctx).
		Where("marketplace = ? AND product_id = ?", marketplace, productID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProductByID fetches a product by primary key, or ErrNotFound.
func GetProductByID(ctx context.Context, db *gorm.DB, id uint) (*domain.Product, error) {
	var p domain.Product
	if err := db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveProduct persists all mutable fields of an existing product row.
// Used by the monitor after applying a fetched snapshot.
func SaveProduct(ctx context.Context, db *gorm.DB, p *domain.Product) error {
	return db.WithContext(ctx).Save(p).Error
}

// ListTrackedProducts returns every product with at least one tracking edge,
// in a stable order (marketplace, then id) so monitor batches are
// deterministic within a run.
func ListTrackedProducts(ctx context.Context, db *gorm.DB) ([]domain.Product, error) {
	var out []domain.Product
	err := db.WithContext(ctx).
		Where("tracker_count > 0").
		Order("marketplace, id").
		Find(&out).Error
	return out, err
}

// RecountTrackers recomputes the cached tracker count for a product from the
// live tracking edges and persists it. Called after every edge mutation so
// the cache never drifts.
func RecountTrackers(ctx context.Context, db *gorm.DB, productID uint) (int, error) {
	var n int64
	if err := db.WithContext(ctx).
		Model(&domain.Tracking{}).
		Where("product_id = ?", productID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	err := db.WithContext(ctx).
		Model(&domain.Product{}).
		Where("id = ?", productID).
		Update("tracker_count", int(n)).Error
	return int(n), err
}

// TopDeals returns up to limit in-stock products with the largest gap between
// the highest price seen and the current price, for the deals surface.
func TopDeals(ctx context.Context, db *gorm.DB, limit int) ([]domain.Product, error) {
	var out []domain.Product
	err := db.WithContext(ctx).
		Where("stock_status = ? AND current_price > 0 AND highest_price > current_price", domain.StockIn).
		Order("(highest_price - current_price) / highest_price DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountProducts returns the total number of known products.
func CountProducts(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Product{}).Count(&n).Error
	return n, err
}
