// Package repo – Price history persistence.
//
// History keeps exactly one row per (product, UTC day). Upserts are
// last-write-wins within a day, so monitor re-runs and out-of-order retries
// are commutative.
package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pricewatch/go-tracker-backend/internal/domain"
)

// UpsertPricePoint records price for (productID, day), overwriting any
// existing row for the same day.
func UpsertPricePoint(ctx context.Context, db *gorm.DB, productID uint, day string, price float64) error {
	point := &domain.PriceHistory{
		ProductID: productID,
		Day:       day,
		Price:     price,
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_id"}, {Name: "day"}},
		DoUpdates: clause.AssignmentColumns([]string{"price", "updated_at"}),
	}).Create(point).Error
}

// CountPricePoints returns the number of recorded days for a product.
func CountPricePoints(ctx context.Context, db *gorm.DB, productID uint) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.PriceHistory{}).
		Where("product_id = ?", productID).
		Count(&n).Error
	return n, err
}

// FirstPriceDay returns the earliest recorded day key for a product, or ""
// when the product has no history yet.
func FirstPriceDay(ctx context.Context, db *gorm.DB, productID uint) (string, error) {
	var day string
	err := db.WithContext(ctx).
		Model(&domain.PriceHistory{}).
		Where("product_id = ?", productID).
		Order("day").
		Limit(1).
		Pluck("day", &day).Error
	return day, err
}

// ListPricePoints returns up to limit most recent points, oldest first.
func ListPricePoints(ctx context.Context, db *gorm.DB, productID uint, limit int) ([]domain.PriceHistory, error) {
	var out []domain.PriceHistory
	err := db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("day desc").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order for rendering.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
