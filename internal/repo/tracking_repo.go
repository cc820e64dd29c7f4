// Package repo – Tracking edge persistence.
//
// The (user_id, product_id) pair is unique; CreateTracking surfaces the
// constraint violation to the service layer, which maps it to the
// "already tracking" error. Threshold mutations are row-scoped updates so
// concurrent monitor runs and bot commands cannot interleave partial writes.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/pricewatch/go-tracker-backend/internal/domain"
)

// CreateTracking inserts a tracking edge for (userID, productID).
// A duplicate pair fails the unique index as gorm.ErrDuplicatedKey.
func CreateTracking(ctx context.Context, db *gorm.DB, userID int64, productID uint) (*domain.Tracking, error) {
	t := &domain.Tracking{
		UserID:    userID,
		ProductID: productID,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

// GetTracking fetches the edge for (userID, productID), or ErrNotFound.
func GetTracking(ctx context.Context, db *gorm.DB, userID int64, productID uint) (*domain.Tracking, error) {
	var t domain.Tracking
	err := db.WithContext(ctx).
		Where("user_id = ? AND product_id = ?", userID, productID).
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// DeleteTracking removes the edge for (userID, productID). Returns
// ErrNotFound when no edge exists; the caller recounts the product's
// trackers afterwards.
func DeleteTracking(ctx context.Context, db *gorm.DB, userID int64, productID uint) error {
	res := db.WithContext(ctx).
		Where("user_id = ? AND product_id = ?", userID, productID).
		Delete(&domain.Tracking{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountTrackingsForUser returns how many products the user tracks.
func CountTrackingsForUser(ctx context.Context, db *gorm.DB, userID int64) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Tracking{}).
		Where("user_id = ?", userID).
		Count(&n).Error
	return n, err
}

// ListTrackingsForUser returns a page of the user's edges, most recent first.
func ListTrackingsForUser(ctx context.Context, db *gorm.DB, userID int64, offset, limit int) ([]domain.Tracking, error) {
	var out []domain.Tracking
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc, id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListTrackingsForProduct returns every edge pointing at a product. The
// dispatcher uses this as the broadcast recipient list.
func ListTrackingsForProduct(ctx context.Context, db *gorm.DB, productID uint) ([]domain.Tracking, error) {
	var out []domain.Tracking
	err := db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("id").
		Find(&out).Error
	return out, err
}

// RecipientRow joins a tracking edge with the owning user's delivery fields.
type RecipientRow struct {
	TrackingID     uint
	UserID         int64
	Email          string
	PriceThreshold *float64
}

// ListRecipientsForProduct returns one row per tracking edge for a product
// with the user's email and the edge's threshold, in stable id order. This is
// the notification fan-out source.
func ListRecipientsForProduct(ctx context.Context, db *gorm.DB, productID uint) ([]RecipientRow, error) {
	var rows []RecipientRow
	err := db.WithContext(ctx).
		Table("trackings").
		Select("trackings.id AS tracking_id, trackings.user_id, users.email, trackings.price_threshold").
		Joins("JOIN users ON users.id = trackings.user_id").
		Where("trackings.product_id = ?", productID).
		Order("trackings.id").
		Scan(&rows).Error
	return rows, err
}

// SetThreshold stores a one-shot price threshold on an edge.
func SetThreshold(ctx context.Context, db *gorm.DB, trackingID uint, threshold float64) error {
	res := db.WithContext(ctx).
		Model(&domain.Tracking{}).
		Where("id = ?", trackingID).
		Update("price_threshold", threshold)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ClearThreshold nulls an edge's threshold after the one-shot alert fired.
// Clearing an already-null threshold is a no-op, which keeps retried
// deliveries idempotent.
func ClearThreshold(ctx context.Context, db *gorm.DB, trackingID uint) error {
	return db.WithContext(ctx).
		Model(&domain.Tracking{}).
		Where("id = ?", trackingID).
		Update("price_threshold", nil).Error
}

// CountTrackings returns the total number of tracking edges.
func CountTrackings(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Tracking{}).Count(&n).Error
	return n, err
}
