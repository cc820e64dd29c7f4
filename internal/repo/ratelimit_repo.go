// Package repo – durable rate-limit log.
//
// The tracking-add limit is enforced against this table rather than the
// in-memory sliding window so it survives process restarts. Old entries are
// removed by a periodic sweep, not lazily.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/pricewatch/go-tracker-backend/internal/domain"
)

// AppendRateLimit records one occurrence of action for userID.
func AppendRateLimit(ctx context.Context, db *gorm.DB, userID int64, action string) error {
	return db.WithContext(ctx).Create(&domain.RateLimitEntry{
		UserID:    userID,
		Action:    action,
		CreatedAt: time.Now().UTC(),
	}).Error
}

// CountRateLimitSince counts occurrences of action for userID at or after
// cutoff.
func CountRateLimitSince(ctx context.Context, db *gorm.DB, userID int64, action string, cutoff time.Time) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.RateLimitEntry{}).
		Where("user_id = ? AND action = ? AND created_at >= ?", userID, action, cutoff).
		Count(&n).Error
	return n, err
}

// SweepRateLimitLog deletes entries older than retention and returns the
// number of rows removed.
func SweepRateLimitLog(ctx context.Context, db *gorm.DB, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	res := db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&domain.RateLimitEntry{})
	return res.RowsAffected, res.Error
}
