package ratelimit

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/pricewatch/go-tracker-backend/internal/repo"
)

// DurableLog enforces a per-user limit against the rate_limit_log table so
// the count survives process restarts. The check reads the log; the caller
// appends the matching entry inside its own transaction once the guarded
// action succeeds, so failed actions do not consume budget.
type DurableLog struct {
	DB     *gorm.DB
	Action string
	Limit  int
	Span   time.Duration
}

// Allow reports whether userID has budget left for the action.
func (d *DurableLog) Allow(ctx context.Context, userID int64) (bool, error) {
	cutoff := time.Now().UTC().Add(-d.Span)
	n, err := repo.CountRateLimitSince(ctx, d.DB, userID, d.Action, cutoff)
	if err != nil {
		return false, err
	}
	return n < int64(d.Limit), nil
}

// Sweep removes entries older than retention. Run periodically from the
// monitor process.
func (d *DurableLog) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	return repo.SweepRateLimitLog(ctx, d.DB, retention)
}
