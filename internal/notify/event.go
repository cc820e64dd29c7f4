// Package notify turns product change events into channel deliveries. The
// monitor produces Event values; the Dispatcher resolves recipients into
// rendered per-channel messages and delivers them with bounded retry.
package notify

import (
	"errors"
	"fmt"

	"github.com/pricewatch/go-tracker-backend/internal/domain"
)

// Kind classifies a product change.
type Kind string

// Event kinds.
const (
	KindPriceDrop     Kind = "price_drop"
	KindPriceIncrease Kind = "price_increase"
	KindLowStock      Kind = "low_stock"
	KindOutOfStock    Kind = "out_of_stock"
	KindInStock       Kind = "in_stock"
)

// Recipient is one delivery target. TrackingID ties the delivery back to the
// tracking edge so one-shot thresholds can be cleared after success.
type Recipient struct {
	ChatID     int64
	Email      string
	TrackingID uint
}

// Event is an in-memory product change notification. It is never persisted.
type Event struct {
	Kind       Kind
	Product    *domain.Product
	PrevPrice  float64
	NewPrice   float64
	Quantity   int
	Recipients []Recipient

	// Threshold is set on single-recipient one-shot alerts and carries the
	// matched threshold value for rendering.
	Threshold *float64
}

// Metrics summarizes one dispatch. Partial failure is normal: the dispatcher
// always returns Metrics, never an error, so a delivery problem cannot abort
// the monitor batch that produced the event.
type Metrics struct {
	Total     int
	Succeeded int
	Failed    int
	Errors    []string

	// DeliveredTrackings lists tracking ids whose chat delivery succeeded.
	// The monitor uses it to clear matched one-shot thresholds.
	DeliveredTrackings []uint
}

// permanentError marks a delivery failure that retrying cannot fix (bad chat
// id, upstream 4xx).
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return fmt.Sprintf("permanent: %v", e.err) }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked non-retryable.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
