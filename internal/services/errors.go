// Package services defines the business logic for tracking intake, the price
// monitor, and aggregate stats. This file centralizes common service-level
// error values so that they can be consistently returned by service methods
// and checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes is performed at the
// handler/bot layer.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrUserRateLimited is returned when the per-user hourly tracking-add
	// budget is exhausted.
	ErrUserRateLimited = errors.New("tracking rate limit exceeded")

	// ErrTrackLimitReached is returned when the user already tracks the
	// maximum number of products.
	ErrTrackLimitReached = errors.New("tracked product limit reached")

	// ErrAlreadyTracking is returned when a (user, product) tracking edge
	// already exists.
	ErrAlreadyTracking = errors.New("already tracking this product")

	// ErrNotTracking is returned when an operation references a tracking
	// edge that does not exist.
	ErrNotTracking = errors.New("not tracking this product")

	// ErrProductNotFound is returned when a referenced product row is
	// missing.
	ErrProductNotFound = errors.New("product not found")

	// ErrPriceTooLow is returned when a product's current price leaves no
	// room for a threshold below it.
	ErrPriceTooLow = errors.New("price too low for an alert")

	// ErrInvalidEmail is returned when a supplied email address does not
	// parse.
	ErrInvalidEmail = errors.New("invalid email address")
)

// ThresholdRangeError reports a threshold outside the allowed range. The
// bounds are carried so the bot can explain the valid range to the user.
type ThresholdRangeError struct {
	Min float64
	Max float64
}

func (e *ThresholdRangeError) Error() string {
	return fmt.Sprintf("threshold must be between %.0f and %.0f", e.Min, e.Max)
}
