// Package market defines the boundary to the marketplace fetch service: the
// collaborator that actually talks to Amazon/Flipkart and returns normalized
// product records. The tracker only depends on the Client interface and the
// error taxonomy here; the HTTP implementation lives in client_http.go.
package market

import (
	"context"
	"errors"
	"fmt"
)

// Snapshot is a normalized live product record returned by the fetch service.
type Snapshot struct {
	Marketplace   string  `json:"marketplace"`
	ProductID     string  `json:"product_id"`
	Title         string  `json:"title"`
	CurrentPrice  float64 `json:"current_price"`
	OriginalPrice float64 `json:"original_price"`
	StockStatus   string  `json:"stock_status"`
	StockQuantity int     `json:"stock_quantity"`
	Rating        float64 `json:"rating"`
	RatingCount   int     `json:"rating_count"`
	ImageURL      string  `json:"image_url"`
}

// Client fetches live product state from a marketplace.
//
// Implementations must surface transport failures, unknown products, and
// upstream throttling distinctly via the package error values.
type Client interface {
	// FetchProduct returns the live snapshot for one product.
	FetchProduct(ctx context.Context, marketplace, productID string) (*Snapshot, error)

	// FetchProducts returns snapshots for a batch of products of one
	// marketplace. Individual ids may be missing from the result map (per-item
	// failure); a returned error means the whole batch failed.
	FetchProducts(ctx context.Context, marketplace string, productIDs []string) (map[string]*Snapshot, error)
}

// Error values distinguishing upstream failure classes.
var (
	// ErrNotFound means the marketplace does not know the product.
	ErrNotFound = errors.New("product not found upstream")

	// ErrRateLimited means the upstream throttled the request. Deferred to
	// the next scheduled run, never retried inline.
	ErrRateLimited = errors.New("upstream rate limited")
)

// TransportError wraps timeouts, connection resets, and 5xx responses from
// the fetch service. The monitor treats these as hard per-item failures
// within a run.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("fetch transport: %v", e.Err) }

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a transport-class failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
