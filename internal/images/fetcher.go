// Package images downloads product images into a local spool directory.
// Fetches are fire-and-forget: the tracking intake requests one after a new
// product is created and never waits for or fails on the result.
package images

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Fetcher requests a product image download.
type Fetcher interface {
	// Fetch downloads imageURL for the product. Implementations log failures
	// and never return them to the caller.
	Fetch(productID uint, imageURL string)
}

// HTTPFetcher downloads images over HTTP into Dir.
type HTTPFetcher struct {
	rc  *resty.Client
	dir string
}

// NewHTTPFetcher builds a fetcher spooling into dir, creating it if needed.
func NewHTTPFetcher(dir string, timeout time.Duration) (*HTTPFetcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	return &HTTPFetcher{
		rc:  resty.New().SetTimeout(timeout),
		dir: dir,
	}, nil
}

// Fetch implements Fetcher. Callers typically invoke it in a goroutine.
func (f *HTTPFetcher) Fetch(productID uint, imageURL string) {
	if imageURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dest := filepath.Join(f.dir, fmt.Sprintf("%d.jpg", productID))
	resp, err := f.rc.R().SetContext(ctx).SetOutput(dest).Get(imageURL)
	if err != nil {
		log.Warn().Err(err).Uint("product_id", productID).Msg("image fetch failed")
		return
	}
	if resp.IsError() {
		log.Warn().Int("status", resp.StatusCode()).Uint("product_id", productID).Msg("image fetch rejected")
	}
}

// Noop ignores all fetch requests.
type Noop struct{}

// Fetch implements Fetcher.
func (Noop) Fetch(uint, string) {}
