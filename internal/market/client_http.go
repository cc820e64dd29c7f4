package market

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPClient talks to the fetch service over its JSON API using resty.
type HTTPClient struct {
	rc *resty.Client
}

// NewHTTPClient builds a client for the fetch service at baseURL. apiKey may
// be empty for unauthenticated deployments.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		rc.SetHeader("X-API-Key", apiKey)
	}
	return &HTTPClient{rc: rc}
}

// FetchProduct implements Client.
func (c *HTTPClient) FetchProduct(ctx context.Context, marketplace, productID string) (*Snapshot, error) {
	var snap Snapshot
	resp, err := c.rc.R().
		SetContext(ctx).
		SetResult(&snap).
		SetPathParams(map[string]string{
			"marketplace": marketplace,
			"id":          productID,
		}).
		Get("/v1/products/{marketplace}/{id}")
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if err := classifyStatus(resp.StatusCode()); err != nil {
		return nil, err
	}
	return &snap, nil
}

// batchResponse is the fetch service's batch envelope. Items absent from the
// map failed individually upstream.
type batchResponse struct {
	Products map[string]*Snapshot `json:"products"`
}

// FetchProducts implements Client.
func (c *HTTPClient) FetchProducts(ctx context.Context, marketplace string, productIDs []string) (map[string]*Snapshot, error) {
	var out batchResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetResult(&out).
		SetBody(map[string]any{"ids": productIDs}).
		SetPathParam("marketplace", marketplace).
		Post("/v1/products/{marketplace}/batch")
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if err := classifyStatus(resp.StatusCode()); err != nil {
		return nil, err
	}
	if out.Products == nil {
		return map[string]*Snapshot{}, nil
	}
	return out.Products, nil
}

// classifyStatus maps HTTP statuses onto the package error taxonomy.
func classifyStatus(status int) error {
	switch {
	case status >= http.StatusOK && status < http.StatusMultipleChoices:
		return nil
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status >= http.StatusInternalServerError:
		return &TransportError{Err: fmt.Errorf("fetch service returned %d", status)}
	default:
		return fmt.Errorf("fetch service rejected request: %d", status)
	}
}
