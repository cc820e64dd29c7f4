// Package resolver extracts a canonical (marketplace, product id) identity
// from arbitrary product URLs, including shortened share links.
//
// Resolution is stateless aside from the HTTP calls used to expand short
// links, so the type is trivially testable with a fake transport.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Marketplace identifies a supported upstream store.
type Marketplace string

// Supported marketplaces.
const (
	Amazon   Marketplace = "amazon"
	Flipkart Marketplace = "flipkart"
)

// Identity is the canonical product identity extracted from a URL.
type Identity struct {
	Marketplace Marketplace
	ProductID   string
}

// Typed resolution failures. Callers branch on these with errors.Is and map
// them to user-facing validation messages.
var (
	ErrMalformedURL           = errors.New("malformed product url")
	ErrUnsupportedMarketplace = errors.New("unsupported marketplace")
	ErrIDNotFound             = errors.New("product id not found in url")
)

// Host allow-lists. Short-link hosts are expanded before extraction.
var (
	amazonHosts = map[string]bool{
		"amazon.in": true, "www.amazon.in": true,
		"amazon.com": true, "www.amazon.com": true,
	}
	amazonShortHosts = map[string]bool{
		"amzn.to": true, "amzn.in": true, "amzn.eu": true,
	}
	flipkartHosts = map[string]bool{
		"flipkart.com": true, "www.flipkart.com": true,
	}
	flipkartShortHosts = map[string]bool{
		"fkrt.it": true, "fkrt.cc": true, "dl.flipkart.com": true,
	}
)

// Ordered extraction patterns for Amazon path shapes. The first match wins.
var amazonPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/dp/([a-z0-9]{10})(?:[/?]|$)`),
	regexp.MustCompile(`(?i)/gp/product/([a-z0-9]{10})(?:[/?]|$)`),
	regexp.MustCompile(`(?i)/gp/aw/d/([a-z0-9]{10})(?:[/?]|$)`),
	regexp.MustCompile(`(?i)/product/([a-z0-9]{10})(?:[/?]|$)`),
	regexp.MustCompile(`(?i)[?&]asin=([a-z0-9]{10})(?:[&]|$)`),
	regexp.MustCompile(`(?i)/([a-z0-9]{10})/ref=`),
}

var (
	asinShape        = regexp.MustCompile(`^[A-Z0-9]{10}$`)
	flipkartPidShape = regexp.MustCompile(`^[A-Z0-9]{8,24}$`)
)

// Resolver expands short links and extracts product identities.
type Resolver struct {
	client       *http.Client
	maxRedirects int
}

// New builds a Resolver with the given per-request timeout and redirect cap.
func New(timeout time.Duration, maxRedirects int) *Resolver {
	if maxRedirects < 1 {
		maxRedirects = 1
	}
	r := &Resolver{maxRedirects: maxRedirects}
	r.client = &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	return r
}

// WithClient replaces the HTTP client. Tests inject a fake transport here.
func (r *Resolver) WithClient(c *http.Client) *Resolver {
	r.client = c
	return r
}

// Resolve classifies rawURL against the marketplace allow-list, expands it if
// it is a known short link, and extracts the product identity.
//
// Resolution is transparent: resolving a short link yields the same identity
// as resolving the expanded URL directly.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (Identity, error) {
	u, err := parseProductURL(rawURL)
	if err != nil {
		return Identity{}, err
	}

	host := strings.ToLower(u.Hostname())
	switch {
	case amazonShortHosts[host], flipkartShortHosts[host]:
		expanded, err := r.expand(ctx, u.String())
		if err != nil {
			return Identity{}, err
		}
		u, err = parseProductURL(expanded)
		if err != nil {
			return Identity{}, err
		}
		host = strings.ToLower(u.Hostname())
	}

	switch {
	case amazonHosts[host]:
		return extractAmazon(u)
	case flipkartHosts[host]:
		return extractFlipkart(u)
	default:
		return Identity{}, fmt.Errorf("%w: %s", ErrUnsupportedMarketplace, host)
	}
}

// expand follows redirects from a short link and returns the final URL.
// HEAD is tried first; some short-link providers reject HEAD inconsistently,
// so an unchanged URL or a client/server error is retried once with GET.
func (r *Resolver) expand(ctx context.Context, shortURL string) (string, error) {
	final, status, err := r.follow(ctx, http.MethodHead, shortURL)
	if err == nil && final != shortURL && status < http.StatusBadRequest {
		return final, nil
	}

	final, status, err = r.follow(ctx, http.MethodGet, shortURL)
	if err != nil {
		return "", fmt.Errorf("expand short link: %w", err)
	}
	if status >= http.StatusBadRequest {
		return "", fmt.Errorf("%w: short link returned %d", ErrMalformedURL, status)
	}
	return final, nil
}

// follow issues one redirect-following request and reports the final URL and
// status.
func (r *Resolver) follow(ctx context.Context, method, target string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	return resp.Request.URL.String(), resp.StatusCode, nil
}

// parseProductURL validates shape and normalizes a missing scheme to https.
func parseProductURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMalformedURL
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %q", ErrMalformedURL, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrMalformedURL, u.Scheme)
	}
	return u, nil
}

func extractAmazon(u *url.URL) (Identity, error) {
	decoded, err := url.PathUnescape(u.Path)
	if err != nil {
		decoded = u.Path
	}
	subject := decoded + "?" + u.RawQuery
	for _, re := range amazonPatterns {
		if m := re.FindStringSubmatch(subject); m != nil {
			id := strings.ToUpper(m[1])
			if asinShape.MatchString(id) {
				return Identity{Marketplace: Amazon, ProductID: id}, nil
			}
		}
	}
	return Identity{}, fmt.Errorf("%w: %s", ErrIDNotFound, u.Path)
}

func extractFlipkart(u *url.URL) (Identity, error) {
	pid := strings.ToUpper(u.Query().Get("pid"))
	if pid == "" {
		return Identity{}, fmt.Errorf("%w: missing pid parameter", ErrIDNotFound)
	}
	if !flipkartPidShape.MatchString(pid) {
		return Identity{}, fmt.Errorf("%w: pid %q", ErrIDNotFound, pid)
	}
	return Identity{Marketplace: Flipkart, ProductID: pid}, nil
}
