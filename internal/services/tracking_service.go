// Package services – TrackingService.
//
// This file implements the tracking intake: it validates and registers a
// user's request to track a product. Preconditions are checked in order, each
// short-circuiting with a specific error; first-seen products are fetched
// from the marketplace once and persisted together with the tracking edge in
// a single transaction, so a failure partway never leaves an orphaned edge.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/pricewatch/go-tracker-backend/internal/domain"
	"github.com/pricewatch/go-tracker-backend/internal/images"
	"github.com/pricewatch/go-tracker-backend/internal/market"
	"github.com/pricewatch/go-tracker-backend/internal/ratelimit"
	"github.com/pricewatch/go-tracker-backend/internal/repo"
	"github.com/pricewatch/go-tracker-backend/internal/resolver"
)

// rateLimitActionTrack is the durable log action name for tracking creation.
const rateLimitActionTrack = "track"

// IdentityResolver extracts the canonical product identity from a URL.
// Satisfied by *resolver.Resolver; tests substitute a fake.
type IdentityResolver interface {
	Resolve(ctx context.Context, rawURL string) (resolver.Identity, error)
}

// TrackingService registers and removes tracking edges and manages one-shot
// price thresholds.
type TrackingService struct {
	DB       *gorm.DB
	Resolver IdentityResolver
	Market   market.Client
	Images   images.Fetcher

	// AddLimit is the durable per-user tracking-add limiter.
	AddLimit *ratelimit.DurableLog

	// MaxTracked caps the total products one user may track.
	MaxTracked int

	// AffiliateTag is appended to generated buy links.
	AffiliateTag string
}

// TrackResult is the outcome of a successful Track call.
type TrackResult struct {
	Product      *domain.Product
	Tracking     *domain.Tracking
	TrackerCount int

	// NewProduct is true when this call introduced the product to the system.
	NewProduct bool
}

// TrackedItem pairs a tracking edge with its product snapshot for listings.
type TrackedItem struct {
	Tracking domain.Tracking
	Product  domain.Product
}

// Track validates and registers userID's request to track the product behind
// rawURL.
//
// Precondition order: user registration (implicit upsert), hourly add limit,
// total tracked count, URL resolution, duplicate edge. Each failure returns
// its specific error with no writes beyond the user upsert. Marketplace
// fetch failures for first-seen products are returned verbatim.
func (s *TrackingService) Track(ctx context.Context, userID int64, displayName, rawURL string) (*TrackResult, error) {
	tr := otel.Tracer("services/TrackingService")
	ctx, span := tr.Start(ctx, "Track",
		trace.WithAttributes(attribute.Int64("user.id", userID)),
	)
	defer span.End()

	if _, err := repo.UpsertUser(ctx, s.DB, userID, displayName); err != nil {
		return nil, fmt.Errorf("register user: %w", err)
	}

	ok, err := s.AddLimit.Allow(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check add limit: %w", err)
	}
	if !ok {
		return nil, ErrUserRateLimited
	}

	tracked, err := repo.CountTrackingsForUser(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	if tracked >= int64(s.MaxTracked) {
		return nil, ErrTrackLimitReached
	}

	ident, err := s.Resolver.Resolve(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	product, err := repo.GetProduct(ctx, s.DB, string(ident.Marketplace), ident.ProductID)
	newProduct := false
	var imageURL string
	switch {
	case err == nil:
		_, derr := repo.GetTracking(ctx, s.DB, userID, product.ID)
		if derr == nil {
			return nil, ErrAlreadyTracking
		}
		if !errors.Is(derr, repo.ErrNotFound) {
			return nil, derr
		}
	case errors.Is(err, repo.ErrNotFound):
		// First-seen product: one fetch, returned verbatim on failure so the
		// caller sees the adapter's own error class.
		snap, ferr := s.Market.FetchProduct(ctx, string(ident.Marketplace), ident.ProductID)
		if ferr != nil {
			return nil, ferr
		}
		product = s.productFromSnapshot(ident, snap)
		imageURL = snap.ImageURL
		newProduct = true
	default:
		return nil, err
	}

	// Product insert (if any), history seed, edge insert, and the durable
	// rate-limit entry commit or roll back together.
	var (
		edge  *domain.Tracking
		count int
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if newProduct {
			if cerr := repo.CreateProduct(ctx, tx, product); cerr != nil {
				return cerr
			}
			if herr := repo.UpsertPricePoint(ctx, tx, product.ID, domain.DayKey(time.Now()), product.CurrentPrice); herr != nil {
				return herr
			}
		}
		t, cerr := repo.CreateTracking(ctx, tx, userID, product.ID)
		if cerr != nil {
			return cerr
		}
		edge = t
		if aerr := repo.AppendRateLimit(ctx, tx, userID, rateLimitActionTrack); aerr != nil {
			return aerr
		}
		n, rerr := repo.RecountTrackers(ctx, tx, product.ID)
		if rerr != nil {
			return rerr
		}
		count = n
		return nil
	})
	if err != nil {
		// A concurrent Track for the same pair can slip past the pre-check;
		// the unique index is the arbiter.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAlreadyTracking
		}
		return nil, err
	}

	if newProduct && s.Images != nil {
		// Fire-and-forget; a missing image never fails tracking.
		go s.Images.Fetch(product.ID, imageURL)
	}

	product.TrackerCount = count
	return &TrackResult{
		Product:      product,
		Tracking:     edge,
		TrackerCount: count,
		NewProduct:   newProduct,
	}, nil
}

// Untrack removes userID's edge for productID and recomputes the product's
// tracker count.
func (s *TrackingService) Untrack(ctx context.Context, userID int64, productID uint) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if derr := repo.DeleteTracking(ctx, tx, userID, productID); derr != nil {
			return derr
		}
		_, rerr := repo.RecountTrackers(ctx, tx, productID)
		return rerr
	})
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNotTracking
	}
	return err
}

// List returns a page of the user's tracked products, most recent first,
// with the total count for pagination.
func (s *TrackingService) List(ctx context.Context, userID int64, offset, limit int) ([]TrackedItem, int64, error) {
	total, err := repo.CountTrackingsForUser(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []TrackedItem{}, 0, nil
	}

	edges, err := repo.ListTrackingsForUser(ctx, s.DB, userID, offset, limit)
	if err != nil {
		return nil, 0, err
	}

	items := make([]TrackedItem, 0, len(edges))
	for _, e := range edges {
		p, perr := repo.GetProductByID(ctx, s.DB, e.ProductID)
		if perr != nil {
			// Edge pointing at a missing product: skip, never fatal.
			continue
		}
		items = append(items, TrackedItem{Tracking: e, Product: *p})
	}
	return items, total, nil
}

// SetThreshold stores a one-shot price threshold on userID's edge for
// productID after validating it against ThresholdBounds.
func (s *TrackingService) SetThreshold(ctx context.Context, userID int64, productID uint, value float64) error {
	edge, err := repo.GetTracking(ctx, s.DB, userID, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNotTracking
	}
	if err != nil {
		return err
	}

	product, err := repo.GetProductByID(ctx, s.DB, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrProductNotFound
	}
	if err != nil {
		return err
	}

	min, max, err := s.ThresholdBounds(ctx, product)
	if err != nil {
		return err
	}
	if value < min || value > max {
		return &ThresholdRangeError{Min: min, Max: max}
	}
	return repo.SetThreshold(ctx, s.DB, edge.ID, value)
}

// ThresholdBounds computes the allowed threshold range for a product.
//
// With at least three months of history and ten price points the historical
// low is trusted: [lowestPrice, currentPrice-1]. Younger listings get the
// conservative [0.9*currentPrice, currentPrice-1], floored at 1.
func (s *TrackingService) ThresholdBounds(ctx context.Context, p *domain.Product) (min, max float64, err error) {
	points, err := repo.CountPricePoints(ctx, s.DB, p.ID)
	if err != nil {
		return 0, 0, err
	}
	firstDay, err := repo.FirstPriceDay(ctx, s.DB, p.ID)
	if err != nil {
		return 0, 0, err
	}

	max = p.CurrentPrice - 1
	matured := false
	if points >= 10 && firstDay != "" {
		if first, perr := time.Parse("2006-01-02", firstDay); perr == nil {
			matured = first.Before(time.Now().UTC().AddDate(0, -3, 0))
		}
	}
	if matured {
		min = p.LowestPrice
	} else {
		min = 0.9 * p.CurrentPrice
	}
	if min < 1 {
		min = 1
	}
	if max < min {
		// Nothing below the current price is expressible; ₹1 listings and
		// free samples cannot carry an alert.
		return 0, 0, ErrPriceTooLow
	}
	return min, max, nil
}

// SetEmail validates and stores the user's notification email address,
// registering the user first if this is their initial contact.
func (s *TrackingService) SetEmail(ctx context.Context, userID int64, displayName, email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}
	if _, err := repo.UpsertUser(ctx, s.DB, userID, displayName); err != nil {
		return fmt.Errorf("register user: %w", err)
	}
	return repo.SetUserEmail(ctx, s.DB, userID, addr.Address)
}

// productFromSnapshot builds the initial product row from the first fetch.
func (s *TrackingService) productFromSnapshot(ident resolver.Identity, snap *market.Snapshot) *domain.Product {
	stock := snap.StockStatus
	if stock != domain.StockOut {
		stock = domain.StockIn
	}
	return &domain.Product{
		Marketplace:   string(ident.Marketplace),
		ProductID:     ident.ProductID,
		Name:          snap.Title,
		CurrentPrice:  snap.CurrentPrice,
		HighestPrice:  snap.CurrentPrice,
		LowestPrice:   snap.CurrentPrice,
		StockStatus:   stock,
		StockQuantity: snap.StockQuantity,
		Rating:        snap.Rating,
		RatingCount:   snap.RatingCount,
		AffiliateLink: buildAffiliateLink(ident, s.AffiliateTag),
	}
}

// buildAffiliateLink produces the canonical buy link with the affiliate tag.
func buildAffiliateLink(ident resolver.Identity, tag string) string {
	switch ident.Marketplace {
	case resolver.Amazon:
		link := "https://www.amazon.in/dp/" + ident.ProductID
		if tag != "" {
			link += "?tag=" + tag
		}
		return link
	case resolver.Flipkart:
		link := "https://www.flipkart.com/product/p/itme?pid=" + ident.ProductID
		if tag != "" {
			link += "&affid=" + tag
		}
		return link
	default:
		return ""
	}
}
