// Package services – MonitorService.
//
// The monitor is the scheduled half of the pipeline: it fetches live state
// for every tracked product in marketplace-grouped batches, diffs it against
// the stored rows, appends to price history, and hands the resulting events
// to the dispatcher. A single product's fetch or delivery failure never
// aborts the run; failures are counted and logged.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/pricewatch/go-tracker-backend/internal/domain"
	"github.com/pricewatch/go-tracker-backend/internal/market"
	"github.com/pricewatch/go-tracker-backend/internal/notify"
	"github.com/pricewatch/go-tracker-backend/internal/repo"
)

// EventDispatcher hands a change event to the notification layer.
// Satisfied by *notify.Dispatcher.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev *notify.Event) notify.Metrics
}

// MonitorService runs one price-monitoring pass over all tracked products.
type MonitorService struct {
	DB         *gorm.DB
	Market     market.Client
	Dispatcher EventDispatcher
	Log        zerolog.Logger

	// BatchSize products are fetched per upstream call; BatchDelay separates
	// consecutive batches as self-imposed backpressure.
	BatchSize  int
	BatchDelay time.Duration

	// LowStockLevel is the inclusive quantity at or below which a crossing
	// from above produces a low_stock event.
	LowStockLevel int

	// Test seams.
	sleep func(ctx context.Context, d time.Duration)
	now   func() time.Time
}

// RunStats summarizes one monitor pass.
type RunStats struct {
	Products int
	Batches  int
	Updated  int
	Failed   int
	Events   int
}

// Run executes one monitoring pass. Only unrecoverable conditions (the
// product list cannot be loaded at all) return an error; everything else is
// absorbed into RunStats.
func (s *MonitorService) Run(ctx context.Context) (RunStats, error) {
	tr := otel.Tracer("services/MonitorService")
	ctx, span := tr.Start(ctx, "Run")
	defer span.End()

	var stats RunStats

	products, err := repo.ListTrackedProducts(ctx, s.DB)
	if err != nil {
		return stats, fmt.Errorf("load tracked products: %w", err)
	}
	stats.Products = len(products)
	span.SetAttributes(attribute.Int("monitor.products", len(products)))
	if len(products) == 0 {
		return stats, nil
	}

	for _, batch := range s.batches(products) {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if stats.Batches > 0 && s.BatchDelay > 0 {
			s.wait(ctx, s.BatchDelay)
		}
		stats.Batches++

		ids := make([]string, len(batch))
		for i, p := range batch {
			ids[i] = p.ProductID
		}
		marketplace := batch[0].Marketplace

		snaps, ferr := s.Market.FetchProducts(ctx, marketplace, ids)
		if ferr != nil {
			// Whole-batch failure: skip these products, keep going.
			stats.Failed += len(batch)
			s.Log.Error().Err(ferr).
				Str("marketplace", marketplace).
				Int("batch_size", len(batch)).
				Msg("batch fetch failed")
			continue
		}

		for i := range batch {
			p := batch[i]
			snap, ok := snaps[p.ProductID]
			if !ok || snap == nil {
				stats.Failed++
				s.Log.Warn().
					Str("marketplace", marketplace).
					Str("product_id", p.ProductID).
					Msg("product missing from batch response")
				continue
			}
			events, uerr := s.applySnapshot(ctx, &p, snap)
			if uerr != nil {
				stats.Failed++
				s.Log.Error().Err(uerr).Uint("id", p.ID).Msg("product update failed")
				continue
			}
			stats.Updated++
			stats.Events += len(events)
			s.dispatchAll(ctx, events)
		}
	}

	s.Log.Info().
		Int("products", stats.Products).
		Int("batches", stats.Batches).
		Int("updated", stats.Updated).
		Int("failed", stats.Failed).
		Int("events", stats.Events).
		Msg("monitor run finished")
	return stats, nil
}

// batches splits the stable marketplace-ordered product list into
// same-marketplace chunks of at most BatchSize.
func (s *MonitorService) batches(products []domain.Product) [][]domain.Product {
	size := s.BatchSize
	if size < 1 {
		size = 1
	}
	var out [][]domain.Product
	var cur []domain.Product
	for _, p := range products {
		if len(cur) > 0 && (cur[0].Marketplace != p.Marketplace || len(cur) == size) {
			out = append(out, cur)
			cur = nil
		}
		cur = append(cur, p)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// applySnapshot updates one product row from a fetched snapshot, upserts
// today's history point, and classifies the diff into zero or more events.
// The row update commits before any dispatch happens (at-least-once
// notification semantics).
func (s *MonitorService) applySnapshot(ctx context.Context, p *domain.Product, snap *market.Snapshot) ([]*notify.Event, error) {
	old := *p
	now := s.clock()

	newPrice := snap.CurrentPrice
	priceKnown := newPrice > 0
	if !priceKnown {
		// Unavailable price: keep the previous one for extrema and history.
		newPrice = old.CurrentPrice
	}

	p.CurrentPrice = newPrice
	if newPrice > p.HighestPrice {
		p.HighestPrice = newPrice
	}
	if p.LowestPrice <= 0 || newPrice < p.LowestPrice {
		p.LowestPrice = newPrice
	}
	if snap.Title != "" {
		p.Name = snap.Title
	}
	newStock := snap.StockStatus
	if newStock != domain.StockOut {
		newStock = domain.StockIn
	}
	p.StockStatus = newStock
	p.StockQuantity = snap.StockQuantity
	p.Rating = snap.Rating
	p.RatingCount = snap.RatingCount
	p.LastUpdatedAt = now

	switch {
	case old.StockStatus == domain.StockIn && newStock == domain.StockOut:
		t := now
		p.OutOfStockSince = &t
	case old.StockStatus == domain.StockOut && newStock == domain.StockIn:
		p.OutOfStockSince = nil
	}

	if err := repo.SaveProduct(ctx, s.DB, p); err != nil {
		return nil, err
	}
	if err := repo.UpsertPricePoint(ctx, s.DB, p.ID, domain.DayKey(now), p.CurrentPrice); err != nil {
		return nil, err
	}

	return s.classify(ctx, &old, p, priceKnown)
}

// classify compares old and new state and builds the event list. Broadcast
// price events exclude edges that receive a single-recipient threshold alert
// in the same run (the threshold alert takes precedence).
func (s *MonitorService) classify(ctx context.Context, old, p *domain.Product, priceKnown bool) ([]*notify.Event, error) {
	rows, err := repo.ListRecipientsForProduct(ctx, s.DB, p.ID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	all := make([]notify.Recipient, len(rows))
	for i, r := range rows {
		all[i] = notify.Recipient{ChatID: r.UserID, Email: r.Email, TrackingID: r.TrackingID}
	}

	var events []*notify.Event

	priceChanged := priceKnown && p.CurrentPrice != old.CurrentPrice
	matched := map[uint]bool{}

	// One-shot threshold singles go first so the broadcast can exclude them.
	for _, r := range rows {
		if r.PriceThreshold == nil || !priceKnown {
			continue
		}
		if *r.PriceThreshold >= p.CurrentPrice {
			matched[r.TrackingID] = true
			th := *r.PriceThreshold
			events = append(events, &notify.Event{
				Kind:       notify.KindPriceDrop,
				Product:    p,
				PrevPrice:  old.CurrentPrice,
				NewPrice:   p.CurrentPrice,
				Threshold:  &th,
				Recipients: []notify.Recipient{{ChatID: r.UserID, Email: r.Email, TrackingID: r.TrackingID}},
			})
		}
	}

	if priceChanged {
		kind := notify.KindPriceDrop
		if p.CurrentPrice > old.CurrentPrice {
			kind = notify.KindPriceIncrease
		}
		var rest []notify.Recipient
		for _, r := range all {
			if !matched[r.TrackingID] {
				rest = append(rest, r)
			}
		}
		if len(rest) > 0 {
			events = append(events, &notify.Event{
				Kind:       kind,
				Product:    p,
				PrevPrice:  old.CurrentPrice,
				NewPrice:   p.CurrentPrice,
				Recipients: rest,
			})
		}
	}

	switch {
	case old.StockStatus == domain.StockIn && p.StockStatus == domain.StockOut:
		events = append(events, &notify.Event{
			Kind: notify.KindOutOfStock, Product: p, Recipients: all,
		})
	case old.StockStatus == domain.StockOut && p.StockStatus == domain.StockIn:
		events = append(events, &notify.Event{
			Kind: notify.KindInStock, Product: p, Recipients: all,
		})
	}

	if p.StockStatus == domain.StockIn &&
		old.StockQuantity > s.LowStockLevel &&
		p.StockQuantity > 0 && p.StockQuantity <= s.LowStockLevel {
		events = append(events, &notify.Event{
			Kind: notify.KindLowStock, Product: p, Quantity: p.StockQuantity, Recipients: all,
		})
	}

	return events, nil
}

// dispatchAll hands events to the dispatcher and clears one-shot thresholds
// whose delivery succeeded.
func (s *MonitorService) dispatchAll(ctx context.Context, events []*notify.Event) {
	for _, ev := range events {
		m := s.Dispatcher.Dispatch(ctx, ev)
		if ev.Threshold == nil {
			continue
		}
		for _, trackingID := range m.DeliveredTrackings {
			if err := repo.ClearThreshold(ctx, s.DB, trackingID); err != nil {
				s.Log.Error().Err(err).Uint("tracking_id", trackingID).Msg("clear threshold failed")
			}
		}
	}
}

func (s *MonitorService) wait(ctx context.Context, d time.Duration) {
	if s.sleep != nil {
		s.sleep(ctx, d)
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (s *MonitorService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}
