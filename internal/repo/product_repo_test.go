package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/pricewatch/go-tracker-backend/internal/domain"
)

func TestCreateProduct_SeedsExtrema(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	p := &domain.Product{
		Marketplace:  "amazon",
		ProductID:    "B0ABCD1234",
		Name:         "Widget",
		CurrentPrice: 999,
		StockStatus:  domain.StockIn,
	}
	if err := CreateProduct(ctx, db, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.HighestPrice != 999 || p.LowestPrice != 999 {
		t.Fatalf("extrema not seeded: high=%v low=%v", p.HighestPrice, p.LowestPrice)
	}
	if p.LastUpdatedAt.IsZero() {
		t.Fatal("LastUpdatedAt not set")
	}
}

func TestGetProduct_IdentityAndNotFound(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	p := &domain.Product{Marketplace: "amazon", ProductID: "B0ABCD1234", CurrentPrice: 100, StockStatus: domain.StockIn}
	if err := CreateProduct(ctx, db, p); err != nil {
		t.Fatal(err)
	}

	got, err := GetProduct(ctx, db, "amazon", "B0ABCD1234")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != p.ID {
		t.Fatalf("want id %d, got %d", p.ID, got.ID)
	}

	if _, err := GetProduct(ctx, db, "flipkart", "B0ABCD1234"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestCreateProduct_DuplicateIdentityRejected(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := &domain.Product{Marketplace: "amazon", ProductID: "B0ABCD1234", CurrentPrice: 1, StockStatus: domain.StockIn}
	if err := CreateProduct(ctx, db, a); err != nil {
		t.Fatal(err)
	}
	b := &domain.Product{Marketplace: "amazon", ProductID: "B0ABCD1234", CurrentPrice: 2, StockStatus: domain.StockIn}
	if err := CreateProduct(ctx, db, b); err == nil {
		t.Fatal("duplicate (marketplace, product_id) must fail the unique index")
	}
}

func TestRecountTrackers_NoDrift(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	p := &domain.Product{Marketplace: "amazon", ProductID: "B0ABCD1234", CurrentPrice: 10, StockStatus: domain.StockIn}
	if err := CreateProduct(ctx, db, p); err != nil {
		t.Fatal(err)
	}
	for _, uid := range []int64{1, 2, 3} {
		if _, err := UpsertUser(ctx, db, uid, "u"); err != nil {
			t.Fatal(err)
		}
		if _, err := CreateTracking(ctx, db, uid, p.ID); err != nil {
			t.Fatal(err)
		}
	}

	n, err := RecountTrackers(ctx, db, p.ID)
	if err != nil || n != 3 {
		t.Fatalf("want 3, got %d err=%v", n, err)
	}

	if err := DeleteTracking(ctx, db, 2, p.ID); err != nil {
		t.Fatal(err)
	}
	n, err = RecountTrackers(ctx, db, p.ID)
	if err != nil || n != 2 {
		t.Fatalf("after delete: want 2, got %d err=%v", n, err)
	}

	got, err := GetProductByID(ctx, db, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TrackerCount != 2 {
		t.Fatalf("persisted tracker_count: want 2, got %d", got.TrackerCount)
	}
}

func TestListTrackedProducts_OnlyTrackedStableOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	mk := func(marketplace, pid string, trackers int) *domain.Product {
		p := &domain.Product{Marketplace: marketplace, ProductID: pid, CurrentPrice: 10, StockStatus: domain.StockIn, TrackerCount: trackers}
		if err := CreateProduct(ctx, db, p); err != nil {
			t.Fatal(err)
		}
		if trackers > 0 {
			db.Model(p).Update("tracker_count", trackers)
		}
		return p
	}
	mk("flipkart", "FKPID000001", 1)
	mk("amazon", "B0ABCD1234", 2)
	mk("amazon", "B0ZZZZ9999", 0) // untracked, excluded

	got, err := ListTrackedProducts(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 tracked products, got %d", len(got))
	}
	if got[0].Marketplace != "amazon" || got[1].Marketplace != "flipkart" {
		t.Fatalf("want marketplace order amazon,flipkart; got %s,%s", got[0].Marketplace, got[1].Marketplace)
	}
}

func TestTopDeals_OrdersByRelativeDiscount(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	mk := func(pid string, high, cur float64, stock string) {
		p := &domain.Product{
			Marketplace: "amazon", ProductID: pid,
			CurrentPrice: cur, HighestPrice: high, LowestPrice: cur,
			StockStatus: stock,
		}
		if err := db.Create(p).Error; err != nil {
			t.Fatal(err)
		}
	}
	mk("B0SMALLDEA", 1000, 900, domain.StockIn)  // 10% off
	mk("B0BIGDEALS", 1000, 500, domain.StockIn)  // 50% off
	mk("B0NODEAL00", 1000, 1000, domain.StockIn) // no discount, excluded
	mk("B0OUTSTOCK", 1000, 100, domain.StockOut) // out of stock, excluded

	got, err := TopDeals(ctx, db, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 deals, got %d", len(got))
	}
	if got[0].ProductID != "B0BIGDEALS" {
		t.Fatalf("biggest discount first: got %s", got[0].ProductID)
	}
}
