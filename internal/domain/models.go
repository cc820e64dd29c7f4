// Package domain defines the persistence models for products, users, tracking
// edges, price history, and the durable rate-limit log. These types are mapped
// with GORM and form the core data layer of the price tracker.
package domain

import (
	"time"
)

// Stock status values stored on Product.StockStatus.
const (
	StockIn  = "in_stock"
	StockOut = "out_of_stock"
)

// Conversation states stored on User.ConvState. The state is explicit rather
// than inferred from tracking rows so that two quick successive track calls
// cannot make a threshold reply ambiguous.
const (
	ConvIdle              = "idle"
	ConvAwaitingThreshold = "awaiting_threshold"
)

// Product is a marketplace listing known to the system, identified by the
// (marketplace, product_id) pair. A product row is created on the first
// successful fetch and mutated only by the monitor and the tracking intake.
//
// Invariants:
//   - HighestPrice >= CurrentPrice >= 0 and LowestPrice <= CurrentPrice once
//     the row is initialized.
//   - TrackerCount equals the live count of tracking edges for the product
//     and is recomputed after every edge insert or delete.
type Product struct {
	ID          uint   `json:"id"           gorm:"primaryKey"`
	Marketplace string `json:"marketplace"  gorm:"type:varchar(16);not null;uniqueIndex:ux_market_pid,priority:1"`
	ProductID   string `json:"product_id"   gorm:"type:varchar(32);not null;uniqueIndex:ux_market_pid,priority:2"`
	Name        string `json:"name"         gorm:"type:varchar(512);not null"`

	CurrentPrice float64 `json:"current_price"`
	HighestPrice float64 `json:"highest_price"`
	LowestPrice  float64 `json:"lowest_price"`

	StockStatus   string `json:"stock_status"   gorm:"type:varchar(16);not null;default:'in_stock';check:stock_status IN ('in_stock','out_of_stock')"`
	StockQuantity int    `json:"stock_quantity"`

	Rating      float64 `json:"rating"`
	RatingCount int     `json:"rating_count"`

	AffiliateLink string `json:"affiliate_link" gorm:"type:varchar(1024)"`
	HistoryURL    string `json:"history_url"    gorm:"type:varchar(1024)"`
	ImagePath     string `json:"-"              gorm:"type:varchar(512)"`

	// TrackerCount is derived from tracking edges and cached here for cheap
	// display and ranking. Recomputed on every edge mutation.
	TrackerCount int `json:"tracker_count" gorm:"not null;default:0"`

	// OutOfStockSince is set on the in_stock -> out_of_stock transition and
	// cleared on the reverse. Consumed by the retention job.
	OutOfStockSince *time.Time `json:"-"`

	LastUpdatedAt time.Time `json:"last_updated_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"-"`
}

// TableName returns the database table name for Product.
func (Product) TableName() string { return "products" }

// User is an end user keyed by chat identity. Rows are upserted on every
// inbound interaction; profile fields are last-write-wins.
type User struct {
	ID          int64  `json:"id"           gorm:"primaryKey;autoIncrement:false"`
	DisplayName string `json:"display_name" gorm:"type:varchar(128)"`
	Email       string `json:"email"        gorm:"type:varchar(256)"`

	// ConvState / ConvProductID hold the bot conversation state. When
	// ConvState is awaiting_threshold, ConvProductID names the product the
	// next plain-integer message applies to.
	ConvState     string `json:"-" gorm:"type:varchar(24);not null;default:'idle'"`
	ConvProductID *uint  `json:"-"`

	CreatedAt         time.Time `json:"created_at"`
	LastInteractionAt time.Time `json:"last_interaction_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Tracking is the edge recording that a user monitors a product. The
// (user_id, product_id) pair is unique; a second tracking request for the
// same pair is rejected, not duplicated.
//
// PriceThreshold is a one-shot alert: once matched and notified it is set
// back to NULL.
type Tracking struct {
	ID             uint     `json:"id"              gorm:"primaryKey"`
	UserID         int64    `json:"user_id"         gorm:"not null;index;uniqueIndex:ux_user_product,priority:1"`
	ProductID      uint     `json:"product_id"      gorm:"not null;index;uniqueIndex:ux_user_product,priority:2"`
	PriceThreshold *float64 `json:"price_threshold"`

	CreatedAt time.Time `json:"created_at"`

	User    User    `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Product Product `json:"-" gorm:"foreignKey:ProductID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Tracking.
func (Tracking) TableName() string { return "trackings" }

// PriceHistory holds one price point per product per UTC calendar day.
// A same-day re-fetch overwrites the day's price, never appends.
type PriceHistory struct {
	ID        uint    `json:"id"         gorm:"primaryKey"`
	ProductID uint    `json:"product_id" gorm:"not null;uniqueIndex:ux_product_day,priority:1"`
	Day       string  `json:"day"        gorm:"type:char(10);not null;uniqueIndex:ux_product_day,priority:2"`
	Price     float64 `json:"price"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`

	Product Product `json:"-" gorm:"foreignKey:ProductID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for PriceHistory.
func (PriceHistory) TableName() string { return "price_history" }

// DayKey formats t as the UTC calendar-day key used by PriceHistory.Day.
func DayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// RateLimitEntry is one row of the durable per-user action log backing the
// tracking-add limit. Unlike the in-memory sliding window it survives process
// restarts; entries older than the retention period are swept periodically.
type RateLimitEntry struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    int64     `gorm:"not null;index:idx_rl_user_action,priority:1"`
	Action    string    `gorm:"type:varchar(32);not null;index:idx_rl_user_action,priority:2"`
	CreatedAt time.Time `gorm:"index"`
}

// TableName returns the database table name for RateLimitEntry.
func (RateLimitEntry) TableName() string { return "rate_limit_log" }
