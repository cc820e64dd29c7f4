package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pricewatch/go-tracker-backend/internal/domain"
	"github.com/pricewatch/go-tracker-backend/internal/market"
	"github.com/pricewatch/go-tracker-backend/internal/resolver"
	"github.com/pricewatch/go-tracker-backend/internal/services"
	"github.com/pricewatch/go-tracker-backend/internal/utils"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Handler bundles the service dependencies behind the HTTP endpoints.
type Handler struct {
	Tracker *services.TrackingService
	Stats   *services.StatsService
}

// New constructs the API handler set.
func New(tracker *services.TrackingService, stats *services.StatsService) *Handler {
	return &Handler{Tracker: tracker, Stats: stats}
}

// actionRequest is the single request shape of the tracking API. The action
// field selects the operation; the remaining fields are per-action.
type actionRequest struct {
	Action      string  `json:"action" binding:"required"`
	UserID      int64   `json:"user_id"`
	DisplayName string  `json:"display_name"`
	URL         string  `json:"url"`
	ProductID   uint    `json:"product_id"`
	Limit       int     `json:"limit"`
	Offset      int     `json:"offset"`
	Threshold   float64 `json:"threshold"`
	Email       string  `json:"email"`
}

// productView is the product snapshot shape returned by the API.
type productView struct {
	ID            uint    `json:"id"`
	Marketplace   string  `json:"marketplace"`
	ProductID     string  `json:"product_id"`
	Name          string  `json:"name"`
	CurrentPrice  float64 `json:"current_price"`
	HighestPrice  float64 `json:"highest_price"`
	LowestPrice   float64 `json:"lowest_price"`
	StockStatus   string  `json:"stock_status"`
	StockQuantity int     `json:"stock_quantity"`
	Rating        float64 `json:"rating"`
	RatingCount   int     `json:"rating_count"`
	AffiliateLink string  `json:"affiliate_link"`
	TrackerCount  int     `json:"tracker_count"`
}

type trackedItemView struct {
	Product   productView `json:"product"`
	Threshold *float64    `json:"threshold,omitempty"`
	TrackedAt time.Time   `json:"tracked_at"`
}

// Actions dispatches a tracking-API action request.
//
// POST /api/v1/tracking
// Body: {"action": "track|remove|list|set_threshold|set_email|stats|health", ...}
func (h *Handler) Actions(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	switch req.Action {
	case "track":
		h.track(c, &req)
	case "remove":
		h.remove(c, &req)
	case "list":
		h.list(c, &req)
	case "set_threshold":
		h.setThreshold(c, &req)
	case "set_email":
		h.setEmail(c, &req)
	case "stats":
		h.stats(c)
	case "health":
		ok(c, http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown action")
	}
}

func (h *Handler) track(c *gin.Context, req *actionRequest) {
	if req.UserID == 0 || req.URL == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id and url are required")
		return
	}

	res, err := h.Tracker.Track(c.Request.Context(), req.UserID, req.DisplayName, req.URL)
	if err != nil {
		status, code, msg := mapTrackError(err)
		if status >= http.StatusInternalServerError {
			// Log the raw error; the envelope stays generic.
			_ = c.Error(err)
		}
		fail(c, status, code, msg)
		return
	}

	ok(c, http.StatusOK, gin.H{
		"status":        "ok",
		"product":       toProductView(res.Product),
		"tracker_count": res.TrackerCount,
		"new_product":   res.NewProduct,
	})
}

func (h *Handler) remove(c *gin.Context, req *actionRequest) {
	if req.UserID == 0 || req.ProductID == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id and product_id are required")
		return
	}

	err := h.Tracker.Untrack(c.Request.Context(), req.UserID, req.ProductID)
	switch {
	case err == nil:
		ok(c, http.StatusOK, gin.H{"status": "ok"})
	case errors.Is(err, services.ErrNotTracking):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "not tracking this product")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not remove tracking")
	}
}

func (h *Handler) list(c *gin.Context, req *actionRequest) {
	if req.UserID == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id is required")
		return
	}
	limit, offset := utils.ClampLimitOffset(req.Limit, req.Offset, defaultListLimit, maxListLimit)

	items, total, err := h.Tracker.List(c.Request.Context(), req.UserID, offset, limit)
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not list trackings")
		return
	}

	views := make([]trackedItemView, 0, len(items))
	for _, it := range items {
		views = append(views, trackedItemView{
			Product:   toProductView(&it.Product),
			Threshold: it.Tracking.PriceThreshold,
			TrackedAt: it.Tracking.CreatedAt,
		})
	}

	ok(c, http.StatusOK, gin.H{
		"status":      "ok",
		"items":       views,
		"total_count": total,
		"limit":       limit,
		"offset":      offset,
		"has_more":    int64(offset+len(views)) < total,
	})
}

func (h *Handler) setThreshold(c *gin.Context, req *actionRequest) {
	if req.UserID == 0 || req.ProductID == 0 || req.Threshold <= 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id, product_id and threshold are required")
		return
	}

	err := h.Tracker.SetThreshold(c.Request.Context(), req.UserID, req.ProductID, req.Threshold)
	var rangeErr *services.ThresholdRangeError
	switch {
	case err == nil:
		ok(c, http.StatusOK, gin.H{"status": "ok", "threshold": req.Threshold})
	case errors.As(err, &rangeErr):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, rangeErr.Error())
	case errors.Is(err, services.ErrPriceTooLow):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "price too low for an alert")
	case errors.Is(err, services.ErrNotTracking):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "not tracking this product")
	case errors.Is(err, services.ErrProductNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "product not found")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not set threshold")
	}
}

func (h *Handler) setEmail(c *gin.Context, req *actionRequest) {
	if req.UserID == 0 || req.Email == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id and email are required")
		return
	}

	err := h.Tracker.SetEmail(c.Request.Context(), req.UserID, req.DisplayName, req.Email)
	switch {
	case err == nil:
		ok(c, http.StatusOK, gin.H{"status": "ok", "email": req.Email})
	case errors.Is(err, services.ErrInvalidEmail):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid email address")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not store email")
	}
}

func (h *Handler) stats(c *gin.Context) {
	s, err := h.Stats.Collect(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not collect stats")
		return
	}
	ok(c, http.StatusOK, gin.H{"status": "ok", "stats": s})
}

// mapTrackError translates intake errors into status, code, and message.
func mapTrackError(err error) (int, string, string) {
	switch {
	case errors.Is(err, services.ErrUserRateLimited):
		return http.StatusTooManyRequests, ErrCodeRateLimited, "tracking rate limit exceeded"
	case errors.Is(err, services.ErrTrackLimitReached):
		return http.StatusConflict, ErrCodeLimitReached, "tracked product limit reached"
	case errors.Is(err, services.ErrAlreadyTracking):
		return http.StatusConflict, ErrCodeConflict, "already tracking this product"
	case errors.Is(err, resolver.ErrMalformedURL):
		return http.StatusBadRequest, ErrCodeBadRequest, "malformed product URL"
	case errors.Is(err, resolver.ErrUnsupportedMarketplace):
		return http.StatusBadRequest, ErrCodeUnsupportedURL, "unsupported marketplace"
	case errors.Is(err, resolver.ErrIDNotFound):
		return http.StatusBadRequest, ErrCodeUnsupportedURL, "no product id found in URL"
	case errors.Is(err, market.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound, "product not found on marketplace"
	case errors.Is(err, market.ErrRateLimited):
		return http.StatusBadGateway, ErrCodeUpstreamFailed, "marketplace rate limited the fetch"
	case market.IsTransport(err):
		return http.StatusBadGateway, ErrCodeUpstreamFailed, "marketplace fetch failed"
	default:
		return http.StatusInternalServerError, ErrCodeInternal, "could not track product"
	}
}

func toProductView(p *domain.Product) productView {
	return productView{
		ID:            p.ID,
		Marketplace:   p.Marketplace,
		ProductID:     p.ProductID,
		Name:          p.Name,
		CurrentPrice:  p.CurrentPrice,
		HighestPrice:  p.HighestPrice,
		LowestPrice:   p.LowestPrice,
		StockStatus:   p.StockStatus,
		StockQuantity: p.StockQuantity,
		Rating:        p.Rating,
		RatingCount:   p.RatingCount,
		AffiliateLink: p.AffiliateLink,
		TrackerCount:  p.TrackerCount,
	}
}
