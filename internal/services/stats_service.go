package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/pricewatch/go-tracker-backend/internal/repo"
)

// Stats aggregates system-wide counters for the admin side of the API.
type Stats struct {
	Users     int64 `json:"users"`
	Products  int64 `json:"products"`
	Trackings int64 `json:"trackings"`
}

// StatsService computes aggregate counts.
type StatsService struct {
	DB *gorm.DB
}

// Collect returns the current aggregate counters.
func (s *StatsService) Collect(ctx context.Context) (Stats, error) {
	var out Stats
	var err error
	if out.Users, err = repo.CountUsers(ctx, s.DB); err != nil {
		return out, err
	}
	if out.Products, err = repo.CountProducts(ctx, s.DB); err != nil {
		return out, err
	}
	if out.Trackings, err = repo.CountTrackings(ctx, s.DB); err != nil {
		return out, err
	}
	return out, nil
}
