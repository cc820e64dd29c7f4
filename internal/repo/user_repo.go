// Package repo – User persistence.
//
// Users are keyed by their chat identity and upserted on every inbound
// interaction ("last write wins" for profile fields). The conversation state
// columns live on the user row and are updated through SetConversationState.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pricewatch/go-tracker-backend/internal/domain"
)

// UpsertUser inserts the user on first contact or refreshes display name and
// last-interaction time on subsequent ones. The conversation state columns
// are left untouched on conflict so an in-flight threshold prompt survives
// unrelated interactions.
func UpsertUser(ctx context.Context, db *gorm.DB, id int64, displayName string) (*domain.User, error) {
	now := time.Now().UTC()
	u := &domain.User{
		ID:                id,
		DisplayName:       displayName,
		ConvState:         domain.ConvIdle,
		CreatedAt:         now,
		LastInteractionAt: now,
	}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "last_interaction_at"}),
	}).Create(u).Error
	if err != nil {
		return nil, err
	}
	// Re-read so callers observe the stored state, not the insert template.
	var out domain.User
	if err := db.WithContext(ctx).First(&out, id).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

// GetUser fetches a user by chat identity, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id int64) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// SetConversationState moves a user between the idle and awaiting-threshold
// states. productID must be non-nil exactly when state is awaiting_threshold.
func SetConversationState(ctx context.Context, db *gorm.DB, userID int64, state string, productID *uint) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"conv_state":      state,
			"conv_product_id": productID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetUserEmail stores the user's notification email address. Validation
// happens in the service layer; an empty string clears the address.
func SetUserEmail(ctx context.Context, db *gorm.DB, userID int64, email string) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", userID).
		Update("email", email)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountUsers returns the total number of known users.
func CountUsers(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.User{}).Count(&n).Error
	return n, err
}
