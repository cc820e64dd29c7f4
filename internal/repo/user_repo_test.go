package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/pricewatch/go-tracker-backend/internal/domain"
)

func TestUpsertUser_InsertThenRefresh(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	u, err := UpsertUser(ctx, db, 42, "Asha")
	if err != nil {
		t.Fatal(err)
	}
	if u.ConvState != domain.ConvIdle {
		t.Fatalf("new user starts idle, got %q", u.ConvState)
	}

	u2, err := UpsertUser(ctx, db, 42, "Asha K")
	if err != nil {
		t.Fatal(err)
	}
	if u2.DisplayName != "Asha K" {
		t.Fatalf("display name not refreshed: %q", u2.DisplayName)
	}

	var n int64
	db.Model(&domain.User{}).Count(&n)
	if n != 1 {
		t.Fatalf("upsert must not duplicate rows, got %d", n)
	}
}

func TestUpsertUser_PreservesConversationState(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := UpsertUser(ctx, db, 42, "Asha"); err != nil {
		t.Fatal(err)
	}
	pid := uint(7)
	if err := SetConversationState(ctx, db, 42, domain.ConvAwaitingThreshold, &pid); err != nil {
		t.Fatal(err)
	}

	// An unrelated interaction must not reset the pending prompt.
	u, err := UpsertUser(ctx, db, 42, "Asha")
	if err != nil {
		t.Fatal(err)
	}
	if u.ConvState != domain.ConvAwaitingThreshold || u.ConvProductID == nil || *u.ConvProductID != 7 {
		t.Fatalf("conversation state lost: state=%q product=%v", u.ConvState, u.ConvProductID)
	}
}

func TestSetUserEmail_StoredAndSurvivesUpsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := UpsertUser(ctx, db, 42, "Asha"); err != nil {
		t.Fatal(err)
	}
	if err := SetUserEmail(ctx, db, 42, "asha@example.com"); err != nil {
		t.Fatal(err)
	}

	// A later interaction must not wipe the stored address.
	u, err := UpsertUser(ctx, db, 42, "Asha K")
	if err != nil {
		t.Fatal(err)
	}
	if u.Email != "asha@example.com" {
		t.Fatalf("email lost on upsert: %q", u.Email)
	}
}

func TestSetUserEmail_UnknownUser(t *testing.T) {
	db := newTestDB(t)
	err := SetUserEmail(context.Background(), db, 999, "x@example.com")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestSetConversationState_UnknownUser(t *testing.T) {
	db := newTestDB(t)
	err := SetConversationState(context.Background(), db, 999, domain.ConvIdle, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
