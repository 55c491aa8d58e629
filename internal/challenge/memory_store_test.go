package challenge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atlashq/atlas-core/internal/pagination"
)

func seedChallenge(t *testing.T, store Store, id string) *Challenge {
	t.Helper()
	now := time.Now()
	c := &Challenge{
		ID:            id,
		FromUserID:    "user_alice",
		ToUserID:      "user_bob",
		ChallengeText: "x",
		WagerAmount:   "0",
		Status:        StatusPending,
		ExpiryDays:    7,
		CreatedAt:     now,
		ExpiresAt:     now.AddDate(0, 0, 7),
		Version:       1,
		UpdatedAt:     now,
	}
	if err := store.Create(context.Background(), c); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return c
}

func TestMemoryStore_VersionCAS(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedChallenge(t, store, "chl_1")

	a, _ := store.Get(ctx, "chl_1")
	b, _ := store.Get(ctx, "chl_1")

	a.Status = StatusAccepted
	if err := store.Update(ctx, a, a.Version); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	if a.Version != 2 {
		t.Errorf("expected version advanced to 2, got %d", a.Version)
	}

	b.Status = StatusDeclined
	if err := store.Update(ctx, b, b.Version); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale update must conflict, got %v", err)
	}

	got, _ := store.Get(ctx, "chl_1")
	if got.Status != StatusAccepted || got.Version != 2 {
		t.Errorf("expected accepted at version 2, got %s v%d", got.Status, got.Version)
	}
}

func TestMemoryStore_UpdateMissing(t *testing.T) {
	store := NewMemoryStore()
	c := &Challenge{ID: "chl_nope", Version: 1}
	if err := store.Update(context.Background(), c, 1); !errors.Is(err, ErrChallengeNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestMemoryStore_ClonesOnRead(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedChallenge(t, store, "chl_1")

	a, _ := store.Get(ctx, "chl_1")
	a.ChallengeText = "mutated"

	b, _ := store.Get(ctx, "chl_1")
	if b.ChallengeText != "x" {
		t.Error("store must not expose shared pointers")
	}
}

func TestMemoryStore_ListExpirable(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	due := seedChallenge(t, store, "chl_due")
	due.ExpiresAt = time.Now().Add(-time.Hour)
	if err := store.Update(ctx, due, due.Version); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	seedChallenge(t, store, "chl_future")

	done := seedChallenge(t, store, "chl_done")
	done.Status = StatusCompleted
	done.ExpiresAt = time.Now().Add(-time.Hour)
	if err := store.Update(ctx, done, done.Version); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := store.ListExpirable(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("ListExpirable failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "chl_due" {
		t.Errorf("expected only the overdue pending challenge, got %+v", got)
	}
}

func TestMemoryStore_ListByUser_CursorPaging(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		c := seedChallenge(t, store, "chl_"+string(rune('a'+i)))
		c.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.Update(ctx, c, c.Version); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}

	first, err := store.ListByUser(ctx, "user_alice", nil, 2)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 results, got %d", len(first))
	}
	if first[0].ID != "chl_e" || first[1].ID != "chl_d" {
		t.Errorf("expected newest first, got %s, %s", first[0].ID, first[1].ID)
	}

	cursor := &pagination.Cursor{CreatedAt: first[1].CreatedAt, ID: first[1].ID}
	second, err := store.ListByUser(ctx, "user_alice", cursor, 10)
	if err != nil {
		t.Fatalf("ListByUser with cursor failed: %v", err)
	}
	if len(second) != 3 {
		t.Fatalf("expected 3 older results, got %d", len(second))
	}
	if second[0].ID != "chl_c" {
		t.Errorf("expected page to continue at chl_c, got %s", second[0].ID)
	}
}
