package challenge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atlashq/atlas-core/internal/pagination"
	"github.com/atlashq/atlas-core/internal/testutil"
)

func pgChallenge(id, from, to string, createdAt time.Time) *Challenge {
	return &Challenge{
		ID:            id,
		FromUserID:    from,
		ToUserID:      to,
		ChallengeText: "run a 10k",
		WagerAmount:   "25",
		WagerToken:    "USDC",
		Status:        StatusPending,
		ExpiryDays:    7,
		CreatedAt:     createdAt,
		ExpiresAt:     createdAt.AddDate(0, 0, 7),
		Version:       1,
		UpdatedAt:     createdAt,
	}
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	c := pgChallenge("chl_pg1", "user_alice", "user_bob", now)
	c.LatestOffer = &Offer{
		Sequence:      1,
		AuthorUserID:  "user_bob",
		ChallengeText: "run a 5k instead",
		WagerAmount:   "10",
		WagerToken:    "USDC",
		ExpiryDays:    7,
		CreatedAt:     now,
	}
	c.RetryComment = "video cut off before the finish"
	c.RetryCount = 2
	if err := store.Create(ctx, c); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, "chl_pg1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ChallengeText != c.ChallengeText || got.WagerAmount != "25" || got.WagerToken != "USDC" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.LatestOffer == nil || got.LatestOffer.WagerAmount != "10" {
		t.Errorf("latest offer did not survive: %+v", got.LatestOffer)
	}
	if got.RetryComment != c.RetryComment || got.RetryCount != 2 {
		t.Errorf("retry fields did not survive: comment=%q count=%d", got.RetryComment, got.RetryCount)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("created_at drifted: want %v, got %v", now, got.CreatedAt)
	}

	if _, err := store.Get(ctx, "chl_missing"); !errors.Is(err, ErrChallengeNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestPostgresStore_VersionCAS(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	c := pgChallenge("chl_pg2", "user_alice", "user_bob", now)
	if err := store.Create(ctx, c); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	a, _ := store.Get(ctx, "chl_pg2")
	b, _ := store.Get(ctx, "chl_pg2")

	a.Status = StatusAccepted
	if err := store.Update(ctx, a, a.Version); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	if a.Version != 2 {
		t.Errorf("expected version 2, got %d", a.Version)
	}

	b.Status = StatusDeclined
	if err := store.Update(ctx, b, b.Version); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale update must conflict, got %v", err)
	}

	missing := pgChallenge("chl_pg_missing", "user_alice", "user_bob", now)
	if err := store.Update(ctx, missing, 1); !errors.Is(err, ErrChallengeNotFound) {
		t.Errorf("expected not found for missing record, got %v", err)
	}
}

func TestPostgresStore_ListByUser_CursorPaging(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond).Add(-time.Hour)
	ids := []string{"chl_pga", "chl_pgb", "chl_pgc", "chl_pgd"}
	for i, id := range ids {
		c := pgChallenge(id, "user_alice", "user_bob", base.Add(time.Duration(i)*time.Minute))
		if err := store.Create(ctx, c); err != nil {
			t.Fatalf("Create %s failed: %v", id, err)
		}
	}

	first, err := store.ListByUser(ctx, "user_alice", nil, 2)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(first) != 2 || first[0].ID != "chl_pgd" || first[1].ID != "chl_pgc" {
		t.Fatalf("expected newest two, got %+v", first)
	}

	cursor := &pagination.Cursor{CreatedAt: first[1].CreatedAt, ID: first[1].ID}
	rest, err := store.ListByUser(ctx, "user_alice", cursor, 10)
	if err != nil {
		t.Fatalf("ListByUser with cursor failed: %v", err)
	}
	if len(rest) != 2 || rest[0].ID != "chl_pgb" {
		t.Fatalf("expected two older records starting at chl_pgb, got %+v", rest)
	}

	none, err := store.ListByUser(ctx, "user_nobody", nil, 10)
	if err != nil {
		t.Fatalf("ListByUser for stranger failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no results, got %d", len(none))
	}
}

func TestPostgresStore_ListExpirable(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)

	overdue := pgChallenge("chl_pg_overdue", "user_alice", "user_bob", now.Add(-10*24*time.Hour))
	if err := store.Create(ctx, overdue); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Accepted with a submitted response is no longer expirable.
	answered := pgChallenge("chl_pg_answered", "user_alice", "user_bob", now.Add(-10*24*time.Hour))
	answered.Status = StatusAccepted
	answered.ResponseData = &ResponseData{
		TextContent:     "done",
		SubmittedAt:     now,
		SubmitterUserID: "user_bob",
	}
	if err := store.Create(ctx, answered); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	fresh := pgChallenge("chl_pg_fresh", "user_alice", "user_bob", now)
	if err := store.Create(ctx, fresh); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	due, err := store.ListExpirable(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListExpirable failed: %v", err)
	}
	if len(due) != 1 || due[0].ID != "chl_pg_overdue" {
		t.Errorf("expected only the overdue pending challenge, got %+v", due)
	}
}
