package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/atlashq/atlas-core/internal/challenge"
	"github.com/atlashq/atlas-core/internal/money"
)

func gatewayFixture(t *testing.T) (*Gateway, *Ledger, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	l := New(store)
	gw := NewGateway(store, "atlas_treasury", slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx := context.Background()
	if err := l.Deposit(ctx, "user_alice", "USDC", "100", "0xa"); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := l.Deposit(ctx, "user_bob", "USDC", "100", "0xb"); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	return gw, l, store
}

func TestGateway_DepositLocksFunds(t *testing.T) {
	gw, l, store := gatewayFixture(t)
	ctx := context.Background()

	handle, err := gw.Deposit(ctx, "user_alice", "10", "USDC", "chl_1")
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if handle == "" {
		t.Fatal("expected escrow handle")
	}

	bal, _ := l.GetBalance(ctx, "user_alice", "USDC")
	if bal.Available != "90.000000" {
		t.Errorf("expected 90.000000 available, got %s", bal.Available)
	}
	if bal.Escrowed != "10.000000" {
		t.Errorf("expected 10.000000 escrowed, got %s", bal.Escrowed)
	}

	acct, err := store.GetEscrow(ctx, "chl_1")
	if err != nil {
		t.Fatalf("GetEscrow failed: %v", err)
	}
	if acct.Remaining != "10.000000" {
		t.Errorf("expected 10.000000 remaining, got %s", acct.Remaining)
	}
}

func TestGateway_DepositInsufficientFunds(t *testing.T) {
	gw, _, _ := gatewayFixture(t)

	_, err := gw.Deposit(context.Background(), "user_alice", "500", "USDC", "chl_1")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected insufficient balance, got %v", err)
	}
}

func TestGateway_BothDepositsShareOnePot(t *testing.T) {
	gw, _, store := gatewayFixture(t)
	ctx := context.Background()

	if _, err := gw.Deposit(ctx, "user_alice", "10", "USDC", "chl_1"); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if _, err := gw.Deposit(ctx, "user_bob", "10", "USDC", "chl_1"); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	acct, _ := store.GetEscrow(ctx, "chl_1")
	if acct.Total != "20.000000" || acct.Remaining != "20.000000" {
		t.Errorf("expected 20.000000 pot, got total=%s remaining=%s", acct.Total, acct.Remaining)
	}
}

func TestGateway_ReleasePaysFromPot(t *testing.T) {
	gw, l, _ := gatewayFixture(t)
	ctx := context.Background()

	if _, err := gw.Deposit(ctx, "user_alice", "10", "USDC", "chl_1"); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	handle, err := gw.Deposit(ctx, "user_bob", "10", "USDC", "chl_1")
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	// Winner payout then fee, the full resolution sequence.
	if err := gw.Release(ctx, handle, "user_bob", "19.500000"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := gw.Release(ctx, handle, "atlas_treasury", "0.500000"); err != nil {
		t.Fatalf("fee Release failed: %v", err)
	}

	bob, _ := l.GetBalance(ctx, "user_bob", "USDC")
	if bob.Available != "109.500000" {
		t.Errorf("expected 109.500000 for winner, got %s", bob.Available)
	}
	if bob.Escrowed != "0.000000" {
		t.Errorf("expected no escrowed funds after settlement, got %s", bob.Escrowed)
	}
	treasury, _ := l.GetBalance(ctx, "atlas_treasury", "USDC")
	if treasury.Available != "0.500000" {
		t.Errorf("expected 0.500000 fee collected, got %s", treasury.Available)
	}
}

// A settled pot rejects further releases. This is the property the
// challenge state machine leans on when two processes race a resolution.
func TestGateway_DoubleSettlementImpossible(t *testing.T) {
	gw, _, _ := gatewayFixture(t)
	ctx := context.Background()

	if _, err := gw.Deposit(ctx, "user_alice", "10", "USDC", "chl_1"); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	handle, err := gw.Deposit(ctx, "user_bob", "10", "USDC", "chl_1")
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	if err := gw.Release(ctx, handle, "user_bob", "19.500000"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := gw.Release(ctx, handle, "user_alice", "19.500000"); !errors.Is(err, ErrEscrowDrained) {
		t.Errorf("second payout must fail, got %v", err)
	}
}

func TestGateway_RefundFull(t *testing.T) {
	gw, l, _ := gatewayFixture(t)
	ctx := context.Background()

	handle, err := gw.Deposit(ctx, "user_alice", "10", "USDC", "chl_1")
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	if err := gw.RefundFull(ctx, handle, "user_alice"); err != nil {
		t.Fatalf("RefundFull failed: %v", err)
	}

	bal, _ := l.GetBalance(ctx, "user_alice", "USDC")
	if bal.Available != "100.000000" {
		t.Errorf("expected stake fully returned, got %s", bal.Available)
	}
	if bal.Escrowed != "0.000000" {
		t.Errorf("expected nothing escrowed, got %s", bal.Escrowed)
	}

	// A second full refund finds nothing locked.
	if err := gw.RefundFull(ctx, handle, "user_alice"); !errors.Is(err, ErrEscrowDrained) {
		t.Errorf("double refund must fail, got %v", err)
	}
}

// A refund that the pot cannot cover must fail without touching any
// state: the contributions stay locked and the pot keeps its balance.
func TestGateway_RefundDrainedLeavesStateUntouched(t *testing.T) {
	gw, _, store := gatewayFixture(t)
	ctx := context.Background()

	if _, err := gw.Deposit(ctx, "user_alice", "10", "USDC", "chl_1"); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	handle, err := gw.Deposit(ctx, "user_bob", "10", "USDC", "chl_1")
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	// Settlement drains most of the pot; alice's stake is still locked
	// but can no longer be covered.
	if err := gw.Release(ctx, handle, "user_bob", "19.500000"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	if err := gw.RefundFull(ctx, handle, "user_alice"); !errors.Is(err, ErrEscrowDrained) {
		t.Fatalf("expected drained error, got %v", err)
	}

	store.mu.Lock()
	acct := store.accounts["chl_1"]
	for _, con := range acct.contributions {
		if con.UserID == "user_alice" && con.Status != "locked" {
			t.Errorf("contribution %s must stay locked after failed refund, got %s", con.Handle, con.Status)
		}
	}
	remaining := money.Format("USDC", acct.remaining)
	store.mu.Unlock()
	if remaining != "0.500000" {
		t.Errorf("pot must keep 0.500000 after failed refund, got %s", remaining)
	}

	// Repeating the call sees the same state, not a half-refunded one.
	if err := gw.RefundFull(ctx, handle, "user_alice"); !errors.Is(err, ErrEscrowDrained) {
		t.Errorf("expected drained error on retry, got %v", err)
	}
}

func TestGateway_RefundSplitSweepsRemainder(t *testing.T) {
	gw, l, store := gatewayFixture(t)
	ctx := context.Background()

	if _, err := gw.Deposit(ctx, "user_alice", "4", "USDC", "chl_1"); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	handle, err := gw.Deposit(ctx, "user_bob", "4", "USDC", "chl_1")
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	// Tie on a 8.00 pot: 3.90 each, the 0.20 fee is left behind.
	err = gw.RefundSplit(ctx, handle, []challenge.RefundParty{
		{UserID: "user_alice", Amount: "3.900000"},
		{UserID: "user_bob", Amount: "3.900000"},
	})
	if err != nil {
		t.Fatalf("RefundSplit failed: %v", err)
	}

	alice, _ := l.GetBalance(ctx, "user_alice", "USDC")
	if alice.Available != "99.900000" {
		t.Errorf("expected 99.900000 after tie refund, got %s", alice.Available)
	}
	treasury, _ := l.GetBalance(ctx, "atlas_treasury", "USDC")
	if treasury.Available != "0.200000" {
		t.Errorf("expected 0.200000 swept to treasury, got %s", treasury.Available)
	}

	acct, _ := store.GetEscrow(ctx, "chl_1")
	if acct.Remaining != "0.000000" {
		t.Errorf("pot must be empty after sweep, got %s", acct.Remaining)
	}
}

func TestGateway_UnknownHandle(t *testing.T) {
	gw, _, _ := gatewayFixture(t)

	if err := gw.Release(context.Background(), "esc_missing", "user_bob", "1"); !errors.Is(err, ErrEscrowNotFound) {
		t.Errorf("expected escrow not found, got %v", err)
	}
}
