package watcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type mockCreditor struct {
	deposits []depositCall
	err      error
}

type depositCall struct {
	userID, token, amount, txHash string
}

func (m *mockCreditor) Deposit(_ context.Context, userID, token, amount, txHash string) error {
	if m.err != nil {
		return m.err
	}
	m.deposits = append(m.deposits, depositCall{userID, token, amount, txHash})
	return nil
}

type mockResolver struct {
	users map[string]string // wallet addr -> user ID
}

func (m *mockResolver) UserByAddress(_ context.Context, address string) (string, bool) {
	id, ok := m.users[address]
	return id, ok
}

func testWatcher(creditor *mockCreditor, resolver *mockResolver) *Watcher {
	return &Watcher{
		config:    DefaultConfig(),
		creditor:  creditor,
		resolver:  resolver,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		processed: make(map[string]bool),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

const aliceWallet = "0x1111111111111111111111111111111111111111"

func transferLog(from string, amount *big.Int, txHash string) types.Log {
	return types.Log{
		Topics: []common.Hash{
			transferEventSig,
			common.BytesToHash(common.HexToAddress(from).Bytes()),
			common.BytesToHash(common.HexToAddress("0x2222222222222222222222222222222222222222").Bytes()),
		},
		Data:   amount.Bytes(),
		TxHash: common.HexToHash(txHash),
	}
}

func TestProcessTransfer_CreditsLinkedWallet(t *testing.T) {
	creditor := &mockCreditor{}
	resolver := &mockResolver{users: map[string]string{aliceWallet: "user_alice"}}
	w := testWatcher(creditor, resolver)

	// 25.5 USDC in smallest units
	log := transferLog(aliceWallet, big.NewInt(25500000), "0xaa")
	if err := w.processTransfer(context.Background(), log); err != nil {
		t.Fatalf("processTransfer failed: %v", err)
	}

	if len(creditor.deposits) != 1 {
		t.Fatalf("Expected 1 deposit, got %d", len(creditor.deposits))
	}
	d := creditor.deposits[0]
	if d.userID != "user_alice" {
		t.Errorf("Expected user_alice, got %s", d.userID)
	}
	if d.amount != "25.500000" {
		t.Errorf("Expected 25.500000, got %s", d.amount)
	}
	if d.token != "USDC" {
		t.Errorf("Expected USDC, got %s", d.token)
	}
}

func TestProcessTransfer_SkipsUnlinkedWallet(t *testing.T) {
	creditor := &mockCreditor{}
	resolver := &mockResolver{users: map[string]string{}}
	w := testWatcher(creditor, resolver)

	log := transferLog(aliceWallet, big.NewInt(1000000), "0xbb")
	if err := w.processTransfer(context.Background(), log); err != nil {
		t.Fatalf("processTransfer failed: %v", err)
	}

	if len(creditor.deposits) != 0 {
		t.Errorf("Expected no deposits for unlinked wallet, got %d", len(creditor.deposits))
	}
}

func TestProcessTransfer_DeduplicatesByTxHash(t *testing.T) {
	creditor := &mockCreditor{}
	resolver := &mockResolver{users: map[string]string{aliceWallet: "user_alice"}}
	w := testWatcher(creditor, resolver)

	log := transferLog(aliceWallet, big.NewInt(1000000), "0xcc")
	w.processTransfer(context.Background(), log)
	w.processTransfer(context.Background(), log)

	if len(creditor.deposits) != 1 {
		t.Errorf("Expected 1 deposit for repeated log, got %d", len(creditor.deposits))
	}
}

func TestProcessTransfer_RetriesAfterCreditFailure(t *testing.T) {
	creditor := &mockCreditor{err: errors.New("db down")}
	resolver := &mockResolver{users: map[string]string{aliceWallet: "user_alice"}}
	w := testWatcher(creditor, resolver)

	log := transferLog(aliceWallet, big.NewInt(1000000), "0xdd")
	if err := w.processTransfer(context.Background(), log); err == nil {
		t.Fatal("Expected error when creditor fails")
	}

	// Failure unmarks the tx so the next poll can retry it.
	creditor.err = nil
	if err := w.processTransfer(context.Background(), log); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if len(creditor.deposits) != 1 {
		t.Errorf("Expected 1 deposit after retry, got %d", len(creditor.deposits))
	}
}

func TestProcessTransfer_RejectsMalformedLog(t *testing.T) {
	creditor := &mockCreditor{}
	resolver := &mockResolver{users: map[string]string{aliceWallet: "user_alice"}}
	w := testWatcher(creditor, resolver)

	bad := types.Log{
		Topics: []common.Hash{transferEventSig},
		TxHash: common.HexToHash("0xee"),
	}
	if err := w.processTransfer(context.Background(), bad); err == nil {
		t.Error("Expected error for log with missing topics")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.PollInterval == 0 {
		t.Error("Expected non-zero poll interval")
	}
	if cfg.Token != "USDC" {
		t.Errorf("Expected USDC default token, got %s", cfg.Token)
	}
	if cfg.StartBlock != 0 {
		t.Errorf("Expected start block 0, got %d", cfg.StartBlock)
	}
}
