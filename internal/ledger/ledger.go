// Package ledger tracks user balances on the platform.
//
// Flow:
//  1. User deposits tokens to the platform address
//  2. Platform credits the user's balance (watcher-driven, dedup by tx hash)
//  3. Challenge wagers lock funds into per-challenge escrow accounts
//  4. Escrow settles back into balances as payouts, fees, or refunds
//  5. User withdraws (platform sends tokens out)
//
// Balances are kept per (user, token). Amounts are decimal strings at
// the boundary and minor units internally.
package ledger

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/atlashq/atlas-core/internal/money"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrDuplicateDeposit    = errors.New("deposit already processed")
	ErrEscrowNotFound      = errors.New("escrow account not found")
	ErrEscrowDrained       = errors.New("escrow account has insufficient funds")
)

// Entry types recorded in the ledger history.
const (
	EntryDeposit      = "deposit"
	EntryWithdrawal   = "withdrawal"
	EntryEscrowLock   = "escrow_lock"
	EntryEscrowRefund = "escrow_refund"
	EntryPayout       = "payout"
	EntryFee          = "fee"
)

// Entry represents a ledger entry.
type Entry struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Token       string    `json:"token"`
	Type        string    `json:"type"`
	Amount      string    `json:"amount"`
	TxHash      string    `json:"txHash,omitempty"`
	Reference   string    `json:"reference,omitempty"` // challenge ID, escrow handle
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Balance represents a user's balance in one token.
type Balance struct {
	UserID    string    `json:"userId"`
	Token     string    `json:"token"`
	Available string    `json:"available"` // can be wagered or withdrawn
	Escrowed  string    `json:"escrowed"`  // locked in active challenges
	TotalIn   string    `json:"totalIn"`   // lifetime deposits
	TotalOut  string    `json:"totalOut"`  // lifetime withdrawals + fees paid
	UpdatedAt time.Time `json:"updatedAt"`
}

// Contribution is one user's stake inside an escrow account.
type Contribution struct {
	Handle      string    `json:"handle"`
	ChallengeID string    `json:"challengeId"`
	UserID      string    `json:"userId"`
	Token       string    `json:"token"`
	Amount      string    `json:"amount"`
	Status      string    `json:"status"` // locked, refunded, consumed
	CreatedAt   time.Time `json:"createdAt"`
}

// Account is the escrow pot for one challenge. Remaining only ever
// decreases once settlement starts; it reaching zero is what makes a
// second settlement structurally impossible.
type Account struct {
	ChallengeID string    `json:"challengeId"`
	Token       string    `json:"token"`
	Total       string    `json:"total"`
	Remaining   string    `json:"remaining"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Store persists ledger data. Balance-and-escrow mutations are atomic:
// a lock that debits the user either fully lands or not at all.
type Store interface {
	GetBalance(ctx context.Context, userID, token string) (*Balance, error)
	Credit(ctx context.Context, e *Entry) error
	Debit(ctx context.Context, e *Entry) error
	GetHistory(ctx context.Context, userID, token string, limit int) ([]*Entry, error)
	HasDeposit(ctx context.Context, txHash string) (bool, error)

	// EscrowLock debits the user's available balance and adds the amount
	// to the challenge's escrow pot.
	EscrowLock(ctx context.Context, con *Contribution) error
	// ResolveHandle maps an escrow handle to its account.
	ResolveHandle(ctx context.Context, handle string) (*Account, error)
	// EscrowSettle moves amount out of the pot into toUserID's available
	// balance. Fails with ErrEscrowDrained if the pot cannot cover it.
	EscrowSettle(ctx context.Context, challengeID, toUserID, amount, entryType, reference string) error
	// EscrowRefundUser returns every locked contribution of one user and
	// reports the refunded total.
	EscrowRefundUser(ctx context.Context, challengeID, userID string) (string, error)
	// EscrowSweep moves whatever remains in the pot to toUserID and
	// reports the swept amount.
	EscrowSweep(ctx context.Context, challengeID, toUserID string) (string, error)
	GetEscrow(ctx context.Context, challengeID string) (*Account, error)
}

// Ledger manages user balances.
type Ledger struct {
	store Store
}

// New creates a new ledger.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// GetBalance returns a user's current balance for one token.
func (l *Ledger) GetBalance(ctx context.Context, userID, token string) (*Balance, error) {
	return l.store.GetBalance(ctx, userID, normalizeToken(token))
}

// Deposit credits a user's balance. Called when a deposit lands on-chain;
// the tx hash makes redelivery by the watcher a no-op.
func (l *Ledger) Deposit(ctx context.Context, userID, token, amount, txHash string) error {
	token = normalizeToken(token)
	if _, err := validAmount(token, amount); err != nil {
		return err
	}

	exists, err := l.store.HasDeposit(ctx, txHash)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateDeposit
	}

	if err := l.store.Credit(ctx, &Entry{
		UserID:      userID,
		Token:       token,
		Type:        EntryDeposit,
		Amount:      amount,
		TxHash:      txHash,
		Description: "on-chain deposit",
	}); err != nil {
		return err
	}
	depositsTotal.Inc()
	return nil
}

// Withdraw debits a user's balance for an outbound transfer.
func (l *Ledger) Withdraw(ctx context.Context, userID, token, amount, txHash string) error {
	token = normalizeToken(token)
	if _, err := validAmount(token, amount); err != nil {
		return err
	}

	if err := l.store.Debit(ctx, &Entry{
		UserID:      userID,
		Token:       token,
		Type:        EntryWithdrawal,
		Amount:      amount,
		TxHash:      txHash,
		Description: "withdrawal",
	}); err != nil {
		return err
	}
	withdrawalsTotal.Inc()
	return nil
}

// GetHistory returns ledger entries for a user, newest first.
func (l *Ledger) GetHistory(ctx context.Context, userID, token string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.GetHistory(ctx, userID, normalizeToken(token), limit)
}

// CanWager checks if a user can cover an amount from available funds.
func (l *Ledger) CanWager(ctx context.Context, userID, token, amount string) (bool, error) {
	token = normalizeToken(token)
	amt, err := validAmount(token, amount)
	if err != nil {
		return false, err
	}

	bal, err := l.store.GetBalance(ctx, userID, token)
	if err != nil {
		return false, err
	}
	avail, _ := money.Parse(token, bal.Available)
	return avail.Cmp(amt) >= 0, nil
}

func normalizeToken(token string) string {
	token = strings.ToUpper(strings.TrimSpace(token))
	if token == "" {
		token = "USDC"
	}
	return token
}

func validAmount(token, amount string) (*big.Int, error) {
	parsed, ok := money.Parse(token, amount)
	if !ok || parsed.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return parsed, nil
}
