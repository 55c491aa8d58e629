package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/atlashq/atlas-core/internal/idgen"
	"github.com/atlashq/atlas-core/internal/money"
)

// MemoryStore is an in-memory ledger store for development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[string]*balanceState // userID|token
	entries  []*Entry                 // newest appended last
	deposits map[string]bool          // txHash
	accounts map[string]*accountState // challengeID
	handles  map[string]string        // handle -> challengeID
}

type balanceState struct {
	available *big.Int
	totalIn   *big.Int
	totalOut  *big.Int
	updatedAt time.Time
}

type accountState struct {
	token         string
	total         *big.Int
	remaining     *big.Int
	contributions []*Contribution
	createdAt     time.Time
	updatedAt     time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]*balanceState),
		deposits: make(map[string]bool),
		accounts: make(map[string]*accountState),
		handles:  make(map[string]string),
	}
}

func balKey(userID, token string) string { return userID + "|" + token }

// bal returns the balance state, creating a zero one if needed. mu held.
func (m *MemoryStore) bal(userID, token string) *balanceState {
	key := balKey(userID, token)
	b, ok := m.balances[key]
	if !ok {
		b = &balanceState{
			available: new(big.Int),
			totalIn:   new(big.Int),
			totalOut:  new(big.Int),
		}
		m.balances[key] = b
	}
	return b
}

func (m *MemoryStore) GetBalance(ctx context.Context, userID, token string) (*Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.bal(userID, token)
	return &Balance{
		UserID:    userID,
		Token:     token,
		Available: money.Format(token, b.available),
		Escrowed:  money.Format(token, m.escrowedLocked(userID, token)),
		TotalIn:   money.Format(token, b.totalIn),
		TotalOut:  money.Format(token, b.totalOut),
		UpdatedAt: b.updatedAt,
	}, nil
}

// escrowedLocked sums the user's live contributions. mu held.
func (m *MemoryStore) escrowedLocked(userID, token string) *big.Int {
	sum := new(big.Int)
	for _, acct := range m.accounts {
		if acct.token != token {
			continue
		}
		for _, con := range acct.contributions {
			if con.UserID == userID && con.Status == "locked" {
				amt, _ := money.Parse(token, con.Amount)
				sum.Add(sum, amt)
			}
		}
	}
	return sum
}

func (m *MemoryStore) Credit(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creditLocked(e)
}

// creditLocked applies a credit. mu held.
func (m *MemoryStore) creditLocked(e *Entry) error {
	amt, ok := money.Parse(e.Token, e.Amount)
	if !ok || amt.Sign() <= 0 {
		return ErrInvalidAmount
	}

	b := m.bal(e.UserID, e.Token)
	b.available.Add(b.available, amt)
	b.totalIn.Add(b.totalIn, amt)
	b.updatedAt = time.Now()

	m.recordLocked(e)
	return nil
}

func (m *MemoryStore) Debit(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.debitLocked(e)
}

// debitLocked applies a debit. mu held.
func (m *MemoryStore) debitLocked(e *Entry) error {
	amt, ok := money.Parse(e.Token, e.Amount)
	if !ok || amt.Sign() <= 0 {
		return ErrInvalidAmount
	}

	b := m.bal(e.UserID, e.Token)
	if b.available.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	b.available.Sub(b.available, amt)
	b.totalOut.Add(b.totalOut, amt)
	b.updatedAt = time.Now()

	m.recordLocked(e)
	return nil
}

// recordLocked appends a history entry. mu held.
func (m *MemoryStore) recordLocked(e *Entry) {
	cp := *e
	if cp.ID == "" {
		cp.ID = idgen.WithPrefix("led_")
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.entries = append(m.entries, &cp)
	if cp.Type == EntryDeposit && cp.TxHash != "" {
		m.deposits[cp.TxHash] = true
	}
}

func (m *MemoryStore) GetHistory(ctx context.Context, userID, token string, limit int) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.entries[i]
		if e.UserID == userID && e.Token == token {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) HasDeposit(ctx context.Context, txHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deposits[txHash], nil
}

func (m *MemoryStore) EscrowLock(ctx context.Context, con *Contribution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	amt, ok := money.Parse(con.Token, con.Amount)
	if !ok || amt.Sign() <= 0 {
		return ErrInvalidAmount
	}

	acct, exists := m.accounts[con.ChallengeID]
	if exists && acct.token != con.Token {
		return fmt.Errorf("escrow token mismatch: account holds %s", acct.token)
	}

	if err := m.debitLocked(&Entry{
		UserID:      con.UserID,
		Token:       con.Token,
		Type:        EntryEscrowLock,
		Amount:      con.Amount,
		Reference:   con.ChallengeID,
		Description: "wager locked",
	}); err != nil {
		return err
	}

	now := time.Now()
	if !exists {
		acct = &accountState{
			token:     con.Token,
			total:     new(big.Int),
			remaining: new(big.Int),
			createdAt: now,
		}
		m.accounts[con.ChallengeID] = acct
	}
	acct.total.Add(acct.total, amt)
	acct.remaining.Add(acct.remaining, amt)
	acct.updatedAt = now

	cp := *con
	cp.Status = "locked"
	cp.CreatedAt = now
	acct.contributions = append(acct.contributions, &cp)
	m.handles[con.Handle] = con.ChallengeID
	return nil
}

func (m *MemoryStore) ResolveHandle(ctx context.Context, handle string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	challengeID, ok := m.handles[handle]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return m.accountLocked(challengeID)
}

func (m *MemoryStore) GetEscrow(ctx context.Context, challengeID string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accountLocked(challengeID)
}

// accountLocked snapshots an account. mu held.
func (m *MemoryStore) accountLocked(challengeID string) (*Account, error) {
	acct, ok := m.accounts[challengeID]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return &Account{
		ChallengeID: challengeID,
		Token:       acct.token,
		Total:       money.Format(acct.token, acct.total),
		Remaining:   money.Format(acct.token, acct.remaining),
		CreatedAt:   acct.createdAt,
		UpdatedAt:   acct.updatedAt,
	}, nil
}

func (m *MemoryStore) EscrowSettle(ctx context.Context, challengeID, toUserID, amount, entryType, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[challengeID]
	if !ok {
		return ErrEscrowNotFound
	}
	amt, okAmt := money.Parse(acct.token, amount)
	if !okAmt || amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if acct.remaining.Cmp(amt) < 0 {
		return ErrEscrowDrained
	}

	acct.remaining.Sub(acct.remaining, amt)
	acct.updatedAt = time.Now()
	if acct.remaining.Sign() == 0 {
		consume(acct)
	}

	return m.creditLocked(&Entry{
		UserID:      toUserID,
		Token:       acct.token,
		Type:        entryType,
		Amount:      amount,
		Reference:   reference,
		Description: "escrow settlement",
	})
}

func (m *MemoryStore) EscrowRefundUser(ctx context.Context, challengeID, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[challengeID]
	if !ok {
		return "", ErrEscrowNotFound
	}

	// Sum first, mutate after every check has passed. An error return
	// must leave the account exactly as it was.
	sum := new(big.Int)
	var locked []*Contribution
	for _, con := range acct.contributions {
		if con.UserID == userID && con.Status == "locked" {
			amt, _ := money.Parse(acct.token, con.Amount)
			sum.Add(sum, amt)
			locked = append(locked, con)
		}
	}
	if sum.Sign() == 0 {
		return "", fmt.Errorf("%w: nothing locked for %s", ErrEscrowDrained, userID)
	}
	if acct.remaining.Cmp(sum) < 0 {
		return "", ErrEscrowDrained
	}

	for _, con := range locked {
		con.Status = "refunded"
	}
	acct.remaining.Sub(acct.remaining, sum)
	acct.updatedAt = time.Now()
	amount := money.Format(acct.token, sum)

	if err := m.creditLocked(&Entry{
		UserID:      userID,
		Token:       acct.token,
		Type:        EntryEscrowRefund,
		Amount:      amount,
		Reference:   challengeID,
		Description: "wager returned",
	}); err != nil {
		return "", err
	}
	return amount, nil
}

func (m *MemoryStore) EscrowSweep(ctx context.Context, challengeID, toUserID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[challengeID]
	if !ok {
		return "", ErrEscrowNotFound
	}

	amt := new(big.Int).Set(acct.remaining)
	amount := money.Format(acct.token, amt)

	acct.remaining.SetInt64(0)
	acct.updatedAt = time.Now()
	consume(acct)

	if amt.Sign() == 0 {
		return amount, nil
	}
	if err := m.creditLocked(&Entry{
		UserID:      toUserID,
		Token:       acct.token,
		Type:        EntryFee,
		Amount:      amount,
		Reference:   challengeID,
		Description: "escrow remainder",
	}); err != nil {
		return "", err
	}
	return amount, nil
}

// consume finalizes any still-locked contributions.
func consume(acct *accountState) {
	for _, con := range acct.contributions {
		if con.Status == "locked" {
			con.Status = "consumed"
		}
	}
}
