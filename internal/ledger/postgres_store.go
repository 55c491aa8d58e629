package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/atlashq/atlas-core/internal/idgen"
	"github.com/atlashq/atlas-core/internal/money"
)

// PostgresStore implements Store with PostgreSQL. Amounts live in
// NUMERIC(40,18) columns, wide enough for 18-decimal tokens; values are
// re-normalized to token precision on read.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) GetBalance(ctx context.Context, userID, token string) (*Balance, error) {
	bal := &Balance{UserID: userID, Token: token}

	var available, totalIn, totalOut string
	err := p.db.QueryRowContext(ctx, `
		SELECT available, total_in, total_out, updated_at
		FROM balances WHERE user_id = $1 AND token = $2
	`, userID, token).Scan(&available, &totalIn, &totalOut, &bal.UpdatedAt)
	if err == sql.ErrNoRows {
		available, totalIn, totalOut = "0", "0", "0"
		bal.UpdatedAt = time.Now()
	} else if err != nil {
		return nil, err
	}

	var escrowed string
	err = p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM escrow_contributions
		WHERE user_id = $1 AND token = $2 AND status = 'locked'
	`, userID, token).Scan(&escrowed)
	if err != nil {
		return nil, err
	}

	bal.Available = renormalize(token, available)
	bal.Escrowed = renormalize(token, escrowed)
	bal.TotalIn = renormalize(token, totalIn)
	bal.TotalOut = renormalize(token, totalOut)
	return bal, nil
}

// renormalize reformats a NUMERIC string to the token's precision.
func renormalize(token, s string) string {
	amt, ok := money.Parse(token, s)
	if !ok {
		return s
	}
	return money.Format(token, amt)
}

func (p *PostgresStore) Credit(ctx context.Context, e *Entry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := creditTx(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit()
}

func creditTx(ctx context.Context, tx *sql.Tx, e *Entry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO balances (user_id, token, available, total_in, total_out, updated_at)
		VALUES ($1, $2, $3::NUMERIC(40,18), $3::NUMERIC(40,18), 0, NOW())
		ON CONFLICT (user_id, token) DO UPDATE SET
			available  = balances.available + $3::NUMERIC(40,18),
			total_in   = balances.total_in  + $3::NUMERIC(40,18),
			updated_at = NOW()
	`, e.UserID, e.Token, e.Amount)
	if err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}
	return recordTx(ctx, tx, e)
}

func (p *PostgresStore) Debit(ctx context.Context, e *Entry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := debitTx(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit()
}

func debitTx(ctx context.Context, tx *sql.Tx, e *Entry) error {
	// The available >= amount guard in the WHERE clause makes overdraft
	// impossible without row locks.
	result, err := tx.ExecContext(ctx, `
		UPDATE balances SET
			available  = available - $3::NUMERIC(40,18),
			total_out  = total_out + $3::NUMERIC(40,18),
			updated_at = NOW()
		WHERE user_id = $1 AND token = $2 AND available >= $3::NUMERIC(40,18)
	`, e.UserID, e.Token, e.Amount)
	if err != nil {
		return fmt.Errorf("failed to debit balance: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrInsufficientBalance
	}
	return recordTx(ctx, tx, e)
}

func recordTx(ctx context.Context, tx *sql.Tx, e *Entry) error {
	id := e.ID
	if id == "" {
		id = idgen.WithPrefix("led_")
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, token, type, amount, tx_hash, reference, description, created_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(40,18), $6, $7, $8, NOW())
	`, id, e.UserID, e.Token, e.Type, e.Amount, nullable(e.TxHash), nullable(e.Reference), nullable(e.Description))
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (p *PostgresStore) GetHistory(ctx context.Context, userID, token string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, token, type, amount, COALESCE(tx_hash, ''), COALESCE(reference, ''), COALESCE(description, ''), created_at
		FROM ledger_entries
		WHERE user_id = $1 AND token = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, userID, token, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.Token, &e.Type, &e.Amount, &e.TxHash, &e.Reference, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Amount = renormalize(e.Token, e.Amount)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *PostgresStore) HasDeposit(ctx context.Context, txHash string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM ledger_entries WHERE type = 'deposit' AND tx_hash = $1)
	`, txHash).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) EscrowLock(ctx context.Context, con *Contribution) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := debitTx(ctx, tx, &Entry{
		UserID:      con.UserID,
		Token:       con.Token,
		Type:        EntryEscrowLock,
		Amount:      con.Amount,
		Reference:   con.ChallengeID,
		Description: "wager locked",
	}); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO escrow_accounts (challenge_id, token, total, remaining, created_at, updated_at)
		VALUES ($1, $2, $3::NUMERIC(40,18), $3::NUMERIC(40,18), NOW(), NOW())
		ON CONFLICT (challenge_id) DO UPDATE SET
			total      = escrow_accounts.total     + $3::NUMERIC(40,18),
			remaining  = escrow_accounts.remaining + $3::NUMERIC(40,18),
			updated_at = NOW()
	`, con.ChallengeID, con.Token, con.Amount)
	if err != nil {
		return fmt.Errorf("failed to update escrow account: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO escrow_contributions (handle, challenge_id, user_id, token, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(40,18), 'locked', NOW())
	`, con.Handle, con.ChallengeID, con.UserID, con.Token, con.Amount)
	if err != nil {
		return fmt.Errorf("failed to record contribution: %w", err)
	}

	return tx.Commit()
}

func (p *PostgresStore) ResolveHandle(ctx context.Context, handle string) (*Account, error) {
	var challengeID string
	err := p.db.QueryRowContext(ctx, `
		SELECT challenge_id FROM escrow_contributions WHERE handle = $1
	`, handle).Scan(&challengeID)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	if err != nil {
		return nil, err
	}
	return p.GetEscrow(ctx, challengeID)
}

func (p *PostgresStore) GetEscrow(ctx context.Context, challengeID string) (*Account, error) {
	acct := &Account{ChallengeID: challengeID}
	var total, remaining string
	err := p.db.QueryRowContext(ctx, `
		SELECT token, total, remaining, created_at, updated_at
		FROM escrow_accounts WHERE challenge_id = $1
	`, challengeID).Scan(&acct.Token, &total, &remaining, &acct.CreatedAt, &acct.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	if err != nil {
		return nil, err
	}
	acct.Total = renormalize(acct.Token, total)
	acct.Remaining = renormalize(acct.Token, remaining)
	return acct, nil
}

func (p *PostgresStore) EscrowSettle(ctx context.Context, challengeID, toUserID, amount, entryType, reference string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	token, err := drainTx(ctx, tx, challengeID, amount)
	if err != nil {
		return err
	}

	if err := creditTx(ctx, tx, &Entry{
		UserID:      toUserID,
		Token:       token,
		Type:        entryType,
		Amount:      amount,
		Reference:   reference,
		Description: "escrow settlement",
	}); err != nil {
		return err
	}

	// A drained pot finalizes every contribution still marked locked.
	_, err = tx.ExecContext(ctx, `
		UPDATE escrow_contributions SET status = 'consumed'
		WHERE challenge_id = $1 AND status = 'locked'
		  AND (SELECT remaining FROM escrow_accounts WHERE challenge_id = $1) = 0
	`, challengeID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// drainTx decrements the pot remaining, failing if it cannot cover the
// amount. Returns the pot's token.
func drainTx(ctx context.Context, tx *sql.Tx, challengeID, amount string) (string, error) {
	var token string
	err := tx.QueryRowContext(ctx, `
		UPDATE escrow_accounts SET
			remaining  = remaining - $2::NUMERIC(40,18),
			updated_at = NOW()
		WHERE challenge_id = $1 AND remaining >= $2::NUMERIC(40,18)
		RETURNING token
	`, challengeID, amount).Scan(&token)
	if err == sql.ErrNoRows {
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM escrow_accounts WHERE challenge_id = $1)
		`, challengeID).Scan(&exists); err != nil {
			return "", err
		}
		if !exists {
			return "", ErrEscrowNotFound
		}
		return "", ErrEscrowDrained
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

func (p *PostgresStore) EscrowRefundUser(ctx context.Context, challengeID, userID string) (string, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var token, sum string
	err = tx.QueryRowContext(ctx, `
		SELECT token, COALESCE(SUM(amount), 0)
		FROM escrow_contributions
		WHERE challenge_id = $1 AND user_id = $2 AND status = 'locked'
		GROUP BY token
	`, challengeID, userID).Scan(&token, &sum)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: nothing locked for %s", ErrEscrowDrained, userID)
	}
	if err != nil {
		return "", err
	}

	if _, err := drainTx(ctx, tx, challengeID, sum); err != nil {
		return "", err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE escrow_contributions SET status = 'refunded'
		WHERE challenge_id = $1 AND user_id = $2 AND status = 'locked'
	`, challengeID, userID)
	if err != nil {
		return "", err
	}

	amount := renormalize(token, sum)
	if err := creditTx(ctx, tx, &Entry{
		UserID:      userID,
		Token:       token,
		Type:        EntryEscrowRefund,
		Amount:      amount,
		Reference:   challengeID,
		Description: "wager returned",
	}); err != nil {
		return "", err
	}

	return amount, tx.Commit()
}

func (p *PostgresStore) EscrowSweep(ctx context.Context, challengeID, toUserID string) (string, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var token, remaining string
	err = tx.QueryRowContext(ctx, `
		SELECT token, remaining FROM escrow_accounts
		WHERE challenge_id = $1
		FOR UPDATE
	`, challengeID).Scan(&token, &remaining)
	if err == sql.ErrNoRows {
		return "", ErrEscrowNotFound
	}
	if err != nil {
		return "", err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE escrow_accounts SET remaining = 0, updated_at = NOW()
		WHERE challenge_id = $1
	`, challengeID)
	if err != nil {
		return "", err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE escrow_contributions SET status = 'consumed'
		WHERE challenge_id = $1 AND status = 'locked'
	`, challengeID)
	if err != nil {
		return "", err
	}

	amount := renormalize(token, remaining)
	if amt, ok := money.Parse(token, amount); ok && amt.Sign() > 0 {
		if err := creditTx(ctx, tx, &Entry{
			UserID:      toUserID,
			Token:       token,
			Type:        EntryFee,
			Amount:      amount,
			Reference:   challengeID,
			Description: "escrow remainder",
		}); err != nil {
			return "", err
		}
	}

	return amount, tx.Commit()
}
