package wallet

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// PostgresStore persists wallet links in PostgreSQL.
// Schema lives in migrations/.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed link store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, link *Link) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wallet_links (address, user_id, label, created_at)
		VALUES ($1, $2, $3, $4)
	`, link.Address, link.UserID, link.Label, link.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return ErrAlreadyLinked
	}
	return err
}

func (p *PostgresStore) GetByAddress(ctx context.Context, address string) (*Link, error) {
	link := &Link{}
	err := p.db.QueryRowContext(ctx, `
		SELECT address, user_id, label, created_at
		FROM wallet_links WHERE address = $1
	`, address).Scan(&link.Address, &link.UserID, &link.Label, &link.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, err
	}
	return link, nil
}

func (p *PostgresStore) GetByUser(ctx context.Context, userID string) ([]*Link, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT address, user_id, label, created_at
		FROM wallet_links WHERE user_id = $1 ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var links []*Link
	for rows.Next() {
		link := &Link{}
		if err := rows.Scan(&link.Address, &link.UserID, &link.Label, &link.CreatedAt); err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

func (p *PostgresStore) Delete(ctx context.Context, address string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM wallet_links WHERE address = $1`, address)
	return err
}
