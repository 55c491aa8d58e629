package notify

import (
	"context"
	"database/sql"
	"encoding/json"
)

// PostgresStore persists webhook subscriptions in PostgreSQL.
// Schema lives in migrations/.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed subscription store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const subscriptionColumns = `id, user_id, url, secret, events, active, created_at, last_success, last_error, consecutive_failures`

func (p *PostgresStore) Create(ctx context.Context, sub *Subscription) error {
	eventsJSON, err := json.Marshal(sub.Events)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (id, user_id, url, secret, events, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sub.ID, sub.UserID, sub.URL, sub.Secret, eventsJSON, sub.Active, sub.CreatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Subscription, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM webhook_subscriptions WHERE id = $1
	`, id)
	return scanSubscription(row)
}

func (p *PostgresStore) GetByUser(ctx context.Context, userID string) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM webhook_subscriptions WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanSubscriptions(rows)
}

func (p *PostgresStore) GetByEvent(ctx context.Context, eventType string) ([]*Subscription, error) {
	// events is JSONB; @> matches subscriptions containing this event type.
	eventsJSON, _ := json.Marshal([]string{eventType})

	rows, err := p.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM webhook_subscriptions
		WHERE active = TRUE AND events @> $1::jsonb
	`, string(eventsJSON))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanSubscriptions(rows)
}

func (p *PostgresStore) Update(ctx context.Context, sub *Subscription) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions SET
			active = $1,
			last_success = $2,
			last_error = $3,
			consecutive_failures = $4
		WHERE id = $5
	`, sub.Active, sub.LastSuccess, sub.LastError, sub.ConsecutiveFailures, sub.ID)
	return err
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	sub := &Subscription{}
	var eventsJSON []byte
	var lastSuccess sql.NullTime
	var lastError sql.NullString

	if err := row.Scan(
		&sub.ID, &sub.UserID, &sub.URL, &sub.Secret, &eventsJSON,
		&sub.Active, &sub.CreatedAt, &lastSuccess, &lastError, &sub.ConsecutiveFailures,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(eventsJSON, &sub.Events); err != nil {
		return nil, err
	}

	if lastSuccess.Valid {
		sub.LastSuccess = &lastSuccess.Time
	}
	sub.LastError = lastError.String

	return sub, nil
}

func scanSubscriptions(rows *sql.Rows) ([]*Subscription, error) {
	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
