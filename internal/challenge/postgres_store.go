package challenge

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/atlashq/atlas-core/internal/pagination"
)

// PostgresStore persists challenge data in PostgreSQL. Wager amounts are
// stored as text: they are already normalized decimal strings and must
// round-trip byte-for-byte regardless of token decimals.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed challenge store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const challengeColumns = `id, from_user_id, to_user_id, challenge_text,
		wager_amount, wager_token, status, negotiation_status,
		latest_offer, negotiation_history,
		escrow_deposit, escrow_account,
		response_data, retry_comment, retry_count, dispute_comment,
		refund_breakdown, tie_details,
		expiry_days, created_at, expires_at,
		accepted_at, response_submitted_at, resolved_at,
		version, updated_at`

func (p *PostgresStore) Create(ctx context.Context, c *Challenge) error {
	offerJSON, historyJSON, responseJSON, refundJSON, tieJSON, err := marshalParts(c)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO challenges (`+challengeColumns+`)
		VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10,
			$11, $12,
			$13, $14, $15, $16,
			$17, $18,
			$19, $20, $21,
			$22, $23, $24,
			$25, $26
		)`,
		c.ID, c.FromUserID, c.ToUserID, c.ChallengeText,
		c.WagerAmount, nullString(c.WagerToken), string(c.Status), string(c.NegotiationStatus),
		offerJSON, historyJSON,
		nullString(c.EscrowDeposit), nullString(c.EscrowAccount),
		responseJSON, nullString(c.RetryComment), c.RetryCount, nullString(c.DisputeComment),
		refundJSON, tieJSON,
		c.ExpiryDays, c.CreatedAt, c.ExpiresAt,
		nullTime(c.AcceptedAt), nullTime(c.ResponseSubmittedAt), nullTime(c.ResolvedAt),
		c.Version, c.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Challenge, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id = $1`, id)

	c, err := scanChallenge(row)
	if err == sql.ErrNoRows {
		return nil, ErrChallengeNotFound
	}
	return c, err
}

func (p *PostgresStore) Update(ctx context.Context, c *Challenge, expectedVersion int64) error {
	offerJSON, historyJSON, responseJSON, refundJSON, tieJSON, err := marshalParts(c)
	if err != nil {
		return err
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE challenges SET
			challenge_text = $1, wager_amount = $2, wager_token = $3,
			status = $4, negotiation_status = $5,
			latest_offer = $6, negotiation_history = $7,
			escrow_deposit = $8, escrow_account = $9,
			response_data = $10, retry_comment = $11, retry_count = $12, dispute_comment = $13,
			refund_breakdown = $14, tie_details = $15,
			expiry_days = $16, expires_at = $17,
			accepted_at = $18, response_submitted_at = $19, resolved_at = $20,
			version = $21, updated_at = $22
		WHERE id = $23 AND version = $24`,
		c.ChallengeText, c.WagerAmount, nullString(c.WagerToken),
		string(c.Status), string(c.NegotiationStatus),
		offerJSON, historyJSON,
		nullString(c.EscrowDeposit), nullString(c.EscrowAccount),
		responseJSON, nullString(c.RetryComment), c.RetryCount, nullString(c.DisputeComment),
		refundJSON, tieJSON,
		c.ExpiryDays, c.ExpiresAt,
		nullTime(c.AcceptedAt), nullTime(c.ResponseSubmittedAt), nullTime(c.ResolvedAt),
		expectedVersion+1, c.UpdatedAt,
		c.ID, expectedVersion,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish a missing record from a version race.
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM challenges WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrChallengeNotFound
		}
		return ErrVersionConflict
	}

	c.Version = expectedVersion + 1
	return nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, before *pagination.Cursor, limit int) ([]*Challenge, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if before == nil {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+challengeColumns+` FROM challenges
			WHERE from_user_id = $1 OR to_user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, userID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+challengeColumns+` FROM challenges
			WHERE (from_user_id = $1 OR to_user_id = $1)
			  AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`, userID, before.CreatedAt, before.ID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanChallenges(rows)
}

func (p *PostgresStore) ListExpirable(ctx context.Context, before time.Time, limit int) ([]*Challenge, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+challengeColumns+` FROM challenges
		WHERE expires_at < $1
		  AND (status IN ('pending', 'negotiating')
		       OR (status = 'accepted' AND response_data IS NULL))
		ORDER BY expires_at ASC
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanChallenges(rows)
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChallenge(row rowScanner) (*Challenge, error) {
	var (
		c                                  Challenge
		status, negotiationStatus          string
		wagerToken, escrowDep, escrowAcct  sql.NullString
		retryComment, disputeComment       sql.NullString
		offerJSON, historyJSON             []byte
		responseJSON, refundJSON, tieJSON  []byte
		acceptedAt, submittedAt, resolvedAt sql.NullTime
	)

	err := row.Scan(
		&c.ID, &c.FromUserID, &c.ToUserID, &c.ChallengeText,
		&c.WagerAmount, &wagerToken, &status, &negotiationStatus,
		&offerJSON, &historyJSON,
		&escrowDep, &escrowAcct,
		&responseJSON, &retryComment, &c.RetryCount, &disputeComment,
		&refundJSON, &tieJSON,
		&c.ExpiryDays, &c.CreatedAt, &c.ExpiresAt,
		&acceptedAt, &submittedAt, &resolvedAt,
		&c.Version, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = Status(status)
	c.NegotiationStatus = NegotiationStatus(negotiationStatus)
	c.WagerToken = wagerToken.String
	c.EscrowDeposit = escrowDep.String
	c.EscrowAccount = escrowAcct.String
	c.RetryComment = retryComment.String
	c.DisputeComment = disputeComment.String

	if len(offerJSON) > 0 {
		if err := json.Unmarshal(offerJSON, &c.LatestOffer); err != nil {
			return nil, err
		}
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &c.NegotiationHistory); err != nil {
			return nil, err
		}
	}
	if len(responseJSON) > 0 {
		if err := json.Unmarshal(responseJSON, &c.ResponseData); err != nil {
			return nil, err
		}
	}
	if len(refundJSON) > 0 {
		if err := json.Unmarshal(refundJSON, &c.RefundBreakdown); err != nil {
			return nil, err
		}
	}
	if len(tieJSON) > 0 {
		if err := json.Unmarshal(tieJSON, &c.TieDetails); err != nil {
			return nil, err
		}
	}

	if acceptedAt.Valid {
		c.AcceptedAt = &acceptedAt.Time
	}
	if submittedAt.Valid {
		c.ResponseSubmittedAt = &submittedAt.Time
	}
	if resolvedAt.Valid {
		c.ResolvedAt = &resolvedAt.Time
	}

	return &c, nil
}

func scanChallenges(rows *sql.Rows) ([]*Challenge, error) {
	var result []*Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func marshalParts(c *Challenge) (offer, history, response, refund, tie []byte, err error) {
	if c.LatestOffer != nil {
		if offer, err = json.Marshal(c.LatestOffer); err != nil {
			return
		}
	}
	if c.NegotiationHistory != nil {
		if history, err = json.Marshal(c.NegotiationHistory); err != nil {
			return
		}
	}
	if c.ResponseData != nil {
		if response, err = json.Marshal(c.ResponseData); err != nil {
			return
		}
	}
	if c.RefundBreakdown != nil {
		if refund, err = json.Marshal(c.RefundBreakdown); err != nil {
			return
		}
	}
	if c.TieDetails != nil {
		if tie, err = json.Marshal(c.TieDetails); err != nil {
			return
		}
	}
	return
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
