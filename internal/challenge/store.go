package challenge

import (
	"context"
	"time"

	"github.com/atlashq/atlas-core/internal/pagination"
)

// Store persists challenge records with optimistic concurrency. Update
// writes conditionally on the stored version matching expectedVersion and
// returns ErrVersionConflict otherwise; on success the stored version is
// expectedVersion+1 and c.Version is advanced to match.
type Store interface {
	Create(ctx context.Context, c *Challenge) error
	Get(ctx context.Context, id string) (*Challenge, error)
	Update(ctx context.Context, c *Challenge, expectedVersion int64) error
	// ListByUser returns challenges where the user is a party, newest
	// first. A non-nil cursor restricts results to records strictly older
	// than the cursor position.
	ListByUser(ctx context.Context, userID string, before *pagination.Cursor, limit int) ([]*Challenge, error)
	// ListExpirable returns non-terminal challenges past their expiry that
	// are still awaiting acceptance or a first response.
	ListExpirable(ctx context.Context, before time.Time, limit int) ([]*Challenge, error)
}

// EscrowGateway holds wager deposits in custody and moves them on
// resolution. Implementations are expected to be idempotent per
// (challengeID, userID) deposit and to reject releasing the same escrow
// twice. Calls may be slow or fail; the state machine bounds them with a
// timeout and treats timeout as failure.
type EscrowGateway interface {
	// Deposit locks amount of token from userID under the challenge's
	// escrow and returns the escrow handle.
	Deposit(ctx context.Context, userID, amount, token, challengeID string) (string, error)
	// Release pays amount from the escrow to toUserID.
	Release(ctx context.Context, handle, toUserID, amount string) error
	// RefundSplit returns the given amounts to each party. Anything left
	// in the escrow after the legs settle is swept to the platform account.
	RefundSplit(ctx context.Context, handle string, parties []RefundParty) error
	// RefundFull returns a party's entire deposit.
	RefundFull(ctx context.Context, handle, userID string) error
}

// Notifier receives domain events for delivery (push notifications,
// websocket streams). Implementations must not block; errors are the
// implementation's problem, never the state machine's.
type Notifier interface {
	Notify(ctx context.Context, event string, c *Challenge)
}
