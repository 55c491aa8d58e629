// Package challenge implements the Atlas dare lifecycle.
//
// Flow:
//  1. Challenger creates a dare for a buddy, optionally staking a wager
//  2. Challengee accepts (matching the stake), declines, or counters
//  3. Counter-offers go back and forth until one side accepts or declines
//  4. Challengee submits proof (video or text)
//  5. Challenger approves (payout), requests a retry, or disputes
//  6. Disputes resolve by community vote: a winner takes the pot, or a
//     tie refunds both sides minus the platform fee
//
// Every transition validates (actor, status) first, applies escrow side
// effects second, and persists the new status last. Escrow failures never
// change the stored record.
package challenge

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrUnauthorized      = errors.New("not authorized for this challenge operation")
	ErrInvalidTransition = errors.New("invalid transition for current status")
	ErrValidation        = errors.New("validation failed")
	ErrEscrow            = errors.New("escrow gateway failure")
	ErrVersionConflict   = errors.New("challenge was modified concurrently")
)

// Status represents the lifecycle state of a challenge.
type Status string

const (
	StatusPending           Status = "pending"
	StatusNegotiating       Status = "negotiating"
	StatusAccepted          Status = "accepted"
	StatusResponseSubmitted Status = "response_submitted"
	StatusRetryRequested    Status = "retry_requested"
	StatusDisputed          Status = "disputed"
	StatusTieResolved       Status = "tie_resolved"
	StatusCompleted         Status = "completed"
	StatusDeclined          Status = "declined"
	StatusExpired           Status = "expired"
)

// NegotiationStatus is the counter-offer sub-state, meaningful only while
// Status is negotiating. The stored value is canonical; the per-viewer
// "sent"/"received" variants are derived (see NegotiationView).
type NegotiationStatus string

const (
	NegotiationNone            NegotiationStatus = "none"
	NegotiationPendingResponse NegotiationStatus = "pending_response"
	NegotiationAccepted        NegotiationStatus = "accepted"
	NegotiationDeclined        NegotiationStatus = "declined"

	// Derived, never stored.
	NegotiationCounterSent     NegotiationStatus = "counter_offer_sent"
	NegotiationCounterReceived NegotiationStatus = "counter_offer_received"
)

// Event types published to the notification sink and realtime stream.
const (
	EventCreated           = "challenge.created"
	EventCountered         = "challenge.countered"
	EventAccepted          = "challenge.accepted"
	EventDeclined          = "challenge.declined"
	EventResponseSubmitted = "challenge.response_submitted"
	EventRetryRequested    = "challenge.retry_requested"
	EventDisputed          = "challenge.disputed"
	EventCompleted         = "challenge.completed"
	EventTieResolved       = "challenge.tie_resolved"
	EventExpired           = "challenge.expired"
)

// Offer is a snapshot of the most recent counter-offer.
type Offer struct {
	Sequence      int       `json:"sequence"`
	AuthorUserID  string    `json:"authorUserId"`
	ChallengeText string    `json:"challengeText"`
	WagerAmount   string    `json:"wagerAmount"`
	WagerToken    string    `json:"wagerToken,omitempty"`
	ExpiryDays    int       `json:"expiryDays"`
	Note          string    `json:"note,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NegotiationEvent is one entry in the append-only negotiation log.
type NegotiationEvent struct {
	Sequence      int       `json:"sequence"`
	Type          string    `json:"type"` // proposed, accepted, declined
	ActorUserID   string    `json:"actorUserId"`
	ChallengeText string    `json:"challengeText,omitempty"`
	WagerAmount   string    `json:"wagerAmount,omitempty"`
	WagerToken    string    `json:"wagerToken,omitempty"`
	ExpiryDays    int       `json:"expiryDays,omitempty"`
	Note          string    `json:"note,omitempty"`
	At            time.Time `json:"at"`
}

// ResponseData is the challengee's submitted proof. Either a video
// descriptor (URL + duration) or non-empty text content is required.
type ResponseData struct {
	VideoURL        string    `json:"videoUrl,omitempty"`
	DurationSeconds int       `json:"durationSeconds,omitempty"`
	FileSizeBytes   int64     `json:"fileSizeBytes,omitempty"`
	TextContent     string    `json:"textContent,omitempty"`
	IsPublic        bool      `json:"isPublic"`
	SubmittedAt     time.Time `json:"submittedAt"`
	SubmitterUserID string    `json:"submitterUserId"`
}

// RefundBreakdown records the money flow of a tie resolution.
type RefundBreakdown struct {
	ChallengerRefund  string `json:"challengerRefund"`
	ChallengeeRefund  string `json:"challengeeRefund"`
	AtlasFeeCollected string `json:"atlasFeeCollected"`
	Token             string `json:"token"`
}

// TieDetails records why a dispute ended in a tie.
type TieDetails struct {
	Reason     string    `json:"reason"`
	ResolvedAt time.Time `json:"resolvedAt"`
}

// Challenge is the canonical challenge record. All mutation goes through
// Service operations; a terminal record is read-only.
type Challenge struct {
	ID            string `json:"id"`
	FromUserID    string `json:"fromUserId"` // challenger
	ToUserID      string `json:"toUserId"`   // challengee
	ChallengeText string `json:"challengeText"`

	WagerAmount string `json:"wagerAmount"` // decimal string, "0" = no stake
	WagerToken  string `json:"wagerToken,omitempty"`

	Status            Status            `json:"status"`
	NegotiationStatus NegotiationStatus `json:"negotiationStatus"`

	LatestOffer        *Offer             `json:"latestOffer,omitempty"`
	NegotiationHistory []NegotiationEvent `json:"negotiationHistory,omitempty"`

	// EscrowDeposit is the gateway handle for the challenger's stake,
	// locked at creation. EscrowAccount is set once both deposits are in
	// (at acceptance) and is the handle all payouts and refunds run
	// against.
	EscrowDeposit string `json:"escrowDeposit,omitempty"`
	EscrowAccount string `json:"escrowAccount,omitempty"`

	ResponseData *ResponseData `json:"responseData,omitempty"`

	// RetryComment is the reviewer's feedback from the latest retry
	// request. It is cleared when a new response answers it; RetryCount
	// keeps the record of how many retries were asked for.
	RetryComment string `json:"retryComment,omitempty"`
	RetryCount   int    `json:"retryCount,omitempty"`
	DisputeComment  string           `json:"disputeComment,omitempty"`
	RefundBreakdown *RefundBreakdown `json:"refundBreakdown,omitempty"`
	TieDetails      *TieDetails      `json:"tieDetails,omitempty"`

	ExpiryDays          int        `json:"expiryDays"`
	CreatedAt           time.Time  `json:"createdAt"`
	ExpiresAt           time.Time  `json:"expiresAt"`
	AcceptedAt          *time.Time `json:"acceptedAt,omitempty"`
	ResponseSubmittedAt *time.Time `json:"responseSubmittedAt,omitempty"`
	ResolvedAt          *time.Time `json:"resolvedAt,omitempty"`

	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsTerminal returns true if the challenge is in a final state.
func (c *Challenge) IsTerminal() bool {
	switch c.Status {
	case StatusCompleted, StatusDeclined, StatusTieResolved, StatusExpired:
		return true
	}
	return false
}

// HasWager returns true if a non-zero stake is attached.
func (c *Challenge) HasWager() bool {
	return c.WagerAmount != "" && c.WagerAmount != "0" && c.WagerAmount != "0.0"
}

// IsParty returns true if userID is the challenger or the challengee.
func (c *Challenge) IsParty(userID string) bool {
	return userID == c.FromUserID || userID == c.ToUserID
}

// NegotiationView derives the viewer-relative negotiation sub-state:
// the author of the latest offer sees counter_offer_sent, the other
// party sees counter_offer_received. User-id comparison is authoritative;
// this is display-only and never stored.
func (c *Challenge) NegotiationView(viewerUserID string) NegotiationStatus {
	if c.Status != StatusNegotiating || c.LatestOffer == nil {
		return c.NegotiationStatus
	}
	if c.LatestOffer.AuthorUserID == viewerUserID {
		return NegotiationCounterSent
	}
	return NegotiationCounterReceived
}

// Clone returns a deep copy. Stores return clones so callers can never
// mutate persisted state through a shared pointer.
func (c *Challenge) Clone() *Challenge {
	cp := *c
	if c.LatestOffer != nil {
		offer := *c.LatestOffer
		cp.LatestOffer = &offer
	}
	if c.NegotiationHistory != nil {
		cp.NegotiationHistory = make([]NegotiationEvent, len(c.NegotiationHistory))
		copy(cp.NegotiationHistory, c.NegotiationHistory)
	}
	if c.ResponseData != nil {
		rd := *c.ResponseData
		cp.ResponseData = &rd
	}
	if c.RefundBreakdown != nil {
		rb := *c.RefundBreakdown
		cp.RefundBreakdown = &rb
	}
	if c.TieDetails != nil {
		td := *c.TieDetails
		cp.TieDetails = &td
	}
	if c.AcceptedAt != nil {
		at := *c.AcceptedAt
		cp.AcceptedAt = &at
	}
	if c.ResponseSubmittedAt != nil {
		at := *c.ResponseSubmittedAt
		cp.ResponseSubmittedAt = &at
	}
	if c.ResolvedAt != nil {
		at := *c.ResolvedAt
		cp.ResolvedAt = &at
	}
	return &cp
}

// TransitionError reports an operation attempted from a status or actor
// the state graph does not permit.
type TransitionError struct {
	Op    string
	From  Status
	Actor string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s from status %q as %s", e.Op, e.From, e.Actor)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ValidationError reports malformed input on a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// EscrowError reports a gateway failure with enough detail for the caller
// to decide between retry and manual intervention. The record is always
// unchanged when an EscrowError surfaces.
type EscrowError struct {
	Op     string // deposit, release, refund_full, refund_split
	Amount string
	Token  string
	Err    error
}

func (e *EscrowError) Error() string {
	return fmt.Sprintf("escrow %s of %s %s failed: %v", e.Op, e.Amount, e.Token, e.Err)
}

func (e *EscrowError) Unwrap() error { return ErrEscrow }

// RefundParty is one leg of a split refund.
type RefundParty struct {
	UserID string
	Amount string // decimal string in the escrow's token
}
