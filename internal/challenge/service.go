package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/atlashq/atlas-core/internal/idgen"
	"github.com/atlashq/atlas-core/internal/money"
	"github.com/atlashq/atlas-core/internal/pagination"
	"github.com/atlashq/atlas-core/internal/retry"
	"github.com/atlashq/atlas-core/internal/syncutil"
	"github.com/atlashq/atlas-core/internal/traces"
)

// DefaultGatewayTimeout bounds every escrow gateway call. A timeout is a
// failure: the record stays unchanged and the caller decides whether to
// retry. Whether the deposit actually landed is the gateway's
// reconciliation problem (deposits are keyed by challenge id).
const DefaultGatewayTimeout = 15 * time.Second

// DefaultExpiryDays is used when a create request doesn't set one.
const DefaultExpiryDays = 7

const casAttempts = 3

// Service is the challenge state machine. Operations are serialized
// per challenge id in-process and guarded by version CAS at the store,
// so racing operations on the same record cannot both succeed.
type Service struct {
	store           Store
	gateway         EscrowGateway
	notifier        Notifier
	logger          *slog.Logger
	locks           syncutil.ShardedMutex
	gatewayTimeout  time.Duration
	platformAccount string
	expiryDays      int
}

// NewService creates a challenge service.
func NewService(store Store, gateway EscrowGateway, logger *slog.Logger) *Service {
	return &Service{
		store:           store,
		gateway:         gateway,
		logger:          logger,
		gatewayTimeout:  DefaultGatewayTimeout,
		platformAccount: "atlas_treasury",
		expiryDays:      DefaultExpiryDays,
	}
}

// WithDefaultExpiryDays sets the expiry applied when a create request
// doesn't carry one.
func (s *Service) WithDefaultExpiryDays(days int) *Service {
	if days > 0 {
		s.expiryDays = days
	}
	return s
}

// WithNotifier adds a notification sink for domain events.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithPlatformAccount sets the account that collects platform fees.
func (s *Service) WithPlatformAccount(account string) *Service {
	if account != "" {
		s.platformAccount = account
	}
	return s
}

// WithGatewayTimeout overrides the escrow gateway call timeout.
func (s *Service) WithGatewayTimeout(d time.Duration) *Service {
	if d > 0 {
		s.gatewayTimeout = d
	}
	return s
}

// CreateRequest contains the parameters for creating a challenge.
type CreateRequest struct {
	FromUserID    string `json:"fromUserId" binding:"required"`
	ToUserID      string `json:"toUserId" binding:"required"`
	ChallengeText string `json:"challengeText" binding:"required"`
	WagerAmount   string `json:"wagerAmount"`
	WagerToken    string `json:"wagerToken"`
	ExpiryDays    int    `json:"expiryDays"`
}

// Create validates the request, locks the challenger's stake if a wager
// is attached, and persists a new pending challenge.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Challenge, error) {
	if req.FromUserID == "" {
		return nil, &ValidationError{Field: "fromUserId", Message: "is required"}
	}
	if req.ToUserID == "" {
		return nil, &ValidationError{Field: "toUserId", Message: "is required"}
	}
	if req.FromUserID == req.ToUserID {
		return nil, &ValidationError{Field: "toUserId", Message: "cannot challenge yourself"}
	}
	if strings.TrimSpace(req.ChallengeText) == "" {
		return nil, &ValidationError{Field: "challengeText", Message: "is required"}
	}

	wager, token, err := normalizeWager(req.WagerAmount, req.WagerToken)
	if err != nil {
		return nil, err
	}

	expiryDays := req.ExpiryDays
	if expiryDays <= 0 {
		expiryDays = s.expiryDays
	}

	now := time.Now()
	c := &Challenge{
		ID:                idgen.WithPrefix("chl_"),
		FromUserID:        req.FromUserID,
		ToUserID:          req.ToUserID,
		ChallengeText:     strings.TrimSpace(req.ChallengeText),
		WagerAmount:       wager,
		WagerToken:        token,
		Status:            StatusPending,
		NegotiationStatus: NegotiationNone,
		ExpiryDays:        expiryDays,
		CreatedAt:         now,
		ExpiresAt:         now.AddDate(0, 0, expiryDays),
		Version:           1,
		UpdatedAt:         now,
	}

	// The challenger's stake is locked up front; the handle becomes the
	// escrow account once the challengee matches it at acceptance.
	if c.HasWager() {
		handle, err := s.deposit(ctx, c.FromUserID, c.WagerAmount, c.WagerToken, c.ID)
		if err != nil {
			return nil, err
		}
		c.EscrowDeposit = handle
	}

	if err := s.store.Create(ctx, c); err != nil {
		if c.EscrowDeposit != "" {
			// Best-effort unlock if the record never existed.
			s.refundBestEffort(ctx, c.EscrowDeposit, c.FromUserID)
		}
		return nil, fmt.Errorf("failed to create challenge: %w", err)
	}

	transitionsTotal.WithLabelValues("create", "ok").Inc()
	s.notify(ctx, EventCreated, c)
	return c, nil
}

// Accept moves a pending challenge to accepted. Only the challengee may
// accept. With a wager attached, the challengee's matching deposit must
// land before the status changes; a gateway failure leaves the record
// pending.
func (s *Service) Accept(ctx context.Context, id, actingUserID string) (*Challenge, error) {
	ctx, span := traces.StartSpan(ctx, "challenge.Accept", traces.ChallengeID(id))
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if c.Status != StatusPending {
		return nil, s.reject("accept", c, actingUserID)
	}
	if actingUserID != c.ToUserID {
		return nil, s.reject("accept", c, actingUserID)
	}

	if c.HasWager() {
		handle, err := s.deposit(ctx, c.ToUserID, c.WagerAmount, c.WagerToken, c.ID)
		if err != nil {
			return nil, err
		}
		c.EscrowAccount = handle
	}

	now := time.Now()
	c.Status = StatusAccepted
	c.AcceptedAt = &now
	c.UpdatedAt = now

	if err := s.update(ctx, c); err != nil {
		if errors.Is(err, ErrVersionConflict) && c.EscrowAccount != "" {
			// Someone else transitioned the record between our read and
			// write. The deposit we just took is reversed in full.
			s.refundBestEffort(ctx, c.EscrowAccount, c.ToUserID)
		}
		return nil, err
	}

	transitionsTotal.WithLabelValues("accept", "ok").Inc()
	s.notify(ctx, EventAccepted, c)
	return c, nil
}

// Decline resolves a challenge as declined. The challengee may decline a
// pending or accepted challenge; during negotiation either party may walk
// away. Any escrow deposits are refunded in full. A challenge with a
// submitted response can no longer be declined.
func (s *Service) Decline(ctx context.Context, id, actingUserID string) (*Challenge, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch c.Status {
	case StatusPending, StatusAccepted:
		if actingUserID != c.ToUserID {
			return nil, s.reject("decline", c, actingUserID)
		}
	case StatusNegotiating:
		if !c.IsParty(actingUserID) {
			return nil, s.reject("decline", c, actingUserID)
		}
	default:
		return nil, s.reject("decline", c, actingUserID)
	}

	if err := s.refundAll(ctx, c); err != nil {
		return nil, err
	}

	now := time.Now()
	c.Status = StatusDeclined
	if c.NegotiationStatus != NegotiationNone {
		c.NegotiationStatus = NegotiationDeclined
		c.appendHistory(NegotiationEvent{
			Type:        "declined",
			ActorUserID: actingUserID,
			At:          now,
		})
	}
	c.LatestOffer = nil
	c.ResolvedAt = &now
	c.UpdatedAt = now

	if err := s.updateAfterFunds(ctx, c, "decline"); err != nil {
		return nil, err
	}

	transitionsTotal.WithLabelValues("decline", "ok").Inc()
	s.notify(ctx, EventDeclined, c)
	return c, nil
}

// SubmitResponse records the challengee's proof. Valid from accepted or
// retry_requested; a resubmission may overwrite a pending response only
// when that response followed a retry request.
func (s *Service) SubmitResponse(ctx context.Context, id, actingUserID string, resp ResponseData) (*Challenge, error) {
	if err := validateResponse(resp); err != nil {
		return nil, err
	}

	var out *Challenge
	err := s.casRetry(ctx, func() error {
		unlock := s.locks.Lock(id)
		defer unlock()

		c, err := s.store.Get(ctx, id)
		if err != nil {
			return retry.Permanent(err)
		}

		resubmit := c.Status == StatusResponseSubmitted && c.RetryCount > 0
		if c.Status != StatusAccepted && c.Status != StatusRetryRequested && !resubmit {
			return retry.Permanent(s.reject("submit_response", c, actingUserID))
		}
		if actingUserID != c.ToUserID {
			return retry.Permanent(s.reject("submit_response", c, actingUserID))
		}

		now := time.Now()
		resp.SubmittedAt = now
		resp.SubmitterUserID = actingUserID
		c.ResponseData = &resp
		c.Status = StatusResponseSubmitted
		c.ResponseSubmittedAt = &now
		c.RetryComment = "" // a new response answers the retry request
		c.UpdatedAt = now

		if err := s.update(ctx, c); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				return err
			}
			return retry.Permanent(err)
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	transitionsTotal.WithLabelValues("submit_response", "ok").Inc()
	s.notify(ctx, EventResponseSubmitted, out)
	return out, nil
}

// ApproveResponse reviews a submitted response. Only the challenger may
// review. Approval pays the post-fee pot to the challengee and the fee to
// the platform account; rejection moves the challenge to retry_requested
// with the reviewer's comment. Payout figures are always recomputed from
// the record's current wager.
func (s *Service) ApproveResponse(ctx context.Context, id, actingUserID string, approved bool, comment string) (*Challenge, error) {
	ctx, span := traces.StartSpan(ctx, "challenge.ApproveResponse", traces.ChallengeID(id))
	defer span.End()

	if !approved && strings.TrimSpace(comment) == "" {
		return nil, &ValidationError{Field: "comment", Message: "is required when requesting a retry"}
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if c.Status != StatusResponseSubmitted {
		return nil, s.reject("approve_response", c, actingUserID)
	}
	if actingUserID != c.FromUserID {
		return nil, s.reject("approve_response", c, actingUserID)
	}

	now := time.Now()
	if !approved {
		c.Status = StatusRetryRequested
		c.RetryComment = strings.TrimSpace(comment)
		c.RetryCount++
		c.UpdatedAt = now
		if err := s.update(ctx, c); err != nil {
			return nil, err
		}
		transitionsTotal.WithLabelValues("request_retry", "ok").Inc()
		s.notify(ctx, EventRetryRequested, c)
		return c, nil
	}

	if err := s.payout(ctx, c, c.ToUserID); err != nil {
		return nil, err
	}

	c.Status = StatusCompleted
	c.ResolvedAt = &now
	c.UpdatedAt = now

	if err := s.updateAfterFunds(ctx, c, "approve_response"); err != nil {
		return nil, err
	}

	transitionsTotal.WithLabelValues("approve_response", "ok").Inc()
	s.notify(ctx, EventCompleted, c)
	return c, nil
}

// RequestRetry rejects a submitted response with a mandatory comment.
func (s *Service) RequestRetry(ctx context.Context, id, actingUserID, comment string) (*Challenge, error) {
	return s.ApproveResponse(ctx, id, actingUserID, false, comment)
}

// InitiateDispute escalates a submitted response to community vote. Only
// the challenger may dispute. No funds move until ResolveDispute.
func (s *Service) InitiateDispute(ctx context.Context, id, actingUserID, comment string) (*Challenge, error) {
	if strings.TrimSpace(comment) == "" {
		return nil, &ValidationError{Field: "comment", Message: "is required when opening a dispute"}
	}

	var out *Challenge
	err := s.casRetry(ctx, func() error {
		unlock := s.locks.Lock(id)
		defer unlock()

		c, err := s.store.Get(ctx, id)
		if err != nil {
			return retry.Permanent(err)
		}

		if c.Status != StatusResponseSubmitted {
			return retry.Permanent(s.reject("initiate_dispute", c, actingUserID))
		}
		if actingUserID != c.FromUserID {
			return retry.Permanent(s.reject("initiate_dispute", c, actingUserID))
		}

		c.Status = StatusDisputed
		c.DisputeComment = strings.TrimSpace(comment)
		c.UpdatedAt = time.Now()

		if err := s.update(ctx, c); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				return err
			}
			return retry.Permanent(err)
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	transitionsTotal.WithLabelValues("initiate_dispute", "ok").Inc()
	s.notify(ctx, EventDisputed, out)
	return out, nil
}

// DisputeOutcome is the community vote result fed back by the voting
// collaborator.
type DisputeOutcome struct {
	WinnerUserID string `json:"winnerUserId,omitempty"`
	Tie          bool   `json:"tie,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// ResolveDispute applies a community vote outcome to a disputed
// challenge. A winner takes the post-fee pot; a tie refunds each party
// half the post-fee pot and the platform keeps the fee.
func (s *Service) ResolveDispute(ctx context.Context, id string, outcome DisputeOutcome) (*Challenge, error) {
	ctx, span := traces.StartSpan(ctx, "challenge.ResolveDispute", traces.ChallengeID(id))
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if c.Status != StatusDisputed {
		return nil, s.reject("resolve_dispute", c, "community_vote")
	}

	now := time.Now()

	if outcome.Tie {
		breakdown, err := s.tieRefund(ctx, c)
		if err != nil {
			return nil, err
		}
		c.Status = StatusTieResolved
		c.RefundBreakdown = breakdown
		c.TieDetails = &TieDetails{Reason: outcome.Reason, ResolvedAt: now}
		c.ResolvedAt = &now
		c.UpdatedAt = now

		if err := s.updateAfterFunds(ctx, c, "resolve_dispute"); err != nil {
			return nil, err
		}

		transitionsTotal.WithLabelValues("resolve_dispute_tie", "ok").Inc()
		s.notify(ctx, EventTieResolved, c)
		return c, nil
	}

	if !c.IsParty(outcome.WinnerUserID) {
		return nil, &ValidationError{Field: "winnerUserId", Message: "must be a party to the challenge"}
	}

	if err := s.payout(ctx, c, outcome.WinnerUserID); err != nil {
		return nil, err
	}

	c.Status = StatusCompleted
	c.ResolvedAt = &now
	c.UpdatedAt = now

	if err := s.updateAfterFunds(ctx, c, "resolve_dispute"); err != nil {
		return nil, err
	}

	transitionsTotal.WithLabelValues("resolve_dispute_win", "ok").Inc()
	s.notify(ctx, EventCompleted, c)
	return c, nil
}

// CheckExpiry transitions a challenge past its deadline to expired,
// refunding any deposits in full. Pending challenges expire, as do
// accepted challenges with no response. Safe to call repeatedly: an
// already-expired or otherwise terminal record is a no-op, reported by
// the bool return.
func (s *Service) CheckExpiry(ctx context.Context, id string, now time.Time) (*Challenge, bool, error) {
	ctx, span := traces.StartSpan(ctx, "challenge.CheckExpiry", traces.ChallengeID(id))
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}

	if !expirable(c, now) {
		return c, false, nil
	}

	if err := s.refundAll(ctx, c); err != nil {
		return nil, false, err
	}

	c.Status = StatusExpired
	c.LatestOffer = nil
	c.ResolvedAt = &now
	c.UpdatedAt = now

	if err := s.updateAfterFunds(ctx, c, "check_expiry"); err != nil {
		return nil, false, err
	}

	transitionsTotal.WithLabelValues("expire", "ok").Inc()
	s.notify(ctx, EventExpired, c)
	return c, true, nil
}

// Get returns a challenge by ID.
func (s *Service) Get(ctx context.Context, id string) (*Challenge, error) {
	return s.store.Get(ctx, id)
}

// ListByUser returns one page of challenges where the user is a party,
// newest first, plus an opaque cursor for the next page when more exist.
func (s *Service) ListByUser(ctx context.Context, userID, cursor string, limit int) ([]*Challenge, string, error) {
	if limit <= 0 {
		limit = 50
	}
	before, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", &ValidationError{Field: "cursor", Message: "is not a valid cursor"}
	}

	items, err := s.store.ListByUser(ctx, userID, before, limit+1)
	if err != nil {
		return nil, "", err
	}
	items, next, _ := pagination.ComputePage(items, limit, func(c *Challenge) (time.Time, string) {
		return c.CreatedAt, c.ID
	})
	return items, next, nil
}

// --- internals ---

func expirable(c *Challenge, now time.Time) bool {
	if c.IsTerminal() || !now.After(c.ExpiresAt) {
		return false
	}
	switch c.Status {
	case StatusPending, StatusNegotiating:
		return true
	case StatusAccepted:
		return c.ResponseData == nil
	}
	return false
}

func (s *Service) reject(op string, c *Challenge, actor string) error {
	transitionsTotal.WithLabelValues(op, "rejected").Inc()
	return &TransitionError{Op: op, From: c.Status, Actor: actor}
}

// gwCtx bounds a gateway call. Timeout is failure; the record is not
// touched until the gateway has returned success.
func (s *Service) gwCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.gatewayTimeout)
}

func (s *Service) deposit(ctx context.Context, userID, amount, token, challengeID string) (string, error) {
	gctx, cancel := s.gwCtx(ctx)
	defer cancel()

	handle, err := s.gateway.Deposit(gctx, userID, amount, token, challengeID)
	if err != nil {
		escrowFailures.WithLabelValues("deposit").Inc()
		return "", &EscrowError{Op: "deposit", Amount: amount, Token: token, Err: err}
	}
	return handle, nil
}

// payout releases the post-fee pot to winnerUserID and the fee to the
// platform account. Figures are computed fresh from the current wager.
func (s *Service) payout(ctx context.Context, c *Challenge, winnerUserID string) error {
	if !c.HasWager() {
		return nil
	}

	payoutAmt, feeAmt, err := s.potSplit(c)
	if err != nil {
		return err
	}

	gctx, cancel := s.gwCtx(ctx)
	defer cancel()

	if err := s.gateway.Release(gctx, c.EscrowAccount, winnerUserID, payoutAmt); err != nil {
		escrowFailures.WithLabelValues("release").Inc()
		return &EscrowError{Op: "release", Amount: payoutAmt, Token: c.WagerToken, Err: err}
	}

	if err := s.gateway.Release(gctx, c.EscrowAccount, s.platformAccount, feeAmt); err != nil {
		// The winner's payout already moved; the fee is stuck in escrow.
		// Reversing the payout is not an option, so flag for manual
		// reconciliation and let the resolution stand.
		escrowFailures.WithLabelValues("fee_release").Inc()
		s.logger.Error("CRITICAL: platform fee release failed after winner payout",
			"challengeId", c.ID, "escrow", c.EscrowAccount, "fee", feeAmt, "error", err)
	}

	payoutsTotal.Inc()
	return nil
}

// tieRefund refunds each party half the post-fee pot. The fee (plus any
// odd smallest unit) stays behind and is swept to the platform by the
// gateway.
func (s *Service) tieRefund(ctx context.Context, c *Challenge) (*RefundBreakdown, error) {
	if !c.HasWager() {
		return nil, nil
	}

	wager, ok := money.Parse(c.WagerToken, c.WagerAmount)
	if !ok {
		return nil, &ValidationError{Field: "wagerAmount", Message: "is not a valid amount"}
	}
	pot := money.TotalPot(wager)
	each, fee := money.TieSplit(pot)
	eachAmt := money.Format(c.WagerToken, each)

	gctx, cancel := s.gwCtx(ctx)
	defer cancel()

	parties := []RefundParty{
		{UserID: c.FromUserID, Amount: eachAmt},
		{UserID: c.ToUserID, Amount: eachAmt},
	}
	if err := s.gateway.RefundSplit(gctx, c.EscrowAccount, parties); err != nil {
		escrowFailures.WithLabelValues("refund_split").Inc()
		return nil, &EscrowError{Op: "refund_split", Amount: eachAmt, Token: c.WagerToken, Err: err}
	}

	refundsTotal.Inc()
	return &RefundBreakdown{
		ChallengerRefund:  eachAmt,
		ChallengeeRefund:  eachAmt,
		AtlasFeeCollected: money.Format(c.WagerToken, fee),
		Token:             c.WagerToken,
	}, nil
}

// refundAll returns every deposit in full: both parties if the escrow
// account formed, otherwise just the challenger's opening stake. Exactly
// one gateway call either way.
func (s *Service) refundAll(ctx context.Context, c *Challenge) error {
	if !c.HasWager() || (c.EscrowAccount == "" && c.EscrowDeposit == "") {
		return nil
	}

	gctx, cancel := s.gwCtx(ctx)
	defer cancel()

	if c.EscrowAccount != "" {
		parties := []RefundParty{
			{UserID: c.FromUserID, Amount: c.WagerAmount},
			{UserID: c.ToUserID, Amount: c.WagerAmount},
		}
		if err := s.gateway.RefundSplit(gctx, c.EscrowAccount, parties); err != nil {
			escrowFailures.WithLabelValues("refund_split").Inc()
			return &EscrowError{Op: "refund_split", Amount: c.WagerAmount, Token: c.WagerToken, Err: err}
		}
	} else {
		if err := s.gateway.RefundFull(gctx, c.EscrowDeposit, c.FromUserID); err != nil {
			escrowFailures.WithLabelValues("refund_full").Inc()
			return &EscrowError{Op: "refund_full", Amount: c.WagerAmount, Token: c.WagerToken, Err: err}
		}
	}

	refundsTotal.Inc()
	return nil
}

func (s *Service) refundBestEffort(ctx context.Context, handle, userID string) {
	gctx, cancel := s.gwCtx(ctx)
	defer cancel()
	if err := s.gateway.RefundFull(gctx, handle, userID); err != nil {
		s.logger.Error("CRITICAL: compensating refund failed, deposit stranded in escrow",
			"escrow", handle, "userId", userID, "error", err)
	}
}

func (s *Service) potSplit(c *Challenge) (payout, fee string, err error) {
	wager, ok := money.Parse(c.WagerToken, c.WagerAmount)
	if !ok || wager.Sign() < 0 {
		return "", "", &ValidationError{Field: "wagerAmount", Message: "is not a valid amount"}
	}
	pot := money.TotalPot(wager)
	return money.Format(c.WagerToken, money.WinnerPayout(pot)),
		money.Format(c.WagerToken, money.AtlasFee(pot)), nil
}

// update persists the record against the version it was loaded at.
func (s *Service) update(ctx context.Context, c *Challenge) error {
	return s.store.Update(ctx, c, c.Version)
}

// updateAfterFunds persists a transition whose escrow side effects have
// already run. A version conflict here means funds moved but another
// writer got in between; that cannot be unwound automatically, so it is
// logged for manual reconciliation. The escrow gateway's own idempotency
// (one settlement per escrow account) is what prevents double payouts.
func (s *Service) updateAfterFunds(ctx context.Context, c *Challenge, op string) error {
	if err := s.update(ctx, c); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			s.logger.Error("CRITICAL: escrow settled but status update conflicted, needs reconciliation",
				"challengeId", c.ID, "op", op, "status", c.Status)
		}
		return err
	}
	return nil
}

// casRetry retries fn on version conflicts a bounded number of times.
// fn must reload the record on every attempt.
func (s *Service) casRetry(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, casAttempts, 25*time.Millisecond, fn)
}

func (s *Service) notify(ctx context.Context, event string, c *Challenge) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, event, c.Clone())
	}
}

func normalizeWager(amount, token string) (string, string, error) {
	if amount == "" {
		return "0", "", nil
	}
	parsed, ok := money.Parse(token, amount)
	if !ok {
		return "", "", &ValidationError{Field: "wagerAmount", Message: "is not a valid amount"}
	}
	if parsed.Sign() < 0 {
		return "", "", &ValidationError{Field: "wagerAmount", Message: "cannot be negative"}
	}
	if parsed.Sign() == 0 {
		return "0", "", nil
	}
	if strings.TrimSpace(token) == "" {
		return "", "", &ValidationError{Field: "wagerToken", Message: "is required for a wagered challenge"}
	}
	return money.Format(token, parsed), strings.ToUpper(strings.TrimSpace(token)), nil
}

func validateResponse(resp ResponseData) error {
	hasVideo := resp.VideoURL != "" && resp.DurationSeconds > 0
	hasText := strings.TrimSpace(resp.TextContent) != ""
	if !hasVideo && !hasText {
		return &ValidationError{Field: "responseData", Message: "requires a video (url + duration) or text content"}
	}
	if resp.VideoURL != "" && resp.DurationSeconds <= 0 {
		return &ValidationError{Field: "durationSeconds", Message: "must be positive for a video response"}
	}
	return nil
}
