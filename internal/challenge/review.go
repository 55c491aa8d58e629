package challenge

import (
	"context"
	"strings"
)

// ReviewFlow is the challenger-facing review surface over a submitted
// response: approve, send back for a retry, or escalate to dispute.
// It adds nothing the state machine doesn't already enforce (the same
// preconditions hold whether the caller is a UI, a script, or a test)
// but gives callers the one call-site they need per review decision.
// Payout math is recomputed from the record's current wager inside the
// state machine, so terms renegotiated earlier in the flow can never
// leak a stale figure into a payout.
type ReviewFlow struct {
	svc *Service
}

// NewReviewFlow creates a review flow over the challenge service.
func NewReviewFlow(svc *Service) *ReviewFlow {
	return &ReviewFlow{svc: svc}
}

// Approve accepts the submitted response and settles the wager.
func (r *ReviewFlow) Approve(ctx context.Context, id, actingUserID string) (*Challenge, error) {
	return r.svc.ApproveResponse(ctx, id, actingUserID, true, "")
}

// RequestRetry sends the response back with mandatory feedback.
func (r *ReviewFlow) RequestRetry(ctx context.Context, id, actingUserID, comment string) (*Challenge, error) {
	if strings.TrimSpace(comment) == "" {
		return nil, &ValidationError{Field: "comment", Message: "is required when requesting a retry"}
	}
	return r.svc.RequestRetry(ctx, id, actingUserID, comment)
}

// Dispute escalates the response to community vote.
func (r *ReviewFlow) Dispute(ctx context.Context, id, actingUserID, comment string) (*Challenge, error) {
	return r.svc.InitiateDispute(ctx, id, actingUserID, comment)
}
