package challenge

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/atlashq/atlas-core/internal/retry"
)

// ProposedTerms is a counter-offer: replacement terms for the challenge.
type ProposedTerms struct {
	ChallengeText string `json:"challengeText" binding:"required"`
	WagerAmount   string `json:"wagerAmount"`
	WagerToken    string `json:"wagerToken"`
	ExpiryDays    int    `json:"expiryDays"`
	Note          string `json:"note"`
}

// ProposeCounter records a counter-offer. Valid from pending or
// negotiating; once an offer is on the table only the party who did NOT
// author it may counter, so nobody negotiates with themselves. Offers are
// sequence-numbered and every proposal lands in the append-only history.
func (s *Service) ProposeCounter(ctx context.Context, id, actingUserID string, terms ProposedTerms) (*Challenge, error) {
	if strings.TrimSpace(terms.ChallengeText) == "" {
		return nil, &ValidationError{Field: "challengeText", Message: "is required"}
	}
	wager, token, err := normalizeWager(terms.WagerAmount, terms.WagerToken)
	if err != nil {
		return nil, err
	}

	var out *Challenge
	err = s.casRetry(ctx, func() error {
		unlock := s.locks.Lock(id)
		defer unlock()

		c, err := s.store.Get(ctx, id)
		if err != nil {
			return retry.Permanent(err)
		}

		if c.Status != StatusPending && c.Status != StatusNegotiating {
			return retry.Permanent(s.reject("propose_counter", c, actingUserID))
		}
		if !c.IsParty(actingUserID) {
			return retry.Permanent(s.reject("propose_counter", c, actingUserID))
		}
		if c.LatestOffer != nil && c.LatestOffer.AuthorUserID == actingUserID {
			return retry.Permanent(s.reject("propose_counter", c, actingUserID))
		}

		seq := 1
		if c.LatestOffer != nil {
			seq = c.LatestOffer.Sequence + 1
		}
		expiryDays := terms.ExpiryDays
		if expiryDays <= 0 {
			expiryDays = c.ExpiryDays
		}

		now := time.Now()
		offer := &Offer{
			Sequence:      seq,
			AuthorUserID:  actingUserID,
			ChallengeText: strings.TrimSpace(terms.ChallengeText),
			WagerAmount:   wager,
			WagerToken:    token,
			ExpiryDays:    expiryDays,
			Note:          strings.TrimSpace(terms.Note),
			CreatedAt:     now,
		}

		c.Status = StatusNegotiating
		c.NegotiationStatus = NegotiationPendingResponse
		c.LatestOffer = offer
		c.appendHistory(NegotiationEvent{
			Type:          "proposed",
			ActorUserID:   actingUserID,
			ChallengeText: offer.ChallengeText,
			WagerAmount:   offer.WagerAmount,
			WagerToken:    offer.WagerToken,
			ExpiryDays:    offer.ExpiryDays,
			Note:          offer.Note,
			At:            now,
		})
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

	transitionsTotal.WithLabelValues("propose_counter", "ok").Inc()
	s.notify(ctx, EventCountered, out)
	return out, nil
}

// AcceptCounter applies the latest offer's terms and moves the challenge
// to accepted. The offer's author cannot accept their own proposal. With
// a wager on the accepted terms, both stakes must be in escrow before the
// status changes: the challenger's opening deposit is kept when the
// amount is unchanged, re-locked at the new amount otherwise, and the
// accepting side's matching deposit completes the escrow account.
func (s *Service) AcceptCounter(ctx context.Context, id, actingUserID string) (*Challenge, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if c.Status != StatusNegotiating || c.LatestOffer == nil {
		return nil, s.reject("accept_counter", c, actingUserID)
	}
	if !c.IsParty(actingUserID) {
		return nil, s.reject("accept_counter", c, actingUserID)
	}
	if c.LatestOffer.AuthorUserID == actingUserID {
		return nil, s.reject("accept_counter", c, actingUserID)
	}

	offer := c.LatestOffer
	newWagered := offer.WagerAmount != "" && offer.WagerAmount != "0"
	sameStake := c.EscrowDeposit != "" &&
		c.WagerAmount == offer.WagerAmount && c.WagerToken == offer.WagerToken

	// Phase 1: the negotiated terms changed the stake, so the
	// challenger's opening deposit no longer matches. Return it and
	// persist that fact before any new deposit is taken: a failure
	// later must never leave the stored record pointing at escrow that
	// was already refunded.
	if c.EscrowDeposit != "" && !sameStake {
		gctx, cancel := s.gwCtx(ctx)
		err := s.gateway.RefundFull(gctx, c.EscrowDeposit, c.FromUserID)
		cancel()
		if err != nil {
			escrowFailures.WithLabelValues("refund_full").Inc()
			return nil, &EscrowError{Op: "refund_full", Amount: c.WagerAmount, Token: c.WagerToken, Err: err}
		}
		c.EscrowDeposit = ""
		c.UpdatedAt = time.Now()
		if err := s.updateAfterFunds(ctx, c, "accept_counter"); err != nil {
			return nil, err
		}
	}

	// Phase 2: lock both stakes at the negotiated amount.
	if newWagered {
		freshChallengerStake := c.EscrowDeposit == ""
		if freshChallengerStake {
			handle, err := s.deposit(ctx, c.FromUserID, offer.WagerAmount, offer.WagerToken, c.ID)
			if err != nil {
				return nil, err
			}
			c.EscrowDeposit = handle
		}
		handle, err := s.deposit(ctx, c.ToUserID, offer.WagerAmount, offer.WagerToken, c.ID)
		if err != nil {
			if freshChallengerStake {
				s.refundBestEffort(ctx, c.EscrowDeposit, c.FromUserID)
			}
			return nil, err
		}
		c.EscrowAccount = handle
	}

	now := time.Now()
	c.ChallengeText = offer.ChallengeText
	c.WagerAmount = offer.WagerAmount
	c.WagerToken = offer.WagerToken
	c.ExpiryDays = offer.ExpiryDays
	c.ExpiresAt = c.CreatedAt.AddDate(0, 0, offer.ExpiryDays)
	c.Status = StatusAccepted
	c.NegotiationStatus = NegotiationAccepted
	c.LatestOffer = nil
	c.appendHistory(NegotiationEvent{
		Type:        "accepted",
		ActorUserID: actingUserID,
		WagerAmount: offer.WagerAmount,
		WagerToken:  offer.WagerToken,
		At:          now,
	})
	c.AcceptedAt = &now
	c.UpdatedAt = now

	if err := s.updateAfterFunds(ctx, c, "accept_counter"); err != nil {
		return nil, err
	}

	transitionsTotal.WithLabelValues("accept_counter", "ok").Inc()
	s.notify(ctx, EventAccepted, c)
	return c, nil
}

// DeclineNegotiation walks away from an active negotiation. Either party
// may decline; existing deposits are refunded in full.
func (s *Service) DeclineNegotiation(ctx context.Context, id, actingUserID string) (*Challenge, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusNegotiating {
		return nil, s.reject("decline_negotiation", c, actingUserID)
	}
	return s.Decline(ctx, id, actingUserID)
}

func (c *Challenge) appendHistory(ev NegotiationEvent) {
	ev.Sequence = len(c.NegotiationHistory) + 1
	c.NegotiationHistory = append(c.NegotiationHistory, ev)
}
