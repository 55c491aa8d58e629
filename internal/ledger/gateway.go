package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/atlashq/atlas-core/internal/challenge"
	"github.com/atlashq/atlas-core/internal/idgen"
	"github.com/atlashq/atlas-core/internal/money"
)

// Gateway exposes the ledger's escrow accounts to the challenge state
// machine. Deposits for the same challenge share one pot; settlement
// drains the pot, and a drained pot rejects further releases, so two
// racing resolutions can never both pay out.
type Gateway struct {
	store           Store
	logger          *slog.Logger
	platformAccount string
}

// NewGateway creates an escrow gateway over the ledger store.
func NewGateway(store Store, platformAccount string, logger *slog.Logger) *Gateway {
	if platformAccount == "" {
		platformAccount = "atlas_treasury"
	}
	return &Gateway{store: store, logger: logger, platformAccount: platformAccount}
}

var _ challenge.EscrowGateway = (*Gateway)(nil)

// Deposit locks amount from the user's available balance into the
// challenge's escrow pot and returns a handle for later settlement.
func (g *Gateway) Deposit(ctx context.Context, userID, amount, token, challengeID string) (string, error) {
	token = normalizeToken(token)
	if _, err := validAmount(token, amount); err != nil {
		return "", err
	}

	con := &Contribution{
		Handle:      idgen.WithPrefix("esc_"),
		ChallengeID: challengeID,
		UserID:      userID,
		Token:       token,
		Amount:      amount,
	}
	if err := g.store.EscrowLock(ctx, con); err != nil {
		return "", err
	}

	escrowLocksTotal.Inc()
	g.logger.Info("escrow deposit locked",
		"challengeId", challengeID, "userId", userID, "amount", amount, "token", token)
	return con.Handle, nil
}

// Release pays amount from the escrow pot into toUserID's balance.
func (g *Gateway) Release(ctx context.Context, handle, toUserID, amount string) error {
	acct, err := g.store.ResolveHandle(ctx, handle)
	if err != nil {
		return err
	}

	entryType := EntryPayout
	if toUserID == g.platformAccount {
		entryType = EntryFee
	}
	if err := g.store.EscrowSettle(ctx, acct.ChallengeID, toUserID, amount, entryType, handle); err != nil {
		return err
	}

	escrowSettlementsTotal.WithLabelValues(entryType).Inc()
	g.logger.Info("escrow released",
		"challengeId", acct.ChallengeID, "to", toUserID, "amount", amount, "token", acct.Token)
	return nil
}

// RefundSplit returns the listed amounts to each party. Anything left in
// the pot afterwards (the platform fee, plus any odd smallest unit) is
// swept to the platform account.
func (g *Gateway) RefundSplit(ctx context.Context, handle string, parties []challenge.RefundParty) error {
	acct, err := g.store.ResolveHandle(ctx, handle)
	if err != nil {
		return err
	}

	for _, p := range parties {
		if err := g.store.EscrowSettle(ctx, acct.ChallengeID, p.UserID, p.Amount, EntryEscrowRefund, handle); err != nil {
			return fmt.Errorf("refund leg to %s: %w", p.UserID, err)
		}
		escrowSettlementsTotal.WithLabelValues(EntryEscrowRefund).Inc()
	}

	swept, err := g.store.EscrowSweep(ctx, acct.ChallengeID, g.platformAccount)
	if err != nil {
		// Refund legs landed; the stuck remainder needs an operator.
		g.logger.Error("CRITICAL: escrow sweep failed after refund legs",
			"challengeId", acct.ChallengeID, "error", err)
		return nil
	}
	if amt, ok := money.Parse(acct.Token, swept); ok && amt.Sign() > 0 {
		escrowSettlementsTotal.WithLabelValues(EntryFee).Inc()
		g.logger.Info("escrow remainder swept",
			"challengeId", acct.ChallengeID, "amount", swept, "token", acct.Token)
	}
	return nil
}

// RefundFull returns every locked contribution of one user.
func (g *Gateway) RefundFull(ctx context.Context, handle, userID string) error {
	acct, err := g.store.ResolveHandle(ctx, handle)
	if err != nil {
		return err
	}

	refunded, err := g.store.EscrowRefundUser(ctx, acct.ChallengeID, userID)
	if err != nil {
		return err
	}

	escrowSettlementsTotal.WithLabelValues(EntryEscrowRefund).Inc()
	g.logger.Info("escrow refunded in full",
		"challengeId", acct.ChallengeID, "userId", userID, "amount", refunded, "token", acct.Token)
	return nil
}
