package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/atlashq/atlas-core/internal/challenge"
	"github.com/atlashq/atlas-core/internal/idgen"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	emitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "atlas",
		Subsystem: "notify",
		Name:      "emit_total",
		Help:      "Total event emit attempts by event type.",
	}, []string{"event_type"})

	emitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "atlas",
		Subsystem: "notify",
		Name:      "emit_errors_total",
		Help:      "Total event emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(emitTotal, emitErrors)
}

// Emitter turns challenge state changes into webhook events for both
// parties. It satisfies the challenge service's notifier hook.
// Emission is fire-and-forget: errors are logged but never returned.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates an emitter over the given dispatcher.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

var _ challenge.Notifier = (*Emitter)(nil)

// Notify delivers event to the webhooks of everyone party to c.
func (e *Emitter) Notify(_ context.Context, event string, c *challenge.Challenge) {
	if e == nil || e.d == nil || c == nil {
		return
	}
	emitTotal.WithLabelValues(event).Inc()

	evt := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      event,
		Timestamp: time.Now(),
		Data:      eventData(c),
	}

	// Only the subscription lookup runs on this context; the dispatcher
	// puts each delivery on its own clock so it outlives the request.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, userID := range recipients(c) {
		if err := e.d.DispatchToUser(ctx, userID, evt); err != nil {
			emitErrors.WithLabelValues(event).Inc()
			e.logger.Warn("event emit failed", "event", event, "user", userID, "error", err)
		}
	}
}

func recipients(c *challenge.Challenge) []string {
	users := []string{c.FromUserID}
	if c.ToUserID != "" && c.ToUserID != c.FromUserID {
		users = append(users, c.ToUserID)
	}
	return users
}

func eventData(c *challenge.Challenge) map[string]interface{} {
	data := map[string]interface{}{
		"challengeId": c.ID,
		"fromUserId":  c.FromUserID,
		"toUserId":    c.ToUserID,
		"status":      string(c.Status),
		"text":        c.ChallengeText,
	}
	if c.HasWager() {
		data["wagerAmount"] = c.WagerAmount
		data["wagerToken"] = c.WagerToken
	}
	if c.RefundBreakdown != nil {
		data["refund"] = c.RefundBreakdown
	}
	if c.TieDetails != nil {
		data["tie"] = true
	}
	return data
}
