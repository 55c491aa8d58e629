package realtime

import (
	"context"
	"time"

	"github.com/atlashq/atlas-core/internal/challenge"
)

// Streamer pushes challenge state changes onto the hub. It satisfies
// the challenge service's notifier hook.
type Streamer struct {
	hub *Hub
}

// NewStreamer creates a streamer over the given hub.
func NewStreamer(hub *Hub) *Streamer {
	return &Streamer{hub: hub}
}

var _ challenge.Notifier = (*Streamer)(nil)

// Notify broadcasts event to every connected client whose subscription
// matches. Never blocks; the hub drops events when its queue is full.
func (s *Streamer) Notify(_ context.Context, event string, c *challenge.Challenge) {
	if s == nil || s.hub == nil || c == nil {
		return
	}

	data := map[string]interface{}{
		"challengeId": c.ID,
		"fromUserId":  c.FromUserID,
		"toUserId":    c.ToUserID,
		"status":      string(c.Status),
	}
	if c.HasWager() {
		data["wagerAmount"] = c.WagerAmount
		data["wagerToken"] = c.WagerToken
	}

	s.hub.Broadcast(&Event{
		Type:      event,
		Timestamp: time.Now(),
		Data:      data,
	})
}
