package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/atlashq/atlas-core/internal/challenge"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: challenge.EventCreated, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []string{challenge.EventAccepted, challenge.EventCompleted},
	}}

	accepted := &Event{Type: challenge.EventAccepted}
	completed := &Event{Type: challenge.EventCompleted}
	countered := &Event{Type: challenge.EventCountered}

	if !h.shouldSend(client, accepted) {
		t.Error("Should receive challenge.accepted events")
	}
	if !h.shouldSend(client, completed) {
		t.Error("Should receive challenge.completed events")
	}
	if h.shouldSend(client, countered) {
		t.Error("Should NOT receive challenge.countered events")
	}
}

func TestShouldSend_UserFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		UserIDs: []string{"user_alice"},
	}}

	matchingFrom := &Event{
		Type: challenge.EventCreated,
		Data: map[string]interface{}{"fromUserId": "user_alice", "toUserId": "user_bob"},
	}
	matchingTo := &Event{
		Type: challenge.EventCreated,
		Data: map[string]interface{}{"fromUserId": "user_carol", "toUserId": "user_alice"},
	}
	notMatching := &Event{
		Type: challenge.EventCreated,
		Data: map[string]interface{}{"fromUserId": "user_carol", "toUserId": "user_bob"},
	}

	if !h.shouldSend(client, matchingFrom) {
		t.Error("Should match on challenger")
	}
	if !h.shouldSend(client, matchingTo) {
		t.Error("Should match on challengee")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match unrelated users")
	}
}

func TestShouldSend_ChallengeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		ChallengeIDs: []string{"chl_1"},
	}}

	matching := &Event{
		Type: challenge.EventResponseSubmitted,
		Data: map[string]interface{}{"challengeId": "chl_1"},
	}
	notMatching := &Event{
		Type: challenge.EventResponseSubmitted,
		Data: map[string]interface{}{"challengeId": "chl_2"},
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match watched challenge")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match other challenges")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	event := &Event{Type: challenge.EventCreated}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

func TestShouldSend_NonMapData(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		UserIDs: []string{"user_alice"},
	}}

	// Event with non-map data should not crash
	event := &Event{
		Type: challenge.EventExpired,
		Data: "string data not a map",
	}

	// User filter skips non-map data (can't extract IDs), so event passes through
	if !h.shouldSend(client, event) {
		t.Error("Non-map data should pass through when user filter can't extract IDs")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{Type: challenge.EventCreated, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{
		Type:      challenge.EventAccepted,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"challengeId": "chl_1"},
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants verdicts
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []string{challenge.EventCompleted}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// An accept event should be filtered out
	h.Broadcast(&Event{Type: challenge.EventAccepted, Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive challenge.accepted event")
	default:
		// Good - filtered out
	}

	// A completion event should be received
	h.Broadcast(&Event{Type: challenge.EventCompleted, Timestamp: time.Now()})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive challenge.completed event")
	}
}

// ---------------------------------------------------------------------------
// Streamer tests
// ---------------------------------------------------------------------------

func TestStreamer_BroadcastsChallengeEvent(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{UserIDs: []string{"user_bob"}},
	}
	h.register <- client
	time.Sleep(50 * time.Millisecond)

	s := NewStreamer(h)
	s.Notify(context.Background(), challenge.EventAccepted, &challenge.Challenge{
		ID:          "chl_1",
		FromUserID:  "user_alice",
		ToUserID:    "user_bob",
		Status:      challenge.StatusAccepted,
		WagerAmount: "5",
		WagerToken:  "USDC",
	})

	select {
	case msg := <-client.send:
		var evt Event
		if err := json.Unmarshal(msg, &evt); err != nil {
			t.Fatalf("Failed to parse event: %v", err)
		}
		if evt.Type != challenge.EventAccepted {
			t.Errorf("Expected challenge.accepted, got %s", evt.Type)
		}
		data := evt.Data.(map[string]interface{})
		if data["challengeId"] != "chl_1" {
			t.Errorf("Expected challengeId chl_1, got %v", data["challengeId"])
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for streamed event")
	}
}

func TestStreamer_NilHubIsNoop(t *testing.T) {
	var s *Streamer
	// Must not panic.
	s.Notify(context.Background(), challenge.EventCreated, &challenge.Challenge{ID: "chl_1"})
}
