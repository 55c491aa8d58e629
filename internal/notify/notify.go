// Package notify delivers challenge lifecycle events to external services.
//
// Users register webhook URLs to hear about the challenges they are part
// of: offers, counters, responses, reviews, payouts. Payloads are signed
// with HMAC-SHA256 so receivers can verify origin.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/atlashq/atlas-core/internal/challenge"
	"github.com/atlashq/atlas-core/internal/circuitbreaker"
	"github.com/atlashq/atlas-core/internal/metrics"
	"github.com/atlashq/atlas-core/internal/retry"
	"github.com/atlashq/atlas-core/internal/security"
)

// KnownEvents lists every event type a subscription may ask for.
var KnownEvents = []string{
	challenge.EventCreated,
	challenge.EventCountered,
	challenge.EventAccepted,
	challenge.EventDeclined,
	challenge.EventResponseSubmitted,
	challenge.EventRetryRequested,
	challenge.EventDisputed,
	challenge.EventCompleted,
	challenge.EventTieResolved,
	challenge.EventExpired,
}

// KnownEvent reports whether eventType is a deliverable event.
func KnownEvent(eventType string) bool {
	for _, e := range KnownEvents {
		if e == eventType {
			return true
		}
	}
	return false
}

// Event is the JSON body POSTed to subscriber URLs.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscription is one registered webhook endpoint for one user.
type Subscription struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"userId"`
	URL                 string     `json:"url"`
	Secret              string     `json:"-"` // HMAC signing key, shown once at creation
	Events              []string   `json:"events"`
	Active              bool       `json:"active"`
	CreatedAt           time.Time  `json:"createdAt"`
	LastSuccess         *time.Time `json:"lastSuccess,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	ConsecutiveFailures int        `json:"-"`
}

func (s *Subscription) wants(eventType string) bool {
	for _, e := range s.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// Store persists webhook subscriptions.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	GetByUser(ctx context.Context, userID string) ([]*Subscription, error)
	GetByEvent(ctx context.Context, eventType string) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// RetryConfig controls delivery retries and auto-disable.
type RetryConfig struct {
	MaxAttempts int           // delivery attempts per event before giving up
	BaseDelay   time.Duration // first retry delay, doubled with jitter
	MaxFailures int           // consecutive failed events before the subscription is disabled
}

// DefaultRetryConfig retries twice and disables a subscription after 25
// consecutive failed events.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
	MaxFailures: 25,
}

// deliveryTimeout bounds one event's delivery, retries included.
const deliveryTimeout = 30 * time.Second

// Dispatcher fans events out to matching subscriptions.
type Dispatcher struct {
	store   Store
	client  *http.Client
	cfg     RetryConfig
	breaker *circuitbreaker.Breaker

	// urlValidator blocks SSRF targets. Tests override it to allow loopback.
	urlValidator func(string) error
}

// NewDispatcher creates a dispatcher with the default retry policy.
func NewDispatcher(store Store) *Dispatcher {
	return NewDispatcherWithRetry(store, DefaultRetryConfig)
}

// NewDispatcherWithRetry creates a dispatcher with an explicit retry policy.
func NewDispatcherWithRetry(store Store, cfg RetryConfig) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultRetryConfig.MaxFailures
	}
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		cfg:          cfg,
		breaker:      circuitbreaker.New(5, time.Minute),
		urlValidator: security.ValidateEndpointURL,
	}
}

// Dispatch sends an event to every active subscription listening for its type.
// Delivery is asynchronous; Dispatch returns once the fan-out is scheduled.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	subs, err := d.store.GetByEvent(ctx, event.Type)
	if err != nil {
		return fmt.Errorf("failed to get subscribers: %w", err)
	}

	for _, sub := range subs {
		if !sub.Active {
			continue
		}
		go d.sendDetached(sub, event)
	}

	return nil
}

// DispatchToUser sends an event to one user's matching subscriptions only.
func (d *Dispatcher) DispatchToUser(ctx context.Context, userID string, event *Event) error {
	subs, err := d.store.GetByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get subscriptions: %w", err)
	}

	for _, sub := range subs {
		if !sub.Active || !sub.wants(event.Type) {
			continue
		}
		go d.sendDetached(sub, event)
	}

	return nil
}

// sendDetached runs one delivery on its own deadline. The caller's context
// ends when its handler returns, which would cancel the POST mid-flight.
func (d *Dispatcher) sendDetached(sub *Subscription, event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()
	d.send(ctx, sub, event)
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, event *Event) {
	if err := d.urlValidator(sub.URL); err != nil {
		d.recordFailure(ctx, sub, fmt.Sprintf("blocked URL: %v", err))
		return
	}

	// A tripped circuit means the endpoint has been failing hard;
	// skip without counting another failure against the subscription.
	if !d.breaker.Allow(sub.ID) {
		metrics.WebhookDeliveriesTotal.WithLabelValues("skipped").Inc()
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.recordFailure(ctx, sub, "failed to marshal event")
		return
	}

	err = retry.Do(ctx, d.cfg.MaxAttempts, d.cfg.BaseDelay, func() error {
		return d.deliver(ctx, sub, event, payload)
	})
	if err != nil {
		d.breaker.RecordFailure(sub.ID)
		d.recordFailure(ctx, sub, err.Error())
		return
	}
	d.breaker.RecordSuccess(sub.ID)
	d.recordSuccess(ctx, sub)
}

func (d *Dispatcher) deliver(ctx context.Context, sub *Subscription, event *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, "POST", sub.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Atlas-Event", event.Type)
	req.Header.Set("X-Atlas-Timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))
	if sub.Secret != "" {
		req.Header.Set("X-Atlas-Signature", d.sign(payload, sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}
	return fmt.Errorf("status %d", resp.StatusCode)
}

func (d *Dispatcher) sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dispatcher) recordSuccess(ctx context.Context, sub *Subscription) {
	metrics.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
	now := time.Now()
	sub.LastSuccess = &now
	sub.LastError = ""
	sub.ConsecutiveFailures = 0
	_ = d.store.Update(ctx, sub)
}

func (d *Dispatcher) recordFailure(ctx context.Context, sub *Subscription, errMsg string) {
	metrics.WebhookDeliveriesTotal.WithLabelValues("failure").Inc()
	sub.LastError = errMsg
	sub.ConsecutiveFailures++
	if sub.ConsecutiveFailures >= d.cfg.MaxFailures {
		sub.Active = false
	}
	_ = d.store.Update(ctx, sub)
}
