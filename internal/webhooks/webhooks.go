// Package webhooks pushes monitoring events to external automation services.
//
// Operators can register webhook URLs to receive notifications about:
// - Emitted risk signals
// - Sensitivity level changes
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/qubicsec/aegis/internal/idgen"
	"github.com/qubicsec/aegis/internal/retry"
)

// Delivery retry policy. 4xx responses are not retried.
const (
	deliveryAttempts  = 3
	deliveryBaseDelay = 500 * time.Millisecond
)

// EventType represents the type of webhook event
type EventType string

const (
	EventSignalEmitted      EventType = "signal.emitted"
	EventSensitivityChanged EventType = "sensitivity.changed"
)

// Event represents a webhook event
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEvent builds an event with a fresh ID and timestamp.
func NewEvent(t EventType, data map[string]any) *Event {
	return &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      t,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// Subscription represents a webhook subscription
type Subscription struct {
	ID          string      `json:"id"`
	URL         string      `json:"url"`
	Secret      string      `json:"-"` // Used for HMAC signing
	Events      []EventType `json:"events"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"createdAt"`
	LastSuccess *time.Time  `json:"lastSuccess,omitempty"`
	LastError   string      `json:"lastError,omitempty"`
}

// Store persists webhook subscriptions. Reads return copies; delivery
// status is recorded through MarkDelivery so concurrent deliveries never
// mutate a subscription a reader holds.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	List(ctx context.Context) ([]*Subscription, error)
	GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	MarkDelivery(ctx context.Context, id string, success *time.Time, deliveryErr string) error
	Delete(ctx context.Context, id string) error
}

// Dispatcher sends webhook events
type Dispatcher struct {
	store        Store
	client       *http.Client
	urlValidator func(string) error
	attempts     int
	baseDelay    time.Duration
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(store Store) *Dispatcher {
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		urlValidator: validateURL,
		attempts:     deliveryAttempts,
		baseDelay:    deliveryBaseDelay,
	}
}

// validateURL rejects targets that could reach internal infrastructure.
func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported webhook scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("webhook URL missing host")
	}
	if ip := net.ParseIP(u.Hostname()); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
			return fmt.Errorf("webhook URL targets a private address")
		}
	}
	return nil
}

// Dispatch sends an event to all active subscribers of its type.
// Delivery is fire-and-forget.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	subs, err := d.store.GetByEvent(ctx, event.Type)
	if err != nil {
		return fmt.Errorf("failed to get subscribers: %w", err)
	}

	for _, sub := range subs {
		if !sub.Active {
			continue
		}

		// Send async to avoid blocking the pipeline
		go d.send(context.WithoutCancel(ctx), sub, event)
	}

	return nil
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, event *Event) {
	if err := d.urlValidator(sub.URL); err != nil {
		d.updateError(ctx, sub.ID, err.Error())
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.updateError(ctx, sub.ID, "failed to marshal event")
		return
	}

	err = retry.Do(ctx, d.attempts, d.baseDelay, func() error {
		req, err := http.NewRequestWithContext(ctx, "POST", sub.URL, bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Aegis-Event", string(event.Type))
		req.Header.Set("X-Aegis-Timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))

		// Sign the payload if secret is set
		if sub.Secret != "" {
			signature := d.sign(payload, sub.Secret)
			req.Header.Set("X-Aegis-Signature", signature)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			// Subscriber rejected the payload, retrying won't help.
			return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
		default:
			return fmt.Errorf("status %d", resp.StatusCode)
		}
	})
	if err != nil {
		d.updateError(ctx, sub.ID, err.Error())
		return
	}
	d.updateSuccess(ctx, sub.ID)
}

func (d *Dispatcher) sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dispatcher) updateSuccess(ctx context.Context, id string) {
	now := time.Now()
	d.store.MarkDelivery(ctx, id, &now, "")
}

func (d *Dispatcher) updateError(ctx context.Context, id, errMsg string) {
	d.store.MarkDelivery(ctx, id, nil, errMsg)
}

// MemoryStore is the in-memory subscription store. Stored subscriptions
// are private to the store: writes copy in, reads copy out.
type MemoryStore struct {
	subs map[string]*Subscription
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs: make(map[string]*Subscription),
	}
}

// clone returns an independent copy of sub.
func clone(sub *Subscription) *Subscription {
	c := *sub
	c.Events = append([]EventType(nil), sub.Events...)
	if sub.LastSuccess != nil {
		t := *sub.LastSuccess
		c.LastSuccess = &t
	}
	return &c
}

func (m *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = clone(sub)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sub, ok := m.subs[id]; ok {
		return clone(sub), nil
	}
	return nil, fmt.Errorf("subscription not found")
}

func (m *MemoryStore) List(ctx context.Context) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		result = append(result, clone(sub))
	}
	return result, nil
}

func (m *MemoryStore) GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		for _, et := range sub.Events {
			if et == eventType {
				result = append(result, clone(sub))
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) Update(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = clone(sub)
	return nil
}

// MarkDelivery records the outcome of a delivery attempt under the store
// lock. A non-nil success timestamp clears any previous error.
func (m *MemoryStore) MarkDelivery(ctx context.Context, id string, success *time.Time, deliveryErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return fmt.Errorf("subscription not found")
	}
	if success != nil {
		t := *success
		sub.LastSuccess = &t
		sub.LastError = ""
		return nil
	}
	sub.LastError = deliveryErr
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}
