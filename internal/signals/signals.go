// Package signals turns high-severity assessments into durable signal records
// for downstream notification and automation.
package signals

import (
	"sync"
	"time"

	"github.com/qubicsec/aegis/internal/idgen"
	"github.com/qubicsec/aegis/internal/metrics"
	"github.com/qubicsec/aegis/internal/pagination"
	"github.com/qubicsec/aegis/internal/risk"
)

// Signal is one emitted high-severity event.
type Signal struct {
	ID             string     `json:"id"`
	WalletID       string     `json:"walletId"`
	TokenSymbol    string     `json:"tokenSymbol,omitempty"`
	Score          float64    `json:"score"`
	Level          risk.Level `json:"level"`
	Category       string     `json:"category"`
	Recommendation string     `json:"recommendation"`
	Message        string     `json:"message"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Emitter keeps a capacity-bounded history of emitted signals. When the
// history is full the oldest signal is evicted.
type Emitter struct {
	mu       sync.RWMutex
	recent   []*Signal // oldest first
	capacity int
}

// NewEmitter creates an emitter with the given history capacity.
func NewEmitter(capacity int) *Emitter {
	if capacity <= 0 {
		capacity = 200
	}
	return &Emitter{capacity: capacity}
}

// MaybeEmit produces a signal for HIGH and CRITICAL assessments and records
// it in the history. Lower levels return nil.
func (e *Emitter) MaybeEmit(a *risk.Assessment) *Signal {
	if !a.Level.IsHighSeverity() {
		return nil
	}

	sig := &Signal{
		ID:             idgen.WithPrefix("sig_"),
		WalletID:       a.WalletID,
		TokenSymbol:    a.TokenSymbol,
		Score:          a.Score,
		Level:          a.Level,
		Category:       a.Category,
		Recommendation: a.Recommendation,
		Message:        buildMessage(a),
		CreatedAt:      time.Now(),
	}

	e.mu.Lock()
	e.recent = append(e.recent, sig)
	if len(e.recent) > e.capacity {
		e.recent = e.recent[len(e.recent)-e.capacity:]
	}
	e.mu.Unlock()

	metrics.SignalsEmitted.WithLabelValues(sig.Category).Inc()
	return sig
}

// Recent returns up to limit signals, most recent first. limit <= 0 or above
// the stored count returns everything stored.
func (e *Emitter) Recent(limit int) []*Signal {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n := len(e.recent)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*Signal, limit)
	for i := 0; i < limit; i++ {
		out[i] = e.recent[n-1-i]
	}
	return out
}

// RecentBefore returns up to limit signals older than the cursor position,
// most recent first. A nil cursor starts from the newest signal. If the
// cursor's signal has been evicted, results resume at the first signal
// created before the cursor timestamp.
func (e *Emitter) RecentBefore(cur *pagination.Cursor, limit int) []*Signal {
	if cur == nil {
		return e.Recent(limit)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if limit <= 0 {
		limit = len(e.recent)
	}
	out := make([]*Signal, 0, limit)
	seen := false
	for i := len(e.recent) - 1; i >= 0 && len(out) < limit; i-- {
		sig := e.recent[i]
		if !seen {
			if sig.ID == cur.ID {
				seen = true
				continue
			}
			if sig.CreatedAt.Before(cur.CreatedAt) {
				seen = true
			} else {
				continue
			}
		}
		out = append(out, sig)
	}
	return out
}

// Count returns the number of stored signals.
func (e *Emitter) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.recent)
}

func buildMessage(a *risk.Assessment) string {
	msg := string(a.Level) + " risk on wallet " + shortID(a.WalletID)
	if a.Category != risk.CategoryNone {
		msg += " (" + a.Category + ")"
	}
	return msg
}

// shortID truncates long wallet identities for display.
func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:8] + "..."
}
