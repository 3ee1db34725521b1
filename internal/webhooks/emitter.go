package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qubicsec/aegis/internal/signals"
)

var (
	webhookEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aegis",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Total webhook emit attempts by event type.",
	}, []string{"event_type"})

	webhookEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aegis",
		Subsystem: "webhook",
		Name:      "emit_errors_total",
		Help:      "Total webhook emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(webhookEmitTotal, webhookEmitErrors)
}

// Emitter wraps a Dispatcher to emit monitoring events.
// All methods are fire-and-forget: errors are logged but never returned.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

func (e *Emitter) emit(eventType EventType, data map[string]any) {
	if e == nil || e.d == nil {
		return
	}
	webhookEmitTotal.WithLabelValues(string(eventType)).Inc()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.d.Dispatch(ctx, NewEvent(eventType, data)); err != nil {
		webhookEmitErrors.WithLabelValues(string(eventType)).Inc()
		e.logger.Warn("webhook emit failed", "event", eventType, "error", err)
	}
}

// EmitSignal emits a signal.emitted event.
func (e *Emitter) EmitSignal(sig *signals.Signal) {
	e.emit(EventSignalEmitted, map[string]any{
		"signalId":       sig.ID,
		"walletId":       sig.WalletID,
		"tokenSymbol":    sig.TokenSymbol,
		"score":          sig.Score,
		"level":          sig.Level,
		"category":       sig.Category,
		"recommendation": sig.Recommendation,
		"message":        sig.Message,
	})
}

// EmitSensitivityChanged emits a sensitivity.changed event.
func (e *Emitter) EmitSensitivityChanged(from, to, triggerCount int) {
	e.emit(EventSensitivityChanged, map[string]any{
		"from":         from,
		"to":           to,
		"triggerCount": triggerCount,
	})
}
