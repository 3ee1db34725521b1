// Package pipeline wires feature extraction, scoring, graph tracking,
// forecasting, and signal emission into a single transaction processing path.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/qubicsec/aegis/internal/forecast"
	"github.com/qubicsec/aegis/internal/graph"
	"github.com/qubicsec/aegis/internal/ingest"
	"github.com/qubicsec/aegis/internal/judgment"
	"github.com/qubicsec/aegis/internal/metrics"
	"github.com/qubicsec/aegis/internal/realtime"
	"github.com/qubicsec/aegis/internal/risk"
	"github.com/qubicsec/aegis/internal/sensitivity"
	"github.com/qubicsec/aegis/internal/signals"
	"github.com/qubicsec/aegis/internal/syncutil"
	"github.com/qubicsec/aegis/internal/traces"
	"github.com/qubicsec/aegis/internal/webhooks"
)

// topCounterpartsShown bounds counterpart lists in wallet insights.
const topCounterpartsShown = 5

// Result is the outcome of processing one transaction.
type Result struct {
	Transaction *ingest.Transaction `json:"transaction"`
	Assessment  *risk.Assessment    `json:"assessment"`
	Signal      *signals.Signal     `json:"signal,omitempty"`
}

// Pipeline processes transactions end to end.
type Pipeline struct {
	ledger     *graph.Ledger
	controller *sensitivity.Controller
	engine     *risk.Engine
	forecaster *forecast.Forecaster
	emitter    *signals.Emitter

	provider judgment.Provider
	hub      *realtime.Hub
	notifier *webhooks.Emitter
	logger   *slog.Logger

	// Serializes scoring and state commit per source wallet so concurrent
	// submissions see consistent frequency and deviation features.
	locks *syncutil.ContextShardedMutex
}

// Option configures optional pipeline integrations.
type Option func(*Pipeline)

// WithProvider attaches an external judgment provider. The deterministic
// engine remains the fallback.
func WithProvider(p judgment.Provider) Option {
	return func(pl *Pipeline) { pl.provider = p }
}

// WithHub attaches a realtime hub for event broadcasting.
func WithHub(h *realtime.Hub) Option {
	return func(pl *Pipeline) { pl.hub = h }
}

// WithNotifier attaches a webhook emitter for signal notifications.
func WithNotifier(n *webhooks.Emitter) Option {
	return func(pl *Pipeline) { pl.notifier = n }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(pl *Pipeline) { pl.logger = l }
}

// New creates a pipeline from its core components.
func New(ledger *graph.Ledger, controller *sensitivity.Controller, engine *risk.Engine, forecaster *forecast.Forecaster, emitter *signals.Emitter, opts ...Option) *Pipeline {
	p := &Pipeline{
		ledger:     ledger,
		controller: controller,
		engine:     engine,
		forecaster: forecaster,
		emitter:    emitter,
		logger:     slog.Default(),
		locks:      syncutil.NewContextShardedMutex(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one transaction through the full pipeline. Invalid
// transactions are rejected before any state changes.
func (p *Pipeline) Process(ctx context.Context, tx *ingest.Transaction) (*Result, error) {
	if err := ingest.Validate(tx); err != nil {
		metrics.TransactionsRejected.Inc()
		return nil, err
	}

	features := ingest.Extract(tx)

	ctx, span := traces.StartSpan(ctx, "pipeline.process",
		traces.Wallet(tx.SourceID),
		traces.TxType(tx.Type),
		traces.TxAmount(tx.Amount),
	)
	defer span.End()

	unlock, err := p.locks.LockContext(ctx, tx.SourceID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Score against the pre-transaction ledger state so a wallet's first
	// anomalous transfer is judged against its prior behavior.
	insights := p.ledger.WalletInsights(tx.SourceID, topCounterpartsShown)

	level, threshold := p.controller.Evaluate(features.Timestamp)
	sens := risk.SensitivityState{Level: level, Threshold: threshold}

	assessment := p.assess(ctx, tx, features, insights, sens)
	span.SetAttributes(
		traces.RiskScore(assessment.Score),
		traces.RiskLevel(string(assessment.Level)),
	)

	// Commit state after scoring.
	p.ledger.RecordTransaction(tx)
	p.ledger.RiskTouch(tx.SourceID, assessment.Score)
	p.engine.RecordActivity(tx.SourceID, features.Timestamp)

	p.forecaster.Record(forecast.NetworkEntity, features.Timestamp, assessment.Score)
	p.forecaster.Record(tx.SourceID, features.Timestamp, assessment.Score)

	if assessment.Level.IsHighSeverity() {
		p.controller.RecordHighSeverity(features.Timestamp)
	}

	sig := p.emitter.MaybeEmit(assessment)
	if sig != nil {
		span.SetAttributes(traces.SignalID(sig.ID))
	}

	metrics.TransactionsTotal.WithLabelValues(string(assessment.Level)).Inc()

	if p.hub != nil {
		p.hub.BroadcastAssessment(assessment, tx.SourceID, tx.DestID, tx.Amount)
		if sig != nil {
			p.hub.BroadcastSignal(sig)
		}
	}
	if p.notifier != nil && sig != nil {
		p.notifier.EmitSignal(sig)
	}

	return &Result{
		Transaction: tx,
		Assessment:  assessment,
		Signal:      sig,
	}, nil
}

// ProcessBatch processes transactions in order. Invalid entries are skipped
// and reported per index; valid entries still go through.
func (p *Pipeline) ProcessBatch(ctx context.Context, txs []*ingest.Transaction) ([]*Result, []error) {
	results := make([]*Result, 0, len(txs))
	errs := make([]error, len(txs))
	for i, tx := range txs {
		res, err := p.Process(ctx, tx)
		if err != nil {
			errs[i] = err
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

// assess obtains an assessment from the judgment provider when one is
// configured, falling back silently to the deterministic engine.
func (p *Pipeline) assess(ctx context.Context, tx *ingest.Transaction, features ingest.FeatureRecord, insights graph.Insights, sens risk.SensitivityState) *risk.Assessment {
	if p.provider != nil {
		a, err := p.provider.Assess(ctx, tx, features, insights)
		if err == nil {
			a.ApplySensitivity(sens)
			return a
		}
		metrics.JudgmentFallbacks.Inc()
		p.logger.Warn("judgment provider unavailable, using rule-based scoring",
			"error", err, "source", tx.SourceID)
	}
	return p.engine.Score(tx, features, insights, sens)
}

// Status summarizes the pipeline's current state for the status endpoint.
func (p *Pipeline) Status(now time.Time) map[string]any {
	sens := p.controller.Status(now)
	return map[string]any{
		"trackedWallets":   p.ledger.Size(),
		"signalsStored":    p.emitter.Count(),
		"sensitivity":      sens,
		"forecastEntities": len(p.forecaster.Entities()),
		"judgmentProvider": p.provider != nil,
	}
}

// Ledger exposes the wallet ledger for read endpoints.
func (p *Pipeline) Ledger() *graph.Ledger { return p.ledger }

// Controller exposes the sensitivity controller for read endpoints.
func (p *Pipeline) Controller() *sensitivity.Controller { return p.controller }

// Forecaster exposes the forecaster for read endpoints.
func (p *Pipeline) Forecaster() *forecast.Forecaster { return p.forecaster }

// Signals exposes the signal emitter for read endpoints.
func (p *Pipeline) Signals() *signals.Emitter { return p.emitter }
