package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/qubicsec/aegis/internal/graph"
	"github.com/qubicsec/aegis/internal/idgen"
	"github.com/qubicsec/aegis/internal/ingest"
)

const (
	maxWindowSize = 1000

	// Factor tuning.
	ratioHighCutoff  = 10.0
	ratioMidCutoff   = 5.0
	ratioImpactCap   = 50.0
	ratioMidImpact   = 20.0
	selfTransferHit  = 70.0
	typeNoiseFloor   = 20.0
	freqMidCount     = 20
	freqHighCount    = 50
	freqMidImpact    = 20.0
	freqHighImpact   = 40.0
	deviationCutoff  = 5.0
	deviationCap     = 30.0
	deviationPerUnit = 5.0
)

// typeRisk is the static risk table for flagged transaction types.
type typeRisk struct {
	impact   float64
	category string
}

var typeRiskTable = map[string]typeRisk{
	"transfer":           {0, CategoryNone},
	"wash_trading":       {90, CategoryWashTrading},
	"wash_trade":         {90, CategoryWashTrading},
	"flash_loan_pattern": {85, CategoryFlashLoan},
	"flash_attack":       {85, CategoryFlashLoan},
	"mixer":              {95, CategoryMixer},
	"spam_attack":        {70, CategoryDustNoise},
	"whale_dump":         {80, CategoryWhaleDump},
	"wallet_drain":       {95, CategoryAnomaly},
}

// activityEntry records one transaction from a source for frequency analysis.
type activityEntry struct {
	at time.Time
}

type sourceWindow struct {
	mu      sync.Mutex
	entries []activityEntry
}

// Engine scores transactions using in-memory trailing windows per source.
type Engine struct {
	windows         sync.Map // map[string]*sourceWindow
	baseline        float64
	activityWindow  time.Duration
	deviationCutoff float64
}

// EngineOption tunes scoring behavior.
type EngineOption func(*Engine)

// WithDeviationCutoff overrides how many multiples of a wallet's historical
// average an amount must exceed before the deviation factor applies.
func WithDeviationCutoff(multiples float64) EngineOption {
	return func(e *Engine) {
		if multiples > 0 {
			e.deviationCutoff = multiples
		}
	}
}

// NewEngine creates a scoring engine. baseline is the reference amount for
// the ratio factor; activityWindow bounds the frequency factor lookback.
func NewEngine(baseline float64, activityWindow time.Duration, opts ...EngineOption) *Engine {
	if baseline <= 0 {
		baseline = 10000
	}
	if activityWindow <= 0 {
		activityWindow = 10 * time.Minute
	}
	e := &Engine{
		baseline:        baseline,
		activityWindow:  activityWindow,
		deviationCutoff: deviationCutoff,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Score evaluates a transaction against the 5 deterministic factors and the
// current sensitivity state. Pure in-memory computation.
func (e *Engine) Score(tx *ingest.Transaction, features ingest.FeatureRecord, insights graph.Insights, sens SensitivityState) *Assessment {
	var factors []Factor

	if f, ok := e.ratioFactor(features.Amount); ok {
		factors = append(factors, f)
	}
	if features.IsSelfTransfer {
		factors = append(factors, Factor{
			Name:   "self_transfer",
			Impact: selfTransferHit,
			Detail: "source and destination are identical",
		})
	}
	if f, ok := e.typeFactor(features.Type); ok {
		factors = append(factors, f)
	}
	if f, ok := e.frequencyFactor(tx.SourceID, features.Timestamp); ok {
		factors = append(factors, f)
	}
	if f, ok := e.deviationFactor(features.Amount, insights); ok {
		factors = append(factors, f)
	}

	var raw float64
	for _, f := range factors {
		raw += f.Impact
	}
	raw = round2(clampScore(raw))

	a := &Assessment{
		ID:          idgen.WithPrefix("risk_"),
		WalletID:    tx.SourceID,
		TokenSymbol: tx.TokenSymbol,
		Score:       raw,
		RawScore:    raw,
		Level:       LevelFromScore(raw),
		Factors:     factors,
		Category:    dominantCategory(factors, features.Type),
		Origin:      OriginRuleBased,
		EvaluatedAt: time.Now(),
	}
	a.Recommendation = recommendationForLevel(a.Level)
	a.ApplySensitivity(sens)
	return a
}

// RecordActivity appends a completed transaction to the source's trailing
// window. Called after scoring so the current transaction never counts
// against itself.
func (e *Engine) RecordActivity(sourceID string, at time.Time) {
	w := e.getWindow(sourceID)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.entries = append(w.entries, activityEntry{at: at})
	e.pruneWindow(w, at)
}

func (e *Engine) getWindow(sourceID string) *sourceWindow {
	v, _ := e.windows.LoadOrStore(sourceID, &sourceWindow{})
	return v.(*sourceWindow)
}

// pruneWindow drops expired entries and caps size (caller holds lock).
func (e *Engine) pruneWindow(w *sourceWindow, now time.Time) {
	cutoff := now.Add(-e.activityWindow)
	start := 0
	for start < len(w.entries) && w.entries[start].at.Before(cutoff) {
		start++
	}
	if start > 0 {
		w.entries = w.entries[start:]
	}
	if len(w.entries) > maxWindowSize {
		w.entries = w.entries[len(w.entries)-maxWindowSize:]
	}
}

// ratioFactor compares the amount to the configured baseline.
func (e *Engine) ratioFactor(amount float64) (Factor, bool) {
	ratio := amount / e.baseline
	switch {
	case ratio > ratioHighCutoff:
		return Factor{
			Name:   "amount_ratio",
			Impact: math.Min(ratioImpactCap, round2(ratio*2)),
			Detail: fmt.Sprintf("amount is %.1fx the baseline", ratio),
		}, true
	case ratio >= ratioMidCutoff:
		return Factor{
			Name:   "amount_ratio",
			Impact: ratioMidImpact,
			Detail: fmt.Sprintf("amount is %.1fx the baseline", ratio),
		}, true
	default:
		return Factor{}, false
	}
}

// typeFactor applies the static type table above the noise floor.
func (e *Engine) typeFactor(txType string) (Factor, bool) {
	tr, ok := typeRiskTable[txType]
	if !ok || tr.impact <= typeNoiseFloor {
		return Factor{}, false
	}
	return Factor{
		Name:   "type_risk",
		Impact: tr.impact,
		Detail: fmt.Sprintf("flagged transaction type %q", txType),
	}, true
}

// frequencyFactor counts transactions from the source inside the trailing
// window, including the one being scored.
func (e *Engine) frequencyFactor(sourceID string, at time.Time) (Factor, bool) {
	w := e.getWindow(sourceID)
	w.mu.Lock()
	cutoff := at.Add(-e.activityWindow)
	count := 1 // the current transaction
	for _, entry := range w.entries {
		if !entry.at.Before(cutoff) {
			count++
		}
	}
	w.mu.Unlock()

	switch {
	case count > freqHighCount:
		return Factor{
			Name:   "activity_frequency",
			Impact: freqHighImpact,
			Detail: fmt.Sprintf("%d transactions from source in window", count),
		}, true
	case count > freqMidCount:
		return Factor{
			Name:   "activity_frequency",
			Impact: freqMidImpact,
			Detail: fmt.Sprintf("%d transactions from source in window", count),
		}, true
	default:
		return Factor{}, false
	}
}

// deviationFactor compares the amount to the wallet's historical average
// outgoing amount.
func (e *Engine) deviationFactor(amount float64, insights graph.Insights) (Factor, bool) {
	if !insights.Exists || insights.AvgOutAmount <= 0 {
		return Factor{}, false
	}
	deviation := amount / insights.AvgOutAmount
	if deviation <= e.deviationCutoff {
		return Factor{}, false
	}
	return Factor{
		Name:   "historical_deviation",
		Impact: math.Min(deviationCap, round2(deviation*deviationPerUnit)),
		Detail: fmt.Sprintf("amount deviates %.1fx from wallet average", deviation),
	}, true
}

// dominantCategory derives the threat category from the highest-impact factor.
func dominantCategory(factors []Factor, txType string) string {
	if len(factors) == 0 {
		return CategoryNone
	}
	top := factors[0]
	for _, f := range factors[1:] {
		if f.Impact > top.Impact {
			top = f
		}
	}
	switch top.Name {
	case "self_transfer":
		return CategoryWashTrading
	case "type_risk":
		if tr, ok := typeRiskTable[txType]; ok {
			return tr.category
		}
		return CategoryAnomaly
	case "amount_ratio":
		return CategoryWhaleDump
	case "activity_frequency":
		return CategoryHighFrequency
	default:
		return CategoryAnomaly
	}
}

func clampScore(s float64) float64 {
	if s > 100 {
		return 100
	}
	if s < 0 {
		return 0
	}
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
