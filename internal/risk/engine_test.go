package risk

import (
	"testing"
	"time"

	"github.com/qubicsec/aegis/internal/graph"
	"github.com/qubicsec/aegis/internal/ingest"
)

func newTestEngine() *Engine {
	return NewEngine(10000, 10*time.Minute)
}

func scoreTx(e *Engine, tx *ingest.Transaction, insights graph.Insights, sens SensitivityState) *Assessment {
	return e.Score(tx, ingest.Extract(tx), insights, sens)
}

func normalSensitivity() SensitivityState {
	return SensitivityState{Level: 5, Threshold: 80}
}

func TestLevelFromScore(t *testing.T) {
	cases := []struct {
		score float64
		want  Level
	}{
		{0, LevelLow},
		{39.9, LevelLow},
		{40, LevelMedium},
		{69.9, LevelMedium},
		{70, LevelHigh},
		{89.9, LevelHigh},
		{90, LevelCritical},
		{100, LevelCritical},
	}
	for _, tc := range cases {
		if got := LevelFromScore(tc.score); got != tc.want {
			t.Errorf("LevelFromScore(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestScoreNormalTransaction(t *testing.T) {
	e := newTestEngine()
	tx := &ingest.Transaction{SourceID: "WALLETA", DestID: "WALLETB", Amount: 500, Type: "transfer"}

	a := scoreTx(e, tx, graph.Insights{}, normalSensitivity())
	if a.Score != 0 {
		t.Errorf("score = %v, want 0", a.Score)
	}
	if a.Level != LevelLow {
		t.Errorf("level = %s, want LOW", a.Level)
	}
	if a.Category != CategoryNone {
		t.Errorf("category = %s, want NONE", a.Category)
	}
	if a.Recommendation != ActionMonitor {
		t.Errorf("recommendation = %s, want MONITOR", a.Recommendation)
	}
	if a.Origin != OriginRuleBased {
		t.Errorf("origin = %s, want rule_based", a.Origin)
	}
}

func TestScoreAmountRatio(t *testing.T) {
	e := newTestEngine()

	cases := []struct {
		amount float64
		want   float64
	}{
		{30000, 0},    // 3x: below both bands
		{50000, 20},   // 5x: flat mid band
		{90000, 20},   // 9x: still mid band
		{120000, 24},  // 12x: ratio*2
		{500000, 50},  // 50x: capped
	}
	for _, tc := range cases {
		tx := &ingest.Transaction{SourceID: "A", DestID: "B", Amount: tc.amount, Type: "transfer"}
		a := scoreTx(e, tx, graph.Insights{}, normalSensitivity())
		if a.Score != tc.want {
			t.Errorf("amount %v: score = %v, want %v", tc.amount, a.Score, tc.want)
		}
	}
}

func TestScoreSelfTransfer(t *testing.T) {
	e := newTestEngine()
	tx := &ingest.Transaction{SourceID: "WALLETA", DestID: "WALLETA", Amount: 100, Type: "transfer"}

	a := scoreTx(e, tx, graph.Insights{}, normalSensitivity())
	if a.Score != 70 {
		t.Errorf("score = %v, want 70", a.Score)
	}
	if a.Level != LevelHigh {
		t.Errorf("level = %s, want HIGH", a.Level)
	}
	if a.Category != CategoryWashTrading {
		t.Errorf("category = %s, want WASH_TRADING", a.Category)
	}
}

func TestScoreSelfTransferWithLargeAmount(t *testing.T) {
	e := newTestEngine()
	tx := &ingest.Transaction{SourceID: "WALLETA", DestID: "WALLETA", Amount: 50000, Type: "transfer"}

	a := scoreTx(e, tx, graph.Insights{}, normalSensitivity())
	if a.RawScore != 90 {
		t.Errorf("raw score = %v, want 90 (70 self-transfer + 20 ratio)", a.RawScore)
	}
	if !a.Level.IsHighSeverity() {
		t.Errorf("level = %s, want high severity", a.Level)
	}
	if a.Category != CategoryWashTrading {
		t.Errorf("category = %s, want WASH_TRADING", a.Category)
	}
}

func TestScoreTypeRisk(t *testing.T) {
	e := newTestEngine()

	cases := []struct {
		txType       string
		wantScore    float64
		wantCategory string
	}{
		{"transfer", 0, CategoryNone},
		{"unknown_type", 0, CategoryNone},
		{"spam_attack", 70, CategoryDustNoise},
		{"whale_dump", 80, CategoryWhaleDump},
		{"wash_trading", 90, CategoryWashTrading},
		{"mixer", 95, CategoryMixer},
	}
	for _, tc := range cases {
		tx := &ingest.Transaction{SourceID: "A", DestID: "B", Amount: 100, Type: tc.txType}
		a := scoreTx(e, tx, graph.Insights{}, normalSensitivity())
		if a.Score != tc.wantScore {
			t.Errorf("type %q: score = %v, want %v", tc.txType, a.Score, tc.wantScore)
		}
		if a.Category != tc.wantCategory {
			t.Errorf("type %q: category = %s, want %s", tc.txType, a.Category, tc.wantCategory)
		}
	}
}

func TestScoreActivityFrequency(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	for i := 0; i < 25; i++ {
		e.RecordActivity("BUSY", now)
	}
	tx := &ingest.Transaction{SourceID: "BUSY", DestID: "B", Amount: 100, Type: "transfer", Timestamp: now}
	a := scoreTx(e, tx, graph.Insights{}, normalSensitivity())
	if a.Score != 20 {
		t.Errorf("score after 25 recorded = %v, want 20", a.Score)
	}
	if a.Category != CategoryHighFrequency {
		t.Errorf("category = %s, want HIGH_FREQUENCY", a.Category)
	}

	for i := 0; i < 30; i++ {
		e.RecordActivity("BUSY", now)
	}
	a = scoreTx(e, tx, graph.Insights{}, normalSensitivity())
	if a.Score != 40 {
		t.Errorf("score after 55 recorded = %v, want 40", a.Score)
	}
}

func TestScoreActivityFrequencyWindowExpiry(t *testing.T) {
	e := newTestEngine()
	old := time.Now().Add(-time.Hour)

	for i := 0; i < 30; i++ {
		e.RecordActivity("QUIET", old)
	}
	tx := &ingest.Transaction{SourceID: "QUIET", DestID: "B", Amount: 100, Type: "transfer"}
	a := scoreTx(e, tx, graph.Insights{}, normalSensitivity())
	if a.Score != 0 {
		t.Errorf("score with only expired activity = %v, want 0", a.Score)
	}
}

func TestScoreHistoricalDeviation(t *testing.T) {
	e := newTestEngine()
	insights := graph.Insights{Exists: true, WalletID: "A", AvgOutAmount: 1000}

	// 8x the wallet average: min(30, 8*5) = 30.
	tx := &ingest.Transaction{SourceID: "A", DestID: "B", Amount: 8000, Type: "transfer"}
	a := scoreTx(e, tx, insights, normalSensitivity())
	if a.Score != 30 {
		t.Errorf("score = %v, want 30", a.Score)
	}
	if a.Category != CategoryAnomaly {
		t.Errorf("category = %s, want ANOMALY", a.Category)
	}

	// 4x: within tolerance, no factor.
	tx.Amount = 4000
	a = scoreTx(e, tx, insights, normalSensitivity())
	if a.Score != 0 {
		t.Errorf("score at 4x average = %v, want 0", a.Score)
	}
}

func TestWithDeviationCutoff(t *testing.T) {
	e := NewEngine(10000, 10*time.Minute, WithDeviationCutoff(3))
	insights := graph.Insights{Exists: true, WalletID: "A", AvgOutAmount: 1000}

	// 4x average is flagged once the cutoff is lowered to 3x.
	tx := &ingest.Transaction{SourceID: "A", DestID: "B", Amount: 4000, Type: "transfer"}
	a := scoreTx(e, tx, insights, normalSensitivity())
	if a.Score != 20 {
		t.Errorf("score = %v, want 20", a.Score)
	}
}

func TestScoreSensitivityEscalation(t *testing.T) {
	e := newTestEngine()
	// Flagged type worth exactly 70, no other factors.
	tx := &ingest.Transaction{SourceID: "A", DestID: "B", Amount: 100, Type: "spam_attack"}

	// Normal state: threshold 80, score 70 stays HIGH.
	a := scoreTx(e, tx, graph.Insights{}, normalSensitivity())
	if a.Level != LevelHigh || a.Escalated {
		t.Fatalf("normal state: level = %s escalated = %v, want HIGH/false", a.Level, a.Escalated)
	}

	// Alert state 2 with threshold 60: 70 > 60 escalates one step.
	a = scoreTx(e, tx, graph.Insights{}, SensitivityState{Level: 2, Threshold: 60})
	if a.Level != LevelCritical {
		t.Errorf("alert state: level = %s, want CRITICAL", a.Level)
	}
	if !a.Escalated {
		t.Error("alert state: expected escalated assessment")
	}
	if a.Score != 78 {
		t.Errorf("alert state: score = %v, want 78 (70 + bump)", a.Score)
	}
	if a.RawScore != 70 {
		t.Errorf("alert state: raw score = %v, want 70", a.RawScore)
	}

	// Level 3 never escalates regardless of threshold.
	a = scoreTx(e, tx, graph.Insights{}, SensitivityState{Level: 3, Threshold: 60})
	if a.Level != LevelHigh || a.Escalated {
		t.Errorf("level 3: level = %s escalated = %v, want HIGH/false", a.Level, a.Escalated)
	}
}

func TestScoreClampedAt100(t *testing.T) {
	e := newTestEngine()
	// Self-transfer + flagged type + big ratio stacks far past 100.
	tx := &ingest.Transaction{SourceID: "A", DestID: "A", Amount: 500000, Type: "mixer"}

	a := scoreTx(e, tx, graph.Insights{}, SensitivityState{Level: 1, Threshold: 50})
	if a.Score != 100 {
		t.Errorf("score = %v, want 100", a.Score)
	}
	if a.Level != LevelCritical {
		t.Errorf("level = %s, want CRITICAL", a.Level)
	}
	if a.Recommendation != ActionBlock {
		t.Errorf("recommendation = %s, want BLOCK", a.Recommendation)
	}
}

func TestRecordActivityCapsWindow(t *testing.T) {
	e := newTestEngine()
	now := time.Now()
	for i := 0; i < maxWindowSize+100; i++ {
		e.RecordActivity("FLOOD", now)
	}
	w := e.getWindow("FLOOD")
	w.mu.Lock()
	n := len(w.entries)
	w.mu.Unlock()
	if n > maxWindowSize {
		t.Errorf("window size = %d, want <= %d", n, maxWindowSize)
	}
}
