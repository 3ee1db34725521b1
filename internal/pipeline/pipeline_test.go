package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/qubicsec/aegis/internal/forecast"
	"github.com/qubicsec/aegis/internal/graph"
	"github.com/qubicsec/aegis/internal/ingest"
	"github.com/qubicsec/aegis/internal/judgment"
	"github.com/qubicsec/aegis/internal/risk"
	"github.com/qubicsec/aegis/internal/sensitivity"
	"github.com/qubicsec/aegis/internal/signals"
)

func newTestPipeline(opts ...Option) *Pipeline {
	ledger := graph.NewLedger(graph.RoleThresholds{WhaleVolume: 1000000, HubDegree: 10})
	controller := sensitivity.NewController(60 * time.Second)
	engine := risk.NewEngine(10000, 10*time.Minute)
	forecaster := forecast.NewForecaster(200, 10, 0.3)
	emitter := signals.NewEmitter(200)
	return New(ledger, controller, engine, forecaster, emitter, opts...)
}

// stubProvider implements judgment.Provider for tests.
type stubProvider struct {
	assessment *risk.Assessment
	err        error
	calls      int
}

func (s *stubProvider) Assess(ctx context.Context, tx *ingest.Transaction, features ingest.FeatureRecord, insights graph.Insights) (*risk.Assessment, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	a := *s.assessment
	a.WalletID = tx.SourceID
	return &a, nil
}

func TestProcessNormalTransaction(t *testing.T) {
	p := newTestPipeline()
	tx := &ingest.Transaction{SourceID: "WALLETA", DestID: "WALLETB", Amount: 500, Type: "transfer"}

	res, err := p.Process(context.Background(), tx)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Assessment.Level != risk.LevelLow {
		t.Errorf("level = %s, want LOW", res.Assessment.Level)
	}
	if res.Signal != nil {
		t.Errorf("benign transaction emitted signal %v", res.Signal)
	}
	if p.Ledger().Size() != 2 {
		t.Errorf("ledger size = %d, want 2", p.Ledger().Size())
	}
	if got := p.Forecaster().SampleCount(forecast.NetworkEntity); got != 1 {
		t.Errorf("network series = %d points, want 1", got)
	}
	if got := p.Forecaster().SampleCount("WALLETA"); got != 1 {
		t.Errorf("wallet series = %d points, want 1", got)
	}
}

func TestProcessSelfTransferEmitsSignal(t *testing.T) {
	p := newTestPipeline()
	tx := &ingest.Transaction{SourceID: "WALLETA", DestID: "WALLETA", Amount: 50000, Type: "transfer"}

	res, err := p.Process(context.Background(), tx)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Assessment.RawScore < 90 {
		t.Errorf("raw score = %v, want >= 90 (self-transfer + amount ratio)", res.Assessment.RawScore)
	}
	if !res.Assessment.Level.IsHighSeverity() {
		t.Errorf("level = %s, want high severity", res.Assessment.Level)
	}
	if res.Signal == nil {
		t.Fatal("no signal emitted")
	}
	if res.Signal.Category != risk.CategoryWashTrading {
		t.Errorf("signal category = %s, want WASH_TRADING", res.Signal.Category)
	}
	if p.Signals().Count() != 1 {
		t.Errorf("stored signals = %d, want 1", p.Signals().Count())
	}
}

func TestProcessSpanAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	p := newTestPipeline()
	tx := &ingest.Transaction{SourceID: "WALLETA", DestID: "WALLETA", Amount: 50000, Type: "transfer"}
	res, err := p.Process(context.Background(), tx)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Signal == nil {
		t.Fatal("no signal emitted")
	}

	var span sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		if s.Name() == "pipeline.process" {
			span = s
			break
		}
	}
	if span == nil {
		t.Fatal("no pipeline.process span recorded")
	}

	attrs := make(map[string]string)
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["wallet.id"] != "WALLETA" {
		t.Errorf("wallet.id = %q, want WALLETA", attrs["wallet.id"])
	}
	if attrs["signal.id"] != res.Signal.ID {
		t.Errorf("signal.id = %q, want %q", attrs["signal.id"], res.Signal.ID)
	}
	if attrs["risk.level"] == "" {
		t.Error("risk.level attribute missing")
	}
}

func TestProcessInvalidTransactionNoMutation(t *testing.T) {
	p := newTestPipeline()

	cases := []*ingest.Transaction{
		nil,
		{SourceID: "", DestID: "B", Amount: 100},
		{SourceID: "A", DestID: "", Amount: 100},
		{SourceID: "A", DestID: "B", Amount: -5},
	}
	for i, tx := range cases {
		if _, err := p.Process(context.Background(), tx); !errors.Is(err, ingest.ErrInvalidTransaction) {
			t.Errorf("case %d: err = %v, want ErrInvalidTransaction", i, err)
		}
	}

	if p.Ledger().Size() != 0 {
		t.Errorf("ledger size = %d after invalid input, want 0", p.Ledger().Size())
	}
	if p.Signals().Count() != 0 {
		t.Errorf("signals = %d after invalid input, want 0", p.Signals().Count())
	}
	if got := p.Forecaster().SampleCount(forecast.NetworkEntity); got != 0 {
		t.Errorf("network series = %d after invalid input, want 0", got)
	}
}

func TestProcessHighSeverityDrivesSensitivity(t *testing.T) {
	p := newTestPipeline()

	for i := 0; i < 12; i++ {
		tx := &ingest.Transaction{
			SourceID: fmt.Sprintf("WALLET%d", i),
			DestID:   fmt.Sprintf("WALLET%d", i),
			Amount:   100,
			Type:     "transfer",
		}
		if _, err := p.Process(context.Background(), tx); err != nil {
			t.Fatalf("Process %d: %v", i, err)
		}
	}

	if level := p.Controller().Level(); level != 1 {
		t.Errorf("sensitivity level after attack burst = %d, want 1", level)
	}
}

func TestProcessProviderPreferred(t *testing.T) {
	stub := &stubProvider{assessment: &risk.Assessment{
		ID:             "risk_provider",
		Score:          65,
		RawScore:       65,
		Level:          risk.LevelMedium,
		Category:       risk.CategoryAnomaly,
		Recommendation: risk.ActionInvestigate,
		Origin:         risk.OriginProvider,
	}}
	p := newTestPipeline(WithProvider(stub))

	tx := &ingest.Transaction{SourceID: "WALLETA", DestID: "WALLETB", Amount: 100, Type: "transfer"}
	res, err := p.Process(context.Background(), tx)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Assessment.Origin != risk.OriginProvider {
		t.Errorf("origin = %s, want provider", res.Assessment.Origin)
	}
	if res.Assessment.Score != 65 {
		t.Errorf("score = %v, want 65", res.Assessment.Score)
	}
	if stub.calls != 1 {
		t.Errorf("provider calls = %d, want 1", stub.calls)
	}
}

func TestProcessProviderFailureFallsBack(t *testing.T) {
	stub := &stubProvider{err: judgment.ErrUnavailable}
	p := newTestPipeline(WithProvider(stub))

	// A transaction the deterministic engine scores as HIGH.
	tx := &ingest.Transaction{SourceID: "WALLETA", DestID: "WALLETA", Amount: 100, Type: "transfer"}
	res, err := p.Process(context.Background(), tx)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Assessment.Origin != risk.OriginRuleBased {
		t.Errorf("origin = %s, want rule_based after fallback", res.Assessment.Origin)
	}
	if res.Assessment.Score != 70 {
		t.Errorf("score = %v, want 70 from deterministic engine", res.Assessment.Score)
	}
	if res.Signal == nil {
		t.Error("fallback path suppressed signal emission")
	}
}

func TestProcessBatchSkipsInvalid(t *testing.T) {
	p := newTestPipeline()

	txs := []*ingest.Transaction{
		{SourceID: "A", DestID: "B", Amount: 100, Type: "transfer"},
		{SourceID: "", DestID: "B", Amount: 100},
		{SourceID: "C", DestID: "D", Amount: 200, Type: "transfer"},
	}
	results, errs := p.ProcessBatch(context.Background(), txs)
	if len(results) != 2 {
		t.Errorf("results = %d, want 2", len(results))
	}
	if errs[0] != nil || errs[2] != nil {
		t.Errorf("valid entries errored: %v", errs)
	}
	if !errors.Is(errs[1], ingest.ErrInvalidTransaction) {
		t.Errorf("errs[1] = %v, want ErrInvalidTransaction", errs[1])
	}
}

func TestStatusSnapshot(t *testing.T) {
	p := newTestPipeline()
	tx := &ingest.Transaction{SourceID: "WALLETA", DestID: "WALLETB", Amount: 100, Type: "transfer"}
	if _, err := p.Process(context.Background(), tx); err != nil {
		t.Fatalf("Process: %v", err)
	}

	st := p.Status(time.Now())
	if st["trackedWallets"].(int) != 2 {
		t.Errorf("trackedWallets = %v, want 2", st["trackedWallets"])
	}
	if st["judgmentProvider"].(bool) {
		t.Error("judgmentProvider = true, want false")
	}
}
