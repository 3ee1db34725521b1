package judgment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/qubicsec/aegis/internal/circuitbreaker"
	"github.com/qubicsec/aegis/internal/graph"
	"github.com/qubicsec/aegis/internal/idgen"
	"github.com/qubicsec/aegis/internal/ingest"
	"github.com/qubicsec/aegis/internal/risk"
)

const (
	breakerThreshold = 3
	breakerCooldown  = 30 * time.Second
	maxResponseBytes = 64 << 10
)

// HTTPProvider calls an OpenAI-compatible chat completions endpoint and
// parses the model's JSON verdict.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	breaker *circuitbreaker.Breaker
}

var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider creates a provider client. timeout bounds each call
// end to end.
func NewHTTPProvider(baseURL, apiKey, model string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New("judgment", breakerThreshold, breakerCooldown),
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// verdict is the provider's JSON output. Pointer fields distinguish a
// missing value from a zero.
type verdict struct {
	RiskScore            *float64 `json:"risk_score"`
	AttackType           string   `json:"attack_type"`
	Confidence           *float64 `json:"confidence"`
	ActionRecommendation string   `json:"action_recommendation"`
	Reasoning            string   `json:"reasoning"`
}

var allowedActions = map[string]bool{
	risk.ActionMonitor:     true,
	risk.ActionInvestigate: true,
	risk.ActionAlert:       true,
	risk.ActionBlock:       true,
}

const systemPrompt = `You are a blockchain transaction risk analyst. Assess the
transaction and respond with ONLY a JSON object of the form:
{"risk_score": 0-100, "attack_type": "WASH_TRADING|WHALE_DUMP|HIGH_FREQUENCY|DUST_NOISE|ANOMALY|NONE", "confidence": 0-100, "action_recommendation": "MONITOR|INVESTIGATE|ALERT|BLOCK", "reasoning": "one sentence"}`

// Assess calls the provider and converts its verdict into an assessment.
// Any transport, schema, or range failure returns an error wrapping
// ErrUnavailable.
func (p *HTTPProvider) Assess(ctx context.Context, tx *ingest.Transaction, features ingest.FeatureRecord, insights graph.Insights) (*risk.Assessment, error) {
	if !p.breaker.Allow() {
		return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
	}

	v, err := p.call(ctx, buildPrompt(tx, features, insights))
	if err != nil {
		p.breaker.RecordFailure()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	p.breaker.RecordSuccess()

	score := *v.RiskScore
	level := risk.LevelFromScore(score)
	a := &risk.Assessment{
		ID:          idgen.WithPrefix("risk_"),
		WalletID:    tx.SourceID,
		TokenSymbol: tx.TokenSymbol,
		Score:       score,
		RawScore:    score,
		Level:       level,
		Factors: []risk.Factor{{
			Name:   "provider_judgment",
			Impact: score,
			Detail: v.Reasoning,
		}},
		Category:       v.AttackType,
		Recommendation: v.ActionRecommendation,
		Origin:         risk.OriginProvider,
		EvaluatedAt:    time.Now(),
	}
	return a, nil
}

// Breaker exposes the circuit state for status reporting.
func (p *HTTPProvider) Breaker() *circuitbreaker.Breaker {
	return p.breaker
}

func (p *HTTPProvider) call(ctx context.Context, userPrompt string) (*verdict, error) {
	reqBody := chatRequest{
		Model:       p.model,
		Temperature: 0.1,
		MaxTokens:   512,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider status %d: %s", resp.StatusCode, respBody)
	}

	var cr chatResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("empty response choices")
	}

	return parseVerdict(cr.Choices[0].Message.Content)
}

// parseVerdict extracts and validates the JSON verdict, handling markdown
// code fences.
func parseVerdict(text string) (*verdict, error) {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```") {
		if idx := strings.Index(cleaned, "\n"); idx >= 0 {
			cleaned = cleaned[idx+1:]
		}
		if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
			cleaned = cleaned[:idx]
		}
		cleaned = strings.TrimSpace(cleaned)
	}

	var v verdict
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return nil, fmt.Errorf("parse verdict JSON: %w", err)
	}
	if v.RiskScore == nil {
		return nil, fmt.Errorf("verdict missing risk_score")
	}
	if *v.RiskScore < 0 || *v.RiskScore > 100 {
		return nil, fmt.Errorf("risk_score %v out of range", *v.RiskScore)
	}
	if v.AttackType == "" {
		return nil, fmt.Errorf("verdict missing attack_type")
	}
	if !allowedActions[v.ActionRecommendation] {
		return nil, fmt.Errorf("unknown action_recommendation %q", v.ActionRecommendation)
	}
	return &v, nil
}

func buildPrompt(tx *ingest.Transaction, features ingest.FeatureRecord, insights graph.Insights) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Transaction: %s -> %s, amount %.2f, type %s",
		tx.SourceID, tx.DestID, tx.Amount, features.Type)
	if tx.TokenSymbol != "" {
		fmt.Fprintf(&b, ", token %s", tx.TokenSymbol)
	}
	if features.IsSelfTransfer {
		b.WriteString("\nNote: source and destination are identical.")
	}
	if insights.Exists {
		fmt.Fprintf(&b, "\nSource wallet history: %d transactions, %.2f total volume, %.2f average outgoing, %d unique counterparts.",
			insights.TxCount, insights.TotalVolume, insights.AvgOutAmount, insights.UniqueCounterparts)
	} else {
		b.WriteString("\nSource wallet has no recorded history.")
	}
	return b.String()
}
