package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *AegisClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *AegisClient) *Handlers {
	return &Handlers{client: client}
}

// HandleGetWalletInsights returns the behavioral profile of one wallet.
func (h *Handlers) HandleGetWalletInsights(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	walletID := req.GetString("wallet_id", "")
	if walletID == "" {
		return mcp.NewToolResultError("wallet_id is required"), nil
	}

	raw, err := h.client.WalletInsights(ctx, walletID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get wallet insights: %v", err)), nil
	}

	text, err := formatInsights(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse insights: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetNetworkGraph returns the wallet interaction graph.
func (h *Handlers) HandleGetNetworkGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)

	raw, err := h.client.NetworkGraph(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get network graph: %v", err)), nil
	}

	text, err := formatGraph(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse graph: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetRecentSignals lists recent risk signals.
func (h *Handlers) HandleGetRecentSignals(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)

	raw, err := h.client.RecentSignals(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get signals: %v", err)), nil
	}

	text, err := formatSignals(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse signals: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetSensitivityStatus returns the alert-level state.
func (h *Handlers) HandleGetSensitivityStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.SensitivityStatus(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get sensitivity status: %v", err)), nil
	}

	text, err := formatSensitivity(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse sensitivity status: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetForecast returns a risk trend forecast.
func (h *Handlers) HandleGetForecast(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entityID := req.GetString("entity_id", "network")
	horizon := req.GetInt("horizon", 1)

	raw, err := h.client.Forecast(ctx, entityID, horizon)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get forecast: %v", err)), nil
	}

	text, err := formatForecast(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse forecast: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetPipelineStatus returns overall monitoring status.
func (h *Handlers) HandleGetPipelineStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.PipelineStatus(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get pipeline status: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// HandleSubmitTransaction runs one transaction through the pipeline.
func (h *Handlers) HandleSubmitTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sourceID := req.GetString("source_id", "")
	if sourceID == "" {
		return mcp.NewToolResultError("source_id is required"), nil
	}
	destID := req.GetString("dest_id", "")
	if destID == "" {
		return mcp.NewToolResultError("dest_id is required"), nil
	}
	amount, ok := req.GetArguments()["amount"].(float64)
	if !ok || amount < 0 {
		return mcp.NewToolResultError("amount is required and must be non-negative"), nil
	}
	txType := req.GetString("type", "")

	raw, err := h.client.SubmitTransaction(ctx, sourceID, destID, amount, txType)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Transaction rejected: %v", err)), nil
	}

	text, err := formatAssessmentResult(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessment: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// --- Formatting helpers ---

func formatInsights(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Wallet %s:\n", getString(m, "walletId"))
	fmt.Fprintf(&sb, "  Transactions: %s\n", getNumber(m, "txCount"))
	fmt.Fprintf(&sb, "  Total volume: %s\n", getNumber(m, "totalVolume"))
	fmt.Fprintf(&sb, "  Avg outgoing: %s\n", getNumber(m, "avgOutAmount"))
	fmt.Fprintf(&sb, "  Unique counterparts: %s\n", getNumber(m, "uniqueCounterparts"))
	fmt.Fprintf(&sb, "  Peak risk score: %s\n", getNumber(m, "riskPeak"))

	if parts, ok := m["topCounterparts"].([]any); ok && len(parts) > 0 {
		sb.WriteString("  Top counterparts:\n")
		for _, p := range parts {
			if cp, ok := p.(map[string]any); ok {
				fmt.Fprintf(&sb, "    %s (%s interactions)\n",
					getString(cp, "walletId"), getNumber(cp, "count"))
			}
		}
	}

	return sb.String(), nil
}

func formatGraph(raw json.RawMessage) (string, error) {
	var snap struct {
		Nodes []map[string]any `json:"nodes"`
		Edges []map[string]any `json:"edges"`
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return "", err
	}
	if len(snap.Nodes) == 0 {
		return "No wallets tracked yet.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Network graph: %d wallet(s), %d edge(s)\n\n", len(snap.Nodes), len(snap.Edges))
	for i, n := range snap.Nodes {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, getString(n, "id"))
		fmt.Fprintf(&sb, "   Volume: %s | Tx: %s | Degree: %s",
			getNumber(n, "totalVolume"), getNumber(n, "txCount"), getNumber(n, "degree"))
		if role := getString(n, "role"); role != "" && role != "normal" {
			fmt.Fprintf(&sb, " | Role: %s", role)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func formatSignals(raw json.RawMessage) (string, error) {
	var resp struct {
		Signals []map[string]any `json:"signals"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Signals) == 0 {
		return "No risk signals recorded.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d recent signal(s), newest first:\n\n", len(resp.Signals))
	for i, s := range resp.Signals {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, getString(s, "level"), getString(s, "message"))
		fmt.Fprintf(&sb, "   Wallet: %s | Score: %s | Category: %s | Action: %s\n",
			getString(s, "walletId"), getNumber(s, "score"),
			getString(s, "category"), getString(s, "recommendation"))
		if i < len(resp.Signals)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

func formatSensitivity(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Sensitivity controller:\n")
	fmt.Fprintf(&sb, "  Alert level: %s (5 = calm, 1 = maximum alert)\n", getNumber(m, "level"))
	fmt.Fprintf(&sb, "  Signal threshold: %s\n", getNumber(m, "effectiveThreshold"))
	fmt.Fprintf(&sb, "  High-severity events in window: %s\n", getNumber(m, "recentHighSeverity"))

	if trs, ok := m["transitions"].([]any); ok && len(trs) > 0 {
		sb.WriteString("  Recent transitions:\n")
		for _, t := range trs {
			if tr, ok := t.(map[string]any); ok {
				fmt.Fprintf(&sb, "    level %s -> %s (%s triggers)\n",
					getNumber(tr, "from"), getNumber(tr, "to"), getNumber(tr, "triggerCount"))
			}
		}
	}
	return sb.String(), nil
}

func formatForecast(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	if suff, ok := m["sufficient"].(bool); ok && !suff {
		return fmt.Sprintf("Not enough data to forecast %s yet (%s sample(s) recorded).",
			getString(m, "entityId"), getNumber(m, "sampleCount")), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Forecast for %s:\n", getString(m, "entityId"))
	fmt.Fprintf(&sb, "  Trend: %s\n", getString(m, "trend"))
	fmt.Fprintf(&sb, "  Predicted risk score (+%s steps): %s\n", getNumber(m, "horizon"), getNumber(m, "predictedValue"))
	fmt.Fprintf(&sb, "  Confidence: %s%%\n", getNumber(m, "confidence"))
	fmt.Fprintf(&sb, "  Samples: %s\n", getNumber(m, "sampleCount"))
	if pts, ok := m["points"].([]any); ok && len(pts) > 0 {
		sb.WriteString("  Projected: ")
		for i, p := range pts {
			pm, ok := p.(map[string]any)
			if !ok {
				continue
			}
			if i > 0 {
				sb.WriteString(" -> ")
			}
			sb.WriteString(getNumber(pm, "value"))
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func formatAssessmentResult(raw json.RawMessage) (string, error) {
	var resp struct {
		Assessment map[string]any `json:"assessment"`
		Signal     map[string]any `json:"signal"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Assessment == nil {
		return "", fmt.Errorf("no assessment in response: %s", string(raw))
	}

	a := resp.Assessment
	var sb strings.Builder
	fmt.Fprintf(&sb, "Assessment for wallet %s:\n", getString(a, "walletId"))
	fmt.Fprintf(&sb, "  Score: %s (%s)\n", getNumber(a, "score"), getString(a, "level"))
	fmt.Fprintf(&sb, "  Category: %s\n", getString(a, "category"))
	fmt.Fprintf(&sb, "  Recommended action: %s\n", getString(a, "recommendation"))
	if esc, ok := a["escalated"].(bool); ok && esc {
		sb.WriteString("  Escalated by elevated sensitivity level\n")
	}
	if resp.Signal != nil {
		fmt.Fprintf(&sb, "\nSignal emitted: %s\n", getString(resp.Signal, "message"))
	}
	return sb.String(), nil
}

// getString extracts the first matching string field.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok {
			return v
		}
	}
	return ""
}

// getNumber renders a numeric field without trailing zeros.
func getNumber(m map[string]any, key string) string {
	v, ok := m[key].(float64)
	if !ok {
		return "0"
	}
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}

// formatJSON pretty-prints raw JSON for tool output.
func formatJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
