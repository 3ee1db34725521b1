package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the Aegis API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
}

// AegisClient is a pure HTTP client for the Aegis monitoring API.
type AegisClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewAegisClient creates a new client for the monitoring API.
func NewAegisClient(cfg Config) *AegisClient {
	return &AegisClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *AegisClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// WalletInsights returns the behavioral profile for one wallet.
func (c *AegisClient) WalletInsights(ctx context.Context, walletID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/wallets/"+url.PathEscape(walletID), nil, nil)
}

// NetworkGraph returns the top wallets and their interaction edges.
func (c *AegisClient) NetworkGraph(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/graph", q, nil)
}

// RecentSignals returns the most recent risk signals.
func (c *AegisClient) RecentSignals(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/signals", q, nil)
}

// SensitivityStatus returns the current alert-level state.
func (c *AegisClient) SensitivityStatus(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/sensitivity", nil, nil)
}

// Forecast returns the risk trend forecast for an entity.
func (c *AegisClient) Forecast(ctx context.Context, entityID string, horizon int) (json.RawMessage, error) {
	q := url.Values{}
	if horizon > 0 {
		q.Set("horizon", strconv.Itoa(horizon))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/forecast/"+url.PathEscape(entityID), q, nil)
}

// PipelineStatus returns the overall pipeline state.
func (c *AegisClient) PipelineStatus(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/status", nil, nil)
}

// SubmitTransaction feeds one transaction through the pipeline.
func (c *AegisClient) SubmitTransaction(ctx context.Context, sourceID, destID string, amount float64, txType string) (json.RawMessage, error) {
	body := map[string]any{
		"sourceId": sourceID,
		"destId":   destID,
		"amount":   amount,
	}
	if txType != "" {
		body["type"] = txType
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/transactions", nil, body)
}
