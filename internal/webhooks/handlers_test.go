package webhooks

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newTestRouter(store Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(store)
	h.validateURL = noopValidator
	r := gin.New()
	v1 := r.Group("/v1")
	h.RegisterRoutes(v1)
	return r
}

func TestCreateWebhookHandler(t *testing.T) {
	store := NewMemoryStore()
	router := newTestRouter(store)

	body := `{"url":"https://example.com/hook","events":["signal.emitted"]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/webhooks", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp["secret"] == nil || resp["secret"] == "" {
		t.Error("expected one-time secret in creation response")
	}
}

func TestCreateWebhookRejectsUnknownEvent(t *testing.T) {
	router := newTestRouter(NewMemoryStore())

	body := `{"url":"https://example.com/hook","events":["agent.paid"]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/webhooks", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateWebhookRejectsUnsafeURL(t *testing.T) {
	store := NewMemoryStore()
	gin.SetMode(gin.TestMode)
	h := NewHandler(store) // real validator
	r := gin.New()
	h.RegisterRoutes(r.Group("/v1"))

	body := `{"url":"http://169.254.169.254/hook","events":["signal.emitted"]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/webhooks", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
}

func TestListWebhooksHidesSecrets(t *testing.T) {
	store := NewMemoryStore()
	router := newTestRouter(store)

	body := `{"url":"https://example.com/hook","events":["sensitivity.changed"]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/webhooks", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/webhooks", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", w.Code)
	}
	if strings.Contains(w.Body.String(), "secret") {
		t.Error("listing must not expose webhook secrets")
	}
}

func TestDeleteWebhookHandler(t *testing.T) {
	store := NewMemoryStore()
	router := newTestRouter(store)

	body := `{"url":"https://example.com/hook","events":["signal.emitted"]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/webhooks", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	var resp struct {
		Webhook struct {
			ID string `json:"id"`
		} `json:"webhook"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse creation response: %v", err)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("DELETE", "/v1/webhooks/"+resp.Webhook.ID, nil))
	if w.Code != http.StatusOK {
		t.Errorf("delete status = %d, want 200", w.Code)
	}
}
