package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	extratelimit "github.com/vnmchuo/ratelimiter"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/llm-optimizer/internal/auth"
	"github.com/vnmchuo/llm-optimizer/internal/cache"
	"github.com/vnmchuo/llm-optimizer/internal/cost"
	"github.com/vnmchuo/llm-optimizer/internal/inference"
	"github.com/vnmchuo/llm-optimizer/internal/optimizer"
	"github.com/vnmchuo/llm-optimizer/internal/routing"
	"github.com/vnmchuo/llm-optimizer/internal/scoring"
	"github.com/vnmchuo/llm-optimizer/internal/tier"
	"github.com/vnmchuo/llm-optimizer/pkg/ratelimit"
)

// Mock inference client
type mockClient struct {
	invokeFunc func(ctx context.Context, req *inference.Request) (*inference.Response, error)
}

func (m *mockClient) Invoke(ctx context.Context, req *inference.Request) (*inference.Response, error) {
	if m.invokeFunc != nil {
		return m.invokeFunc(ctx, req)
	}
	return &inference.Response{
		Text:         "mock answer",
		InputTokens:  100,
		OutputTokens: 50,
		Model:        req.Tier.Model,
	}, nil
}

// Mock Limiter Store
type mockLimiterStore struct {
	allowed bool
	err     error
}

func (m *mockLimiterStore) AllowN(ctx context.Context, key string, n int) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Allow(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Status(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

// Test Suite
func setupTest(t *testing.T, client inference.Client, limiterAllowed bool) (*Handler, *cost.Tracker) {
	t.Helper()
	table := tier.Default()

	scorer := scoring.New(scoring.DefaultConfig())
	policy, err := routing.NewPolicy(table, routing.DefaultConfig(), scorer)
	if err != nil {
		t.Fatalf("NewPolicy failed: %v", err)
	}

	exact := cache.NewExactStore(nil, time.Second, time.Second)
	smartCache := cache.NewSmartCache(exact, cache.NewSimilarityIndex(nil, 10), time.Hour, 0.85)
	tracker := cost.NewTracker(table)

	cfg := optimizer.Config{MaxAttempts: 2, RetryInitialInterval: time.Millisecond, MaxTokens: 256}
	tracer := noop.NewTracerProvider().Tracer("test")

	opt, err := optimizer.New(smartCache, policy, client, tracker, table, cfg, tracer)
	if err != nil {
		t.Fatalf("optimizer.New failed: %v", err)
	}

	limiter := ratelimit.NewTestLimiter(&mockLimiterStore{allowed: limiterAllowed})
	return NewHandler(opt, tracker, limiter, tracer), tracker
}

func authedRequest(method, target string, body *bytes.Buffer) *http.Request {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	ctx := auth.WithTenantID(req.Context(), "tenant-1")
	ctx = auth.WithRequestID(ctx, "req-1")
	return req.WithContext(ctx)
}

func answerBody(t *testing.T, query string) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return bytes.NewBuffer(body)
}

func TestHandleAnswer_Unauthorized(t *testing.T) {
	h, _ := setupTest(t, &mockClient{}, true)

	req := httptest.NewRequest("POST", "/v1/answer", answerBody(t, "hello"))
	w := httptest.NewRecorder()
	h.HandleAnswer(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestHandleAnswer_InvalidBody(t *testing.T) {
	h, _ := setupTest(t, &mockClient{}, true)

	req := authedRequest("POST", "/v1/answer", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	h.HandleAnswer(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestHandleAnswer_RateLimited(t *testing.T) {
	h, _ := setupTest(t, &mockClient{}, false)

	req := authedRequest("POST", "/v1/answer", answerBody(t, "What is 2+2?"))
	w := httptest.NewRecorder()
	h.HandleAnswer(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}
}

func TestHandleAnswer_Success(t *testing.T) {
	h, _ := setupTest(t, &mockClient{}, true)

	req := authedRequest("POST", "/v1/answer", answerBody(t, "What is 2+2?"))
	w := httptest.NewRecorder()
	h.HandleAnswer(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var result optimizer.Result
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if result.Response != "mock answer" {
		t.Errorf("Expected 'mock answer', got %q", result.Response)
	}
	if result.Meta.CacheStatus != cost.StatusMiss {
		t.Errorf("Expected first call to miss, got %s", result.Meta.CacheStatus)
	}
	if result.Meta.Tier == "" {
		t.Error("Expected a routed tier in metadata")
	}
}

func TestHandleAnswer_RepeatServedFromCache(t *testing.T) {
	h, _ := setupTest(t, &mockClient{}, true)

	for i, want := range []cost.Status{cost.StatusMiss, cost.StatusHit} {
		req := authedRequest("POST", "/v1/answer", answerBody(t, "What is 2+2?"))
		w := httptest.NewRecorder()
		h.HandleAnswer(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Call %d: expected 200, got %d", i, w.Code)
		}
		var result optimizer.Result
		if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
			t.Fatalf("Call %d: decode failed: %v", i, err)
		}
		if result.Meta.CacheStatus != want {
			t.Errorf("Call %d: expected %s, got %s", i, want, result.Meta.CacheStatus)
		}
	}
}

func TestHandleAnswer_InferenceFailure(t *testing.T) {
	client := &mockClient{
		invokeFunc: func(ctx context.Context, req *inference.Request) (*inference.Response, error) {
			return nil, inference.ErrService
		},
	}
	h, _ := setupTest(t, client, true)

	req := authedRequest("POST", "/v1/answer", answerBody(t, "What is 2+2?"))
	w := httptest.NewRecorder()
	h.HandleAnswer(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected 502 for fatal inference error, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error body: %v", err)
	}
	if resp["kind"] != string(optimizer.KindInferenceFatal) {
		t.Errorf("Expected kind %s, got %v", optimizer.KindInferenceFatal, resp["kind"])
	}
}

func TestHandleAnswer_TransientFailure(t *testing.T) {
	client := &mockClient{
		invokeFunc: func(ctx context.Context, req *inference.Request) (*inference.Response, error) {
			return nil, inference.ErrTimeout
		},
	}
	h, _ := setupTest(t, client, true)

	req := authedRequest("POST", "/v1/answer", answerBody(t, "What is 2+2?"))
	w := httptest.NewRecorder()
	h.HandleAnswer(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 for transient inference error, got %d", w.Code)
	}
}

func TestHandleStats(t *testing.T) {
	h, _ := setupTest(t, &mockClient{}, true)

	// Seed one request so the summary has content.
	req := authedRequest("POST", "/v1/answer", answerBody(t, "What is 2+2?"))
	h.HandleAnswer(httptest.NewRecorder(), req)

	w := httptest.NewRecorder()
	h.HandleStats(w, authedRequest("GET", "/v1/stats", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp struct {
		Cost  cost.Summary `json:"cost"`
		Cache cache.Stats  `json:"cache"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Cost.TotalRequests != 1 {
		t.Errorf("Expected 1 tracked request, got %d", resp.Cost.TotalRequests)
	}
	if resp.Cache.Backend != "memory" {
		t.Errorf("Expected memory backend, got %s", resp.Cache.Backend)
	}
}

func TestHandleStats_Unauthorized(t *testing.T) {
	h, _ := setupTest(t, &mockClient{}, true)

	w := httptest.NewRecorder()
	h.HandleStats(w, httptest.NewRequest("GET", "/v1/stats", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestHandleUsage_Unauthorized(t *testing.T) {
	h, _ := setupTest(t, &mockClient{}, true)

	w := httptest.NewRecorder()
	h.HandleUsage(w, httptest.NewRequest("GET", "/v1/usage", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestHandleUsage_InvalidDate(t *testing.T) {
	h, _ := setupTest(t, &mockClient{}, true)

	w := httptest.NewRecorder()
	h.HandleUsage(w, authedRequest("GET", "/v1/usage?from=yesterday", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestHandleUsage(t *testing.T) {
	h, _ := setupTest(t, &mockClient{}, true)

	req := authedRequest("POST", "/v1/answer", answerBody(t, "What is 2+2?"))
	h.HandleAnswer(httptest.NewRecorder(), req)

	w := httptest.NewRecorder()
	h.HandleUsage(w, authedRequest("GET", "/v1/usage", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp struct {
		TotalRequests int            `json:"total_requests"`
		TotalCostUSD  float64        `json:"total_cost_usd"`
		Records       []*cost.Record `json:"records"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.TotalRequests != 1 {
		t.Errorf("Expected 1 record, got %d", resp.TotalRequests)
	}
	if resp.TotalCostUSD <= 0 {
		t.Errorf("Expected positive total cost, got %f", resp.TotalCostUSD)
	}
}
