package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/llm-optimizer/internal/auth"
	"github.com/vnmchuo/llm-optimizer/internal/cost"
	"github.com/vnmchuo/llm-optimizer/internal/optimizer"
	"github.com/vnmchuo/llm-optimizer/internal/query"
	"github.com/vnmchuo/llm-optimizer/pkg/ratelimit"
)

// History reads the recorded cost sequence; satisfied by both the
// in-memory tracker and the Postgres store.
type History interface {
	Records(ctx context.Context, from, to time.Time) ([]*cost.Record, error)
}

type Handler struct {
	opt     *optimizer.Optimizer
	history History
	limiter *ratelimit.Limiter
	tracer  trace.Tracer
}

func NewHandler(opt *optimizer.Optimizer, history History, limiter *ratelimit.Limiter, tracer trace.Tracer) *Handler {
	return &Handler{
		opt:     opt,
		history: history,
		limiter: limiter,
		tracer:  tracer,
	}
}

type answerRequest struct {
	Query   string            `json:"query"`
	Context map[string]string `json:"context,omitempty"`
}

func (h *Handler) HandleAnswer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	ctx, span := h.tracer.Start(ctx, "server.answer")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("request_id", auth.GetRequestID(ctx)),
	)

	// Charge a rough token estimate against the tenant budget; the
	// real usage is only known after the call.
	estimated := len(req.Query)/4 + 1
	allowed, err := h.limiter.Allow(ctx, tenantID, estimated)
	if err != nil || !allowed {
		w.Header().Set("Retry-After", "60s")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":       "rate limit exceeded",
			"retry_after": "60s",
		})
		return
	}

	q := query.Query{Text: req.Query, Context: req.Context}
	result, err := h.opt.Answer(ctx, q)
	if err != nil {
		var optErr *optimizer.Error
		if errors.As(err, &optErr) {
			status := http.StatusBadGateway
			if optErr.Kind == optimizer.KindInferenceTransient {
				status = http.StatusServiceUnavailable
			}
			writeJSON(w, status, optErr)
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleStats serves the aggregate observability surface: cost summary
// plus cache performance.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if auth.GetTenantID(r.Context()) == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cost":  h.opt.CostSummary(),
		"cache": h.opt.CacheStats(),
	})
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if auth.GetTenantID(ctx) == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	now := time.Now()
	from := now.AddDate(0, 0, -30) // Default: last 30 days
	to := now

	if s := r.URL.Query().Get("from"); s != "" {
		var err error
		from, err = time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid 'from' date format (use RFC3339)"})
			return
		}
	}
	if s := r.URL.Query().Get("to"); s != "" {
		var err error
		to, err = time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid 'to' date format (use RFC3339)"})
			return
		}
	}

	records, err := h.history.Records(ctx, from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	var total float64
	for _, rec := range records {
		total += rec.CostUSD
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_requests": len(records),
		"total_cost_usd": total,
		"records":        records,
		"from":           from,
		"to":             to,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
