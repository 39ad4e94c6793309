package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/josephwmusso/IntraNest/internal/config"
	"github.com/josephwmusso/IntraNest/internal/core/domain"
	"github.com/josephwmusso/IntraNest/internal/core/ports"
	"github.com/josephwmusso/IntraNest/internal/observability/metrics"
)

const (
	serviceName     = "api"
	maxRequestBytes = 1 << 20
	retryAfterSecs  = 5
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck = func(ctx context.Context) error

type Dependencies struct {
	Ingestor ports.DocumentIngestor
	Lister   ports.DocumentLister
	Searcher ports.ChunkSearcher
	Metrics  *metrics.HTTPServerMetrics
	Health   map[string]HealthCheck
}

type Router struct {
	ingestor ports.DocumentIngestor
	lister   ports.DocumentLister
	searcher ports.ChunkSearcher
	metrics  *metrics.HTTPServerMetrics
	health   map[string]HealthCheck

	rateLimitRPS   int
	rateLimitBurst int
	maxInFlight    int
}

func NewRouter(cfg config.Config, deps Dependencies) *Router {
	return &Router{
		ingestor:       deps.Ingestor,
		lister:         deps.Lister,
		searcher:       deps.Searcher,
		metrics:        deps.Metrics,
		health:         deps.Health,
		rateLimitRPS:   cfg.APIRateLimitRPS,
		rateLimitBurst: cfg.APIRateLimitBurst,
		maxInFlight:    cfg.APIMaxInFlight,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /documents/presigned-url", rt.requestUpload)
	mux.HandleFunc("POST /documents/confirm-upload", rt.confirmUpload)
	mux.HandleFunc("GET /documents/status/{document_id}", rt.getStatus)
	mux.HandleFunc("GET /documents", rt.listDocuments)
	mux.HandleFunc("POST /documents/search", rt.search)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.maxInFlight, 100*time.Millisecond)
	handler = rateLimitMiddleware(handler, rt.rateLimitRPS, rt.rateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(rt.health))
	status := http.StatusOK
	for name, check := range rt.health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": overall, "checks": checks})
}

type presignRequest struct {
	Filename string `json:"filename"`
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	FileSize int64  `json:"file_size"`
}

type presignResponse struct {
	DocumentID string              `json:"document_id"`
	UploadURL  string              `json:"upload_url"`
	ExpiresIn  int                 `json:"expires_in"`
	ObjectKey  string              `json:"object_key"`
	Method     string              `json:"method"`
	Headers    map[string][]string `json:"headers,omitempty"`
}

func (rt *Router) requestUpload(w http.ResponseWriter, r *http.Request) {
	var req presignRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	grant, err := rt.ingestor.RequestUpload(r.Context(), domain.UploadRequest{
		Filename:     req.Filename,
		UserID:       req.UserID,
		TenantID:     req.TenantID,
		DeclaredSize: req.FileSize,
	})
	if err != nil {
		rt.recordIngest("presign", err)
		writeError(w, r, err)
		return
	}
	rt.recordIngest("presign", nil)

	writeJSON(w, http.StatusOK, presignResponse{
		DocumentID: grant.DocumentID,
		UploadURL:  grant.Credential.URL,
		ExpiresIn:  int(grant.ExpiresIn / time.Second),
		ObjectKey:  grant.ObjectKey,
		Method:     grant.Credential.Method,
		Headers:    grant.Credential.Headers,
	})
}

type confirmRequest struct {
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id"`
}

func (rt *Router) confirmUpload(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := rt.ingestor.ConfirmUpload(r.Context(), req.DocumentID, req.UserID)
	if err != nil {
		rt.recordIngest("confirm", err)
		writeError(w, r, err)
		return
	}
	rt.recordIngest("confirm", nil)
	writeJSON(w, http.StatusAccepted, result)
}

func (rt *Router) getStatus(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.ingestor.GetStatus(r.Context(), r.PathValue("document_id"), r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	entries, err := rt.lister.ListDocuments(r.Context(), r.URL.Query().Get("user_id"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": entries, "total": len(entries)})
}

type searchRequest struct {
	Query      string `json:"query"`
	UserID     string `json:"user_id"`
	TenantID   string `json:"tenant_id"`
	DocumentID string `json:"document_id"`
	Limit      int    `json:"limit"`
}

func (rt *Router) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := rt.searcher.Search(r.Context(), req.Query, req.Limit, domain.SearchFilter{
		UserID:     req.UserID,
		TenantID:   req.TenantID,
		DocumentID: req.DocumentID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordSearchResults(serviceName, result.Total)
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) recordIngest(event string, err error) {
	if rt.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = errorKind(err)
	}
	rt.metrics.RecordIngestEvent(serviceName, event, outcome)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	if err := decoder.Decode(out); err != nil {
		message := "invalid json"
		if errors.Is(err, io.EOF) {
			message = "request body is required"
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": message})
		return false
	}
	return true
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.WrapError(domain.ErrInvalidInput, "parse limit", errors.New("limit must be a non-negative integer"))
	}
	return n, nil
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if domain.IsKind(err, domain.ErrOverloaded) {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	}
	if status >= 500 {
		slog.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"kind", errorKind(err),
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{
		"error": publicMessage(err, status),
		"kind":  errorKind(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
