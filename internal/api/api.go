// ABOUTME: HTTP API exposing the messaging service as JSON endpoints
// ABOUTME: Routes, auth wiring, error mapping and request metrics live here

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/coven-dm/internal/auth"
	"github.com/2389/coven-dm/internal/conversation"
	"github.com/2389/coven-dm/internal/dedupe"
	"github.com/2389/coven-dm/internal/metrics"
	"github.com/2389/coven-dm/internal/store"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// IdempotencyKeyHeader lets clients retry POST /api/messages without sending twice.
const IdempotencyKeyHeader = "Idempotency-Key"

// Config holds the collaborators of a Handler. Dedupe and Metrics are optional.
type Config struct {
	Service  *conversation.Service
	Users    store.UserStore
	Audit    store.AuditStore
	Verifier *auth.JWTVerifier
	TokenTTL time.Duration
	Dedupe   *dedupe.Cache
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Handler serves the /api routes.
type Handler struct {
	svc      *conversation.Service
	users    store.UserStore
	audit    store.AuditStore
	verifier *auth.JWTVerifier
	tokenTTL time.Duration
	dedupe   *dedupe.Cache
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Handler from cfg.
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Handler{
		svc:      cfg.Service,
		users:    cfg.Users,
		audit:    cfg.Audit,
		verifier: cfg.Verifier,
		tokenTTL: ttl,
		dedupe:   cfg.Dedupe,
		metrics:  cfg.Metrics,
		logger:   logger.With("component", "api"),
	}
}

// Register adds all API routes to mux. Everything except login requires a
// bearer token.
func (h *Handler) Register(mux *http.ServeMux) {
	authed := auth.HTTPAuthMiddleware(h.users, h.verifier, h.logger)

	h.route(mux, "POST /api/auth/login", http.HandlerFunc(h.handleLogin))
	h.route(mux, "POST /api/messages", authed(http.HandlerFunc(h.handleSendMessage)))
	h.route(mux, "GET /api/conversations", authed(http.HandlerFunc(h.handleListConversations)))
	h.route(mux, "GET /api/conversations/unread", authed(http.HandlerFunc(h.handleUnreadInfo)))
	h.route(mux, "GET /api/conversations/{id}", authed(http.HandlerFunc(h.handleGetConversation)))
	h.route(mux, "GET /api/conversations/{id}/messages", authed(http.HandlerFunc(h.handleGetMessages)))
	h.route(mux, "DELETE /api/conversations/{id}", authed(http.HandlerFunc(h.handleDeleteConversation)))
}

// route registers handler under pattern and records request metrics labelled
// with the pattern rather than the raw path.
func (h *Handler) route(mux *http.ServeMux, pattern string, handler http.Handler) {
	if h.metrics == nil {
		mux.Handle(pattern, handler)
		return
	}
	mux.Handle(pattern, instrument(h.metrics, pattern, handler))
}

func instrument(m *metrics.Metrics, pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.RecordRequest(r.Method, pattern, rec.status, time.Since(start))
	})
}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wrote {
		r.status = status
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(b)
}

// writeJSON writes v with the given status.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (h *Handler) sendJSONError(w http.ResponseWriter, status int, kind, message string) {
	h.writeJSON(w, status, ErrorResponse{Error: message, Kind: kind})
}

// sendServiceError maps a service failure to a status code. Internal errors
// are logged and never shown to the client.
func (h *Handler) sendServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := conversation.KindOf(err)
	status := statusForKind(kind)
	if kind == conversation.KindInternal {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		h.sendJSONError(w, status, string(kind), "internal server error")
		return
	}

	msg := err.Error()
	var svcErr *conversation.Error
	if errors.As(err, &svcErr) && svcErr.Message != "" {
		msg = svcErr.Message
	}
	h.sendJSONError(w, status, string(kind), msg)
}

func statusForKind(kind conversation.Kind) int {
	switch kind {
	case conversation.KindNotFound:
		return http.StatusNotFound
	case conversation.KindInvalidArgument:
		return http.StatusBadRequest
	case conversation.KindForbidden:
		return http.StatusForbidden
	case conversation.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// parseSkip reads the optional ?skip=N parameter. Negative values are passed
// through so the service reports them as invalid.
func parseSkip(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("skip")
	if raw == "" {
		return 0, nil
	}
	skip, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("skip must be an integer")
	}
	return skip, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}
