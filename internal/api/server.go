// Package api exposes the engine over a JSON HTTP API. The caller identity
// arrives in the X-User-ID header, set by the gateway in front of this
// service; everything else about a request is per-call input to the engine.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helixapp/docengine/internal/engine"
	"github.com/helixapp/docengine/internal/extract"
	"github.com/helixapp/docengine/internal/provider"
)

// ServerConfig configures the API server.
type ServerConfig struct {
	Logger      *slog.Logger
	Engine      *engine.Engine // Required
	Pool        *pgxpool.Pool  // Optional: nil disables the database probe in /ready
	CORSOrigins []string
	TrustProxy  bool // Trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst   int  // Per-IP burst size (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer builds the route table and middleware stack.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &handlers{engine: cfg.Engine, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/ingest", h.ingest)
	mux.HandleFunc("POST /api/v1/ingest/workspace", h.ingestWorkspace)
	mux.HandleFunc("GET /api/v1/status", h.documentStatuses)
	mux.HandleFunc("DELETE /api/v1/documents/{id}/embeddings", h.deleteEmbeddings)
	mux.HandleFunc("POST /api/v1/chat", h.chat)
	mux.HandleFunc("POST /api/v1/search", h.search)
	mux.HandleFunc("GET /api/v1/conversations", h.listConversations)
	mux.HandleFunc("GET /api/v1/conversations/{id}", h.getConversation)
	mux.HandleFunc("DELETE /api/v1/conversations/{id}", h.deleteConversation)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Outermost first: Recovery -> RequestID -> Logging -> CORS -> RateLimit -> Auth -> Routes.
	// CORS sits before RateLimit so preflights get their headers either way.
	var handler http.Handler = mux
	handler = authMiddleware(logger)(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// writeEngineError maps engine sentinels onto HTTP statuses. Everything the
// caller cannot reach comes back as a plain 404 with no hint of existence.
func writeEngineError(w http.ResponseWriter, err error, logger *slog.Logger) {
	switch {
	case errors.Is(err, engine.ErrUnauthenticated):
		WriteError(w, http.StatusUnauthorized, "unauthenticated", "caller identity required", logger)
	case errors.Is(err, engine.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "not found", logger)
	case errors.Is(err, engine.ErrInvalidInput):
		WriteError(w, http.StatusBadRequest, "invalid_input", err.Error(), logger)
	case errors.Is(err, engine.ErrNotIngestable):
		WriteError(w, http.StatusUnprocessableEntity, "not_ingestable", err.Error(), logger)
	case errors.Is(err, extract.ErrParse):
		WriteError(w, http.StatusUnprocessableEntity, "parse_error", "document could not be parsed", logger)
	case errors.Is(err, extract.ErrFetch):
		WriteError(w, http.StatusBadGateway, "fetch_error", "document could not be fetched", logger)
	case errors.Is(err, provider.ErrProvider):
		logger.Error("model provider failed", "error", err)
		WriteError(w, http.StatusBadGateway, "provider_error", "model provider unavailable", logger)
	default:
		logger.Error("engine operation failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error", logger)
	}
}
