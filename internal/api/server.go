// Package api implements the management API: a small, framework-agnostic
// net/http control surface for operating a running core process —
// kill-switch trigger/reset, policy reload, and checkpoint trigger —
// protected by auth's bearer-token RBAC. It intentionally does not carry
// the teacher's dashboard, trace browsing, or WebSocket push hub; those
// are outside this core's scope.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/agentwarden/agentcore/internal/a2a"
	"github.com/agentwarden/agentcore/internal/auth"
	"github.com/agentwarden/agentcore/internal/checkpoint"
	"github.com/agentwarden/agentcore/internal/config"
	"github.com/agentwarden/agentcore/internal/eventstore"
	"github.com/agentwarden/agentcore/internal/killswitch"
	"github.com/agentwarden/agentcore/internal/token"
)

// ReloadFunc is invoked after the on-disk config is successfully
// re-loaded, so the caller can rebuild anything derived from it (policy
// engines, custom checks, alert senders). Returning an error fails the
// reload request but leaves the previously loaded config in place.
type ReloadFunc func(cfg *config.Config) error

// Server is the management API server.
type Server struct {
	serverCfg    config.ServerConfig
	cfgLoader    *config.Loader
	reload       ReloadFunc
	kill         *killswitch.Switch
	checkpoints  *checkpoint.Runner
	tokenManager *auth.TokenManager
	events       eventstore.Store
	evaluator    *eventstore.Evaluator
	handshake    *a2a.Handshake
	mux          *http.ServeMux
	httpServer   *http.Server
	logger       *slog.Logger
}

// NewServer constructs a management API Server. tokenManager may be nil,
// in which case every endpoint is served unauthenticated — callers should
// only do this in development. events may be nil, in which case the
// event-ingestion endpoint reports unavailable; evaluator may be nil, in
// which case events are stored without bundle evaluation. handshake may be nil,
// in which case no inbound A2A gating is applied to any route.
func NewServer(
	serverCfg config.ServerConfig,
	cfgLoader *config.Loader,
	reload ReloadFunc,
	kill *killswitch.Switch,
	checkpoints *checkpoint.Runner,
	tokenManager *auth.TokenManager,
	events eventstore.Store,
	evaluator *eventstore.Evaluator,
	handshake *a2a.Handshake,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		serverCfg:    serverCfg,
		cfgLoader:    cfgLoader,
		reload:       reload,
		kill:         kill,
		checkpoints:  checkpoints,
		tokenManager: tokenManager,
		events:       events,
		evaluator:    evaluator,
		handshake:    handshake,
		mux:          http.NewServeMux(),
		logger:       logger.With("component", "api.Server"),
	}
	s.registerRoutes()
	return s
}

// callerClaimsKey is the context key a successful A2A handshake stores the
// caller's governance token claims under.
type callerClaimsKey struct{}

// ClaimsFromContext returns the caller's governance token claims admitted
// by the A2A handshake middleware, if any.
func ClaimsFromContext(ctx context.Context) (*token.AigosClaims, bool) {
	claims, ok := ctx.Value(callerClaimsKey{}).(*token.AigosClaims)
	return claims, ok
}

// a2aMiddleware runs the inbound half of the A2A handshake (spec.md's
// Caller → Token Generator → HTTP header → Callee Token Validator →
// Inbound Policy → Handshake Response flow) ahead of every route. If no
// Handshake is configured, requests pass through ungated.
func (s *Server) a2aMiddleware(next http.Handler) http.Handler {
	if s.handshake == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := s.handshake.HandleInbound(r.Header.Get(a2a.HeaderToken), r.URL.Path, time.Now().UTC())

		if result.Error != nil {
			writeError(w, http.StatusUnauthorized, "a2a handshake failed: "+result.Error.Error())
			return
		}
		if result.Violation != nil {
			writeErrorJSON(w, http.StatusForbidden, result.Violation)
			return
		}

		w.Header().Set(a2a.HeaderProtocolVersion, a2a.ProtocolVersion)
		if reqID := r.Header.Get(a2a.HeaderRequestID); reqID != "" {
			w.Header().Set(a2a.HeaderRequestID, reqID)
		}
		if result.Claims != nil {
			r = r.WithContext(context.WithValue(r.Context(), callerClaimsKey{}, result.Claims))
		}
		next.ServeHTTP(w, r)
	})
}

// authRequired wraps a handler with bearer-token authentication and RBAC.
// If no token manager is configured, the handler runs unwrapped.
func (s *Server) authRequired(action string, next http.HandlerFunc) http.HandlerFunc {
	if s.tokenManager == nil {
		return next
	}

	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing or malformed Authorization header")
			return
		}
		secret := strings.TrimPrefix(header, "Bearer ")

		token, err := s.tokenManager.ValidateToken(secret, r.RemoteAddr)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		if !auth.HasPermission(token.Role, action) {
			writeError(w, http.StatusForbidden, "insufficient permissions")
			return
		}

		next(w, r)
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	s.mux.HandleFunc("GET /api/killswitch", s.authRequired("killswitch.read", s.handleKillSwitchStatus))
	s.mux.HandleFunc("POST /api/killswitch/trigger", s.authRequired("killswitch.trigger", s.handleKillSwitchTrigger))
	s.mux.HandleFunc("POST /api/killswitch/reset", s.authRequired("killswitch.trigger", s.handleKillSwitchReset))

	s.mux.HandleFunc("POST /api/policy/reload", s.authRequired("config.change", s.handlePolicyReload))

	s.mux.HandleFunc("POST /api/checkpoint/trigger", s.authRequired("checkpoint.trigger", s.handleCheckpointTrigger))

	s.mux.HandleFunc("POST /api/events", s.authRequired("events.append", s.handleEventAppend))
}

// Handler returns the server's HTTP handler: the A2A inbound gate wrapping
// the route mux, with CORS applied outermost if configured.
func (s *Server) Handler() http.Handler {
	h := s.a2aMiddleware(s.mux)
	if s.serverCfg.CORS {
		return corsMiddleware(h)
	}
	return h
}

// Start listens and serves on addr until it errors or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info("management API listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Mux returns the underlying ServeMux for mounting additional routes.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
