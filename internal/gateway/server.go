// Package gateway provides the live-preview HTTP/WebSocket server: a
// /render endpoint that runs a template body through the scanner and
// jsvm evaluator, and a /ws endpoint that pushes reload notifications
// when a watched file changes (spec.md §6's gateway surface, SPEC_FULL
// §9.7).
package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"pyp/internal/config"
	"pyp/internal/gateway/handlers"
	"pyp/internal/gateway/middleware"
	"pyp/internal/gateway/websocket"
	"pyp/internal/grammar"
	"pyp/internal/jsvm"
	"pyp/internal/scanner"
	"pyp/pkg/logger"
)

// Server is the live-preview gateway: an HTTP API fronted by gorilla/mux
// and a WebSocket hub for push notifications.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	hub        *websocket.Hub
	runtime    *jsvm.Runtime
	config     *config.Config
	rateLimit  *middleware.RateLimiter
	db         *sql.DB
}

// NewServer builds a gateway bound to cfg's host/port, broadcasting
// through hub, and rendering templates with runtime's evaluator
// bindings. hub may be nil, in which case a fresh one is created. db is
// the storage handle used to record grammar-build fingerprints across
// the server's repeated /render grammar rebuilds (spec.md §9.9); it may
// be nil, in which case resolveGrammar falls back to an uncached build.
func NewServer(cfg *config.Config, hub *websocket.Hub, runtime *jsvm.Runtime, db *sql.DB) *Server {
	if hub == nil {
		hub = websocket.NewHub()
	}

	s := &Server{
		router:  mux.NewRouter(),
		hub:     hub,
		runtime: runtime,
		config:  cfg,
		db:      db,
		rateLimit: middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RequestsPerMinute: int(cfg.Gateway.RateLimit.RequestsPerSecond * 60),
			Burst:             cfg.Gateway.RateLimit.Burst,
			Enabled:           cfg.Gateway.RateLimit.Enabled,
			CleanupInterval:   5 * time.Minute,
		}),
	}

	s.routes()

	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	return s
}

func (s *Server) routes() {
	handlers.InitStartTime()

	api := s.router.PathPrefix("/api/v1").Subrouter()
	var statsFn func() handlers.VMPoolStats
	if s.runtime != nil {
		statsFn = func() handlers.VMPoolStats {
			stats := s.runtime.Stats()
			return handlers.VMPoolStats{
				MaxSize: stats.MaxSize,
				Created: stats.Created,
				Active:  stats.Active,
				Pooled:  stats.Pooled,
			}
		}
	}
	api.HandleFunc("/health", handlers.HealthHandler("1", statsFn)).Methods(http.MethodGet)
	api.HandleFunc("/render", s.handleRender).Methods(http.MethodPost)

	s.router.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	s.router.Use(middleware.Recovery)
	s.router.Use(middleware.Logging)
	s.router.Use(middleware.CORS)
	s.router.Use(s.rateLimit.RateLimit)
	s.router.Use(middleware.Version(middleware.DefaultVersionConfig()))
}

// renderRequest is the /render request body: template source plus the
// reader/grammar knobs spec.md §6 exposes on the CLI.
type renderRequest struct {
	Source        string `json:"source"`
	GrammarPath   string `json:"grammar_path,omitempty"`
	Continuations bool   `json:"continuations,omitempty"`
	InlineErrors  bool   `json:"inline_errors,omitempty"`
}

type renderResponse struct {
	Output string `json:"output"`
	Errors string `json:"errors,omitempty"`
}

// handleRender preprocesses a template body and returns its rendered
// output, or a 422 with the scanner's inline error text if the render
// surfaced diagnostics.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeInvalidRequest, err.Error())
		return
	}

	g, err := s.resolveGrammar(req.GrammarPath, req.Continuations)
	if err != nil {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeInvalidRequest, err.Error())
		return
	}

	settings := scanner.DefaultSettings()
	settings.InlineErrors = req.InlineErrors

	ec := &jsvm.ExecContext{Grammar: g, Settings: settings}

	var out, errOut strings.Builder
	sc := scanner.New(strings.NewReader(req.Source), g, settings, &out, &errOut, ec)
	if err := sc.Run(); err != nil {
		handlers.SendError(w, http.StatusUnprocessableEntity, handlers.ErrCodeInvalidRequest, err.Error())
		return
	}

	resp := renderResponse{Output: out.String(), Errors: errOut.String()}
	status := http.StatusOK
	if errOut.Len() > 0 && !req.InlineErrors {
		status = http.StatusUnprocessableEntity
	}
	handlers.SendJSON(w, status, resp)
}

func (s *Server) resolveGrammar(path string, continuations bool) (*grammar.Grammar, error) {
	hooks := grammar.Hooks{Block: s.runtime.TransformBlock, Expr: s.runtime.TransformExpr}

	if path == "" {
		root := grammar.Default(hooks, continuations)
		return grammar.BuildCached(s.db, root, continuations)
	}

	spec, err := grammar.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load grammar: %w", err)
	}
	regionHooks := grammar.RegionHooks{}
	for _, region := range spec.Regions {
		regionHooks[region.Name] = s.runtime.TransformBlock
	}
	root, err := spec.Build(regionHooks, nil)
	if err != nil {
		return nil, fmt.Errorf("build grammar: %w", err)
	}
	return grammar.BuildCached(s.db, root, spec.Continuations)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(s.hub, w, r)
}

// Router returns the gateway's router, for tests that want to drive
// requests directly with httptest.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Hub returns the gateway's WebSocket hub.
func (s *Server) Hub() *websocket.Hub {
	return s.hub
}

// Start runs the hub loop and the HTTP server, blocking until the
// server stops.
func (s *Server) Start() error {
	go s.hub.Run()

	logger.Info().Str("addr", s.httpServer.Addr).Msg("gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func decodeJSON(body io.Reader, v any) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("empty request body")
	}
	return json.Unmarshal(data, v)
}
