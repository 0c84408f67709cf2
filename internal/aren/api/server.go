// Package api exposes the assistant over HTTP: POST /listen runs a turn,
// GET /status and /health report liveness, and
// GET /sessions/{id}/history returns recorded turns.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aren-assistant/aren/common/version"
	"github.com/aren-assistant/aren/internal/aren/dispatch"
	"github.com/aren-assistant/aren/internal/aren/memory"
)

const (
	// DefaultUserID is used when a /listen request names no user.
	DefaultUserID = "default_user"
	// sessionScope prefixes HTTP session IDs.
	sessionScope = "http"
	// maxBodyBytes caps a /listen request body.
	maxBodyBytes = 64 << 10
	// defaultHistoryLimit applies when ?limit is absent.
	defaultHistoryLimit = 50
)

// TurnRunner runs one utterance. *dispatch.Dispatcher implements it.
type TurnRunner interface {
	Run(ctx context.Context, sessionID, text string) (dispatch.Turn, error)
}

// SessionSource reports live sessions. *memory.Tracker implements it.
type SessionSource interface {
	Len() int
	Peek(ctx context.Context, sessionID string) (memory.Snapshot, bool, error)
}

// HistoryReader reads persisted turns. *store.Store implements it.
type HistoryReader interface {
	History(ctx context.Context, sessionID string, limit int) ([]memory.TurnRecord, error)
}

// Server is the HTTP front end. It is optional; the assistant runs without
// it when no address is configured.
type Server struct {
	addr      string
	turns     TurnRunner
	sessions  SessionSource
	history   HistoryReader
	startedAt time.Time
	logger    *slog.Logger
	server    *http.Server
	mux       *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithHistory serves /sessions/{id}/history from persisted turns instead of
// the live session window.
func WithHistory(h HistoryReader) Option {
	return func(s *Server) { s.history = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates and configures the server without starting it.
func New(addr string, turns TurnRunner, sessions SessionSource, opts ...Option) *Server {
	s := &Server{
		addr:      addr,
		turns:     turns,
		sessions:  sessions,
		startedAt: time.Now(),
		logger:    slog.Default(),
		mux:       http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("POST /listen", s.handleListen)
	s.mux.HandleFunc("GET /sessions/{id}/history", s.handleHistory)
	return s
}

// ServeHTTP lets tests drive the server without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.mux.ServeHTTP(w, r)
}

// Start listens in the background and returns once the port is open. The
// server shuts down when ctx ends.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.addr, err)
	}

	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logger.Info("api: listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api: server stopped", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("api: shutdown error", "err", err)
	}
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "AREN is running now.")
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

type statusResponse struct {
	Status     string            `json:"status"`
	Message    string            `json:"message"`
	Build      map[string]string `json:"build"`
	StartedAt  time.Time         `json:"started_at"`
	UptimeSecs float64           `json:"uptime_seconds"`
	Sessions   int               `json:"sessions"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:     "ok",
		Message:    "AREN API is operational",
		Build:      version.Fields(),
		StartedAt:  s.startedAt,
		UptimeSecs: time.Since(s.startedAt).Seconds(),
		Sessions:   s.sessions.Len(),
	})
}

type listenRequest struct {
	Text   *string `json:"text"`
	UserID string  `json:"userId"`
}

type listenResponse struct {
	Status     string         `json:"status"`
	Reply      string         `json:"reply"`
	UserID     string         `json:"userId"`
	SessionID  string         `json:"sessionId"`
	Turn       int            `json:"turn"`
	Lang       string         `json:"lang"`
	Skill      string         `json:"skill"`
	Outcome    memory.Outcome `json:"outcome"`
	Confidence float64        `json:"confidence"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	var req listenRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Text == nil {
		writeError(w, http.StatusBadRequest, "Missing 'text' in request")
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = DefaultUserID
	}
	sessionID := memory.SessionKey(sessionScope, userID)

	turn, err := s.turns.Run(r.Context(), sessionID, *req.Text)
	if err != nil {
		s.logger.Warn("api: turn failed", "session", sessionID, "err", err)
		writeError(w, http.StatusServiceUnavailable, "session busy, try again")
		return
	}

	rec := turn.Record
	writeJSON(w, http.StatusOK, listenResponse{
		Status:     "success",
		Reply:      rec.Reply,
		UserID:     userID,
		SessionID:  sessionID,
		Turn:       rec.Index,
		Lang:       string(rec.Lang),
		Skill:      rec.Skill,
		Outcome:    rec.Outcome,
		Confidence: rec.Confidence,
	})
}

type historyResponse struct {
	SessionID string              `json:"sessionId"`
	Turns     []memory.TurnRecord `json:"turns"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	turns, found, err := s.readHistory(r.Context(), sessionID, limit)
	if err != nil {
		s.logger.Error("api: history read failed", "session", sessionID, "err", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{SessionID: sessionID, Turns: turns})
}

func (s *Server) readHistory(ctx context.Context, sessionID string, limit int) ([]memory.TurnRecord, bool, error) {
	if s.history != nil {
		turns, err := s.history.History(ctx, sessionID, limit)
		if err != nil {
			return nil, false, err
		}
		if len(turns) > 0 {
			return turns, true, nil
		}
	}

	snap, ok, err := s.sessions.Peek(ctx, sessionID)
	if err != nil || !ok {
		return nil, false, err
	}
	turns := snap.Turns
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, true, nil
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Status: "error", Message: msg})
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: failed to encode JSON response", "err", err)
	}
}
