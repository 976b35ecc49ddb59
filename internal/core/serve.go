package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"evald/internal/capability"
	"evald/internal/history"
	"evald/internal/metrics"
	"evald/internal/oneshot"
	"evald/internal/transport"
	"evald/util"
)

// ServeMode is the evald server: WebSocket sessions at /ws plus a small
// JSON API.
type ServeMode struct {
	Address    string
	Path       string // WebSocket route, "/ws" when empty
	Capability capability.Capability
	OneShot    *oneshot.Runner // nil disables POST /run
	History    *history.Store  // nil disables the history routes
	Metrics    *metrics.Collector
	Logger     *util.Logger

	ReadLimit   int64         // largest inbound frame or /run body
	GracePeriod time.Duration // how long shutdown waits for sessions

	// Ready, when set, is called with the bound address once the
	// listener is up.
	Ready func(net.Addr)

	sessions sync.WaitGroup
}

type runRequest struct {
	Code string `json:"code"`
}

type runResponse struct {
	Output string `json:"output"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Run listens on Address until ctx is cancelled.  Open sessions are
// told to close and given GracePeriod to finish.
func (m *ServeMode) Run(ctx context.Context) error {
	if m.History != nil {
		defer m.History.Close()
	}

	ln, err := net.Listen("tcp", m.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", m.Address, err)
	}
	m.Logger.Info("evald listening on %s", ln.Addr())
	if m.Ready != nil {
		m.Ready(ln.Addr())
	}

	srv := &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	grace := m.GracePeriod
	if grace <= 0 {
		grace = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		m.Logger.Warn("shutdown: %v", err)
	}

	// Hijacked WebSocket connections are not tracked by Shutdown.
	done := make(chan struct{})
	go func() {
		m.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		m.Logger.Warn("sessions still open after %v", grace)
	}

	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the router.
func (m *ServeMode) Handler() http.Handler {
	path := m.Path
	if path == "" {
		path = "/ws"
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLog(m.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "evald is running"})
	})
	r.Get(path, m.handleSession)
	r.Post("/run", m.handleRun)
	r.Get("/metrics", m.handleMetrics)
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", m.handleSessions)
		r.Get("/{id}/history", m.handleHistory)
	})
	return r
}

// ── handlers ─────────────────────────────────────────────────────────

func (m *ServeMode) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.Upgrade(w, r, m.ReadLimit)
	if err != nil {
		m.Logger.Debug("%v", err)
		return
	}
	m.sessions.Add(1)
	defer m.sessions.Done()
	defer conn.Close()

	m.Logger.Verbose("session from %s", conn.RemoteAddr())
	if err := m.Capability.Handle(r.Context(), conn); err != nil {
		m.Metrics.RecordError(err.Error())
	}
}

func (m *ServeMode) handleRun(w http.ResponseWriter, r *http.Request) {
	if m.OneShot == nil {
		writeError(w, http.StatusServiceUnavailable, "one-shot runner is disabled")
		return
	}
	if m.ReadLimit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, m.ReadLimit)
	}
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runResponse{Output: m.OneShot.Run(r.Context(), req.Code)})
}

func (m *ServeMode) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, m.Metrics.Snapshot())
}

func (m *ServeMode) handleSessions(w http.ResponseWriter, r *http.Request) {
	if m.History == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	ids, err := m.History.Sessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

func (m *ServeMode) handleHistory(w http.ResponseWriter, r *http.Request) {
	if m.History == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := m.History.List(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(entries) == 0 {
		writeError(w, http.StatusNotFound, "no history for session")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ── helpers ──────────────────────────────────────────────────────────

// requestLog writes one verbose line per request.
func requestLog(log *util.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Verbose("%s %s %d %v [%s]", r.Method, r.URL.Path, ww.Status(),
				time.Since(start).Round(time.Microsecond), middleware.GetReqID(r.Context()))
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
