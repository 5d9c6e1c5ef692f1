// Package server exposes map sessions over HTTP. REST endpoints drive a
// session; a websocket per session streams map commands to the browser and
// carries clicks, errors and screenshot frames back.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/earthcopilot/mapview/internal/catalog"
	"github.com/earthcopilot/mapview/internal/comparison"
	"github.com/earthcopilot/mapview/internal/mapprovider"
	"github.com/earthcopilot/mapview/internal/model"
	"github.com/earthcopilot/mapview/internal/pin"
	"github.com/earthcopilot/mapview/internal/reconcile"
	"github.com/earthcopilot/mapview/internal/session"
	"github.com/earthcopilot/mapview/internal/store"
)

const maxBody = 8 << 20

// Deps are the services the server routes to. Datasets, Cache and History
// may be nil; their endpoints then report the feature as unavailable.
type Deps struct {
	Sessions session.Deps
	Datasets catalog.Source
	Cache    *reconcile.DescriptorCache
	History  store.Store
}

// Options configures the server.
type Options struct {
	AllowedOrigins []string
	// Backlog is how many commands a session queues while no client is
	// connected.
	Backlog int
}

// Server routes HTTP and websocket traffic to sessions.
type Server struct {
	deps     Deps
	opts     Options
	mgr      *session.Manager
	upgrader websocket.Upgrader

	ctx  context.Context
	stop context.CancelFunc

	mu   sync.Mutex
	hubs map[string]*Hub
}

// New creates a Server and its session manager.
func New(deps Deps, sessionOpts session.Options, opts Options) *Server {
	s := &Server{
		deps: deps,
		opts: opts,
		hubs: make(map[string]*Hub),
	}
	s.ctx, s.stop = context.WithCancel(context.Background())
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.mgr = session.NewManager(deps.Sessions, sessionOpts, s.newHub)
	s.mgr.OnExpire = s.dropHub
	return s
}

// Manager returns the session manager.
func (s *Server) Manager() *session.Manager { return s.mgr }

// Close ends every session and disconnects every client.
func (s *Server) Close() {
	s.stop()
	s.mgr.CloseAll()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, h := range s.hubs {
		h.Close()
		delete(s.hubs, id)
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/datasets", s.handleDatasets)
		r.Get("/analyses", s.handleAnalyses)
		r.Get("/tilecache/stats", s.handleCacheStats)

		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.withSession(s.handleSnapshot))
			r.Delete("/", s.handleDeleteSession)
			r.Post("/responses", s.withSession(s.handleResponse))
			r.Post("/query", s.withSession(s.handleQuery))
			r.Post("/expand", s.withSession(s.handleExpand))
			r.Post("/module", s.withSession(s.handleModule))
			r.Post("/pin", s.withSession(s.handleDropPin))
			r.Delete("/pin", s.withSession(s.handleClearPin))
			r.Post("/comparison", s.withSession(s.handleComparison))
			r.Post("/comparison/toggle", s.withSession(s.handleToggle))
			r.Post("/style", s.withSession(s.handleStyle))
			r.Get("/ws", s.withSession(s.handleWS))
		})
	})
	return r
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session.Session)

func (s *Server) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.mgr.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h(w, r, sess)
	}
}

func (s *Server) newHub(id string) mapprovider.Sink {
	h := NewHub(id, s.opts.Backlog)
	s.mu.Lock()
	s.hubs[id] = h
	s.mu.Unlock()
	return h
}

func (s *Server) hub(id string) *Hub {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hubs[id]
}

func (s *Server) dropHub(id string) {
	s.mu.Lock()
	h := s.hubs[id]
	delete(s.hubs, id)
	s.mu.Unlock()
	if h != nil {
		h.Close()
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return lo.Contains(s.opts.AllowedOrigins, "*") || lo.Contains(s.opts.AllowedOrigins, origin)
}

func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	if s.deps.Datasets == nil {
		writeError(w, http.StatusServiceUnavailable, "dataset catalog unavailable")
		return
	}
	sel, err := catalog.LoadDatasets(r.Context(), s.deps.Datasets, nil)
	if err != nil {
		zap.L().Error("server: load datasets", zap.Error(err))
		writeError(w, http.StatusBadGateway, "dataset catalog unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": sel.Options()})
}

func (s *Server) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusServiceUnavailable, "analysis history disabled")
		return
	}
	q := r.URL.Query()
	filter := store.AnalysisFilter{
		SessionID: q.Get("session_id"),
		Module:    model.Module(q.Get("module")),
		Status:    model.AnalysisStatus(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	recs, err := s.deps.History.ListAnalyses(r.Context(), filter)
	if err != nil {
		zap.L().Error("server: list analyses", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list analyses")
		return
	}
	if recs == nil {
		recs = []model.AnalysisRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": recs})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Cache == nil {
		writeError(w, http.StatusServiceUnavailable, "tile descriptor cache disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Cache.Stats())
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.mgr.Create(r.Context())
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request, sess *session.Session) {
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.mgr.Delete(id); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.dropHub(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResponse(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "response body too large")
		return
	}
	res, err := sess.HandleChatResponse(r.Context(), raw)
	if err != nil {
		writeResultError(w, res, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req struct {
		Query string `json:"query"`
	}
	if !decode(w, r, &req) {
		return
	}
	res, err := sess.ChatQuery(r.Context(), req.Query)
	if err != nil {
		writeResultError(w, res, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	started := sess.TriggerExpansion(r.Context())
	writeJSON(w, http.StatusAccepted, map[string]bool{"started": started})
}

func (s *Server) handleModule(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req struct {
		Module model.Module `json:"module"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := sess.SelectModule(r.Context(), req.Module); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleDropPin(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Lat == nil || req.Lng == nil {
		writeError(w, http.StatusBadRequest, "lat and lng are required")
		return
	}
	p, err := sess.DropPin(r.Context(), *req.Lat, *req.Lng)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, p)
}

func (s *Server) handleClearPin(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	sess.ClearPin(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleComparison(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req struct {
		Query string `json:"query"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := sess.SubmitComparison(r.Context(), req.Query); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot().Comparison)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	changed, err := sess.ToggleComparison(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	st := sess.Snapshot().Comparison
	writeJSON(w, http.StatusOK, map[string]bool{"changed": changed, "showing_before": st.ShowingBefore})
}

func (s *Server) handleStyle(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req struct {
		Style mapprovider.Style `json:"style"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := sess.SetStyle(r.Context(), req.Style); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	h := s.hub(sess.ID())
	if h == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		zap.L().Debug("server: websocket upgrade failed", zap.Error(err))
		return
	}
	h.Serve(s.ctx, conn, sess)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pin.ErrUnknownModule),
		errors.Is(err, pin.ErrInvalidLocation),
		errors.Is(err, session.ErrEmptyQuery),
		errors.Is(err, comparison.ErrEmptyQuery),
		errors.Is(err, mapprovider.ErrUnknownStyle):
		return http.StatusBadRequest
	case errors.Is(err, pin.ErrNoPinModule),
		errors.Is(err, comparison.ErrNotAwaiting):
		return http.StatusConflict
	case errors.Is(err, reconcile.ErrInvalidBounds),
		errors.Is(err, reconcile.ErrNoTilesPlaced):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeResultError(w http.ResponseWriter, res session.Result, err error) {
	status := statusFor(err)
	if status == http.StatusBadGateway {
		zap.L().Error("server: backend call failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]any{"error": err.Error(), "result": res})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
