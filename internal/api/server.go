// Package api serves an ordered log over HTTP so judges, orchestrators and
// observers in separate processes can share one topic space.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
)

const (
	defaultReadLimit      = 100
	maxReadLimit          = 1000
	defaultRequestTimeout = 60 * time.Second
	shutdownGrace         = 5 * time.Second
)

// Server exposes topic creation, publishing and reads of a core.OrderedLog,
// plus a decoded per-round snapshot for dashboards.
type Server struct {
	router         chi.Router
	log            core.OrderedLog
	logger         *slog.Logger
	maxEntrySize   int
	maxChunks      int
	requestTimeout time.Duration
	allowedOrigins []string
	started        time.Time

	topicsCreated    atomic.Int64
	entriesPublished atomic.Int64
}

// ServerOption configures the server.
type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithMaxEntrySize rejects published entries larger than n bytes.
func WithMaxEntrySize(n int) ServerOption {
	return func(s *Server) { s.maxEntrySize = n }
}

// WithMaxChunks bounds the chunk count the snapshot decoder accepts.
func WithMaxChunks(n int) ServerOption {
	return func(s *Server) { s.maxChunks = n }
}

func WithRequestTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// WithAllowedOrigins restricts CORS origins. Default is "*".
func WithAllowedOrigins(origins ...string) ServerOption {
	return func(s *Server) {
		if len(origins) > 0 {
			s.allowedOrigins = origins
		}
	}
}

// NewServer builds the router over log.
func NewServer(log core.OrderedLog, opts ...ServerOption) *Server {
	s := &Server{
		log:            log,
		logger:         slog.Default(),
		requestTimeout: defaultRequestTimeout,
		allowedOrigins: []string{"*"},
		started:        time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout))
	r.Use(s.accessLog)
	// dashboards usually run on another origin
	r.Use(cors.New(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With"},
		MaxAge:         300,
	}).Handler)

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1/topics", func(r chi.Router) {
		r.Post("/", s.handleCreateTopic)
		r.Get("/{topicID}/snapshot", s.handleSnapshot)
		r.Get("/{topicID}/messages", s.handleListMessages)
		r.Post("/{topicID}/messages", s.handlePublish)
	})
	return r
}

// accessLog logs each request at debug, or at warn for server errors.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		level := slog.LevelDebug
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type healthResponse struct {
	Status           string    `json:"status"`
	Time             time.Time `json:"time"`
	Uptime           string    `json:"uptime"`
	TopicsCreated    int64     `json:"topicsCreated"`
	EntriesPublished int64     `json:"entriesPublished"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, healthResponse{
		Status:           "healthy",
		Time:             time.Now().UTC(),
		Uptime:           time.Since(s.started).Round(time.Second).String(),
		TopicsCreated:    s.topicsCreated.Load(),
		EntriesPublished: s.entriesPublished.Load(),
	})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// ListenAndServe serves until ctx is cancelled, then drains connections for
// up to five seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("log server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
