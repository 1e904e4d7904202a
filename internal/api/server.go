package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
	"github.com/JakeFAU/pricecompare-crawler/internal/metrics"
)

const defaultFailedLimit = 50

// Config controls the ops server.
type Config struct {
	// APIKey, when set, is required on every /v1 route.
	APIKey         string
	RequestTimeout time.Duration
}

// Server exposes lane state and failed-job requeue to operators.
type Server struct {
	router chi.Router
	lanes  map[crawler.LaneName]crawler.Lane
	order  []crawler.LaneName
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(lanes []crawler.Lane, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		lanes:  make(map[crawler.LaneName]crawler.Lane, len(lanes)),
		logger: logger,
	}
	for _, l := range lanes {
		s.lanes[l.Name()] = l
		s.order = append(s.order, l.Name())
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metrics.Middleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(s.apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/lanes", s.listLanes)
		r.Route("/lanes/{lane}", func(r chi.Router) {
			r.Get("/failed", s.listFailed)
			r.Post("/failed/{job_id}/requeue", s.requeue)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listLanes(w http.ResponseWriter, r *http.Request) {
	out := make([]crawler.LaneStats, 0, len(s.order))
	for _, name := range s.order {
		stats, err := s.lanes[name].Stats(r.Context())
		if err != nil {
			s.logger.Error("lane stats failed", zap.String("lane", string(name)), zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "lane stats unavailable")
			return
		}
		out = append(out, stats)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"lanes": out})
}

func (s *Server) listFailed(w http.ResponseWriter, r *http.Request) {
	lane, ok := s.lane(w, r)
	if !ok {
		return
	}
	limit := defaultFailedLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	jobs, err := lane.Failed(r.Context(), limit)
	if err != nil {
		s.logger.Error("list failed jobs", zap.String("lane", string(lane.Name())), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed jobs unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"lane": lane.Name(), "jobs": jobs})
}

func (s *Server) requeue(w http.ResponseWriter, r *http.Request) {
	lane, ok := s.lane(w, r)
	if !ok {
		return
	}
	jobID := chi.URLParam(r, "job_id")
	job, err := lane.Requeue(r.Context(), jobID)
	switch {
	case errors.Is(err, crawler.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, "job not found in failed registry")
		return
	case err != nil:
		s.logger.Error("requeue job", zap.String("job_id", jobID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "requeue failed")
		return
	}
	s.logger.Info("job requeued", zap.String("lane", string(lane.Name())), zap.String("job_id", jobID))
	s.writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

func (s *Server) lane(w http.ResponseWriter, r *http.Request) (crawler.Lane, bool) {
	name := crawler.LaneName(chi.URLParam(r, "lane"))
	lane, ok := s.lanes[name]
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown lane")
		return nil, false
	}
	return lane, true
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				s.writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
