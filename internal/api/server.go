package api

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/satview/internal/config"
	"github.com/JakeFAU/satview/internal/imagery"
	"github.com/JakeFAU/satview/internal/metrics"
	"github.com/JakeFAU/satview/internal/refresher"
	"github.com/JakeFAU/satview/internal/store"
)

// ImageNotFoundMessage is the error body served while no image is held.
const ImageNotFoundMessage = "Imagem não encontrada."

// RefreshStatus reports the state of the background loop.
type RefreshStatus interface {
	Status() refresher.Status
	Interval() time.Duration
}

// Server wires HTTP handlers to the image store and refresh state.
type Server struct {
	router  chi.Router
	images  *store.ImageStore
	refresh RefreshStatus
	history imagery.FetchLog
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. refresh and
// history may be nil.
func NewServer(
	images *store.ImageStore,
	refresh RefreshStatus,
	history imagery.FetchLog,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		images:  images,
		refresh: refresh,
		history: history,
		cfg:     cfg,
		logger:  logger,
	}

	requestTimeout := cfg.Server.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/", s.welcome)
		r.Get("/image.jpg", s.image)
		r.Get("/status", s.status)
		r.Get("/history", s.listHistory)
	})

	s.mountStatic(r, cfg.Server.StaticDir)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if _, ok := s.images.Read(); !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "waiting for first image"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) mountStatic(r chi.Router, dir string) {
	if dir == "" {
		return
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		s.logger.Warn("static directory not found, frontend disabled", zap.String("dir", dir))
		return
	}
	r.Handle("/*", http.FileServer(http.Dir(dir)))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
