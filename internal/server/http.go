package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/triage-ai/palisade/services/hook_guard/internal/auth"
)

// HTTPServer serves the dispatcher, health and metrics over HTTP.
type HTTPServer struct {
	router   *chi.Mux
	handler  Handler
	auth     auth.Authenticator
	metrics  *Metrics
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// NewHTTPServer creates the router. A nil gatherer disables /metrics.
func NewHTTPServer(h Handler, authenticator auth.Authenticator, metrics *Metrics, gatherer prometheus.Gatherer, logger *zap.Logger) *HTTPServer {
	s := &HTTPServer{
		router:   chi.NewRouter(),
		handler:  h,
		auth:     authenticator,
		metrics:  metrics,
		gatherer: gatherer,
		logger:   logger.Named("http"),
	}
	s.routes()
	return s
}

func (s *HTTPServer) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/v1/dispatch", s.dispatch)
	})
}

func (s *HTTPServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _ := auth.ExtractHTTPBearerToken(r)
		if _, err := s.auth.Authenticate(r.Context(), token); err != nil {
			s.logger.Warn("auth failure", zap.Error(err))
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) dispatch(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}

	res := s.handler.Handle(r.Context(), raw)
	s.metrics.Observe("http", res)
	writeJSON(w, http.StatusOK, newDispatchResponse(res))
}

// ServeHTTP lets HTTPServer be used as a standard http.Handler.
func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
