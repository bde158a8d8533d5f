package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"pricepulse/internal/config"
	"pricepulse/internal/services/registry"
	"pricepulse/internal/services/trending"
	"pricepulse/internal/store"
	"pricepulse/internal/ws"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server bundles the REST endpoints, the WebSocket entry point and the
// Prometheus handler behind one mux.
type Server struct {
	cfg      config.TrendingConfig
	trending *trending.Cache
	registry *registry.Registry
	gateway  *ws.Gateway
	records  *store.RecordStore
	logger   *logrus.Logger
	started  time.Time
}

// NewServer creates the HTTP layer. records may be nil when the record store
// is unreachable; its endpoints then answer 503.
func NewServer(cfg config.TrendingConfig, tc *trending.Cache, reg *registry.Registry, gw *ws.Gateway, records *store.RecordStore, logger *logrus.Logger) *Server {
	return &Server{
		cfg:      cfg,
		trending: tc,
		registry: reg,
		gateway:  gw,
		records:  records,
		logger:   logger,
		started:  time.Now(),
	}
}

// Handler returns the fully wired route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /trending", s.handleTrending)
	mux.HandleFunc("GET /trending/stats", s.handleTrendingStats)
	mux.HandleFunc("POST /trending/refresh", s.handleTrendingRefresh)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleHealthDetailed)
	mux.HandleFunc("GET /portfolio/{wallet}", s.handleGetPortfolio)
	mux.HandleFunc("PUT /portfolio/{wallet}", s.handlePutPortfolio)
	mux.HandleFunc("GET /activity/{wallet}", s.handleListActivity)
	mux.HandleFunc("POST /activity/{wallet}", s.handleAppendActivity)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.gateway.HandleWS)

	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("HTTP request")
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func requestContext(r *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), timeout)
}
