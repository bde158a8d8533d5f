package httpapi

import (
	"net/http"
	"time"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	storeStatus := "disabled"
	if s.records != nil {
		storeStatus = "ok"
		if err := s.records.Ping(r.Context()); err != nil {
			storeStatus = "unreachable"
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds":    time.Since(s.started).Seconds(),
		"connected_clients": s.gateway.ClientCount(),
		"subscriptions":     s.registry.Stats(),
		"trending_cache":    s.trending.Stats(),
		"record_store":      storeStatus,
	})
}
