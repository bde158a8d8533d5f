package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"pricepulse/internal/models"
)

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}
	force := r.URL.Query().Get("force") == "true"

	ctx, cancel := requestContext(r, 15*time.Second)
	defer cancel()

	result, err := s.trending.Get(ctx, limit, force)
	if err != nil {
		if errors.Is(err, models.ErrNoDataAvailable) {
			writeError(w, http.StatusServiceUnavailable, "no trending data available")
			return
		}
		s.logger.WithError(err).Error("Trending request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	cacheStatus := "MISS"
	switch {
	case result.Meta.Stale:
		cacheStatus = "STALE"
	case result.Meta.CacheHit:
		cacheStatus = "HIT"
	}
	w.Header().Set("X-Cache-Status", cacheStatus)
	if !result.Meta.LastUpdate.IsZero() {
		age := time.Since(result.Meta.LastUpdate)
		w.Header().Set("X-Cache-Age", fmt.Sprintf("%.0f", age.Seconds()))
	}
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%.0f", s.cfg.TTL.Seconds()))

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTrendingStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.trending.Stats())
}

func (s *Server) handleTrendingRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r, 15*time.Second)
	defer cancel()

	if err := s.trending.Refresh(ctx); err != nil {
		if errors.Is(err, models.ErrRefreshInFlight) {
			writeError(w, http.StatusTooManyRequests, "refresh already in progress")
			return
		}
		s.logger.WithError(err).Error("Manual trending refresh failed")
		writeError(w, http.StatusBadGateway, "refresh failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "refreshed",
		"stats":  s.trending.Stats(),
	})
}
