package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"pricepulse/internal/models"
	"pricepulse/internal/store"
)

const maxRecordBody = 64 * 1024

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeError(w, http.StatusServiceUnavailable, "record store unavailable")
		return
	}
	wallet := r.PathValue("wallet")

	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()

	record, err := s.records.GetPortfolio(ctx, wallet)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "no portfolio for wallet")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handlePutPortfolio(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeError(w, http.StatusServiceUnavailable, "record store unavailable")
		return
	}
	wallet := r.PathValue("wallet")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRecordBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "body must be valid JSON")
		return
	}

	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()

	record := &store.PortfolioRecord{
		Wallet:   wallet,
		Holdings: body,
	}
	if err := s.records.PutPortfolio(ctx, record); err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeError(w, http.StatusServiceUnavailable, "record store unavailable")
		return
	}
	wallet := r.PathValue("wallet")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()

	entries, err := s.records.ListActivity(ctx, wallet, limit)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"wallet":  wallet,
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleAppendActivity(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeError(w, http.StatusServiceUnavailable, "record store unavailable")
		return
	}
	wallet := r.PathValue("wallet")

	var req struct {
		Kind    string          `json:"kind"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRecordBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Kind == "" {
		writeError(w, http.StatusBadRequest, "kind is required")
		return
	}

	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()

	entry := &store.ActivityEntry{
		Wallet:  wallet,
		Kind:    req.Kind,
		Payload: req.Payload,
	}
	if err := s.records.AppendActivity(ctx, entry); err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, models.ErrStoreUnavailable) {
		s.logger.WithError(err).Warn("Record store operation failed")
		writeError(w, http.StatusServiceUnavailable, "record store unavailable")
		return
	}
	s.logger.WithError(err).Error("Record operation failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}
