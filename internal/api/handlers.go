package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/hookledger/internal/audit"
	"github.com/mattjoyce/hookledger/internal/ledger"
)

const auditTrailLimit = 200

// handleHealthz handles GET /healthz (no auth). A ledger that cannot answer
// a stats query reports 503.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Ledger:        "ok",
	}
	if s.events != nil {
		resp.Subscribers = s.events.Subscribers()
	}

	if _, err := s.ledger.Stats(r.Context()); err != nil {
		s.logger.Error("ledger health check failed", "error", err)
		resp.Status = "degraded"
		resp.Ledger = "unavailable"
		respondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleListEvents handles GET /events?provider=&status=&limit=
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f ledger.ListFilter

	if v := q.Get("provider"); v != "" {
		p, err := ledger.ParseProvider(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Provider = p
	}
	if v := q.Get("status"); v != "" {
		st, err := ledger.ParseStatus(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Status = st
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}

	evs, err := s.ledger.List(r.Context(), f)
	if err != nil {
		s.logger.Error("failed to list events", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}

	resp := EventListResponse{Events: make([]EventSummary, 0, len(evs))}
	for _, ev := range evs {
		resp.Events = append(resp.Events, Summarize(ev))
	}
	resp.Count = len(resp.Events)
	respondJSON(w, http.StatusOK, resp)
}

// handleGetEvent handles GET /events/{provider}/{eventID}
func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	provider, err := ledger.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	eventID := chi.URLParam(r, "eventID")

	ev, err := s.ledger.Get(r.Context(), ledger.Key{Provider: provider, EventID: eventID})
	if err != nil {
		if errors.Is(err, ledger.ErrEventNotFound) {
			s.writeError(w, http.StatusNotFound, "event not found")
			return
		}
		s.logger.Error("failed to retrieve event", "provider", provider, "event_id", eventID, "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}

	var trail []audit.Entry
	if s.audit != nil {
		trail, err = s.audit.List(r.Context(), ev.EventID, string(ev.Provider), auditTrailLimit)
		if err != nil {
			// The row is authoritative; a missing trail is logged, not fatal.
			s.logger.Warn("failed to load audit trail", "provider", provider, "event_id", eventID, "error", err)
		}
	}

	respondJSON(w, http.StatusOK, Detail(ev, trail))
}

// handleStats handles GET /stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.ledger.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to compute stats", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}
	respondJSON(w, http.StatusOK, StatsResponse{Stats: st, Total: st.Total()})
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
