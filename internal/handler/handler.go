// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tapboard/tapboard/internal/aggregate"
	"github.com/tapboard/tapboard/internal/broadcast"
	"github.com/tapboard/tapboard/internal/model"
	"github.com/tapboard/tapboard/internal/repository"
	"github.com/tapboard/tapboard/internal/service"
)

// Handler holds all HTTP handlers for the tracker API.
type Handler struct {
	svc   *service.Service
	agg   *aggregate.Aggregator
	bcast *broadcast.Broadcaster
}

// New constructs a Handler.
func New(svc *service.Service, agg *aggregate.Aggregator, bcast *broadcast.Broadcaster) *Handler {
	return &Handler{svc: svc, agg: agg, bcast: bcast}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// ─── Events ───────────────────────────────────────────────────────────────────

// CreateEvent handles POST /events
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	event, err := h.svc.CreateEvent(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /events
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.ListEvents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.svc.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get event")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// ActivateEvent handles POST /events/{id}/activate
func (h *Handler) ActivateEvent(w http.ResponseWriter, r *http.Request) {
	err := h.svc.ActivateEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to activate event")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

// JoinEvent handles POST /events/{id}/participants/{pid}
func (h *Handler) JoinEvent(w http.ResponseWriter, r *http.Request) {
	err := h.svc.JoinEvent(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "pid"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event or participant not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to join event")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "joined"})
}

// ─── Participants ─────────────────────────────────────────────────────────────

// CreateParticipant handles POST /participants
func (h *Handler) CreateParticipant(w http.ResponseWriter, r *http.Request) {
	var req model.CreateParticipantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	p, err := h.svc.CreateParticipant(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ListParticipants handles GET /participants
func (h *Handler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	ps, err := h.svc.ListParticipants(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list participants")
		return
	}
	if ps == nil {
		ps = []model.Participant{}
	}
	writeJSON(w, http.StatusOK, ps)
}

// GetParticipant handles GET /participants/{id}
func (h *Handler) GetParticipant(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetParticipant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "participant not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get participant")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// RebuildTotals handles POST /participants/{id}/rebuild
func (h *Handler) RebuildTotals(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.RebuildTotals(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "participant not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to rebuild totals")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"total_units": n})
}

// ─── Barrels ──────────────────────────────────────────────────────────────────

// TapBarrel handles POST /events/{id}/barrels
func (h *Handler) TapBarrel(w http.ResponseWriter, r *http.Request) {
	var req model.CreateBarrelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	barrel, err := h.svc.TapBarrel(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, barrel)
}

// ListBarrels handles GET /events/{id}/barrels
func (h *Handler) ListBarrels(w http.ResponseWriter, r *http.Request) {
	barrels, err := h.svc.ListBarrels(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list barrels")
		return
	}
	if barrels == nil {
		barrels = []model.Barrel{}
	}
	writeJSON(w, http.StatusOK, barrels)
}

// DeleteBarrel handles DELETE /barrels/{id}
func (h *Handler) DeleteBarrel(w http.ResponseWriter, r *http.Request) {
	err := h.svc.DeleteBarrel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "barrel not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete barrel")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ─── Consumption ──────────────────────────────────────────────────────────────

// AddConsumption handles POST /events/{id}/participants/{pid}/consumptions
// and POST /participants/{id}/consumptions (global stream, no barrel).
func (h *Handler) AddConsumption(w http.ResponseWriter, r *http.Request) {
	// An empty body means a plain, non-spilled unit.
	var req model.AddConsumptionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var eventID *string
	participantID := chi.URLParam(r, "pid")
	if participantID == "" {
		participantID = chi.URLParam(r, "id")
	} else {
		id := chi.URLParam(r, "id")
		eventID = &id
	}

	entry, err := h.svc.AddConsumption(r.Context(), eventID, participantID, repository.AddOptions{Spilled: req.Spilled})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "event or participant not found")
		case errors.Is(err, repository.ErrInvariant):
			writeError(w, http.StatusInternalServerError, "internal error")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// RemoveLastConsumption handles
// DELETE /events/{id}/participants/{pid}/consumptions/last and
// DELETE /participants/{id}/consumptions/last.
func (h *Handler) RemoveLastConsumption(w http.ResponseWriter, r *http.Request) {
	var eventID *string
	participantID := chi.URLParam(r, "pid")
	if participantID == "" {
		participantID = chi.URLParam(r, "id")
	} else {
		id := chi.URLParam(r, "id")
		eventID = &id
	}

	err := h.svc.RemoveLastConsumption(r.Context(), eventID, participantID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "no consumption to remove")
		case errors.Is(err, repository.ErrInvariant):
			writeError(w, http.StatusInternalServerError, "internal error")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// CountFor handles GET /events/{id}/participants/{pid}/consumptions/count
func (h *Handler) CountFor(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.CountFor(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "pid"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count consumptions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// ─── Views ────────────────────────────────────────────────────────────────────

// Leaderboard handles GET /events/{id}/leaderboard
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	view, err := h.agg.Leaderboard(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute leaderboard")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// EventDashboard handles GET /events/{id}/dashboard
func (h *Handler) EventDashboard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view, err := h.agg.Dashboard(r.Context(), &id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute dashboard")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GlobalDashboard handles GET /dashboard
func (h *Handler) GlobalDashboard(w http.ResponseWriter, r *http.Request) {
	view, err := h.agg.Dashboard(r.Context(), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute dashboard")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// PublicStats handles GET /public/stats. Unauthenticated-safe projection.
func (h *Handler) PublicStats(w http.ResponseWriter, r *http.Request) {
	var eventID *string
	if id := r.URL.Query().Get("event_id"); id != "" {
		eventID = &id
	}
	view, err := h.agg.PublicStats(r.Context(), eventID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Live handles GET /events/{id}/live — the WebSocket subscription feed.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	broadcast.ServeWS(h.bcast, chi.URLParam(r, "id"), w, r)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
