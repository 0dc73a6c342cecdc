package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/tapboard/tapboard/internal/aggregate"
	"github.com/tapboard/tapboard/internal/broadcast"
	"github.com/tapboard/tapboard/internal/model"
	"github.com/tapboard/tapboard/internal/repository"
	"github.com/tapboard/tapboard/internal/service"
)

func newTestRouter(t *testing.T) chi.Router {
	t.Helper()
	store := repository.NewMemoryStore()
	agg := aggregate.New(store)
	bcast := broadcast.New(agg)
	svc := service.New(store.Store(), bcast)
	h := New(svc, agg, bcast)

	r := chi.NewRouter()
	r.Route("/events", func(r chi.Router) {
		r.Post("/", h.CreateEvent)
		r.Get("/{id}", h.GetEvent)
		r.Post("/{id}/barrels", h.TapBarrel)
		r.Get("/{id}/barrels", h.ListBarrels)
		r.Post("/{id}/participants/{pid}/consumptions", h.AddConsumption)
		r.Delete("/{id}/participants/{pid}/consumptions/last", h.RemoveLastConsumption)
		r.Get("/{id}/leaderboard", h.Leaderboard)
		r.Get("/{id}/dashboard", h.EventDashboard)
	})
	r.Post("/participants", h.CreateParticipant)
	r.Get("/public/stats", h.PublicStats)
	return r
}

func do(t *testing.T, r chi.Router, method, path string, body any, wantStatus int, out any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != wantStatus {
		t.Fatalf("%s %s: status %d, want %d (body %s)", method, path, rec.Code, wantStatus, rec.Body.String())
	}
	if out != nil {
		if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
}

func TestConsumptionFlow(t *testing.T) {
	r := newTestRouter(t)

	var event model.Event
	do(t, r, http.MethodPost, "/events", model.CreateEventRequest{Name: "Summer Fest"}, http.StatusCreated, &event)

	var p model.Participant
	do(t, r, http.MethodPost, "/participants",
		model.CreateParticipantRequest{Name: "Adam", Gender: model.GenderMale}, http.StatusCreated, &p)

	var barrel model.Barrel
	do(t, r, http.MethodPost, "/events/"+event.ID+"/barrels",
		model.CreateBarrelRequest{Size: 15}, http.StatusCreated, &barrel)
	if barrel.RemainingUnits != 30 {
		t.Fatalf("barrel units = %d, want 30", barrel.RemainingUnits)
	}

	base := fmt.Sprintf("/events/%s/participants/%s/consumptions", event.ID, p.ID)
	for i := 0; i < 3; i++ {
		var entry model.Entry
		do(t, r, http.MethodPost, base, model.AddConsumptionRequest{}, http.StatusCreated, &entry)
		if entry.BarrelID == nil {
			t.Fatalf("entry %d has no barrel", i)
		}
	}
	do(t, r, http.MethodDelete, base+"/last", nil, http.StatusOK, nil)

	var view model.LeaderboardView
	do(t, r, http.MethodGet, "/events/"+event.ID+"/leaderboard", nil, http.StatusOK, &view)
	if len(view.Males) != 1 || view.Males[0].Units != 2 {
		t.Fatalf("leaderboard = %+v, want Adam with 2 units", view.Males)
	}

	var dash model.DashboardView
	do(t, r, http.MethodGet, "/events/"+event.ID+"/dashboard", nil, http.StatusOK, &dash)
	if dash.TotalUnits != 2 || dash.TotalBarrels != 1 {
		t.Fatalf("dashboard = %+v, want 2 units over 1 barrel", dash)
	}
}

func TestErrorMapping(t *testing.T) {
	r := newTestRouter(t)

	do(t, r, http.MethodGet, "/events/nope", nil, http.StatusNotFound, nil)

	var event model.Event
	do(t, r, http.MethodPost, "/events", model.CreateEventRequest{Name: "Fest"}, http.StatusCreated, &event)

	// Unsupported barrel size.
	do(t, r, http.MethodPost, "/events/"+event.ID+"/barrels",
		model.CreateBarrelRequest{Size: 17}, http.StatusBadRequest, nil)

	var p model.Participant
	do(t, r, http.MethodPost, "/participants",
		model.CreateParticipantRequest{Name: "Adam", Gender: model.GenderMale}, http.StatusCreated, &p)

	// Undo with nothing to undo.
	path := fmt.Sprintf("/events/%s/participants/%s/consumptions/last", event.ID, p.ID)
	do(t, r, http.MethodDelete, path, nil, http.StatusNotFound, nil)
}
