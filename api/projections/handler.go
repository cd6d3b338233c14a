// Package projections serves the read-only views derived from the schedule
// and the manual refresh trigger.
package projections

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kilianp07/erg/api/render"
	"github.com/kilianp07/erg/core/calendar"
	"github.com/kilianp07/erg/core/logger"
	"github.com/kilianp07/erg/core/model"
	"github.com/kilianp07/erg/core/schedule"
	"github.com/kilianp07/erg/core/summary"
)

// SummarySource computes the current summary.
type SummarySource interface {
	Current() summary.Summary
}

// ScheduleSource provides the schedule in force and the fetch status.
type ScheduleSource interface {
	Load() (*model.Schedule, uint64)
	Status() schedule.Status
}

// OrderSource ranks jobs by creation.
type OrderSource interface {
	Order() map[string]int
}

// Refresher triggers an immediate fetch.
type Refresher interface {
	Refresh(ctx context.Context) (*model.Schedule, uint64, error)
}

// Handler serves the projection endpoints.
type Handler struct {
	summary SummarySource
	sched   ScheduleSource
	order   OrderSource
	refresh Refresher
	log     logger.Logger
}

// NewHandler returns a handler. refresh may be nil, which disables the
// refresh endpoint.
func NewHandler(sum SummarySource, sched ScheduleSource, order OrderSource, refresh Refresher, log logger.Logger) *Handler {
	return &Handler{summary: sum, sched: sched, order: order, refresh: refresh, log: logger.OrNop(log)}
}

// Routes mounts the endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/summary", h.getSummary)
	r.Get("/api/calendar", h.getCalendar)
	r.Route("/api/schedule", func(r chi.Router) {
		r.Get("/", h.getSchedule)
		r.Get("/status", h.getStatus)
		r.Post("/refresh", h.postRefresh)
	})
}

func (h *Handler) getSummary(w http.ResponseWriter, _ *http.Request) {
	render.JSON(w, http.StatusOK, h.summary.Current())
}

type calendarResponse struct {
	Generation uint64           `json:"generation"`
	Events     []calendar.Event `json:"events"`
}

func (h *Handler) getCalendar(w http.ResponseWriter, r *http.Request) {
	from, err := parseBound(r, "start")
	if err != nil {
		render.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseBound(r, "end")
	if err != nil {
		render.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	s, gen := h.sched.Load()
	var order map[string]int
	if h.order != nil {
		order = h.order.Order()
	}
	events := calendar.Project(s, order).Between(from, to)
	if events == nil {
		events = []calendar.Event{}
	}
	render.JSON(w, http.StatusOK, calendarResponse{Generation: gen, Events: events})
}

func parseBound(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, &boundError{name: name, value: v}
	}
	return t, nil
}

type boundError struct{ name, value string }

func (e *boundError) Error() string {
	return "invalid " + e.name + " " + e.value + ": want RFC3339"
}

func (h *Handler) getSchedule(w http.ResponseWriter, _ *http.Request) {
	s, _ := h.sched.Load()
	if s == nil {
		render.Error(w, http.StatusNotFound, "no schedule yet")
		return
	}
	render.JSON(w, http.StatusOK, s)
}

func (h *Handler) getStatus(w http.ResponseWriter, _ *http.Request) {
	render.JSON(w, http.StatusOK, h.sched.Status())
}

type refreshResponse struct {
	Generation uint64    `json:"generation"`
	FetchedAt  time.Time `json:"fetched_at"`
}

func (h *Handler) postRefresh(w http.ResponseWriter, r *http.Request) {
	if h.refresh == nil {
		render.Error(w, http.StatusNotImplemented, "refresh disabled")
		return
	}
	s, gen, err := h.refresh.Refresh(r.Context())
	if err != nil {
		h.log.Warnf("manual refresh: %v", err)
		render.Err(w, err)
		return
	}
	render.JSON(w, http.StatusOK, refreshResponse{Generation: gen, FetchedAt: s.FetchedAt})
}
