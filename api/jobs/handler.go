// Package jobs exposes the job registry over HTTP.
package jobs

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kilianp07/erg/api/render"
	"github.com/kilianp07/erg/core/calendar"
	"github.com/kilianp07/erg/core/logger"
	"github.com/kilianp07/erg/core/model"
	"github.com/kilianp07/erg/core/reconcile"
	"github.com/kilianp07/erg/core/summary"
)

// Registry is the subset of the job registry used by the handler.
type Registry interface {
	Create(p model.JobPatch) (string, error)
	Update(id string, p model.JobPatch) error
	Delete(id string) error
	Get(id string) (model.Job, bool)
	Snapshot() []model.Job
}

// ScheduleSource provides the schedule in force.
type ScheduleSource interface {
	Load() (*model.Schedule, uint64)
}

// StateSource reports the reconciliation state per job.
type StateSource interface {
	States() map[string]reconcile.JobState
}

// View is the JSON resource of a job.
type View struct {
	EntityID        string                `json:"entity_id"`
	Name            string                `json:"name"`
	Kind            model.Kind            `json:"job_type"`
	ACPower         float64               `json:"ac_power"`
	DCPower         float64               `json:"dc_power"`
	Benefit         float64               `json:"benefit"`
	Force           bool                  `json:"force"`
	Enabled         bool                  `json:"enabled"`
	MaximumDuration model.Duration        `json:"maximum_duration"`
	MinimumDuration model.Duration        `json:"minimum_duration"`
	MinimumBurst    model.Duration        `json:"minimum_burst"`
	Frequency       model.Frequency       `json:"frequency,omitempty"`
	DaysOfWeek      []int                 `json:"days_of_week,omitempty"`
	TimeWindowStart *model.ClockTime      `json:"time_window_start,omitempty"`
	TimeWindowEnd   *model.ClockTime      `json:"time_window_end,omitempty"`
	Start           *time.Time            `json:"start,omitempty"`
	Finish          *time.Time            `json:"finish,omitempty"`
	Projection      summary.JobProjection `json:"projection"`
	State           *reconcile.JobState   `json:"state,omitempty"`
}

// Handler serves /api/jobs.
type Handler struct {
	reg    Registry
	sched  ScheduleSource
	states StateSource
	log    logger.Logger
	now    func() time.Time
}

// NewHandler returns a handler. sched and states may be nil.
func NewHandler(reg Registry, sched ScheduleSource, states StateSource, log logger.Logger) *Handler {
	return &Handler{reg: reg, sched: sched, states: states, log: logger.OrNop(log), now: time.Now}
}

// Routes mounts the job endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/jobs", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Patch("/", h.update)
			r.Delete("/", h.delete)
		})
	})
}

func (h *Handler) list(w http.ResponseWriter, _ *http.Request) {
	jobs := h.reg.Snapshot()
	s, states := h.context()
	out := make([]View, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, h.view(j, s, states))
	}
	render.JSON(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	j, ok := h.reg.Get(chi.URLParam(r, "id"))
	if !ok {
		render.Error(w, http.StatusNotFound, "job not found")
		return
	}
	s, states := h.context()
	render.JSON(w, http.StatusOK, h.view(j, s, states))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var p model.JobPatch
	if err := render.Decode(r, &p); err != nil {
		render.Err(w, err)
		return
	}
	id, err := h.reg.Create(p)
	if err != nil {
		h.log.Warnf("create job rejected: %v", err)
		render.Err(w, err)
		return
	}
	j, _ := h.reg.Get(id)
	s, states := h.context()
	w.Header().Set("Location", "/api/jobs/"+id)
	render.JSON(w, http.StatusCreated, h.view(j, s, states))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var p model.JobPatch
	if err := render.Decode(r, &p); err != nil {
		render.Err(w, err)
		return
	}
	if err := h.reg.Update(id, p); err != nil {
		h.log.Warnf("update job %s rejected: %v", id, err)
		render.Err(w, err)
		return
	}
	j, _ := h.reg.Get(id)
	s, states := h.context()
	render.JSON(w, http.StatusOK, h.view(j, s, states))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.reg.Delete(chi.URLParam(r, "id")); err != nil {
		render.Err(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) context() (*model.Schedule, map[string]reconcile.JobState) {
	var s *model.Schedule
	if h.sched != nil {
		s, _ = h.sched.Load()
	}
	var states map[string]reconcile.JobState
	if h.states != nil {
		states = h.states.States()
	}
	return s, states
}

func (h *Handler) view(j model.Job, s *model.Schedule, states map[string]reconcile.JobState) View {
	v := View{
		EntityID:        j.Entity,
		Name:            calendar.FriendlyName(j.Entity),
		Kind:            j.Kind,
		ACPower:         j.ACPower,
		DCPower:         j.DCPower,
		Benefit:         j.Benefit,
		Force:           j.Force,
		Enabled:         j.Enabled,
		MaximumDuration: model.Duration(j.MaximumDuration),
		MinimumDuration: model.Duration(j.MinimumDuration),
		MinimumBurst:    model.Duration(j.MinimumBurst),
		Projection:      summary.Project(s, j.ID(), h.now()),
	}
	switch j.Kind {
	case model.KindRecurring:
		ws, we := j.Window.Start, j.Window.End
		v.Frequency = j.Recurrence.Frequency
		v.DaysOfWeek = j.Recurrence.Days
		v.TimeWindowStart, v.TimeWindowEnd = &ws, &we
	case model.KindOneshot:
		st, fi := j.Span.Start, j.Span.End
		v.Start, v.Finish = &st, &fi
	}
	if st, ok := states[j.ID()]; ok {
		v.State = &st
	}
	return v
}
