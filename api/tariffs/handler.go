// Package tariffs serves the tariff set and its bulk YAML import.
package tariffs

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kilianp07/erg/api/render"
	"github.com/kilianp07/erg/core/logger"
	"github.com/kilianp07/erg/core/model"
	"github.com/kilianp07/erg/core/tariff"
)

// Handler serves /api/tariffs.
type Handler struct {
	store *tariff.Store
	loc   *time.Location
	log   logger.Logger
	now   func() time.Time
}

// NewHandler returns a handler over store. Periods are expanded in loc.
func NewHandler(store *tariff.Store, loc *time.Location, log logger.Logger) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{store: store, loc: loc, log: logger.OrNop(log), now: time.Now}
}

// Routes mounts the endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/tariffs", func(r chi.Router) {
		r.Get("/", h.list)
		r.Put("/", h.replace)
		r.Get("/periods", h.periods)
	})
}

func (h *Handler) list(w http.ResponseWriter, _ *http.Request) {
	render.JSON(w, http.StatusOK, h.store.Tariffs())
}

func (h *Handler) replace(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, render.MaxBody))
	if err != nil {
		render.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	ts, err := tariff.ParseYAML(data)
	if err != nil {
		render.Err(w, err)
		return
	}
	h.store.Replace(ts)
	h.log.Infof("imported %d tariffs", len(ts))
	render.JSON(w, http.StatusOK, ts)
}

// periods expands the tariffs over [start, end), by default the current
// local day.
func (h *Handler) periods(w http.ResponseWriter, r *http.Request) {
	now := h.now().In(h.loc)
	win := model.Window{Start: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, h.loc)}
	win.End = win.Start.AddDate(0, 0, 1)
	for name, dst := range map[string]*time.Time{"start": &win.Start, "end": &win.End} {
		if v := r.URL.Query().Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				render.Error(w, http.StatusBadRequest, "invalid "+name+": want RFC3339")
				return
			}
			*dst = t
		}
	}
	if win.Empty() {
		render.Error(w, http.StatusBadRequest, "end must be after start")
		return
	}
	periods := h.store.Expand(win, h.loc)
	if periods == nil {
		periods = []tariff.Period{}
	}
	render.JSON(w, http.StatusOK, periods)
}
