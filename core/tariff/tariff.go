// Package tariff holds the recurring electricity tariffs and expands them
// into absolute price periods for a scheduling horizon.
package tariff

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kilianp07/erg/core/model"
)

var (
	// ErrInvalidYAML is returned for empty or structurally invalid tariff documents.
	ErrInvalidYAML = errors.New("invalid tariff yaml")
	// ErrInvalidTime is returned when a period boundary is not HH:MM.
	ErrInvalidTime = errors.New("invalid tariff time")
	// ErrInvalidPrice is returned when a price is not a number.
	ErrInvalidPrice = errors.New("invalid tariff price")
)

// Tariff is a price applying during a recurring daily window.
type Tariff struct {
	Name        string            `json:"name"`
	Window      model.DailyWindow `json:"window"`
	Recurrence  model.Recurrence  `json:"recurrence"`
	ImportPrice float64           `json:"import_price"`
	FeedInPrice float64           `json:"feed_in_price"`
}

// Spec is the flat form of a tariff used in configuration files.
type Spec struct {
	Name        string          `json:"name"`
	Start       string          `json:"start"`
	End         string          `json:"end"`
	ImportPrice float64         `json:"import_price"`
	FeedInPrice float64         `json:"feed_in_price"`
	Frequency   model.Frequency `json:"frequency"`
	Days        []int           `json:"days"`
}

// Tariff converts the spec. i is the position of the spec in its list and
// is used to name unnamed tariffs.
func (s Spec) Tariff(i int) (Tariff, error) {
	start, err := model.ParseClock(s.Start)
	if err != nil {
		return Tariff{}, fmt.Errorf("%w: %v", ErrInvalidTime, err)
	}
	end, err := model.ParseClock(s.End)
	if err != nil {
		return Tariff{}, fmt.Errorf("%w: %v", ErrInvalidTime, err)
	}
	rec := model.Recurrence{Frequency: s.Frequency, Days: append([]int(nil), s.Days...)}
	if rec.Frequency == "" {
		rec.Frequency = model.FrequencyDaily
	}
	if err := rec.Validate(); err != nil {
		return Tariff{}, fmt.Errorf("tariff %d: %w", i+1, err)
	}
	t := Tariff{
		Name:        strings.TrimSpace(s.Name),
		Window:      model.DailyWindow{Start: start, End: end},
		Recurrence:  rec,
		ImportPrice: s.ImportPrice,
		FeedInPrice: s.FeedInPrice,
	}
	if t.Name == "" {
		t.Name = DefaultName(i, t.Window)
	}
	return t, nil
}

// FromSpecs converts a list of specs.
func FromSpecs(specs []Spec) ([]Tariff, error) {
	out := make([]Tariff, 0, len(specs))
	for i, s := range specs {
		t, err := s.Tariff(i)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// DefaultName names the i-th (zero based) tariff after its window.
func DefaultName(i int, w model.DailyWindow) string {
	return fmt.Sprintf("Tariff %d (%s)", i+1, w)
}

// Period is a tariff occurrence in absolute time, as sent to the solver.
type Period struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	ImportPrice float64   `json:"import_price"`
	FeedInPrice float64   `json:"feed_in_price"`
}

// Expand returns every occurrence of the tariffs inside h, clipped to h and
// ordered by start. Overnight windows continue on the following day.
func Expand(tariffs []Tariff, h model.Window, loc *time.Location) []Period {
	var out []Period
	for _, t := range tariffs {
		for _, occ := range t.Window.Occurrences(h, loc, t.Recurrence.Matches) {
			w := occ.Intersect(h)
			if w.Empty() {
				continue
			}
			out = append(out, Period{
				Start:       w.Start,
				End:         w.End,
				ImportPrice: t.ImportPrice,
				FeedInPrice: t.FeedInPrice,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Store holds the active tariff set. Replace swaps the whole set at once.
type Store struct {
	v atomic.Pointer[[]Tariff]
}

// NewStore returns a store holding a copy of tariffs.
func NewStore(tariffs []Tariff) *Store {
	s := &Store{}
	s.Replace(tariffs)
	return s
}

// Replace installs a new tariff set.
func (s *Store) Replace(tariffs []Tariff) {
	cp := make([]Tariff, len(tariffs))
	copy(cp, tariffs)
	s.v.Store(&cp)
}

// Tariffs returns the current tariff set. The slice must not be modified.
func (s *Store) Tariffs() []Tariff {
	p := s.v.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Expand expands the current tariff set over h.
func (s *Store) Expand(h model.Window, loc *time.Location) []Period {
	return Expand(s.Tariffs(), h, loc)
}
