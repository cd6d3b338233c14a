// Package registry stores the user-defined jobs. It is the only owner of
// job definitions; other components work on copies taken with Snapshot.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kilianp07/erg/core/logger"
	"github.com/kilianp07/erg/core/model"
	"github.com/kilianp07/erg/internal/eventbus"
)

var (
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("job not found")
	// ErrExists is returned when creating a job whose entity is already
	// registered. It is also an invalid spec.
	ErrExists = fmt.Errorf("%w: job already exists", model.ErrInvalidSpec)
)

// Registry is a creation-ordered set of jobs keyed by entity id.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[string]model.Job
	order []string
	bus   *eventbus.TypedBus[eventbus.JobChanged]
	log   logger.Logger
}

// New returns an empty registry. bus may be nil.
func New(bus *eventbus.TypedBus[eventbus.JobChanged], log logger.Logger) *Registry {
	return &Registry{
		jobs: make(map[string]model.Job),
		bus:  bus,
		log:  logger.OrNop(log),
	}
}

// Create validates p with defaults applied and registers the job.
func (r *Registry) Create(p model.JobPatch) (string, error) {
	j, err := model.NewJob(p)
	if err != nil {
		return "", err
	}
	id := j.ID()
	r.mu.Lock()
	if _, ok := r.jobs[id]; ok {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrExists, id)
	}
	r.jobs[id] = j
	r.order = append(r.order, id)
	r.mu.Unlock()

	r.log.Infof("job %s created (%s)", id, j.Kind)
	r.publish(id, eventbus.JobCreated)
	return id, nil
}

// Update applies p to the job. On error the job is left unchanged.
func (r *Registry) Update(id string, p model.JobPatch) error {
	r.mu.Lock()
	cur, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next, err := cur.Apply(p)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.jobs[id] = next
	r.mu.Unlock()

	r.log.Debugw("job updated", map[string]any{"job": id})
	r.publish(id, eventbus.JobUpdated)
	return nil
}

// Delete removes the job.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	if _, ok := r.jobs[id]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.jobs, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.log.Infof("job %s deleted", id)
	r.publish(id, eventbus.JobDeleted)
	return nil
}

// Get returns a copy of the job.
func (r *Registry) Get(id string) (model.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return model.Job{}, false
	}
	return j.Clone(), true
}

// Snapshot returns copies of all jobs in creation order.
func (r *Registry) Snapshot() []model.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Job, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.jobs[id].Clone())
	}
	return out
}

// Order returns the creation rank of every registered job.
func (r *Registry) Order() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.order))
	for i, id := range r.order {
		out[id] = i
	}
	return out
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Seed creates every job in ps, stopping at the first failure.
func (r *Registry) Seed(ps []model.JobPatch) error {
	for i, p := range ps {
		if _, err := r.Create(p); err != nil {
			return fmt.Errorf("seed job %d: %w", i+1, err)
		}
	}
	return nil
}

func (r *Registry) publish(id string, op eventbus.JobOp) {
	if r.bus != nil {
		r.bus.Publish(eventbus.JobChanged{JobID: id, Op: op})
	}
}
