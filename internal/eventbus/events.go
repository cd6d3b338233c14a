package eventbus

import "time"

// JobOp names a registry mutation.
type JobOp string

const (
	JobCreated JobOp = "created"
	JobUpdated JobOp = "updated"
	JobDeleted JobOp = "deleted"
)

// JobChanged is published after every successful registry mutation.
type JobChanged struct {
	JobID string
	Op    JobOp
}

// ScheduleReplaced is published after a new schedule has been installed.
type ScheduleReplaced struct {
	Generation uint64
	FetchedAt  time.Time
}

// FetchFailed is published when a schedule fetch fails.
type FetchFailed struct {
	At  time.Time
	Err error
}

// Hub groups the buses shared by the service components.
type Hub struct {
	Jobs     *TypedBus[JobChanged]
	Schedule *TypedBus[ScheduleReplaced]
	Failures *TypedBus[FetchFailed]
}

// NewHub creates a Hub with default buffers.
func NewHub() *Hub {
	return &Hub{
		Jobs:     NewTypedBuffered[JobChanged](64),
		Schedule: NewTyped[ScheduleReplaced](),
		Failures: NewTyped[FetchFailed](),
	}
}

// Close closes every bus.
func (h *Hub) Close() {
	h.Jobs.Close()
	h.Schedule.Close()
	h.Failures.Close()
}
