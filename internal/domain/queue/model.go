package queue

import (
	"sort"
	"time"

	"github.com/qflow/qflow/internal/platform/clock"
)

// Status is a queue entry's lifecycle state.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusCalled    Status = "called"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
)

// Entry is one visitor's ticket in a clinic's daily queue. The sequence
// number is the sole ordering key and is never reused within the day.
type Entry struct {
	VisitorID string           `json:"visitor_id"`
	Clinic    string           `json:"clinic"`
	Day       clock.ServiceDay `json:"day"`
	Seq       int              `json:"seq"`
	Status    Status           `json:"status"`
	// NoShow marks a cancellation caused by missing the call window.
	NoShow         bool       `json:"no_show,omitempty"`
	EnteredAt      time.Time  `json:"entered_at"`
	CalledAt       *time.Time `json:"called_at,omitempty"`
	NoShowDeadline *time.Time `json:"no_show_deadline,omitempty"`
	DoneAt         *time.Time `json:"done_at,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	ServiceSeconds int64      `json:"service_seconds,omitempty"`
}

// Active reports whether the entry still occupies the queue.
func (e *Entry) Active() bool {
	return e.Status == StatusWaiting || e.Status == StatusCalled
}

// QueueDay is the full queue state for one (clinic, day). Repositories
// load it, the service mutates it, repositories persist it atomically.
type QueueDay struct {
	Clinic  string           `json:"clinic"`
	Day     clock.ServiceDay `json:"day"`
	LastSeq int              `json:"last_seq"`
	Entries []*Entry         `json:"entries"`

	// Version is the storage version used for conditional writes.
	Version int64 `json:"-"`

	// dirty tracks entries changed during a mutation so row-based
	// repositories persist only what moved.
	dirty []*Entry
}

// Append issues the next sequence number and adds the entry.
func (q *QueueDay) Append(e *Entry) {
	q.LastSeq++
	e.Seq = q.LastSeq
	e.Clinic = q.Clinic
	e.Day = q.Day
	q.Entries = append(q.Entries, e)
	q.dirty = append(q.dirty, e)
}

// Touch marks an existing entry as modified.
func (q *QueueDay) Touch(e *Entry) {
	q.dirty = append(q.dirty, e)
}

// Dirty returns the entries changed since load.
func (q *QueueDay) Dirty() []*Entry { return q.dirty }

// ActiveEntry returns the visitor's waiting or called entry, if any.
func (q *QueueDay) ActiveEntry(visitorID string) *Entry {
	for _, e := range q.Entries {
		if e.VisitorID == visitorID && e.Active() {
			return e
		}
	}
	return nil
}

// Waiting returns the waiting entries ordered by sequence.
func (q *QueueDay) Waiting() []*Entry {
	var out []*Entry
	for _, e := range q.Entries {
		if e.Status == StatusWaiting {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Called returns the entries currently in service.
func (q *QueueDay) Called() []*Entry {
	var out []*Entry
	for _, e := range q.Entries {
		if e.Status == StatusCalled {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// PositionOf returns the 0-based count of waiting entries ahead of e.
func (q *QueueDay) PositionOf(e *Entry) int {
	pos := 0
	for _, other := range q.Entries {
		if other.Status == StatusWaiting && other.Seq < e.Seq {
			pos++
		}
	}
	return pos
}

// Counts tallies entries by state.
func (q *QueueDay) Counts() (waiting, inService, completed, cancelled int) {
	for _, e := range q.Entries {
		switch e.Status {
		case StatusWaiting:
			waiting++
		case StatusCalled:
			inService++
		case StatusDone:
			completed++
		case StatusCancelled:
			cancelled++
		}
	}
	return
}
