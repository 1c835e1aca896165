package pathway

import "time"

// StepDone marks a finished route in CurrentStep results.
const StepDone = "done"

// Gender values accepted by Assign.
const (
	GenderMale   = "M"
	GenderFemale = "F"
)

// Step is one station on a visitor's route with its completion record.
type Step struct {
	Clinic         string     `json:"clinic"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ServiceSeconds int64      `json:"service_seconds,omitempty"`
}

// Route is the ordered examination pathway assigned to a visitor. The
// cursor indexes the next step to perform and only ever moves forward.
type Route struct {
	VisitorID  string    `json:"visitor_id"`
	ExamType   string    `json:"exam_type"`
	Gender     string    `json:"gender"`
	Steps      []Step    `json:"steps"`
	Cursor     int       `json:"cursor"`
	AssignedAt time.Time `json:"assigned_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Version is the storage version used for conditional updates.
	Version int64 `json:"-"`
}

// CurrentStep returns the clinic at the cursor, or StepDone when the route
// is finished.
func (r *Route) CurrentStep() string {
	if r.Cursor >= len(r.Steps) {
		return StepDone
	}
	return r.Steps[r.Cursor].Clinic
}

// Done reports whether every step has been completed.
func (r *Route) Done() bool {
	return r.Cursor >= len(r.Steps)
}

// RemainingSteps returns the clinics not yet completed, in order.
func (r *Route) RemainingSteps() []string {
	if r.Done() {
		return nil
	}
	out := make([]string, 0, len(r.Steps)-r.Cursor)
	for _, s := range r.Steps[r.Cursor:] {
		out = append(out, s.Clinic)
	}
	return out
}
