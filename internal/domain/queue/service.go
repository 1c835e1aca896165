package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/qflow/qflow/internal/domain/clinic"
	"github.com/qflow/qflow/internal/domain/pathway"
	"github.com/qflow/qflow/internal/platform/clock"
	"github.com/qflow/qflow/internal/platform/guard"
	"github.com/qflow/qflow/internal/platform/metrics"
)

// Reason codes surfaced to callers.
const (
	ReasonAlreadyInQueue   = "already_in_queue"
	ReasonLockedStep       = "locked_step"
	ReasonInvalidPin       = "invalid_pin"
	ReasonNotInQueue       = "not_in_queue"
	ReasonAlreadyInService = "already_in_service"
	ReasonEmptyQueue       = "empty_queue"
	ReasonUnknownClinic    = "unknown_clinic"
	ReasonClinicClosed     = "clinic_closed"
	ReasonGenderRestricted = "gender_restricted"
)

var (
	ErrUnknownClinic    = errors.New(ReasonUnknownClinic)
	ErrClinicClosed     = errors.New(ReasonClinicClosed)
	ErrGenderRestricted = errors.New(ReasonGenderRestricted)
	ErrLockedStep       = errors.New(ReasonLockedStep)
	ErrNotInQueue       = errors.New(ReasonNotInQueue)
	ErrInvalidPin       = errors.New(ReasonInvalidPin)
	ErrAlreadyInService = errors.New(ReasonAlreadyInService)
	ErrEmptyQueue       = errors.New(ReasonEmptyQueue)
)

// PinVerifier checks a completion code against the clinic's daily PIN.
type PinVerifier interface {
	Verify(ctx context.Context, clinicID, code string) (bool, error)
}

// RouteGate is the pathway integration: step gating on entry, the gender
// recorded at registration, and cursor advancement on completion.
type RouteGate interface {
	Allowed(ctx context.Context, visitorID, clinicID string) (bool, error)
	VisitorGender(ctx context.Context, visitorID string) (string, error)
	AdvanceOnCompletion(ctx context.Context, visitorID, clinicID string, serviceSeconds int64) error
}

// ClinicDirectory resolves clinic ids to registry entries.
type ClinicDirectory interface {
	Get(ctx context.Context, id string) (*clinic.Clinic, error)
}

// Ticket is the result of entering a queue.
type Ticket struct {
	Entry    *Entry `json:"entry"`
	Position int    `json:"position"`
	// Reason is already_in_queue when the ticket existed before the call.
	Reason string `json:"reason,omitempty"`
}

// PositionInfo reports a visitor's place in a queue.
type PositionInfo struct {
	Status Status `json:"status"`
	// Position is the 0-based count of waiting visitors ahead; -1 for
	// entries no longer in the queue.
	Position int  `json:"position"`
	Seq      int  `json:"seq"`
	NoShow   bool `json:"no_show,omitempty"`
}

// ClinicStatus is the queue display state for one clinic.
type ClinicStatus struct {
	Clinic     string           `json:"clinic"`
	Day        clock.ServiceDay `json:"day"`
	NowServing []int            `json:"now_serving"`
	Waiting    int              `json:"waiting"`
	InService  int              `json:"in_service"`
	Completed  int              `json:"completed"`
	Cancelled  int              `json:"cancelled"`
	LastIssued int              `json:"last_issued"`
}

type Service struct {
	repo       Repository
	cal        *clock.Calendar
	clinics    ClinicDirectory
	pins       PinVerifier
	gate       RouteGate
	noShowWait time.Duration
	defaultCap int
	mx         *metrics.Metrics
	logger     zerolog.Logger
}

func NewService(repo Repository, cal *clock.Calendar, clinics ClinicDirectory, pins PinVerifier, gate RouteGate, noShowWait time.Duration, defaultCap int, logger zerolog.Logger) *Service {
	if defaultCap <= 0 {
		defaultCap = 1
	}
	return &Service{
		repo:       repo,
		cal:        cal,
		clinics:    clinics,
		pins:       pins,
		gate:       gate,
		noShowWait: noShowWait,
		defaultCap: defaultCap,
		logger:     logger,
	}
}

// SetMetrics attaches optional instrumentation.
func (s *Service) SetMetrics(mx *metrics.Metrics) { s.mx = mx }

func (s *Service) resolveClinic(ctx context.Context, clinicID string) (*clinic.Clinic, error) {
	if clinicID == "" {
		return nil, fmt.Errorf("clinic is required")
	}
	cl, err := s.clinics.Get(ctx, clinicID)
	if errors.Is(err, clinic.ErrNotFound) {
		return nil, ErrUnknownClinic
	}
	if err != nil {
		return nil, err
	}
	return cl, nil
}

// Enter places the visitor in the clinic's queue for today. The operation
// is idempotent per (visitor, clinic, day): an active ticket is returned
// as-is with reason already_in_queue instead of issuing a new number.
func (s *Service) Enter(ctx context.Context, visitorID, clinicID string) (*Ticket, error) {
	if visitorID == "" {
		return nil, fmt.Errorf("visitor id is required")
	}
	cl, err := s.resolveClinic(ctx, clinicID)
	if err != nil {
		s.countOp("enter", reasonOf(err))
		return nil, err
	}
	if !cl.Open {
		s.countOp("enter", ReasonClinicClosed)
		return nil, ErrClinicClosed
	}
	if cl.GenderRestriction != clinic.GenderAny {
		g, err := s.gate.VisitorGender(ctx, visitorID)
		if err != nil {
			return nil, err
		}
		if !genderAdmits(cl.GenderRestriction, g) {
			s.countOp("enter", ReasonGenderRestricted)
			return nil, ErrGenderRestricted
		}
	}
	allowed, err := s.gate.Allowed(ctx, visitorID, clinicID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		s.countOp("enter", ReasonLockedStep)
		return nil, ErrLockedStep
	}

	now := s.cal.Now()
	ticket := &Ticket{}
	err = guard.Repair(ctx, s.logger, "queue.enter", func(ctx context.Context) error {
		q, err := s.repo.Mutate(ctx, clinicID, s.cal.DayOf(now), s.cal.TTLUntilRollover(now), func(q *QueueDay) error {
			if existing := q.ActiveEntry(visitorID); existing != nil {
				ticket.Entry = existing
				ticket.Reason = ReasonAlreadyInQueue
				return nil
			}
			e := &Entry{
				VisitorID: visitorID,
				Status:    StatusWaiting,
				EnteredAt: now.UTC(),
			}
			q.Append(e)
			ticket.Entry = e
			ticket.Reason = ""
			return nil
		})
		if err != nil {
			return err
		}
		ticket.Position = q.PositionOf(ticket.Entry)
		s.trackWaiting(q)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.countOp("enter", ticket.Reason)
	if ticket.Reason == "" {
		s.logger.Info().Str("visitor", visitorID).Str("clinic", clinicID).
			Int("seq", ticket.Entry.Seq).Msg("queue entered")
	}
	return ticket, nil
}

// CallNext promotes the smallest-sequence waiting entry to called. It
// refuses while the clinic is at capacity (ErrAlreadyInService) and
// reports an empty queue explicitly (ErrEmptyQueue).
func (s *Service) CallNext(ctx context.Context, clinicID string) (*Entry, error) {
	cl, err := s.resolveClinic(ctx, clinicID)
	if err != nil {
		s.countOp("call", reasonOf(err))
		return nil, err
	}
	capacity := cl.Capacity
	if capacity <= 0 {
		capacity = s.defaultCap
	}

	now := s.cal.Now()
	var called *Entry
	err = guard.Repair(ctx, s.logger, "queue.call", func(ctx context.Context) error {
		q, err := s.repo.Mutate(ctx, clinicID, s.cal.DayOf(now), s.cal.TTLUntilRollover(now), func(q *QueueDay) error {
			if len(q.Called()) >= capacity {
				return ErrAlreadyInService
			}
			waiting := q.Waiting()
			if len(waiting) == 0 {
				return ErrEmptyQueue
			}
			e := waiting[0]
			e.Status = StatusCalled
			at := now.UTC()
			deadline := at.Add(s.noShowWait)
			e.CalledAt = &at
			e.NoShowDeadline = &deadline
			q.Touch(e)
			called = e
			return nil
		})
		if err != nil {
			return err
		}
		s.trackWaiting(q)
		return nil
	})
	if err != nil {
		s.countOp("call", reasonOf(err))
		return nil, err
	}
	s.countOp("call", "")
	s.logger.Info().Str("clinic", clinicID).Str("visitor", called.VisitorID).
		Int("seq", called.Seq).Msg("visitor called")
	return called, nil
}

// Position reports the visitor's place in the clinic's queue today.
func (s *Service) Position(ctx context.Context, visitorID, clinicID string) (*PositionInfo, error) {
	if _, err := s.resolveClinic(ctx, clinicID); err != nil {
		return nil, err
	}
	q, err := s.repo.Get(ctx, clinicID, s.cal.Today())
	if err != nil {
		return nil, err
	}
	// Latest entry for the visitor wins; earlier cancelled tickets from the
	// same day are history.
	var latest *Entry
	for _, e := range q.Entries {
		if e.VisitorID == visitorID && (latest == nil || e.Seq > latest.Seq) {
			latest = e
		}
	}
	if latest == nil {
		return nil, ErrNotInQueue
	}
	info := &PositionInfo{Status: latest.Status, Seq: latest.Seq, NoShow: latest.NoShow, Position: -1}
	if latest.Status == StatusWaiting {
		info.Position = q.PositionOf(latest)
	}
	if latest.Status == StatusCalled {
		info.Position = 0
	}
	return info, nil
}

// Complete marks the visitor's entry done after verifying the clinic PIN,
// then advances the visitor's pathway cursor. A wrong code leaves the
// entry untouched.
func (s *Service) Complete(ctx context.Context, visitorID, clinicID, code string) (*Entry, error) {
	if _, err := s.resolveClinic(ctx, clinicID); err != nil {
		s.countOp("complete", reasonOf(err))
		return nil, err
	}
	ok, err := s.pins.Verify(ctx, clinicID, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.countOp("complete", ReasonInvalidPin)
		return nil, ErrInvalidPin
	}

	now := s.cal.Now()
	var done *Entry
	err = guard.Repair(ctx, s.logger, "queue.complete", func(ctx context.Context) error {
		q, err := s.repo.Mutate(ctx, clinicID, s.cal.DayOf(now), s.cal.TTLUntilRollover(now), func(q *QueueDay) error {
			e := q.ActiveEntry(visitorID)
			if e == nil {
				return ErrNotInQueue
			}
			at := now.UTC()
			e.Status = StatusDone
			e.DoneAt = &at
			from := e.EnteredAt
			if e.CalledAt != nil {
				from = *e.CalledAt
			}
			e.ServiceSeconds = int64(at.Sub(from) / time.Second)
			q.Touch(e)
			done = e
			return nil
		})
		if err != nil {
			return err
		}
		s.trackWaiting(q)
		return nil
	})
	if err != nil {
		s.countOp("complete", reasonOf(err))
		return nil, err
	}

	if err := s.gate.AdvanceOnCompletion(ctx, visitorID, clinicID, done.ServiceSeconds); err != nil {
		// The ticket is already done; a route mismatch here means the
		// visitor queued outside their pathway, which entry gating permits
		// for unrouted visitors. Log it and keep the completion.
		if errors.Is(err, pathway.ErrStepMismatch) || errors.Is(err, pathway.ErrNotFound) {
			s.logger.Debug().Str("visitor", visitorID).Str("clinic", clinicID).
				Err(err).Msg("completion outside route")
		} else {
			s.logger.Error().Str("visitor", visitorID).Str("clinic", clinicID).
				Err(err).Msg("route advance failed")
		}
	}
	s.countOp("complete", "")
	s.logger.Info().Str("visitor", visitorID).Str("clinic", clinicID).
		Int("seq", done.Seq).Int64("service_seconds", done.ServiceSeconds).Msg("visit completed")
	return done, nil
}

// Cancel withdraws the visitor's active entry.
func (s *Service) Cancel(ctx context.Context, visitorID, clinicID string) (*Entry, error) {
	if _, err := s.resolveClinic(ctx, clinicID); err != nil {
		return nil, err
	}
	now := s.cal.Now()
	var cancelled *Entry
	err := guard.Repair(ctx, s.logger, "queue.cancel", func(ctx context.Context) error {
		q, err := s.repo.Mutate(ctx, clinicID, s.cal.DayOf(now), s.cal.TTLUntilRollover(now), func(q *QueueDay) error {
			e := q.ActiveEntry(visitorID)
			if e == nil {
				return ErrNotInQueue
			}
			at := now.UTC()
			e.Status = StatusCancelled
			e.CancelledAt = &at
			q.Touch(e)
			cancelled = e
			return nil
		})
		if err != nil {
			return err
		}
		s.trackWaiting(q)
		return nil
	})
	if err != nil {
		s.countOp("cancel", reasonOf(err))
		return nil, err
	}
	s.countOp("cancel", "")
	return cancelled, nil
}

// ExpireNoShow cancels called entries whose deadline has passed, marking
// them no-show, and returns how many expired.
func (s *Service) ExpireNoShow(ctx context.Context, clinicID string, maxWait time.Duration) (int, error) {
	now := s.cal.Now()
	expired := 0
	err := guard.Repair(ctx, s.logger, "queue.expire", func(ctx context.Context) error {
		expired = 0
		q, err := s.repo.Mutate(ctx, clinicID, s.cal.DayOf(now), s.cal.TTLUntilRollover(now), func(q *QueueDay) error {
			for _, e := range q.Called() {
				deadline := e.NoShowDeadline
				if deadline == nil && e.CalledAt != nil {
					d := e.CalledAt.Add(maxWait)
					deadline = &d
				}
				if deadline == nil || now.Before(*deadline) {
					continue
				}
				at := now.UTC()
				e.Status = StatusCancelled
				e.NoShow = true
				e.CancelledAt = &at
				q.Touch(e)
				expired++
			}
			return nil
		})
		if err != nil {
			return err
		}
		s.trackWaiting(q)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		s.logger.Info().Str("clinic", clinicID).Int("expired", expired).Msg("no-shows expired")
	}
	return expired, nil
}

// Status returns the clinic's queue display state.
func (s *Service) Status(ctx context.Context, clinicID string) (*ClinicStatus, error) {
	if _, err := s.resolveClinic(ctx, clinicID); err != nil {
		return nil, err
	}
	day := s.cal.Today()
	q, err := s.repo.Get(ctx, clinicID, day)
	if err != nil {
		return nil, err
	}
	st := &ClinicStatus{Clinic: clinicID, Day: day, LastIssued: q.LastSeq, NowServing: []int{}}
	for _, e := range q.Called() {
		st.NowServing = append(st.NowServing, e.Seq)
	}
	st.Waiting, st.InService, st.Completed, st.Cancelled = q.Counts()
	return st, nil
}

// Entries lists today's entries for a clinic, ordered by sequence.
func (s *Service) Entries(ctx context.Context, clinicID string, limit, offset int) ([]*Entry, int, error) {
	if _, err := s.resolveClinic(ctx, clinicID); err != nil {
		return nil, 0, err
	}
	q, err := s.repo.Get(ctx, clinicID, s.cal.Today())
	if err != nil {
		return nil, 0, err
	}
	total := len(q.Entries)
	if offset >= total {
		return []*Entry{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return q.Entries[offset:end], total, nil
}

func (s *Service) countOp(op, reason string) {
	if s.mx == nil {
		return
	}
	if reason == "" {
		reason = "ok"
	}
	s.mx.QueueOps.WithLabelValues(op, reason).Inc()
}

func (s *Service) trackWaiting(q *QueueDay) {
	if s.mx == nil {
		return
	}
	waiting, _, _, _ := q.Counts()
	s.mx.Waiting.WithLabelValues(q.Clinic).Set(float64(waiting))
}

// genderAdmits checks a route gender against a clinic restriction. Routes
// record gender as M or F; the registry restricts with male or female.
// Visitors with no route, and so no recorded gender, are admitted.
func genderAdmits(restriction, routeGender string) bool {
	switch routeGender {
	case pathway.GenderMale:
		return restriction == clinic.GenderMale
	case pathway.GenderFemale:
		return restriction == clinic.GenderFemale
	}
	return true
}

func reasonOf(err error) string {
	if err == nil {
		return "ok"
	}
	for _, sentinel := range []error{ErrUnknownClinic, ErrClinicClosed, ErrLockedStep,
		ErrNotInQueue, ErrInvalidPin, ErrAlreadyInService, ErrEmptyQueue, ErrGenderRestricted} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "error"
}
