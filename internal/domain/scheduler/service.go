// Package scheduler drives the auto-call cycle: expire no-shows, then
// call the next visitor for every open clinic that is idle.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/qflow/qflow/internal/domain/clinic"
	"github.com/qflow/qflow/internal/domain/queue"
	"github.com/qflow/qflow/internal/platform/metrics"
)

// minReentry is the minimum gap between two tick passes over the same
// clinic. Overlapping cron triggers and the internal ticker both funnel
// through it.
const minReentry = time.Second

// ClinicLister names the clinics eligible for auto-calling.
type ClinicLister interface {
	ListOpen(ctx context.Context) ([]*clinic.Clinic, error)
}

// QueueOps is the slice of the queue service the scheduler drives.
type QueueOps interface {
	ExpireNoShow(ctx context.Context, clinicID string, maxWait time.Duration) (int, error)
	CallNext(ctx context.Context, clinicID string) (*queue.Entry, error)
	Status(ctx context.Context, clinicID string) (*queue.ClinicStatus, error)
}

// ClinicSummary is one clinic's outcome for a tick cycle.
type ClinicSummary struct {
	Clinic  string `json:"clinic"`
	Expired int    `json:"expired"`
	Called  int    `json:"called"`
	Skipped bool   `json:"skipped,omitempty"`
	Err     string `json:"error,omitempty"`
}

type clinicGuard struct {
	mu      sync.Mutex
	lastRun time.Time
}

type Service struct {
	clinics    ClinicLister
	queues     QueueOps
	noShowWait time.Duration
	logger     zerolog.Logger
	mx         *metrics.Metrics

	guardMu sync.Mutex
	guards  map[string]*clinicGuard

	now func() time.Time
}

func NewService(clinics ClinicLister, queues QueueOps, noShowWait time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		clinics:    clinics,
		queues:     queues,
		noShowWait: noShowWait,
		logger:     logger,
		guards:     make(map[string]*clinicGuard),
		now:        time.Now,
	}
}

// SetMetrics attaches optional instrumentation.
func (s *Service) SetMetrics(mx *metrics.Metrics) { s.mx = mx }

// SetNow overrides the re-entry clock for tests.
func (s *Service) SetNow(now func() time.Time) { s.now = now }

func (s *Service) guardFor(clinicID string) *clinicGuard {
	s.guardMu.Lock()
	defer s.guardMu.Unlock()
	g, ok := s.guards[clinicID]
	if !ok {
		g = &clinicGuard{}
		s.guards[clinicID] = g
	}
	return g
}

// Tick runs one auto-call cycle over every open clinic. A clinic already
// being processed, or processed within the re-entry interval, is skipped.
// Failures are recorded per clinic and never stop the loop.
func (s *Service) Tick(ctx context.Context) ([]ClinicSummary, error) {
	start := s.now()
	defer func() {
		if s.mx != nil {
			s.mx.TickDuration.Observe(s.now().Sub(start).Seconds())
		}
	}()

	open, err := s.clinics.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]ClinicSummary, 0, len(open))
	for _, cl := range open {
		summaries = append(summaries, s.tickClinic(ctx, cl.ID))
	}
	return summaries, nil
}

func (s *Service) tickClinic(ctx context.Context, clinicID string) ClinicSummary {
	sum := ClinicSummary{Clinic: clinicID}

	g := s.guardFor(clinicID)
	if !g.mu.TryLock() {
		sum.Skipped = true
		s.countOutcome("skipped")
		return sum
	}
	defer g.mu.Unlock()
	if s.now().Sub(g.lastRun) < minReentry {
		sum.Skipped = true
		s.countOutcome("skipped")
		return sum
	}
	g.lastRun = s.now()

	expired, err := s.queues.ExpireNoShow(ctx, clinicID, s.noShowWait)
	if err != nil {
		sum.Err = err.Error()
		s.countOutcome("error")
		s.logger.Error().Str("clinic", clinicID).Err(err).Msg("tick expire failed")
		return sum
	}
	sum.Expired = expired
	if expired > 0 {
		s.countOutcome("expired")
	}

	st, err := s.queues.Status(ctx, clinicID)
	if err != nil {
		sum.Err = err.Error()
		s.countOutcome("error")
		s.logger.Error().Str("clinic", clinicID).Err(err).Msg("tick status failed")
		return sum
	}
	// Only call when the clinic is idle with someone waiting; a visitor
	// still in service keeps the queue untouched this cycle.
	if st.InService > 0 || st.Waiting == 0 {
		return sum
	}

	entry, err := s.queues.CallNext(ctx, clinicID)
	if err != nil {
		// Lost a race with a manual call; not a fault.
		if errors.Is(err, queue.ErrAlreadyInService) || errors.Is(err, queue.ErrEmptyQueue) {
			return sum
		}
		sum.Err = err.Error()
		s.countOutcome("error")
		s.logger.Error().Str("clinic", clinicID).Err(err).Msg("tick call failed")
		return sum
	}
	sum.Called = 1
	s.countOutcome("called")
	s.logger.Info().Str("clinic", clinicID).Str("visitor", entry.VisitorID).
		Int("seq", entry.Seq).Msg("auto-called")
	return sum
}

// Run ticks at the given interval until the context is cancelled. Started
// by serve when a call interval is configured.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.logger.Info().Dur("interval", interval).Msg("auto-call ticker started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("auto-call ticker stopped")
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger.Error().Err(err).Msg("tick failed")
			}
		}
	}
}

func (s *Service) countOutcome(outcome string) {
	if s.mx != nil {
		s.mx.TickOutcomes.WithLabelValues(outcome).Inc()
	}
}
