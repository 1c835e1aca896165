package pathway

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/qflow/qflow/internal/platform/clock"
	"github.com/qflow/qflow/internal/platform/guard"
)

var (
	// ErrUnknownExamType rejects Assign for an exam type outside the table.
	ErrUnknownExamType = errors.New("unknown exam type")
	// ErrStepMismatch rejects an advance for a clinic that is not the
	// route's current step.
	ErrStepMismatch = errors.New("clinic is not the current step")
)

type Service struct {
	repo   Repository
	clk    clock.Clock
	logger zerolog.Logger
}

func NewService(repo Repository, clk clock.Clock, logger zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.System()
	}
	return &Service{repo: repo, clk: clk, logger: logger}
}

// Assign returns the visitor's route for the exam type, creating it from
// the route table on first call. Re-assignment is sticky: an existing route
// comes back unchanged with its cursor preserved.
func (s *Service) Assign(ctx context.Context, visitorID, examType, gender string) (*Route, error) {
	if visitorID == "" {
		return nil, fmt.Errorf("visitor id is required")
	}
	existing, err := s.repo.Get(ctx, visitorID, examType)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	steps, ok := StepsFor(examType, gender)
	if !ok {
		return nil, ErrUnknownExamType
	}
	now := s.clk.Now().UTC()
	rt := &Route{
		VisitorID:  visitorID,
		ExamType:   examType,
		Gender:     gender,
		Steps:      make([]Step, len(steps)),
		AssignedAt: now,
		UpdatedAt:  now,
	}
	for i, c := range steps {
		rt.Steps[i] = Step{Clinic: c}
	}

	err = s.repo.Create(ctx, rt)
	if errors.Is(err, ErrExists) {
		// Duplicate submission race; the first writer's route wins.
		return s.repo.Get(ctx, visitorID, examType)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("visitor", visitorID).Str("exam_type", examType).
		Strs("steps", steps).Msg("route assigned")
	return rt, nil
}

// Get returns the visitor's current route.
func (s *Service) Get(ctx context.Context, visitorID string) (*Route, error) {
	return s.repo.GetByVisitor(ctx, visitorID)
}

// VisitorGender returns the gender recorded on the visitor's route, or the
// empty string for visitors without one.
func (s *Service) VisitorGender(ctx context.Context, visitorID string) (string, error) {
	rt, err := s.repo.GetByVisitor(ctx, visitorID)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return rt.Gender, nil
}

// Allowed reports whether the visitor may queue at the clinic. Visitors
// without an assigned route are unrestricted; routed visitors may only
// queue at their current step.
func (s *Service) Allowed(ctx context.Context, visitorID, clinicID string) (bool, error) {
	rt, err := s.repo.GetByVisitor(ctx, visitorID)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return !rt.Done() && rt.CurrentStep() == clinicID, nil
}

// AdvanceOnCompletion records the completed step and moves the cursor
// forward. The clinic must be the route's current step; completions for
// earlier or later stations are rejected with ErrStepMismatch and the
// cursor never moves backward.
func (s *Service) AdvanceOnCompletion(ctx context.Context, visitorID, clinicID string, serviceSeconds int64) error {
	return guard.Repair(ctx, s.logger, "pathway.advance", func(ctx context.Context) error {
		rt, err := s.repo.GetByVisitor(ctx, visitorID)
		if err != nil {
			return err
		}
		if rt.Done() || rt.CurrentStep() != clinicID {
			return ErrStepMismatch
		}
		now := s.clk.Now().UTC()
		rt.Steps[rt.Cursor].CompletedAt = &now
		rt.Steps[rt.Cursor].ServiceSeconds = serviceSeconds
		rt.Cursor++
		rt.UpdatedAt = now
		if err := s.repo.Update(ctx, rt); err != nil {
			return err
		}
		if rt.Done() {
			s.logger.Info().Str("visitor", visitorID).Str("exam_type", rt.ExamType).Msg("route completed")
		}
		return nil
	})
}
