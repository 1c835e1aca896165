package pin

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/rs/zerolog"

	"github.com/qflow/qflow/internal/platform/clock"
	"github.com/qflow/qflow/internal/platform/metrics"
)

// ErrSpaceExhausted is returned when every code in the configured space has
// been consumed for the day. Codes are never recycled within a day.
var ErrSpaceExhausted = errors.New("pin space exhausted")

type Service struct {
	repo    Repository
	cal     *clock.Calendar
	min     int
	max     int
	mx      *metrics.Metrics
	logger  zerolog.Logger
	randInt func(n int) int
}

// NewService builds the PIN engine over a bounded code space min..max.
func NewService(repo Repository, cal *clock.Calendar, min, max int, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		cal:     cal,
		min:     min,
		max:     max,
		logger:  logger,
		randInt: rand.Intn,
	}
}

// SetMetrics attaches optional instrumentation.
func (s *Service) SetMetrics(mx *metrics.Metrics) { s.mx = mx }

// SetRand overrides the sampling source for deterministic tests.
func (s *Service) SetRand(randInt func(n int) int) { s.randInt = randInt }

// GetOrCreateDaily returns the clinic's active PIN for the current service
// day, generating one lazily if the clinic has none yet.
func (s *Service) GetOrCreateDaily(ctx context.Context, clinicID string) (*PinRecord, error) {
	if clinicID == "" {
		return nil, fmt.Errorf("clinic is required")
	}
	day := s.cal.Today()
	rec, err := s.repo.Get(ctx, day, clinicID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.generate(ctx, day, clinicID, false)
}

// Verify reports whether code exactly matches the clinic's active PIN.
// A clinic with no record for the day never verifies.
func (s *Service) Verify(ctx context.Context, clinicID, code string) (bool, error) {
	rec, err := s.repo.Get(ctx, s.cal.Today(), clinicID)
	if errors.Is(err, ErrNotFound) {
		s.countVerify("missing")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if rec.Code != code {
		s.countVerify("invalid")
		return false, nil
	}
	s.countVerify("valid")
	return true, nil
}

// ResetOne supersedes the clinic's active PIN with a fresh code. The old
// code stays burned for the day.
func (s *Service) ResetOne(ctx context.Context, clinicID string) (*PinRecord, error) {
	if clinicID == "" {
		return nil, fmt.Errorf("clinic is required")
	}
	return s.generate(ctx, s.cal.Today(), clinicID, true)
}

// ResetAll supersedes every active PIN for the current day and returns how
// many were reset. Clinics without a record are untouched; they generate
// lazily on first use.
func (s *Service) ResetAll(ctx context.Context) (int, error) {
	day := s.cal.Today()
	active, err := s.repo.Active(ctx, day)
	if err != nil {
		return 0, err
	}
	reset := 0
	for _, rec := range active {
		if _, err := s.generate(ctx, day, rec.Clinic, true); err != nil {
			return reset, fmt.Errorf("reset %s: %w", rec.Clinic, err)
		}
		reset++
	}
	return reset, nil
}

// ActivePins lists every clinic's active PIN for the current day.
func (s *Service) ActivePins(ctx context.Context) ([]*PinRecord, error) {
	return s.repo.Active(ctx, s.cal.Today())
}

// generate samples an unused code and claims it. ErrCodeTaken from a
// concurrent claimant just removes that candidate and tries the next.
func (s *Service) generate(ctx context.Context, day clock.ServiceDay, clinicID string, supersede bool) (*PinRecord, error) {
	used, err := s.repo.UsedCodes(ctx, day)
	if err != nil {
		return nil, err
	}
	var candidates []string
	for n := s.min; n <= s.max; n++ {
		code := FormatCode(n)
		if _, taken := used[code]; !taken {
			candidates = append(candidates, code)
		}
	}
	now := s.cal.Now()
	for len(candidates) > 0 {
		i := s.randInt(len(candidates))
		code := candidates[i]
		candidates = append(candidates[:i], candidates[i+1:]...)

		rec := &PinRecord{
			Clinic:    clinicID,
			Code:      code,
			Day:       day,
			IssuedAt:  now.UTC(),
			ExpiresAt: s.cal.NextRollover(now),
		}
		err := s.repo.Claim(ctx, rec, supersede, s.cal.TTLUntilRollover(now))
		switch {
		case err == nil:
			s.logger.Info().Str("clinic", clinicID).Str("day", string(day)).Msg("pin issued")
			return rec, nil
		case errors.Is(err, ErrCodeTaken):
			continue
		case errors.Is(err, ErrAlreadyActive):
			// Lost the creation race; the winner's record is the active one.
			return s.repo.Get(ctx, day, clinicID)
		default:
			return nil, err
		}
	}
	s.logger.Error().Str("clinic", clinicID).Str("day", string(day)).
		Int("space", s.max-s.min+1).Msg("pin space exhausted")
	return nil, ErrSpaceExhausted
}

func (s *Service) countVerify(outcome string) {
	if s.mx != nil {
		s.mx.PinVerify.WithLabelValues(outcome).Inc()
	}
}
