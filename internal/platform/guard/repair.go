package guard

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/qflow/qflow/internal/platform/kv"
)

// TransientError marks a fault eligible for one auto-repair retry.
// Domain packages implement it on their transient conflict errors.
type TransientError interface {
	error
	Transient() bool
}

// IsTransient reports whether err belongs to the enumerated set of
// transient faults: a lost conditional write, a store timeout, or an error
// that declares itself transient (occupancy conflicts, duplicate numbers).
func IsTransient(err error) bool {
	if errors.Is(err, kv.ErrVersionConflict) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te TransientError
	return errors.As(err, &te) && te.Transient()
}

// Repair runs op; on a transient failure it runs op once more, on the
// assumption that op rebuilds its view of the record from the store each
// attempt. Any second failure, transient or not, is surfaced unchanged.
func Repair(ctx context.Context, logger zerolog.Logger, name string, op func(context.Context) error) error {
	err := op(ctx)
	if err == nil || !IsTransient(err) {
		return err
	}
	logger.Info().Str("op", name).Err(err).Msg("auto-repair retry")
	return op(ctx)
}
