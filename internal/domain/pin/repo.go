package pin

import (
	"context"
	"errors"
	"time"

	"github.com/qflow/qflow/internal/platform/clock"
)

var (
	// ErrNotFound is returned when a clinic has no active record for the day.
	ErrNotFound = errors.New("pin record not found")
	// ErrCodeTaken is returned by Claim when another clinic already consumed
	// the code that day.
	ErrCodeTaken = errors.New("pin code already taken")
	// ErrAlreadyActive is returned by a non-superseding Claim when the clinic
	// already holds an active record; the caller should reload it.
	ErrAlreadyActive = errors.New("pin record already active")
)

type Repository interface {
	// Get returns the clinic's active record for the day.
	Get(ctx context.Context, day clock.ServiceDay, clinic string) (*PinRecord, error)
	// Active returns every clinic's active record for the day.
	Active(ctx context.Context, day clock.ServiceDay) ([]*PinRecord, error)
	// UsedCodes returns code -> clinic for every code consumed that day,
	// including codes on superseded records.
	UsedCodes(ctx context.Context, day clock.ServiceDay) (map[string]string, error)
	// Claim atomically installs rec as the clinic's active record and burns
	// its code for the day. With supersede=false an existing active record
	// fails the claim with ErrAlreadyActive; with supersede=true the old
	// record is retired but its code stays burned.
	Claim(ctx context.Context, rec *PinRecord, supersede bool, ttl time.Duration) error
}
