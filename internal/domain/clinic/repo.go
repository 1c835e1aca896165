package clinic

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a clinic id is not in the registry.
var ErrNotFound = errors.New("clinic not found")

type Repository interface {
	Get(ctx context.Context, id string) (*Clinic, error)
	List(ctx context.Context) ([]*Clinic, error)
	Save(ctx context.Context, c *Clinic) error
}
