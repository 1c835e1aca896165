package pathway

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the visitor has no stored route.
	ErrNotFound = errors.New("route not found")
	// ErrExists is returned by Create when a route for the same
	// (visitor, exam type) already exists.
	ErrExists = errors.New("route already exists")
)

type Repository interface {
	// Get returns the route for (visitor, examType).
	Get(ctx context.Context, visitorID, examType string) (*Route, error)
	// GetByVisitor returns the visitor's most recently assigned route.
	GetByVisitor(ctx context.Context, visitorID string) (*Route, error)
	// Create stores a new route; ErrExists if one is already present.
	Create(ctx context.Context, r *Route) error
	// Update rewrites the route conditionally on r.Version.
	Update(ctx context.Context, r *Route) error
}
