package clinic

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Seed writes the default registry for any clinic id not already stored.
// Persisted clinics win, so an operator's open/capacity changes survive
// restarts.
func (s *Service) Seed(ctx context.Context) error {
	for _, def := range Defaults() {
		_, err := s.repo.Get(ctx, def.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		c := def
		c.UpdatedAt = time.Now().UTC()
		if err := s.repo.Save(ctx, &c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*Clinic, error) {
	if id == "" {
		return nil, fmt.Errorf("clinic id is required")
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*Clinic, error) {
	return s.repo.List(ctx)
}

// ListOpen returns the clinics the scheduler should serve this cycle.
func (s *Service) ListOpen(ctx context.Context) ([]*Clinic, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	open := make([]*Clinic, 0, len(all))
	for _, c := range all {
		if c.Open {
			open = append(open, c)
		}
	}
	return open, nil
}

// SetOpen toggles whether a clinic receives visitors and scheduler calls.
func (s *Service) SetOpen(ctx context.Context, id string, open bool) (*Clinic, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Open = open
	c.UpdatedAt = time.Now().UTC()
	if err := s.repo.Save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Upsert validates and stores a clinic definition.
func (s *Service) Upsert(ctx context.Context, c *Clinic) error {
	if c.ID == "" {
		return fmt.Errorf("clinic id is required")
	}
	if c.Name == "" {
		return fmt.Errorf("clinic name is required")
	}
	if c.Capacity <= 0 {
		c.Capacity = 1
	}
	switch c.GenderRestriction {
	case GenderAny, GenderFemale, GenderMale:
	default:
		return fmt.Errorf("invalid gender restriction: %s", c.GenderRestriction)
	}
	c.UpdatedAt = time.Now().UTC()
	return s.repo.Save(ctx, c)
}
