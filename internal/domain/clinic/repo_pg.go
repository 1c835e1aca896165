package clinic

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const clinicCols = `id, name, capacity, avg_service_minutes, open, gender_restriction, updated_at`

func (r *repoPG) Get(ctx context.Context, id string) (*Clinic, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+clinicCols+` FROM clinics WHERE id = $1`, id)
	return scanClinic(row)
}

func (r *repoPG) List(ctx context.Context) ([]*Clinic, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+clinicCols+` FROM clinics ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Clinic
	for rows.Next() {
		c, err := scanClinic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repoPG) Save(ctx context.Context, c *Clinic) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO clinics (id, name, capacity, avg_service_minutes, open, gender_restriction, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			capacity = EXCLUDED.capacity,
			avg_service_minutes = EXCLUDED.avg_service_minutes,
			open = EXCLUDED.open,
			gender_restriction = EXCLUDED.gender_restriction,
			updated_at = now()`,
		c.ID, c.Name, c.Capacity, c.AvgServiceMinutes, c.Open, c.GenderRestriction,
	)
	return err
}

func scanClinic(row pgx.Row) (*Clinic, error) {
	var c Clinic
	err := row.Scan(&c.ID, &c.Name, &c.Capacity, &c.AvgServiceMinutes, &c.Open, &c.GenderRestriction, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
