package pathway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qflow/qflow/internal/platform/kv"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const routeCols = `visitor_id, exam_type, gender, steps, cursor, assigned_at, updated_at, version`

func (r *repoPG) Get(ctx context.Context, visitorID, examType string) (*Route, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+routeCols+` FROM routes WHERE visitor_id = $1 AND exam_type = $2`,
		visitorID, examType)
	return scanRoute(row)
}

func (r *repoPG) GetByVisitor(ctx context.Context, visitorID string) (*Route, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+routeCols+` FROM routes WHERE visitor_id = $1 ORDER BY assigned_at DESC LIMIT 1`,
		visitorID)
	return scanRoute(row)
}

func (r *repoPG) Create(ctx context.Context, rt *Route) error {
	steps, err := json.Marshal(rt.Steps)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO routes (visitor_id, exam_type, gender, steps, cursor, assigned_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1)`,
		rt.VisitorID, rt.ExamType, rt.Gender, steps, rt.Cursor, rt.AssignedAt, rt.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrExists
		}
		return err
	}
	rt.Version = 1
	return nil
}

func (r *repoPG) Update(ctx context.Context, rt *Route) error {
	steps, err := json.Marshal(rt.Steps)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE routes SET gender = $3, steps = $4, cursor = $5, updated_at = $6, version = version + 1
		WHERE visitor_id = $1 AND exam_type = $2 AND version = $7`,
		rt.VisitorID, rt.ExamType, rt.Gender, steps, rt.Cursor, rt.UpdatedAt, rt.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return kv.ErrVersionConflict
	}
	rt.Version++
	return nil
}

func scanRoute(row pgx.Row) (*Route, error) {
	var rt Route
	var steps []byte
	err := row.Scan(&rt.VisitorID, &rt.ExamType, &rt.Gender, &steps, &rt.Cursor,
		&rt.AssignedAt, &rt.UpdatedAt, &rt.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(steps, &rt.Steps); err != nil {
		return nil, err
	}
	return &rt, nil
}
