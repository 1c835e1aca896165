package pin

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qflow/qflow/internal/platform/clock"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const pinCols = `clinic, code, day, issued_at, expires_at`

func (r *repoPG) Get(ctx context.Context, day clock.ServiceDay, clinic string) (*PinRecord, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+pinCols+` FROM daily_pins WHERE day = $1 AND clinic = $2 AND active`,
		string(day), clinic)
	return scanPin(row)
}

func (r *repoPG) Active(ctx context.Context, day clock.ServiceDay) ([]*PinRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+pinCols+` FROM daily_pins WHERE day = $1 AND active ORDER BY clinic`,
		string(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PinRecord
	for rows.Next() {
		rec, err := scanPin(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *repoPG) UsedCodes(ctx context.Context, day clock.ServiceDay) (map[string]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT code, clinic FROM daily_pins WHERE day = $1`, string(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	used := map[string]string{}
	for rows.Next() {
		var code, clinic string
		if err := rows.Scan(&code, &clinic); err != nil {
			return nil, err
		}
		used[code] = clinic
	}
	return used, rows.Err()
}

func (r *repoPG) Claim(ctx context.Context, rec *PinRecord, supersede bool, _ time.Duration) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Claims for one clinic serialize on its clinics row. The active pin
	// rows themselves cannot carry the lock: on the first claim of the day
	// there is no row to lock yet.
	var lockID string
	err = tx.QueryRow(ctx,
		`SELECT id FROM clinics WHERE id = $1 FOR UPDATE`, rec.Clinic).Scan(&lockID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	var activeCount int
	err = tx.QueryRow(ctx,
		`SELECT count(*) FROM daily_pins WHERE day = $1 AND clinic = $2 AND active`,
		string(rec.Day), rec.Clinic).Scan(&activeCount)
	if err != nil {
		return err
	}
	if activeCount > 0 {
		if !supersede {
			return ErrAlreadyActive
		}
		if _, err := tx.Exec(ctx,
			`UPDATE daily_pins SET active = false WHERE day = $1 AND clinic = $2 AND active`,
			string(rec.Day), rec.Clinic); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO daily_pins (clinic, code, day, issued_at, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, true)`,
		rec.Clinic, rec.Code, string(rec.Day), rec.IssuedAt, rec.ExpiresAt)
	if err != nil {
		return claimConflict(err)
	}
	return tx.Commit(ctx)
}

// claimConflict maps unique violations on insert to the repo sentinels.
// The one-active partial index firing means a racing claimant already
// issued this clinic's pin; the (day, code) constraint means the candidate
// code is burned.
func claimConflict(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	if pgErr.ConstraintName == "daily_pins_one_active" {
		return ErrAlreadyActive
	}
	return ErrCodeTaken
}

func scanPin(row pgx.Row) (*PinRecord, error) {
	var rec PinRecord
	var day string
	err := row.Scan(&rec.Clinic, &rec.Code, &day, &rec.IssuedAt, &rec.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Day = clock.ServiceDay(day)
	return &rec, nil
}
