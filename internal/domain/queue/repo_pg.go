package queue

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qflow/qflow/internal/platform/clock"
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepo binds the queue to Postgres. Writers serialize on the
// queue_days row lock, so every mutation sees a consistent day.
func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const entryCols = `visitor_id, clinic, day, seq, status, no_show, entered_at,
	called_at, no_show_deadline, done_at, cancelled_at, service_seconds`

func (r *repoPG) Get(ctx context.Context, clinicID string, day clock.ServiceDay) (*QueueDay, error) {
	q := &QueueDay{Clinic: clinicID, Day: day}

	err := r.pool.QueryRow(ctx,
		`SELECT last_seq FROM queue_days WHERE clinic = $1 AND day = $2`,
		clinicID, string(day)).Scan(&q.LastSeq)
	if errors.Is(err, pgx.ErrNoRows) {
		return q, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+entryCols+` FROM queue_entries WHERE clinic = $1 AND day = $2 ORDER BY seq`,
		clinicID, string(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		q.Entries = append(q.Entries, e)
	}
	return q, rows.Err()
}

func (r *repoPG) Mutate(ctx context.Context, clinicID string, day clock.ServiceDay, _ time.Duration, fn func(q *QueueDay) error) (*QueueDay, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// The day row is the lock every writer takes first.
	if _, err := tx.Exec(ctx, `
		INSERT INTO queue_days (clinic, day, last_seq) VALUES ($1, $2, 0)
		ON CONFLICT (clinic, day) DO NOTHING`,
		clinicID, string(day)); err != nil {
		return nil, err
	}
	q := &QueueDay{Clinic: clinicID, Day: day}
	if err := tx.QueryRow(ctx,
		`SELECT last_seq FROM queue_days WHERE clinic = $1 AND day = $2 FOR UPDATE`,
		clinicID, string(day)).Scan(&q.LastSeq); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx,
		`SELECT `+entryCols+` FROM queue_entries WHERE clinic = $1 AND day = $2 ORDER BY seq`,
		clinicID, string(day))
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		q.Entries = append(q.Entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := fn(q); err != nil {
		return nil, err
	}

	for _, e := range q.Dirty() {
		if _, err := tx.Exec(ctx, `
			INSERT INTO queue_entries (`+entryCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (clinic, day, seq) DO UPDATE SET
				status = EXCLUDED.status,
				no_show = EXCLUDED.no_show,
				called_at = EXCLUDED.called_at,
				no_show_deadline = EXCLUDED.no_show_deadline,
				done_at = EXCLUDED.done_at,
				cancelled_at = EXCLUDED.cancelled_at,
				service_seconds = EXCLUDED.service_seconds`,
			e.VisitorID, e.Clinic, string(e.Day), e.Seq, string(e.Status), e.NoShow, e.EnteredAt,
			e.CalledAt, e.NoShowDeadline, e.DoneAt, e.CancelledAt, e.ServiceSeconds); err != nil {
			return nil, err
		}
	}
	if _, err := tx.Exec(ctx,
		`UPDATE queue_days SET last_seq = $3 WHERE clinic = $1 AND day = $2`,
		clinicID, string(day), q.LastSeq); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var day, status string
	if err := row.Scan(&e.VisitorID, &e.Clinic, &day, &e.Seq, &status, &e.NoShow, &e.EnteredAt,
		&e.CalledAt, &e.NoShowDeadline, &e.DoneAt, &e.CancelledAt, &e.ServiceSeconds); err != nil {
		return nil, err
	}
	e.Day = clock.ServiceDay(day)
	e.Status = Status(status)
	return &e, nil
}
