package completion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/albapepper/salah/internal/prayer"
)

// ChangeChannel is the pg_notify channel fired on every write.
const ChangeChannel = "completion_changed"

// Schema creates the completion table and its change trigger. Idempotent;
// applied by db.Migrate.
const Schema = `
CREATE TABLE IF NOT EXISTS prayer_completions (
	id           UUID PRIMARY KEY,
	day          DATE NOT NULL,
	kind         TEXT NOT NULL CHECK (kind IN ('fajr', 'dhuhr', 'asr', 'maghrib', 'isha')),
	completed    BOOLEAN NOT NULL DEFAULT false,
	completed_at TIMESTAMPTZ,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (day, kind)
);

CREATE OR REPLACE FUNCTION notify_completion_changed() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('completion_changed', json_build_object(
		'day', NEW.day,
		'kind', NEW.kind,
		'completed', NEW.completed,
		'ts', extract(epoch FROM NOW())::bigint
	)::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_completion_changed ON prayer_completions;
CREATE TRIGGER trg_completion_changed
	AFTER INSERT OR UPDATE ON prayer_completions
	FOR EACH ROW EXECUTE FUNCTION notify_completion_changed();
`

const recordColumns = "id, day, kind, completed, completed_at"

// Statements are registered as prepared statements on every pool connection.
var Statements = map[string]string{
	"completion_query": "SELECT " + recordColumns + " FROM prayer_completions WHERE day BETWEEN $1::date AND $2::date ORDER BY day, kind",
	"completion_get":   "SELECT " + recordColumns + " FROM prayer_completions WHERE day = $1::date AND kind = $2",
	"completion_clear": `
		UPDATE prayer_completions
		SET completed = false, completed_at = NULL, updated_at = NOW()
		WHERE day = $1::date AND kind = $2
		RETURNING ` + recordColumns,
	"completion_insert": `
		INSERT INTO prayer_completions (id, day, kind, completed, completed_at)
		VALUES ($1, $2::date, $3, true, $4)
		ON CONFLICT (day, kind) DO UPDATE
		SET completed = true, completed_at = EXCLUDED.completed_at, updated_at = NOW()
		RETURNING ` + recordColumns,
	"completion_toggle": `
		INSERT INTO prayer_completions (id, day, kind, completed, completed_at)
		VALUES ($1, $2::date, $3, true, $4)
		ON CONFLICT (day, kind) DO UPDATE
		SET completed = NOT prayer_completions.completed,
			completed_at = CASE WHEN prayer_completions.completed THEN NULL ELSE EXCLUDED.completed_at END,
			updated_at = NOW()
		RETURNING ` + recordColumns,
}

// --------------------------------------------------------------------------
// Postgres store
// --------------------------------------------------------------------------

// PGStore is the Postgres-backed Store. The pool must have Statements
// prepared (db.New does this).
type PGStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ Store = (*PGStore)(nil)

// NewPGStore wraps pool. now defaults to time.Now.
func NewPGStore(pool *pgxpool.Pool, now func() time.Time) *PGStore {
	if now == nil {
		now = time.Now
	}
	return &PGStore{pool: pool, now: now}
}

func (s *PGStore) Query(ctx context.Context, from, to time.Time) ([]Record, error) {
	rows, err := s.pool.Query(ctx, "completion_query", prayer.DateKey(from), prayer.DateKey(to))
	if err != nil {
		return nil, fmt.Errorf("%w: query completions: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan completion: %v", ErrStoreUnavailable, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	SortRecords(out)
	return out, nil
}

func (s *PGStore) Get(ctx context.Context, date time.Time, kind prayer.Kind) (Record, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx, "completion_get", prayer.DateKey(date), kind.Key()))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: get completion: %v", ErrStoreUnavailable, err)
	}
	return r, nil
}

func (s *PGStore) Upsert(ctx context.Context, date time.Time, kind prayer.Kind, completed bool) (Record, error) {
	if err := checkKind(kind); err != nil {
		return Record{}, err
	}
	day := prayer.DateKey(date)

	var (
		r   Record
		err error
	)
	if completed {
		r, err = scanRecord(s.pool.QueryRow(ctx, "completion_insert", uuid.New(), day, kind.Key(), s.now()))
	} else {
		r, err = scanRecord(s.pool.QueryRow(ctx, "completion_clear", day, kind.Key()))
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{Date: prayer.StartOfDay(date), Kind: kind}, nil
		}
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: set completion %s/%s: %v", ErrStoreUnavailable, day, kind, err)
	}
	return r, nil
}

func (s *PGStore) Toggle(ctx context.Context, date time.Time, kind prayer.Kind) (Record, error) {
	if err := checkKind(kind); err != nil {
		return Record{}, err
	}
	day := prayer.DateKey(date)
	r, err := scanRecord(s.pool.QueryRow(ctx, "completion_toggle", uuid.New(), day, kind.Key(), s.now()))
	if err != nil {
		return Record{}, fmt.Errorf("%w: toggle completion %s/%s: %v", ErrStoreUnavailable, day, kind, err)
	}
	return r, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		r    Record
		kind string
	)
	if err := row.Scan(&r.ID, &r.Date, &kind, &r.Completed, &r.CompletedAt); err != nil {
		return Record{}, err
	}
	k, err := prayer.ParseKind(kind)
	if err != nil {
		return Record{}, err
	}
	r.Kind = k
	return r, nil
}
