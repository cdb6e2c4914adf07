package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/proxychecker/internal/domain"
	"github.com/hamed0406/proxychecker/internal/repo"
)

var _ repo.TargetStore = (*Store)(nil)
var _ repo.HistoryStore = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	s := &Store{pool: pool, log: log}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS targets (
  id         BIGSERIAL PRIMARY KEY,
  name       TEXT NOT NULL DEFAULT '',
  type       TEXT NOT NULL,
  host       TEXT NOT NULL,
  port       INTEGER NOT NULL,
  scheme     TEXT NOT NULL DEFAULT 'http',
  path       TEXT NOT NULL DEFAULT '',
  test_url   TEXT NOT NULL DEFAULT '',
  interval   INTEGER NOT NULL DEFAULT 60,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pings (
  id          BIGSERIAL PRIMARY KEY,
  target_id   BIGINT NOT NULL REFERENCES targets(id) ON DELETE CASCADE,
  ts          DOUBLE PRECISION NOT NULL,
  type        TEXT NOT NULL DEFAULT '',
  url         TEXT NOT NULL DEFAULT '',
  proxy       TEXT NOT NULL DEFAULT '',
  test_url    TEXT NOT NULL DEFAULT '',
  ok          BOOLEAN NOT NULL,
  status_code INTEGER NULL,
  latency_ms  DOUBLE PRECISION NULL,
  error       TEXT NULL,
  headers     JSONB NULL
);

CREATE INDEX IF NOT EXISTS idx_pings_target_ts ON pings (target_id, ts DESC, id DESC);
`

// Migrate applies the schema; safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

// ---- TargetStore ----

const targetCols = `id, name, type, host, port, scheme, path, test_url, interval, created_at, updated_at`

func scanTarget(row pgx.Row) (domain.Target, error) {
	var (
		t    domain.Target
		id   int64
		kind string
	)
	err := row.Scan(&id, &t.Name, &kind, &t.Host, &t.Port, &t.Scheme, &t.Path, &t.TestURL, &t.Interval, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Target{}, repo.ErrNotFound
	}
	if err != nil {
		return domain.Target{}, fmt.Errorf("scan target: %w", err)
	}
	t.ID = domain.TargetID(id)
	t.Kind = domain.Kind(kind)
	return t, nil
}

func (s *Store) Create(ctx context.Context, in domain.TargetInput) (domain.Target, error) {
	t, err := in.Target()
	if err != nil {
		return domain.Target{}, err
	}
	now := time.Now().UTC()
	return scanTarget(s.pool.QueryRow(ctx,
		`INSERT INTO targets (name, type, host, port, scheme, path, test_url, interval, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
		 RETURNING `+targetCols,
		t.Name, string(t.Kind), t.Host, t.Port, t.Scheme, t.Path, t.TestURL, t.Interval, now))
}

func (s *Store) Update(ctx context.Context, id domain.TargetID, p domain.TargetPatch) (domain.Target, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Target{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	cur, err := scanTarget(tx.QueryRow(ctx, `SELECT `+targetCols+` FROM targets WHERE id = $1 FOR UPDATE`, int64(id)))
	if err != nil {
		return domain.Target{}, err
	}
	t, err := p.Apply(cur)
	if err != nil {
		return domain.Target{}, err
	}
	t, err = scanTarget(tx.QueryRow(ctx,
		`UPDATE targets
		    SET name=$2, type=$3, host=$4, port=$5, scheme=$6, path=$7, test_url=$8, interval=$9, updated_at=now()
		  WHERE id=$1
		 RETURNING `+targetCols,
		int64(id), t.Name, string(t.Kind), t.Host, t.Port, t.Scheme, t.Path, t.TestURL, t.Interval))
	if err != nil {
		return domain.Target{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Target{}, fmt.Errorf("commit: %w", err)
	}
	return t, nil
}

func (s *Store) Delete(ctx context.Context, id domain.TargetID) error {
	// pings go with the target through ON DELETE CASCADE
	if _, err := s.pool.Exec(ctx, `DELETE FROM targets WHERE id = $1`, int64(id)); err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id domain.TargetID) (domain.Target, error) {
	return scanTarget(s.pool.QueryRow(ctx, `SELECT `+targetCols+` FROM targets WHERE id = $1`, int64(id)))
}

func (s *Store) List(ctx context.Context) ([]domain.Target, error) {
	return s.queryTargets(ctx, `SELECT `+targetCols+` FROM targets ORDER BY id`)
}

func (s *Store) ListByKind(ctx context.Context, kind domain.Kind) ([]domain.Target, error) {
	return s.queryTargets(ctx, `SELECT `+targetCols+` FROM targets WHERE type = $1 ORDER BY id`, string(kind))
}

func (s *Store) queryTargets(ctx context.Context, q string, args ...any) ([]domain.Target, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var out []domain.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ---- HistoryStore ----

// Append locks the target row so concurrent appends and deletes for the
// same target serialize; insert and prune commit together.
func (s *Store) Append(ctx context.Context, id domain.TargetID, r domain.ProbeResult) error {
	rec := r.Record()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var one int
	if err := tx.QueryRow(ctx, `SELECT 1 FROM targets WHERE id = $1 FOR UPDATE`, int64(id)).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repo.ErrNotFound
		}
		return fmt.Errorf("lock target: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO pings (target_id, ts, type, url, proxy, test_url, ok, status_code, latency_ms, error, headers)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		int64(id), rec.TS, rec.Type, rec.URL, rec.Proxy, rec.TestURL, rec.OK, rec.StatusCode, rec.LatencyMS, rec.Error, rec.Headers)
	if err != nil {
		return fmt.Errorf("insert ping: %w", err)
	}
	_, err = tx.Exec(ctx, `
DELETE FROM pings WHERE target_id = $1 AND id NOT IN (
  SELECT id FROM pings WHERE target_id = $1 ORDER BY ts DESC, id DESC LIMIT $2
)`, int64(id), repo.HistoryCap)
	if err != nil {
		return fmt.Errorf("prune pings: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const pingCols = `id, ts, type, url, proxy, test_url, ok, status_code, latency_ms, error, headers`

func scanPing(row pgx.Row) (domain.ProbeResult, error) {
	var rec domain.Record
	err := row.Scan(&rec.Seq, &rec.TS, &rec.Type, &rec.URL, &rec.Proxy, &rec.TestURL, &rec.OK,
		&rec.StatusCode, &rec.LatencyMS, &rec.Error, &rec.Headers)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ProbeResult{}, repo.ErrNotFound
	}
	if err != nil {
		return domain.ProbeResult{}, fmt.Errorf("scan ping: %w", err)
	}
	return rec.Result(), nil
}

func (s *Store) Recent(ctx context.Context, id domain.TargetID, limit int) ([]domain.ProbeResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pingCols+` FROM pings WHERE target_id = $1 ORDER BY ts DESC, id DESC LIMIT $2`,
		int64(id), repo.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("recent: %w", err)
	}
	defer rows.Close()

	out := []domain.ProbeResult{}
	for rows.Next() {
		r, err := scanPing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Latest(ctx context.Context, id domain.TargetID) (domain.ProbeResult, error) {
	return scanPing(s.pool.QueryRow(ctx,
		`SELECT `+pingCols+` FROM pings WHERE target_id = $1 ORDER BY ts DESC, id DESC LIMIT 1`, int64(id)))
}

func (s *Store) Clear(ctx context.Context, id domain.TargetID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM pings WHERE target_id = $1`, int64(id)); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	s.log.Debug("history_cleared", zap.Int64("target_id", int64(id)))
	return nil
}
