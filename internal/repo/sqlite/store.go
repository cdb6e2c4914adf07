package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hamed0406/proxychecker/internal/domain"
	"github.com/hamed0406/proxychecker/internal/repo"
)

var _ repo.TargetStore = (*Store)(nil)
var _ repo.HistoryStore = (*Store)(nil)

// Store implements the registry and history ports on a SQLite file.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database file and runs migrations.
func New(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; also keeps ":memory:" databases on a single connection
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// uriPath escapes the characters that would end the path part of a SQLite
// URI filename; SQLite decodes %HH back when opening.
var uriPath = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

func dsn(path string) string {
	u := url.URL{
		Scheme:   "file",
		Opaque:   uriPath.Replace(path),
		RawQuery: "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
	}
	return u.String()
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS targets (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL,
	host       TEXT NOT NULL,
	port       INTEGER NOT NULL,
	scheme     TEXT NOT NULL DEFAULT 'http',
	path       TEXT NOT NULL DEFAULT '',
	test_url   TEXT NOT NULL DEFAULT '',
	interval   INTEGER NOT NULL DEFAULT 60,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_targets_type ON targets (type);

CREATE TABLE IF NOT EXISTS pings (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	target_id   INTEGER NOT NULL REFERENCES targets(id) ON DELETE CASCADE,
	ts          REAL NOT NULL,
	type        TEXT NOT NULL DEFAULT '',
	url         TEXT NOT NULL DEFAULT '',
	proxy       TEXT NOT NULL DEFAULT '',
	test_url    TEXT NOT NULL DEFAULT '',
	ok          INTEGER NOT NULL,
	status_code INTEGER,
	latency_ms  REAL,
	error       TEXT,
	headers     TEXT
);
CREATE INDEX IF NOT EXISTS idx_pings_target_ts ON pings (target_id, ts DESC, id DESC);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const targetCols = `id, name, type, host, port, scheme, path, test_url, interval, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTarget(row scanner) (domain.Target, error) {
	var (
		t                domain.Target
		kind             string
		created, updated string
	)
	err := row.Scan(&t.ID, &t.Name, &kind, &t.Host, &t.Port, &t.Scheme, &t.Path, &t.TestURL, &t.Interval, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Target{}, repo.ErrNotFound
	}
	if err != nil {
		return domain.Target{}, fmt.Errorf("scan target: %w", err)
	}
	t.Kind = domain.Kind(kind)
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return t, nil
}

// ---- TargetStore ----

func (s *Store) Create(ctx context.Context, in domain.TargetInput) (domain.Target, error) {
	t, err := in.Target()
	if err != nil {
		return domain.Target{}, err
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO targets (name, type, host, port, scheme, path, test_url, interval, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Name, string(t.Kind), t.Host, t.Port, t.Scheme, t.Path, t.TestURL, t.Interval,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return domain.Target{}, fmt.Errorf("insert target: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Target{}, fmt.Errorf("target id: %w", err)
	}
	t.ID = domain.TargetID(id)
	return t, nil
}

func (s *Store) Update(ctx context.Context, id domain.TargetID, p domain.TargetPatch) (domain.Target, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Target{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	cur, err := scanTarget(tx.QueryRowContext(ctx, `SELECT `+targetCols+` FROM targets WHERE id = ?`, id))
	if err != nil {
		return domain.Target{}, err
	}
	t, err := p.Apply(cur)
	if err != nil {
		return domain.Target{}, err
	}
	t.UpdatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE targets SET name = ?, type = ?, host = ?, port = ?, scheme = ?, path = ?, test_url = ?, interval = ?, updated_at = ?
		 WHERE id = ?`,
		t.Name, string(t.Kind), t.Host, t.Port, t.Scheme, t.Path, t.TestURL, t.Interval,
		t.UpdatedAt.Format(time.RFC3339Nano), id)
	if err != nil {
		return domain.Target{}, fmt.Errorf("update target: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Target{}, fmt.Errorf("commit: %w", err)
	}
	return t, nil
}

func (s *Store) Delete(ctx context.Context, id domain.TargetID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM pings WHERE target_id = ?`, id); err != nil {
		return fmt.Errorf("delete pings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM targets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	return tx.Commit()
}

func (s *Store) Get(ctx context.Context, id domain.TargetID) (domain.Target, error) {
	return scanTarget(s.db.QueryRowContext(ctx, `SELECT `+targetCols+` FROM targets WHERE id = ?`, id))
}

func (s *Store) List(ctx context.Context) ([]domain.Target, error) {
	return s.queryTargets(ctx, `SELECT `+targetCols+` FROM targets ORDER BY id`)
}

func (s *Store) ListByKind(ctx context.Context, kind domain.Kind) ([]domain.Target, error) {
	return s.queryTargets(ctx, `SELECT `+targetCols+` FROM targets WHERE type = ? ORDER BY id`, string(kind))
}

func (s *Store) queryTargets(ctx context.Context, q string, args ...any) ([]domain.Target, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
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

// Append inserts and prunes in one transaction. Ties on ts are broken by
// the autoincrement id, which is the insertion sequence.
func (s *Store) Append(ctx context.Context, id domain.TargetID, r domain.ProbeResult) error {
	rec := r.Record()
	headers, err := json.Marshal(rec.Headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var one int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM targets WHERE id = ?`, id).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repo.ErrNotFound
		}
		return fmt.Errorf("check target: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO pings (target_id, ts, type, url, proxy, test_url, ok, status_code, latency_ms, error, headers)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rec.TS, rec.Type, rec.URL, rec.Proxy, rec.TestURL, rec.OK, rec.StatusCode, rec.LatencyMS, rec.Error, string(headers))
	if err != nil {
		return fmt.Errorf("insert ping: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
DELETE FROM pings WHERE target_id = ? AND id NOT IN (
	SELECT id FROM pings WHERE target_id = ? ORDER BY ts DESC, id DESC LIMIT ?
)`, id, id, repo.HistoryCap)
	if err != nil {
		return fmt.Errorf("prune pings: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const pingCols = `id, ts, type, url, proxy, test_url, ok, status_code, latency_ms, error, headers`

func scanPing(row scanner) (domain.ProbeResult, error) {
	var (
		rec     domain.Record
		status  sql.NullInt64
		latency sql.NullFloat64
		errMsg  sql.NullString
		headers sql.NullString
	)
	if err := row.Scan(&rec.Seq, &rec.TS, &rec.Type, &rec.URL, &rec.Proxy, &rec.TestURL, &rec.OK, &status, &latency, &errMsg, &headers); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ProbeResult{}, repo.ErrNotFound
		}
		return domain.ProbeResult{}, fmt.Errorf("scan ping: %w", err)
	}
	if status.Valid {
		v := int(status.Int64)
		rec.StatusCode = &v
	}
	if latency.Valid {
		v := latency.Float64
		rec.LatencyMS = &v
	}
	if errMsg.Valid {
		v := errMsg.String
		rec.Error = &v
	}
	if headers.Valid && headers.String != "" && headers.String != "null" {
		if err := json.Unmarshal([]byte(headers.String), &rec.Headers); err != nil {
			return domain.ProbeResult{}, fmt.Errorf("decode headers: %w", err)
		}
	}
	return rec.Result(), nil
}

func (s *Store) Recent(ctx context.Context, id domain.TargetID, limit int) ([]domain.ProbeResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pingCols+` FROM pings WHERE target_id = ? ORDER BY ts DESC, id DESC LIMIT ?`,
		id, repo.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list pings: %w", err)
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
	return scanPing(s.db.QueryRowContext(ctx,
		`SELECT `+pingCols+` FROM pings WHERE target_id = ? ORDER BY ts DESC, id DESC LIMIT 1`, id))
}

func (s *Store) Clear(ctx context.Context, id domain.TargetID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pings WHERE target_id = ?`, id); err != nil {
		return fmt.Errorf("clear pings: %w", err)
	}
	return nil
}
