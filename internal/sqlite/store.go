// Package sqlite is a single-node store.Store on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ramiqadoumi/engageflow/internal/domain"
	"github.com/ramiqadoumi/engageflow/internal/store"
)

// timeLayout is fixed width so that text comparison orders instants.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS opportunities (
	id                         TEXT PRIMARY KEY,
	owner_id                   TEXT    NOT NULL,
	target_type                TEXT    NOT NULL DEFAULT '',
	target_url                 TEXT    NOT NULL DEFAULT '',
	target_external_id         TEXT    NOT NULL,
	target_author              TEXT    NOT NULL DEFAULT '',
	target_author_headline     TEXT    NOT NULL DEFAULT '',
	target_title               TEXT    NOT NULL DEFAULT '',
	target_content             TEXT    NOT NULL DEFAULT '',
	target_company             TEXT    NOT NULL DEFAULT '',
	target_published_at        TEXT,
	target_metrics             BLOB,
	action_type                TEXT    NOT NULL,
	priority                   TEXT    NOT NULL DEFAULT 'low',
	suggested_text             TEXT    NOT NULL DEFAULT '',
	requires_approval          INTEGER NOT NULL DEFAULT 0,
	relevance_score            INTEGER NOT NULL DEFAULT 0,
	engagement_potential_score INTEGER NOT NULL DEFAULT 0,
	score                      BLOB,
	tags                       TEXT,
	reasoning                  TEXT    NOT NULL DEFAULT '',
	analysis_metadata          BLOB,
	status                     TEXT    NOT NULL,
	scheduled_for              TEXT,
	expires_at                 TEXT,
	attempted_at               TEXT,
	completed_at               TEXT,
	attempts_count             INTEGER NOT NULL DEFAULT 0,
	last_error                 TEXT    NOT NULL DEFAULT '',
	failure_kind               TEXT    NOT NULL DEFAULT '',
	skip_reason                TEXT    NOT NULL DEFAULT '',
	execution_result           BLOB,
	user_feedback              TEXT    NOT NULL DEFAULT '',
	claimed_by                 TEXT    NOT NULL DEFAULT '',
	claimed_at                 TEXT,
	discovery_source           TEXT    NOT NULL DEFAULT '',
	discovery_metadata         BLOB,
	created_at                 TEXT    NOT NULL,
	updated_at                 TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_opportunities_due ON opportunities(status, scheduled_for, created_at);
CREATE INDEX IF NOT EXISTS idx_opportunities_owner_status ON opportunities(owner_id, status);
CREATE UNIQUE INDEX IF NOT EXISTS opportunities_completed_unique
	ON opportunities(owner_id, target_external_id, action_type)
	WHERE status = 'completed';

CREATE TABLE IF NOT EXISTS owner_locks (
	owner_id   TEXT PRIMARY KEY,
	token      TEXT NOT NULL,
	expires_at TEXT NOT NULL
);
`

var dialect = store.Dialect{
	Placeholder: func(int) string { return "?" },
	Time: func(t *time.Time) any {
		if t == nil {
			return nil
		}
		return t.UTC().Format(timeLayout)
	},
	ScanTime: func(dst **time.Time) any { return timeText{dst} },
	Strings: func(s []string) any {
		if len(s) == 0 {
			return nil
		}
		b, _ := json.Marshal(s)
		return string(b)
	},
	ScanStrings: func(dst *[]string) any { return jsonStrings{dst} },
}

var (
	selectSQL = "SELECT " + store.ColumnList + " FROM opportunities"
	insertSQL = "INSERT INTO opportunities (" + store.ColumnList + ") VALUES (" +
		dialect.Placeholders(1, len(store.Columns)) + ")"
	updateSQL = "UPDATE opportunities SET " + dialect.Assignments(1) + " WHERE id = ?"
	claimSQL  = `UPDATE opportunities
		SET status = 'in_progress', claimed_by = ?, claimed_at = ?, updated_at = ?
		WHERE id = ?
		  AND status IN ('pending', 'scheduled')
		  AND (expires_at IS NULL OR expires_at > ?)
		RETURNING ` + store.ColumnList
)

// Store persists opportunities in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
// ":memory:" yields a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	if path == ":memory:" {
		dsn = "file::memory:?_txlock=immediate"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if path == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Opportunity, error) {
	return scanOpportunity(s.db.QueryRowContext(ctx, selectSQL+" WHERE id = ?", id), id)
}

func (s *Store) Create(ctx context.Context, o *domain.Opportunity) error {
	row, err := store.EncodeRow(o)
	if err != nil {
		return fmt.Errorf("create opportunity %s: %w", o.ID, err)
	}
	if _, err := s.db.ExecContext(ctx, insertSQL, row.Values(dialect)...); err != nil {
		return fmt.Errorf("create opportunity %s: %w", o.ID, mapWriteError(err, o))
	}
	return nil
}

func (s *Store) Update(ctx context.Context, id string, fn store.MutateFunc) (*domain.Opportunity, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	o, err := scanOpportunity(tx.QueryRowContext(ctx, selectSQL+" WHERE id = ?", id), id)
	if err != nil {
		return nil, err
	}
	if err := fn(o); err != nil {
		return nil, err
	}
	o.ID = id
	row, err := store.EncodeRow(o)
	if err != nil {
		return nil, fmt.Errorf("update opportunity %s: %w", id, err)
	}
	args := append(row.Values(dialect)[1:], id)
	if _, err := tx.ExecContext(ctx, updateSQL, args...); err != nil {
		return nil, fmt.Errorf("update opportunity %s: %w", id, mapWriteError(err, o))
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update %s: %w", id, err)
	}
	return o, nil
}

func (s *Store) Claim(ctx context.Context, id, workerID string, now time.Time) (*domain.Opportunity, error) {
	ts := dialect.Time(&now)
	o, err := scanOpportunity(s.db.QueryRowContext(ctx, claimSQL, workerID, ts, ts, id, ts), id)
	if err == nil {
		return o, nil
	}
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) {
		return nil, fmt.Errorf("claim opportunity %s: %w", id, err)
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, store.ClaimFailure(current, now)
}

func (s *Store) Find(ctx context.Context, f store.Filter) ([]*domain.Opportunity, error) {
	where, args := dialect.Where(f)
	q := selectSQL + where + store.OrderClause(f.OrderBy)
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("find opportunities: %w", err)
	}
	defer rows.Close()

	var out []*domain.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) Count(ctx context.Context, f store.Filter) (int, error) {
	where, args := dialect.Where(f)
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM opportunities"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count opportunities: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOpportunity(row scanner, id string) (*domain.Opportunity, error) {
	var sr store.Row
	if err := row.Scan(sr.Dest(dialect)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{ID: id}
		}
		return nil, fmt.Errorf("scan opportunity: %w", err)
	}
	return sr.Decode()
}

func mapWriteError(err error, o *domain.Opportunity) error {
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE &&
		strings.Contains(se.Error(), "opportunities.owner_id") {
		return &domain.DuplicateCompletionError{
			OwnerID:          o.OwnerID,
			TargetExternalID: o.Target.ExternalID,
			ActionType:       o.ActionType,
		}
	}
	return err
}

// timeText scans the fixed-width UTC text form into a *time.Time.
type timeText struct{ dst **time.Time }

func (s timeText) Scan(v any) error {
	var raw string
	switch x := v.(type) {
	case nil:
		*s.dst = nil
		return nil
	case string:
		raw = x
	case []byte:
		raw = string(x)
	case time.Time:
		t := x.UTC()
		*s.dst = &t
		return nil
	default:
		return fmt.Errorf("sqlite: cannot scan %T into time", v)
	}
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return fmt.Errorf("sqlite: parse time %q: %w", raw, err)
	}
	*s.dst = &t
	return nil
}

// jsonStrings scans a JSON array column into a []string.
type jsonStrings struct{ dst *[]string }

func (s jsonStrings) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		*s.dst = nil
		return nil
	case string:
		return json.Unmarshal([]byte(x), s.dst)
	case []byte:
		return json.Unmarshal(x, s.dst)
	}
	return fmt.Errorf("sqlite: cannot scan %T into []string", v)
}
