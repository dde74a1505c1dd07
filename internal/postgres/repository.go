package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ramiqadoumi/engageflow/internal/domain"
	"github.com/ramiqadoumi/engageflow/internal/store"
)

const uniqueCompletionIndex = "opportunities_completed_unique"

// DB is the subset of pgxpool.Pool the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var dialect = store.Dialect{
	Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	Time: func(t *time.Time) any {
		if t == nil {
			return nil
		}
		return *t
	},
	ScanTime:    func(dst **time.Time) any { return dst },
	Strings:     func(s []string) any { return s },
	ScanStrings: func(dst *[]string) any { return dst },
}

var (
	selectSQL = "SELECT " + store.ColumnList + " FROM opportunities"
	insertSQL = "INSERT INTO opportunities (" + store.ColumnList + ") VALUES (" +
		dialect.Placeholders(1, len(store.Columns)) + ")"
	updateSQL = "UPDATE opportunities SET " + dialect.Assignments(2) + " WHERE id = $1"
	claimSQL  = `UPDATE opportunities
		SET status = 'in_progress', claimed_by = $2, claimed_at = $3, updated_at = $3
		WHERE id = $1
		  AND status = ANY($4)
		  AND (expires_at IS NULL OR expires_at > $3)
		RETURNING ` + store.ColumnList
)

type repository struct {
	db DB
}

// NewRepository wraps a pgx pool (or any DB) as a store.Store.
func NewRepository(db DB) store.Store {
	return &repository{db: db}
}

// NewPool creates a pgxpool and verifies connectivity. configure may adjust
// the parsed config before the pool is built.
func NewPool(ctx context.Context, dsn string, configure ...func(*pgxpool.Config)) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	for _, fn := range configure {
		fn(cfg)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

func (r *repository) Get(ctx context.Context, id string) (*domain.Opportunity, error) {
	return scanOpportunity(r.db.QueryRow(ctx, selectSQL+" WHERE id = $1", id), id)
}

func (r *repository) Create(ctx context.Context, o *domain.Opportunity) error {
	row, err := store.EncodeRow(o)
	if err != nil {
		return fmt.Errorf("create opportunity %s: %w", o.ID, err)
	}
	if _, err := r.db.Exec(ctx, insertSQL, row.Values(dialect)...); err != nil {
		return fmt.Errorf("create opportunity %s: %w", o.ID, mapWriteError(err, o))
	}
	return nil
}

func (r *repository) Update(ctx context.Context, id string, fn store.MutateFunc) (*domain.Opportunity, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin update %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOpportunity(tx.QueryRow(ctx, selectSQL+" WHERE id = $1 FOR UPDATE", id), id)
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
	if _, err := tx.Exec(ctx, updateSQL, row.Values(dialect)...); err != nil {
		return nil, fmt.Errorf("update opportunity %s: %w", id, mapWriteError(err, o))
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update %s: %w", id, mapWriteError(err, o))
	}
	return o, nil
}

func (r *repository) Claim(ctx context.Context, id, workerID string, now time.Time) (*domain.Opportunity, error) {
	now = now.UTC()
	o, err := scanOpportunity(
		r.db.QueryRow(ctx, claimSQL, id, workerID, now, store.StatusStrings(domain.ClaimableStatuses)),
		id,
	)
	if err == nil {
		return o, nil
	}
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) {
		return nil, fmt.Errorf("claim opportunity %s: %w", id, err)
	}
	// The CAS matched nothing: explain why from the row as it is now.
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, store.ClaimFailure(current, now)
}

func (r *repository) Find(ctx context.Context, f store.Filter) ([]*domain.Opportunity, error) {
	where, args := dialect.Where(f)
	sql := selectSQL + where + store.OrderClause(f.OrderBy)
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := r.db.Query(ctx, sql, args...)
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

func (r *repository) Count(ctx context.Context, f store.Filter) (int, error) {
	where, args := dialect.Where(f)
	var n int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM opportunities"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count opportunities: %w", err)
	}
	return n, nil
}

// scanOpportunity reads an opportunity row from any pgx row type.
func scanOpportunity(row pgx.Row, id string) (*domain.Opportunity, error) {
	var sr store.Row
	if err := row.Scan(sr.Dest(dialect)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.NotFoundError{ID: id}
		}
		return nil, fmt.Errorf("scan opportunity: %w", err)
	}
	return sr.Decode()
}

// mapWriteError turns the completed-uniqueness violation into its domain error.
func mapWriteError(err error, o *domain.Opportunity) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == uniqueCompletionIndex {
		return &domain.DuplicateCompletionError{
			OwnerID:          o.OwnerID,
			TargetExternalID: o.Target.ExternalID,
			ActionType:       o.ActionType,
		}
	}
	return err
}
