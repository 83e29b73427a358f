package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Predefined errors for store operations
var (
	ErrCategoryNotFound = errors.New("store: category not found")
	ErrCategoryInUse    = errors.New("store: category is referenced by listings or child categories")
	ErrListingNotFound  = errors.New("store: listing not found")
	ErrSlugExists       = errors.New("store: slug already exists")
)

// Advisory lock keys. Both locks are transaction scoped.
const (
	categoryTreeLockKey int64 = 0x636174_74726565 // "cattree"
	outboxRelayLockKey  int64 = 0x6f7574_72656c61 // "outrela"
)

//go:embed schema.sql
var schemaSQL string

// querier is the part of *sql.DB and *sql.Tx the store needs.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore implements CategoryStorer, ListingStorer and OutboxStorer using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore instance.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the catalog schema and its tables when they do not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("store: Migrate failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks the connection to the database.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// pgTx runs statements either inside a transaction or directly on the pool.
type pgTx struct {
	q querier
}

func (s *PostgresStore) direct() *pgTx {
	return &pgTx{q: s.db}
}

// withTx runs fn in a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise.
func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *pgTx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&pgTx{q: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("store: rollback failed: %w", rbErr))
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("store: failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) InCategoryTx(ctx context.Context, fn func(tx CategoryTx) error) error {
	return s.withTx(ctx, func(tx *pgTx) error { return fn(tx) })
}

func (s *PostgresStore) InListingTx(ctx context.Context, fn func(tx ListingTx) error) error {
	return s.withTx(ctx, func(tx *pgTx) error { return fn(tx) })
}

func (s *PostgresStore) InOutboxTx(ctx context.Context, fn func(tx OutboxTx) error) error {
	return s.withTx(ctx, func(tx *pgTx) error { return fn(tx) })
}

func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

const (
	codeUniqueViolation     pq.ErrorCode = "23505"
	codeForeignKeyViolation pq.ErrorCode = "23503"
)

// rowsAffectedOrNotFound turns a zero-row update or delete into notFound.
func rowsAffectedOrNotFound(result sql.Result, op string, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: %s failed to get rows affected: %w", op, err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
