package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"trade-ledger/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

// NewStore creates a new database store
func NewStore(databaseURL string, lockTimeout time.Duration) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, lockTimeout: lockTimeout}, nil
}

// NewWithDB wraps an existing connection pool
func NewWithDB(db *sqlx.DB, lockTimeout time.Duration) *Store {
	return &Store{db: db, lockTimeout: lockTimeout}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn inside one database transaction. Any error from fn rolls the
// whole transaction back; nothing fn wrote is visible unless it returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			return mapError(fmt.Errorf("failed to set lock timeout: %w", err))
		}
	}

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return mapError(err)
	}

	if err := sqlTx.Commit(); err != nil {
		return mapError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// Tx is a handle on one open transaction
type Tx struct {
	tx *sqlx.Tx
}

// Postgres error codes the ledger reacts to
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgSerializationFail   = "40001"
	pgDeadlockDetected    = "40P01"
	pgLockNotAvailable    = "55P03"
)

const pendingWithdrawalIndex = "wallet_transaction_one_pending_withdrawal"

// mapError translates driver errors into ledger error kinds, leaving already
// classified errors untouched.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case pgLockNotAvailable, pgDeadlockDetected, pgSerializationFail:
		return fmt.Errorf("%w: %v", models.ErrTransient, err)
	case pgUniqueViolation:
		if pqErr.Constraint == pendingWithdrawalIndex {
			return fmt.Errorf("%w: a withdrawal is already pending", models.ErrDuplicateRequest)
		}
	case pgForeignKeyViolation:
		return fmt.Errorf("%w: %v", models.ErrReferentialConflict, err)
	}
	return err
}
