package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/tunnelgate/internal/core/deployment"
	"github.com/artpar/tunnelgate/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens the ledger at path and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) RecordTransition(ctx context.Context, t *domain.Transition) error {
	return recordTransition(ctx, s.db, t)
}

func (s *SQLiteStore) CurrentState(ctx context.Context) (deployment.State, error) {
	return currentState(ctx, s.db)
}

func (s *SQLiteStore) ListTransitions(ctx context.Context, opts ListOptions) ([]domain.Transition, error) {
	return listTransitions(ctx, s.db, opts)
}

func (s *SQLiteStore) RecordSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	return recordSnapshot(ctx, s.db, snap)
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, name string) (*domain.Snapshot, error) {
	return getSnapshot(ctx, s.db, name)
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, opts ListOptions) ([]domain.Snapshot, error) {
	return listSnapshots(ctx, s.db, opts)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) RecordTransition(ctx context.Context, t *domain.Transition) error {
	return recordTransition(ctx, s.tx, t)
}

func (s *txSQLiteStore) CurrentState(ctx context.Context) (deployment.State, error) {
	return currentState(ctx, s.tx)
}

func (s *txSQLiteStore) ListTransitions(ctx context.Context, opts ListOptions) ([]domain.Transition, error) {
	return listTransitions(ctx, s.tx, opts)
}

func (s *txSQLiteStore) RecordSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	return recordSnapshot(ctx, s.tx, snap)
}

func (s *txSQLiteStore) GetSnapshot(ctx context.Context, name string) (*domain.Snapshot, error) {
	return getSnapshot(ctx, s.tx, name)
}

func (s *txSQLiteStore) ListSnapshots(ctx context.Context, opts ListOptions) ([]domain.Snapshot, error) {
	return listSnapshots(ctx, s.tx, opts)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Transitions
// =============================================================================

type transitionRow struct {
	ID        string `db:"id"`
	Seq       int64  `db:"seq"`
	FromState string `db:"from_state"`
	ToState   string `db:"to_state"`
	Detail    string `db:"detail"`
	CreatedAt string `db:"created_at"`
}

func recordTransition(ctx context.Context, exec executor, t *domain.Transition) error {
	query := `
		INSERT INTO transitions (id, seq, from_state, to_state, detail, created_at)
		VALUES (
			:id,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM transitions),
			:from_state, :to_state, :detail, :created_at
		)`

	row := map[string]any{
		"id":         t.ID,
		"from_state": string(t.From),
		"to_state":   string(t.To),
		"detail":     t.Detail,
		"created_at": t.CreatedAt.UTC().Format(timeLayout),
	}

	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: transitions.id") {
			return NewStoreError("RecordTransition", "transition", t.ID, "transition with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("RecordTransition", "transition", t.ID, err.Error(), err)
	}
	return nil
}

// currentState returns the target of the latest transition, or
// Uninitialized on an empty ledger.
func currentState(ctx context.Context, exec executor) (deployment.State, error) {
	var to string
	err := exec.GetContext(ctx, &to, `SELECT to_state FROM transitions ORDER BY seq DESC LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return deployment.StateUninitialized, nil
		}
		return "", NewStoreError("CurrentState", "transition", "", err.Error(), err)
	}
	return deployment.State(to), nil
}

func listTransitions(ctx context.Context, exec executor, opts ListOptions) ([]domain.Transition, error) {
	opts = opts.Normalize()

	var rows []transitionRow
	err := exec.SelectContext(ctx, &rows,
		`SELECT * FROM transitions ORDER BY seq DESC LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListTransitions", "transition", "", err.Error(), err)
	}

	out := make([]domain.Transition, 0, len(rows))
	for i := range rows {
		t, err := rowToTransition(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

func rowToTransition(row *transitionRow) (*domain.Transition, error) {
	createdAt, err := time.Parse(timeLayout, row.CreatedAt)
	if err != nil {
		return nil, NewStoreError("rowToTransition", "transition", row.ID, "failed to parse created_at", ErrInvalidData)
	}
	return &domain.Transition{
		ID:        row.ID,
		From:      deployment.State(row.FromState),
		To:        deployment.State(row.ToState),
		Detail:    row.Detail,
		CreatedAt: createdAt,
	}, nil
}

// =============================================================================
// Snapshots
// =============================================================================

type snapshotRow struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	Status    string `db:"status"`
	SizeBytes int64  `db:"size_bytes"`
	Encrypted bool   `db:"encrypted"`
	Error     string `db:"error"`
	CreatedAt string `db:"created_at"`
}

// recordSnapshot inserts the snapshot or updates the record with its ID.
func recordSnapshot(ctx context.Context, exec executor, snap *domain.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return NewStoreError("RecordSnapshot", "snapshot", snap.ID, err.Error(), ErrInvalidData)
	}

	query := `
		INSERT INTO snapshots (id, name, status, size_bytes, encrypted, error, created_at)
		VALUES (:id, :name, :status, :size_bytes, :encrypted, :error, :created_at)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			size_bytes = excluded.size_bytes,
			encrypted = excluded.encrypted,
			error = excluded.error`

	row := map[string]any{
		"id":         snap.ID,
		"name":       snap.Name,
		"status":     string(snap.Status),
		"size_bytes": snap.SizeBytes,
		"encrypted":  snap.Encrypted,
		"error":      snap.Error,
		"created_at": snap.CreatedAt.UTC().Format(timeLayout),
	}

	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		return NewStoreError("RecordSnapshot", "snapshot", snap.ID, err.Error(), err)
	}
	return nil
}

// getSnapshot returns the latest record for the snapshot directory name.
func getSnapshot(ctx context.Context, exec executor, name string) (*domain.Snapshot, error) {
	var row snapshotRow
	err := exec.GetContext(ctx, &row,
		`SELECT * FROM snapshots WHERE name = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetSnapshot", "snapshot", name, "snapshot not found", ErrNotFound)
		}
		return nil, NewStoreError("GetSnapshot", "snapshot", name, err.Error(), err)
	}
	return rowToSnapshot(&row)
}

func listSnapshots(ctx context.Context, exec executor, opts ListOptions) ([]domain.Snapshot, error) {
	opts = opts.Normalize()

	var rows []snapshotRow
	err := exec.SelectContext(ctx, &rows,
		`SELECT * FROM snapshots ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListSnapshots", "snapshot", "", err.Error(), err)
	}

	out := make([]domain.Snapshot, 0, len(rows))
	for i := range rows {
		snap, err := rowToSnapshot(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, nil
}

func rowToSnapshot(row *snapshotRow) (*domain.Snapshot, error) {
	createdAt, err := time.Parse(timeLayout, row.CreatedAt)
	if err != nil {
		return nil, NewStoreError("rowToSnapshot", "snapshot", row.ID, "failed to parse created_at", ErrInvalidData)
	}
	return &domain.Snapshot{
		ID:        row.ID,
		Name:      row.Name,
		Status:    domain.SnapshotStatus(row.Status),
		SizeBytes: row.SizeBytes,
		Encrypted: row.Encrypted,
		Error:     row.Error,
		CreatedAt: createdAt,
	}, nil
}
