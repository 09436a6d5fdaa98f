package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/timing"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrCorrupt is returned when stored data violates the collection's invariants.
var ErrCorrupt = errors.New("storage: collection is corrupt")

// DB represents a wrapper around the SQL database connection.
type DB struct {
	conn *sql.DB
}

// Open creates a new database connection and ensures the schema is up to date.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer per collection; this also keeps ":memory:" databases on a
	// single connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Execute the schema to create tables if they don't exist.
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{conn: db}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Initialize writes the collection meta row if the collection is new.
// created becomes the collection's day zero.
func (db *DB) Initialize(ctx context.Context, created time.Time) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO col (id, created, created_mins_west, schema_version, schema_mod)
		VALUES (1, ?, ?, ?, ?)
	`, created.Unix(), timing.MinutesWest(created), SchemaVersion, created.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to initialize collection: %w", err)
	}
	return nil
}

// Begin starts a transaction. The caller must Commit or Rollback it.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Update runs fn in a transaction and commits it when fn succeeds.
func (db *DB) Update(ctx context.Context, fn func(*Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// View runs fn in a transaction that is always rolled back.
func (db *DB) View(ctx context.Context, fn func(*Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(tx)
}

// Tx is a collection transaction. All reads and writes of a unit of work go
// through one Tx so they commit or roll back together.
type Tx struct {
	tx   *sql.Tx
	usn  int64
	done bool
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if t.done {
		return errors.New("storage: transaction already closed")
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback discards the transaction. It is a no-op once the Tx is closed.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}

// Meta is the collection meta row.
type Meta struct {
	Created       time.Time
	SchemaVersion int
	SchemaMod     int64
	USN           int64
	Checkpoint    domain.Checkpoint
	ForceFull     bool
	LastUnburied  int64
}

// Meta reads the collection meta row.
func (t *Tx) Meta(ctx context.Context) (Meta, error) {
	var (
		m         Meta
		created   int64
		minsWest  int
		forceFull int
	)
	cp := &m.Checkpoint
	err := t.tx.QueryRowContext(ctx, `
		SELECT created, created_mins_west, schema_version, schema_mod, usn,
		       last_local_usn, last_remote_usn, last_schema_mod, last_sync,
		       force_full, last_unburied
		FROM col WHERE id = 1
	`).Scan(&created, &minsWest, &m.SchemaVersion, &m.SchemaMod, &m.USN,
		&cp.LocalUSN, &cp.RemoteUSN, &cp.SchemaMod, &cp.SyncedAt,
		&forceFull, &m.LastUnburied)
	if err != nil {
		if err == sql.ErrNoRows {
			return Meta{}, fmt.Errorf("%w: collection meta row missing", ErrCorrupt)
		}
		return Meta{}, fmt.Errorf("failed to read collection meta: %w", err)
	}
	m.Created = time.Unix(created, 0).In(timing.FixedZone(minsWest))
	m.ForceFull = forceFull != 0
	return m, nil
}

// AllocateUSN returns the usn for changes made in this transaction,
// advancing the collection counter on first use.
func (t *Tx) AllocateUSN(ctx context.Context) (int64, error) {
	if t.usn != 0 {
		return t.usn, nil
	}
	var usn int64
	err := t.tx.QueryRowContext(ctx, `UPDATE col SET usn = usn + 1 WHERE id = 1 RETURNING usn`).Scan(&usn)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate usn: %w", err)
	}
	t.usn = usn
	return usn, nil
}

// SetCheckpoint records a committed sync point and clears the full sync flag.
func (t *Tx) SetCheckpoint(ctx context.Context, cp domain.Checkpoint) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE col SET last_local_usn = ?, last_remote_usn = ?, last_schema_mod = ?,
		               last_sync = ?, force_full = 0
		WHERE id = 1
	`, cp.LocalUSN, cp.RemoteUSN, cp.SchemaMod, cp.SyncedAt)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// SetForceFull flags the collection so its next sync is a full sync.
func (t *Tx) SetForceFull(ctx context.Context, force bool) error {
	v := 0
	if force {
		v = 1
	}
	if _, err := t.tx.ExecContext(ctx, `UPDATE col SET force_full = ? WHERE id = 1`, v); err != nil {
		return fmt.Errorf("failed to set full sync flag: %w", err)
	}
	return nil
}

// SetSchemaMod marks a structural change, which forces the next sync to be full.
func (t *Tx) SetSchemaMod(ctx context.Context, ms int64) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE col SET schema_mod = ? WHERE id = 1`, ms); err != nil {
		return fmt.Errorf("failed to set schema modification time: %w", err)
	}
	return nil
}

// SetLastUnburied records the day buried cards were last restored.
func (t *Tx) SetLastUnburied(ctx context.Context, day int64) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE col SET last_unburied = ? WHERE id = 1`, day); err != nil {
		return fmt.Errorf("failed to set last unburied day: %w", err)
	}
	return nil
}

// NextPosition hands out the next new-queue position.
func (t *Tx) NextPosition(ctx context.Context) (int64, error) {
	var pos int64
	err := t.tx.QueryRowContext(ctx, `
		UPDATE col SET next_position = next_position + 1 WHERE id = 1 RETURNING next_position - 1
	`).Scan(&pos)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate new card position: %w", err)
	}
	return pos, nil
}
