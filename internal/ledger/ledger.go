package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/trungdo2789/mpl-candy/internal/model"
	"github.com/trungdo2789/mpl-candy/internal/sealer"
)

//go:embed schema_sqlite.sql
var sqliteSchemaSQL string

//go:embed schema_postgres.sql
var postgresSchemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added run_lock table
// 2 - Added partial index over incomplete rows
const currentSchemaVersion = model.LedgerSchemaVersion

// defaultPageSize is the keyset page size used by ListIncomplete.
const defaultPageSize = 100

const (
	metaSalt  = "sealer_salt"
	metaCheck = "sealer_check"
)

var checkPlaintext = []byte("candy-ledger-check")

// Options configures Open.
type Options struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string

	// DSN is a file path for sqlite or a connection string for postgres.
	DSN string

	// Passphrase derives the key that seals signing secrets.
	Passphrase string

	// PageSize overrides the ListIncomplete page size. Zero means 100.
	PageSize int
}

// Ledger is the durable allocation ledger.
type Ledger struct {
	db       *sql.DB
	dialect  *dialect
	sealer   *sealer.Sealer
	pageSize int
	now      func() time.Time
}

// Open creates or opens a ledger. Applies pragmas, schema and migrations,
// then loads (or creates) the sealing salt and verifies the passphrase.
//
// This function is idempotent - safe to call multiple times on the same DSN.
func Open(ctx context.Context, opts Options) (*Ledger, error) {
	d, err := dialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}
	if opts.DSN == "" {
		return nil, errors.New("ledger: dsn is empty")
	}
	if opts.Passphrase == "" {
		return nil, sealer.ErrEmptyPassphrase
	}

	db, err := sql.Open(d.driverName, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect ledger: %w", err)
	}

	if d.name == DriverSQLite {
		// SQLite only supports one writer at a time.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragmas: %w", err)
		}
	}

	if err := applySchema(ctx, db, d); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	l := &Ledger{
		db:       db,
		dialect:  d,
		pageSize: opts.PageSize,
		now:      time.Now,
	}
	if l.pageSize <= 0 {
		l.pageSize = defaultPageSize
	}

	if err := l.initSealer(ctx, opts.Passphrase); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// OpenSQLite opens a sqlite ledger at path.
func OpenSQLite(ctx context.Context, path, passphrase string) (*Ledger, error) {
	return Open(ctx, Options{Driver: DriverSQLite, DSN: path, Passphrase: passphrase})
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Driver returns the backend name.
func (l *Ledger) Driver() string {
	return l.dialect.name
}

// SetClock replaces the timestamp source. Used by tests and the simulator.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

func (l *Ledger) nowMillis() int64 {
	return l.now().UnixMilli()
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		// FULL: a committed row survives power loss, not just a process crash.
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(ctx context.Context, db *sql.DB, d *dialect) error {
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if err := runMigrations(ctx, db, d); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations from the stored version.
func runMigrations(ctx context.Context, db *sql.DB, d *dialect) error {
	version, err := d.readVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("ledger schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if version < 1 {
		if err := migrateToV1(ctx, db, d); err != nil {
			return err
		}
	}
	if version < 2 {
		if err := migrateToV2(ctx, db); err != nil {
			return err
		}
	}

	if err := d.writeVersion(ctx, db, currentSchemaVersion); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

// migrateToV1 adds the run lease table for ledgers created before v1.
func migrateToV1(ctx context.Context, db *sql.DB, d *dialect) error {
	ts := "INTEGER"
	if d.name == DriverPostgres {
		ts = "BIGINT"
	}
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS run_lock (
			id          INTEGER PRIMARY KEY CHECK (id = 1),
			owner       TEXT NOT NULL,
			acquired_at `+ts+` NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// migrateToV2 adds a partial index so ListIncomplete does not scan finished rows.
func migrateToV2(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_mint_records_incomplete
		ON mint_records(seq)
		WHERE mint_proof IS NULL OR delivery_proof IS NULL
	`)
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

// initSealer loads the salt from ledger_meta, creating it on first open, and
// checks the passphrase against the stored check value.
func (l *Ledger) initSealer(ctx context.Context, passphrase string) error {
	salt, err := l.metaValue(ctx, metaSalt)
	if err != nil {
		return err
	}
	if salt == nil {
		fresh, err := sealer.NewSalt()
		if err != nil {
			return err
		}
		if salt, err = l.putMeta(ctx, metaSalt, fresh); err != nil {
			return err
		}
	}

	s, err := sealer.New(passphrase, salt)
	if err != nil {
		return err
	}

	check, err := l.metaValue(ctx, metaCheck)
	if err != nil {
		return err
	}
	if check == nil {
		sealed, err := s.Seal(checkPlaintext)
		if err != nil {
			return err
		}
		if check, err = l.putMeta(ctx, metaCheck, sealed); err != nil {
			return err
		}
	}
	if _, err := s.Open(check); err != nil {
		if errors.Is(err, sealer.ErrOpen) {
			return ErrBadPassphrase
		}
		return err
	}

	l.sealer = s
	return nil
}

// metaValue returns nil with no error when the key is absent.
func (l *Ledger) metaValue(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := l.db.QueryRowContext(ctx, l.dialect.rebind(
		"SELECT value FROM ledger_meta WHERE key = ?"), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger meta %s: %w", key, err)
	}
	return value, nil
}

// putMeta inserts value unless the key exists, then returns the stored value.
// Two processes racing on a fresh ledger agree on whichever insert won.
func (l *Ledger) putMeta(ctx context.Context, key string, value []byte) ([]byte, error) {
	_, err := l.db.ExecContext(ctx, l.dialect.rebind(`
		INSERT INTO ledger_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO NOTHING
	`), key, value)
	if err != nil {
		return nil, fmt.Errorf("write ledger meta %s: %w", key, err)
	}
	stored, err := l.metaValue(ctx, key)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("write ledger meta %s: value missing after insert", key)
	}
	return stored, nil
}

// verifyPragma checks that a sqlite pragma is set to the expected value.
// Used for testing.
func (l *Ledger) verifyPragma(name, expected string) error {
	var value string
	if err := l.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
