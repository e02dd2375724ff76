package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Backend names accepted by Options.Driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// dialect hides the few places where sqlite and postgres differ. Queries are
// written once with ? placeholders and rebound per backend.
type dialect struct {
	name       string
	driverName string
	schema     string
	rebind     func(string) string

	readVersion  func(context.Context, *sql.DB) (int, error)
	writeVersion func(context.Context, *sql.DB, int) error
}

func dialectFor(name string) (*dialect, error) {
	switch strings.ToLower(name) {
	case "", DriverSQLite, "sqlite3":
		return &dialect{
			name:       DriverSQLite,
			driverName: "sqlite3",
			schema:     sqliteSchemaSQL,
			rebind:     func(q string) string { return q },
			readVersion: func(ctx context.Context, db *sql.DB) (int, error) {
				var v int
				err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
				return v, err
			},
			writeVersion: func(ctx context.Context, db *sql.DB, v int) error {
				_, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v))
				return err
			},
		}, nil
	case DriverPostgres, "postgresql", "pg":
		return &dialect{
			name:       DriverPostgres,
			driverName: "postgres",
			schema:     postgresSchemaSQL,
			rebind:     rebindDollar,
			readVersion: func(ctx context.Context, db *sql.DB) (int, error) {
				var v int
				err := db.QueryRowContext(ctx, "SELECT version FROM schema_version WHERE id = 1").Scan(&v)
				if errors.Is(err, sql.ErrNoRows) {
					return 0, nil
				}
				return v, err
			},
			writeVersion: func(ctx context.Context, db *sql.DB, v int) error {
				_, err := db.ExecContext(ctx, `
					INSERT INTO schema_version (id, version) VALUES (1, $1)
					ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version
				`, v)
				return err
			},
		}, nil
	default:
		return nil, fmt.Errorf("ledger: unknown driver %q (want sqlite or postgres)", name)
	}
}

// rebindDollar rewrites ? placeholders as $1, $2, ... Queries in this package
// never contain a literal question mark.
func rebindDollar(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// isUniqueViolation reports whether err is a unique constraint failure from
// either backend.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
