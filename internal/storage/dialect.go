package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"pocketmoney/internal/core"
)

// Driver selects the SQL backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// IsValid returns true if the driver is supported.
func (d Driver) IsValid() bool {
	switch d {
	case DriverSQLite, DriverPostgres:
		return true
	default:
		return false
	}
}

func (d Driver) String() string { return string(d) }

// sqlDriverName is the name registered with database/sql.
func (d Driver) sqlDriverName() string {
	if d == DriverPostgres {
		return "postgres"
	}
	return "sqlite"
}

// sqliteDefaults are the connection settings the store relies on. Foreign
// keys carry the child cascades; an IMMEDIATE transaction lock and a busy
// timeout make concurrent writers queue instead of failing at commit.
var sqliteDefaults = []struct{ key, name, value string }{
	{"_pragma", "foreign_keys", "foreign_keys(1)"},
	{"_pragma", "busy_timeout", "busy_timeout(5000)"},
	{"_pragma", "journal_mode", "journal_mode(WAL)"},
	{"_txlock", "", "immediate"},
	{"_time_format", "", "sqlite"},
}

// SQLiteDSN turns a file path into a DSN with foreign keys and WAL enabled.
// A DSN that already has parameters keeps them and gains whichever defaults
// it does not set itself.
func SQLiteDSN(dsn string) string {
	path, rawQuery, _ := strings.Cut(dsn, "?")
	// A malformed query still yields the pairs parsed before the error.
	existing, _ := url.ParseQuery(rawQuery)

	params := []string{}
	if rawQuery != "" {
		params = append(params, rawQuery)
	}
	for _, d := range sqliteDefaults {
		if hasSQLiteParam(existing, d.key, d.name) {
			continue
		}
		params = append(params, d.key+"="+d.value)
	}
	if len(params) == 0 {
		return path
	}
	return path + "?" + strings.Join(params, "&")
}

// hasSQLiteParam reports whether key is set; for _pragma, whether the named
// pragma is among its values.
func hasSQLiteParam(q url.Values, key, pragma string) bool {
	vals, ok := q[key]
	if !ok {
		return false
	}
	if pragma == "" {
		return true
	}
	for _, v := range vals {
		name, _, _ := strings.Cut(v, "(")
		if strings.EqualFold(strings.TrimSpace(name), pragma) {
			return true
		}
	}
	return false
}

// rebind rewrites '?' placeholders to '$n' for PostgreSQL.
func rebind(driver Driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// mapError translates driver errors into core sentinels.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, core.ErrNotFound)
	case errors.Is(err, core.ErrNotFound),
		errors.Is(err, core.ErrInsufficientFunds),
		errors.Is(err, core.ErrBalanceChanged),
		errors.Is(err, core.ErrConflict):
		return fmt.Errorf("%s: %w", op, err)
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w", op, core.ErrConflict)
	case isForeignKeyViolation(err):
		return fmt.Errorf("%s: %w", op, core.ErrNotFound)
	default:
		return fmt.Errorf("%s: %w: %v", op, core.ErrStorage, err)
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
	}
	return false
}
