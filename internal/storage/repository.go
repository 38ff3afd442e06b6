package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Store owns the connection pool. Reads go through the embedded Queries,
// writes that must be atomic go through WithTx.
type Store struct {
	*Queries
	db     *sql.DB
	driver Driver
}

// Open connects, pings and migrates the database behind dsn.
// For SQLite dsn may be a plain file path.
func Open(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	if !driver.IsValid() {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if driver == DriverSQLite {
		path := strings.SplitN(dsn, "?", 2)[0]
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
		dsn = SQLiteDSN(dsn)
	}

	db, err := sql.Open(driver.sqlDriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(driver, dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	slog.InfoContext(ctx, "Database ready", "driver", driver)

	return &Store{
		Queries: New(db, driver),
		db:      db,
		driver:  driver,
	}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return mapError("ping", err)
	}
	return nil
}

// Driver returns the backend in use.
func (s *Store) Driver() Driver { return s.driver }

// DB exposes the pool for tests and tooling.
func (s *Store) DB() *sql.DB { return s.db }

// WithTx runs fn inside a transaction. It commits when fn returns nil and
// rolls back on error or panic; a panic is re-raised after the rollback.
func (s *Store) WithTx(ctx context.Context, fn func(q *Queries) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError("begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				slog.ErrorContext(ctx, "Rollback failed", "error", rbErr)
			}
		}
	}()

	if err = fn(s.Queries.WithTx(tx)); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return mapError("commit transaction", err)
	}
	return nil
}
