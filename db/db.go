// Package db persists the relayer state: the exit ledger, fulfillment markers
// and per-chain scan windows. It wraps a GORM client over postgres (production)
// or sqlite (local runs and tests).
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	// InMemorySQLiteDSN creates an ephemeral in-memory SQLite database.
	InMemorySQLiteDSN = ":memory:"
)

var (
	gormConfig = &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	schemaModels = []any{
		&Exit{},
		&Fulfill{},
		&ScanRecord{},
	}
)

// Store is the exit ledger and scan watermark store.
// A Store returned inside Transaction is bound to that transaction.
type Store struct {
	client *gorm.DB
}

// Open connects to the configured database. With migrateSchema set the three
// tables are created or updated.
func Open(driver, dsn string, migrateSchema bool) (*Store, error) {
	var (
		client *gorm.DB
		err    error
	)

	switch driver {
	case DriverPostgres:
		client, err = gorm.Open(postgres.Open(dsn), gormConfig)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open postgres database")
		}
		sqlDB, err := client.DB()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get underlying sql.DB")
		}
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(20)
	case DriverSQLite:
		return openSQLite(dsn, migrateSchema)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	s := &Store{client: client}
	if migrateSchema {
		if err := s.Migrate(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// OpenInMemory opens a non-persistent SQLite database, used by tests.
func OpenInMemory() (*Store, error) {
	return openSQLite(InMemorySQLiteDSN, true)
}

func openSQLite(dsn string, migrateSchema bool) (*Store, error) {
	if dsn != InMemorySQLiteDSN && !strings.Contains(dsn, "?") {
		if dir := dirOf(dsn); dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, errors.Wrapf(err, "failed to create directory: %s", dir)
			}
		}
		dsn += "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}

	client, err := gorm.Open(sqlite.Open(dsn), gormConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open SQLite database")
	}

	sqlDB, err := client.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get underlying sql.DB")
	}
	// one connection: in-memory databases are per connection and sqlite
	// serializes writers anyway
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	s := &Store{client: client}
	if migrateSchema {
		if err := s.Migrate(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func dirOf(path string) string {
	i := strings.LastIndex(path, "/")
	if i <= 0 {
		return ""
	}
	return path[:i]
}

// Migrate creates the exits, fulfills and chain_scans tables.
func (s *Store) Migrate() error {
	if err := s.client.AutoMigrate(schemaModels...); err != nil {
		return errors.Wrap(err, "failed to auto-migrate database schema")
	}
	return nil
}

// Client exposes the underlying gorm handle.
func (s *Store) Client() *gorm.DB {
	return s.client
}

func (s *Store) Close() error {
	sqlDB, err := s.client.DB()
	if err != nil {
		return errors.Wrap(err, "failed to retrieve native sql.DB")
	}
	if err := sqlDB.Close(); err != nil {
		return errors.Wrap(err, "failed to close database connection")
	}
	return nil
}

// Transaction runs fn inside one database transaction. Everything fn writes
// through the given Store commits together or not at all.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.transaction(ctx, fn, nil)
}

// IsolatedTransaction is Transaction at serializable isolation where the
// database supports choosing it. Used for the pending-exit read so two relayer
// runs cannot select overlapping pages.
func (s *Store) IsolatedTransaction(ctx context.Context, fn func(tx *Store) error) error {
	var opts *sql.TxOptions
	if s.client.Dialector.Name() == DriverPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	return s.transaction(ctx, fn, opts)
}

func (s *Store) transaction(ctx context.Context, fn func(tx *Store) error, opts *sql.TxOptions) error {
	run := func(tx *gorm.DB) error {
		return fn(&Store{client: tx})
	}
	if opts != nil {
		return s.client.WithContext(ctx).Transaction(run, opts)
	}
	return s.client.WithContext(ctx).Transaction(run)
}
