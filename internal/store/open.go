package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib" // Registers the "pgx" database/sql driver.
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// Supported store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open selects the storage strategy for driver and returns ready-to-use
// stores. For "memory" the dsn is ignored and membership tracking degrades
// to NoMembership.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch driver {
	case DriverMemory:
		logger.Warn("using in-memory credential store; credentials are lost on restart " +
			"and group fan-out is limited to the sender")

		return &Backend{
			Credentials: NewMemoryCredentials(),
			Members:     NoMembership{},
		}, nil

	case DriverSQLite:
		db, err := openSQLite(dsn)
		if err != nil {
			return nil, err
		}

		return newSQLBackend(ctx, db, goose.DialectSQLite3, logger)

	case DriverPostgres:
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("store: opening postgres: %w", err)
		}

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: connecting to postgres: %w", err)
		}

		return newSQLBackend(ctx, db, goose.DialectPostgres, logger)

	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}

// openSQLite opens path with WAL pragmas applied to every pooled connection.
func openSQLite(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", path, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	return db, nil
}

func newSQLBackend(ctx context.Context, db *sql.DB, dialect goose.Dialect, logger *slog.Logger) (*Backend, error) {
	s, err := NewSQLStore(ctx, db, dialect, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("credential store ready", slog.String("dialect", string(dialect)))

	return &Backend{
		Credentials: s,
		Members:     s,
		closeFunc:   db.Close,
	}, nil
}
