package sqlitedriver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// DriverName is the database/sql driver name both builds register.
const DriverName = "sqlite3"

// Variant names the SQLite implementation compiled in: "sqlcipher" or "modernc".
func Variant() string {
	return variant
}

// Options tunes Open.
type Options struct {
	// Key enables SQLCipher encryption. Rejected when EncryptionSupported is false.
	Key string

	MaxOpenConns int
}

// Open opens a SQLite database at path in WAL mode with a pool sized for a single
// process. A ":memory:" path opens a private in-memory database.
func Open(ctx context.Context, path string, opts Options) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if opts.Key != "" && !EncryptionSupported {
		return nil, fmt.Errorf("sqlite encryption requested but this build has no SQLCipher support")
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 25
	}

	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL&_busy_timeout=5000", path)
	}

	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// Every connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(opts.MaxOpenConns)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if opts.Key != "" {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA key = '%s'", strings.ReplaceAll(opts.Key, "'", "''"))); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply encryption key: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
