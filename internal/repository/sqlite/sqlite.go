// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite, so the binary builds without CGo and
// tests can use ":memory:" databases with no setup.
//
// CONNECTION POOL:
// The pool is capped at a single connection. SQLite allows one writer at a
// time anyway, and a single connection gives every statement and
// transaction a consistent view: a rating upsert can never interleave with
// the cascade of a movie deletion. It also keeps ":memory:" databases alive,
// since each new connection to ":memory:" would otherwise open an empty
// database.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLite's built-in LOWER() only folds ASCII, so "AMÉLIE" would never match
// a search for "amélie". unicode_lower folds with Go's Unicode tables and
// is what the movie search compares with.
func init() {
	sqlitedrv.MustRegisterDeterministicScalarFunction("unicode_lower", 1, unicodeLower)
}

func unicodeLower(_ *sqlitedrv.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return v, nil
	}
}

// DB wraps a sql.DB connection pool and implements the user, movie and
// rating repositories.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/catalog.db" → file-based database (persistent)
//   - ":memory:"        → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// dsn appends the connection pragmas. They are applied by the driver on
// every new connection, unlike a one-off PRAGMA statement.
//
//   - foreign_keys: SQLite leaves FK enforcement off by default
//   - busy_timeout: wait for a lock instead of failing with SQLITE_BUSY
//   - journal_mode=WAL: readers don't block the writer (file databases only)
func dsn(dbPath string) string {
	pragmas := []string{"_pragma=foreign_keys(1)", "_pragma=busy_timeout(5000)"}
	if dbPath != ":memory:" {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + strings.Join(pragmas, "&")
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable. Used by the health check.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate creates the schema. CREATE ... IF NOT EXISTS keeps it idempotent.
//
// ratings carries two integrity guarantees in the schema itself:
//   - UNIQUE(movie_id, user_id): one rating per user per movie
//   - movie_id REFERENCES movies ON DELETE CASCADE: no orphaned ratings,
//     even if a caller deletes a movie row without going through DeleteMovie
//
// movies.ratings_version counts rating writes per movie. It orders cached
// aggregates; see RatingAggregate.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			email         TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL DEFAULT '',
			github_id     INTEGER UNIQUE,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS movies (
			id           TEXT PRIMARY KEY,
			title        TEXT NOT NULL,
			description  TEXT NOT NULL DEFAULT '',
			release_year INTEGER NOT NULL,
			genre        TEXT NOT NULL DEFAULT '',
			director     TEXT NOT NULL DEFAULT '',
			created_by   TEXT NOT NULL REFERENCES users(id),
			imdb_id      TEXT,
			imdb_rank    REAL,
			actors       TEXT,
			aka          TEXT,
			imdb_url     TEXT,
			imdb_iv      TEXT,
			poster_url   TEXT,
			poster_image TEXT,
			photo_width  INTEGER,
			photo_height INTEGER,
			ratings_version INTEGER NOT NULL DEFAULT 0,
			created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_movies_created_at ON movies(created_at);
		CREATE INDEX IF NOT EXISTS idx_movies_created_by ON movies(created_by);
	`)
	if err != nil {
		return fmt.Errorf("creating movies table: %w", err)
	}

	// Databases created before ratings were versioned lack the column.
	var hasVersion int
	err = db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('movies') WHERE name = 'ratings_version'`,
	).Scan(&hasVersion)
	if err != nil {
		return fmt.Errorf("inspecting movies table: %w", err)
	}
	if hasVersion == 0 {
		_, err = db.conn.Exec(`ALTER TABLE movies ADD COLUMN ratings_version INTEGER NOT NULL DEFAULT 0`)
		if err != nil {
			return fmt.Errorf("adding movies.ratings_version: %w", err)
		}
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS ratings (
			id         TEXT PRIMARY KEY,
			movie_id   TEXT NOT NULL REFERENCES movies(id) ON DELETE CASCADE,
			user_id    TEXT NOT NULL REFERENCES users(id),
			score      INTEGER NOT NULL CHECK (score BETWEEN 1 AND 5),
			comment    TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (movie_id, user_id)
		);
		CREATE INDEX IF NOT EXISTS idx_ratings_user_id ON ratings(user_id);
	`)
	if err != nil {
		return fmt.Errorf("creating ratings table: %w", err)
	}

	return nil
}

// withTx runs fn inside a transaction. Any error from fn, or a panic, rolls
// the transaction back; otherwise it is committed.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	defer tx.Rollback() // no-op after Commit

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

// isConstraint reports whether err is the given SQLite constraint failure.
// The driver reports extended result codes; the message check covers a
// primary result code without the extension.
func isConstraint(err error, code int, label string) bool {
	var se *sqlitedrv.Error
	if errors.As(err, &se) && se.Code() == code {
		return true
	}
	return strings.Contains(err.Error(), label)
}

func isUniqueViolation(err error) bool {
	return isConstraint(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE, "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return isConstraint(err, sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY, "FOREIGN KEY constraint failed")
}

func isCheckViolation(err error) bool {
	return isConstraint(err, sqlite3.SQLITE_CONSTRAINT_CHECK, "CHECK constraint failed")
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
