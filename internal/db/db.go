package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Supported values for the database driver setting.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUsernameTaken = errors.New("username already exists")
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Open connects to the configured database. For sqlite the dsn is a file path.
func Open(driver, dsn string) (*sqlx.DB, error) {
	switch driver {
	case DriverSQLite, "":
		db, err := sqlx.Open("sqlite", sqliteDSN(dsn))
		if err != nil {
			return nil, err
		}
		// one writer; also keeps per-connection pragmas in effect
		db.SetMaxOpenConns(1)
		return db, db.Ping()
	case DriverPostgres:
		db, err := sqlx.Open("pgx", dsn)
		if err != nil {
			return nil, err
		}
		return db, db.Ping()
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Migrate creates the schema. It is idempotent and meant to run once before
// the server accepts traffic.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	stmts := sqliteSchema
	if isPostgres(db) {
		stmts = postgresSchema
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func isPostgres(db *sqlx.DB) bool {
	return sqlx.BindType(db.DriverName()) == sqlx.DOLLAR
}

var sqliteSchema = []string{
	`PRAGMA foreign_keys = ON;`,
	`CREATE TABLE IF NOT EXISTS users(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		profile_picture TEXT,
		created_at DATETIME NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS sessions(
		token TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		expiry DATETIME NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON sessions(expiry);`,
	`CREATE TABLE IF NOT EXISTS topics(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		creator_id INTEGER NOT NULL REFERENCES users(id),
		created_at DATETIME NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS posts(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		author_id INTEGER NOT NULL REFERENCES users(id),
		topic_id INTEGER NOT NULL REFERENCES topics(id),
		created_at DATETIME NOT NULL,
		like_count INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX IF NOT EXISTS idx_posts_topic ON posts(topic_id, id);`,
	`CREATE TABLE IF NOT EXISTS likes(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		post_id INTEGER NOT NULL REFERENCES posts(id),
		created_at DATETIME NOT NULL,
		UNIQUE(user_id, post_id)
	);`,
	`CREATE TABLE IF NOT EXISTS chat_messages(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		author_id INTEGER NOT NULL REFERENCES users(id),
		created_at DATETIME NOT NULL
	);`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users(
		id BIGSERIAL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		profile_picture TEXT,
		created_at TIMESTAMPTZ NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS sessions(
		token TEXT PRIMARY KEY,
		data BYTEA NOT NULL,
		expiry TIMESTAMPTZ NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON sessions(expiry);`,
	`CREATE TABLE IF NOT EXISTS topics(
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		creator_id BIGINT NOT NULL REFERENCES users(id),
		created_at TIMESTAMPTZ NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS posts(
		id BIGSERIAL PRIMARY KEY,
		content TEXT NOT NULL,
		author_id BIGINT NOT NULL REFERENCES users(id),
		topic_id BIGINT NOT NULL REFERENCES topics(id),
		created_at TIMESTAMPTZ NOT NULL,
		like_count INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX IF NOT EXISTS idx_posts_topic ON posts(topic_id, id);`,
	`CREATE TABLE IF NOT EXISTS likes(
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		post_id BIGINT NOT NULL REFERENCES posts(id),
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE(user_id, post_id)
	);`,
	`CREATE TABLE IF NOT EXISTS chat_messages(
		id BIGSERIAL PRIMARY KEY,
		content TEXT NOT NULL,
		author_id BIGINT NOT NULL REFERENCES users(id),
		created_at TIMESTAMPTZ NOT NULL
	);`,
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return sqliteConstraint(se, sqlite3.SQLITE_CONSTRAINT_UNIQUE, "UNIQUE") ||
			sqliteConstraint(se, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, "UNIQUE")
	}
	var pe *pgconn.PgError
	return errors.As(err, &pe) && pe.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return sqliteConstraint(se, sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY, "FOREIGN KEY")
	}
	var pe *pgconn.PgError
	return errors.As(err, &pe) && pe.Code == "23503"
}

// sqliteConstraint matches the extended result code, or the primary code plus
// message when extended codes are not reported.
func sqliteConstraint(se *sqlite.Error, extended int, msg string) bool {
	if se.Code() == extended {
		return true
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), msg)
}
