// Package sqlite is the authoritative persistence/query service: it
// implements every repository contract on top of an embedded SQLite file.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite, so the server builds without a C
// toolchain and tests run against ":memory:" databases with no setup.
//
// WRITE PATH:
// Every committed write is followed by a push event to the configured
// Publisher. Subscribers therefore learn about changes made by any session,
// including the one that issued the write; the core deduplicates
// structurally (same id, same slot), not by event identity.
//
// ERROR DECODING:
// SQLite constraint failures are decoded here, once, into apperror kinds
// (UNIQUE -> Conflict, CHECK -> Validation). Ownership mismatches become
// PermissionDenied. Everything else is wrapped as Unknown with context.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/progress-tracker/internal/apperror"
	"github.com/sakif/progress-tracker/internal/model"
	"github.com/sakif/progress-tracker/internal/repository"
)

var (
	_ repository.Remote          = (*DB)(nil)
	_ repository.OwnerRepository = (*DB)(nil)
)

// Publisher receives a change after it has been committed.
type Publisher interface {
	Publish(ownerID string, ch model.Change)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, model.Change) {}

// DB wraps a sql.DB connection pool and implements the repositories.
type DB struct {
	conn      *sql.DB
	publisher Publisher
	now       func() time.Time
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/tracker.db"  file-based, persistent
//   - ":memory:"         in-memory, used by tests
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// An in-memory database lives and dies with its connection. Pinning the
	// pool to one connection keeps every query on the same database.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in progress.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn, publisher: nopPublisher{}, now: time.Now}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}
	return db, nil
}

// SetPublisher installs the push service that committed writes are
// announced to. Passing nil disables publishing.
func (db *DB) SetPublisher(p Publisher) {
	if p == nil {
		p = nopPublisher{}
	}
	db.publisher = p
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			github_id  INTEGER NOT NULL UNIQUE,
			login      TEXT NOT NULL,
			email      TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS projects (
			id           TEXT PRIMARY KEY,
			owner_id     TEXT NOT NULL,
			title        TEXT NOT NULL CHECK (length(trim(title)) > 0),
			description  TEXT NOT NULL DEFAULT '',
			category     TEXT NOT NULL DEFAULT '',
			role         TEXT NOT NULL DEFAULT '',
			technologies TEXT NOT NULL DEFAULT '[]',
			image_url    TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL CHECK (status IN ('in_progress', 'completed', 'upcoming')),
			achievements TEXT NOT NULL DEFAULT '[]',
			links        TEXT NOT NULL DEFAULT '{}',
			xp_value     INTEGER NOT NULL DEFAULT 0 CHECK (xp_value >= 0),
			created_at   DATETIME NOT NULL,
			updated_at   DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating projects table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS portfolios (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL UNIQUE,
			display_name   TEXT NOT NULL DEFAULT '',
			bio            TEXT NOT NULL DEFAULT '',
			avatar_url     TEXT NOT NULL DEFAULT '',
			total_projects INTEGER NOT NULL DEFAULT 0,
			total_xp       INTEGER NOT NULL DEFAULT 0,
			share_slug     TEXT UNIQUE,
			created_at     DATETIME NOT NULL,
			updated_at     DATETIME NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating portfolios table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS gamification_stats (
			id                 TEXT PRIMARY KEY,
			user_id            TEXT NOT NULL UNIQUE,
			total_xp           INTEGER NOT NULL DEFAULT 0,
			level              INTEGER NOT NULL DEFAULT 1,
			streak_days        INTEGER NOT NULL DEFAULT 0,
			last_activity_date DATETIME,
			updated_at         DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_stats_xp ON gamification_stats(total_xp DESC);
	`)
	if err != nil {
		return fmt.Errorf("creating gamification_stats table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS daily_goals (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			title        TEXT NOT NULL,
			description  TEXT NOT NULL DEFAULT '',
			reward_xp    INTEGER NOT NULL DEFAULT 0,
			status       TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'completed')),
			goal_date    TEXT NOT NULL,
			completed_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_goals_owner_date ON daily_goals(user_id, goal_date);
	`)
	if err != nil {
		return fmt.Errorf("creating daily_goals table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS badges (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			badge_id    TEXT NOT NULL,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			icon        TEXT NOT NULL DEFAULT '',
			xp_value    INTEGER NOT NULL DEFAULT 0,
			unlocked    INTEGER NOT NULL DEFAULT 0,
			unlocked_at DATETIME,
			UNIQUE (user_id, badge_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating badges table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS weekly_challenges (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			title           TEXT NOT NULL,
			description     TEXT NOT NULL DEFAULT '',
			reward_xp       INTEGER NOT NULL DEFAULT 0,
			progress        INTEGER NOT NULL DEFAULT 0,
			target_progress INTEGER NOT NULL,
			deadline        DATETIME NOT NULL,
			status          TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'completed', 'expired'))
		);
		CREATE INDEX IF NOT EXISTS idx_challenges_owner ON weekly_challenges(user_id, deadline);
	`)
	if err != nil {
		return fmt.Errorf("creating weekly_challenges table: %w", err)
	}

	return nil
}

// withinTx runs fn inside a transaction, rolling back on error or panic.
func (db *DB) withinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("sqlite: rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", decodeErr(err))
	}
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// decodeErr maps SQLite result codes onto the apperror taxonomy.
func decodeErr(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return apperror.FromCode(apperror.CodeUniqueViolation, sqlErr.Error())
		case sqlite3.SQLITE_CONSTRAINT_CHECK, sqlite3.SQLITE_CONSTRAINT_NOTNULL:
			return apperror.FromCode(apperror.CodeValidation, sqlErr.Error())
		}
	}
	return apperror.Unknown(err.Error())
}

// ownership explains why an owner-scoped write matched no row: the id does
// not exist (NotFound) or belongs to another owner (PermissionDenied).
func ownership(ctx context.Context, q queryer, table, ownerColumn, resource, id, ownerID string) error {
	var actual string
	err := q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, ownerColumn, table), id,
	).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return apperror.NotFound(resource, id)
	}
	if err != nil {
		return fmt.Errorf("sqlite: checking %s ownership: %w", resource, decodeErr(err))
	}
	if actual != ownerID {
		return apperror.PermissionDenied(fmt.Sprintf("%s %s belongs to another owner", resource, id))
	}
	return nil
}

// rowsAffected returns how many rows res touched.
func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", decodeErr(err))
	}
	return n, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
