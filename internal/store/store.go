// Package store persists novel projects and their narrative entities in
// SQLite. It owns the schema, additive column migrations, and the named
// queries the generation pipeline runs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/leew666/aiNovel/internal/logging"
)

// DBTX abstracts over *sql.DB, *sql.Conn, and *sql.Tx so the same query
// methods serve the shared pool, a pinned worker session, and a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries bundles every named query over one DBTX.
type Queries struct {
	db DBTX
}

// New wraps a DBTX in a query set.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Store is the process-wide handle. Its embedded Queries run on the shared
// connection pool; parallel pipeline workers take a Session each instead.
type Store struct {
	db *sql.DB
	*Queries
}

// Open opens (creating if needed) the database at path, applies the schema
// and any pending column migrations, and returns the store.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	logging.Named("store").Infow("database ready", "path", path)
	return &Store{db: db, Queries: New(db)}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for maintenance commands.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a transaction on the shared pool, rolling back
// if fn returns an error.
func (s *Store) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(New(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.Named("store").Warnw("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}

// Session pins one dedicated connection. Each parallel pipeline worker owns
// a session for the duration of its task so statement interleaving between
// workers never shares a connection.
func (s *Store) Session(ctx context.Context) (*Session, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: acquire session: %w", err)
	}
	return &Session{conn: conn, Queries: New(conn)}, nil
}

// Session is a pinned single-connection view of the store.
type Session struct {
	conn *sql.Conn
	*Queries
}

// Close returns the connection to the pool.
func (s *Session) Close() error {
	return s.conn.Close()
}

// WithTx runs fn inside a transaction on the session's connection, rolling
// back if fn returns an error.
func (s *Session) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(New(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.Named("store").Warnw("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	name               TEXT NOT NULL,
	genre              TEXT NOT NULL DEFAULT '',
	tags               TEXT NOT NULL DEFAULT '',
	description        TEXT NOT NULL DEFAULT '',
	planning_text      TEXT NOT NULL DEFAULT '',
	world_building_raw TEXT NOT NULL DEFAULT '',
	outline_raw        TEXT NOT NULL DEFAULT '',
	spoiler_config     TEXT NOT NULL DEFAULT '',
	stage              TEXT NOT NULL DEFAULT 'created',
	current_step       INTEGER NOT NULL DEFAULT 0,
	created_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS volumes (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id    INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	ordinal       INTEGER NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	summary       TEXT NOT NULL DEFAULT '',
	volume_config TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(project_id, ordinal)
);

CREATE TABLE IF NOT EXISTS chapters (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id           INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	volume_id            INTEGER REFERENCES volumes(id) ON DELETE SET NULL,
	ordinal              INTEGER NOT NULL,
	title                TEXT NOT NULL DEFAULT '',
	outline              TEXT NOT NULL DEFAULT '',
	detail_outline       TEXT,
	content              TEXT NOT NULL DEFAULT '',
	summary              TEXT,
	word_count           INTEGER NOT NULL DEFAULT 0,
	key_events           TEXT NOT NULL DEFAULT '[]',
	characters_involved  TEXT NOT NULL DEFAULT '[]',
	quality_report       TEXT NOT NULL DEFAULT '',
	created_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(project_id, ordinal)
);

CREATE TABLE IF NOT EXISTS characters (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id    INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name          TEXT NOT NULL,
	archetype     TEXT NOT NULL DEFAULT '',
	description   TEXT NOT NULL DEFAULT '',
	traits        TEXT NOT NULL DEFAULT '{}',
	goals         TEXT NOT NULL DEFAULT '',
	catchphrases  TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT '',
	mood          TEXT NOT NULL DEFAULT '',
	relationships TEXT NOT NULL DEFAULT '{}',
	memories      TEXT NOT NULL DEFAULT '[]',
	keywords      TEXT NOT NULL DEFAULT '[]',
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS world_items (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id  INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	kind        TEXT NOT NULL,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	properties  TEXT NOT NULL DEFAULT '{}',
	keywords    TEXT NOT NULL DEFAULT '[]',
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS plot_arcs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id       INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	title            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'planted',
	importance       TEXT NOT NULL DEFAULT 'medium',
	planted_chapter  INTEGER NOT NULL DEFAULT 0,
	resolved_chapter INTEGER,
	keywords         TEXT NOT NULL DEFAULT '[]',
	related_characters TEXT NOT NULL DEFAULT '[]',
	notes            TEXT NOT NULL DEFAULT '',
	embedding        TEXT,
	created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS style_profiles (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id    INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name          TEXT NOT NULL,
	source_sample TEXT NOT NULL DEFAULT '',
	features      TEXT NOT NULL DEFAULT '{}',
	style_guide   TEXT NOT NULL DEFAULT '',
	is_active     INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_projects_name ON projects(name);
CREATE INDEX IF NOT EXISTS idx_chapters_project ON chapters(project_id, ordinal);
CREATE INDEX IF NOT EXISTS idx_characters_project ON characters(project_id);
CREATE INDEX IF NOT EXISTS idx_world_items_project ON world_items(project_id);
CREATE INDEX IF NOT EXISTS idx_plot_arcs_project ON plot_arcs(project_id, status);
CREATE INDEX IF NOT EXISTS idx_style_profiles_project ON style_profiles(project_id);
`
