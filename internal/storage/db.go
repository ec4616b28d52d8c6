// Package storage is the single-process, single-writer durable store
// described in spec §4.1: an embedded SQLite database holding users,
// conversations, and messages, opened through a versioned, idempotent
// migration chain modeled on the teacher's internal/service/sqlite
// schema-heal-on-every-open style.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentcore/deskrt/internal/apperr"
)

const (
	schemaVersionTable = "schema_version"
	baseSchemaVersion  = 1
	targetSchemaVersion = 3
)

// DB wraps the open *sql.DB handle. The storage layer is a process
// singleton: only one Store/DB pair should exist per process (spec §5).
type DB struct {
	handle *sql.DB
	path   string
}

// Open ensures a SQLite database exists under root (or at an explicit path
// override) and that its schema is at the current version. On a corrupted
// database file it backs the file up to <file>.backup.<unixnano> and
// reopens fresh, per spec §4.1 / §8 scenario 6.
func Open(ctx context.Context, root, pathOverride string) (*DB, error) {
	dbFile := strings.TrimSpace(pathOverride)
	if dbFile == "" {
		base := strings.TrimSpace(root)
		if base == "" {
			wd, _ := os.Getwd()
			base = wd
		}
		dir := filepath.Join(base, "db")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w: %v", apperr.Storage, err)
		}
		dbFile = filepath.Join(dir, "deskrt.db")
	} else if err := os.MkdirAll(filepath.Dir(dbFile), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w: %v", apperr.Storage, err)
	}

	handle, err := openAndMigrate(ctx, dbFile)
	if err != nil {
		if recoverErr := recoverCorrupt(dbFile); recoverErr != nil {
			return nil, fmt.Errorf("open %s and recover: %w: %v (recovery: %v)", dbFile, apperr.Storage, err, recoverErr)
		}
		handle, err = openAndMigrate(ctx, dbFile)
		if err != nil {
			return nil, fmt.Errorf("open %s after recovery: %w: %v", dbFile, apperr.Storage, err)
		}
	}
	return &DB{handle: handle, path: dbFile}, nil
}

func dsn(path string) string {
	return "file:" + path + "?cache=shared&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
}

func openAndMigrate(ctx context.Context, path string) (*sql.DB, error) {
	handle, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	handle.SetMaxOpenConns(1) // single connection: reads and writes are serialized through it

	_, _ = handle.ExecContext(ctx, "PRAGMA journal_mode=WAL")
	_, _ = handle.ExecContext(ctx, "PRAGMA busy_timeout=5000")
	_, _ = handle.ExecContext(ctx, "PRAGMA foreign_keys=ON")

	if err := ensureSchema(ctx, handle); err != nil {
		handle.Close()
		return nil, err
	}
	if err := runMigrations(ctx, handle); err != nil {
		handle.Close()
		return nil, err
	}
	return handle, nil
}

func recoverCorrupt(path string) error {
	if _, statErr := os.Stat(path); statErr != nil {
		// Nothing to back up; the open error was not about an existing file.
		return nil
	}
	backup := fmt.Sprintf("%s.backup.%d", path, time.Now().UnixNano())
	if err := os.Rename(path, backup); err != nil {
		return err
	}
	log.Printf("deskrt storage: backed up corrupt database to %s", backup)
	return nil
}

// Close closes the underlying handle.
func (d *DB) Close() error {
	if d == nil || d.handle == nil {
		return nil
	}
	return d.handle.Close()
}

// Path returns the on-disk database file path.
func (d *DB) Path() string { return d.path }

// Vacuum reclaims free space. Spec §4.1 names this as an explicit operation;
// the store triggers it opportunistically after bulk deletes (see
// Store.maybeVacuum) rather than on a separate timer, per SPEC_FULL §9.
func (d *DB) Vacuum(ctx context.Context) error {
	_, err := d.handle.ExecContext(ctx, "VACUUM")
	if err != nil {
		return fmt.Errorf("vacuum: %w: %v", apperr.Storage, err)
	}
	return nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS user (
    id         TEXT PRIMARY KEY,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS conversation (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL DEFAULT '',
    type        TEXT NOT NULL CHECK (type IN ('integrated','acp','codex')),
    extra       TEXT NOT NULL DEFAULT '{}',
    model       TEXT,
    status      TEXT NOT NULL CHECK (status IN ('pending','running','finished')) DEFAULT 'pending',
    user_id     TEXT NOT NULL DEFAULT 'system' REFERENCES user(id),
    created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_conversation_user_updated ON conversation(user_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS message (
    id               TEXT PRIMARY KEY,
    conversation_id  TEXT NOT NULL REFERENCES conversation(id) ON DELETE CASCADE,
    msg_id           TEXT,
    type             TEXT NOT NULL,
    content          TEXT NOT NULL DEFAULT '{}',
    position         TEXT NOT NULL DEFAULT 'left',
    status           TEXT NOT NULL DEFAULT 'pending',
    created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_message_conv_created ON message(conversation_id, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_message_conv_msgid ON message(conversation_id, msg_id);
`
	for _, stmt := range strings.Split(ddl, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w: %v (sql: %s)", apperr.Storage, err, stmt)
		}
	}
	return nil
}

// execer is the subset of *sql.DB that *sql.Tx also satisfies, letting the
// ensure-chain run unchanged against either a bare handle or a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// runMigrations applies the idempotent ensure-chain (healing partially
// applied schemas) then bumps schema_version monotonically, all inside one
// transaction so a mid-chain failure can't leave the schema half-migrated,
// mirroring the teacher's internal/service/sqlite migration style.
func runMigrations(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w: %v", apperr.Storage, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (version INTEGER NOT NULL)", schemaVersionTable)); err != nil {
		return fmt.Errorf("ensure schema_version table: %w: %v", apperr.Storage, err)
	}
	var count int
	if err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(1) FROM %s", schemaVersionTable)).Scan(&count); err != nil {
		return fmt.Errorf("count schema_version rows: %w: %v", apperr.Storage, err)
	}
	if count == 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s(version) VALUES (?)", schemaVersionTable), baseSchemaVersion); err != nil {
			return fmt.Errorf("seed schema_version: %w: %v", apperr.Storage, err)
		}
	}

	ensures := []func(context.Context, execer) error{
		ensureMessageRawMetaColumn,
		ensureConversationArchivedColumn,
	}
	for _, ensure := range ensures {
		if err := ensure(ctx, tx); err != nil {
			return err
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT COALESCE(MAX(version), ?) FROM %s", schemaVersionTable), baseSchemaVersion).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w: %v", apperr.Storage, err)
	}
	if current < targetSchemaVersion {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", schemaVersionTable)); err != nil {
			return fmt.Errorf("clear schema_version: %w: %v", apperr.Storage, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s(version) VALUES (?)", schemaVersionTable), targetSchemaVersion); err != nil {
			return fmt.Errorf("bump schema_version: %w: %v", apperr.Storage, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w: %v", apperr.Storage, err)
	}
	return nil
}

func ensureMessageRawMetaColumn(ctx context.Context, db execer) error {
	return ensureColumn(ctx, db, "message", "raw_meta", "TEXT")
}

func ensureConversationArchivedColumn(ctx context.Context, db execer) error {
	return ensureColumn(ctx, db, "conversation", "archived", "INTEGER NOT NULL DEFAULT 0")
}

func ensureColumn(ctx context.Context, db execer, table, column, decl string) error {
	exists, err := columnExists(ctx, db, table, column)
	if err != nil {
		return fmt.Errorf("check %s.%s: %w: %v", table, column, apperr.Storage, err)
	}
	if exists {
		return nil
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("add %s.%s: %w: %v", table, column, apperr.Storage, err)
	}
	return nil
}

func columnExists(ctx context.Context, db execer, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}
