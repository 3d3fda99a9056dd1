package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver

	"tokenrelay/pkg/logging"
)

// sqliteSchemaVersion is stored in PRAGMA user_version.
const sqliteSchemaVersion = 1

var sqliteMigrations = []string{
	// version 1
	`CREATE TABLE IF NOT EXISTS kv (
		collection TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      BLOB NOT NULL,
		PRIMARY KEY (collection, key)
	)`,
}

// SQLiteStore keeps all collections in one kv table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and migrates it.
// ":memory:" opens a private in-memory database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, storageErr("open", "", errors.New("sqlite path is required"))
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, storageErr("open", "", fmt.Errorf("failed to create database directory: %w", err))
		}
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storageErr("open", "", fmt.Errorf("failed to open database: %w", err))
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storageErr("open", "", fmt.Errorf("failed to ping database: %w", err))
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, storageErr("migrate", "", err)
	}

	if path != ":memory:" {
		if err := os.Chmod(path, 0600); err != nil {
			logging.Warn("Store", "Failed to restrict database file mode: %v", err)
		}
	}

	logging.Debug("Store", "SQLite store initialized at %s", path)
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > sqliteSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, sqliteSchemaVersion)
	}

	for v := version; v < sqliteSchemaVersion; v++ {
		if _, err := s.db.ExecContext(ctx, sqliteMigrations[v]); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", v+1, err)
		}
		// PRAGMA does not accept bound parameters.
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			return fmt.Errorf("failed to record schema version %d: %w", v+1, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, collection, key string) ([]byte, error) {
	return sqliteGet(ctx, s.db, collection, key)
}

type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sqliteGet(ctx context.Context, q sqlQuerier, collection, key string) ([]byte, error) {
	var value []byte
	err := q.QueryRowContext(ctx, `SELECT value FROM kv WHERE collection = ? AND key = ?`, collection, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get", collection, err)
	}
	return value, nil
}

func (s *SQLiteStore) Put(ctx context.Context, collection, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (collection, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (collection, key) DO UPDATE SET value = excluded.value`,
		collection, key, value)
	if err != nil {
		return storageErr("put", collection, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, collection, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE collection = ? AND key = ?`, collection, key); err != nil {
		return storageErr("delete", collection, err)
	}
	return nil
}

func (s *SQLiteStore) Iterate(ctx context.Context, collection string) (iter.Seq2[string, []byte], error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE collection = ? ORDER BY key`, collection)
	if err != nil {
		return nil, storageErr("iterate", collection, err)
	}
	defer rows.Close()

	snapshot := make(map[string][]byte)
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, storageErr("iterate", collection, err)
		}
		snapshot[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate", collection, err)
	}
	return sortedSeq(snapshot), nil
}

// WithTransaction runs fn inside a SQL transaction.
func (s *SQLiteStore) WithTransaction(ctx context.Context, collection string, fn func(Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("transaction", collection, err)
	}

	tx := &sqliteTx{ctx: ctx, tx: sqlTx, collection: collection}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return storageErr("commit", collection, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type sqliteTx struct {
	ctx        context.Context
	tx         *sql.Tx
	collection string
}

func (t *sqliteTx) Get(key string) ([]byte, error) {
	return sqliteGet(t.ctx, t.tx, t.collection, key)
}

func (t *sqliteTx) Put(key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO kv (collection, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (collection, key) DO UPDATE SET value = excluded.value`,
		t.collection, key, value)
	if err != nil {
		return storageErr("put", t.collection, err)
	}
	return nil
}

func (t *sqliteTx) Delete(key string) error {
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM kv WHERE collection = ? AND key = ?`, t.collection, key); err != nil {
		return storageErr("delete", t.collection, err)
	}
	return nil
}
