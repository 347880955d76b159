package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists namespaces in a single SQLite table.
type SQLiteStore struct {
	conn   *sql.DB
	logger *zap.Logger
	path   string
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store database: %w", err)
	}
	// modernc's driver serialises writers; a single connection avoids SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{conn: conn, logger: logger.Named("store"), path: path}
	if err := s.initializeSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize store schema: %w", err)
	}

	s.logger.Debug("sqlite store opened", zap.String("path", path))
	return s, nil
}

func (s *SQLiteStore) initializeSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS kv (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (namespace, key)
		);

		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		);
		INSERT OR REPLACE INTO schema_version (version) VALUES (1);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// Get reads keys from a namespace.
func (s *SQLiteStore) Get(ctx context.Context, ns Namespace, keys ...string) (map[string][]byte, error) {
	if err := checkNamespace(ns); err != nil {
		return nil, err
	}

	query := `SELECT key, value FROM kv WHERE namespace = ?`
	args := []interface{}{string(ns)}
	if len(keys) > 0 {
		query += ` AND key IN (?` + strings.Repeat(",?", len(keys)-1) + `)`
		for _, k := range keys {
			args = append(args, k)
		}
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", ns, err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan %s: %w", ns, err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

// Set upserts values in one transaction.
func (s *SQLiteStore) Set(ctx context.Context, ns Namespace, data map[string][]byte) error {
	if err := checkNamespace(ns); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", ns, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO kv (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare %s: %w", ns, err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for k, v := range data {
		if _, err := stmt.ExecContext(ctx, string(ns), k, v, now); err != nil {
			return fmt.Errorf("upsert %s/%s: %w", ns, k, err)
		}
	}
	return tx.Commit()
}

// Remove deletes keys from a namespace.
func (s *SQLiteStore) Remove(ctx context.Context, ns Namespace, keys ...string) error {
	if err := checkNamespace(ns); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	query := `DELETE FROM kv WHERE namespace = ? AND key IN (?` + strings.Repeat(",?", len(keys)-1) + `)`
	args := []interface{}{string(ns)}
	for _, k := range keys {
		args = append(args, k)
	}
	if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete %s: %w", ns, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}
