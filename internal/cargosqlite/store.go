// Package cargosqlite provides a sqlite-backed key/value store — the
// concrete backing for the cargo-sqlite library named in spec §1 as
// external/out-of-scope. Only a KVStore interface implementation is
// provided here (no SQL schema design tool, no migrations DSL): callers
// needing structured tables (internal/registry) layer their own schema on
// top of Open's *sql.DB.
package cargosqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store is a generic string-keyed, string-valued KVStore, persisted via
// pure-Go sqlite (no cgo required).
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a sqlite database at path in WAL mode
// and ensures the kv table exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cargosqlite: open %s: %w", path, err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("cargosqlite: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		k TEXT PRIMARY KEY,
		v TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("cargosqlite: create kv table: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying *sql.DB for packages (internal/registry) that
// need their own tables in the same database file.
func (s *Store) DB() *sql.DB { return s.db }

// Get returns the value for key and whether it was present.
func (s *Store) Get(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT v FROM kv WHERE k = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cargosqlite: get %s: %w", key, err)
	}
	return v, true, nil
}

// Set upserts key/value.
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO kv (k, v) VALUES (?, ?)
		ON CONFLICT(k) DO UPDATE SET v = excluded.v`, key, value)
	if err != nil {
		return fmt.Errorf("cargosqlite: set %s: %w", key, err)
	}
	return nil
}

// Delete removes key, if present.
func (s *Store) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE k = ?`, key)
	if err != nil {
		return fmt.Errorf("cargosqlite: delete %s: %w", key, err)
	}
	return nil
}

// Keys returns every key currently stored, in no particular order.
func (s *Store) Keys() ([]string, error) {
	rows, err := s.db.Query(`SELECT k FROM kv`)
	if err != nil {
		return nil, fmt.Errorf("cargosqlite: list keys: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }
