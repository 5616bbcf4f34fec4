// Package registry is the host daemon's persisted zone table (spec §6.4):
// which zones exist, where each one's JSON config lives, and — per zone —
// the flat runtime-state files under ${workPath}/state/ (init.pid,
// console.<i>.sock, state). Adapted from the teacher's registry db.go
// schema-on-sqlite style (own table alongside cargosqlite's shared kv
// table in the same database file) generalized from "VM instance records"
// to "zone config-path + last-known-state records".
package registry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/samsung/vasum/internal/cargosqlite"
)

// Entry is one row of the zone table.
type Entry struct {
	Name       string
	ConfigPath string
	WorkPath   string
	State      string
}

// Registry owns the zone table backed by a cargosqlite.Store's underlying
// *sql.DB, plus the per-zone flat-file runtime state under each entry's
// WorkPath/state directory.
type Registry struct {
	store *cargosqlite.Store
	db    *sql.DB
}

// Open opens (creating if necessary) the zones table in the database at
// dbPath, sharing the file with cargosqlite's generic kv table.
func Open(dbPath string) (*Registry, error) {
	store, err := cargosqlite.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	db := store.DB()
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS zones (
		name TEXT PRIMARY KEY,
		config_path TEXT NOT NULL,
		work_path TEXT NOT NULL,
		state TEXT NOT NULL
	)`); err != nil {
		store.Close()
		return nil, fmt.Errorf("registry: create zones table: %w", err)
	}
	return &Registry{store: store, db: db}, nil
}

// Close closes the underlying database.
func (r *Registry) Close() error { return r.store.Close() }

// Register inserts or updates a zone's config/work paths, leaving its
// state column untouched if the row already exists.
func (r *Registry) Register(name, configPath, workPath string) error {
	_, err := r.db.Exec(`INSERT INTO zones (name, config_path, work_path, state)
		VALUES (?, ?, ?, 'STOPPED')
		ON CONFLICT(name) DO UPDATE SET config_path = excluded.config_path, work_path = excluded.work_path`,
		name, configPath, workPath)
	if err != nil {
		return fmt.Errorf("registry: register %s: %w", name, err)
	}
	return nil
}

// Unregister removes a zone's row and its state directory entirely.
func (r *Registry) Unregister(name string) error {
	entry, ok, err := r.Get(name)
	if err != nil {
		return err
	}
	if ok {
		os.RemoveAll(stateDir(entry.WorkPath))
	}
	if _, err := r.db.Exec(`DELETE FROM zones WHERE name = ?`, name); err != nil {
		return fmt.Errorf("registry: unregister %s: %w", name, err)
	}
	return nil
}

// Get returns one zone's row.
func (r *Registry) Get(name string) (Entry, bool, error) {
	var e Entry
	err := r.db.QueryRow(`SELECT name, config_path, work_path, state FROM zones WHERE name = ?`, name).
		Scan(&e.Name, &e.ConfigPath, &e.WorkPath, &e.State)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("registry: get %s: %w", name, err)
	}
	return e, true, nil
}

// List returns every registered zone.
func (r *Registry) List() ([]Entry, error) {
	rows, err := r.db.Query(`SELECT name, config_path, work_path, state FROM zones ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Name, &e.ConfigPath, &e.WorkPath, &e.State); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetState updates a zone's persisted state column and its flat `state`
// file under ${workPath}/state/ (spec §6.4).
func (r *Registry) SetState(name, workPath, state string) error {
	if _, err := r.db.Exec(`UPDATE zones SET state = ? WHERE name = ?`, state, name); err != nil {
		return fmt.Errorf("registry: set state %s: %w", name, err)
	}
	dir := stateDir(workPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("registry: mkdir %s: %w", dir, err)
	}
	return os.WriteFile(filepath.Join(dir, "state"), []byte(state), 0644)
}

// WriteInitPID writes ${workPath}/state/init.pid.
func WriteInitPID(workPath string, pid int) error {
	dir := stateDir(workPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("registry: mkdir %s: %w", dir, err)
	}
	return os.WriteFile(filepath.Join(dir, "init.pid"), []byte(strconv.Itoa(pid)), 0644)
}

// ReadInitPID reads ${workPath}/state/init.pid, or (0, false) if absent
// (spec: "removed on stop").
func ReadInitPID(workPath string) (int, bool, error) {
	data, err := os.ReadFile(filepath.Join(stateDir(workPath), "init.pid"))
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("registry: read init.pid: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false, fmt.Errorf("registry: parse init.pid: %w", err)
	}
	return pid, true, nil
}

// RemoveInitPID deletes ${workPath}/state/init.pid on stop.
func RemoveInitPID(workPath string) error {
	err := os.Remove(filepath.Join(stateDir(workPath), "init.pid"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("registry: remove init.pid: %w", err)
	}
	return nil
}

// ConsoleSocketPath returns ${workPath}/state/console.<i>.sock.
func ConsoleSocketPath(workPath string, index int) string {
	return filepath.Join(stateDir(workPath), fmt.Sprintf("console.%d.sock", index))
}

func stateDir(workPath string) string {
	return filepath.Join(workPath, "state")
}
