package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

// Store wraps the SQLite database holding runtime-registered cameras and the
// long-lived memory KV. Transient state (scene summaries, pending alerts)
// deliberately does not live here.
type Store struct {
	db *sql.DB
}

// CameraRecord is a camera persisted across restarts.
type CameraRecord struct {
	ID         string
	Name       string
	Kind       string
	Device     string
	Resolution string
	FPS        int
	Enabled    bool
	CreatedAt  time.Time
}

// MemoryEntry is one fact in the long-lived memory store.
type MemoryEntry struct {
	Namespace string    `json:"namespace"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// WAL keeps readers unblocked while loops write.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS cameras (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			device TEXT NOT NULL,
			resolution TEXT,
			fps INTEGER DEFAULT 2,
			enabled INTEGER DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS memory (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (namespace, key)
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SaveCamera inserts or replaces a camera record.
func (s *Store) SaveCamera(rec *CameraRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO cameras (id, name, kind, device, resolution, fps, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, kind=excluded.kind, device=excluded.device,
			resolution=excluded.resolution, fps=excluded.fps, enabled=excluded.enabled`,
		rec.ID, rec.Name, rec.Kind, rec.Device, rec.Resolution, rec.FPS, rec.Enabled, rec.CreatedAt)
	return err
}

func (s *Store) DeleteCamera(id string) error {
	res, err := s.db.Exec(`DELETE FROM cameras WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListCameras() ([]*CameraRecord, error) {
	rows, err := s.db.Query(`SELECT id, name, kind, device, resolution, fps, enabled, created_at FROM cameras ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*CameraRecord
	for rows.Next() {
		rec := &CameraRecord{}
		var res sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Kind, &rec.Device, &res, &rec.FPS, &rec.Enabled, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Resolution = res.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MemorySet stores or replaces a memory fact.
func (s *Store) MemorySet(namespace, key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO memory (namespace, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		namespace, key, value, time.Now().UTC())
	return err
}

func (s *Store) MemoryGet(namespace, key string) (*MemoryEntry, error) {
	e := &MemoryEntry{}
	err := s.db.QueryRow(
		`SELECT namespace, key, value, updated_at FROM memory WHERE namespace = ? AND key = ?`,
		namespace, key,
	).Scan(&e.Namespace, &e.Key, &e.Value, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Store) MemoryDelete(namespace, key string) error {
	res, err := s.db.Exec(`DELETE FROM memory WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MemoryList returns all facts in a namespace, or every fact when namespace
// is empty.
func (s *Store) MemoryList(namespace string) ([]*MemoryEntry, error) {
	query := `SELECT namespace, key, value, updated_at FROM memory`
	args := []any{}
	if namespace != "" {
		query += ` WHERE namespace = ?`
		args = append(args, namespace)
	}
	query += ` ORDER BY namespace, key`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*MemoryEntry
	for rows.Next() {
		e := &MemoryEntry{}
		if err := rows.Scan(&e.Namespace, &e.Key, &e.Value, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
