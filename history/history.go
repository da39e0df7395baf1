// Package history provides a SQLite log of completed enclosure downloads,
// so per-subscription summaries survive restarts.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store manages the download history database.
type Store struct {
	db *sql.DB
}

// Download is one recorded enclosure download.
type Download struct {
	ID           int64
	SubName      string
	EntryTitle   string
	Dest         string
	DownloadedAt time.Time
}

// New opens (or creates) the history database at the given path.
// Use ":memory:" for an in-memory database (useful for testing).
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	store := &Store{db: db}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS downloads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sub_name TEXT NOT NULL,
		entry_title TEXT,
		dest TEXT,
		downloaded_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_downloads_sub ON downloads(sub_name, downloaded_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record stores one completed download.
func (s *Store) Record(subName, entryTitle, dest string, at time.Time) error {
	_, err := s.db.Exec(
		"INSERT INTO downloads (sub_name, entry_title, dest, downloaded_at) VALUES (?, ?, ?, ?)",
		subName, entryTitle, dest, at.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record download: %w", err)
	}
	return nil
}

// RecentBySub returns the most recent downloads for one subscription,
// newest first. A limit of 0 or less returns everything.
func (s *Store) RecentBySub(subName string, limit int) ([]Download, error) {
	query := "SELECT id, sub_name, entry_title, dest, downloaded_at FROM downloads WHERE sub_name = ? ORDER BY downloaded_at DESC, id DESC"
	args := []interface{}{subName}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query downloads: %w", err)
	}
	defer rows.Close()

	var downloads []Download
	for rows.Next() {
		var d Download
		var at int64
		if err := rows.Scan(&d.ID, &d.SubName, &d.EntryTitle, &d.Dest, &at); err != nil {
			return nil, fmt.Errorf("failed to scan download: %w", err)
		}
		d.DownloadedAt = time.Unix(at, 0)
		downloads = append(downloads, d)
	}
	return downloads, rows.Err()
}
