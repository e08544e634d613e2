// Package subcache is the persistent submission cache: delivered
// submissions are recorded with their platform media handle so a later
// delivery of the same submission can skip the download and upload stages.
// The cache is best-effort; every failure degrades to a miss.
package subcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"github.com/subwatch/subwatch/internal/site"
)

// Cache is an sqlite-backed submission cache. Safe for concurrent use; the
// driver serialises writers.
type Cache struct {
	db *sql.DB
}

// Open opens or creates the cache database at path.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS sent_submissions (
		submission_id INTEGER PRIMARY KEY,
		media_handle  TEXT NOT NULL,
		caption       TEXT NOT NULL,
		sent_at       TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache %s: %w", path, err)
	}
	return &Cache{db: db}, nil
}

// Close releases the database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Load looks up a cached delivery by submission id. A miss, a read error or
// a corrupt row all return nil; errors are logged, not propagated.
func (c *Cache) Load(ctx context.Context, id site.SubmissionID) *site.SentSubmission {
	row := c.db.QueryRowContext(ctx,
		`SELECT media_handle, caption, sent_at FROM sent_submissions WHERE submission_id = ?`,
		int64(id))
	var entry site.SentSubmission
	var sentAt string
	err := row.Scan(&entry.MediaHandle, &entry.Caption, &sentAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		log.Printf("subwatch[cache]: load %s failed: %v", id, err)
		return nil
	}
	entry.SubID = id
	t, err := time.Parse(time.RFC3339, sentAt)
	if err != nil {
		log.Printf("subwatch[cache]: bad sent_at for %s: %v", id, err)
		return nil
	}
	entry.SentAt = t
	return &entry
}

// Save records a delivered submission, replacing any previous entry for the
// same id. Failures are logged; the pipeline does not depend on the cache.
func (c *Cache) Save(ctx context.Context, entry *site.SentSubmission) {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sent_submissions (submission_id, media_handle, caption, sent_at)
		 VALUES (?, ?, ?, ?)`,
		int64(entry.SubID), entry.MediaHandle, entry.Caption, entry.SentAt.Format(time.RFC3339))
	if err != nil {
		log.Printf("subwatch[cache]: save %s failed: %v", entry.SubID, err)
	}
}
