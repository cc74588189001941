// Package runlog keeps a local history of report runs so operators can
// see when sites last reported and how runs have been trending.
//
// Storage is backed by a SQLite database at ~/.config/sitewatch/runs.db
// (or the platform-equivalent path returned by os.UserConfigDir).
package runlog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	appDir = "sitewatch"
	dbFile = "runs.db"
)

// pathOverride, when non-empty, replaces the default database path.
// Intended for testing. Use SetPath / ResetPath to manage.
var pathOverride string

// SetPath overrides the database path. Intended for testing.
func SetPath(p string) { pathOverride = p }

// ResetPath clears the path override. Intended for testing.
func ResetPath() { pathOverride = "" }

// DefaultPath returns the default database path.
func DefaultPath() (string, error) {
	if pathOverride != "" {
		return pathOverride, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("runlog: unable to determine config directory: %w", err)
	}
	return filepath.Join(base, appDir, dbFile), nil
}

// Repository defines the persistence interface for run records.
type Repository interface {
	Save(record *Record) error
	List(limit int) ([]Record, error)
	ListBySite(siteID string, limit int) ([]Record, error)
	Prune(olderThan time.Duration) (int64, error)
	Close() error
}

// SQLiteRepository implements Repository backed by a local SQLite
// database.
type SQLiteRepository struct {
	db *sql.DB
}

// Open creates or opens the run log at the default path.
func Open() (*SQLiteRepository, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return OpenAt(path)
}

// OpenAt creates or opens a SQLite database at the given path.
func OpenAt(path string) (*SQLiteRepository, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("runlog: failed to create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("runlog: failed to open database: %w", err)
	}

	r := &SQLiteRepository{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRepository) migrate() error {
	const ddl = `
        CREATE TABLE IF NOT EXISTS run_log (
            id               INTEGER PRIMARY KEY AUTOINCREMENT,
            timestamp        TEXT    NOT NULL,
            command          TEXT    NOT NULL,
            site_id          TEXT    NOT NULL DEFAULT '',
            window_start     TEXT    NOT NULL,
            window_end       TEXT    NOT NULL,
            sites_reported   INTEGER NOT NULL DEFAULT 0,
            sites_failed     INTEGER NOT NULL DEFAULT 0,
            partial_failures INTEGER NOT NULL DEFAULT 0,
            outcome          TEXT    NOT NULL DEFAULT '',
            duration_ms      INTEGER NOT NULL DEFAULT 0
        );
        CREATE INDEX IF NOT EXISTS idx_run_log_timestamp ON run_log(timestamp);
        CREATE INDEX IF NOT EXISTS idx_run_log_site ON run_log(site_id);
    `
	if _, err := r.db.Exec(ddl); err != nil {
		return fmt.Errorf("runlog: migration failed: %w", err)
	}
	return nil
}

// Save inserts a new run record.
func (r *SQLiteRepository) Save(record *Record) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	result, err := r.db.Exec(`
        INSERT INTO run_log (timestamp, command, site_id, window_start, window_end, sites_reported, sites_failed, partial_failures, outcome, duration_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.Timestamp.Format(time.RFC3339Nano), record.Command, record.SiteID,
		record.WindowStart.Format(time.RFC3339Nano), record.WindowEnd.Format(time.RFC3339Nano),
		record.SitesReported, record.SitesFailed, record.PartialFailures,
		record.Outcome, record.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("runlog: insert failed: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("runlog: failed to get last insert ID: %w", err)
	}
	record.ID = id
	return nil
}

// List returns the most recent n run records.
func (r *SQLiteRepository) List(limit int) ([]Record, error) {
	rows, err := r.db.Query(`
        SELECT id, timestamp, command, site_id, window_start, window_end,
               sites_reported, sites_failed, partial_failures, outcome, duration_ms
        FROM run_log ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("runlog: query failed: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// ListBySite returns the most recent n run records for a site.
func (r *SQLiteRepository) ListBySite(siteID string, limit int) ([]Record, error) {
	rows, err := r.db.Query(`
        SELECT id, timestamp, command, site_id, window_start, window_end,
               sites_reported, sites_failed, partial_failures, outcome, duration_ms
        FROM run_log WHERE site_id = ? ORDER BY timestamp DESC LIMIT ?`, siteID, limit)
	if err != nil {
		return nil, fmt.Errorf("runlog: query failed: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// Prune deletes records older than the given duration.
func (r *SQLiteRepository) Prune(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339Nano)
	result, err := r.db.Exec(`DELETE FROM run_log WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("runlog: delete failed: %w", err)
	}
	return result.RowsAffected()
}

// Close releases database resources.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func scanRows(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var (
			rec              Record
			ts, wstart, wend string
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.Command, &rec.SiteID, &wstart, &wend,
			&rec.SitesReported, &rec.SitesFailed, &rec.PartialFailures,
			&rec.Outcome, &rec.DurationMs); err != nil {
			return nil, fmt.Errorf("runlog: scan failed: %w", err)
		}

		var err error
		if rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("runlog: invalid timestamp %q: %w", ts, err)
		}
		if rec.WindowStart, err = time.Parse(time.RFC3339Nano, wstart); err != nil {
			return nil, fmt.Errorf("runlog: invalid window start %q: %w", wstart, err)
		}
		if rec.WindowEnd, err = time.Parse(time.RFC3339Nano, wend); err != nil {
			return nil, fmt.Errorf("runlog: invalid window end %q: %w", wend, err)
		}

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runlog: row iteration failed: %w", err)
	}
	return records, nil
}
