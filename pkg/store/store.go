// Package store persists batch runs and their per-file records in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"frapdiff/pkg/batch"
	"frapdiff/pkg/fit"
)

type DB struct {
	conn *sql.DB
}

// Run is a stored batch run
type Run struct {
	ID        string
	StartedAt time.Time
	InputDir  string
	Successes int
	Failures  int
}

// Record is the stored outcome of one successfully processed file
type Record struct {
	RunID         string
	File          string
	BleachFrame   int
	I0            float64
	PixelSize     float64
	FrameInterval float64
	Fit           fit.Result
}

// Open opens or creates the SQLite database at path
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return db, nil
}

func (db *DB) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		input_dir TEXT NOT NULL,
		successes INTEGER NOT NULL,
		failures INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS results (
		run_id TEXT NOT NULL REFERENCES runs(id),
		file TEXT NOT NULL,
		bleach_frame INTEGER NOT NULL,
		i0 REAL NOT NULL,
		pixel_size REAL NOT NULL,
		frame_interval REAL NOT NULL,
		fit_json TEXT NOT NULL,
		PRIMARY KEY (run_id, file)
	);
	`

	_, err := db.conn.Exec(query)
	return err
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// SaveReport stores a run and the records of its successful files in one
// transaction
func (db *DB) SaveReport(report *batch.Report, inputDir string, startedAt time.Time) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO runs (id, started_at, input_dir, successes, failures) VALUES (?, ?, ?, ?, ?)`,
		report.RunID, startedAt.UTC(), inputDir, len(report.Successes), len(report.Failures),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO results
		(run_id, file, bleach_frame, i0, pixel_size, frame_interval, fit_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range report.Successes {
		data, err := json.Marshal(s.Record)
		if err != nil {
			return fmt.Errorf("failed to encode record for %s: %w", s.Path, err)
		}
		_, err = stmt.Exec(
			report.RunID,
			s.Path,
			int(number(s.Record["frameOfFrap"])),
			number(s.Record["I0"]),
			number(s.Record["pixelSize"]),
			number(s.Record["frameInterval"]),
			string(data),
		)
		if err != nil {
			return fmt.Errorf("failed to insert result for %s: %w", s.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// ListRuns returns all stored runs, newest first
func (db *DB) ListRuns() ([]Run, error) {
	rows, err := db.conn.Query(`SELECT id, started_at, input_dir, successes, failures FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.InputDir, &run.Successes, &run.Failures); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListResults returns the records of a run ordered by file
func (db *DB) ListResults(runID string) ([]Record, error) {
	rows, err := db.conn.Query(`SELECT run_id, file, bleach_frame, i0, pixel_size, frame_interval, fit_json
		FROM results WHERE run_id = ? ORDER BY file`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec     Record
			fitJSON string
		)
		if err := rows.Scan(&rec.RunID, &rec.File, &rec.BleachFrame, &rec.I0, &rec.PixelSize, &rec.FrameInterval, &fitJSON); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if err := json.Unmarshal([]byte(fitJSON), &rec.Fit); err != nil {
			return nil, fmt.Errorf("failed to decode fit for %s: %w", rec.File, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// number reads a numeric record value regardless of its Go type
func number(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	}
	return 0
}
