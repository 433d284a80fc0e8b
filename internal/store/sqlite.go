package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed run history persistence
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	// Run migrations
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s.logger.Debug("history store ready", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// StartRun inserts a new running Run and sets its ID
func (s *Store) StartRun(run *Run) error {
	const query = `
		INSERT INTO runs (
			kind, source, destination, image, job_id, status, exit_code, start_time, end_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if run.Status == "" {
		run.Status = StatusRunning
	}
	if run.StartTime.IsZero() {
		run.StartTime = time.Now().UTC()
	}

	result, err := s.db.Exec(
		query,
		run.Kind, run.Source, run.Destination, run.Image, run.JobID,
		run.Status, run.ExitCode, run.StartTime, run.EndTime,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	run.ID = id
	return nil
}

// FinishRun stamps a run's terminal status, exit code, job id, and end time
func (s *Store) FinishRun(run *Run) error {
	const query = `
		UPDATE runs SET
			status = ?, exit_code = ?, job_id = ?, end_time = ?
		WHERE id = ?
	`

	if !run.EndTime.Valid {
		run.EndTime = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}

	result, err := s.db.Exec(query, run.Status, run.ExitCode, run.JobID, run.EndTime, run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("run not found: %d", run.ID)
	}

	return nil
}

// GetRun retrieves a Run by ID
func (s *Store) GetRun(id int64) (*Run, error) {
	const query = `
		SELECT id, kind, source, destination, image, job_id, status, exit_code, start_time, end_time
		FROM runs WHERE id = ?
	`

	run := &Run{}
	err := s.db.QueryRow(query, id).Scan(
		&run.ID, &run.Kind, &run.Source, &run.Destination, &run.Image,
		&run.JobID, &run.Status, &run.ExitCode, &run.StartTime, &run.EndTime,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run not found: %d", id)
		}
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	return run, nil
}

// ListRuns retrieves runs newest first, optionally filtered by kind
func (s *Store) ListRuns(kind string, limit int) ([]Run, error) {
	query := `
		SELECT id, kind, source, destination, image, job_id, status, exit_code, start_time, end_time
		FROM runs
	`
	var args []interface{}

	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, kind)
	}

	query += " ORDER BY start_time DESC, id DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run := Run{}
		err := rows.Scan(
			&run.ID, &run.Kind, &run.Source, &run.Destination, &run.Image,
			&run.JobID, &run.Status, &run.ExitCode, &run.StartTime, &run.EndTime,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}
