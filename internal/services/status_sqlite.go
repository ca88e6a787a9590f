package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/trobanga/geochain/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
  resource_id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  location TEXT NOT NULL,
  mapset TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  step INTEGER NOT NULL DEFAULT 0,
  num_of_steps INTEGER NOT NULL DEFAULT 0,
  messages_json TEXT NOT NULL,
  resources_json TEXT NOT NULL,
  error_message TEXT,
  traceback TEXT,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
`

const sqliteColumns = `resource_id, user_id, location, mapset, status, step, num_of_steps,
  messages_json, resources_json, error_message, traceback, created_at, updated_at`

// SQLiteStatusStore keeps status records in a jobs table
type SQLiteStatusStore struct {
	db *sql.DB
}

// NewSQLiteStatusStore opens (and migrates) the database at path
func NewSQLiteStatusStore(path string) (*SQLiteStatusStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open status database: %w", err)
	}
	// Single connection serialises writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create jobs table: %w", err)
	}
	return &SQLiteStatusStore{db: db}, nil
}

func (s *SQLiteStatusStore) Close() error { return s.db.Close() }

func (s *SQLiteStatusStore) Publish(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("cannot publish invalid job: %w", err)
	}

	messages, err := json.Marshal(job.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}
	resources, err := json.Marshal(job.Resources)
	if err != nil {
		return fmt.Errorf("failed to marshal resources: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+sqliteColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(resource_id) DO UPDATE SET
           status = excluded.status,
           step = excluded.step,
           num_of_steps = excluded.num_of_steps,
           messages_json = excluded.messages_json,
           resources_json = excluded.resources_json,
           error_message = excluded.error_message,
           traceback = excluded.traceback,
           updated_at = excluded.updated_at`,
		job.ResourceID,
		job.UserID,
		job.Location,
		job.Mapset,
		string(job.Status),
		job.Progress.Step,
		job.Progress.NumOfSteps,
		string(messages),
		string(resources),
		job.ErrorMessage,
		job.Traceback,
		job.CreatedAt.UnixMilli(),
		job.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to publish job status: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job                     models.Job
		status                  string
		messages, resources     string
		errorMessage, traceback sql.NullString
		createdMs, updatedMs    int64
	)
	if err := row.Scan(
		&job.ResourceID,
		&job.UserID,
		&job.Location,
		&job.Mapset,
		&status,
		&job.Progress.Step,
		&job.Progress.NumOfSteps,
		&messages,
		&resources,
		&errorMessage,
		&traceback,
		&createdMs,
		&updatedMs,
	); err != nil {
		return nil, err
	}

	job.Status = models.JobStatus(status)
	job.CreatedAt = time.UnixMilli(createdMs)
	job.UpdatedAt = time.UnixMilli(updatedMs)
	if errorMessage.Valid {
		job.ErrorMessage = errorMessage.String
	}
	if traceback.Valid {
		job.Traceback = traceback.String
	}
	if err := json.Unmarshal([]byte(messages), &job.Messages); err != nil {
		return nil, fmt.Errorf("failed to parse messages of %s: %w", job.ResourceID, err)
	}
	if err := json.Unmarshal([]byte(resources), &job.Resources); err != nil {
		return nil, fmt.Errorf("failed to parse resources of %s: %w", job.ResourceID, err)
	}
	return &job, nil
}

func (s *SQLiteStatusStore) Load(ctx context.Context, resourceID string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM jobs WHERE resource_id = ?`, resourceID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, resourceID)
		}
		return nil, fmt.Errorf("failed to load job status: %w", err)
	}
	return job, nil
}

func (s *SQLiteStatusStore) List(ctx context.Context) ([]*models.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM jobs ORDER BY created_at ASC, resource_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}
