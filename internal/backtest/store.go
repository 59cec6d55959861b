package backtest

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// JobStore persists job specs and results so finished jobs survive a restart
// and remain pollable.
type JobStore struct {
	mu sync.Mutex
	db *sql.DB
}

func NewJobStore(root string) (*JobStore, error) {
	if root == "" {
		return nil, fmt.Errorf("job store root must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "backtest_jobs.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureJobSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &JobStore{db: db}, nil
}

func ensureJobSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS backtest_jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		spec_json TEXT NOT NULL,
		result_json TEXT,
		error TEXT,
		submitted_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	return err
}

func (s *JobStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *JobStore) Save(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	specJSON, err := json.Marshal(job.Spec)
	if err != nil {
		return err
	}
	var resultJSON []byte
	if job.Result != nil {
		if resultJSON, err = json.Marshal(job.Result); err != nil {
			return err
		}
	}
	_, err = s.db.Exec(`INSERT INTO backtest_jobs
		(id, status, spec_json, result_json, error, submitted_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			result_json=excluded.result_json,
			error=excluded.error,
			updated_at=excluded.updated_at`,
		job.ID, string(job.Status), string(specJSON), nullable(resultJSON), job.Error,
		job.SubmittedAt, job.UpdatedAt)
	return err
}

func (s *JobStore) Load(jobID string) (Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return Job{}, false, nil
	}
	row := s.db.QueryRow(`SELECT id, status, spec_json, result_json, error, submitted_at, updated_at
		FROM backtest_jobs WHERE id = ?`, jobID)
	var job Job
	var specJSON string
	var resultJSON sql.NullString
	err := row.Scan(&job.ID, &job.Status, &specJSON, &resultJSON, &job.Error,
		&job.SubmittedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	if err := json.Unmarshal([]byte(specJSON), &job.Spec); err != nil {
		return Job{}, false, err
	}
	if resultJSON.Valid && resultJSON.String != "" {
		if err := json.Unmarshal([]byte(resultJSON.String), &job.Result); err != nil {
			return Job{}, false, err
		}
	}
	return job, true, nil
}

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
