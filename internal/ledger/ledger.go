// Package ledger provides SQLite-backed run-history bookkeeping: one row
// per job and per stage execution, queryable independently of the
// pipeline_results.json bundle a job writes into its archive. Schema and
// Open/migration conventions are carried over from cortex's internal/store.
package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Ledger wraps a sqlite database recording job and stage history.
type Ledger struct {
	db *sql.DB
}

// Job is one row in the jobs table: a single pipeline run against one
// source file.
type Job struct {
	ID          int64
	RunID       string
	VideoID     string
	SourcePath  string
	ContentType string
	StartedAt   time.Time
	FinishedAt  sql.NullTime
	Status      string // running, completed, failed, cancelled
	Error       string
}

// StageRun is one row in the stage_runs table: one stage execution within
// a job.
type StageRun struct {
	ID            int64
	JobID         int64
	Stage         string
	Status        string // running, completed, skipped, failed
	StartedAt     time.Time
	FinishedAt    sql.NullTime
	DurationS     float64
	InputTokens   int
	OutputTokens  int
	CostUSD       float64
	CacheVersion  int
	Error         string
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL UNIQUE,
	video_id TEXT NOT NULL,
	source_path TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	started_at DATETIME NOT NULL,
	finished_at DATETIME,
	status TEXT NOT NULL DEFAULT 'running',
	error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_jobs_video_id ON jobs(video_id);
CREATE INDEX IF NOT EXISTS idx_jobs_started_at ON jobs(started_at);

CREATE TABLE IF NOT EXISTS stage_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id INTEGER NOT NULL REFERENCES jobs(id),
	stage TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'running',
	started_at DATETIME NOT NULL,
	finished_at DATETIME,
	duration_s REAL NOT NULL DEFAULT 0,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd REAL NOT NULL DEFAULT 0,
	cache_version INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_stage_runs_job ON stage_runs(job_id);
CREATE INDEX IF NOT EXISTS idx_stage_runs_stage ON stage_runs(stage);
`

// Open opens (creating if needed) the ledger database at dbPath and
// applies the schema.
func Open(dbPath string) (*Ledger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

func (l *Ledger) DB() *sql.DB { return l.db }

// StartJob inserts a new running job row and returns its generated run id
// and row id.
func (l *Ledger) StartJob(videoID, sourcePath, contentType string) (runID string, id int64, err error) {
	runID = uuid.NewString()
	res, err := l.db.Exec(
		`INSERT INTO jobs (run_id, video_id, source_path, content_type, started_at, status) VALUES (?, ?, ?, ?, ?, 'running')`,
		runID, videoID, sourcePath, contentType, time.Now().UTC(),
	)
	if err != nil {
		return "", 0, fmt.Errorf("insert job: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return "", 0, fmt.Errorf("job id: %w", err)
	}
	return runID, id, nil
}

// FinishJob marks a job completed, failed, or cancelled.
func (l *Ledger) FinishJob(jobID int64, status, errMsg string) error {
	_, err := l.db.Exec(
		`UPDATE jobs SET finished_at = ?, status = ?, error = ? WHERE id = ?`,
		time.Now().UTC(), status, errMsg, jobID,
	)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return nil
}

// StartStage inserts a running stage_runs row for jobID.
func (l *Ledger) StartStage(jobID int64, stage string) (int64, error) {
	res, err := l.db.Exec(
		`INSERT INTO stage_runs (job_id, stage, status, started_at) VALUES (?, ?, 'running', ?)`,
		jobID, stage, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert stage run: %w", err)
	}
	return res.LastInsertId()
}

// StageResult is the bookkeeping recorded when a stage finishes, whatever
// the outcome.
type StageResult struct {
	Status       string // completed, skipped, failed
	DurationS    float64
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	CacheVersion int
	Error        string
}

// FinishStage records the outcome of a previously started stage run.
func (l *Ledger) FinishStage(stageRunID int64, r StageResult) error {
	_, err := l.db.Exec(
		`UPDATE stage_runs SET finished_at = ?, status = ?, duration_s = ?, input_tokens = ?, output_tokens = ?, cost_usd = ?, cache_version = ?, error = ? WHERE id = ?`,
		time.Now().UTC(), r.Status, r.DurationS, r.InputTokens, r.OutputTokens, r.CostUSD, r.CacheVersion, r.Error, stageRunID,
	)
	if err != nil {
		return fmt.Errorf("finish stage run: %w", err)
	}
	return nil
}

// JobsForVideo returns every recorded job for videoID, most recent first.
func (l *Ledger) JobsForVideo(videoID string) ([]Job, error) {
	rows, err := l.db.Query(
		`SELECT id, run_id, video_id, source_path, content_type, started_at, finished_at, status, error
		 FROM jobs WHERE video_id = ? ORDER BY started_at DESC`,
		videoID,
	)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.RunID, &j.VideoID, &j.SourcePath, &j.ContentType, &j.StartedAt, &j.FinishedAt, &j.Status, &j.Error); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// StagesForJob returns every recorded stage run for jobID, in execution order.
func (l *Ledger) StagesForJob(jobID int64) ([]StageRun, error) {
	rows, err := l.db.Query(
		`SELECT id, job_id, stage, status, started_at, finished_at, duration_s, input_tokens, output_tokens, cost_usd, cache_version, error
		 FROM stage_runs WHERE job_id = ? ORDER BY started_at ASC`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("query stage runs: %w", err)
	}
	defer rows.Close()

	var runs []StageRun
	for rows.Next() {
		var r StageRun
		if err := rows.Scan(&r.ID, &r.JobID, &r.Stage, &r.Status, &r.StartedAt, &r.FinishedAt, &r.DurationS, &r.InputTokens, &r.OutputTokens, &r.CostUSD, &r.CacheVersion, &r.Error); err != nil {
			return nil, fmt.Errorf("scan stage run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// TotalCostForVideo sums cost_usd across every stage run of every job
// recorded for videoID.
func (l *Ledger) TotalCostForVideo(videoID string) (float64, error) {
	var total sql.NullFloat64
	err := l.db.QueryRow(
		`SELECT SUM(sr.cost_usd) FROM stage_runs sr JOIN jobs j ON j.id = sr.job_id WHERE j.video_id = ?`,
		videoID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum cost: %w", err)
	}
	return total.Float64, nil
}
