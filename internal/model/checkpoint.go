package model

import "time"

// Checkpoint is the single durable record of backfill progress. ResumeDate
// is the day after the last fully committed chunk; the orchestrator reads
// it once at startup and writes it once per committed chunk.
type Checkpoint struct {
	ResumeDate   time.Time `json:"resume_date"`
	AttemptCount int       `json:"attempt_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RunStatus is the lifecycle state of one chunk attempt in the run log.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// ChunkRun is one row of the ingest run log: a single attempt at one date
// chunk. Failed attempts keep their error text for operator review.
type ChunkRun struct {
	ID          string     `json:"id"`
	ChunkStart  time.Time  `json:"chunk_start"`
	ChunkEnd    time.Time  `json:"chunk_end"`
	Region      string     `json:"region"`
	Status      RunStatus  `json:"status"`
	Attempt     int        `json:"attempt"`
	RowsSynced  int64      `json:"rows_synced"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
