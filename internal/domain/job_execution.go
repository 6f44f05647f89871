package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobExecutionStatus captures lifecycle state for a job run.
type JobExecutionStatus string

const (
	JobExecutionStatusStarted   JobExecutionStatus = "STARTED"
	JobExecutionStatusCompleted JobExecutionStatus = "COMPLETED"
	JobExecutionStatusFailed    JobExecutionStatus = "FAILED"
)

// JobProgress holds the counters committed at each chunk boundary.
type JobProgress struct {
	ReadCount       int `json:"read_count"`
	WriteCount      int `json:"write_count"`
	SkipCount       int `json:"skip_count"`
	CommittedChunks int `json:"committed_chunks"`
}

// JobExecution mirrors one persisted run of the export job.
type JobExecution struct {
	ID              uuid.UUID          `json:"id"`
	JobName         string             `json:"job_name"`
	SourcePath      string             `json:"source_path"`
	DestinationPath string             `json:"destination_path"`
	SkipLimit       int                `json:"skip_limit"`
	StartOffset     int                `json:"start_offset"`
	Status          JobExecutionStatus `json:"status"`
	Progress        JobProgress        `json:"progress"`
	FailureKind     *string            `json:"failure_kind,omitempty"`
	ErrorMessage    *string            `json:"error_message,omitempty"`
	StartedAt       time.Time          `json:"started_at"`
	EndedAt         *time.Time         `json:"ended_at,omitempty"`
}

// ResumeOffset returns the number of source records a restart should skip:
// everything read by the chunks this run committed, on top of its own offset.
func (e JobExecution) ResumeOffset() int {
	return e.StartOffset + e.Progress.ReadCount
}
