package models

import (
	"time"
)

// JobStatus is the lifecycle state of a processing job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ProcessingJob tracks one asynchronous processing run over a stored file.
// Progress is a percentage in [0,100] and only ever moves forward.
type ProcessingJob struct {
	ID        string    `json:"id"`
	FileID    string    `json:"file_id"`
	Status    JobStatus `json:"status"`
	Progress  int       `json:"progress"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJob returns a pending job for the given file.
func NewJob(id, fileID string) *ProcessingJob {
	now := time.Now().UTC()
	return &ProcessingJob{
		ID:        id,
		FileID:    fileID,
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
