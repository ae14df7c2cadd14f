package model

import "time"

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further automatic transition may occur.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

type Tier string

const (
	TierLight Tier = "light"
	TierHard  Tier = "hard"
)

// Job is a single background-removal request and its lifecycle state.
// OutputKey is set iff status is succeeded; ErrorDetail iff status is failed.
type Job struct {
	ID          string
	TaskGroup   string
	Status      JobStatus
	Tier        Tier
	InputKey    string
	PreviewKey  string
	OutputKey   string
	ErrorDetail string
	Retries     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	PurgedAt    *time.Time
}
