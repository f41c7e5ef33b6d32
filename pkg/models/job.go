package models

import (
	"time"
)

// JobStatus is the lifecycle state of an analysis job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// ParseJobStatus converts a string into a JobStatus, reporting whether it is known.
func ParseJobStatus(s string) (JobStatus, bool) {
	switch st := JobStatus(s); st {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return st, true
	}
	return "", false
}

// Terminal reports whether no further transition can leave this status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// AnalysisJob tracks one asynchronous end-to-end analysis request.
// The API returns job_id on POST /api/v1/analysis; the client polls
// GET /api/v1/analysis/{job_id} until the status is terminal.
//
// Values handed out by the job store are snapshots; mutating them has no
// effect on the stored record.
type AnalysisJob struct {
	ID          string         `json:"job_id"`
	Status      JobStatus      `json:"status"`
	Config      AnalysisConfig `json:"config"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Progress    float64        `json:"progress"`
	CurrentStep string         `json:"current_step"`
	Results     *JobResults    `json:"results,omitempty"`
	Error       *string        `json:"error,omitempty"`
}

// Clone returns a deep copy of the job.
func (j *AnalysisJob) Clone() *AnalysisJob {
	if j == nil {
		return nil
	}
	c := *j
	c.Config = j.Config.Clone()
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	c.Results = j.Results.Clone()
	return &c
}
