package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	StatusAvailable  JobStatus = "available"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusRetrying   JobStatus = "retrying"
	StatusDead       JobStatus = "dead"
	StatusCancelled  JobStatus = "cancelled"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusProcessing, StatusCompleted, StatusRetrying, StatusDead, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status is a resting state that only admin
// operations may change.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusDead || s == StatusCancelled
}

// ParseStatus converts operator input into a JobStatus.
func ParseStatus(s string) (JobStatus, error) {
	status := JobStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return status, nil
}

// Priority represents job priority (0-100, higher claims first).
// Using int8 provides sufficient range while keeping memory footprint minimal.
type Priority int8

const (
	PriorityMin     Priority = 0
	PriorityLow     Priority = 25
	PriorityMedium  Priority = 50
	PriorityHigh    Priority = 75
	PriorityMax     Priority = 100
	PriorityDefault Priority = PriorityMedium
)

// Valid checks if the priority is within valid range.
func (p Priority) Valid() bool {
	return p >= PriorityMin && p <= PriorityMax
}

// Job is one unit of deferred work. The payload is opaque serialized bytes;
// stores never interpret its contents.
type Job struct {
	ID             uuid.UUID  `json:"id"`
	Tag            string     `json:"tag"`
	Payload        []byte     `json:"payload,omitempty"`
	Status         JobStatus  `json:"status"`
	Priority       Priority   `json:"priority"`
	RunAt          time.Time  `json:"run_at"`
	Attempts       int8       `json:"attempts"`
	MaxAttempts    int8       `json:"max_attempts"`
	Reclaims       int        `json:"reclaims"`
	LockedBy       *uuid.UUID `json:"locked_by,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	LastError      *string    `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Claimable reports whether the job is eligible for ClaimNextJob at the
// given instant. Retrying jobs become claimable once their backoff window
// (RunAt) has passed.
func (j *Job) Claimable(now time.Time) bool {
	if j.Status != StatusAvailable && j.Status != StatusRetrying {
		return false
	}
	return !j.RunAt.After(now)
}
