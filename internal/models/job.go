package models

import "time"

type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo encodes PENDING -> PROCESSING -> COMPLETED | FAILED.
// PENDING and PROCESSING may also fail directly.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case "", JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// Job is one image-enhancement request.
type Job struct {
	ID               string
	Status           JobStatus
	ImageURL         string
	MediaFileID      string
	StoreID          string
	ProductID        string
	EnhancedImageURL *string
	EnhancedPublicID *string
	Error            *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
