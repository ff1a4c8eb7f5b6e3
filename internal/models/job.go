package models

import (
	"fmt"
	"net/url"
	"strings"
)

// Job is the unit of work carried on the queue. The JSON field names are the
// wire format shared with every producer and consumer of the job queue.
type Job struct {
	ID        string `json:"jobId"`
	SourceURL string `json:"videoUrl"`
	AudioOnly bool   `json:"isAudio,omitempty"`
}

// JobStatus enumerates the lifecycle of a job. Transitions are monotonic:
// pending -> processing -> completed or failed. A terminal status is never
// overwritten by a non-terminal one.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"

	// StatusUnknown is reported when no status record exists, either because
	// the job was never submitted or because its record expired.
	StatusUnknown JobStatus = "unknown"
)

// ParseStatus maps a stored status string back to a JobStatus. Anything
// unrecognised, including the empty string, reports StatusUnknown.
func ParseStatus(raw string) JobStatus {
	switch JobStatus(raw) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return JobStatus(raw)
	default:
		return StatusUnknown
	}
}

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobState is the read-side view of a job: its status plus optional
// fractional progress in [0,1]. Progress is nil when no record exists.
type JobState struct {
	Status   JobStatus `json:"status"`
	Progress *float64  `json:"progress,omitempty"`
}

// ErrMissingVideoID is returned when a submission URL carries no video
// identifier parameter.
var ErrMissingVideoID = fmt.Errorf("submission url missing video identifier")

// DeriveJobID extracts the canonical job identity from a submission URL's
// video-identifier query parameter. The same URL always maps to the same
// job id; ids are never generated randomly.
func DeriveJobID(sourceURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(sourceURL))
	if err != nil {
		return "", fmt.Errorf("parse submission url: %w", err)
	}
	id := strings.TrimSpace(parsed.Query().Get("v"))
	if id == "" {
		return "", ErrMissingVideoID
	}
	return id, nil
}
