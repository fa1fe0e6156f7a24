package model

import "time"

// PublishJob represents one publish invocation: one artifact, one pass over
// the configured targets.
type PublishJob struct {
	ID          string               `json:"id"`
	State       JobState             `json:"state"`
	Event       ObjectFinalizedEvent `json:"event"`
	Targets     []Platform           `json:"targets"`
	Error       *string              `json:"error,omitempty"`
	Outcome     *JobOutcome          `json:"outcome,omitempty"`
	CreatedAt   time.Time            `json:"createdAt"`
	StartedAt   *time.Time           `json:"startedAt,omitempty"`
	CompletedAt *time.Time           `json:"completedAt,omitempty"`
}

// PublishJobPayload contains the data for a publish task
type PublishJobPayload struct {
	Event   ObjectFinalizedEvent `json:"event"`
	Targets []Platform           `json:"targets"`
}

// ScanJobPayload contains the data for a scan task
type ScanJobPayload struct {
	Reason string `json:"reason"` // "scheduled" or "manual"
}
