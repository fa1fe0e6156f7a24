package model

import "time"

// PublishTarget is one row of the configured target list. The slice order is
// the publish order; it is fixed at configuration time and never re-sorted.
type PublishTarget struct {
	Platform          Platform `json:"platform"`
	SupportsPreflight bool     `json:"supportsPreflight"`
	MaxSizeBytes      int64    `json:"maxSizeBytes,omitempty"` // 0 = no per-target limit
}

// PublishAttempt records the outcome for a single target. Every configured
// target gets exactly one, in configured order, even when the deadline
// truncates the run (state not_attempted).
type PublishAttempt struct {
	// Platform is empty on the synthetic diagnostic attempt a job-fatal
	// failure produces.
	Platform    Platform     `json:"platform,omitempty"`
	State       AttemptState `json:"state"`
	ErrorKind   *ErrorKind   `json:"errorKind,omitempty"`
	Remediation string       `json:"remediation,omitempty"`
	ExternalID  string       `json:"externalId,omitempty"`
	Retries     int          `json:"retries"`
	StartedAt   *time.Time   `json:"startedAt,omitempty"`
	EndedAt     *time.Time   `json:"endedAt,omitempty"`
}

// JobOutcome aggregates the attempts of one invocation.
type JobOutcome struct {
	JobID         string           `json:"jobId"`
	OverallStatus OverallStatus    `json:"overallStatus"`
	Attempts      []PublishAttempt `json:"attempts"`
	StartedAt     time.Time        `json:"startedAt"`
	EndedAt       time.Time        `json:"endedAt"`
}

// Succeeded returns the external IDs of successful attempts keyed by platform.
func (o JobOutcome) Succeeded() map[Platform]string {
	out := make(map[Platform]string)
	for _, a := range o.Attempts {
		if a.State == AttemptSucceeded {
			out[a.Platform] = a.ExternalID
		}
	}
	return out
}
