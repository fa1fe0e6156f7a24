package model

// Publishing platforms
type Platform string

const (
	PlatformYouTube  Platform = "youtube"
	PlatformFacebook Platform = "facebook"
	PlatformBuffer   Platform = "buffer"
)

var ValidPlatforms = []Platform{
	PlatformYouTube, PlatformFacebook, PlatformBuffer,
}

// Valid reports whether p is a known publishing platform.
func (p Platform) Valid() bool {
	for _, v := range ValidPlatforms {
		if p == v {
			return true
		}
	}
	return false
}

// Job lifecycle states
type JobState string

const (
	JobStateReceived         JobState = "received"
	JobStateFetching         JobState = "fetching"
	JobStateMetadataResolved JobState = "metadata_resolved"
	JobStatePublishing       JobState = "publishing"
	JobStateSuccess          JobState = "success"
	JobStatePartialSuccess   JobState = "partial_success"
	JobStateFailed           JobState = "failed"
)

// IsTerminal reports whether the job can no longer change state.
func (s JobState) IsTerminal() bool {
	return s == JobStateSuccess || s == JobStatePartialSuccess || s == JobStateFailed
}

// Per-target attempt states
type AttemptState string

const (
	AttemptPending         AttemptState = "pending"
	AttemptPreflight       AttemptState = "preflight"
	AttemptPreflightFailed AttemptState = "preflight_failed"
	AttemptUploading       AttemptState = "uploading"
	AttemptSucceeded       AttemptState = "succeeded"
	AttemptFailed          AttemptState = "failed"
	AttemptNotAttempted    AttemptState = "not_attempted"
)

// Error classification
type ErrorKind string

const (
	ErrKindQuotaExceeded      ErrorKind = "quota_exceeded"
	ErrKindInvalidCredential  ErrorKind = "invalid_credential"
	ErrKindTransientNetwork   ErrorKind = "transient_network"
	ErrKindFatal              ErrorKind = "fatal"
	ErrKindConfigurationError ErrorKind = "configuration_error"
	ErrKindArtifactError      ErrorKind = "artifact_error"
)

// IsJobFatal reports whether the kind aborts the whole job rather than a
// single target.
func (k ErrorKind) IsJobFatal() bool {
	return k == ErrKindConfigurationError || k == ErrKindArtifactError
}

// Overall job verdicts
type OverallStatus string

const (
	StatusSuccess        OverallStatus = "success"
	StatusPartialSuccess OverallStatus = "partial_success"
	StatusFailed         OverallStatus = "failed"
)

// JobState returns the terminal job state matching the verdict.
func (s OverallStatus) JobState() JobState {
	switch s {
	case StatusSuccess:
		return JobStateSuccess
	case StatusPartialSuccess:
		return JobStatePartialSuccess
	default:
		return JobStateFailed
	}
}
