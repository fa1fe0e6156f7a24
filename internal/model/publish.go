package model

import (
	"strconv"
	"strings"
	"time"
)

// PublishRequest represents the request body for a manual publish
type PublishRequest struct {
	Bucket  string     `json:"bucket" validate:"omitempty,min=1"`
	Object  string     `json:"object" validate:"required,min=1"`
	Targets []Platform `json:"targets" validate:"omitempty,min=1,dive,oneof=youtube facebook buffer"`
}

// PublishAcceptedResponse represents the response for an accepted publish
type PublishAcceptedResponse struct {
	JobID     string    `json:"jobId"`
	State     JobState  `json:"state"`
	Targets   []Platform `json:"targets"`
	CreatedAt time.Time `json:"createdAt"`
}

// PublishStatusResponse represents the status of a publish job
type PublishStatusResponse struct {
	JobID       string     `json:"jobId"`
	State       JobState   `json:"state"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ScanRequest represents the request body for a manual scan
type ScanRequest struct {
	IgnoreWindow bool `json:"ignoreWindow"`
}

// ScanResponse represents the outcome of a scan pass
type ScanResponse struct {
	Scanned       int      `json:"scanned"`
	Enqueued      int      `json:"enqueued"`
	JobIDs        []string `json:"jobIds,omitempty"`
	SkippedReason string   `json:"skippedReason,omitempty"`
}

// StorageNotification is the raw webhook body for an object-finalized event.
// Size arrives as a JSON string from GCS-style notifiers and as a number from
// S3-style ones.
type StorageNotification struct {
	Bucket      string    `json:"bucket" validate:"required,min=1"`
	Name        string    `json:"name" validate:"required,min=1"`
	ContentType string    `json:"contentType"`
	Size        FlexInt64 `json:"size"`
}

// Event normalizes the notification.
func (n StorageNotification) Event() ObjectFinalizedEvent {
	return ObjectFinalizedEvent{
		Bucket:      n.Bucket,
		Name:        n.Name,
		ContentType: n.ContentType,
		Size:        int64(n.Size),
	}
}

// FlexInt64 decodes JSON integers that may be quoted.
type FlexInt64 int64

func (f *FlexInt64) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = FlexInt64(v)
	return nil
}
