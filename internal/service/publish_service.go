package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/clipcast/publisher/internal/config"
	"github.com/clipcast/publisher/internal/model"
	"github.com/clipcast/publisher/internal/trigger"
)

const (
	TaskTypePublish = "publish:process"
	TaskTypeScan    = "publish:scan"
)

// ErrJobNotFound reports a job id with no record behind it, either unknown or
// expired out of retention.
var ErrJobNotFound = errors.New("job not found")

// PublishService owns publish job records and the task queue in front of the
// workers.
type PublishService struct {
	redis       *redis.Client
	asynqClient *asynq.Client
	scanner     *trigger.Scanner
	cfg         *config.Config
}

func NewPublishService(redisClient *redis.Client, asynqClient *asynq.Client, scanner *trigger.Scanner, cfg *config.Config) *PublishService {
	return &PublishService{
		redis:       redisClient,
		asynqClient: asynqClient,
		scanner:     scanner,
		cfg:         cfg,
	}
}

// DefaultTargets returns the configured target list in publish order.
func (s *PublishService) DefaultTargets() []model.Platform {
	out := make([]model.Platform, 0, len(s.cfg.Publish.Targets))
	for _, t := range s.cfg.Publish.Targets {
		out = append(out, model.Platform(t))
	}
	return out
}

// StartPublish queues a publish job for one artifact. An empty target list
// means the configured default list.
func (s *PublishService) StartPublish(ctx context.Context, evt model.ObjectFinalizedEvent, targets []model.Platform) (*model.PublishAcceptedResponse, error) {
	if len(targets) == 0 {
		targets = s.DefaultTargets()
	}
	if evt.Bucket == "" {
		evt.Bucket = s.cfg.Storage.Bucket
	}

	jobID := uuid.New().String()
	now := time.Now()

	job := &model.PublishJob{
		ID:        jobID,
		State:     model.JobStateReceived,
		Event:     evt,
		Targets:   targets,
		CreatedAt: now,
	}

	if err := s.saveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	payloadBytes, err := json.Marshal(&model.PublishJobPayload{
		Event:   evt,
		Targets: targets,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	task, err := newPublishTask(jobID, payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	_, err = s.asynqClient.Enqueue(task,
		asynq.Queue("publish"),
		asynq.MaxRetry(3),
		asynq.Retention(24*time.Hour),
		asynq.Timeout(time.Duration(s.cfg.Publish.JobTimeoutMin)*time.Minute),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.PublishAcceptedResponse{
		JobID:     jobID,
		State:     model.JobStateReceived,
		Targets:   targets,
		CreatedAt: now,
	}, nil
}

// Scan sweeps the ingest prefix and queues a publish job per unpublished
// artifact. Outside the posting window the sweep is skipped unless forced.
func (s *PublishService) Scan(ctx context.Context, ignoreWindow bool) (*model.ScanResponse, error) {
	if !ignoreWindow && !trigger.InWindow(&s.cfg.Schedule, time.Now()) {
		return &model.ScanResponse{SkippedReason: "outside posting window"}, nil
	}

	events, err := s.scanner.Pending(ctx, s.cfg.Schedule.MaxScan)
	if err != nil {
		return nil, fmt.Errorf("failed to scan ingest prefix: %w", err)
	}

	resp := &model.ScanResponse{Scanned: len(events)}
	for _, evt := range events {
		accepted, err := s.StartPublish(ctx, evt, nil)
		if err != nil {
			return nil, err
		}
		resp.Enqueued++
		resp.JobIDs = append(resp.JobIDs, accepted.JobID)
	}
	return resp, nil
}

// GetStatus returns the current state of a publish job
func (s *PublishService) GetStatus(ctx context.Context, jobID string) (*model.PublishStatusResponse, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &model.PublishStatusResponse{
		JobID:       job.ID,
		State:       job.State,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}, nil
}

// GetJob returns the full job record including its outcome.
func (s *PublishService) GetJob(ctx context.Context, jobID string) (*model.PublishJob, error) {
	return s.getJob(ctx, jobID)
}

// UpdateJobState advances a job through the pipeline (called by worker)
func (s *PublishService) UpdateJobState(ctx context.Context, jobID string, state model.JobState) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.State = state
	if job.StartedAt == nil {
		now := time.Now()
		job.StartedAt = &now
	}

	return s.saveJob(ctx, job)
}

// CompleteJob stores the outcome and the terminal state it maps to (called
// by worker)
func (s *PublishService) CompleteJob(ctx context.Context, jobID string, outcome *model.JobOutcome) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.State = outcome.OverallStatus.JobState()
	job.Outcome = outcome
	now := time.Now()
	job.CompletedAt = &now

	return s.saveJob(ctx, job)
}

// FailJob records a job-fatal failure: the job never reached (or never
// finished) its targets, so the outcome is a single synthetic diagnostic
// attempt carrying the classification and remediation (called by worker)
func (s *PublishService) FailJob(ctx context.Context, jobID string, kind model.ErrorKind, message, remediation string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	now := time.Now()
	startedAt := now
	if job.StartedAt != nil {
		startedAt = *job.StartedAt
	}

	job.State = model.JobStateFailed
	job.Error = &message
	job.CompletedAt = &now
	job.Outcome = &model.JobOutcome{
		JobID:         jobID,
		OverallStatus: model.StatusFailed,
		Attempts: []model.PublishAttempt{{
			State:       model.AttemptFailed,
			ErrorKind:   &kind,
			Remediation: remediation,
		}},
		StartedAt: startedAt,
		EndedAt:   now,
	}

	return s.saveJob(ctx, job)
}

// Helper methods

func (s *PublishService) saveJob(ctx context.Context, job *model.PublishJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, fmt.Sprintf("job:%s", job.ID), data, 24*time.Hour).Err()
}

func (s *PublishService) getJob(ctx context.Context, jobID string) (*model.PublishJob, error) {
	data, err := s.redis.Get(ctx, fmt.Sprintf("job:%s", jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.PublishJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}

	return &job, nil
}

func newPublishTask(jobID string, payload []byte) (*asynq.Task, error) {
	taskPayload := map[string]interface{}{
		"jobId":   jobID,
		"payload": payload,
	}
	data, err := json.Marshal(taskPayload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypePublish, data), nil
}

// NewScanTask builds the task the scheduler enqueues for a sweep.
func NewScanTask(reason string) (*asynq.Task, error) {
	data, err := json.Marshal(&model.ScanJobPayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeScan, data), nil
}
