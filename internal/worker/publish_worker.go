package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/clipcast/publisher/internal/caption"
	"github.com/clipcast/publisher/internal/config"
	"github.com/clipcast/publisher/internal/coordinator"
	"github.com/clipcast/publisher/internal/model"
	"github.com/clipcast/publisher/internal/secrets"
	"github.com/clipcast/publisher/internal/service"
	"github.com/clipcast/publisher/internal/storage"
	"github.com/clipcast/publisher/internal/websocket"
)

// PublishWorker processes publish jobs
type PublishWorker struct {
	publishService *service.PublishService
	store          storage.ObjectStore
	fetcher        *storage.Fetcher
	coordinator    *coordinator.Coordinator
	secretStore    secrets.Store
	cfg            *config.Config
	hub            *websocket.Hub
}

// NewPublishWorker creates a new publish worker
func NewPublishWorker(publishService *service.PublishService, store storage.ObjectStore, fetcher *storage.Fetcher, coord *coordinator.Coordinator, secretStore secrets.Store, cfg *config.Config, hub *websocket.Hub) *PublishWorker {
	return &PublishWorker{
		publishService: publishService,
		store:          store,
		fetcher:        fetcher,
		coordinator:    coord,
		secretStore:    secretStore,
		cfg:            cfg,
		hub:            hub,
	}
}

// ProcessTask runs one publish job end to end. Target failures are business
// outcomes recorded on the job, never task errors; returning non-nil is
// reserved for infrastructure problems where a queue-level retry can help.
func (w *PublishWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var taskPayload struct {
		JobID   string          `json:"jobId"`
		Payload json.RawMessage `json:"payload"`
	}

	if err := json.Unmarshal(t.Payload(), &taskPayload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	jobID := taskPayload.JobID
	log := logrus.WithField("jobId", jobID)
	log.Info("Starting publish job")

	var payload model.PublishJobPayload
	if err := json.Unmarshal(taskPayload.Payload, &payload); err != nil {
		w.failJob(ctx, jobID, model.ErrKindConfigurationError,
			"Invalid payload", "re-enqueue the job with a well-formed payload")
		return fmt.Errorf("failed to unmarshal publish payload: %w", err)
	}

	if len(payload.Targets) == 0 {
		w.failJob(ctx, jobID, model.ErrKindConfigurationError,
			"No publish targets configured", "set PUBLISH_TARGETS to a non-empty ordered list")
		return nil
	}

	evt := payload.Event

	// Claim the artifact before doing anything else. The marker write is
	// atomic create-if-absent, so exactly one delivery of a redelivered or
	// duplicated event wins; everyone else sees the claim and stops.
	claimed, err := w.claimMarker(ctx, evt)
	if err != nil {
		return err
	}
	if !claimed {
		log.WithField("object", evt.Name).Info("Artifact already claimed by an earlier delivery, skipping")
		outcome := &model.JobOutcome{
			JobID:         jobID,
			OverallStatus: model.StatusSuccess,
			Attempts:      []model.PublishAttempt{},
		}
		if err := w.publishService.CompleteJob(ctx, jobID, outcome); err != nil {
			return err
		}
		w.hub.BroadcastComplete(jobID, outcome)
		return nil
	}

	// Past this point the claim is ours. A queue-level retry would see the
	// marker and skip, so every failure below settles the job instead of
	// returning an error.
	w.updateState(ctx, jobID, model.JobStateFetching, "downloading artifact")

	artifact, err := w.fetcher.Fetch(ctx, evt)
	if err != nil {
		kind := model.ErrKindArtifactError
		remediation := "delete the publish marker and rescan to retry the artifact"
		if errors.Is(err, storage.ErrTooLarge) {
			remediation = "artifact exceeds the ingest size cap; re-encode it smaller or raise INGEST_MAX_SIZE_BYTES, then delete the marker and rescan"
		}
		w.failJob(ctx, jobID, kind, fmt.Sprintf("Artifact fetch failed: %v", err), remediation)
		return nil
	}
	defer artifact.Cleanup()

	raw, found, err := w.fetcher.FetchCompanion(ctx, evt)
	if err != nil {
		log.WithError(err).Warn("Companion metadata fetch failed, using defaults")
	} else if !found {
		log.WithField("object", evt.CompanionKey()).Info("No companion metadata, using defaults")
	}
	meta := caption.Resolve(raw, evt.Name)

	// The companion document may narrow where this artifact goes.
	platforms := payload.Targets
	if dests := caption.Destinations(raw); len(dests) > 0 {
		platforms = dests
		log.WithField("destinations", dests).Info("Companion metadata overrides publish targets")
	}

	w.updateState(ctx, jobID, model.JobStateMetadataResolved, "metadata resolved: "+meta.Title)

	w.updateState(ctx, jobID, model.JobStatePublishing, "publishing to targets")

	outcome := w.coordinator.Run(ctx, coordinator.Request{
		JobID:        jobID,
		ArtifactPath: artifact.LocalPath,
		ArtifactSize: artifact.Size,
		Meta:         meta,
		Targets:      w.targetSpecs(platforms),
		Broker:       secrets.NewBroker(w.secretStore),
		Progress: func(platform model.Platform, state model.AttemptState, message string) {
			w.hub.BroadcastProgress(jobID, model.JobStatePublishing, platform, state, message)
		},
	})

	if err := w.publishService.CompleteJob(ctx, jobID, outcome); err != nil {
		w.failJob(ctx, jobID, model.ErrKindConfigurationError,
			"Failed to save outcome", "check the redis connection")
		return err
	}

	w.hub.BroadcastComplete(jobID, outcome)
	log.WithField("status", outcome.OverallStatus).Info("Publish job finished")
	return nil
}

// claimMarker writes the publish marker with create-if-absent semantics.
// Returns false when another delivery already owns the artifact.
func (w *PublishWorker) claimMarker(ctx context.Context, evt model.ObjectFinalizedEvent) (bool, error) {
	key := evt.MarkerKey(w.cfg.Ingest.MarkerPrefix)
	err := w.store.Put(ctx, evt.Bucket, key, []byte{}, "application/octet-stream", true)
	if errors.Is(err, storage.ErrObjectExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to write publish marker %s: %w", key, err)
	}
	return true, nil
}

// targetSpecs joins the job's ordered platform list with the per-platform
// configuration into the coordinator's declarative target list.
func (w *PublishWorker) targetSpecs(platforms []model.Platform) []model.PublishTarget {
	specs := make([]model.PublishTarget, 0, len(platforms))
	for _, platform := range platforms {
		spec := model.PublishTarget{Platform: platform}
		switch platform {
		case model.PlatformYouTube:
			spec.SupportsPreflight = w.cfg.YouTube.Preflight
			spec.MaxSizeBytes = w.cfg.YouTube.MaxSizeBytes
		case model.PlatformFacebook:
			spec.SupportsPreflight = w.cfg.Facebook.Preflight
			spec.MaxSizeBytes = w.cfg.Facebook.MaxSizeBytes
		case model.PlatformBuffer:
			spec.SupportsPreflight = w.cfg.Buffer.Preflight
			spec.MaxSizeBytes = w.cfg.Buffer.MaxSizeBytes
		}
		specs = append(specs, spec)
	}
	return specs
}

func (w *PublishWorker) updateState(ctx context.Context, jobID string, state model.JobState, message string) {
	if err := w.publishService.UpdateJobState(ctx, jobID, state); err != nil {
		logrus.WithError(err).WithField("jobId", jobID).Error("Failed to update job state")
	}
	w.hub.BroadcastProgress(jobID, state, "", "", message)
}

func (w *PublishWorker) failJob(ctx context.Context, jobID string, kind model.ErrorKind, message, remediation string) {
	if err := w.publishService.FailJob(ctx, jobID, kind, message, remediation); err != nil {
		logrus.WithError(err).WithField("jobId", jobID).Error("Failed to mark job as failed")
	}
	w.hub.BroadcastError(jobID, "PUBLISH_FAILED", message)
}
