package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/clipcast/publisher/internal/config"
	"github.com/clipcast/publisher/internal/model"
	"github.com/clipcast/publisher/internal/publisher"
	"github.com/clipcast/publisher/internal/secrets"
)

// ProgressFunc receives per-target state transitions as the run advances.
type ProgressFunc func(platform model.Platform, state model.AttemptState, message string)

// Request carries everything one delivery run needs. The broker is scoped to
// this invocation; credentials never outlive the run.
type Request struct {
	JobID        string
	ArtifactPath string
	ArtifactSize int64
	Meta         model.VideoMeta
	Targets      []model.PublishTarget
	Broker       *secrets.Broker
	Progress     ProgressFunc
}

// Coordinator walks the configured target list in order and records exactly
// one attempt per target. A target failing never stops the walk; only the
// job deadline does, and then the remaining targets are marked not attempted
// rather than silently dropped.
type Coordinator struct {
	cfg        *config.PublishConfig
	publishers map[model.Platform]publisher.Publisher

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg *config.PublishConfig, pubs ...publisher.Publisher) *Coordinator {
	registry := make(map[model.Platform]publisher.Publisher, len(pubs))
	for _, pub := range pubs {
		registry[pub.Platform()] = pub
	}
	return &Coordinator{
		cfg:        cfg,
		publishers: registry,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// Run delivers the staged artifact to every target in order. It always
// returns a complete outcome; per-target failures live in the attempts, not
// in an error.
func (c *Coordinator) Run(ctx context.Context, req Request) *model.JobOutcome {
	outcome := &model.JobOutcome{
		JobID:     req.JobID,
		Attempts:  make([]model.PublishAttempt, 0, len(req.Targets)),
		StartedAt: time.Now().UTC(),
	}

	for i, target := range req.Targets {
		if i > 0 {
			if err := c.interPublishDelay(ctx); err != nil {
				c.markNotAttempted(req, outcome, req.Targets[i:])
				break
			}
		}
		if !c.deadlineAllowsAnother(ctx) {
			logrus.WithFields(logrus.Fields{
				"jobId":     req.JobID,
				"remaining": len(req.Targets) - i,
			}).Warn("Job deadline too close, truncating target list")
			c.markNotAttempted(req, outcome, req.Targets[i:])
			break
		}

		outcome.Attempts = append(outcome.Attempts, c.publishOne(ctx, req, target))
	}

	outcome.EndedAt = time.Now().UTC()
	outcome.OverallStatus = aggregate(outcome.Attempts)

	logrus.WithFields(logrus.Fields{
		"jobId":     req.JobID,
		"status":    outcome.OverallStatus,
		"succeeded": len(outcome.Succeeded()),
		"targets":   len(req.Targets),
	}).Info("Publish run finished")

	return outcome
}

// publishOne drives a single target through its states. Preflight failures
// are terminal; the upload never starts after one.
func (c *Coordinator) publishOne(ctx context.Context, req Request, target model.PublishTarget) model.PublishAttempt {
	now := time.Now().UTC()
	attempt := model.PublishAttempt{
		Platform:  target.Platform,
		State:     model.AttemptPending,
		StartedAt: &now,
	}

	log := logrus.WithFields(logrus.Fields{
		"jobId":    req.JobID,
		"platform": target.Platform,
	})

	pub, ok := c.publishers[target.Platform]
	if !ok {
		c.failAttempt(req, &attempt, publisher.NewError(model.ErrKindFatal,
			fmt.Sprintf("platform %s is not enabled on this deployment; remove it from the target list or register its publisher", target.Platform),
			fmt.Errorf("no publisher registered for %s", target.Platform)))
		return attempt
	}

	if target.MaxSizeBytes > 0 && req.ArtifactSize > target.MaxSizeBytes {
		c.failAttempt(req, &attempt, publisher.NewError(model.ErrKindFatal,
			fmt.Sprintf("artifact is %d bytes, over the %s limit of %d; re-encode below the cap",
				req.ArtifactSize, target.Platform, target.MaxSizeBytes),
			fmt.Errorf("artifact exceeds %s size limit", target.Platform)))
		return attempt
	}

	creds, err := req.Broker.Lookup(ctx, pub.CredentialKeys()...)
	if err != nil {
		if errors.Is(err, secrets.ErrNotFound) {
			c.failAttempt(req, &attempt, publisher.NewError(model.ErrKindInvalidCredential,
				fmt.Sprintf("provide %s in the worker environment or secret mount", strings.Join(pub.CredentialKeys(), ", ")),
				err))
		} else {
			c.failAttempt(req, &attempt, publisher.NewError(model.ErrKindConfigurationError,
				"secret store unreachable; check the worker's secret mounts", err))
		}
		return attempt
	}

	if target.SupportsPreflight {
		attempt.State = model.AttemptPreflight
		c.notify(req, target.Platform, attempt.State, "running preflight checks")

		pctx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.PreflightTimeout)*time.Second)
		err := pub.Preflight(pctx, creds)
		cancel()
		if err != nil {
			perr := asPublisherError(err)
			attempt.State = model.AttemptPreflightFailed
			attempt.ErrorKind = &perr.Kind
			attempt.Remediation = perr.Remediation
			c.finish(&attempt)
			c.notify(req, target.Platform, attempt.State, perr.Remediation)
			log.WithError(err).WithField("kind", perr.Kind).Warn("Preflight failed, skipping upload")
			return attempt
		}
	}

	attempt.State = model.AttemptUploading
	c.notify(req, target.Platform, attempt.State, "uploading artifact")

	externalID, err := c.uploadWithRetry(ctx, pub, req, creds, &attempt)
	if err != nil {
		c.failAttempt(req, &attempt, asPublisherError(err))
		return attempt
	}

	attempt.State = model.AttemptSucceeded
	attempt.ExternalID = externalID
	c.finish(&attempt)
	c.notify(req, target.Platform, attempt.State, "published as "+externalID)
	log.WithField("externalId", externalID).Info("Target published")

	return attempt
}

// uploadWithRetry retries transient network failures with exponential
// backoff. Every other kind is permanent; quota and credential errors do not
// get better by hammering the API again.
func (c *Coordinator) uploadWithRetry(ctx context.Context, pub publisher.Publisher, req Request, creds model.Credentials, attempt *model.PublishAttempt) (string, error) {
	var externalID string
	tries := 0

	operation := func() error {
		tries++
		uctx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.UploadTimeout)*time.Second)
		defer cancel()

		id, err := pub.Upload(uctx, req.ArtifactPath, req.Meta, creds)
		if err != nil {
			perr := asPublisherError(err)
			if perr.Kind == model.ErrKindTransientNetwork {
				logrus.WithFields(logrus.Fields{
					"jobId":    req.JobID,
					"platform": pub.Platform(),
					"try":      tries,
				}).WithError(err).Warn("Transient upload failure, will retry")
				return perr
			}
			return backoff.Permanent(perr)
		}
		externalID = id
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(c.cfg.RetryBaseDelayMS) * time.Millisecond

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.MaxRetries)), ctx))
	attempt.Retries = tries - 1
	return externalID, err
}

func (c *Coordinator) failAttempt(req Request, attempt *model.PublishAttempt, perr *publisher.Error) {
	attempt.State = model.AttemptFailed
	attempt.ErrorKind = &perr.Kind
	attempt.Remediation = perr.Remediation
	c.finish(attempt)
	c.notify(req, attempt.Platform, attempt.State, perr.Remediation)

	logrus.WithFields(logrus.Fields{
		"jobId":    req.JobID,
		"platform": attempt.Platform,
		"kind":     perr.Kind,
	}).WithError(perr).Warn("Target failed")
}

func (c *Coordinator) markNotAttempted(req Request, outcome *model.JobOutcome, targets []model.PublishTarget) {
	for _, target := range targets {
		outcome.Attempts = append(outcome.Attempts, model.PublishAttempt{
			Platform: target.Platform,
			State:    model.AttemptNotAttempted,
		})
		c.notify(req, target.Platform, model.AttemptNotAttempted, "job deadline reached before this target")
	}
}

// deadlineAllowsAnother reports whether enough of the job deadline remains to
// plausibly finish one more upload.
func (c *Coordinator) deadlineAllowsAnother(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return true
	}
	return deadline.Sub(c.now()) >= time.Duration(c.cfg.DeadlineMargin)*time.Second
}

// interPublishDelay spaces consecutive platform calls so bursts of uploads
// do not trip rate limiters. The jitter keeps the spacing from being a
// fixed fingerprint.
func (c *Coordinator) interPublishDelay(ctx context.Context) error {
	delay := time.Duration(c.cfg.InterDelaySec) * time.Second
	if c.cfg.InterJitterSec > 0 {
		delay += time.Duration(rand.Int63n(int64(c.cfg.InterJitterSec)*int64(time.Second) + 1))
	}
	return c.sleep(ctx, delay)
}

func (c *Coordinator) finish(attempt *model.PublishAttempt) {
	now := time.Now().UTC()
	attempt.EndedAt = &now
}

func (c *Coordinator) notify(req Request, platform model.Platform, state model.AttemptState, message string) {
	if req.Progress != nil {
		req.Progress(platform, state, message)
	}
}

// aggregate folds per-target attempts into the run status. Success requires
// every target to have succeeded; a single delivery keeps the run out of
// failed; anything between is partial.
func aggregate(attempts []model.PublishAttempt) model.OverallStatus {
	succeeded := 0
	for _, attempt := range attempts {
		if attempt.State == model.AttemptSucceeded {
			succeeded++
		}
	}
	switch {
	case succeeded == len(attempts) && len(attempts) > 0:
		return model.StatusSuccess
	case succeeded == 0:
		return model.StatusFailed
	default:
		return model.StatusPartialSuccess
	}
}

func asPublisherError(err error) *publisher.Error {
	if perr, ok := publisher.AsError(err); ok {
		return perr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return publisher.NewError(model.ErrKindTransientNetwork,
			"upload ran out of time; retry later", err)
	}
	return publisher.NewError(model.ErrKindFatal, "unexpected publisher failure", err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
