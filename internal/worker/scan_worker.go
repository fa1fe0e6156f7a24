package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/clipcast/publisher/internal/model"
	"github.com/clipcast/publisher/internal/service"
)

// ScanWorker processes scheduled scan ticks. Each tick sweeps the ingest
// prefix for artifacts whose notifications were lost and queues publish jobs
// for them.
type ScanWorker struct {
	publishService *service.PublishService
}

// NewScanWorker creates a new scan worker
func NewScanWorker(publishService *service.PublishService) *ScanWorker {
	return &ScanWorker{publishService: publishService}
}

// ProcessTask handles one scan tick
func (w *ScanWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.ScanJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal scan payload: %w", err)
	}

	resp, err := w.publishService.Scan(ctx, false)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"reason":   payload.Reason,
		"scanned":  resp.Scanned,
		"enqueued": resp.Enqueued,
		"skipped":  resp.SkippedReason,
	}).Info("Scan tick finished")

	return nil
}
