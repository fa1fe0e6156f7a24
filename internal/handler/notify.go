package handler

import (
	"crypto/subtle"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/clipcast/publisher/internal/config"
	"github.com/clipcast/publisher/internal/model"
	"github.com/clipcast/publisher/internal/service"
	"github.com/clipcast/publisher/internal/trigger"
	"github.com/clipcast/publisher/pkg/response"
)

// NotifyHandler receives object-finalized notifications pushed by the bucket.
type NotifyHandler struct {
	service   *service.PublishService
	cfg       *config.Config
	validator *validator.Validate
}

func NewNotifyHandler(svc *service.PublishService, cfg *config.Config, v *validator.Validate) *NotifyHandler {
	return &NotifyHandler{
		service:   svc,
		cfg:       cfg,
		validator: v,
	}
}

// storageHookResponse acknowledges a notification. Filtered events are still
// a 200; returning an error would make the notifier redeliver something we
// will never want.
type storageHookResponse struct {
	Accepted bool   `json:"accepted"`
	JobID    string `json:"jobId,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Storage handles POST /hooks/storage
// @Summary      Object-finalized webhook
// @Description  Receive a storage notification and queue a publish job when the object is a publishable artifact
// @Tags         Hooks
// @Accept       json
// @Produce      json
// @Param        request body model.StorageNotification true "Storage notification"
// @Success      200 {object} storageHookResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /hooks/storage [post]
func (h *NotifyHandler) Storage(c *fiber.Ctx) error {
	if h.cfg.Hooks.Secret != "" {
		got := c.Get("X-Hook-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.cfg.Hooks.Secret)) != 1 {
			return response.Unauthorized(c, "Invalid hook secret")
		}
	}

	var notification model.StorageNotification
	if err := c.BodyParser(&notification); err != nil {
		return response.ValidationError(c, "Invalid notification body", nil)
	}
	if err := h.validator.Struct(&notification); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	evt := notification.Event()
	if ok, reason := trigger.Eligible(&h.cfg.Ingest, evt); !ok {
		logrus.WithFields(logrus.Fields{
			"object": evt.Name,
			"reason": reason,
		}).Debug("Notification filtered")
		return response.OK(c, storageHookResponse{Accepted: false, Reason: reason})
	}

	result, err := h.service.StartPublish(c.Context(), evt, nil)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	logrus.WithFields(logrus.Fields{
		"object": evt.Name,
		"jobId":  result.JobID,
	}).Info("Notification accepted")

	return response.OK(c, storageHookResponse{Accepted: true, JobID: result.JobID})
}
