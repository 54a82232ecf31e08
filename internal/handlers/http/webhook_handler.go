package http

import (
	"context"
	"net/http"
	"time"

	"nests/internal/core/domain"
	apperrors "nests/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/webhook"
	"go.uber.org/zap"
)

const (
	eventRoomFinished      = "room_finished"
	eventParticipantJoined = "participant_joined"
)

// RoomEvents reacts to media service webhooks.
type RoomEvents interface {
	HandleRoomFinished(ctx context.Context, id domain.RoomID, startedAt time.Time) error
	HandleParticipantJoined(ctx context.Context, id domain.RoomID) error
}

type WebhookHandler struct {
	rooms    RoomEvents
	provider auth.KeyProvider
	logger   *zap.SugaredLogger
}

func NewWebhookHandler(rooms RoomEvents, apiKey, apiSecret string, logger *zap.SugaredLogger) *WebhookHandler {
	return &WebhookHandler{
		rooms:    rooms,
		provider: auth.NewSimpleKeyProvider(apiKey, apiSecret),
		logger:   logger,
	}
}

func (h *WebhookHandler) SetupRoutes(router gin.IRouter) {
	router.POST("/api/v1/webhooks/livekit", h.Receive)
}

// Receive verifies a signed LiveKit webhook and keeps the directory in
// step with the media service.
func (h *WebhookHandler) Receive(c *gin.Context) {
	event, err := webhook.ReceiveWebhookEvent(c.Request, h.provider)
	if err != nil {
		_ = c.Error(apperrors.WrapError(err, apperrors.ErrCodeAuthBadSignature, "invalid webhook", http.StatusUnauthorized))
		return
	}

	id := domain.RoomID(event.GetRoom().GetName())
	h.logger.Debugw("webhook received", "event", event.GetEvent(), "room_id", id)

	switch event.GetEvent() {
	case eventRoomFinished:
		var startedAt time.Time
		if created := event.GetRoom().GetCreationTime(); created > 0 {
			startedAt = time.Unix(created, 0)
		}
		err = h.rooms.HandleRoomFinished(c.Request.Context(), id, startedAt)
	case eventParticipantJoined:
		err = h.rooms.HandleParticipantJoined(c.Request.Context(), id)
	}
	if err != nil {
		_ = c.Error(apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to handle webhook", http.StatusInternalServerError))
		return
	}

	c.Status(http.StatusOK)
}
