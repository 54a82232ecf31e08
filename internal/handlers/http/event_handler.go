package http

import (
	"context"
	"io"
	"net/http"

	"nests/internal/core/domain"
	apperrors "nests/pkg/errors"
	"nests/pkg/nostr"
	"nests/pkg/validation"

	"github.com/gin-gonic/gin"
)

const maxEventSize = 64 << 10

// RoleEvents ingests role events and reports effective roles.
type RoleEvents interface {
	Ingest(ctx context.Context, id domain.RoomID, evt *nostr.Event) (domain.RoleEvent, bool, error)
	EffectiveRole(ctx context.Context, id domain.RoomID, identity domain.Identity) (*domain.ResolvedRole, error)
}

type EventHandler struct {
	roles RoleEvents
}

func NewEventHandler(roles RoleEvents) *EventHandler {
	return &EventHandler{roles: roles}
}

func (h *EventHandler) SetupRoutes(router gin.IRouter) {
	nests := router.Group("/api/v1/nests")
	{
		nests.POST("/:id/events", h.PublishEvent)
		nests.GET("/:id/roles/:pubkey", h.GetRole)
	}
}

// PublishEvent accepts a signed role event. The event signature is the
// authorization; no NIP-98 header is needed.
func (h *EventHandler) PublishEvent(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventSize))
	if err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("failed to read event"))
		return
	}
	evt, err := nostr.ParseEvent(body)
	if err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	roleEvt, stored, err := h.roles.Ingest(c.Request.Context(), id, evt)
	if err != nil {
		_ = c.Error(err)
		return
	}

	status := http.StatusCreated
	if !stored {
		status = http.StatusOK
	}
	c.JSON(status, roleEvt)
}

func (h *EventHandler) GetRole(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	pubkey := c.Param("pubkey")
	if err := validation.ValidatePubkey(pubkey); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("invalid pubkey"))
		return
	}

	resolved, err := h.roles.EffectiveRole(c.Request.Context(), id, domain.Identity(pubkey))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resolved)
}
