package http

import (
	"context"
	"net/http"

	"nests/internal/core/domain"
	"nests/internal/core/services"
	"nests/internal/infrastructure/middleware"
	apperrors "nests/pkg/errors"
	"nests/pkg/validation"

	"github.com/gin-gonic/gin"
)

// SessionManager is the lifecycle surface the room handler needs.
type SessionManager interface {
	Create(ctx context.Context, owner domain.Identity, req services.CreateRequest) (*services.SessionResult, error)
	Restart(ctx context.Context, id domain.RoomID, requester domain.Identity) (*services.SessionResult, error)
	Delete(ctx context.Context, id domain.RoomID, requester domain.Identity) error
	SetStatus(ctx context.Context, id domain.RoomID, requester domain.Identity, status domain.RoomStatus) (*domain.Room, error)
	UpdatePermissions(ctx context.Context, id domain.RoomID, requester domain.Identity, change services.PermissionChange) (bool, error)
	Info(ctx context.Context, id domain.RoomID) (*services.RoomInfo, error)
}

// Joiner admits callers to rooms.
type Joiner interface {
	Join(ctx context.Context, req services.JoinRequest) (*services.JoinResult, error)
	JoinGuest(ctx context.Context, id domain.RoomID) (*services.JoinResult, error)
}

type RoomHandler struct {
	sessions SessionManager
	joiner   Joiner
	auth     gin.HandlerFunc
}

func NewRoomHandler(sessions SessionManager, joiner Joiner, auth *services.RequestAuthenticator) *RoomHandler {
	return &RoomHandler{
		sessions: sessions,
		joiner:   joiner,
		auth:     middleware.NostrAuthMiddleware(auth),
	}
}

func (h *RoomHandler) SetupRoutes(router gin.IRouter) {
	nests := router.Group("/api/v1/nests")
	{
		nests.PUT("", h.auth, h.CreateRoom)
		nests.GET("/:id", h.JoinRoom)
		nests.GET("/:id/guest", h.JoinGuest)
		nests.GET("/:id/info", h.GetInfo)
		nests.POST("/:id/restart", h.auth, h.RestartRoom)
		nests.DELETE("/:id", h.auth, h.DeleteRoom)
		nests.POST("/:id/permissions", h.auth, h.UpdatePermissions)
		nests.POST("/:id/status", h.auth, h.SetStatus)
	}
}

type createRoomRequest struct {
	Relays []string `json:"relays" binding:"required,min=1"`
	HLS    bool     `json:"hls_stream"`
}

type sessionResponse struct {
	RoomID    domain.RoomID `json:"roomId"`
	Endpoints []string      `json:"endpoints"`
	Token     string        `json:"token"`
	Message   string        `json:"message,omitempty"`
}

func toSessionResponse(res *services.SessionResult) sessionResponse {
	return sessionResponse{
		RoomID:    res.RoomID,
		Endpoints: res.Endpoints,
		Token:     res.Token.Token,
		Message:   res.Message,
	}
}

func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("relays are required"))
		return
	}

	owner, _ := middleware.Pubkey(c)
	res, err := h.sessions.Create(c.Request.Context(), owner, services.CreateRequest{
		Relays: req.Relays,
		HLS:    req.HLS,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(res))
}

type joinResponse struct {
	Token string      `json:"token"`
	Role  domain.Role `json:"role"`
	Path  string      `json:"path"`
}

// JoinRoom authenticates the caller when an Authorization header is
// present and falls back to a guest join.
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	res, err := h.joiner.Join(c.Request.Context(), services.JoinRequest{
		RoomID:     id,
		AuthHeader: c.GetHeader("Authorization"),
		Method:     c.Request.Method,
		Path:       c.Request.URL.Path,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, joinResponse{Token: res.Token.Token, Role: res.Token.Role, Path: res.Path})
}

func (h *RoomHandler) JoinGuest(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	res, err := h.joiner.JoinGuest(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, joinResponse{Token: res.Token.Token, Role: res.Token.Role, Path: res.Path})
}

func (h *RoomHandler) GetInfo(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	info, err := h.sessions.Info(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, info)
}

func (h *RoomHandler) RestartRoom(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	requester, _ := middleware.Pubkey(c)
	res, err := h.sessions.Restart(c.Request.Context(), id, requester)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(res))
}

func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	requester, _ := middleware.Pubkey(c)
	if err := h.sessions.Delete(c.Request.Context(), id, requester); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Nest deleted"})
}

// UpdatePermissions answers 201 when the directory changed and 204 when
// the request was a no-op or only muted.
func (h *RoomHandler) UpdatePermissions(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	var change services.PermissionChange
	if err := c.ShouldBindJSON(&change); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("invalid permission change"))
		return
	}

	requester, _ := middleware.Pubkey(c)
	updated, err := h.sessions.UpdatePermissions(c.Request.Context(), id, requester, change)
	if err != nil {
		_ = c.Error(err)
		return
	}

	if updated {
		c.Status(http.StatusCreated)
		return
	}
	c.Status(http.StatusNoContent)
}

type setStatusRequest struct {
	Status domain.RoomStatus `json:"status" binding:"required"`
}

func (h *RoomHandler) SetStatus(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("status is required"))
		return
	}

	requester, _ := middleware.Pubkey(c)
	room, err := h.sessions.SetStatus(c.Request.Context(), id, requester, req.Status)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"roomId": room.ID, "status": room.Status})
}

// roomID validates the :id path parameter and records an error if it is
// not a room id.
func roomID(c *gin.Context) (domain.RoomID, bool) {
	id := c.Param("id")
	if err := validation.ValidateRoomID(id); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("invalid nest id"))
		return "", false
	}
	return domain.RoomID(id), true
}
