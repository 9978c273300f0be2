package http

import (
	"net/http"
	"strconv"

	"hirecall/internal/core/domain"
	"hirecall/internal/core/ports"
	"hirecall/internal/core/services"
	"hirecall/internal/infrastructure/middleware"
	"hirecall/pkg/errors"
	"hirecall/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Relay upgrades authenticated requests to signaling websockets.
type Relay interface {
	ServeCall(w http.ResponseWriter, r *http.Request, user domain.UserID, callID domain.CallID)
	ServeControl(w http.ResponseWriter, r *http.Request, user domain.UserID)
}

type CallHandler struct {
	calls  ports.CallService
	auth   services.AuthService
	relay  Relay
	logger *zap.SugaredLogger
}

func NewCallHandler(calls ports.CallService, auth services.AuthService, relay Relay, logger *zap.SugaredLogger) *CallHandler {
	return &CallHandler{
		calls:  calls,
		auth:   auth,
		relay:  relay,
		logger: logger,
	}
}

func (h *CallHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1", middleware.AuthMiddleware(h.auth))
	{
		api.POST("/call", h.CreateCall)
		api.GET("/call/history", h.History)
		api.GET("/call/:id", h.GetCall)
		api.GET("/call/:id/ws", middleware.CallPermissionMiddleware(h.auth), h.CallSocket)
		api.GET("/control/ws", h.ControlSocket)
	}
}

type CreateCallRequest struct {
	Participants []domain.Participant `json:"participants" binding:"required,min=1,max=8"`
}

// CreateCall records a call with the authenticated user as caller.
func (h *CallHandler) CreateCall(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		return
	}

	var req CreateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("participants required"))
		return
	}

	call, err := h.calls.CreateCall(c.Request.Context(), user, req.Participants)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, call)
}

func (h *CallHandler) GetCall(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	id := c.Param("id")
	if err := validation.ValidateCallID(id); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	call, err := h.calls.GetCall(c.Request.Context(), domain.CallID(id))
	if err != nil {
		c.Error(err)
		return
	}
	if !call.HasParticipant(user.ID) {
		c.Error(domain.ErrNotParticipant)
		return
	}
	c.JSON(http.StatusOK, call)
}

// History lists the caller's calls newest first with their transcripts.
func (h *CallHandler) History(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		c.Error(errors.NewInvalidInputError("limit must be a number"))
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		c.Error(errors.NewInvalidInputError("offset must be a number"))
		return
	}

	calls, err := h.calls.History(c.Request.Context(), user.ID, limit, offset)
	if err != nil {
		c.Error(err)
		return
	}
	if calls == nil {
		calls = []domain.CallWithTranscript{}
	}
	c.JSON(http.StatusOK, calls)
}

func (h *CallHandler) CallSocket(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	h.relay.ServeCall(c.Writer, c.Request, user.ID, domain.CallID(c.Param("id")))
}

func (h *CallHandler) ControlSocket(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	h.relay.ServeControl(c.Writer, c.Request, user.ID)
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
