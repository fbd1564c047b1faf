package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/varad2005/healthnova-consult/internal/dtos"
	"github.com/varad2005/healthnova-consult/internal/middlewares"
	"github.com/varad2005/healthnova-consult/internal/models"
	"github.com/varad2005/healthnova-consult/internal/services"
)

// MeetingHandler exposes the consultation lifecycle over HTTP. Routes
// run behind AuthMiddleware; who may do what is decided in the
// service, never here.
type MeetingHandler struct {
	svc *services.MeetingService
}

func NewMeetingHandler(svc *services.MeetingService) *MeetingHandler {
	return &MeetingHandler{svc: svc}
}

// Schedule provisions the consultation for an appointment and hands
// back its room. Safe to repeat; both participants land on the same
// room.
func (h *MeetingHandler) Schedule(c *gin.Context) {
	userID, name, ok := middlewares.Identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var uri dtos.AppointmentURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid appointment id"})
		return
	}

	m, err := h.svc.Schedule(c.Request.Context(), userID, name, uri.AppointmentID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, m)
}

// Start flips the consultation live. Doctor only.
func (h *MeetingHandler) Start(c *gin.Context) {
	h.transition(c, h.svc.Start)
}

// End closes a live consultation; repeating the call reports the
// settled session instead of failing.
func (h *MeetingHandler) End(c *gin.Context) {
	h.transition(c, h.svc.End)
}

// Cancel calls a consultation off before it ever starts.
func (h *MeetingHandler) Cancel(c *gin.Context) {
	h.transition(c, h.svc.Cancel)
}

// Status answers the consultation page's poll: current state, whether
// this caller may join right now, and the line to show.
func (h *MeetingHandler) Status(c *gin.Context) {
	userID, name, ok := middlewares.Identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var uri dtos.RoomURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	st, err := h.svc.Status(c.Request.Context(), userID, name, uri.RoomID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, st)
}

// Detail returns the full consultation projection, live presence
// included.
func (h *MeetingHandler) Detail(c *gin.Context) {
	userID, name, ok := middlewares.Identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var uri dtos.RoomURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	m, err := h.svc.Detail(c.Request.Context(), userID, name, uri.RoomID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, m)
}

// transition is the shared shape of start, end and cancel.
func (h *MeetingHandler) transition(c *gin.Context, op func(ctx context.Context, userID int64, name, roomID string) (*dtos.MeetingResponse, error)) {
	userID, name, ok := middlewares.Identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var uri dtos.RoomURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	m, err := op(c.Request.Context(), userID, name, uri.RoomID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, m)
}

// writeServiceError maps service errors onto the HTTP surface. State
// conflicts carry the live state so the page can say what the room is
// doing instead of a bare 409.
func writeServiceError(c *gin.Context, err error) {
	var stateErr *services.StateError

	switch {
	case errors.Is(err, services.ErrDoctorOnly):
		c.JSON(http.StatusForbidden, gin.H{"error": services.ErrDoctorOnly.Error()})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": services.ErrForbidden.Error()})
	case errors.Is(err, services.ErrMeetingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": services.ErrMeetingNotFound.Error()})
	case errors.Is(err, services.ErrNotYetStarted):
		c.JSON(http.StatusTooEarly, gin.H{
			"error": services.ErrNotYetStarted.Error(),
			"code":  "NOT_YET_STARTED",
		})
	case errors.As(err, &stateErr):
		c.JSON(http.StatusConflict, gin.H{
			"error": stateErr.Error(),
			"state": conflictLabel(stateErr.State),
		})
	case errors.Is(err, services.ErrConflict), errors.Is(err, services.ErrSessionClosed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("module", "http").Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// conflictLabel names the live state in a 409 body the way the
// consultation page expects it.
func conflictLabel(state string) string {
	if state == string(models.MeetingStateActive) {
		return "ALREADY_ACTIVE"
	}
	return state
}
