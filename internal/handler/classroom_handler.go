package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/darasa-api/internal/dto"
	"github.com/noah-isme/darasa-api/internal/models"
	appErrors "github.com/noah-isme/darasa-api/pkg/errors"
	"github.com/noah-isme/darasa-api/pkg/response"
)

type roomService interface {
	CreateClassroom(ctx context.Context, principal models.Principal, req dto.CreateClassroomRequest) (*models.Classroom, error)
	CreateJoinLink(ctx context.Context, principal models.Principal, roomID int64, wantModerator bool) (*models.JoinLink, error)
	IsMeetingRunning(ctx context.Context, roomID int64) (bool, error)
	EndMeetingFor(ctx context.Context, principal models.Principal, roomID int64) (*models.Classroom, error)
	HandleEndCallback(ctx context.Context, roomID int64, token string) (*models.Classroom, error)
}

// ClassroomHandler exposes classroom and meeting room endpoints.
type ClassroomHandler struct {
	service roomService
}

// NewClassroomHandler builds a new handler.
func NewClassroomHandler(service roomService) *ClassroomHandler {
	return &ClassroomHandler{service: service}
}

// Create godoc
// @Summary Create a classroom under a course
// @Tags Classrooms
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateClassroomRequest true "Classroom payload"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /classrooms [post]
func (h *ClassroomHandler) Create(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	var req dto.CreateClassroomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid classroom payload"))
		return
	}
	classroom, err := h.service.CreateClassroom(c.Request.Context(), principal, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, classroom)
}

// Join godoc
// @Summary Get a role-scoped join link, provisioning the room when needed
// @Tags Rooms
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param room_id path int true "Room ID"
// @Param payload body dto.JoinRoomRequest false "Join options"
// @Success 200 {object} response.Envelope{data=dto.JoinRoomResponse}
// @Failure 403 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /rooms/{room_id}/join [post]
func (h *ClassroomHandler) Join(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(c, "room_id")
	if !ok {
		return
	}
	var req dto.JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid join payload"))
		return
	}

	link, err := h.service.CreateJoinLink(c.Request.Context(), principal, roomID, req.Moderator)
	if err != nil {
		response.Error(c, err)
		return
	}
	if link == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "you are not a member of this classroom"))
		return
	}
	response.JSON(c, http.StatusOK, dto.JoinRoomResponse{MeetingRoomLink: link.URL, Role: string(link.Role)})
}

// Running godoc
// @Summary Report whether the meeting host runs the room
// @Tags Rooms
// @Produce json
// @Security BearerAuth
// @Param room_id path int true "Room ID"
// @Success 200 {object} response.Envelope{data=dto.RunningResponse}
// @Router /rooms/{room_id}/running [get]
func (h *ClassroomHandler) Running(c *gin.Context) {
	roomID, ok := roomIDParam(c, "room_id")
	if !ok {
		return
	}
	running, err := h.service.IsMeetingRunning(c.Request.Context(), roomID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.RunningResponse{Running: running})
}

// End godoc
// @Summary End the meeting in a room
// @Tags Rooms
// @Produce json
// @Security BearerAuth
// @Param room_id path int true "Room ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /rooms/{room_id}/end [patch]
func (h *ClassroomHandler) End(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(c, "room_id")
	if !ok {
		return
	}
	classroom, err := h.service.EndMeetingFor(c.Request.Context(), principal, roomID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, classroom)
}

// MeetingEnded godoc
// @Summary Callback from the meeting host when a meeting ends
// @Tags Rooms
// @Produce json
// @Param meeting_id path int true "Room ID"
// @Param token query string true "Signed callback token"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /classrooms/meetings/{meeting_id}/end [get]
func (h *ClassroomHandler) MeetingEnded(c *gin.Context) {
	roomID, ok := roomIDParam(c, "meeting_id")
	if !ok {
		return
	}
	classroom, err := h.service.HandleEndCallback(c.Request.Context(), roomID, c.Query("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"room_id": classroom.RoomID, "provision_state": classroom.ProvisionState})
}
