package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/darasa-api/internal/dto"
	"github.com/noah-isme/darasa-api/internal/models"
	appErrors "github.com/noah-isme/darasa-api/pkg/errors"
	"github.com/noah-isme/darasa-api/pkg/response"
)

type requestService interface {
	Create(ctx context.Context, principal models.Principal, req dto.CreateRequestRequest) (*models.Request, error)
	Get(ctx context.Context, principal models.Principal, id string) (*models.Request, error)
	Transition(ctx context.Context, principal models.Principal, id string, req dto.UpdateRequestStatusRequest) (*models.Request, error)
	HasRequestedCourse(ctx context.Context, principal models.Principal, courseID string) (bool, error)
	HasJoinedCourse(ctx context.Context, principal models.Principal, courseID string) (bool, error)
}

// RequestHandler exposes enrollment request endpoints.
type RequestHandler struct {
	service requestService
}

// NewRequestHandler builds a new handler.
func NewRequestHandler(service requestService) *RequestHandler {
	return &RequestHandler{service: service}
}

// Create godoc
// @Summary Request to join a course
// @Tags Requests
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateRequestRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Create(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	var req dto.CreateRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid request payload"))
		return
	}
	request, err := h.service.Create(c.Request.Context(), principal, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// Get godoc
// @Summary Get an enrollment request
// @Tags Requests
// @Produce json
// @Security BearerAuth
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	request, err := h.service.Get(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request)
}

// UpdateStatus godoc
// @Summary Accept or decline an enrollment request
// @Tags Requests
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Request ID"
// @Param payload body dto.UpdateRequestStatusRequest true "New status"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id} [patch]
func (h *RequestHandler) UpdateStatus(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	var req dto.UpdateRequestStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}
	request, err := h.service.Transition(c.Request.Context(), principal, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request)
}

// Requested godoc
// @Summary Whether the calling student has requested the course
// @Tags Courses
// @Produce json
// @Security BearerAuth
// @Param course_id path string true "Course ID"
// @Success 200 {object} response.Envelope{data=dto.CourseFlagResponse}
// @Router /courses/{course_id}/requested [get]
func (h *RequestHandler) Requested(c *gin.Context) {
	h.courseFlag(c, h.service.HasRequestedCourse)
}

// Joined godoc
// @Summary Whether the calling student is enrolled in the course
// @Tags Courses
// @Produce json
// @Security BearerAuth
// @Param course_id path string true "Course ID"
// @Success 200 {object} response.Envelope{data=dto.CourseFlagResponse}
// @Router /courses/{course_id}/joined [get]
func (h *RequestHandler) Joined(c *gin.Context) {
	h.courseFlag(c, h.service.HasJoinedCourse)
}

func (h *RequestHandler) courseFlag(c *gin.Context, check func(context.Context, models.Principal, string) (bool, error)) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	courseID := c.Param("course_id")
	value, err := check(c.Request.Context(), principal, courseID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.CourseFlagResponse{CourseID: courseID, Value: value})
}
