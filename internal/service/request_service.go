package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/darasa-api/internal/dto"
	"github.com/noah-isme/darasa-api/internal/models"
	"github.com/noah-isme/darasa-api/internal/repository"
	appErrors "github.com/noah-isme/darasa-api/pkg/errors"
)

type requestRepository interface {
	Create(ctx context.Context, request *models.Request) error
	FindByID(ctx context.Context, id string) (*models.Request, error)
	ExistsForStudent(ctx context.Context, courseID, studentID string) (bool, error)
	Transition(ctx context.Context, id string, next models.RequestStatus) (*models.Request, models.TransitionPlan, error)
	FilterCourseClassrooms(ctx context.Context, courseID string, ids []string) ([]string, error)
}

type notificationDispatcher interface {
	Dispatch(ctx context.Context, effect models.Effect) error
}

// RequestService handles students' applications to courses and the
// teacher decisions on them.
type RequestService struct {
	requests  requestRepository
	courses   courseRepository
	notifier  notificationDispatcher
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRequestService constructs the service. notifier may be nil.
func NewRequestService(requests requestRepository, courses courseRepository, notifier notificationDispatcher, validate *validator.Validate, logger *zap.Logger) *RequestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &RequestService{
		requests:  requests,
		courses:   courses,
		notifier:  notifier,
		validator: validate,
		logger:    logger,
	}
}

// Create files a pending request for the calling student.
func (s *RequestService) Create(ctx context.Context, principal models.Principal, req dto.CreateRequestRequest) (*models.Request, error) {
	student, ok := principal.(models.Student)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can request to join a course")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload")
	}

	course, err := s.loadCourse(ctx, req.CourseID)
	if err != nil {
		return nil, err
	}

	chosen := uniqueStrings(req.ClassroomIDs)
	if len(chosen) > 0 {
		if course.ClassroomJoinMode != models.JoinModeChooseToJoin {
			return nil, appErrors.Clone(appErrors.ErrValidation, "this course does not let students choose classrooms")
		}
		owned, err := s.requests.FilterCourseClassrooms(ctx, course.ID, chosen)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check classrooms")
		}
		if len(owned) != len(chosen) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "classroom does not belong to the course")
		}
		chosen = owned
	}

	now := time.Now().UTC()
	request := &models.Request{
		ID:           uuid.NewString(),
		StudentID:    student.StudentID,
		CourseID:     course.ID,
		Status:       models.RequestPending,
		ClassroomIDs: chosen,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if course.TeacherID != "" {
		teacherID := course.TeacherID
		request.TeacherID = &teacherID
	}

	if err := s.requests.Create(ctx, request); err != nil {
		if errors.Is(err, repository.ErrDuplicateRequest) {
			return nil, appErrors.Clone(appErrors.ErrDuplicateRequest, "you already requested this course")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create request")
	}

	s.logger.Info("request created",
		zap.String("request_id", request.ID),
		zap.String("course_id", course.ID),
		zap.String("student_id", student.StudentID))
	return request, nil
}

// Get returns a request visible to the caller: its student, the course teachers or staff.
func (s *RequestService) Get(ctx context.Context, principal models.Principal, id string) (*models.Request, error) {
	request, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if student, ok := principal.(models.Student); ok && student.StudentID == request.StudentID {
		return request, nil
	}
	if err := s.authorizeDecision(ctx, principal, request); err != nil {
		return nil, err
	}
	return request, nil
}

// Transition moves a request to the requested status. Repeating the current
// status is a no-op; decided requests cannot change. Notifications go out
// after the change is committed.
func (s *RequestService) Transition(ctx context.Context, principal models.Principal, id string, req dto.UpdateRequestStatusRequest) (*models.Request, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeDecision(ctx, principal, current); err != nil {
		return nil, err
	}

	request, plan, err := s.requests.Transition(ctx, id, models.RequestStatus(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidTransition):
			return nil, appErrors.Wrap(err, appErrors.ErrInvalidTransition.Code, appErrors.ErrInvalidTransition.Status, "request has already been decided")
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update request")
	}
	if !plan.Changed {
		return request, nil
	}

	s.logger.Info("request status changed",
		zap.String("request_id", id),
		zap.String("from", string(plan.From)),
		zap.String("to", string(plan.To)),
		zap.String("by", principal.UserID()))
	s.notify(context.WithoutCancel(ctx), request.ID, plan)
	return request, nil
}

func (s *RequestService) notify(ctx context.Context, requestID string, plan models.TransitionPlan) {
	effects := plan.Notifications()
	if s.notifier == nil || len(effects) == 0 {
		return
	}
	for _, effect := range effects {
		if err := s.notifier.Dispatch(ctx, effect); err != nil {
			s.logger.Warn("notification not dispatched",
				zap.String("request_id", requestID),
				zap.String("effect", string(effect.Kind)),
				zap.Error(err))
		}
	}
}

// HasRequestedCourse reports whether the calling student has any request for the course.
func (s *RequestService) HasRequestedCourse(ctx context.Context, principal models.Principal, courseID string) (bool, error) {
	student, ok := principal.(models.Student)
	if !ok {
		return false, appErrors.Clone(appErrors.ErrForbidden, "only students can check their requests")
	}
	if _, err := s.loadCourse(ctx, courseID); err != nil {
		return false, err
	}
	exists, err := s.requests.ExistsForStudent(ctx, courseID, student.StudentID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check request")
	}
	return exists, nil
}

// HasJoinedCourse reports whether the calling student is enrolled in the course.
func (s *RequestService) HasJoinedCourse(ctx context.Context, principal models.Principal, courseID string) (bool, error) {
	student, ok := principal.(models.Student)
	if !ok {
		return false, appErrors.Clone(appErrors.ErrForbidden, "only students can check their enrollment")
	}
	if _, err := s.loadCourse(ctx, courseID); err != nil {
		return false, err
	}
	membership, err := s.courses.Membership(ctx, courseID, "", student.StudentID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	return membership.IsStudent, nil
}

// authorizeDecision allows staff and the course's teachers.
func (s *RequestService) authorizeDecision(ctx context.Context, principal models.Principal, request *models.Request) error {
	switch p := principal.(type) {
	case models.Staff:
		return nil
	case models.Teacher:
		membership, err := s.courses.Membership(ctx, request.CourseID, p.TeacherID, "")
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve course membership")
		}
		if membership.Teaches() {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrForbidden, "only the course teachers can decide requests")
}

func (s *RequestService) load(ctx context.Context, id string) (*models.Request, error) {
	request, err := s.requests.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	return request, nil
}

func (s *RequestService) loadCourse(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

func uniqueStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
