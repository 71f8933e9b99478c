package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/darasa-api/internal/dto"
	"github.com/noah-isme/darasa-api/internal/models"
	"github.com/noah-isme/darasa-api/internal/repository"
	appErrors "github.com/noah-isme/darasa-api/pkg/errors"
)

const (
	classroomA = "aaaaaaaa-0000-0000-0000-000000000001"
	classroomB = "aaaaaaaa-0000-0000-0000-000000000002"
	foreignRm  = "bbbbbbbb-0000-0000-0000-000000000001"
)

// requestRepoFake mirrors the transactional repository: planning and applying
// happen under one lock, enrollment and grants are set inserts.
type requestRepoFake struct {
	mu         sync.Mutex
	courses    *courseRepoFake
	classrooms []models.Classroom
	rows       map[string]*models.Request
	enrolled   map[string]int
	grants     map[string]int
}

func newRequestRepoFake(courses *courseRepoFake) *requestRepoFake {
	event := "e-1"
	return &requestRepoFake{
		courses: courses,
		classrooms: []models.Classroom{
			{ID: classroomA, CourseID: courseID, Name: "Monday", EventID: &event},
			{ID: classroomB, CourseID: courseID, Name: "Thursday"},
		},
		rows:     map[string]*models.Request{},
		enrolled: map[string]int{},
		grants:   map[string]int{},
	}
}

func (f *requestRepoFake) Create(_ context.Context, request *models.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.StudentID == request.StudentID && r.CourseID == request.CourseID {
			return repository.ErrDuplicateRequest
		}
	}
	stored := *request
	f.rows[request.ID] = &stored
	return nil
}

func (f *requestRepoFake) FindByID(_ context.Context, id string) (*models.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return nil, fmt.Errorf("get request: %w", sql.ErrNoRows)
	}
	out := *r
	return &out, nil
}

func (f *requestRepoFake) ExistsForStudent(_ context.Context, courseID, studentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.CourseID == courseID && r.StudentID == studentID {
			return true, nil
		}
	}
	return false, nil
}

func (f *requestRepoFake) Transition(_ context.Context, id string, next models.RequestStatus) (*models.Request, models.TransitionPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return nil, models.TransitionPlan{}, fmt.Errorf("get request: %w", sql.ErrNoRows)
	}
	plan, err := models.PlanTransition(*r, next, f.courses.course, f.classrooms)
	if err != nil {
		return nil, plan, err
	}
	if plan.Changed {
		for _, effect := range plan.Persistent() {
			switch effect.Kind {
			case models.EffectEnrollStudent:
				if f.enrolled[effect.StudentID] == 0 {
					f.courses.students[effect.StudentID] = true
				}
				f.enrolled[effect.StudentID]++
			case models.EffectGrantCalendar:
				f.grants[effect.StudentID+"/"+effect.EventID]++
			}
		}
		r.Status = next
	}
	out := *r
	return &out, plan, nil
}

func (f *requestRepoFake) FilterCourseClassrooms(_ context.Context, courseID string, ids []string) ([]string, error) {
	var out []string
	for _, id := range ids {
		for _, c := range f.classrooms {
			if c.ID == id && c.CourseID == courseID {
				out = append(out, id)
			}
		}
	}
	return out, nil
}

type dispatched struct {
	effect models.Effect
}

type notifierFake struct {
	mu   sync.Mutex
	sent []dispatched
}

func (n *notifierFake) Dispatch(_ context.Context, effect models.Effect) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, dispatched{effect: effect})
	return nil
}

func newRequestServiceForTest(mode models.ClassroomJoinMode) (*RequestService, *requestRepoFake, *notifierFake) {
	courses := newCourseRepoFake(mode)
	courses.students = map[string]bool{}
	repo := newRequestRepoFake(courses)
	notifier := &notifierFake{}
	return NewRequestService(repo, courses, notifier, nil, nil), repo, notifier
}

func TestRequestCreate(t *testing.T) {
	svc, _, _ := newRequestServiceForTest(models.JoinModeAll)
	ctx := context.Background()

	request, err := svc.Create(ctx, studentPrincipal(studentID), dto.CreateRequestRequest{CourseID: courseID})
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, request.Status)
	require.NotNil(t, request.TeacherID)
	assert.Equal(t, teacherID, *request.TeacherID)

	_, err = svc.Create(ctx, studentPrincipal(studentID), dto.CreateRequestRequest{CourseID: courseID})
	assert.ErrorIs(t, err, appErrors.ErrDuplicateRequest)
	assert.Equal(t, 409, appErrors.FromError(err).Status)

	_, err = svc.Create(ctx, teacherPrincipal(teacherID), dto.CreateRequestRequest{CourseID: courseID})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = svc.Create(ctx, studentPrincipal("s-2"), dto.CreateRequestRequest{CourseID: "cccccccc-0000-0000-0000-000000000000"})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestRequestCreateClassroomChoice(t *testing.T) {
	ctx := context.Background()

	svc, _, _ := newRequestServiceForTest(models.JoinModeAll)
	_, err := svc.Create(ctx, studentPrincipal(studentID), dto.CreateRequestRequest{CourseID: courseID, ClassroomIDs: []string{classroomA}})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	svc, _, _ = newRequestServiceForTest(models.JoinModeChooseToJoin)
	_, err = svc.Create(ctx, studentPrincipal(studentID), dto.CreateRequestRequest{CourseID: courseID, ClassroomIDs: []string{foreignRm}})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	request, err := svc.Create(ctx, studentPrincipal(studentID), dto.CreateRequestRequest{CourseID: courseID, ClassroomIDs: []string{classroomB, classroomB}})
	require.NoError(t, err)
	assert.Equal(t, []string{classroomB}, request.ClassroomIDs)
}

func TestRequestDoubleAcceptEnrollsAndNotifiesOnce(t *testing.T) {
	svc, repo, notifier := newRequestServiceForTest(models.JoinModeAll)
	ctx := context.Background()

	request, err := svc.Create(ctx, studentPrincipal(studentID), dto.CreateRequestRequest{CourseID: courseID})
	require.NoError(t, err)

	accept := dto.UpdateRequestStatusRequest{Status: string(models.RequestAccepted)}
	first, err := svc.Transition(ctx, teacherPrincipal(teacherID), request.ID, accept)
	require.NoError(t, err)
	assert.Equal(t, models.RequestAccepted, first.Status)

	second, err := svc.Transition(ctx, teacherPrincipal(assistantID), request.ID, accept)
	require.NoError(t, err)
	assert.Equal(t, models.RequestAccepted, second.Status)

	assert.Equal(t, 1, repo.enrolled[studentID])
	assert.Equal(t, map[string]int{studentID + "/e-1": 1}, repo.grants)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, models.EffectNotifyAccepted, notifier.sent[0].effect.Kind)
	assert.Equal(t, []string{"Monday", "Thursday"}, notifier.sent[0].effect.ClassroomNames)
	assert.Equal(t, request.ID, notifier.sent[0].effect.RequestID)

	joined, err := svc.HasJoinedCourse(ctx, studentPrincipal(studentID), courseID)
	require.NoError(t, err)
	assert.True(t, joined)
}

func TestRequestChooseToJoinGrantsOnlyChosen(t *testing.T) {
	svc, repo, notifier := newRequestServiceForTest(models.JoinModeChooseToJoin)
	ctx := context.Background()

	request, err := svc.Create(ctx, studentPrincipal(studentID), dto.CreateRequestRequest{CourseID: courseID, ClassroomIDs: []string{classroomB}})
	require.NoError(t, err)
	_, err = svc.Transition(ctx, models.Staff{}, request.ID, dto.UpdateRequestStatusRequest{Status: "accepted"})
	require.NoError(t, err)

	assert.Empty(t, repo.grants)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, []string{"Thursday"}, notifier.sent[0].effect.ClassroomNames)
}

func TestRequestDecidedCannotChange(t *testing.T) {
	svc, repo, notifier := newRequestServiceForTest(models.JoinModeAll)
	ctx := context.Background()

	request, err := svc.Create(ctx, studentPrincipal(studentID), dto.CreateRequestRequest{CourseID: courseID})
	require.NoError(t, err)
	_, err = svc.Transition(ctx, teacherPrincipal(teacherID), request.ID, dto.UpdateRequestStatusRequest{Status: "declined"})
	require.NoError(t, err)

	_, err = svc.Transition(ctx, teacherPrincipal(teacherID), request.ID, dto.UpdateRequestStatusRequest{Status: "accepted"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidTransition)
	assert.Equal(t, 409, appErrors.FromError(err).Status)

	_, err = svc.Transition(ctx, teacherPrincipal(teacherID), request.ID, dto.UpdateRequestStatusRequest{Status: "pending"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidTransition)

	assert.Zero(t, repo.enrolled[studentID])
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, models.EffectNotifyDeclined, notifier.sent[0].effect.Kind)
}

func TestRequestTransitionAuthorization(t *testing.T) {
	svc, _, _ := newRequestServiceForTest(models.JoinModeAll)
	ctx := context.Background()
	request, err := svc.Create(ctx, studentPrincipal(studentID), dto.CreateRequestRequest{CourseID: courseID})
	require.NoError(t, err)

	accept := dto.UpdateRequestStatusRequest{Status: "accepted"}
	_, err = svc.Transition(ctx, studentPrincipal(studentID), request.ID, accept)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = svc.Transition(ctx, teacherPrincipal("t-other"), request.ID, accept)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = svc.Transition(ctx, teacherPrincipal(teacherID), request.ID, dto.UpdateRequestStatusRequest{Status: "maybe"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Transition(ctx, teacherPrincipal(teacherID), "missing", accept)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestRequestGetVisibility(t *testing.T) {
	svc, _, _ := newRequestServiceForTest(models.JoinModeAll)
	ctx := context.Background()
	request, err := svc.Create(ctx, studentPrincipal(studentID), dto.CreateRequestRequest{CourseID: courseID})
	require.NoError(t, err)

	_, err = svc.Get(ctx, studentPrincipal(studentID), request.ID)
	assert.NoError(t, err)
	_, err = svc.Get(ctx, teacherPrincipal(assistantID), request.ID)
	assert.NoError(t, err)
	_, err = svc.Get(ctx, studentPrincipal(outsiderID), request.ID)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestHasRequestedCourse(t *testing.T) {
	svc, _, _ := newRequestServiceForTest(models.JoinModeAll)
	ctx := context.Background()

	requested, err := svc.HasRequestedCourse(ctx, studentPrincipal(studentID), courseID)
	require.NoError(t, err)
	assert.False(t, requested)

	_, err = svc.Create(ctx, studentPrincipal(studentID), dto.CreateRequestRequest{CourseID: courseID})
	require.NoError(t, err)

	requested, err = svc.HasRequestedCourse(ctx, studentPrincipal(studentID), courseID)
	require.NoError(t, err)
	assert.True(t, requested)

	joined, err := svc.HasJoinedCourse(ctx, studentPrincipal(studentID), courseID)
	require.NoError(t, err)
	assert.False(t, joined)

	_, err = svc.HasRequestedCourse(ctx, teacherPrincipal(teacherID), courseID)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}
