package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/darasa-api/internal/dto"
	"github.com/noah-isme/darasa-api/internal/models"
	"github.com/noah-isme/darasa-api/internal/repository"
	appErrors "github.com/noah-isme/darasa-api/pkg/errors"
	"github.com/noah-isme/darasa-api/pkg/logger"
	"github.com/noah-isme/darasa-api/pkg/meeting"
)

const secretBytes = 16

// Provisioning outcome labels.
const (
	provisionCreated     = "created"
	provisionAdopted     = "adopted"
	provisionRejected    = "rejected"
	provisionUnavailable = "unavailable"
	provisionFailed      = "failed"
	provisionTimeout     = "timeout"
)

var (
	errStillProvisioning = errors.New("room provisioning in progress")
	errClaimLost         = errors.New("provisioning claim taken over")
)

type classroomRepository interface {
	MaxRoomID(ctx context.Context) (int64, bool, error)
	Create(ctx context.Context, classroom *models.Classroom) error
	FindByID(ctx context.Context, id string) (*models.Classroom, error)
	FindByRoomID(ctx context.Context, roomID int64) (*models.Classroom, error)
	ClaimProvisioning(ctx context.Context, id string, now, staleBefore time.Time) (*models.Classroom, bool, error)
	UpdateSecrets(ctx context.Context, id, moderatorSecret, attendeeSecret string) error
	MarkProvisioned(ctx context.Context, id string, claimedAt time.Time, moderatorSecret, attendeeSecret string) error
	ReleaseProvisioning(ctx context.Context, id string, claimedAt time.Time, needsReconcile bool) error
	MarkEnded(ctx context.Context, id string) (*models.Classroom, error)
}

type courseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	Membership(ctx context.Context, courseID, teacherID, studentID string) (*models.CourseMembership, error)
	StudentChoseClassroom(ctx context.Context, studentID, classroomID string) (bool, error)
}

type meetingGateway interface {
	CreateRoom(ctx context.Context, p meeting.CreateParams) (*meeting.CreateResult, error)
	JoinURL(roomID int64, displayName, externalUserID, secret string) string
	IsRunning(ctx context.Context, roomID int64) (bool, error)
	MeetingInfo(ctx context.Context, roomID int64, moderatorSecret string) (*meeting.MeetingInfo, error)
	EndRoom(ctx context.Context, roomID int64, moderatorSecret string) (*meeting.Result, error)
}

type callbackSigner interface {
	Generate(roomID int64) (string, time.Time, error)
	Verify(token string, roomID int64) error
}

// RoomServiceConfig tunes provisioning and classroom defaults.
type RoomServiceConfig struct {
	WaitTimeout      time.Duration
	PollInterval     time.Duration
	StaleAfter       time.Duration
	RoomIDSeedMin    int64
	RoomIDSeedMax    int64
	RoomIDAttempts   int
	DefaultLogoutURL string
	WelcomeTemplate  string
	SiteName         string
	// CallbackBaseURL is the public API root the meeting host calls back into.
	CallbackBaseURL string
	RunningCacheTTL time.Duration
}

func (c *RoomServiceConfig) applyDefaults() {
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 15 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 50 * time.Millisecond
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = time.Minute
	}
	if c.RoomIDSeedMin <= 0 {
		c.RoomIDSeedMin = 100000
	}
	if c.RoomIDSeedMax < c.RoomIDSeedMin {
		c.RoomIDSeedMax = c.RoomIDSeedMin
	}
	if c.RoomIDAttempts <= 0 {
		c.RoomIDAttempts = 5
	}
	if c.WelcomeTemplate == "" {
		c.WelcomeTemplate = "<br>Welcome to <b>%s</b>!"
	}
}

// RoomService drives the classroom meeting lifecycle: room id allocation,
// guarded provisioning on the meeting host, role-gated join links and ending.
type RoomService struct {
	classrooms classroomRepository
	courses    courseRepository
	gateway    meetingGateway
	signer     callbackSigner
	cache      *CacheService
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	cfg        RoomServiceConfig

	flight singleflight.Group
	now    func() time.Time
}

// NewRoomService constructs the service. cache and metrics may be nil.
func NewRoomService(classrooms classroomRepository, courses courseRepository, gateway meetingGateway, signer callbackSigner,
	cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg RoomServiceConfig) *RoomService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	cfg.applyDefaults()
	return &RoomService{
		classrooms: classrooms,
		courses:    courses,
		gateway:    gateway,
		signer:     signer,
		cache:      cache,
		metrics:    metrics,
		validator:  validate,
		logger:     logger,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateClassroom defines a classroom under a course the caller teaches.
func (s *RoomService) CreateClassroom(ctx context.Context, principal models.Principal, req dto.CreateClassroomRequest) (*models.Classroom, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid classroom payload")
	}

	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	switch p := principal.(type) {
	case models.Staff:
	case models.Teacher:
		membership, err := s.courses.Membership(ctx, course.ID, p.TeacherID, "")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve course membership")
		}
		if !membership.Teaches() {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only the course teachers can add classrooms")
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only teachers can add classrooms")
	}

	moderatorSecret, err := generateSecret()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate secrets")
	}
	attendeeSecret, err := generateSecret()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate secrets")
	}

	welcome := req.WelcomeMessage
	if welcome == "" {
		siteName := s.cfg.SiteName
		if siteName == "" {
			siteName = req.Name
		}
		welcome = fmt.Sprintf(s.cfg.WelcomeTemplate, siteName)
	}
	logoutURL := req.LogoutURL
	if logoutURL == "" {
		logoutURL = s.cfg.DefaultLogoutURL
	}

	now := s.now()
	classroom := &models.Classroom{
		ID:              uuid.NewString(),
		CourseID:        course.ID,
		Name:            req.Name,
		Description:     req.Description,
		WelcomeMessage:  welcome,
		LogoutURL:       logoutURL,
		ModeratorSecret: &moderatorSecret,
		AttendeeSecret:  &attendeeSecret,
		Duration:        req.Duration,
		ProvisionState:  models.ProvisionUnprovisioned,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.EventID != "" {
		eventID := req.EventID
		classroom.EventID = &eventID
	}

	if err := s.insertWithRoomID(ctx, classroom); err != nil {
		return nil, err
	}

	s.logger.Info("classroom created",
		zap.String("classroom_id", classroom.ID),
		zap.String("course_id", course.ID),
		zap.Int64("room_id", classroom.RoomID))
	return classroom, nil
}

// insertWithRoomID allocates max+1 (or a random seed for the first classroom)
// and retries when a concurrent insert takes the same id.
func (s *RoomService) insertWithRoomID(ctx context.Context, classroom *models.Classroom) error {
	for attempt := 1; attempt <= s.cfg.RoomIDAttempts; attempt++ {
		roomID, err := s.nextRoomID(ctx)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to allocate room id")
		}
		classroom.RoomID = roomID

		err = s.classrooms.Create(ctx, classroom)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrRoomIDTaken) {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create classroom")
		}
		s.logger.Debug("room id taken, retrying", zap.Int64("room_id", roomID), zap.Int("attempt", attempt))
	}
	return appErrors.Clone(appErrors.ErrConflict, "could not allocate a unique room id")
}

func (s *RoomService) nextRoomID(ctx context.Context) (int64, error) {
	max, ok, err := s.classrooms.MaxRoomID(ctx)
	if err != nil {
		return 0, err
	}
	if ok {
		return max + 1, nil
	}
	span := s.cfg.RoomIDSeedMax - s.cfg.RoomIDSeedMin + 1
	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return 0, err
	}
	return s.cfg.RoomIDSeedMin + n.Int64(), nil
}

// EnsureRoom makes sure the meeting host has the classroom's room. Once the
// classroom is PROVISIONED this is a no-op, so the host sees exactly one create
// per provisioning cycle. Concurrent callers in this process share one attempt;
// callers in other processes are fenced by the provision_state claim and poll
// until the leader finishes, the claim goes stale, or the wait times out.
func (s *RoomService) EnsureRoom(ctx context.Context, classroomID string) (*models.Classroom, error) {
	classroom, err := s.classrooms.FindByID(ctx, classroomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "classroom not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load classroom")
	}
	if classroom.IsProvisioned() {
		return classroom, nil
	}

	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.WaitTimeout)
	defer cancel()

	results := s.flight.DoChan(classroomID, func() (interface{}, error) {
		// The shared attempt must outlive any single waiter.
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.WaitTimeout)
		defer cancel()
		return s.provision(attemptCtx, classroomID)
	})

	select {
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.metrics.RecordProvisioning(provisionTimeout)
		s.logger.Warn("timed out waiting for room provisioning", zap.String("classroom_id", classroomID))
		return nil, appErrors.Clone(appErrors.ErrProvisioningTimeout, "timed out waiting for room provisioning")
	case res := <-results:
		s.metrics.ObserveProvisioningWait(time.Since(start))
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Classroom), nil
	}
}

func (s *RoomService) provision(ctx context.Context, classroomID string) (*models.Classroom, error) {
	backoff := retry.WithCappedDuration(8*s.cfg.PollInterval,
		retry.WithJitterPercent(10, retry.NewExponential(s.cfg.PollInterval)))

	var result *models.Classroom
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		current, err := s.classrooms.FindByID(ctx, classroomID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load classroom")
		}
		if current.IsProvisioned() {
			result = current
			return nil
		}

		now := s.now()
		claimed, ok, err := s.classrooms.ClaimProvisioning(ctx, classroomID, now, now.Add(-s.cfg.StaleAfter))
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to claim room provisioning")
		}
		if !ok {
			return retry.RetryableError(errStillProvisioning)
		}

		result, err = s.lead(ctx, claimed)
		if errors.Is(err, errClaimLost) {
			return retry.RetryableError(errStillProvisioning)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errStillProvisioning) {
			s.metrics.RecordProvisioning(provisionTimeout)
			return nil, appErrors.Wrap(err, appErrors.ErrProvisioningTimeout.Code, appErrors.ErrProvisioningTimeout.Status, "timed out waiting for room provisioning")
		}
		return nil, err
	}
	return result, nil
}

// lead runs the create call while holding the provisioning claim.
func (s *RoomService) lead(ctx context.Context, classroom *models.Classroom) (*models.Classroom, error) {
	log := logger.WithContext(ctx, s.logger).With(zap.String("classroom_id", classroom.ID), zap.Int64("room_id", classroom.RoomID))
	claimedAt := s.now()
	if classroom.ProvisioningStartedAt != nil {
		claimedAt = *classroom.ProvisioningStartedAt
	}
	release := func(needsReconcile bool) { s.release(classroom.ID, claimedAt, needsReconcile, log) }

	if !classroom.HasSecrets() {
		moderatorSecret, err := generateSecret()
		if err == nil {
			var attendeeSecret string
			attendeeSecret, err = generateSecret()
			if err == nil {
				err = s.classrooms.UpdateSecrets(ctx, classroom.ID, moderatorSecret, attendeeSecret)
				classroom.ModeratorSecret, classroom.AttendeeSecret = &moderatorSecret, &attendeeSecret
			}
		}
		if err != nil {
			release(false)
			s.metrics.RecordProvisioning(provisionFailed)
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store room secrets")
		}
	}
	moderatorSecret := classroom.Secret(models.JoinRoleModerator)
	attendeeSecret := classroom.Secret(models.JoinRoleAttendee)

	if classroom.NeedsReconcile {
		running, err := s.gateway.IsRunning(ctx, classroom.RoomID)
		if err != nil {
			log.Warn("reconcile check failed, creating anyway", zap.Error(err))
		} else if running {
			if err := s.classrooms.MarkProvisioned(ctx, classroom.ID, claimedAt, moderatorSecret, attendeeSecret); err != nil {
				if errors.Is(err, repository.ErrClaimLost) {
					log.Warn("provisioning claim taken over before adoption was recorded")
					return nil, errClaimLost
				}
				release(true)
				s.metrics.RecordProvisioning(provisionFailed)
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record provisioned room")
			}
			log.Info("adopted running room after unknown create outcome")
			s.metrics.RecordProvisioning(provisionAdopted)
			return s.markLocal(classroom, moderatorSecret, attendeeSecret), nil
		}
	}

	callbackURL, err := s.callbackURL(classroom.RoomID)
	if err != nil {
		release(false)
		s.metrics.RecordProvisioning(provisionFailed)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign callback url")
	}

	res, err := s.gateway.CreateRoom(ctx, meeting.CreateParams{
		RoomID:          classroom.RoomID,
		Name:            classroom.Name,
		ModeratorSecret: moderatorSecret,
		AttendeeSecret:  attendeeSecret,
		Welcome:         classroom.WelcomeMessage,
		LogoutURL:       classroom.LogoutURL,
		EndCallbackURL:  callbackURL,
		DurationMinutes: classroom.Duration,
	})
	if err != nil {
		// The host may or may not have created the room.
		release(true)
		s.metrics.RecordProvisioning(provisionUnavailable)
		if errors.Is(err, meeting.ErrMalformedResponse) {
			log.Error("malformed create response", zap.Error(err))
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "unexpected meeting host response")
		}
		log.Warn("meeting host unavailable", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrGatewayUnavailable.Code, appErrors.ErrGatewayUnavailable.Status, "meeting host unavailable")
	}
	if !res.Success {
		release(false)
		s.metrics.RecordProvisioning(provisionRejected)
		log.Warn("meeting host rejected create",
			zap.String("message_key", res.MessageKey),
			zap.String("message", res.Message))
		return nil, appErrors.Clone(appErrors.ErrGatewayRejected, fmt.Sprintf("meeting host rejected room creation: %s", res.MessageKey))
	}

	if res.ModeratorSecret != "" {
		moderatorSecret = res.ModeratorSecret
	}
	if res.AttendeeSecret != "" {
		attendeeSecret = res.AttendeeSecret
	}
	if err := s.classrooms.MarkProvisioned(ctx, classroom.ID, claimedAt, moderatorSecret, attendeeSecret); err != nil {
		if errors.Is(err, repository.ErrClaimLost) {
			log.Warn("provisioning claim taken over before the create was recorded")
			return nil, errClaimLost
		}
		release(true)
		s.metrics.RecordProvisioning(provisionFailed)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record provisioned room")
	}

	log.Info("room provisioned")
	s.metrics.RecordProvisioning(provisionCreated)
	return s.markLocal(classroom, moderatorSecret, attendeeSecret), nil
}

func (s *RoomService) markLocal(classroom *models.Classroom, moderatorSecret, attendeeSecret string) *models.Classroom {
	now := s.now()
	classroom.ProvisionState = models.ProvisionProvisioned
	classroom.ProvisionedAt = &now
	classroom.ProvisioningStartedAt = nil
	classroom.EndedAt = nil
	classroom.NeedsReconcile = false
	classroom.ModeratorSecret = &moderatorSecret
	classroom.AttendeeSecret = &attendeeSecret
	return classroom
}

// release drops the claim even when the attempt's context is already done.
func (s *RoomService) release(classroomID string, claimedAt time.Time, needsReconcile bool, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.classrooms.ReleaseProvisioning(ctx, classroomID, claimedAt, needsReconcile); err != nil {
		log.Error("failed to release provisioning claim", zap.Error(err))
	}
}

func (s *RoomService) callbackURL(roomID int64) (string, error) {
	if s.signer == nil || s.cfg.CallbackBaseURL == "" {
		return "", nil
	}
	token, _, err := s.signer.Generate(roomID)
	if err != nil {
		return "", err
	}
	return s.cfg.CallbackBaseURL + "/classrooms/meetings/" + strconv.FormatInt(roomID, 10) + "/end?token=" + url.QueryEscape(token), nil
}

// CreateJoinLink returns a role-scoped join link, or nil when the caller has no
// role in the classroom's course. Teachers and assistants always moderate.
func (s *RoomService) CreateJoinLink(ctx context.Context, principal models.Principal, roomID int64, wantModerator bool) (*models.JoinLink, error) {
	classroom, err := s.findByRoomID(ctx, roomID)
	if err != nil {
		return nil, err
	}

	role, allowed, err := s.resolveRole(ctx, principal, classroom, wantModerator)
	if err != nil {
		return nil, err
	}
	if !allowed {
		s.logger.Debug("join denied", zap.String("user_id", principal.UserID()), zap.Int64("room_id", roomID))
		return nil, nil
	}

	classroom, err = s.EnsureRoom(ctx, classroom.ID)
	if err != nil {
		return nil, err
	}

	secret := classroom.Secret(role)
	if secret == "" {
		return nil, appErrors.Clone(appErrors.ErrInternal, "room secrets missing")
	}

	return &models.JoinLink{
		URL:    s.gateway.JoinURL(classroom.RoomID, principal.DisplayName(), principal.UserID(), secret),
		Role:   role,
		RoomID: classroom.RoomID,
	}, nil
}

func (s *RoomService) resolveRole(ctx context.Context, principal models.Principal, classroom *models.Classroom, wantModerator bool) (models.JoinRole, bool, error) {
	switch p := principal.(type) {
	case models.Teacher:
		membership, err := s.courses.Membership(ctx, classroom.CourseID, p.TeacherID, "")
		if err != nil {
			return "", false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve course membership")
		}
		if membership.Teaches() {
			return models.JoinRoleModerator, true, nil
		}
	case models.Student:
		membership, err := s.courses.Membership(ctx, classroom.CourseID, "", p.StudentID)
		if err != nil {
			return "", false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve course membership")
		}
		if !membership.IsStudent {
			return "", false, nil
		}
		course, err := s.courses.FindByID(ctx, classroom.CourseID)
		if err != nil {
			return "", false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
		}
		if course.ClassroomJoinMode == models.JoinModeChooseToJoin {
			chose, err := s.courses.StudentChoseClassroom(ctx, p.StudentID, classroom.ID)
			if err != nil {
				return "", false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve chosen classrooms")
			}
			if !chose {
				return "", false, nil
			}
		}
		if wantModerator {
			s.logger.Debug("moderator access downgraded for student", zap.String("student_id", p.StudentID))
		}
		return models.JoinRoleAttendee, true, nil
	}
	return "", false, nil
}

// EndMeetingFor ends a meeting on behalf of a teacher of the course or staff.
func (s *RoomService) EndMeetingFor(ctx context.Context, principal models.Principal, roomID int64) (*models.Classroom, error) {
	classroom, err := s.findByRoomID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	switch p := principal.(type) {
	case models.Staff:
	case models.Teacher:
		role, ok, err := s.resolveRole(ctx, p, classroom, true)
		if err != nil {
			return nil, err
		}
		if !ok || role != models.JoinRoleModerator {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only course teachers can end the meeting")
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only course teachers can end the meeting")
	}
	return s.endMeeting(ctx, classroom)
}

// EndMeeting ends the room on the host and marks it ENDED. Host failures
// leave the local state untouched.
func (s *RoomService) EndMeeting(ctx context.Context, roomID int64) (*models.Classroom, error) {
	classroom, err := s.findByRoomID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return s.endMeeting(ctx, classroom)
}

func (s *RoomService) endMeeting(ctx context.Context, classroom *models.Classroom) (*models.Classroom, error) {
	if classroom.ProvisionState == models.ProvisionEnded {
		return classroom, nil
	}
	log := logger.WithContext(ctx, s.logger).With(zap.String("classroom_id", classroom.ID), zap.Int64("room_id", classroom.RoomID))
	moderatorSecret := classroom.Secret(models.JoinRoleModerator)

	res, err := s.gateway.EndRoom(ctx, classroom.RoomID, moderatorSecret)
	if err != nil {
		if errors.Is(err, meeting.ErrMalformedResponse) {
			log.Error("malformed end response", zap.Error(err))
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "unexpected meeting host response")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrGatewayUnavailable.Code, appErrors.ErrGatewayUnavailable.Status, "meeting host unavailable")
	}
	if !res.Success {
		log.Warn("meeting host rejected end", zap.String("message_key", res.MessageKey))
		return nil, appErrors.Clone(appErrors.ErrGatewayRejected, fmt.Sprintf("meeting host rejected end: %s", res.MessageKey))
	}

	s.logMeetingInfo(ctx, classroom, log)
	return s.markEnded(ctx, classroom)
}

// HandleEndCallback records that the host ended a meeting. The signed token
// proves the callback URL was issued by this service for roomID.
func (s *RoomService) HandleEndCallback(ctx context.Context, roomID int64, token string) (*models.Classroom, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "callbacks disabled")
	}
	if err := s.signer.Verify(token, roomID); err != nil {
		s.logger.Warn("rejected end callback", zap.Int64("room_id", roomID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid callback token")
	}

	classroom, err := s.findByRoomID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if classroom.ProvisionState == models.ProvisionEnded {
		return classroom, nil
	}
	s.logMeetingInfo(ctx, classroom, s.logger.With(zap.Int64("room_id", roomID)))
	return s.markEnded(ctx, classroom)
}

func (s *RoomService) markEnded(ctx context.Context, classroom *models.Classroom) (*models.Classroom, error) {
	ended, err := s.classrooms.MarkEnded(ctx, classroom.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record meeting end")
	}
	s.cache.Invalidate(ctx, RunningKey(classroom.RoomID))
	s.logger.Info("meeting ended", zap.String("classroom_id", classroom.ID), zap.Int64("room_id", classroom.RoomID))
	return ended, nil
}

func (s *RoomService) logMeetingInfo(ctx context.Context, classroom *models.Classroom, log *zap.Logger) {
	info, err := s.gateway.MeetingInfo(ctx, classroom.RoomID, classroom.Secret(models.JoinRoleModerator))
	if err != nil {
		log.Debug("final meeting info unavailable", zap.Error(err))
		return
	}
	log.Info("final meeting info",
		zap.Int("participants", info.ParticipantCount),
		zap.Int("moderators", info.ModeratorCount),
		zap.Bool("forcibly_ended", info.HasBeenForciblyEnded),
		zap.Int64("start_time", info.StartTime),
		zap.Int64("end_time", info.EndTime))
}

// IsMeetingRunning asks the host whether the room runs. Answers are cached briefly.
func (s *RoomService) IsMeetingRunning(ctx context.Context, roomID int64) (bool, error) {
	if _, err := s.findByRoomID(ctx, roomID); err != nil {
		return false, err
	}

	key := RunningKey(roomID)
	var cached bool
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	running, err := s.gateway.IsRunning(ctx, roomID)
	if err != nil {
		if errors.Is(err, meeting.ErrMalformedResponse) {
			return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "unexpected meeting host response")
		}
		return false, appErrors.Wrap(err, appErrors.ErrGatewayUnavailable.Code, appErrors.ErrGatewayUnavailable.Status, "meeting host unavailable")
	}
	s.cache.Set(ctx, key, running, s.cfg.RunningCacheTTL)
	return running, nil
}

func (s *RoomService) findByRoomID(ctx context.Context, roomID int64) (*models.Classroom, error) {
	classroom, err := s.classrooms.FindByRoomID(ctx, roomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "room not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load classroom")
	}
	return classroom, nil
}

func generateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
