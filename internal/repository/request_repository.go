package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/darasa-api/internal/models"
)

const requestConstraint = "requests_student_course_key"

// RequestRepository persists enrollment requests and applies their transitions.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts the request with its chosen classrooms.
func (r *RequestRepository) Create(ctx context.Context, request *models.Request) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin request transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertQuery = `
INSERT INTO requests (id, student_id, teacher_id, course_id, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err = tx.ExecContext(ctx, insertQuery, request.ID, request.StudentID, request.TeacherID, request.CourseID,
		request.Status, request.CreatedAt, request.UpdatedAt); err != nil {
		if isUniqueViolation(err, requestConstraint) {
			return ErrDuplicateRequest
		}
		return fmt.Errorf("insert request: %w", err)
	}

	const linkQuery = `INSERT INTO request_classrooms (request_id, classroom_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	for _, classroomID := range request.ClassroomIDs {
		if _, err = tx.ExecContext(ctx, linkQuery, request.ID, classroomID); err != nil {
			return fmt.Errorf("insert request classroom: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit request: %w", err)
	}
	return nil
}

// FindByID returns a request with its chosen classroom ids.
func (r *RequestRepository) FindByID(ctx context.Context, id string) (*models.Request, error) {
	return r.findByID(ctx, r.db, id, false)
}

type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func (r *RequestRepository) findByID(ctx context.Context, q queryer, id string, lock bool) (*models.Request, error) {
	query := `SELECT id, student_id, teacher_id, course_id, status, created_at, updated_at FROM requests WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var request models.Request
	if err := q.GetContext(ctx, &request, query, id); err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}

	var classroomIDs []string
	if err := q.SelectContext(ctx, &classroomIDs, `SELECT classroom_id FROM request_classrooms WHERE request_id = $1 ORDER BY classroom_id`, id); err != nil {
		return nil, fmt.Errorf("list request classrooms: %w", err)
	}
	request.ClassroomIDs = classroomIDs
	return &request, nil
}

// ExistsForStudent reports whether the student has any request for the course.
func (r *RequestRepository) ExistsForStudent(ctx context.Context, courseID, studentID string) (bool, error) {
	var exists bool
	const query = `SELECT EXISTS (SELECT 1 FROM requests WHERE course_id = $1 AND student_id = $2)`
	if err := r.db.GetContext(ctx, &exists, query, courseID, studentID); err != nil {
		return false, fmt.Errorf("check request exists: %w", err)
	}
	return exists, nil
}

// Recipient loads what a decision email needs about the student and course.
func (r *RequestRepository) Recipient(ctx context.Context, requestID string) (*models.RequestRecipient, error) {
	const query = `
SELECT u.full_name AS student_name, u.email AS student_email, c.name AS course_name
FROM requests rq
JOIN students s ON s.id = rq.student_id
JOIN users u ON u.id = s.user_id
JOIN courses c ON c.id = rq.course_id
WHERE rq.id = $1`
	var recipient models.RequestRecipient
	if err := r.db.GetContext(ctx, &recipient, query, requestID); err != nil {
		return nil, fmt.Errorf("get request recipient: %w", err)
	}
	return &recipient, nil
}

// Transition locks the request row, plans the move to next and applies the
// persistent effects together with the status change in one transaction.
// A plan with Changed=false commits nothing.
func (r *RequestRepository) Transition(ctx context.Context, id string, next models.RequestStatus) (request *models.Request, plan models.TransitionPlan, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, plan, fmt.Errorf("begin transition transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	request, err = r.findByID(ctx, tx, id, true)
	if err != nil {
		return nil, plan, err
	}

	var course models.Course
	const courseQuery = `SELECT id, name, description, cover, teacher_id, classroom_join_mode, created_at, updated_at FROM courses WHERE id = $1`
	if err = tx.GetContext(ctx, &course, courseQuery, request.CourseID); err != nil {
		return nil, plan, fmt.Errorf("get request course: %w", err)
	}

	var classrooms []models.Classroom
	if err = tx.SelectContext(ctx, &classrooms, `SELECT `+classroomColumns+` FROM classrooms WHERE course_id = $1 ORDER BY room_id`, course.ID); err != nil {
		return nil, plan, fmt.Errorf("list course classrooms: %w", err)
	}

	plan, err = models.PlanTransition(*request, next, course, classrooms)
	if err != nil {
		return nil, plan, err
	}
	if !plan.Changed {
		err = tx.Rollback()
		if err != nil {
			return nil, plan, fmt.Errorf("release request lock: %w", err)
		}
		return request, plan, nil
	}

	now := time.Now().UTC()
	for _, effect := range plan.Persistent() {
		if err = applyEffect(ctx, tx, effect, now); err != nil {
			return nil, plan, err
		}
	}

	if _, err = tx.ExecContext(ctx, `UPDATE requests SET status = $2, updated_at = $3 WHERE id = $1`, id, next, now); err != nil {
		return nil, plan, fmt.Errorf("update request status: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, plan, fmt.Errorf("commit transition: %w", err)
	}
	request.Status = next
	request.UpdatedAt = now
	return request, plan, nil
}

func applyEffect(ctx context.Context, tx *sqlx.Tx, effect models.Effect, now time.Time) error {
	switch effect.Kind {
	case models.EffectEnrollStudent:
		const query = `INSERT INTO course_students (course_id, student_id, joined_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`
		if _, err := tx.ExecContext(ctx, query, effect.CourseID, effect.StudentID, now); err != nil {
			return fmt.Errorf("enroll student: %w", err)
		}
	case models.EffectGrantCalendar:
		const query = `
INSERT INTO event_calendars (event_id, calendar_id)
SELECT $1, cal.id
FROM calendars cal
JOIN students s ON s.user_id = cal.owner_id
WHERE s.id = $2
ON CONFLICT DO NOTHING`
		if _, err := tx.ExecContext(ctx, query, effect.EventID, effect.StudentID); err != nil {
			return fmt.Errorf("grant calendar: %w", err)
		}
	}
	return nil
}

// FilterCourseClassrooms returns the subset of ids that belong to the course.
func (r *RequestRepository) FilterCourseClassrooms(ctx context.Context, courseID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []string
	const query = `SELECT id FROM classrooms WHERE course_id = $1 AND id = ANY($2::uuid[]) ORDER BY id`
	if err := r.db.SelectContext(ctx, &out, query, courseID, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("filter course classrooms: %w", err)
	}
	return out, nil
}
