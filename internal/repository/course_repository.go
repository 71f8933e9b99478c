package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/darasa-api/internal/models"
)

// CourseRepository reads courses and the people attached to them.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// FindByID returns a course by primary key.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, name, description, cover, teacher_id, classroom_join_mode, created_at, updated_at FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	return &course, nil
}

// Membership reports how a teacher or student profile relates to the course.
// Empty ids are treated as absent.
func (r *CourseRepository) Membership(ctx context.Context, courseID, teacherID, studentID string) (*models.CourseMembership, error) {
	const query = `
SELECT
	COALESCE(c.teacher_id = $2::uuid, false) AS is_teacher,
	EXISTS (SELECT 1 FROM course_assistant_teachers cat WHERE cat.course_id = c.id AND cat.teacher_id = $2::uuid) AS is_assistant,
	EXISTS (SELECT 1 FROM course_students cs WHERE cs.course_id = c.id AND cs.student_id = $3::uuid) AS is_student
FROM courses c
WHERE c.id = $1`
	var membership models.CourseMembership
	if err := r.db.GetContext(ctx, &membership, query, courseID, nullable(teacherID), nullable(studentID)); err != nil {
		return nil, fmt.Errorf("get course membership: %w", err)
	}
	return &membership, nil
}

func nullable(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

// StudentChoseClassroom reports whether an accepted request of the student lists the classroom.
func (r *CourseRepository) StudentChoseClassroom(ctx context.Context, studentID, classroomID string) (bool, error) {
	const query = `
SELECT EXISTS (
	SELECT 1
	FROM requests rq
	JOIN request_classrooms rc ON rc.request_id = rq.id
	WHERE rq.student_id = $1 AND rc.classroom_id = $2 AND rq.status = 'accepted'
)`
	var chose bool
	if err := r.db.GetContext(ctx, &chose, query, studentID, classroomID); err != nil {
		return false, fmt.Errorf("check chosen classroom: %w", err)
	}
	return chose, nil
}
