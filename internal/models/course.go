package models

import "time"

// ClassroomJoinMode decides which classrooms an accepted student gets.
type ClassroomJoinMode string

const (
	JoinModeAll          ClassroomJoinMode = "join_all"
	JoinModeChooseToJoin ClassroomJoinMode = "choose_to_join"
)

// Course is a teacher's offering that students request to join.
type Course struct {
	ID                string            `db:"id" json:"id"`
	Name              string            `db:"name" json:"name"`
	Description       string            `db:"description" json:"description"`
	Cover             *string           `db:"cover" json:"cover,omitempty"`
	TeacherID         string            `db:"teacher_id" json:"teacher_id"`
	ClassroomJoinMode ClassroomJoinMode `db:"classroom_join_mode" json:"classroom_join_mode"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updated_at"`
}

// CourseMembership is what a principal is to a course.
type CourseMembership struct {
	IsTeacher   bool `db:"is_teacher"`
	IsAssistant bool `db:"is_assistant"`
	IsStudent   bool `db:"is_student"`
}

// Teaches reports whether the principal may moderate the course.
func (m CourseMembership) Teaches() bool { return m.IsTeacher || m.IsAssistant }
