package models

import (
	"errors"
	"fmt"
	"time"
)

// RequestStatus is the lifecycle state of an enrollment request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestDeclined RequestStatus = "declined"
)

// ErrInvalidTransition is returned when a decided request is moved to another status.
var ErrInvalidTransition = errors.New("invalid request transition")

// Valid reports whether s is a known status.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestAccepted, RequestDeclined:
		return true
	}
	return false
}

// Terminal reports whether s is a decided status.
func (s RequestStatus) Terminal() bool {
	return s == RequestAccepted || s == RequestDeclined
}

// Request is a student's application to join a course.
type Request struct {
	ID           string        `db:"id" json:"id"`
	StudentID    string        `db:"student_id" json:"student_id"`
	TeacherID    *string       `db:"teacher_id" json:"teacher_id,omitempty"`
	CourseID     string        `db:"course_id" json:"course_id"`
	Status       RequestStatus `db:"status" json:"status"`
	ClassroomIDs []string      `db:"-" json:"classroom_ids"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`
}

// RequestRecipient is who hears about a decision.
type RequestRecipient struct {
	StudentName  string `db:"student_name"`
	StudentEmail string `db:"student_email"`
	CourseName   string `db:"course_name"`
}

// EffectKind names a side effect of a status change.
type EffectKind string

const (
	EffectEnrollStudent  EffectKind = "ENROLL_STUDENT"
	EffectGrantCalendar  EffectKind = "GRANT_CALENDAR"
	EffectNotifyAccepted EffectKind = "NOTIFY_ACCEPTED"
	EffectNotifyDeclined EffectKind = "NOTIFY_DECLINED"
)

// Effect is one side effect. Only the fields relevant to Kind are set.
type Effect struct {
	Kind           EffectKind
	RequestID      string
	StudentID      string
	CourseID       string
	ClassroomID    string
	EventID        string
	ClassroomNames []string
}

// IsNotification reports whether the effect is delivered after commit.
func (e Effect) IsNotification() bool {
	return e.Kind == EffectNotifyAccepted || e.Kind == EffectNotifyDeclined
}

// TransitionPlan is the outcome of PlanTransition. Changed=false means the
// request already had the target status and nothing should happen.
type TransitionPlan struct {
	From    RequestStatus
	To      RequestStatus
	Changed bool
	Effects []Effect
}

// Persistent returns the effects applied inside the status-change transaction.
func (p TransitionPlan) Persistent() []Effect {
	out := make([]Effect, 0, len(p.Effects))
	for _, e := range p.Effects {
		if !e.IsNotification() {
			out = append(out, e)
		}
	}
	return out
}

// Notifications returns the effects dispatched after commit.
func (p TransitionPlan) Notifications() []Effect {
	var out []Effect
	for _, e := range p.Effects {
		if e.IsNotification() {
			out = append(out, e)
		}
	}
	return out
}

// ApplicableClassrooms picks the classrooms an accepted request grants:
// every classroom under join_all, only the chosen ones under choose_to_join.
func ApplicableClassrooms(mode ClassroomJoinMode, courseClassrooms []Classroom, chosen []string) []Classroom {
	if mode != JoinModeChooseToJoin {
		return courseClassrooms
	}
	picked := make(map[string]struct{}, len(chosen))
	for _, id := range chosen {
		picked[id] = struct{}{}
	}
	out := make([]Classroom, 0, len(chosen))
	for _, c := range courseClassrooms {
		if _, ok := picked[c.ID]; ok {
			out = append(out, c)
		}
	}
	return out
}

// PlanTransition computes the side effects of moving req to next without
// touching any state. courseClassrooms are all classrooms of the request's course.
func PlanTransition(req Request, next RequestStatus, course Course, courseClassrooms []Classroom) (TransitionPlan, error) {
	plan := TransitionPlan{From: req.Status, To: next}
	if !next.Valid() {
		return plan, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	if req.Status == next {
		return plan, nil
	}
	if req.Status.Terminal() || next == RequestPending {
		return plan, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, req.Status, next)
	}

	plan.Changed = true
	switch next {
	case RequestAccepted:
		classrooms := ApplicableClassrooms(course.ClassroomJoinMode, courseClassrooms, req.ClassroomIDs)
		plan.Effects = append(plan.Effects, Effect{
			Kind:      EffectEnrollStudent,
			RequestID: req.ID,
			StudentID: req.StudentID,
			CourseID:  course.ID,
		})
		names := make([]string, 0, len(classrooms))
		for _, c := range classrooms {
			names = append(names, c.Name)
			if c.EventID == nil || *c.EventID == "" {
				continue
			}
			plan.Effects = append(plan.Effects, Effect{
				Kind:        EffectGrantCalendar,
				RequestID:   req.ID,
				StudentID:   req.StudentID,
				CourseID:    course.ID,
				ClassroomID: c.ID,
				EventID:     *c.EventID,
			})
		}
		plan.Effects = append(plan.Effects, Effect{
			Kind:           EffectNotifyAccepted,
			RequestID:      req.ID,
			StudentID:      req.StudentID,
			CourseID:       course.ID,
			ClassroomNames: names,
		})
	case RequestDeclined:
		plan.Effects = append(plan.Effects, Effect{
			Kind:      EffectNotifyDeclined,
			RequestID: req.ID,
			StudentID: req.StudentID,
			CourseID:  course.ID,
		})
	}
	return plan, nil
}
