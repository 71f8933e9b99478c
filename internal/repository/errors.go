package repository

import (
	"errors"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

var (
	// ErrRoomIDTaken is returned when another classroom already holds the room id.
	ErrRoomIDTaken = errors.New("room id already allocated")
	// ErrDuplicateRequest is returned when the student already applied to the course.
	ErrDuplicateRequest = errors.New("request already exists for student and course")
	// ErrClaimLost is returned when a provisioning claim was taken over by another worker.
	ErrClaimLost = errors.New("provisioning claim no longer held")
)

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
