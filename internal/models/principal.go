package models

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownRole is returned for tokens whose role maps to no principal kind.
	ErrUnknownRole = errors.New("unknown role")
	// ErrMissingProfile is returned when a teacher or student token lacks profile_id.
	ErrMissingProfile = errors.New("missing profile id")
)

// Principal is the authenticated caller. The set of implementations is closed:
// Staff, Teacher and Student.
type Principal interface {
	UserID() string
	DisplayName() string
	EmailAddress() string
	Kind() UserRole
	principal()
}

// Identity holds the fields every principal shares.
type Identity struct {
	ID       string
	Email    string
	FullName string
}

func (i Identity) UserID() string       { return i.ID }
func (i Identity) EmailAddress() string { return i.Email }

// DisplayName falls back to the email when no name is known.
func (i Identity) DisplayName() string {
	if i.FullName != "" {
		return i.FullName
	}
	return i.Email
}

type Staff struct {
	Identity
}

type Teacher struct {
	Identity
	TeacherID string
}

type Student struct {
	Identity
	StudentID string
}

func (Staff) Kind() UserRole   { return RoleStaff }
func (Teacher) Kind() UserRole { return RoleTeacher }
func (Student) Kind() UserRole { return RoleStudent }

func (Staff) principal()   {}
func (Teacher) principal() {}
func (Student) principal() {}

// PrincipalFromClaims resolves the principal kind once, at authentication.
func PrincipalFromClaims(claims *JWTClaims) (Principal, error) {
	if claims == nil {
		return nil, ErrUnknownRole
	}
	id := Identity{ID: claims.UserID, Email: claims.Email, FullName: claims.FullName}

	switch {
	case claims.Role.IsStaff():
		return Staff{Identity: id}, nil
	case claims.Role == RoleTeacher:
		if claims.ProfileID == "" {
			return nil, fmt.Errorf("teacher token: %w", ErrMissingProfile)
		}
		return Teacher{Identity: id, TeacherID: claims.ProfileID}, nil
	case claims.Role == RoleStudent:
		if claims.ProfileID == "" {
			return nil, fmt.Errorf("student token: %w", ErrMissingProfile)
		}
		return Student{Identity: id, StudentID: claims.ProfileID}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownRole, claims.Role)
}
