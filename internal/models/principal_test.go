package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrincipalFromClaims(t *testing.T) {
	p, err := PrincipalFromClaims(&JWTClaims{UserID: "u1", Role: RoleAdmin, FullName: "Root"})
	require.NoError(t, err)
	assert.IsType(t, Staff{}, p)
	assert.Equal(t, "Root", p.DisplayName())

	p, err = PrincipalFromClaims(&JWTClaims{UserID: "u2", Role: RoleTeacher, ProfileID: "t1"})
	require.NoError(t, err)
	teacher, ok := p.(Teacher)
	require.True(t, ok)
	assert.Equal(t, "t1", teacher.TeacherID)

	p, err = PrincipalFromClaims(&JWTClaims{UserID: "u3", Role: RoleStudent, ProfileID: "s1", Email: "s@example.com"})
	require.NoError(t, err)
	student, ok := p.(Student)
	require.True(t, ok)
	assert.Equal(t, "s1", student.StudentID)
	assert.Equal(t, "s@example.com", student.DisplayName())
}

func TestPrincipalFromClaimsRejectsUnknownOrIncomplete(t *testing.T) {
	_, err := PrincipalFromClaims(&JWTClaims{Role: "PARENT"})
	assert.ErrorIs(t, err, ErrUnknownRole)

	_, err = PrincipalFromClaims(&JWTClaims{Role: RoleStudent})
	assert.ErrorIs(t, err, ErrMissingProfile)

	_, err = PrincipalFromClaims(nil)
	assert.ErrorIs(t, err, ErrUnknownRole)
}
