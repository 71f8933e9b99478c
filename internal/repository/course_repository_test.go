package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/darasa-api/internal/models"
)

func TestCourseRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "name", "description", "cover", "teacher_id", "classroom_join_mode", "created_at", "updated_at"}).
		AddRow("course-1", "Algebra", "", nil, "t-1", "choose_to_join", now, now)
	mock.ExpectQuery(`SELECT id, name, description, cover, teacher_id, classroom_join_mode, created_at, updated_at FROM courses WHERE id = \$1`).
		WithArgs("course-1").WillReturnRows(rows)

	course, err := repo.FindByID(context.Background(), "course-1")
	require.NoError(t, err)
	assert.Equal(t, models.JoinModeChooseToJoin, course.ClassroomJoinMode)
	assert.Nil(t, course.Cover)

	mock.ExpectQuery(`FROM courses WHERE id = \$1`).WithArgs("missing").WillReturnError(sql.ErrNoRows)
	_, err = repo.FindByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryMembership(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectQuery(`FROM courses c\s+WHERE c.id = \$1`).
		WithArgs("course-1", sql.NullString{}, sql.NullString{String: "s-1", Valid: true}).
		WillReturnRows(sqlmock.NewRows([]string{"is_teacher", "is_assistant", "is_student"}).AddRow(false, false, true))

	membership, err := repo.Membership(context.Background(), "course-1", "", "s-1")
	require.NoError(t, err)
	assert.True(t, membership.IsStudent)
	assert.False(t, membership.Teaches())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryStudentChoseClassroom(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectQuery(`rq.status = 'accepted'`).
		WithArgs("s-1", "cls-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	chose, err := repo.StudentChoseClassroom(context.Background(), "s-1", "cls-1")
	require.NoError(t, err)
	assert.True(t, chose)
	require.NoError(t, mock.ExpectationsWereMet())
}
