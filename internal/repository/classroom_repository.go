package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/darasa-api/internal/models"
)

const classroomColumns = `id, course_id, room_id, name, description, welcome_message, logout_url,
	moderator_secret, attendee_secret, duration, event_id, provision_state,
	provisioning_started_at, provisioned_at, ended_at, needs_reconcile, created_at, updated_at`

const roomIDConstraint = "classrooms_room_id_key"

// ClassroomRepository persists classrooms and their provisioning state.
type ClassroomRepository struct {
	db *sqlx.DB
}

// NewClassroomRepository constructs the repository.
func NewClassroomRepository(db *sqlx.DB) *ClassroomRepository {
	return &ClassroomRepository{db: db}
}

// MaxRoomID returns the highest allocated room id. ok is false when no classroom exists.
func (r *ClassroomRepository) MaxRoomID(ctx context.Context) (max int64, ok bool, err error) {
	var value sql.NullInt64
	if err := r.db.GetContext(ctx, &value, `SELECT MAX(room_id) FROM classrooms`); err != nil {
		return 0, false, fmt.Errorf("select max room id: %w", err)
	}
	return value.Int64, value.Valid, nil
}

// Create inserts a classroom. ErrRoomIDTaken signals a lost race on room_id.
func (r *ClassroomRepository) Create(ctx context.Context, classroom *models.Classroom) error {
	const query = `
INSERT INTO classrooms (id, course_id, room_id, name, description, welcome_message, logout_url,
	moderator_secret, attendee_secret, duration, event_id, provision_state, needs_reconcile, created_at, updated_at)
VALUES (:id, :course_id, :room_id, :name, :description, :welcome_message, :logout_url,
	:moderator_secret, :attendee_secret, :duration, :event_id, :provision_state, :needs_reconcile, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, classroom); err != nil {
		if isUniqueViolation(err, roomIDConstraint) {
			return fmt.Errorf("insert classroom room %d: %w", classroom.RoomID, ErrRoomIDTaken)
		}
		return fmt.Errorf("insert classroom: %w", err)
	}
	return nil
}

// FindByID returns a classroom by primary key.
func (r *ClassroomRepository) FindByID(ctx context.Context, id string) (*models.Classroom, error) {
	var classroom models.Classroom
	if err := r.db.GetContext(ctx, &classroom, `SELECT `+classroomColumns+` FROM classrooms WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("get classroom: %w", err)
	}
	return &classroom, nil
}

// FindByRoomID returns a classroom by its meeting room id.
func (r *ClassroomRepository) FindByRoomID(ctx context.Context, roomID int64) (*models.Classroom, error) {
	var classroom models.Classroom
	if err := r.db.GetContext(ctx, &classroom, `SELECT `+classroomColumns+` FROM classrooms WHERE room_id = $1`, roomID); err != nil {
		return nil, fmt.Errorf("get classroom by room id: %w", err)
	}
	return &classroom, nil
}

// ClaimProvisioning atomically moves the classroom to PROVISIONING when it is
// unprovisioned, ended, or stuck in a claim older than staleBefore. claimed is
// false when another worker holds a live claim or the room is provisioned.
func (r *ClassroomRepository) ClaimProvisioning(ctx context.Context, id string, now, staleBefore time.Time) (classroom *models.Classroom, claimed bool, err error) {
	const query = `
UPDATE classrooms
SET provision_state = 'PROVISIONING', provisioning_started_at = $2, updated_at = $2
WHERE id = $1
	AND (provision_state IN ('UNPROVISIONED', 'ENDED')
		OR (provision_state = 'PROVISIONING' AND provisioning_started_at < $3))
RETURNING ` + classroomColumns

	var row models.Classroom
	if err := r.db.GetContext(ctx, &row, query, id, now, staleBefore); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("claim classroom provisioning: %w", err)
	}
	return &row, true, nil
}

// UpdateSecrets stores freshly generated meeting secrets.
func (r *ClassroomRepository) UpdateSecrets(ctx context.Context, id, moderatorSecret, attendeeSecret string) error {
	const query = `UPDATE classrooms SET moderator_secret = $2, attendee_secret = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, moderatorSecret, attendeeSecret, time.Now().UTC()); err != nil {
		return fmt.Errorf("update classroom secrets: %w", err)
	}
	return nil
}

// MarkProvisioned records a successful create along with the secrets the host
// accepted. claimedAt fences the update to the claim that ran the create;
// ErrClaimLost means a newer claim replaced it.
func (r *ClassroomRepository) MarkProvisioned(ctx context.Context, id string, claimedAt time.Time, moderatorSecret, attendeeSecret string) error {
	const query = `
UPDATE classrooms
SET provision_state = 'PROVISIONED', provisioned_at = $5, provisioning_started_at = NULL, ended_at = NULL,
	needs_reconcile = false, moderator_secret = $3, attendee_secret = $4, updated_at = $5
WHERE id = $1 AND provision_state = 'PROVISIONING' AND provisioning_started_at = $2`
	res, err := r.db.ExecContext(ctx, query, id, claimedAt, moderatorSecret, attendeeSecret, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark classroom provisioned: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark classroom provisioned: %w", err)
	}
	if affected == 0 {
		return ErrClaimLost
	}
	return nil
}

// ReleaseProvisioning drops the claim taken at claimedAt after a failed attempt.
// needsReconcile marks an attempt whose remote outcome is unknown. A claim that
// was already taken over is left alone.
func (r *ClassroomRepository) ReleaseProvisioning(ctx context.Context, id string, claimedAt time.Time, needsReconcile bool) error {
	const query = `
UPDATE classrooms
SET provision_state = 'UNPROVISIONED', provisioning_started_at = NULL, needs_reconcile = $3, updated_at = $4
WHERE id = $1 AND provision_state = 'PROVISIONING' AND provisioning_started_at = $2`
	if _, err := r.db.ExecContext(ctx, query, id, claimedAt, needsReconcile, time.Now().UTC()); err != nil {
		return fmt.Errorf("release classroom provisioning: %w", err)
	}
	return nil
}

// MarkEnded records that the meeting was ended. The next join provisions it again.
func (r *ClassroomRepository) MarkEnded(ctx context.Context, id string) (*models.Classroom, error) {
	const query = `
UPDATE classrooms
SET provision_state = 'ENDED', ended_at = $2, provisioning_started_at = NULL, updated_at = $2
WHERE id = $1
RETURNING ` + classroomColumns
	var classroom models.Classroom
	if err := r.db.GetContext(ctx, &classroom, query, id, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("mark classroom ended: %w", err)
	}
	return &classroom, nil
}
