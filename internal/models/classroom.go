package models

import "time"

// ProvisionState tracks whether the meeting host currently has the room.
type ProvisionState string

const (
	ProvisionUnprovisioned ProvisionState = "UNPROVISIONED"
	ProvisionProvisioning  ProvisionState = "PROVISIONING"
	ProvisionProvisioned   ProvisionState = "PROVISIONED"
	ProvisionEnded         ProvisionState = "ENDED"
)

// JoinRole is the meeting role a join link grants.
type JoinRole string

const (
	JoinRoleModerator JoinRole = "moderator"
	JoinRoleAttendee  JoinRole = "attendee"
)

// Classroom is a recurring virtual room belonging to a course. RoomID is the
// numeric identifier shared with the meeting host and never changes.
type Classroom struct {
	ID                    string         `db:"id" json:"id"`
	CourseID              string         `db:"course_id" json:"course_id"`
	RoomID                int64          `db:"room_id" json:"room_id"`
	Name                  string         `db:"name" json:"name"`
	Description           string         `db:"description" json:"description"`
	WelcomeMessage        string         `db:"welcome_message" json:"welcome_message"`
	LogoutURL             string         `db:"logout_url" json:"logout_url"`
	ModeratorSecret       *string        `db:"moderator_secret" json:"-"`
	AttendeeSecret        *string        `db:"attendee_secret" json:"-"`
	Duration              int            `db:"duration" json:"duration"`
	EventID               *string        `db:"event_id" json:"event_id,omitempty"`
	ProvisionState        ProvisionState `db:"provision_state" json:"provision_state"`
	ProvisioningStartedAt *time.Time     `db:"provisioning_started_at" json:"-"`
	ProvisionedAt         *time.Time     `db:"provisioned_at" json:"provisioned_at,omitempty"`
	EndedAt               *time.Time     `db:"ended_at" json:"ended_at,omitempty"`
	NeedsReconcile        bool           `db:"needs_reconcile" json:"-"`
	CreatedAt             time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at" json:"updated_at"`
}

// HasSecrets reports whether both meeting secrets are set.
func (c *Classroom) HasSecrets() bool {
	return c.ModeratorSecret != nil && *c.ModeratorSecret != "" &&
		c.AttendeeSecret != nil && *c.AttendeeSecret != ""
}

// Secret returns the secret for role, or "" when unset.
func (c *Classroom) Secret(role JoinRole) string {
	var s *string
	if role == JoinRoleModerator {
		s = c.ModeratorSecret
	} else {
		s = c.AttendeeSecret
	}
	if s == nil {
		return ""
	}
	return *s
}

// IsProvisioned reports whether the host is believed to have the room.
func (c *Classroom) IsProvisioned() bool {
	return c.ProvisionState == ProvisionProvisioned
}

// JoinLink is a role-scoped URL into a provisioned room.
type JoinLink struct {
	URL    string   `json:"meeting_room_link"`
	Role   JoinRole `json:"role"`
	RoomID int64    `json:"room_id"`
}
