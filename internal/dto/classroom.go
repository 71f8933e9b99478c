package dto

// CreateClassroomRequest defines a new classroom under a course.
type CreateClassroomRequest struct {
	CourseID       string `json:"course_id" validate:"required,uuid"`
	Name           string `json:"name" validate:"required,max=200"`
	Description    string `json:"description" validate:"max=2000"`
	WelcomeMessage string `json:"welcome_message" validate:"max=2000"`
	LogoutURL      string `json:"logout_url" validate:"omitempty,url"`
	Duration       int    `json:"duration" validate:"gte=0,lte=1440"`
	EventID        string `json:"event_id" validate:"omitempty,uuid"`
}

// JoinRoomRequest asks for a join link. Moderator is honoured only for teachers.
type JoinRoomRequest struct {
	Moderator bool `json:"moderator"`
}

// JoinRoomResponse carries the role-scoped meeting URL.
type JoinRoomResponse struct {
	MeetingRoomLink string `json:"meeting_room_link"`
	Role            string `json:"role"`
}

// RunningResponse reports whether the host runs the room.
type RunningResponse struct {
	Running bool `json:"running"`
}
