package dto

// CreateRequestRequest is a student's application to a course.
type CreateRequestRequest struct {
	CourseID     string   `json:"course_id" validate:"required,uuid"`
	ClassroomIDs []string `json:"classroom_ids" validate:"omitempty,dive,uuid"`
}

// UpdateRequestStatusRequest moves a request to a new status.
type UpdateRequestStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending accepted declined"`
}

// CourseFlagResponse answers the requested/joined checks.
type CourseFlagResponse struct {
	CourseID string `json:"course_id"`
	Value    bool   `json:"value"`
}
