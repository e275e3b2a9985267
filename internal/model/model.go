package model

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleInstructor Role = "instructor"
	RoleStudent    Role = "student"
)

func (r Role) Valid() bool {
	return r == RoleInstructor || r == RoleStudent
}

type User struct {
	ID    uuid.UUID `json:"userId"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Role  Role      `json:"role"`
}

type Course struct {
	ID           uuid.UUID     `json:"courseId"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	MediaURL     string        `json:"mediaUrl"`
	InstructorID uuid.NullUUID `json:"instructorId"`
	Version      int           `json:"version"`
}

type Assessment struct {
	ID        uuid.UUID `json:"assessmentId"`
	CourseID  uuid.UUID `json:"courseId"`
	Title     string    `json:"title"`
	Questions string    `json:"questions"`
	MaxScore  int       `json:"maxScore"`
	Version   int       `json:"version"`
}

type Enrollment struct {
	ID         uuid.UUID `json:"enrollmentId"`
	UserID     uuid.UUID `json:"userId"`
	CourseID   uuid.UUID `json:"courseId"`
	EnrolledOn time.Time `json:"enrolledOn"`
}

type Result struct {
	ID           uuid.UUID `json:"resultId"`
	AssessmentID uuid.UUID `json:"assessmentId"`
	UserID       uuid.UUID `json:"userId"`
	Score        int       `json:"score"`
	AttemptDate  time.Time `json:"attemptDate"`
	Version      int       `json:"version"`
}

// AssessmentIDs returns the ids of the given assessments in order.
func AssessmentIDs(items []Assessment) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

func ResultIDs(items []Result) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

func EnrollmentIDs(items []Enrollment) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}
