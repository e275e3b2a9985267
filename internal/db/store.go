// Package db declares the persistence gateway consumed by the cascade
// orchestrator and the coursework use cases. Backends live in the postgres
// and sqlite subpackages.
package db

import (
	"context"

	"github.com/google/uuid"

	"semaphore/coursework/internal/model"
)

// Queries is the statement set of a gateway, bound either to the connection
// pool or to a running transaction. Absent rows are reported as
// apperr.ErrNotFound; driver failures are classified into apperr codes.
type Queries interface {
	CreateUser(ctx context.Context, user model.User) error
	GetUser(ctx context.Context, id uuid.UUID) (model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateUser(ctx context.Context, user model.User) error
	// DeleteUser fails with apperr.ErrConflict while courses, enrollments or
	// results still reference the user.
	DeleteUser(ctx context.Context, id uuid.UUID) error

	CreateCourse(ctx context.Context, course model.Course) error
	GetCourse(ctx context.Context, id uuid.UUID) (model.Course, error)
	// LockCourse reads the course and holds a write lock on it until the
	// surrounding transaction ends.
	LockCourse(ctx context.Context, id uuid.UUID) (model.Course, error)
	ListCourses(ctx context.Context, instructorID uuid.NullUUID) ([]model.Course, error)
	// UpdateCourse writes the editable fields when the stored version equals
	// expectedVersion (0 skips the check) and bumps the version.
	UpdateCourse(ctx context.Context, course model.Course, expectedVersion int) (model.Course, error)
	DeleteCourse(ctx context.Context, id uuid.UUID) error

	CreateAssessment(ctx context.Context, assessment model.Assessment) error
	GetAssessment(ctx context.Context, id uuid.UUID) (model.Assessment, error)
	LockAssessment(ctx context.Context, id uuid.UUID) (model.Assessment, error)
	ListAssessmentsByCourse(ctx context.Context, courseID uuid.UUID) ([]model.Assessment, error)
	// ListAssessments returns every assessment, or those of courses taught by
	// one instructor.
	ListAssessments(ctx context.Context, instructorID uuid.NullUUID) ([]model.Assessment, error)
	UpdateAssessment(ctx context.Context, assessment model.Assessment, expectedVersion int) (model.Assessment, error)
	DeleteAssessments(ctx context.Context, ids []uuid.UUID) (int64, error)
	DeleteAssessment(ctx context.Context, id uuid.UUID) error

	CreateEnrollment(ctx context.Context, enrollment model.Enrollment) error
	GetEnrollment(ctx context.Context, id uuid.UUID) (model.Enrollment, error)
	FindEnrollment(ctx context.Context, userID, courseID uuid.UUID) (model.Enrollment, error)
	ListEnrollmentsByCourse(ctx context.Context, courseID uuid.UUID) ([]model.Enrollment, error)
	ListEnrollmentsByUser(ctx context.Context, userID uuid.UUID) ([]model.Enrollment, error)
	ListEnrollments(ctx context.Context) ([]model.Enrollment, error)
	UpdateEnrollment(ctx context.Context, enrollment model.Enrollment) error
	DeleteEnrollments(ctx context.Context, ids []uuid.UUID) (int64, error)
	DeleteEnrollment(ctx context.Context, id uuid.UUID) error

	CreateResult(ctx context.Context, result model.Result) error
	GetResult(ctx context.Context, id uuid.UUID) (model.Result, error)
	ListResultsByAssessments(ctx context.Context, assessmentIDs []uuid.UUID) ([]model.Result, error)
	ListResultsByUser(ctx context.Context, userID uuid.UUID) ([]model.Result, error)
	ListResults(ctx context.Context, instructorID uuid.NullUUID) ([]model.Result, error)
	// UpdateResult writes score, attempt date and references when the stored
	// version equals expectedVersion (0 skips the check) and bumps the version.
	UpdateResult(ctx context.Context, result model.Result, expectedVersion int) (model.Result, error)
	DeleteResults(ctx context.Context, ids []uuid.UUID) (int64, error)
	DeleteResult(ctx context.Context, id uuid.UUID) error

	CountRows(ctx context.Context) (RowCounts, error)
}

// Gateway owns the connection pool and scopes transactions.
type Gateway interface {
	Queries() Queries
	// WithTx runs fn inside one transaction. A non-nil return from fn rolls
	// back; otherwise the transaction commits and commit failures are
	// returned classified.
	WithTx(ctx context.Context, fn func(Queries) error) error
	Ping(ctx context.Context) error
	Close() error
}

// RowCounts is the number of rows per collection.
type RowCounts struct {
	Users       int64
	Courses     int64
	Assessments int64
	Enrollments int64
	Results     int64
}

func (c RowCounts) Total() int64 {
	return c.Users + c.Courses + c.Assessments + c.Enrollments + c.Results
}
