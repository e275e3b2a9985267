package coursework

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"semaphore/coursework/internal/apperr"
	"semaphore/coursework/internal/db"
	"semaphore/coursework/internal/model"
)

type EnrollInput struct {
	UserID   uuid.UUID `json:"userId" validate:"required"`
	CourseID uuid.UUID `json:"courseId" validate:"required"`
}

// Enroll registers a user in a course. A second enrollment of the same pair
// is a conflict.
func (s *Service) Enroll(ctx context.Context, in EnrollInput) (model.Enrollment, error) {
	if err := s.check("enroll", in); err != nil {
		return model.Enrollment{}, err
	}
	q := s.gateway.Queries()
	if _, err := q.GetUser(ctx, in.UserID); err != nil {
		return model.Enrollment{}, missingAsInvalid("enroll", "user does not exist", err)
	}
	if _, err := q.GetCourse(ctx, in.CourseID); err != nil {
		return model.Enrollment{}, missingAsInvalid("enroll", "course does not exist", err)
	}
	enrollment := model.Enrollment{
		ID:         uuid.New(),
		UserID:     in.UserID,
		CourseID:   in.CourseID,
		EnrolledOn: s.now(),
	}
	if err := q.CreateEnrollment(ctx, enrollment); err != nil {
		return model.Enrollment{}, err
	}
	return enrollment, nil
}

func (s *Service) GetEnrollment(ctx context.Context, id uuid.UUID) (model.Enrollment, error) {
	return s.gateway.Queries().GetEnrollment(ctx, id)
}

func (s *Service) ListEnrollments(ctx context.Context) ([]model.Enrollment, error) {
	return s.gateway.Queries().ListEnrollments(ctx)
}

type UpdateEnrollmentInput struct {
	ID       uuid.UUID `json:"enrollmentId" validate:"required"`
	UserID   uuid.UUID `json:"userId" validate:"required"`
	CourseID uuid.UUID `json:"courseId" validate:"required"`
}

// UpdateEnrollment moves an enrollment to another user or course and keeps
// its enrollment date. Landing on a pair that is already enrolled is a
// conflict.
func (s *Service) UpdateEnrollment(ctx context.Context, in UpdateEnrollmentInput) (model.Enrollment, error) {
	if err := s.check("update enrollment", in); err != nil {
		return model.Enrollment{}, err
	}
	var updated model.Enrollment
	err := s.gateway.WithTx(ctx, func(q db.Queries) error {
		current, err := q.GetEnrollment(ctx, in.ID)
		if err != nil {
			return err
		}
		if _, err := q.GetUser(ctx, in.UserID); err != nil {
			return missingAsInvalid("update enrollment", "user does not exist", err)
		}
		if _, err := q.GetCourse(ctx, in.CourseID); err != nil {
			return missingAsInvalid("update enrollment", "course does not exist", err)
		}
		current.UserID = in.UserID
		current.CourseID = in.CourseID
		if err := q.UpdateEnrollment(ctx, current); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return model.Enrollment{}, err
	}
	return updated, nil
}

func (s *Service) Unenroll(ctx context.Context, id uuid.UUID) error {
	return s.gateway.Queries().DeleteEnrollment(ctx, id)
}

func (s *Service) IsEnrolled(ctx context.Context, userID, courseID uuid.UUID) (bool, error) {
	_, err := s.gateway.Queries().FindEnrollment(ctx, userID, courseID)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// EnrolledCourses lists the courses a user is enrolled in, oldest
// enrollment first.
func (s *Service) EnrolledCourses(ctx context.Context, userID uuid.UUID) ([]model.Course, error) {
	q := s.gateway.Queries()
	if _, err := q.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	enrollments, err := q.ListEnrollmentsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	courses := make([]model.Course, 0, len(enrollments))
	for _, e := range enrollments {
		course, err := q.GetCourse(ctx, e.CourseID)
		if err != nil {
			return nil, err
		}
		courses = append(courses, course)
	}
	return courses, nil
}

func missingAsInvalid(op, message string, err error) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.Invalid(op, message, nil)
	}
	return err
}
