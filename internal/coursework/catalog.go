package coursework

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"semaphore/coursework/internal/cascade"
	"semaphore/coursework/internal/db"
	"semaphore/coursework/internal/model"
)

type CreateUserInput struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"required,email,max=320"`
	Role  string `json:"role" validate:"required,oneof=instructor student"`
}

func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (model.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := s.check("create user", in); err != nil {
		return model.User{}, err
	}
	user := model.User{ID: uuid.New(), Name: in.Name, Email: in.Email, Role: model.Role(in.Role)}
	if err := s.gateway.Queries().CreateUser(ctx, user); err != nil {
		return model.User{}, err
	}
	return user, nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (model.User, error) {
	return s.gateway.Queries().GetUser(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.gateway.Queries().ListUsers(ctx)
}

type UpdateUserInput struct {
	ID    uuid.UUID `json:"userId" validate:"required"`
	Name  string    `json:"name" validate:"required,max=200"`
	Email string    `json:"email" validate:"required,email,max=320"`
	Role  string    `json:"role" validate:"required,oneof=instructor student"`
}

// UpdateUser replaces name, email and role. Taking another user's email is
// a conflict.
func (s *Service) UpdateUser(ctx context.Context, in UpdateUserInput) (model.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := s.check("update user", in); err != nil {
		return model.User{}, err
	}
	user := model.User{ID: in.ID, Name: in.Name, Email: in.Email, Role: model.Role(in.Role)}
	if err := s.gateway.Queries().UpdateUser(ctx, user); err != nil {
		return model.User{}, err
	}
	return user, nil
}

// DeleteUser removes a user that nothing references. A user still teaching
// a course, enrolled somewhere or holding results is a conflict; those rows
// are never removed on the user's behalf.
func (s *Service) DeleteUser(ctx context.Context, id uuid.UUID) error {
	return s.gateway.WithTx(ctx, func(q db.Queries) error {
		if _, err := q.GetUser(ctx, id); err != nil {
			return err
		}
		return q.DeleteUser(ctx, id)
	})
}

type CreateCourseInput struct {
	Title        string     `json:"title" validate:"required,max=200"`
	Description  string     `json:"description" validate:"max=4000"`
	MediaURL     string     `json:"mediaUrl" validate:"omitempty,url"`
	InstructorID *uuid.UUID `json:"instructorId"`
}

func (s *Service) CreateCourse(ctx context.Context, in CreateCourseInput) (model.Course, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := s.check("create course", in); err != nil {
		return model.Course{}, err
	}
	q := s.gateway.Queries()
	if in.InstructorID != nil {
		if _, err := q.GetUser(ctx, *in.InstructorID); err != nil {
			return model.Course{}, missingAsInvalid("create course", "instructor does not exist", err)
		}
	}
	course := model.Course{
		ID:           uuid.New(),
		Title:        in.Title,
		Description:  in.Description,
		MediaURL:     in.MediaURL,
		InstructorID: nullableID(in.InstructorID),
		Version:      1,
	}
	if err := q.CreateCourse(ctx, course); err != nil {
		return model.Course{}, err
	}
	return course, nil
}

func (s *Service) GetCourse(ctx context.Context, id uuid.UUID) (model.Course, error) {
	return s.gateway.Queries().GetCourse(ctx, id)
}

// ListCourses returns every course, or only those of one instructor.
func (s *Service) ListCourses(ctx context.Context, instructorID *uuid.UUID) ([]model.Course, error) {
	return s.gateway.Queries().ListCourses(ctx, nullableID(instructorID))
}

type UpdateCourseInput struct {
	ID           uuid.UUID  `json:"courseId" validate:"required"`
	Title        string     `json:"title" validate:"required,max=200"`
	Description  string     `json:"description" validate:"max=4000"`
	MediaURL     string     `json:"mediaUrl" validate:"omitempty,url"`
	InstructorID *uuid.UUID `json:"instructorId"`
	// Version is the version the caller last read; 0 overwrites regardless.
	Version int `json:"version" validate:"min=0"`
}

// UpdateCourse overwrites the course fields. A version that no longer
// matches the stored one is a conflict.
func (s *Service) UpdateCourse(ctx context.Context, in UpdateCourseInput) (model.Course, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := s.check("update course", in); err != nil {
		return model.Course{}, err
	}
	var updated model.Course
	err := s.gateway.WithTx(ctx, func(q db.Queries) error {
		if in.InstructorID != nil {
			if _, err := q.GetUser(ctx, *in.InstructorID); err != nil {
				return missingAsInvalid("update course", "instructor does not exist", err)
			}
		}
		var err error
		updated, err = q.UpdateCourse(ctx, model.Course{
			ID:           in.ID,
			Title:        in.Title,
			Description:  in.Description,
			MediaURL:     in.MediaURL,
			InstructorID: nullableID(in.InstructorID),
		}, in.Version)
		return err
	})
	if err != nil {
		return model.Course{}, err
	}
	return updated, nil
}

func (s *Service) DeleteCourse(ctx context.Context, id uuid.UUID) (cascade.Summary, error) {
	return s.cascade.DeleteCourse(ctx, id)
}

type CreateAssessmentInput struct {
	CourseID  uuid.UUID `json:"courseId" validate:"required"`
	Title     string    `json:"title" validate:"required,max=200"`
	Questions string    `json:"questions"`
	MaxScore  int       `json:"maxScore" validate:"min=1"`
}

func (s *Service) CreateAssessment(ctx context.Context, in CreateAssessmentInput) (model.Assessment, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := s.check("create assessment", in); err != nil {
		return model.Assessment{}, err
	}
	q := s.gateway.Queries()
	if _, err := q.GetCourse(ctx, in.CourseID); err != nil {
		return model.Assessment{}, missingAsInvalid("create assessment", "course does not exist", err)
	}
	assessment := model.Assessment{
		ID:        uuid.New(),
		CourseID:  in.CourseID,
		Title:     in.Title,
		Questions: in.Questions,
		MaxScore:  in.MaxScore,
		Version:   1,
	}
	if err := q.CreateAssessment(ctx, assessment); err != nil {
		return model.Assessment{}, err
	}
	return assessment, nil
}

func (s *Service) GetAssessment(ctx context.Context, id uuid.UUID) (model.Assessment, error) {
	return s.gateway.Queries().GetAssessment(ctx, id)
}

// ListAssessments returns every assessment, or only those of courses taught
// by one instructor.
func (s *Service) ListAssessments(ctx context.Context, instructorID *uuid.UUID) ([]model.Assessment, error) {
	return s.gateway.Queries().ListAssessments(ctx, nullableID(instructorID))
}

// CourseAssessments returns the assessments of a course; an unknown course
// is NotFound rather than an empty list.
func (s *Service) CourseAssessments(ctx context.Context, courseID uuid.UUID) ([]model.Assessment, error) {
	q := s.gateway.Queries()
	if _, err := q.GetCourse(ctx, courseID); err != nil {
		return nil, err
	}
	return q.ListAssessmentsByCourse(ctx, courseID)
}

type UpdateAssessmentInput struct {
	ID        uuid.UUID `json:"assessmentId" validate:"required"`
	CourseID  uuid.UUID `json:"courseId" validate:"required"`
	Title     string    `json:"title" validate:"required,max=200"`
	Questions string    `json:"questions"`
	MaxScore  int       `json:"maxScore" validate:"min=1"`
	Version   int       `json:"version" validate:"min=0"`
}

func (s *Service) UpdateAssessment(ctx context.Context, in UpdateAssessmentInput) (model.Assessment, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := s.check("update assessment", in); err != nil {
		return model.Assessment{}, err
	}
	var updated model.Assessment
	err := s.gateway.WithTx(ctx, func(q db.Queries) error {
		if _, err := q.GetCourse(ctx, in.CourseID); err != nil {
			return missingAsInvalid("update assessment", "course does not exist", err)
		}
		var err error
		updated, err = q.UpdateAssessment(ctx, model.Assessment{
			ID:        in.ID,
			CourseID:  in.CourseID,
			Title:     in.Title,
			Questions: in.Questions,
			MaxScore:  in.MaxScore,
		}, in.Version)
		return err
	})
	if err != nil {
		return model.Assessment{}, err
	}
	return updated, nil
}

func (s *Service) DeleteAssessment(ctx context.Context, id uuid.UUID) (cascade.Summary, error) {
	return s.cascade.DeleteAssessment(ctx, id)
}
