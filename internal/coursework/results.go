package coursework

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"semaphore/coursework/internal/db"
	"semaphore/coursework/internal/events"
	"semaphore/coursework/internal/model"
)

type CreateResultInput struct {
	AssessmentID uuid.UUID `json:"assessmentId" validate:"required"`
	UserID       uuid.UUID `json:"userId" validate:"required"`
	Score        int       `json:"score" validate:"min=0"`
	// AttemptDate defaults to now.
	AttemptDate time.Time `json:"attemptDate"`
}

type UpdateResultInput struct {
	ID           uuid.UUID `json:"resultId" validate:"required"`
	AssessmentID uuid.UUID `json:"assessmentId" validate:"required"`
	UserID       uuid.UUID `json:"userId" validate:"required"`
	Score        int       `json:"score" validate:"min=0"`
	AttemptDate  time.Time `json:"attemptDate"`
	// Version is the version the caller last read; 0 overwrites regardless.
	Version int `json:"version" validate:"min=0"`
}

// CreateResult stores the result and publishes ResultCreated in the
// background. A failed publication is logged and does not affect the
// returned result.
func (s *Service) CreateResult(ctx context.Context, in CreateResultInput) (model.Result, error) {
	if err := s.check("create result", in); err != nil {
		return model.Result{}, err
	}
	if err := s.checkReferences(ctx, "create result", in.AssessmentID, in.UserID); err != nil {
		return model.Result{}, err
	}
	result := model.Result{
		ID:           uuid.New(),
		AssessmentID: in.AssessmentID,
		UserID:       in.UserID,
		Score:        in.Score,
		AttemptDate:  in.AttemptDate.UTC().Truncate(time.Millisecond),
		Version:      1,
	}
	if in.AttemptDate.IsZero() {
		result.AttemptDate = s.now()
	}
	if err := s.gateway.Queries().CreateResult(ctx, result); err != nil {
		return model.Result{}, err
	}
	s.publishDetached(ctx, events.SnapshotOf(result), events.ResultCreated)
	return result, nil
}

func (s *Service) GetResult(ctx context.Context, id uuid.UUID) (model.Result, error) {
	return s.gateway.Queries().GetResult(ctx, id)
}

// UpdateResult overwrites the result and publishes ResultUpdated before
// returning. When publication fails the error is returned together with the
// already committed result.
func (s *Service) UpdateResult(ctx context.Context, in UpdateResultInput) (model.Result, error) {
	if err := s.check("update result", in); err != nil {
		return model.Result{}, err
	}
	if err := s.checkReferences(ctx, "update result", in.AssessmentID, in.UserID); err != nil {
		return model.Result{}, err
	}
	attempt := in.AttemptDate.UTC().Truncate(time.Millisecond)
	if in.AttemptDate.IsZero() {
		attempt = s.now()
	}
	updated, err := s.gateway.Queries().UpdateResult(ctx, model.Result{
		ID:           in.ID,
		AssessmentID: in.AssessmentID,
		UserID:       in.UserID,
		Score:        in.Score,
		AttemptDate:  attempt,
	}, in.Version)
	if err != nil {
		return model.Result{}, err
	}
	if err := s.publisher.Publish(ctx, events.SnapshotOf(updated), events.ResultUpdated); err != nil {
		s.log.Error().Err(err).
			Str("result_id", updated.ID.String()).
			Str("event_type", string(events.ResultUpdated)).
			Msg("result updated but event not published")
		return updated, fmt.Errorf("result %s updated: %w", updated.ID, err)
	}
	return updated, nil
}

// DeleteResult removes the result and publishes ResultDeleted with the
// removed values in the background.
func (s *Service) DeleteResult(ctx context.Context, id uuid.UUID) error {
	var removed model.Result
	err := s.gateway.WithTx(ctx, func(q db.Queries) error {
		r, err := q.GetResult(ctx, id)
		if err != nil {
			return err
		}
		if err := q.DeleteResult(ctx, id); err != nil {
			return err
		}
		removed = r
		return nil
	})
	if err != nil {
		return err
	}
	s.publishDetached(ctx, events.SnapshotOf(removed), events.ResultDeleted)
	return nil
}

// ListResults returns every result, or only those for assessments of
// courses taught by one instructor.
func (s *Service) ListResults(ctx context.Context, instructorID *uuid.UUID) ([]model.Result, error) {
	return s.gateway.Queries().ListResults(ctx, nullableID(instructorID))
}

// ResultsByAssessment lists the results of one assessment.
func (s *Service) ResultsByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]model.Result, error) {
	q := s.gateway.Queries()
	if _, err := q.GetAssessment(ctx, assessmentID); err != nil {
		return nil, err
	}
	return q.ListResultsByAssessments(ctx, []uuid.UUID{assessmentID})
}

func (s *Service) ResultsByUser(ctx context.Context, userID uuid.UUID) ([]model.Result, error) {
	q := s.gateway.Queries()
	if _, err := q.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return q.ListResultsByUser(ctx, userID)
}

func (s *Service) checkReferences(ctx context.Context, op string, assessmentID, userID uuid.UUID) error {
	q := s.gateway.Queries()
	if _, err := q.GetAssessment(ctx, assessmentID); err != nil {
		return missingAsInvalid(op, "assessment does not exist", err)
	}
	if _, err := q.GetUser(ctx, userID); err != nil {
		return missingAsInvalid(op, "user does not exist", err)
	}
	return nil
}
