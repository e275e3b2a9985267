// Package cascade removes a course or an assessment together with every row
// that references it, inside one transaction.
package cascade

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"semaphore/coursework/internal/apperr"
	"semaphore/coursework/internal/db"
	"semaphore/coursework/internal/model"
	"semaphore/coursework/internal/telemetry"
)

// Summary counts the rows removed per collection.
type Summary struct {
	Courses     int64 `json:"courses"`
	Assessments int64 `json:"assessments"`
	Results     int64 `json:"results"`
	Enrollments int64 `json:"enrollments"`
}

// Orchestrator runs cascading deletes against a Gateway.
type Orchestrator struct {
	gateway db.Gateway
	log     zerolog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

// New returns an Orchestrator over gateway. A nil metrics disables
// instrumentation.
func New(gateway db.Gateway, log zerolog.Logger, metrics *telemetry.Metrics) *Orchestrator {
	return &Orchestrator{
		gateway: gateway,
		log:     telemetry.Component(log, "cascade"),
		metrics: metrics,
		tracer:  otel.Tracer(telemetry.TracerName),
	}
}

// DeleteCourse removes the course, its assessments, their results and the
// course enrollments. Nothing is written when the course does not exist.
func (o *Orchestrator) DeleteCourse(ctx context.Context, courseID uuid.UUID) (Summary, error) {
	var summary Summary
	err := o.run(ctx, "course", courseID, func(q db.Queries) error {
		summary = Summary{}
		if _, err := q.LockCourse(ctx, courseID); err != nil {
			return err
		}

		assessments, err := q.ListAssessmentsByCourse(ctx, courseID)
		if err != nil {
			return err
		}
		assessmentIDs := model.AssessmentIDs(assessments)

		results, err := q.ListResultsByAssessments(ctx, assessmentIDs)
		if err != nil {
			return err
		}
		if summary.Results, err = q.DeleteResults(ctx, model.ResultIDs(results)); err != nil {
			return err
		}
		if summary.Assessments, err = q.DeleteAssessments(ctx, assessmentIDs); err != nil {
			return err
		}

		enrollments, err := q.ListEnrollmentsByCourse(ctx, courseID)
		if err != nil {
			return err
		}
		if summary.Enrollments, err = q.DeleteEnrollments(ctx, model.EnrollmentIDs(enrollments)); err != nil {
			return err
		}

		if err := q.DeleteCourse(ctx, courseID); err != nil {
			return err
		}
		summary.Courses = 1
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	o.record(summary)
	o.log.Info().
		Str("course_id", courseID.String()).
		Int64("assessments", summary.Assessments).
		Int64("results", summary.Results).
		Int64("enrollments", summary.Enrollments).
		Msg("course deleted")
	return summary, nil
}

// DeleteAssessment removes the assessment and its results. The owning
// course and sibling assessments are untouched.
func (o *Orchestrator) DeleteAssessment(ctx context.Context, assessmentID uuid.UUID) (Summary, error) {
	var summary Summary
	err := o.run(ctx, "assessment", assessmentID, func(q db.Queries) error {
		summary = Summary{}
		if _, err := q.LockAssessment(ctx, assessmentID); err != nil {
			return err
		}
		results, err := q.ListResultsByAssessments(ctx, []uuid.UUID{assessmentID})
		if err != nil {
			return err
		}
		if summary.Results, err = q.DeleteResults(ctx, model.ResultIDs(results)); err != nil {
			return err
		}
		if err := q.DeleteAssessment(ctx, assessmentID); err != nil {
			return err
		}
		summary.Assessments = 1
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	o.record(summary)
	o.log.Info().
		Str("assessment_id", assessmentID.String()).
		Int64("results", summary.Results).
		Msg("assessment deleted")
	return summary, nil
}

func (o *Orchestrator) run(ctx context.Context, root string, id uuid.UUID, fn func(db.Queries) error) error {
	ctx, span := o.tracer.Start(ctx, "cascade.Delete", trace.WithAttributes(
		attribute.String("cascade.root", root),
		attribute.String("cascade.id", id.String()),
	))
	defer span.End()
	start := time.Now()

	err := o.gateway.WithTx(ctx, fn)

	outcome := "ok"
	if err != nil {
		outcome = string(apperr.CodeOf(err))
		if outcome == "" {
			outcome = "error"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if apperr.CodeOf(err) != apperr.CodeNotFound {
			o.log.Warn().Err(err).Str("root", root).Str("id", id.String()).Msg("cascade delete failed")
		}
	}
	o.metrics.ObserveCascade(root, outcome, time.Since(start))
	return err
}

func (o *Orchestrator) record(s Summary) {
	o.metrics.AddCascadeRows("courses", s.Courses)
	o.metrics.AddCascadeRows("assessments", s.Assessments)
	o.metrics.AddCascadeRows("results", s.Results)
	o.metrics.AddCascadeRows("enrollments", s.Enrollments)
}
