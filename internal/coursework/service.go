// Package coursework holds the use cases behind the HTTP API: users,
// courses, assessments, enrollments and results.
//
// Result creation and deletion publish their event in the background and
// only log a failed publication. Result updates publish inline and report a
// failed publication to the caller even though the row is already written.
package coursework

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"semaphore/coursework/internal/apperr"
	"semaphore/coursework/internal/cascade"
	"semaphore/coursework/internal/db"
	"semaphore/coursework/internal/events"
	"semaphore/coursework/internal/telemetry"
)

// EventPublisher is satisfied by *events.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, snapshot events.ResultSnapshot, eventType events.EventType) error
}

type Service struct {
	gateway   db.Gateway
	cascade   *cascade.Orchestrator
	publisher EventPublisher
	validate  *validator.Validate
	log       zerolog.Logger
	now       func() time.Time

	inflight sync.WaitGroup
}

type Option func(*Service)

// WithClock overrides the time source used for enrollment and attempt dates.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(gateway db.Gateway, orchestrator *cascade.Orchestrator, publisher EventPublisher, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		gateway:   gateway,
		cascade:   orchestrator,
		publisher: publisher,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		log:       telemetry.Component(log, "coursework"),
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Wait blocks until background publications finish or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) check(op string, input interface{}) error {
	if err := s.validate.Struct(input); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) {
			parts := make([]string, 0, len(fields))
			for _, f := range fields {
				parts = append(parts, f.Field()+":"+f.Tag())
			}
			return apperr.Invalid(op, "invalid "+strings.Join(parts, ","), err)
		}
		return apperr.Invalid(op, "invalid input", err)
	}
	return nil
}

// publishDetached sends the event after the request returns. The request
// context is only used for its values; cancellation does not reach the
// publication.
func (s *Service) publishDetached(ctx context.Context, snapshot events.ResultSnapshot, eventType events.EventType) {
	ctx = context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if err := s.publisher.Publish(ctx, snapshot, eventType); err != nil {
			s.log.Error().Err(err).
				Str("result_id", snapshot.ResultID.String()).
				Str("event_type", string(eventType)).
				Msg("result event not published")
		}
	}()
}

func nullableID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
