package events

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"semaphore/coursework/internal/apperr"
	"semaphore/coursework/internal/telemetry"
)

// Publisher turns result snapshots into single-message batches. One send
// attempt per call; no retries and no ordering across results.
type Publisher struct {
	broker  Broker
	log     zerolog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

// NewPublisher returns a Publisher sending through broker. A nil metrics
// disables instrumentation.
func NewPublisher(broker Broker, log zerolog.Logger, metrics *telemetry.Metrics) *Publisher {
	return &Publisher{
		broker:  broker,
		log:     telemetry.Component(log, "publisher"),
		metrics: metrics,
		tracer:  otel.Tracer(telemetry.TracerName),
	}
}

func (p *Publisher) Publish(ctx context.Context, snapshot ResultSnapshot, eventType EventType) (err error) {
	ctx, span := p.tracer.Start(ctx, "events.Publish", trace.WithAttributes(
		attribute.String("event.type", string(eventType)),
		attribute.String("result.id", snapshot.ResultID.String()),
	))
	size := 0
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(apperr.CodeOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		p.metrics.ObservePublish(string(eventType), outcome, size)
		span.End()
	}()

	if !eventType.Valid() {
		return apperr.Invalid("publish", "unknown event type "+string(eventType), nil)
	}
	msg, err := NewMessage(snapshot, eventType)
	if err != nil {
		return apperr.Invalid("publish", "unserializable snapshot", err)
	}
	size = msg.Size()

	batch, err := p.broker.CreateBatch(ctx)
	if err != nil {
		return apperr.PublishFailure("create batch", err)
	}
	if !batch.TryAdd(msg) {
		return apperr.EventTooLarge("publish", size, batch.MaxBytes())
	}
	if err := p.broker.Send(ctx, batch); err != nil {
		return apperr.PublishFailure("send batch", err)
	}
	p.log.Debug().
		Str("result_id", snapshot.ResultID.String()).
		Str("event_type", string(eventType)).
		Int("bytes", size).
		Msg("event published")
	return nil
}
