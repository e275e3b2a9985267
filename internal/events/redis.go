package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Stream field names written by RedisBroker.
const (
	fieldEventType   = "event_type"
	fieldContentType = "content_type"
	fieldBody        = "body"
)

// RedisBroker delivers batches to a Redis stream. All messages of a batch
// are appended in one MULTI/EXEC so a batch lands entirely or not at all.
type RedisBroker struct {
	client   redis.UniversalClient
	stream   string
	maxLen   int64
	maxBytes int
}

// NewRedisBroker trims the stream to roughly maxLen entries on every append.
func NewRedisBroker(client redis.UniversalClient, stream string, maxLen int64, maxBytes int) *RedisBroker {
	return &RedisBroker{client: client, stream: stream, maxLen: maxLen, maxBytes: maxBytes}
}

func (b *RedisBroker) CreateBatch(context.Context) (Batch, error) {
	return NewSizedBatch(b.maxBytes), nil
}

func (b *RedisBroker) Send(ctx context.Context, batch Batch) error {
	sized, ok := batch.(*SizedBatch)
	if !ok {
		return fmt.Errorf("batch %T was not created by this broker", batch)
	}
	if sized.Len() == 0 {
		return nil
	}
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, msg := range sized.Messages() {
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: b.stream,
				MaxLen: b.maxLen,
				Approx: b.maxLen > 0,
				Values: streamValues(msg),
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("xadd %s: %w", b.stream, err)
	}
	return nil
}

func streamValues(msg Message) map[string]interface{} {
	values := map[string]interface{}{
		fieldBody: string(msg.Body),
	}
	for k, v := range msg.Properties {
		switch k {
		case PropEventType:
			values[fieldEventType] = v
		case PropContentType:
			values[fieldContentType] = v
		default:
			values[k] = v
		}
	}
	return values
}
