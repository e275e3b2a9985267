package events

import (
	"context"
	"errors"
)

// Broker hands out batches and delivers them. Implementations must be safe
// for concurrent use.
type Broker interface {
	CreateBatch(ctx context.Context) (Batch, error)
	Send(ctx context.Context, batch Batch) error
}

// Batch accumulates messages up to a byte limit.
type Batch interface {
	// TryAdd appends msg and reports true, or reports false and leaves the
	// batch unchanged when msg does not fit.
	TryAdd(msg Message) bool
	Len() int
	// Size is the number of bytes used so far.
	Size() int
	// MaxBytes is the byte limit TryAdd enforces.
	MaxBytes() int
}

// SizedBatch is a Batch bounded by a fixed byte limit.
type SizedBatch struct {
	maxBytes int
	messages []Message
	size     int
}

func NewSizedBatch(maxBytes int) *SizedBatch {
	return &SizedBatch{maxBytes: maxBytes}
}

func (b *SizedBatch) TryAdd(msg Message) bool {
	n := msg.Size()
	if b.size+n > b.maxBytes {
		return false
	}
	b.messages = append(b.messages, msg)
	b.size += n
	return true
}

func (b *SizedBatch) Len() int {
	return len(b.messages)
}

func (b *SizedBatch) Size() int {
	return b.size
}

func (b *SizedBatch) MaxBytes() int {
	return b.maxBytes
}

func (b *SizedBatch) Messages() []Message {
	return b.messages
}

var errBrokerNotConfigured = errors.New("redis_not_configured")

// disabledBroker stands in when no broker address is configured. Every send
// fails, which the use cases either absorb or surface.
type disabledBroker struct {
	maxBytes int
}

func NewDisabledBroker(maxBytes int) Broker {
	return disabledBroker{maxBytes: maxBytes}
}

func (b disabledBroker) CreateBatch(context.Context) (Batch, error) {
	return NewSizedBatch(b.maxBytes), nil
}

func (disabledBroker) Send(context.Context, Batch) error {
	return errBrokerNotConfigured
}
