// Package events publishes result change notifications to a message broker.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"semaphore/coursework/internal/model"
)

type EventType string

const (
	ResultCreated EventType = "ResultCreated"
	ResultUpdated EventType = "ResultUpdated"
	ResultDeleted EventType = "ResultDeleted"
)

func (t EventType) Valid() bool {
	switch t {
	case ResultCreated, ResultUpdated, ResultDeleted:
		return true
	}
	return false
}

// Message property names.
const (
	PropEventType   = "EventType"
	PropContentType = "ContentType"
	contentTypeJSON = "application/json"
)

// ResultSnapshot is the event body: the result as it was when the write
// committed.
type ResultSnapshot struct {
	ResultID     uuid.UUID `json:"ResultId"`
	AssessmentID uuid.UUID `json:"AssessmentId"`
	UserID       uuid.UUID `json:"UserId"`
	Score        int       `json:"Score"`
	AttemptDate  time.Time `json:"AttemptDate"`
}

func SnapshotOf(r model.Result) ResultSnapshot {
	return ResultSnapshot{
		ResultID:     r.ID,
		AssessmentID: r.AssessmentID,
		UserID:       r.UserID,
		Score:        r.Score,
		AttemptDate:  r.AttemptDate,
	}
}

// Message is one broker record: an opaque body plus string properties.
type Message struct {
	Body       []byte
	Properties map[string]string
}

// Size is the number of bytes the message occupies in a batch.
func (m Message) Size() int {
	n := len(m.Body)
	for k, v := range m.Properties {
		n += len(k) + len(v)
	}
	return n
}

// NewMessage serializes the snapshot and tags it with the event type.
func NewMessage(snapshot ResultSnapshot, eventType EventType) (Message, error) {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return Message{}, fmt.Errorf("marshal result snapshot: %w", err)
	}
	return Message{
		Body: body,
		Properties: map[string]string{
			PropEventType:   string(eventType),
			PropContentType: contentTypeJSON,
		},
	}, nil
}
