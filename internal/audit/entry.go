// internal/audit/entry.go
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what an audit entry describes.
type Kind string

const (
	KindSyncResult      Kind = "sync.result"
	KindFailoverRecord  Kind = "failover.record"
	KindTriggerDecision Kind = "failover.trigger"
	KindRegionChange    Kind = "region.change"
)

// Entry is an immutable audit record. Payload holds the JSON form of the
// subject at the moment it was appended.
type Entry struct {
	ID        uuid.UUID       `json:"id"`
	Kind      Kind            `json:"kind"`
	SubjectID string          `json:"subject_id"`
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEntry marshals payload and stamps a fresh ID and timestamp.
func NewEntry(kind Kind, subjectID, status string, payload interface{}) (Entry, error) {
	if kind == "" {
		return Entry{}, errors.New("audit: kind is required")
	}
	if subjectID == "" {
		return Entry{}, errors.New("audit: subject id is required")
	}

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Entry{}, fmt.Errorf("marshal payload: %w", err)
		}
		raw = data
	}

	return Entry{
		ID:        uuid.New(),
		Kind:      kind,
		SubjectID: subjectID,
		Status:    status,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}, nil
}

// Sink accepts audit entries. Implementations must not modify entries.
type Sink interface {
	Append(ctx context.Context, entry Entry) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, entry Entry) error

// Append calls f.
func (f SinkFunc) Append(ctx context.Context, entry Entry) error {
	return f(ctx, entry)
}

// Discard is a Sink that drops everything.
var Discard Sink = SinkFunc(func(context.Context, Entry) error { return nil })

// MultiSink fans an entry out to every sink and joins their errors.
type MultiSink []Sink

// Append writes to all sinks even if some fail.
func (m MultiSink) Append(ctx context.Context, entry Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
