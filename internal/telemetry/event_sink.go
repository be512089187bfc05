package telemetry

import (
	"context"

	"github.com/arcana/api/internal/eventbus"
)

// Stream and subjects for reading telemetry on JetStream
const (
	EventStream   = "READINGS"
	EventSubjects = "readings.>"
)

// EventSink publishes records to the event store under readings.<status>
type EventSink struct {
	store eventbus.EventStore
}

func NewEventSink(store eventbus.EventStore) *EventSink {
	return &EventSink{store: store}
}

func (s *EventSink) Name() string { return "jetstream" }

func (s *EventSink) Emit(_ context.Context, rec Record) error {
	return s.store.Append(Subject(rec), rec.RequestID, rec)
}

// Subject returns the event subject for a record
func Subject(rec Record) string {
	return "readings." + string(rec.Status)
}
