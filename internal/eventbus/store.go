package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// EventStore is an append-only event log
type EventStore interface {
	Append(subject, msgID string, data interface{}) error
	Read(subject string, limit int) ([]Event, error)
}

// Event wraps the payload with metadata
type Event struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Data      []byte    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// JetStreamStore appends events to one JetStream stream
type JetStreamStore struct {
	js       nats.JetStreamContext
	stream   string
	subjects []string

	once    sync.Once
	initErr error
}

// NewJetStreamStore creates a store for stream covering subjects (for example "readings.>")
func NewJetStreamStore(bus *Bus, stream string, subjects ...string) (*JetStreamStore, error) {
	if bus == nil || bus.js == nil {
		return nil, fmt.Errorf("JetStream context not initialized")
	}
	return &JetStreamStore{js: bus.js, stream: stream, subjects: subjects}, nil
}

func (s *JetStreamStore) ensureStream() error {
	s.once.Do(func() {
		_, err := s.js.StreamInfo(s.stream)
		if err == nil {
			return
		}
		if !errors.Is(err, nats.ErrStreamNotFound) {
			s.initErr = fmt.Errorf("stream info %s: %w", s.stream, err)
			return
		}
		_, err = s.js.AddStream(&nats.StreamConfig{
			Name:       s.stream,
			Subjects:   s.subjects,
			Storage:    nats.FileStorage,
			MaxAge:     30 * 24 * time.Hour,
			Duplicates: 2 * time.Minute,
		})
		if err != nil {
			s.initErr = fmt.Errorf("create stream %s: %w", s.stream, err)
		}
	})
	return s.initErr
}

// Append publishes data as JSON. msgID deduplicates redeliveries within the stream's window.
func (s *JetStreamStore) Append(subject, msgID string, data interface{}) error {
	if err := s.ensureStream(); err != nil {
		return err
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	var opts []nats.PubOpt
	if msgID != "" {
		opts = append(opts, nats.MsgId(msgID))
	}
	_, err = s.js.Publish(subject, payload, opts...)
	return err
}

// Read fetches up to limit stored events for subject
func (s *JetStreamStore) Read(subject string, limit int) ([]Event, error) {
	sub, err := s.js.SubscribeSync(subject, nats.BindStream(s.stream), nats.DeliverAll(), nats.AckNone())
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	var events []Event
	for limit <= 0 || len(events) < limit {
		msg, err := sub.NextMsg(100 * time.Millisecond)
		if errors.Is(err, nats.ErrTimeout) {
			break
		}
		if err != nil {
			return events, err
		}

		ts := time.Now()
		if meta, err := msg.Metadata(); err == nil {
			ts = meta.Timestamp
		}
		events = append(events, Event{
			ID:        msg.Header.Get(nats.MsgIdHdr),
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: ts,
		})
	}

	return events, nil
}
