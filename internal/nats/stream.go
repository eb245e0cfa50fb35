package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/rentease/messaging/internal/model"
)

const (
	// StreamName is the name of the messaging events stream.
	StreamName = "MESSAGING"

	// SubjectPrefix is the prefix for all messaging subjects.
	SubjectPrefix = "messaging"
)

// Publisher is the subset of JetStream used to publish events.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
	pub    Publisher
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client, pub: client.JetStream()}
}

// NewStreamManagerWithPublisher creates a stream manager that publishes
// through pub. EnsureStream is unavailable on such a manager.
func NewStreamManagerWithPublisher(pub Publisher) *StreamManager {
	return &StreamManager{pub: pub}
}

// EnsureStream ensures the messaging stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	if m.client == nil {
		return errors.New("stream manager has no client")
	}
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Conversation and message lifecycle events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EventSubject returns the subject for an event, e.g.
// messaging.<conversation>.message.sent.
func EventSubject(conversationID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, sanitizeToken(conversationID), eventType)
}

// ConversationFilter returns the filter subject for all events of a conversation.
func ConversationFilter(conversationID string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, sanitizeToken(conversationID))
}

// sanitizeToken keeps a subject token free of separators and wildcards.
func sanitizeToken(s string) string {
	s = model.CanonicalID(s)
	if s == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

// PublishEvent publishes an event to JetStream and returns its stream sequence.
func (m *StreamManager) PublishEvent(ctx context.Context, event *model.Event) (uint64, error) {
	subject := EventSubject(event.ConversationID, event.Type)

	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := m.pub.Publish(ctx, subject, data, jetstream.WithMsgID(event.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}

	event.Sequence = ack.Sequence
	return ack.Sequence, nil
}
