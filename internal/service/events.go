package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rentease/messaging/internal/model"
	"github.com/rentease/messaging/pkg/logger"
	"github.com/rentease/messaging/pkg/metrics"
)

// EventPublisher delivers domain events to the event stream.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *model.Event) (uint64, error)
}

// eventSink publishes events without failing the caller.
type eventSink struct {
	publisher EventPublisher
	logger    *logger.Logger
}

func (s eventSink) emit(ctx context.Context, eventType model.EventType, conversationID, messageID, actorID string) {
	if s.publisher == nil {
		return
	}

	event := &model.Event{
		ID:             uuid.Must(uuid.NewV7()).String(),
		Type:           eventType,
		ConversationID: conversationID,
		MessageID:      messageID,
		ActorID:        actorID,
		CreatedAt:      time.Now().UTC(),
	}

	_, err := s.publisher.PublishEvent(ctx, event)
	metrics.RecordEvent(string(eventType), err)
	if err != nil {
		s.logger.Warn("failed to publish event",
			zap.String("type", string(eventType)),
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}
}
