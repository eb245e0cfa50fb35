package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rentease/messaging/internal/model"
	"github.com/rentease/messaging/pkg/logger"
	"github.com/rentease/messaging/pkg/metrics"
)

// MaxMessageLength bounds message content in bytes.
const MaxMessageLength = 10000

// MessageService handles message operations.
type MessageService struct {
	conversationService *ConversationService
	events              eventSink
	logger              *logger.Logger

	messages     map[string][]*model.Message // conversation id -> ascending messages
	conversation map[string]string           // message id -> conversation id
	mu           sync.Mutex
}

// NewMessageService creates a new message service.
func NewMessageService(
	conversationService *ConversationService,
	publisher EventPublisher,
	log *logger.Logger,
) *MessageService {
	log = log.Named("messages")
	s := &MessageService{
		conversationService: conversationService,
		events:              eventSink{publisher: publisher, logger: log},
		logger:              log,
		messages:            make(map[string][]*model.Message),
		conversation:        make(map[string]string),
	}
	conversationService.OnDelete(s.dropConversation)
	return s
}

// List returns a conversation's messages in ascending order and marks the
// counterpart's messages read.
func (s *MessageService) List(ctx context.Context, viewer model.Viewer, conversationID string) ([]model.Message, error) {
	conversationID = model.CanonicalID(conversationID)
	if _, err := s.conversationService.authorize(viewer, conversationID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[conversationID]
	out := make([]model.Message, len(msgs))
	changed := false
	for i, msg := range msgs {
		if !msg.IsRead && !model.SameID(msg.SenderID, viewer.UserID) {
			msg.IsRead = true
			changed = true
		}
		out[i] = *msg
	}
	if changed {
		s.syncSummaryLocked(conversationID, time.Time{})
	}

	return out, nil
}

// Send appends a message. With a RecipientID the conversation is created (or
// found) first; the returned message's ConversationID is authoritative.
func (s *MessageService) Send(ctx context.Context, viewer model.Viewer, req *model.SendMessageRequest) (*model.Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, fmt.Errorf("content cannot be empty: %w", model.ErrInvalidArgument)
	}
	if len(content) > MaxMessageLength {
		return nil, fmt.Errorf("content exceeds maximum length: %w", model.ErrInvalidArgument)
	}

	hasConversation := model.CanonicalID(req.ConversationID) != ""
	hasRecipient := model.CanonicalID(req.RecipientID) != ""
	if hasConversation == hasRecipient {
		return nil, fmt.Errorf("exactly one of conversationId and recipientId is required: %w", model.ErrInvalidArgument)
	}

	conversationID := model.CanonicalID(req.ConversationID)
	if hasRecipient {
		conv, _, err := s.conversationService.CreateOrGet(ctx, viewer, req.RecipientID)
		if err != nil {
			return nil, err
		}
		conversationID = conv.ID
	} else if _, err := s.conversationService.authorize(viewer, conversationID); err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		SenderID:       model.CanonicalID(viewer.UserID),
		Content:        content,
		CreatedAt:      time.Now().UTC(),
		Status:         model.MessageActive,
	}

	s.mu.Lock()
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	s.conversation[msg.ID] = conversationID
	s.syncSummaryLocked(conversationID, msg.CreatedAt)
	out := *msg
	s.mu.Unlock()

	metrics.MessagesTotal.WithLabelValues(string(viewer.Role)).Inc()
	s.events.emit(ctx, model.EventMessageSent, conversationID, msg.ID, viewer.UserID)

	return &out, nil
}

// Delete deletes one of the viewer's own messages. An active message is soft
// deleted; deleting an already soft-deleted message purges it. The return
// value reports whether the message was purged.
func (s *MessageService) Delete(ctx context.Context, viewer model.Viewer, messageID string) (bool, error) {
	messageID = model.CanonicalID(messageID)

	s.mu.Lock()
	conversationID, ok := s.conversation[messageID]
	if !ok {
		s.mu.Unlock()
		return false, fmt.Errorf("message %s: %w", messageID, model.ErrNotFound)
	}
	if _, err := s.conversationService.authorize(viewer, conversationID); err != nil {
		s.mu.Unlock()
		return false, err
	}

	msgs := s.messages[conversationID]
	idx := -1
	for i, msg := range msgs {
		if msg.ID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false, fmt.Errorf("message %s: %w", messageID, model.ErrNotFound)
	}

	msg := msgs[idx]
	if !model.SameID(msg.SenderID, viewer.UserID) {
		s.mu.Unlock()
		return false, fmt.Errorf("only the sender may delete a message: %w", model.ErrForbidden)
	}

	permanent := msg.IsDeleted()
	if permanent {
		s.messages[conversationID] = append(msgs[:idx:idx], msgs[idx+1:]...)
		delete(s.conversation, messageID)
	} else {
		msg.Status = model.MessageSoftDeleted
		msg.Content = ""
	}
	s.syncSummaryLocked(conversationID, time.Time{})
	s.mu.Unlock()

	metrics.RecordMessageDeletion(permanent)
	eventType := model.EventMessageSoftDeleted
	if permanent {
		eventType = model.EventMessagePurged
	}
	s.events.emit(ctx, eventType, conversationID, messageID, viewer.UserID)

	s.logger.Debug("message deleted",
		zap.String("message_id", messageID),
		zap.Bool("permanent", permanent),
	)

	return permanent, nil
}

// syncSummaryLocked recomputes the conversation's last message and unread
// counters. Callers hold s.mu.
func (s *MessageService) syncSummaryLocked(conversationID string, touched time.Time) {
	msgs := s.messages[conversationID]

	var last *model.Message
	if n := len(msgs); n > 0 {
		last = msgs[n-1]
	}

	unread := make(map[string]int)
	participants, err := s.conversationService.participants(conversationID)
	if err != nil {
		return
	}
	for _, msg := range msgs {
		if msg.IsRead || msg.IsDeleted() {
			continue
		}
		for _, p := range participants {
			if !model.SameID(p, msg.SenderID) {
				unread[p]++
			}
		}
	}

	s.conversationService.updateSummary(conversationID, last, unread, touched)
}

func (s *MessageService) dropConversation(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range s.messages[conversationID] {
		delete(s.conversation, msg.ID)
	}
	delete(s.messages, conversationID)
}
