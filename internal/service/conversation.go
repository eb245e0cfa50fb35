package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rentease/messaging/internal/model"
	"github.com/rentease/messaging/pkg/logger"
	"github.com/rentease/messaging/pkg/metrics"
)

// conversationRecord is the stored form of a conversation.
type conversationRecord struct {
	ID           string
	Participants [2]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastMessage  *model.MessageSnapshot
	Unread       map[string]int
}

func (r *conversationRecord) has(userID string) bool {
	return model.SameID(r.Participants[0], userID) || model.SameID(r.Participants[1], userID)
}

func (r *conversationRecord) other(userID string) string {
	if model.SameID(r.Participants[0], userID) {
		return r.Participants[1]
	}
	return r.Participants[0]
}

func pairKey(a, b string) string {
	a, b = model.CanonicalID(a), model.CanonicalID(b)
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// ConversationService handles conversation operations.
type ConversationService struct {
	directory *Directory
	events    eventSink
	logger    *logger.Logger

	// In-memory storage; the platform database owns durable state.
	conversations map[string]*conversationRecord
	byPair        map[string]string
	onDelete      []func(conversationID string)
	mu            sync.RWMutex
}

// NewConversationService creates a new conversation service.
func NewConversationService(directory *Directory, publisher EventPublisher, log *logger.Logger) *ConversationService {
	log = log.Named("conversations")
	return &ConversationService{
		directory:     directory,
		events:        eventSink{publisher: publisher, logger: log},
		logger:        log,
		conversations: make(map[string]*conversationRecord),
		byPair:        make(map[string]string),
	}
}

// OnDelete registers a hook run after a conversation is deleted.
func (s *ConversationService) OnDelete(fn func(conversationID string)) {
	s.mu.Lock()
	s.onDelete = append(s.onDelete, fn)
	s.mu.Unlock()
}

// view renders a record from the viewer's side. Callers hold s.mu.
func (s *ConversationService) view(rec *conversationRecord, viewerID string) model.Conversation {
	other := rec.other(viewerID)
	conv := model.Conversation{
		ID:          rec.ID,
		Counterpart: s.directory.Participant(other),
		UnreadCount: rec.Unread[model.CanonicalID(viewerID)],
		IsInquiry:   !s.directory.HasActiveLease(rec.Participants[0], rec.Participants[1]),
		UpdatedAt:   rec.UpdatedAt,
	}
	if rec.LastMessage != nil {
		snap := *rec.LastMessage
		conv.LastMessage = &snap
	}
	return conv
}

// CreateOrGet returns the viewer's conversation with otherUserID, creating it
// when none exists. created reports whether a new conversation was made.
func (s *ConversationService) CreateOrGet(ctx context.Context, viewer model.Viewer, otherUserID string) (conv *model.Conversation, created bool, err error) {
	otherUserID = model.CanonicalID(otherUserID)
	if otherUserID == "" {
		return nil, false, fmt.Errorf("other user id is required: %w", model.ErrInvalidArgument)
	}
	if model.SameID(otherUserID, viewer.UserID) {
		return nil, false, fmt.Errorf("cannot start a conversation with yourself: %w", model.ErrInvalidArgument)
	}
	if _, ok := s.directory.User(otherUserID); !ok {
		return nil, false, fmt.Errorf("user %s: %w", otherUserID, model.ErrNotFound)
	}

	key := pairKey(viewer.UserID, otherUserID)

	s.mu.Lock()
	if id, ok := s.byPair[key]; ok {
		view := s.view(s.conversations[id], viewer.UserID)
		s.mu.Unlock()
		return &view, false, nil
	}

	now := time.Now().UTC()
	rec := &conversationRecord{
		ID:           uuid.Must(uuid.NewV7()).String(),
		Participants: [2]string{model.CanonicalID(viewer.UserID), otherUserID},
		CreatedAt:    now,
		UpdatedAt:    now,
		Unread:       make(map[string]int),
	}
	s.conversations[rec.ID] = rec
	s.byPair[key] = rec.ID
	view := s.view(rec, viewer.UserID)
	s.mu.Unlock()

	origin := "direct"
	if viewer.Role == model.RoleLandlord {
		origin = "landlord"
	}
	metrics.ConversationsTotal.WithLabelValues(origin).Inc()
	s.events.emit(ctx, model.EventConversationCreated, rec.ID, "", viewer.UserID)

	s.logger.Info("conversation created",
		zap.String("conversation_id", rec.ID),
		zap.String("user_id", viewer.UserID),
		zap.String("other_user_id", otherUserID),
	)

	return &view, true, nil
}

// Get retrieves a conversation the viewer participates in.
func (s *ConversationService) Get(ctx context.Context, viewer model.Viewer, conversationID string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.conversations[model.CanonicalID(conversationID)]
	if !ok || !rec.has(viewer.UserID) {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, model.ErrNotFound)
	}

	view := s.view(rec, viewer.UserID)
	return &view, nil
}

// List retrieves the viewer's conversations, most recently active first.
func (s *ConversationService) List(ctx context.Context, viewer model.Viewer) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	convs := make([]model.Conversation, 0)
	for _, rec := range s.conversations {
		if rec.has(viewer.UserID) {
			convs = append(convs, s.view(rec, viewer.UserID))
		}
	}

	sort.SliceStable(convs, func(i, j int) bool {
		if convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].ID > convs[j].ID
		}
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})

	return convs, nil
}

// Stats summarizes the viewer's inbox.
func (s *ConversationService) Stats(ctx context.Context, viewer model.Viewer) (*model.MessageStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &model.MessageStats{}
	viewerID := model.CanonicalID(viewer.UserID)
	for _, rec := range s.conversations {
		if rec.has(viewerID) {
			stats.TotalConversations++
			stats.UnreadMessages += rec.Unread[viewerID]
		}
	}
	return stats, nil
}

// Delete removes a conversation and its messages. Landlords may delete any of
// their conversations; tenants only inquiry threads.
func (s *ConversationService) Delete(ctx context.Context, viewer model.Viewer, conversationID string) error {
	conversationID = model.CanonicalID(conversationID)

	s.mu.Lock()
	rec, ok := s.conversations[conversationID]
	if !ok || !rec.has(viewer.UserID) {
		s.mu.Unlock()
		return fmt.Errorf("conversation %s: %w", conversationID, model.ErrNotFound)
	}

	switch viewer.Role {
	case model.RoleLandlord:
	case model.RoleTenant:
		if s.directory.HasActiveLease(rec.Participants[0], rec.Participants[1]) {
			s.mu.Unlock()
			return fmt.Errorf("tenants may only delete inquiry conversations: %w", model.ErrForbidden)
		}
	default:
		s.mu.Unlock()
		return fmt.Errorf("role %q may not delete conversations: %w", viewer.Role, model.ErrForbidden)
	}

	delete(s.conversations, conversationID)
	delete(s.byPair, pairKey(rec.Participants[0], rec.Participants[1]))
	hooks := append([]func(string){}, s.onDelete...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(conversationID)
	}

	metrics.ConversationsDeletedTotal.WithLabelValues(string(viewer.Role)).Inc()
	s.events.emit(ctx, model.EventConversationDeleted, conversationID, "", viewer.UserID)

	s.logger.Info("conversation deleted",
		zap.String("conversation_id", conversationID),
		zap.String("user_id", viewer.UserID),
	)

	return nil
}

// authorize returns the participants of a conversation the viewer belongs to.
func (s *ConversationService) authorize(viewer model.Viewer, conversationID string) ([2]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.conversations[model.CanonicalID(conversationID)]
	if !ok || !rec.has(viewer.UserID) {
		return [2]string{}, fmt.Errorf("conversation %s: %w", conversationID, model.ErrNotFound)
	}
	return rec.Participants, nil
}

// participants returns the two users of a conversation.
func (s *ConversationService) participants(conversationID string) ([2]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.conversations[conversationID]
	if !ok {
		return [2]string{}, fmt.Errorf("conversation %s: %w", conversationID, model.ErrNotFound)
	}
	return rec.Participants, nil
}

// updateSummary stores the denormalized last message and unread counters.
func (s *ConversationService) updateSummary(conversationID string, last *model.Message, unread map[string]int, touched time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.conversations[conversationID]
	if !ok {
		return
	}

	if last != nil {
		rec.LastMessage = last.Snapshot()
	} else {
		rec.LastMessage = nil
	}
	rec.Unread = unread
	if touched.After(rec.UpdatedAt) {
		rec.UpdatedAt = touched
	}
}
