// Package session keeps one signed-in user's conversation list and active
// thread in sync with the messaging API, reconciling optimistic local state
// against server responses.
package session

import (
	"context"

	"github.com/rentease/messaging/internal/model"
)

// API is the messaging backend. Every call honours ctx cancellation.
type API interface {
	ListConversations(ctx context.Context, role model.Role) ([]model.Conversation, error)
	MessageStats(ctx context.Context, role model.Role) (*model.MessageStats, error)
	CreateConversation(ctx context.Context, role model.Role, otherUserID string) (*model.Conversation, error)
	ListMessages(ctx context.Context, role model.Role, conversationID string) ([]model.Message, error)
	SendMessage(ctx context.Context, role model.Role, req *model.SendMessageRequest) (*model.Message, error)
	DeleteMessage(ctx context.Context, role model.Role, messageID string) (permanentlyDeleted bool, err error)
	DeleteConversation(ctx context.Context, role model.Role, conversationID string) error
	ActiveTenants(ctx context.Context) ([]model.TenantSummary, error)
}

// Viewer is the signed-in user the session belongs to. It is injected at
// construction; the manager never reads ambient auth state.
type Viewer = model.Viewer

// NoticeLevel classifies a user-visible notice.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeError
)

// Notice is a user-visible, toast-style notification.
type Notice struct {
	Level NoticeLevel
	Text  string
}

// Notifier receives user-visible notices. Implementations must not call back
// into the Manager synchronously.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Notice)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notice) { f(n) }

type discardNotifier struct{}

func (discardNotifier) Notify(Notice) {}
