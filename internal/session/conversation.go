package session

import (
	"time"

	"github.com/rentease/messaging/internal/model"
)

// Conversation is the session's view of a conversation.
type Conversation struct {
	Identity    Identity
	Counterpart model.Participant
	LastMessage *model.MessageSnapshot
	UnreadCount int
	IsInquiry   bool
	UpdatedAt   time.Time
}

// Key returns the conversation's local lookup key.
func (c Conversation) Key() string { return c.Identity.Key() }

func fromModel(c model.Conversation) Conversation {
	conv := Conversation{
		Identity:    PersistedIdentity(c.ID),
		Counterpart: c.Counterpart,
		UnreadCount: c.UnreadCount,
		IsInquiry:   c.IsInquiry,
		UpdatedAt:   c.UpdatedAt,
	}
	if c.LastMessage != nil {
		snap := *c.LastMessage
		conv.LastMessage = &snap
	}
	return conv
}

func (c Conversation) clone() Conversation {
	if c.LastMessage != nil {
		snap := *c.LastMessage
		c.LastMessage = &snap
	}
	return c
}

// Snapshot is a copy of the manager state, safe to read without locking.
type Snapshot struct {
	Conversations []Conversation
	Active        *Conversation
	Messages      []model.Message
	Draft         string
}
