package model

import (
	"time"
)

// EventType represents the type of messaging event.
type EventType string

const (
	EventConversationCreated EventType = "conversation.created"
	EventConversationDeleted EventType = "conversation.deleted"
	EventMessageSent         EventType = "message.sent"
	EventMessageSoftDeleted  EventType = "message.soft_deleted"
	EventMessagePurged       EventType = "message.purged"
)

// Event records a state change in the messaging domain.
type Event struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId,omitempty"`
	ActorID        string    `json:"actorId"`
	CreatedAt      time.Time `json:"createdAt"`
	Sequence       uint64    `json:"sequence,omitempty"`
}
