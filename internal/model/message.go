package model

import (
	"time"
)

// DeletedPlaceholder is the text shown in place of a soft-deleted message.
// It is display text only; deletion is tracked by MessageStatus.
const DeletedPlaceholder = "This message was deleted"

// MessageStatus tracks the deletion tier of a message.
type MessageStatus string

const (
	MessageActive      MessageStatus = "active"
	MessageSoftDeleted MessageStatus = "deleted"
)

// Message is a single message in a conversation.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	Content        string        `json:"content"`
	CreatedAt      time.Time     `json:"createdAt"`
	IsRead         bool          `json:"isRead"`
	Status         MessageStatus `json:"status"`
}

// IsDeleted reports whether the message has been soft deleted.
func (m Message) IsDeleted() bool {
	return m.Status == MessageSoftDeleted
}

// DisplayContent returns the text a client should render for the message.
func (m Message) DisplayContent() string {
	if m.IsDeleted() {
		return DeletedPlaceholder
	}
	return m.Content
}

// Snapshot returns the list-display form of the message.
func (m Message) Snapshot() *MessageSnapshot {
	return &MessageSnapshot{
		Content:   m.DisplayContent(),
		CreatedAt: m.CreatedAt,
	}
}

// SendMessageRequest is the request to send a message. Exactly one of
// ConversationID and RecipientID is set; a RecipientID makes the server
// create the conversation with the first message.
type SendMessageRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	RecipientID    string `json:"recipientId,omitempty"`
	Content        string `json:"content"`
}

// SendMessageResponse is the response after sending a message. The message's
// ConversationID is authoritative.
type SendMessageResponse struct {
	Message *Message `json:"message"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
}

// DeleteMessageResponse reports which deletion tier the server applied.
type DeleteMessageResponse struct {
	PermanentlyDeleted bool `json:"permanentlyDeleted"`
}
