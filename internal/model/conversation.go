// Package model defines data structures for the RentEase messaging API.
package model

import (
	"strings"
	"time"
)

// Role is the platform role of a signed-in user.
type Role string

const (
	RoleLandlord Role = "LANDLORD"
	RoleTenant   Role = "TENANT"
	RoleAdmin    Role = "ADMIN"
)

// Namespace returns the REST namespace serving the role's messaging endpoints.
// Admins have no messaging namespace.
func (r Role) Namespace() string {
	switch r {
	case RoleLandlord:
		return "landlord"
	case RoleTenant:
		return "tenant"
	default:
		return ""
	}
}

// RoleFromNamespace is the inverse of Role.Namespace.
func RoleFromNamespace(ns string) (Role, bool) {
	switch strings.ToLower(ns) {
	case "landlord":
		return RoleLandlord, true
	case "tenant":
		return RoleTenant, true
	default:
		return "", false
	}
}

// Participant identifies the other side of a conversation.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// MessageSnapshot is the denormalized last message shown in conversation lists.
type MessageSnapshot struct {
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Conversation is a thread between two users as seen by one of them.
type Conversation struct {
	ID          string           `json:"id"`
	Counterpart Participant      `json:"counterpart"`
	LastMessage *MessageSnapshot `json:"lastMessage,omitempty"`
	UnreadCount int              `json:"unreadCount"`
	IsInquiry   bool             `json:"isInquiry"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// CreateConversationRequest is the request to create or fetch a conversation.
type CreateConversationRequest struct {
	OtherUserID string `json:"otherUserId"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
}

// MessageStats summarizes a user's inbox.
type MessageStats struct {
	TotalConversations int `json:"totalConversations"`
	UnreadMessages     int `json:"unreadMessages"`
}

// TenantSummary is an entry of a landlord's active tenant roster.
type TenantSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	UnitID       string `json:"unitId,omitempty"`
	PropertyName string `json:"propertyName,omitempty"`
}

// ActiveTenantsResponse is the response for the active tenant roster.
type ActiveTenantsResponse struct {
	Tenants []TenantSummary `json:"tenants"`
}

// CanonicalID normalizes an identifier for comparison. Upstream records mix
// numeric and string keys, so every id is compared in this form.
func CanonicalID(id string) string {
	return strings.TrimSpace(id)
}

// SameID reports whether two identifiers refer to the same record.
func SameID(a, b string) bool {
	ca := CanonicalID(a)
	return ca != "" && ca == CanonicalID(b)
}

// Viewer is the authenticated user a request or session acts for.
type Viewer struct {
	UserID string
	Role   Role
}
