package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/rentease/messaging/internal/model"
)

// MaxIDLength bounds path and body identifiers.
const MaxIDLength = 128

// MaxContentLength bounds message content in bytes.
const MaxContentLength = 10000

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("content cannot be empty")
	}
	if len(content) > MaxContentLength {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateID validates an opaque identifier. Ids are compared as canonical
// strings, so any non-empty printable value is accepted.
func ValidateID(kind, id string) error {
	id = model.CanonicalID(id)
	if id == "" {
		return errors.New(kind + " ID cannot be empty")
	}
	if len(id) > MaxIDLength {
		return errors.New(kind + " ID exceeds maximum length")
	}
	if strings.ContainsAny(id, "/\x00") || !utf8.ValidString(id) {
		return errors.New("invalid " + kind + " ID format")
	}
	return nil
}
