package session

import "errors"

var (
	ErrEmptyMessage         = errors.New("message is empty")
	ErrSendInFlight         = errors.New("a send is already in flight for this conversation")
	ErrDeleteInFlight       = errors.New("a delete is already in flight for this message")
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrUnknownConversation  = errors.New("conversation is not in the session")
	ErrUnknownMessage       = errors.New("message is not in the active conversation")
	ErrInvalidCounterpart   = errors.New("invalid counterpart")
	ErrMalformedResponse    = errors.New("malformed response from messaging API")
)
