// Package gateway abstracts the external SMS messaging provider. The engine
// only ever sees conversations and messages; transport details stay here.
package gateway

import (
	"context"
	"errors"
	"time"
)

// Direction of a conversation message relative to the clinic.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// ErrSendFailed wraps any provider-side delivery failure. Callers treat it as
// recoverable: the local state change stands and the send is retried later.
var ErrSendFailed = errors.New("gateway: outbound send failed")

// ConversationMessage is the provider's view of one message. Read-only to
// this engine except for the resolvedBy linkage.
type ConversationMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Direction      Direction `json:"direction"`
	Type           string    `json:"type"`
	Index          int       `json:"index"`
	CreatedAt      time.Time `json:"createdAt"`
	ResolvedByRef  string    `json:"resolvedByRef,omitempty"`
	RespondsToRef  string    `json:"respondsToRef,omitempty"`
	Author         string    `json:"author,omitempty"`
	Body           string    `json:"body"`
}

// Sender pushes outbound messages into a conversation.
type Sender interface {
	SendMessage(ctx context.Context, conversationRef, body string) (messageRef string, err error)
}

// Reader lists a conversation's most recent messages, newest first.
type Reader interface {
	ListRecentMessages(ctx context.Context, conversationRef string, limit int) ([]ConversationMessage, error)
}

// Resolver stamps the outbound message that an inbound reply settled.
type Resolver interface {
	ResolveMessage(ctx context.Context, conversationRef, messageRef, resolvedByRef string) error
}

// Gateway is the full provider contract the engine depends on.
type Gateway interface {
	Sender
	Reader
	Resolver
}
