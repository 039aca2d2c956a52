// Package message provides the persistent chat message store.
//
// Messages live in channels, channels belong to networks. The store
// derives network_id from the channel at insert time so a message can
// never point at a channel in a different network.
package message

import (
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Content length bounds enforced on create and update.
// The messages table carries a matching CHECK constraint.
const (
	MinContentLength = 1
	MaxContentLength = 2000
)

var (
	// ErrChannelNotFound indicates the referenced channel does not exist.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrMessageNotFound indicates the referenced message does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrNotAuthor indicates an edit attempt by someone other than the
	// message author.
	ErrNotAuthor = errors.New("not the message author")

	// ErrInvalidContent indicates content outside the length bounds.
	ErrInvalidContent = errors.New("invalid message content")
)

// Meta carries message annotations stored as JSONB.
type Meta struct {
	// IsBot marks messages authored by the assistant.
	IsBot bool `json:"is_bot,omitempty"`

	// InResponseTo links a bot reply to the message that triggered it.
	InResponseTo *uuid.UUID `json:"in_response_to,omitempty"`
}

// Message is a chat message as stored.
type Message struct {
	ID        uuid.UUID  `json:"id"`
	ChannelID uuid.UUID  `json:"channel_id"`
	NetworkID uuid.UUID  `json:"network_id"`
	CreatedBy uuid.UUID  `json:"created_by"`
	Content   string     `json:"content"`
	Meta      Meta       `json:"meta"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Channel is a named room within a network.
type Channel struct {
	ID        uuid.UUID `json:"id"`
	NetworkID uuid.UUID `json:"network_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidateContent checks the message content length bounds.
// Length is counted in runes, matching the char_length CHECK in the schema.
func ValidateContent(content string) error {
	if n := utf8.RuneCountInString(content); n < MinContentLength || n > MaxContentLength {
		return ErrInvalidContent
	}
	return nil
}
