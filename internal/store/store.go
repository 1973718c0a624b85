// ABOUTME: Store interface and data types for otto transcript persistence
// ABOUTME: Defines Conversation and the Store interface saving and loading conversation state

package store

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/2389/otto/internal/transcript"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrEmptyKey is returned when a conversation key is blank
var ErrEmptyKey = errors.New("conversation key required")

const (
	// defaultListLimit applies when ListConversations gets limit <= 0.
	defaultListLimit = 100
	maxListLimit     = 1000
	maxTitleRunes    = 60
)

// Conversation summarizes one saved conversation
type Conversation struct {
	Key          string
	Title        string // first user message, truncated
	Status       transcript.Status
	Error        string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store defines the interface for conversation persistence
type Store interface {
	// SaveConversation replaces everything stored under key with st.
	SaveConversation(ctx context.Context, key string, st transcript.State) error
	// LoadConversation returns the state saved under key, or ErrNotFound.
	LoadConversation(ctx context.Context, key string) (transcript.State, error)
	// ListConversations returns summaries, most recently updated first.
	ListConversations(ctx context.Context, limit int) ([]*Conversation, error)
	// DeleteConversation removes key and its messages, or returns ErrNotFound.
	DeleteConversation(ctx context.Context, key string) error

	// Close releases any resources held by the store
	Close() error
}

// titleOf derives a conversation title from its first user message.
func titleOf(msgs transcript.Transcript) string {
	for _, m := range msgs {
		if m.Role != transcript.RoleUser {
			continue
		}
		title := strings.Join(strings.Fields(m.Content), " ")
		if title == "" {
			continue
		}
		if utf8.RuneCountInString(title) <= maxTitleRunes {
			return title
		}
		return string([]rune(title)[:maxTitleRunes-1]) + "…"
	}
	return ""
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}
