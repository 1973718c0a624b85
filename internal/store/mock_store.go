// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/2389/otto/internal/transcript"
)

// MockStore is an in-memory Store implementation for testing.
// Messages go through the same JSON encoding as SQLiteStore so both return
// the same shapes.
type MockStore struct {
	mu     sync.RWMutex
	convs  map[string]*mockConversation // keyed by conversation key
	now    func() time.Time
	closed bool
}

type mockConversation struct {
	meta     Conversation
	messages []byte // JSON-encoded transcript
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		convs: make(map[string]*mockConversation),
		now:   time.Now,
	}
}

// SaveConversation stores a copy of st under key.
func (m *MockStore) SaveConversation(ctx context.Context, key string, st transcript.State) error {
	if key == "" {
		return ErrEmptyKey
	}

	msgs := transcript.FinalizeStreaming(st.Messages)
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encoding messages: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	conv, ok := m.convs[key]
	if !ok {
		conv = &mockConversation{meta: Conversation{Key: key, CreatedAt: now}}
		m.convs[key] = conv
	}
	conv.meta.Title = titleOf(msgs)
	conv.meta.Status = st.Status
	conv.meta.Error = st.Error
	conv.meta.MessageCount = len(msgs)
	conv.meta.UpdatedAt = now
	conv.messages = data

	return nil
}

// LoadConversation returns a copy of the state saved under key.
func (m *MockStore) LoadConversation(ctx context.Context, key string) (transcript.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.convs[key]
	if !ok {
		return transcript.State{}, ErrNotFound
	}

	st := transcript.State{Status: conv.meta.Status, Error: conv.meta.Error}
	if err := json.Unmarshal(conv.messages, &st.Messages); err != nil {
		return transcript.State{}, fmt.Errorf("decoding messages: %w", err)
	}
	if len(st.Messages) == 0 {
		st.Messages = nil
	}
	return st, nil
}

// ListConversations returns summaries, most recently updated first.
func (m *MockStore) ListConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	convs := make([]*Conversation, 0, len(m.convs))
	for _, c := range m.convs {
		meta := c.meta
		convs = append(convs, &meta)
	}
	sort.Slice(convs, func(i, j int) bool {
		if !convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
		}
		return convs[i].Key < convs[j].Key
	})

	if limit = clampLimit(limit); len(convs) > limit {
		convs = convs[:limit]
	}
	return convs, nil
}

// DeleteConversation removes key.
func (m *MockStore) DeleteConversation(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.convs[key]; !ok {
		return ErrNotFound
	}
	delete(m.convs, key)
	return nil
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Compile-time interface checks
var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
