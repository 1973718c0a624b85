// ABOUTME: In-memory fan-out of conversation state snapshots to presentation layers
// ABOUTME: Latest-wins per subscriber so a slow reader skips intermediate states, never the last one

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/otto/internal/transcript"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Broadcaster publishes state snapshots to every subscriber. Publish never
// blocks: when a subscriber's buffer is full its oldest pending snapshot is
// discarded to make room, so the most recent state is always delivered.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[string]chan transcript.State // subID -> ch
	closed      bool
	done        chan struct{} // closed by Close
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan transcript.State),
		done:        make(chan struct{}),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber whose channel starts with initial.
// Returns the channel and a subscription ID for Unsubscribe. The
// subscription is cleaned up automatically when ctx is cancelled or the
// broadcaster is closed, whichever comes first.
func (b *Broadcaster) Subscribe(ctx context.Context, initial transcript.State) (<-chan transcript.State, string) {
	subID := uuid.New().String()
	ch := make(chan transcript.State, subscriberBufferSize)
	ch <- initial

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		select {
		case <-ctx.Done():
			b.Unsubscribe(subID)
		case <-b.done:
		}
	}()

	return ch, subID
}

// Publish sends st to all subscribers. Callers publish in mutation order;
// each subscriber gets its own copy.
func (b *Broadcaster) Publish(st transcript.State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, ch := range b.subscribers {
		snapshot := st.Clone()
		select {
		case ch <- snapshot:
			continue
		default:
		}

		// Full: drop the oldest pending snapshot and retry once
		select {
		case <-ch:
			b.logger.Debug("dropped stale snapshot for slow subscriber", "sub_id", subID)
		default:
		}
		select {
		case ch <- snapshot:
		default:
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, exists := b.subscribers[subID]
	if !exists {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
// Later subscriptions receive their initial snapshot on a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}
	b.closed = true
	close(b.done)

	b.logger.Debug("broadcaster closed")
}
