// ABOUTME: Size-bounded sliding window of recently seen keys
// ABOUTME: Expiry is lazy, driven by the injected clock; no background goroutine

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key string
	at  time.Time
}

// Window remembers keys for ttl after they were last seen, up to max keys.
// The oldest key is evicted first when full.
type Window struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	now     func() time.Time
	entries map[string]*list.Element
	order   *list.List // *entry, least recently seen at front
}

// New creates a window. max <= 0 means unbounded.
func New(ttl time.Duration, max int) *Window {
	return &Window{
		ttl:     ttl,
		max:     max,
		now:     time.Now,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// WithClock replaces the clock, for tests.
func (w *Window) WithClock(now func() time.Time) *Window {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.now = now
	return w
}

// Seen reports whether key was seen within the window, and records it as
// seen now either way. Check and record are atomic.
func (w *Window) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.expireLocked(now)

	if el, ok := w.entries[key]; ok {
		el.Value.(*entry).at = now
		w.order.MoveToBack(el)
		return true
	}

	if w.max > 0 && len(w.entries) >= w.max {
		w.removeLocked(w.order.Front())
	}
	w.entries[key] = w.order.PushBack(&entry{key: key, at: now})
	return false
}

// Forget drops key so its next Seen reports false.
func (w *Window) Forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if el, ok := w.entries[key]; ok {
		w.removeLocked(el)
	}
}

// Len returns the number of unexpired keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expireLocked(w.now())
	return len(w.entries)
}

// expireLocked drops keys older than ttl. The list is ordered by last seen
// time, so it stops at the first live entry.
func (w *Window) expireLocked(now time.Time) {
	for el := w.order.Front(); el != nil; el = w.order.Front() {
		if now.Sub(el.Value.(*entry).at) < w.ttl {
			return
		}
		w.removeLocked(el)
	}
}

func (w *Window) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	w.order.Remove(el)
	delete(w.entries, el.Value.(*entry).key)
}
