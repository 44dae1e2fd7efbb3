package velocity

import (
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/osprey-verify/internal/domain"
)

// MemoryStore keeps windows in process memory. Each account has its own
// lock, so different accounts never contend on the same window.
type MemoryStore struct {
	mu      sync.RWMutex
	windows map[string]*window
}

type window struct {
	mu   sync.Mutex
	ts   []time.Time
	head int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window)}
}

// Record implements WindowStore.
func (s *MemoryStore) Record(_ context.Context, accountID string, now time.Time, span time.Duration) (int, error) {
	w := s.window(accountID)

	w.mu.Lock()
	defer w.mu.Unlock()

	if n := len(w.ts); n > w.head && now.Before(w.ts[n-1]) {
		return w.len(), domain.ErrOutOfOrder
	}

	w.evict(now, span)
	w.ts = append(w.ts, now)
	return w.len(), nil
}

// Close drops all windows.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.windows = make(map[string]*window)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) window(accountID string) *window {
	s.mu.RLock()
	w, ok := s.windows[accountID]
	s.mu.RUnlock()
	if ok {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok = s.windows[accountID]; !ok {
		w = &window{}
		s.windows[accountID] = w
	}
	return w
}

func (w *window) len() int { return len(w.ts) - w.head }

// evict advances head past every timestamp older than span relative to now.
// The backing slice is compacted once the dead prefix outgrows the live part.
func (w *window) evict(now time.Time, span time.Duration) {
	for w.head < len(w.ts) && now.Sub(w.ts[w.head]) > span {
		w.head++
	}
	if w.head == len(w.ts) {
		w.ts = w.ts[:0]
		w.head = 0
		return
	}
	if w.head > 32 && w.head > w.len() {
		n := copy(w.ts, w.ts[w.head:])
		w.ts = w.ts[:n]
		w.head = 0
	}
}
