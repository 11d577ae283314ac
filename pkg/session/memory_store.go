package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryStore implements Store using an in-memory map guarded by an
// explicit mutex, shared between the request path and the periodic sweep.
type MemoryStore struct {
	entries    map[string]Entry
	mu         sync.RWMutex
	timeout    time.Duration
	sweepTimer *time.Ticker
	done       chan struct{}
	closeOnce  sync.Once
	onEvict    EvictFunc

	// now is replaceable in tests
	now func() time.Time
}

// NewMemoryStore creates a new in-memory session store and starts its
// background sweep. sweepInterval <= 0 disables the background sweep;
// expired entries are still invisible to Get.
func NewMemoryStore(timeout, sweepInterval time.Duration) *MemoryStore {
	store := &MemoryStore{
		entries: make(map[string]Entry),
		timeout: timeout,
		done:    make(chan struct{}),
		now:     time.Now,
	}

	if sweepInterval > 0 {
		store.sweepTimer = time.NewTicker(sweepInterval)
		go store.sweepLoop()
	}

	slog.Info("Created in-memory session store", "timeout", timeout, "sweep_interval", sweepInterval)
	return store
}

// sweepLoop periodically removes expired sessions
func (s *MemoryStore) sweepLoop() {
	for {
		select {
		case <-s.sweepTimer.C:
			removed, _ := s.Sweep(context.Background(), s.now())
			if removed > 0 {
				slog.Debug("Swept expired sessions", "removed", removed)
			}
		case <-s.done:
			s.sweepTimer.Stop()
			return
		}
	}
}

func (s *MemoryStore) expired(e Entry, now time.Time) bool {
	return now.Sub(e.LastTouch) > s.timeout
}

// OnEvict registers the eviction callback.
func (s *MemoryStore) OnEvict(fn EvictFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

// Get retrieves the entry for a conversation id, treating expired entries
// as absent.
func (s *MemoryStore) Get(ctx context.Context, conversationID string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.entries[conversationID]
	if !exists {
		return Entry{}, false, nil
	}
	if s.expired(entry, s.now()) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Put inserts or overwrites the entry for a conversation id. Overwriting
// with a different handle counts as an eviction of the old handle.
func (s *MemoryStore) Put(ctx context.Context, conversationID, handle string, now time.Time) error {
	s.mu.Lock()
	old, existed := s.entries[conversationID]
	s.entries[conversationID] = Entry{
		Handle:    handle,
		LastTouch: now,
	}
	fn := s.onEvict
	s.mu.Unlock()

	if existed && old.Handle != handle && fn != nil {
		fn(conversationID, old.Handle)
	}

	slog.Debug("Stored session", "conversation_id", conversationID)
	return nil
}

// Delete removes the entry for a conversation id.
func (s *MemoryStore) Delete(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	old, existed := s.entries[conversationID]
	delete(s.entries, conversationID)
	fn := s.onEvict
	s.mu.Unlock()

	if existed && fn != nil {
		fn(conversationID, old.Handle)
	}

	slog.Debug("Removed session", "conversation_id", conversationID)
	return nil
}

// Sweep removes every entry older than the timeout. Callbacks run after
// the lock is released.
func (s *MemoryStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	type evicted struct {
		conversationID string
		handle         string
	}

	s.mu.Lock()
	var removed []evicted
	for conversationID, entry := range s.entries {
		if s.expired(entry, now) {
			delete(s.entries, conversationID)
			removed = append(removed, evicted{conversationID, entry.Handle})
		}
	}
	fn := s.onEvict
	s.mu.Unlock()

	if fn != nil {
		for _, e := range removed {
			fn(e.conversationID, e.handle)
		}
	}
	return len(removed), nil
}

// Close stops the sweep goroutine.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return nil
}

var _ Store = (*MemoryStore)(nil)
