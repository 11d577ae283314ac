package session

import (
	"context"
	"time"
)

// Entry is one cached conversation session. The handle is issued by the
// backend and is opaque to the relay; it is never inspected, only passed
// through verbatim.
type Entry struct {
	Handle    string    `json:"handle"`
	LastTouch time.Time `json:"last_touch"`
}

// EvictFunc is notified after an entry leaves the store, with the
// conversation id and the handle that was evicted.
type EvictFunc func(conversationID, handle string)

// Store maps a conversation id to its live backend session entry.
type Store interface {
	// Get returns the entry for a conversation id. An entry past the store's
	// timeout is treated as absent even if it has not been swept yet. Get
	// never mutates the store.
	Get(ctx context.Context, conversationID string) (Entry, bool, error)

	// Put inserts or overwrites the entry, stamping LastTouch = now.
	Put(ctx context.Context, conversationID, handle string, now time.Time) error

	// Delete removes the entry unconditionally. Absent entries are not an error.
	Delete(ctx context.Context, conversationID string) error

	// Sweep deletes every entry with now - LastTouch > timeout and returns
	// the number removed.
	Sweep(ctx context.Context, now time.Time) (int, error)

	// OnEvict registers a callback invoked whenever an entry leaves the
	// store: explicit delete, sweep eviction, or overwrite by a Put carrying
	// a different handle. Lets per-handle state held elsewhere be released.
	// Must be registered before the store sees traffic.
	OnEvict(fn EvictFunc)

	// Close stops any background activity owned by the store.
	Close() error
}
