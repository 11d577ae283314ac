package relay

import (
	"context"
	"sync"

	"github.com/chatrelay/chatrelay/pkg/backend"
)

// Dispatcher sends utterances to the backend, stamping each call with a
// monotonic per-session sequence number so two rapid sends on the same
// session can never collide.
type Dispatcher struct {
	backend backend.Client

	mu        sync.Mutex
	sequences map[string]int64
}

// NewDispatcher creates a Dispatcher over the given backend client.
func NewDispatcher(client backend.Client) *Dispatcher {
	return &Dispatcher{
		backend:   client,
		sequences: make(map[string]int64),
	}
}

// next returns the next sequence number for a session handle.
func (d *Dispatcher) next(sessionHandle string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sequences[sessionHandle]++
	return d.sequences[sessionHandle]
}

// Forget drops the sequence counter for a session handle. Invoked from the
// store's eviction callback (delete, sweep, overwrite) and directly on the
// mid-turn retry path, so dead handles do not accumulate.
func (d *Dispatcher) Forget(sessionHandle string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.sequences, sessionHandle)
}

// Send dispatches one utterance and returns the reply text. Error taxonomy
// passes through from the backend client unchanged.
func (d *Dispatcher) Send(ctx context.Context, credential, sessionHandle, text string) (string, error) {
	return d.backend.SendMessage(ctx, credential, sessionHandle, text, d.next(sessionHandle))
}
