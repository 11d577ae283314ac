package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/chatrelay/chatrelay/pkg/backend"
	"github.com/chatrelay/chatrelay/pkg/session"
)

// Resolver turns a conversation id into a usable backend session handle,
// reusing a live cached entry or creating a fresh session.
type Resolver struct {
	store     session.Store
	backend   backend.Client
	namespace string

	// now is replaceable in tests
	now func() time.Time
}

// NewResolver creates a Resolver. namespace prefixes the external key the
// backend receives for each conversation.
func NewResolver(store session.Store, client backend.Client, namespace string) *Resolver {
	return &Resolver{
		store:     store,
		backend:   client,
		namespace: namespace,
		now:       time.Now,
	}
}

// externalKey derives the backend-side key for a conversation id.
func (r *Resolver) externalKey(conversationID string) string {
	return r.namespace + ":" + conversationID
}

// Resolve returns a live session handle for the conversation. A cache hit
// makes no backend call. On a miss the new entry is stored only after the
// backend creation succeeds, so no partial state is recorded.
func (r *Resolver) Resolve(ctx context.Context, conversationID, credential string) (string, error) {
	entry, ok, err := r.store.Get(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if ok {
		slog.Debug("Session cache hit", "conversation_id", conversationID)
		return entry.Handle, nil
	}

	handle, err := r.backend.CreateSession(ctx, credential, r.externalKey(conversationID))
	if err != nil {
		return "", err
	}

	if err := r.store.Put(ctx, conversationID, handle, r.now()); err != nil {
		return "", err
	}

	slog.Info("Created session", "conversation_id", conversationID)
	return handle, nil
}
