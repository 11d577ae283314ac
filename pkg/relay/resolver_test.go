package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/pkg/backend"
	"github.com/chatrelay/chatrelay/pkg/session"
)

func newTestResolver(t *testing.T, client backend.Client) (*Resolver, *session.MemoryStore) {
	t.Helper()

	store := session.NewMemoryStore(30*time.Minute, 0)
	t.Cleanup(func() { _ = store.Close() })

	return NewResolver(store, client, "chatrelay"), store
}

func TestResolveCreatesOnMiss(t *testing.T) {
	fake := &fakeBackend{}
	resolver, store := newTestResolver(t, fake)
	ctx := context.Background()

	handle, err := resolver.Resolve(ctx, "conv-1", "bearer-abc")
	require.NoError(t, err)
	assert.Equal(t, "handle-1", handle)
	assert.Equal(t, 1, fake.createCalls)

	entry, ok, err := store.Get(ctx, "conv-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "handle-1", entry.Handle)
}

func TestResolveReusesLiveEntry(t *testing.T) {
	fake := &fakeBackend{}
	resolver, _ := newTestResolver(t, fake)
	ctx := context.Background()

	first, err := resolver.Resolve(ctx, "conv-1", "bearer-abc")
	require.NoError(t, err)

	second, err := resolver.Resolve(ctx, "conv-1", "bearer-abc")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.createCalls, "cache hit must not call the backend")
}

func TestResolveDistinctConversations(t *testing.T) {
	fake := &fakeBackend{}
	resolver, _ := newTestResolver(t, fake)
	ctx := context.Background()

	h1, err := resolver.Resolve(ctx, "conv-1", "bearer-abc")
	require.NoError(t, err)
	h2, err := resolver.Resolve(ctx, "conv-2", "bearer-abc")
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
	assert.Equal(t, 2, fake.createCalls)
}

func TestResolveCreationFailureLeavesNoState(t *testing.T) {
	fake := &fakeBackend{createErr: backend.ErrSessionCreationFailed}
	resolver, store := newTestResolver(t, fake)
	ctx := context.Background()

	_, err := resolver.Resolve(ctx, "conv-1", "bearer-abc")
	require.Error(t, err)
	assert.True(t, errors.Is(err, backend.ErrSessionCreationFailed))

	_, ok, err := store.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, ok, "failed creation must not record a partial entry")
}

func TestResolveExternalKey(t *testing.T) {
	resolver, _ := newTestResolver(t, &fakeBackend{})
	assert.Equal(t, "chatrelay:conv-1", resolver.externalKey("conv-1"))
}
