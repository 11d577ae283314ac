package relay

import (
	"context"
	"fmt"
	"sync"
)

// fakeTokens is a scripted TokenProvider.
type fakeTokens struct {
	token string
	err   error
	calls int
}

func (f *fakeTokens) Token(ctx context.Context) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

// fakeBackend is a scripted backend.Client counting its calls.
type fakeBackend struct {
	mu sync.Mutex

	createCalls int
	createErr   error

	sendCalls int
	// sendErrs is consumed one per SendMessage call; a nil entry (or running
	// past the end) means success.
	sendErrs  []error
	sendReply string

	// sentSequences records the sequence marker of every SendMessage call.
	sentSequences []int64
	// sentHandles records the session handle of every SendMessage call.
	sentHandles []string
}

func (f *fakeBackend) CreateSession(ctx context.Context, credential, externalKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	return fmt.Sprintf("handle-%d", f.createCalls), nil
}

func (f *fakeBackend) SendMessage(ctx context.Context, credential, sessionHandle, text string, sequence int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := f.sendCalls
	f.sendCalls++
	f.sentSequences = append(f.sentSequences, sequence)
	f.sentHandles = append(f.sentHandles, sessionHandle)

	if call < len(f.sendErrs) && f.sendErrs[call] != nil {
		return "", f.sendErrs[call]
	}
	return f.sendReply, nil
}

func (f *fakeBackend) Stream(ctx context.Context, credential, sessionHandle, text string, onChunk func(data string)) error {
	return nil
}
