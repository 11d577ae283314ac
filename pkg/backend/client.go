package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tmaxmax/go-sse"

	"github.com/chatrelay/chatrelay/pkg/config"
)

// Client is the relay's view of the conversational-AI backend. Session
// handles are opaque strings issued by the backend and passed back verbatim.
type Client interface {
	// CreateSession creates a new backend session scoped to the given
	// external key and returns its handle.
	CreateSession(ctx context.Context, credential, externalKey string) (string, error)

	// SendMessage dispatches one utterance to a session and returns the first
	// reply message's text. sequence must be unique per call within a session.
	SendMessage(ctx context.Context, credential, sessionHandle, text string, sequence int64) (string, error)

	// Stream dispatches one utterance and relays the backend's live event
	// stream, invoking onChunk for every data chunk received. It returns nil
	// when the backend signals normal completion.
	Stream(ctx context.Context, credential, sessionHandle, text string, onChunk func(data string)) error
}

// httpBackend implements Client over the backend's REST/streaming API.
type httpBackend struct {
	cfg        config.BackendConfig
	httpClient *http.Client
}

// NewClient creates a backend client from configuration.
func NewClient(cfg config.BackendConfig, httpClient *http.Client) Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &httpBackend{cfg: cfg, httpClient: httpClient}
}

// createSessionRequest is the session-creation payload. The external key
// namespaces the conversation id on the backend side.
type createSessionRequest struct {
	ExternalKey string `json:"external_key"`
	Instance    string `json:"instance"`
	Streaming   bool   `json:"streaming"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

func (b *httpBackend) CreateSession(ctx context.Context, credential, externalKey string) (string, error) {
	payload := createSessionRequest{
		ExternalKey: externalKey,
		Instance:    b.cfg.Instance,
		Streaming:   true,
	}

	resp, err := b.postJSON(ctx, b.cfg.SessionURL, credential, payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("%w: unexpected status %d", ErrSessionCreationFailed, resp.StatusCode)
	}

	var body createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %v", ErrSessionCreationFailed, err)
	}
	if body.SessionID == "" {
		return "", fmt.Errorf("%w: response carried no session_id", ErrSessionCreationFailed)
	}

	slog.Debug("Created backend session", "external_key", externalKey)
	return body.SessionID, nil
}

type sendMessageRequest struct {
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"sequence"`
	Text      string `json:"text"`
}

type sendMessageResponse struct {
	Messages []struct {
		Text string `json:"text"`
	} `json:"messages"`
	Error string `json:"error,omitempty"`
}

// errorSessionNotFound is the body-level signal some backend deployments use
// instead of a 404 status.
const errorSessionNotFound = "session_not_found"

func (b *httpBackend) SendMessage(ctx context.Context, credential, sessionHandle, text string, sequence int64) (string, error) {
	payload := sendMessageRequest{
		SessionID: sessionHandle,
		Sequence:  sequence,
		Text:      text,
	}

	resp, err := b.postJSON(ctx, b.cfg.MessageURL, credential, payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: backend returned 404 for session", ErrSessionExpired)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: unexpected status %d", ErrDispatchFailed, resp.StatusCode)
	}

	var body sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %v", ErrMalformedResponse, err)
	}
	if body.Error == errorSessionNotFound {
		return "", fmt.Errorf("%w: backend reported absent session", ErrSessionExpired)
	}
	if body.Error != "" {
		return "", fmt.Errorf("%w: backend error %q", ErrDispatchFailed, body.Error)
	}
	if len(body.Messages) == 0 {
		return "", fmt.Errorf("%w: reply carried no messages", ErrMalformedResponse)
	}

	return body.Messages[0].Text, nil
}

type streamRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// Stream events carry chunk text in plain data events. The backend marks
// normal completion with "event: done" and failure with "event: error".
func (b *httpBackend) Stream(ctx context.Context, credential, sessionHandle, text string, onChunk func(data string)) error {
	body, err := json.Marshal(streamRequest{SessionID: sessionHandle, Text: text})
	if err != nil {
		return fmt.Errorf("%w: failed to marshal stream request: %v", ErrDispatchFailed, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, b.cfg.StreamURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: failed to create stream request: %v", ErrDispatchFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+credential)

	// A dedicated client with no overall timeout: the stream is long-lived.
	// Retrying a half-delivered stream would duplicate chunks, so the
	// connection is not retried.
	sseClient := &sse.Client{
		HTTPClient: &http.Client{},
		Backoff:    sse.Backoff{MaxRetries: -1},
		ResponseValidator: func(r *http.Response) error {
			if r.StatusCode == http.StatusNotFound {
				return ErrSessionExpired
			}
			return sse.DefaultValidator(r)
		},
	}
	conn := sseClient.NewConnection(req)

	var (
		finished  bool
		streamErr error
	)
	conn.SubscribeToAll(func(event sse.Event) {
		// Events already buffered when a terminal event lands must not leak
		// past it.
		if finished || streamErr != nil {
			return
		}
		switch event.Type {
		case "done":
			finished = true
			cancel()
		case "error":
			streamErr = fmt.Errorf("%w: backend stream error: %s", ErrDispatchFailed, event.Data)
			cancel()
		default:
			onChunk(event.Data)
		}
	})

	err = conn.Connect()

	switch {
	case streamErr != nil:
		return streamErr
	case finished:
		return nil
	case err == nil || errors.Is(err, io.EOF):
		return nil
	case errors.Is(err, ErrSessionExpired):
		return fmt.Errorf("%w: backend returned 404 for session", ErrSessionExpired)
	default:
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
}

// postJSON sends an authorized JSON POST and returns the raw response.
func (b *httpBackend) postJSON(ctx context.Context, endpoint, credential string, payload interface{}) (*http.Response, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	start := time.Now()
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %v", err)
	}
	slog.Debug("Backend call", "endpoint", endpoint, "status", resp.StatusCode, "latency", time.Since(start).String())

	return resp, nil
}

var _ Client = (*httpBackend)(nil)
