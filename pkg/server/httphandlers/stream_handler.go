package httphandlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/chatrelay/chatrelay/pkg/backend"
	"github.com/chatrelay/chatrelay/pkg/channels"
)

// HandleStreamGet resolves a session for the conversation and relays the
// backend's live event stream to the caller as server-sent events. The
// caller is programmatic, so failures surface as a structured error event
// rather than the user-facing status message.
func (h *RelayHandler) HandleStreamGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conversationID := r.URL.Query().Get("conversationId")
	message := r.URL.Query().Get("message")
	if conversationID == "" || message == "" {
		http.Error(w, "conversationId and message query parameters are required", http.StatusBadRequest)
		return
	}

	channel := channels.NewSSEChannel(w)

	credential, err := h.tokens.Token(ctx)
	if err != nil {
		h.closeWithError(ctx, channel, conversationID, err)
		return
	}

	handle, err := h.resolver.Resolve(ctx, conversationID, credential)
	if err != nil {
		h.closeWithError(ctx, channel, conversationID, err)
		return
	}

	onChunk := func(data string) {
		if err := channel.SendData(data); err != nil {
			slog.WarnContext(ctx, "Failed to relay stream chunk", "conversation_id", conversationID, "error", err)
		}
	}

	err = h.client.Stream(ctx, credential, handle, message, onChunk)
	if errors.Is(err, backend.ErrSessionExpired) {
		// Evict the stale entry and recreate once. Failures during this
		// fallback propagate to the caller.
		if delErr := h.store.Delete(ctx, conversationID); delErr != nil {
			h.closeWithError(ctx, channel, conversationID, delErr)
			return
		}
		handle, err = h.resolver.Resolve(ctx, conversationID, credential)
		if err != nil {
			h.closeWithError(ctx, channel, conversationID, err)
			return
		}
		err = h.client.Stream(ctx, credential, handle, message, onChunk)
	}
	if err != nil {
		h.closeWithError(ctx, channel, conversationID, err)
		return
	}

	if err := channel.SendDone(); err != nil {
		slog.WarnContext(ctx, "Failed to send done event", "conversation_id", conversationID, "error", err)
	}
}

func (h *RelayHandler) closeWithError(ctx context.Context, channel *channels.SSEChannel, conversationID string, err error) {
	slog.ErrorContext(ctx, "Stream failed", "conversation_id", conversationID, "error", err)
	if sendErr := channel.SendError(err.Error()); sendErr != nil {
		slog.WarnContext(ctx, "Failed to send error event", "conversation_id", conversationID, "error", sendErr)
	}
}
