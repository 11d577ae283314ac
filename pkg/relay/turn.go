package relay

import (
	"context"
	"errors"
	"log/slog"

	"github.com/chatrelay/chatrelay/pkg/backend"
	"github.com/chatrelay/chatrelay/pkg/session"
)

// maxDispatchAttempts bounds the expired-session recovery: one initial
// dispatch plus at most one evict-and-recreate retry per turn.
const maxDispatchAttempts = 2

// TurnHandler orchestrates one inbound message: token fetch, session
// resolution, dispatch, and the single bounded retry when the backend
// reports the session expired.
type TurnHandler struct {
	tokens     backend.TokenProvider
	resolver   *Resolver
	dispatcher *Dispatcher
	store      session.Store
}

// NewTurnHandler creates a TurnHandler.
func NewTurnHandler(tokens backend.TokenProvider, resolver *Resolver, dispatcher *Dispatcher, store session.Store) *TurnHandler {
	return &TurnHandler{
		tokens:     tokens,
		resolver:   resolver,
		dispatcher: dispatcher,
		store:      store,
	}
}

// HandleTurn runs one inbound-message-to-reply cycle. A token failure is
// terminal with no backend calls at all. A dispatch that fails with
// backend.ErrSessionExpired triggers eviction of the stale entry and exactly
// one re-resolve/re-dispatch; a second expiry, or any other failure at any
// stage, is terminal for the turn.
func (h *TurnHandler) HandleTurn(ctx context.Context, conversationID, text string) (string, error) {
	credential, err := h.tokens.Token(ctx)
	if err != nil {
		slog.Error("Token acquisition failed", "conversation_id", conversationID, "error", err)
		return "", err
	}

	for attempt := 1; attempt <= maxDispatchAttempts; attempt++ {
		handle, err := h.resolver.Resolve(ctx, conversationID, credential)
		if err != nil {
			return "", err
		}

		reply, err := h.dispatcher.Send(ctx, credential, handle, text)
		if err == nil {
			return reply, nil
		}

		if errors.Is(err, backend.ErrSessionExpired) && attempt < maxDispatchAttempts {
			slog.Info("Backend session expired, recreating",
				"conversation_id", conversationID,
				"attempt", attempt,
			)
			if delErr := h.store.Delete(ctx, conversationID); delErr != nil {
				return "", delErr
			}
			h.dispatcher.Forget(handle)
			continue
		}

		slog.Error("Turn failed", "conversation_id", conversationID, "attempt", attempt, "error", err)
		return "", err
	}

	// Unreachable: the loop always returns on its final attempt.
	return "", backend.ErrDispatchFailed
}
