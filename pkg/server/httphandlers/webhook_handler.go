package httphandlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// Activity is the minimal normalized shape of an inbound chat-platform
// activity. The platform SDK's full schema and authentication handshake sit
// in front of this endpoint; only the fields the relay needs are read here.
type Activity struct {
	Type         string `json:"type"`
	Text         string `json:"text"`
	Conversation struct {
		ID string `json:"id"`
	} `json:"conversation"`
}

// replyActivity is the outbound activity returned in the response body.
type replyActivity struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// HandleWebhookPost processes one inbound activity and returns the reply.
// Every turn failure is converted here into the configured status message;
// no error escapes to the transport layer.
func (h *RelayHandler) HandleWebhookPost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	turnID := uuid.New().String()

	var activity Activity
	if err := json.NewDecoder(r.Body).Decode(&activity); err != nil {
		slog.WarnContext(ctx, "Rejected malformed activity", "turn_id", turnID, "error", err)
		http.Error(w, "invalid activity payload", http.StatusBadRequest)
		return
	}

	if activity.Type != "message" {
		slog.DebugContext(ctx, "Ignoring non-message activity", "turn_id", turnID, "type", activity.Type)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if activity.Conversation.ID == "" {
		http.Error(w, "activity carried no conversation id", http.StatusBadRequest)
		return
	}

	reply, err := h.turns.HandleTurn(ctx, activity.Conversation.ID, activity.Text)
	if err != nil {
		slog.ErrorContext(ctx, "Turn failed",
			"turn_id", turnID,
			"conversation_id", activity.Conversation.ID,
			"error", err,
		)
		reply = h.cfg.StatusMessage
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(replyActivity{Type: "message", Text: reply}); err != nil {
		slog.ErrorContext(ctx, "Failed to write reply", "turn_id", turnID, "error", err)
	}
}
