package channels

import (
	"fmt"
	"net/http"
)

// SSEChannel writes server-sent events to an HTTP response. The stream
// stays open until a terminal done or error event is sent.
type SSEChannel struct {
	w http.ResponseWriter
}

// NewSSEChannel prepares the response for event streaming and returns a
// channel over it.
func NewSSEChannel(w http.ResponseWriter) *SSEChannel {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Expose-Headers", "Content-Type")

	// Write the HTTP status before any data is written
	w.WriteHeader(http.StatusOK)

	return &SSEChannel{w: w}
}

// Send writes one event. An empty eventType emits a plain data event.
func (c *SSEChannel) Send(eventType, data string) error {
	if eventType != "" {
		if _, err := fmt.Fprintf(c.w, "event: %s\n", eventType); err != nil {
			return fmt.Errorf("error writing event type: %w", err)
		}
	}

	if _, err := fmt.Fprintf(c.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("error writing event data: %w", err)
	}

	if flusher, ok := c.w.(http.Flusher); ok {
		flusher.Flush()
		return nil
	}

	return fmt.Errorf("response writer does not support flushing")
}

// SendData writes one chunk as a plain data event.
func (c *SSEChannel) SendData(data string) error {
	return c.Send("", data)
}

// SendDone writes the terminal done event.
func (c *SSEChannel) SendDone() error {
	return c.Send("done", "")
}

// SendError writes the terminal error event carrying the failure detail.
func (c *SSEChannel) SendError(detail string) error {
	return c.Send("error", detail)
}
