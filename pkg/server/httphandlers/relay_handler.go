package httphandlers

import (
	"github.com/chatrelay/chatrelay/pkg/backend"
	"github.com/chatrelay/chatrelay/pkg/config"
	"github.com/chatrelay/chatrelay/pkg/relay"
	"github.com/chatrelay/chatrelay/pkg/session"
)

// RelayHandler carries the shared dependencies of the relay's HTTP
// endpoints.
type RelayHandler struct {
	cfg      *config.ServerConfig
	tokens   backend.TokenProvider
	client   backend.Client
	resolver *relay.Resolver
	turns    *relay.TurnHandler
	store    session.Store
}

// NewRelayHandler creates the handler set for the relay endpoints.
func NewRelayHandler(
	cfg *config.ServerConfig,
	tokens backend.TokenProvider,
	client backend.Client,
	resolver *relay.Resolver,
	turns *relay.TurnHandler,
	store session.Store,
) *RelayHandler {
	return &RelayHandler{
		cfg:      cfg,
		tokens:   tokens,
		client:   client,
		resolver: resolver,
		turns:    turns,
		store:    store,
	}
}
