package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/chatrelay/chatrelay/pkg/backend"
	"github.com/chatrelay/chatrelay/pkg/config"
	"github.com/chatrelay/chatrelay/pkg/relay"
	"github.com/chatrelay/chatrelay/pkg/server/httphandlers"
	"github.com/chatrelay/chatrelay/pkg/session"
)

// RelayServer wires the session store, backend client, and relay logic
// behind the webhook and streaming endpoints.
type RelayServer struct {
	config       *config.ServerConfig
	store        session.Store
	relayHandler *httphandlers.RelayHandler
	httpServer   *http.Server

	// User-provided router (optional)
	userRouter chi.Router

	// Store the handler for reuse
	internalHandler http.Handler
}

// RelayServerOption represents an option for the relay server
type RelayServerOption func(*RelayServer)

// WithRouter lets the caller provide a chi router to mount the relay routes
// on, for embedding the relay into an existing application.
func WithRouter(router chi.Router) RelayServerOption {
	return func(s *RelayServer) {
		s.userRouter = router
	}
}

// WithSessionStore overrides the config-selected session store.
func WithSessionStore(store session.Store) RelayServerOption {
	return func(s *RelayServer) {
		s.store = store
	}
}

// NewRelayServer creates a relay server from configuration.
func NewRelayServer(cfg *config.ServerConfig, options ...RelayServerOption) (*RelayServer, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	server := &RelayServer{
		config: cfg,
	}

	// Apply options
	for _, opt := range options {
		opt(server)
	}

	if server.store == nil {
		store, err := newStore(cfg)
		if err != nil {
			return nil, err
		}
		server.store = store
	}

	client := backend.NewClient(cfg.Backend, nil)
	tokens := backend.NewTokenProvider(cfg.Backend, nil)
	resolver := relay.NewResolver(server.store, client, "chatrelay")
	dispatcher := relay.NewDispatcher(client)
	turns := relay.NewTurnHandler(tokens, resolver, dispatcher, server.store)

	// Every eviction (explicit delete, sweep, overwrite) releases the
	// evicted handle's sequence counter.
	server.store.OnEvict(func(conversationID, handle string) {
		dispatcher.Forget(handle)
	})

	server.relayHandler = httphandlers.NewRelayHandler(cfg, tokens, client, resolver, turns, server.store)
	server.internalHandler = server.createHTTPHandler()

	return server, nil
}

// newStore builds the config-selected session store.
func newStore(cfg *config.ServerConfig) (session.Store, error) {
	if cfg.Session.UseInMemory {
		return session.NewMemoryStore(cfg.Session.Timeout, cfg.Session.SweepInterval), nil
	}
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis configuration is required when the in-memory store is disabled")
	}
	return session.NewRedisStore(
		cfg.Redis.Address,
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Session.KeyPrefix,
		cfg.Session.Timeout,
	)
}

// Start starts the HTTP server.
func (s *RelayServer) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.HTTP.Host, s.config.HTTP.Port)

	if s.userRouter != nil {
		slog.InfoContext(ctx, "Routes mounted on user-provided router, HTTP server will be started externally")
		return nil
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.internalHandler,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "HTTP server error", "error", err)
		}
	}()

	slog.InfoContext(ctx, "Relay server started", "addr", addr)
	return nil
}

// Stop shuts the HTTP server down and closes the session store.
func (s *RelayServer) Stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if s.httpServer != nil {
		slog.InfoContext(ctx, "Stopping HTTP server")
		if err := s.httpServer.Shutdown(ctx); err != nil {
			slog.Error("Failed to shutdown HTTP server", "err", err)
		}
	}

	if err := s.store.Close(); err != nil {
		slog.Error("Failed to close session store", "err", err)
	}
}

// ServeHTTP implements http.Handler, allowing the relay to be used directly
// as a handler.
func (s *RelayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.internalHandler.ServeHTTP(w, r)
}

// createHTTPHandler builds the router and registers the relay routes.
func (s *RelayServer) createHTTPHandler() http.Handler {
	var r chi.Router

	if s.userRouter != nil {
		r = s.userRouter
		slog.Info("Using user-provided chi router")
	} else {
		r = chi.NewRouter()

		r.Use(middleware.RequestID)
		r.Use(middleware.RealIP)
		r.Use(s.loggingMiddleware)
		r.Use(middleware.Recoverer)

		if s.config.HTTP.CORS.Enable {
			corsOptions := cors.Options{
				AllowedOrigins:   s.config.HTTP.CORS.AllowedOrigins,
				AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders:   s.config.HTTP.CORS.AllowedHeaders,
				ExposedHeaders:   s.config.HTTP.CORS.ExposedHeaders,
				AllowCredentials: s.config.HTTP.CORS.AllowCredentials,
				MaxAge:           int(s.config.HTTP.CORS.MaxAge.Seconds()),
			}
			r.Use(cors.Handler(corsOptions))
		}
	}

	r.Post(s.config.HTTP.WebhookPath, s.relayHandler.HandleWebhookPost)
	r.Get(s.config.HTTP.StreamPath, s.relayHandler.HandleStreamGet)

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *RelayServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		ctx := r.Context()
		latency := time.Since(start)
		slog.InfoContext(ctx, "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"latency", latency.String(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)
	})
}
