package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds the configuration for the relay server
type ServerConfig struct {
	// HTTP server configuration
	HTTP HTTPConfig `yaml:"http"`

	// Backend holds the conversational-AI backend endpoints and credentials
	Backend BackendConfig `yaml:"backend"`

	// Session configuration
	Session SessionConfig `yaml:"session"`

	// Redis configuration for an externalized session store (optional)
	Redis *RedisConfig `yaml:"redis,omitempty"`

	// StatusMessage is the reply text delivered to the caller when a turn
	// fails for any reason
	StatusMessage string `yaml:"status_message"`
}

// HTTPConfig holds the HTTP server configuration
type HTTPConfig struct {
	// Host to bind to
	Host string `yaml:"host"`

	// Port to listen on
	Port int `yaml:"port"`

	// Path for the webhook (activity) endpoint
	WebhookPath string `yaml:"webhook_path"`

	// Path for the SSE streaming endpoint
	StreamPath string `yaml:"stream_path"`

	// CORS configuration
	CORS CORSConfig `yaml:"cors"`
}

// CORSConfig holds the CORS configuration
type CORSConfig struct {
	// Whether to enable CORS
	Enable bool `yaml:"enable"`

	// Allowed origins
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Allowed headers
	AllowedHeaders []string `yaml:"allowed_headers"`

	// Exposed headers
	ExposedHeaders []string `yaml:"exposed_headers"`

	// Allow credentials
	AllowCredentials bool `yaml:"allow_credentials"`

	// Max age
	MaxAge time.Duration `yaml:"max_age"`
}

// BackendConfig holds the conversational-AI backend configuration
type BackendConfig struct {
	// TokenURL is the endpoint exchanging client credentials for a bearer token
	TokenURL string `yaml:"token_url"`

	// SessionURL is the endpoint creating a new backend session
	SessionURL string `yaml:"session_url"`

	// MessageURL is the endpoint dispatching one message to a session
	MessageURL string `yaml:"message_url"`

	// StreamURL is the endpoint returning a live event stream for a message
	StreamURL string `yaml:"stream_url"`

	// ClientID identifies this relay to the backend
	ClientID string `yaml:"client_id"`

	// ClientSecret authenticates this relay to the backend. Overridable via
	// the CHATRELAY_CLIENT_SECRET environment variable so it can stay out of
	// config files.
	ClientSecret string `yaml:"client_secret"`

	// Instance is the backend instance name sent with session creation
	Instance string `yaml:"instance"`

	// RequestTimeout bounds the synchronous backend calls (token, session
	// create, message send). The streaming call is not subject to it.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// SessionConfig holds the session cache configuration
type SessionConfig struct {
	// Timeout is how long a session entry stays reusable after creation
	Timeout time.Duration `yaml:"timeout"`

	// SweepInterval is how often the background sweep runs
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// Whether to use the in-memory session store
	UseInMemory bool `yaml:"use_in_memory"`

	// Key prefix for externalized session storage
	KeyPrefix string `yaml:"key_prefix"`
}

// RedisConfig holds the Redis configuration
type RedisConfig struct {
	// Redis address
	Address string `yaml:"address"`

	// Redis password
	Password string `yaml:"password"`

	// Redis database
	DB int `yaml:"db"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		HTTP: HTTPConfig{
			Host:        "0.0.0.0",
			Port:        3978,
			WebhookPath: "/api/messages",
			StreamPath:  "/api/stream",
			CORS: CORSConfig{
				Enable:           false,
				AllowedOrigins:   []string{"*"},
				AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
				ExposedHeaders:   []string{},
				AllowCredentials: false,
				MaxAge:           300 * time.Second,
			},
		},
		Backend: BackendConfig{
			RequestTimeout: 30 * time.Second,
		},
		Session: SessionConfig{
			Timeout:       30 * time.Minute,
			SweepInterval: 1 * time.Minute,
			UseInMemory:   true,
			KeyPrefix:     "chatrelay:session:",
		},
		StatusMessage: "Sorry, something went wrong while talking to the assistant. Please try again.",
	}
}

// TestConfig returns a configuration suitable for testing
func TestConfig() *ServerConfig {
	cfg := DefaultConfig()
	cfg.Redis = nil
	cfg.Session.UseInMemory = true
	return cfg
}

// Load reads a YAML configuration file, layered over DefaultConfig, and
// applies environment overrides.
func Load(path string) (*ServerConfig, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides credential fields from the environment.
func (c *ServerConfig) applyEnv() {
	if v := os.Getenv("CHATRELAY_CLIENT_ID"); v != "" {
		c.Backend.ClientID = v
	}
	if v := os.Getenv("CHATRELAY_CLIENT_SECRET"); v != "" {
		c.Backend.ClientSecret = v
	}
	if v := os.Getenv("CHATRELAY_REDIS_PASSWORD"); v != "" && c.Redis != nil {
		c.Redis.Password = v
	}
}

// Validate checks the fields a running relay cannot do without.
func (c *ServerConfig) Validate() error {
	if c.Backend.TokenURL == "" {
		return fmt.Errorf("backend token_url is required")
	}
	if c.Backend.SessionURL == "" {
		return fmt.Errorf("backend session_url is required")
	}
	if c.Backend.MessageURL == "" {
		return fmt.Errorf("backend message_url is required")
	}
	if c.Backend.StreamURL == "" {
		return fmt.Errorf("backend stream_url is required")
	}
	if c.Session.Timeout <= 0 {
		return fmt.Errorf("session timeout must be positive")
	}
	if !c.Session.UseInMemory && c.Redis == nil {
		return fmt.Errorf("redis configuration is required when the in-memory store is disabled")
	}
	return nil
}
