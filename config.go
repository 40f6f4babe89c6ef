package netfield

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Defaults applied by Config.defaults.
const (
	DefaultTopic   = "#"
	DefaultService = "platformconnector"

	DefaultHeartbeatTimeout   = 30 * time.Second
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultCloseGrace         = 2 * time.Second
	DefaultShutdownGrace      = 200 * time.Millisecond
	DefaultUnsubscribeTimeout = 5 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultDialTimeout        = 15 * time.Second
	DefaultReadLimit          = 1 << 20
)

// ============================================================================
// Configuration
// ============================================================================

// Config parametrizes a Session.
type Config struct {
	// Endpoint is the WebSocket address, e.g. wss://api.netfield.io/v1.
	// http(s) URLs are accepted and rewritten.
	Endpoint string
	// Authorization is presented unchanged at every handshake.
	Authorization string
	DeviceID      string
	Topic         string
	Service       string

	// HeartbeatTimeout is the longest tolerated silence between server pings.
	HeartbeatTimeout time.Duration

	DisableAutoReconnect bool
	// MaxReconnectAttempts limits consecutive reconnects; 0 retries forever.
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration

	CloseGrace         time.Duration
	ShutdownGrace      time.Duration
	UnsubscribeTimeout time.Duration
	WriteTimeout       time.Duration
	DialTimeout        time.Duration

	ReadLimit  int64
	HTTPHeader http.Header
}

func (c *Config) defaults() {
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.Service == "" {
		c.Service = DefaultService
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.CloseGrace == 0 {
		c.CloseGrace = DefaultCloseGrace
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	if c.UnsubscribeTimeout == 0 {
		c.UnsubscribeTimeout = DefaultUnsubscribeTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = DefaultReadLimit
	}
}

// Validate checks required fields. It does not apply defaults.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("%w: missing endpoint", ErrInvalidConfig)
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("%w: endpoint: %v", ErrInvalidConfig, err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("%w: unsupported endpoint scheme %q", ErrInvalidConfig, u.Scheme)
	}
	if strings.TrimSpace(c.Authorization) == "" {
		return fmt.Errorf("%w: missing authorization", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.DeviceID) == "" {
		return fmt.Errorf("%w: missing device id", ErrInvalidConfig)
	}
	if c.HeartbeatTimeout < 0 {
		return fmt.Errorf("%w: negative heartbeat timeout", ErrInvalidConfig)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("%w: negative max reconnect attempts", ErrInvalidConfig)
	}
	return nil
}

// Target returns the subscription target described by c.
func (c *Config) Target() Target {
	return Target{DeviceID: c.DeviceID, Service: c.Service, Topic: c.Topic}
}

// ============================================================================
// Options
// ============================================================================

// Option customizes a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) { s.log = logger }
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithClock replaces the timer source.
func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithHTTPClient sets the HTTP client used for the WebSocket upgrade. The
// client must not set Timeout; DialTimeout bounds the handshake instead.
// Ignored when WithDialer is also given.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Session) { s.httpClient = client }
}

// WithClientID fixes the client id instead of generating one.
func WithClientID(id string) Option {
	return func(s *Session) { s.clientID = id }
}
