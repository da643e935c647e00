package mcp

import (
	"log/slog"
	"maps"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultServerURL is the evaluation server's WebSocket base URL. The
// conversation id is appended as the final path segment.
const DefaultServerURL = "ws://localhost:5001/ws"

// Settings holds the tunables of a Client. Zero fields take the defaults.
type Settings struct {
	ServerURL            string
	RequestTimeout       time.Duration
	HandshakeTimeout     time.Duration
	HeartbeatInterval    time.Duration
	HeartbeatStale       time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectFactor      float64
	MaxReconnectAttempts int
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		ServerURL:            DefaultServerURL,
		RequestTimeout:       DefaultRequestTimeout,
		HandshakeTimeout:     DefaultHandshakeTimeout,
		HeartbeatInterval:    DefaultHeartbeatInterval,
		HeartbeatStale:       DefaultHeartbeatStale,
		ReconnectBaseDelay:   DefaultReconnectBaseDelay,
		ReconnectFactor:      DefaultReconnectFactor,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.ServerURL == "" {
		s.ServerURL = d.ServerURL
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = d.RequestTimeout
	}
	if s.HandshakeTimeout <= 0 {
		s.HandshakeTimeout = d.HandshakeTimeout
	}
	if s.HeartbeatInterval <= 0 {
		s.HeartbeatInterval = d.HeartbeatInterval
	}
	if s.HeartbeatStale <= 0 {
		s.HeartbeatStale = 2 * s.HeartbeatInterval
	}
	if s.ReconnectBaseDelay <= 0 {
		s.ReconnectBaseDelay = d.ReconnectBaseDelay
	}
	if s.ReconnectFactor < 1 {
		s.ReconnectFactor = d.ReconnectFactor
	}
	if s.MaxReconnectAttempts <= 0 {
		s.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	return s
}

// Option is a functional option for configuring a Client
type Option func(*Client)

// WithClock sets the clock driving timeouts, reconnect delays and the heartbeat.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithLogger sets the logging sink.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithNotifier sets the user-facing error sink.
func WithNotifier(n Notifier) Option {
	return func(c *Client) { c.notifier = n }
}

// WithMetrics enables metric collection.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithContextStore sets the enrichment store read when building suggestions.
func WithContextStore(s *ContextStore) Option {
	return func(c *Client) { c.contextStore = s }
}

// WithStateListener registers an observer for state transitions. The
// listener must not call back into the client's Connect or Close.
func WithStateListener(l StateListener) Option {
	return func(c *Client) { c.listener = l }
}

// WithConversationID overrides the generated conversation id.
func WithConversationID(id string) Option {
	return func(c *Client) { c.conversationID = id }
}

// WithHeader sets extra headers sent on the opening handshake.
func WithHeader(h http.Header) Option {
	return func(c *Client) { c.header = h.Clone() }
}

// RequestOption configures a single request
type RequestOption func(*requestOptions)

type requestOptions struct {
	timeout  time.Duration
	metadata map[string]any
}

// WithTimeout overrides the reply deadline for one request.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) { o.timeout = d }
}

// WithMetadata attaches metadata to the request envelope.
func WithMetadata(md map[string]any) RequestOption {
	return func(o *requestOptions) {
		if o.metadata == nil {
			o.metadata = make(map[string]any, len(md))
		}
		maps.Copy(o.metadata, md)
	}
}
