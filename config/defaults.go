package config

import (
	"time"

	"relaychat/internal/protocol"
)

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so the CLI flags, the config file and
// the environment agree on them.

const (
	// DefaultPort is the TCP port used when an endpoint names none.
	DefaultPort = protocol.DefaultPort

	// DefaultServerEndpoint listens on every interface.
	DefaultServerEndpoint = ":" + DefaultPort

	// DefaultBacklog is passed to listen.
	DefaultBacklog = 16

	// DefaultPollTimeout bounds one readiness wait of the listen loop.
	DefaultPollTimeout = 500 * time.Millisecond

	// DefaultServerReadTimeout bounds the read of one ready client.
	DefaultServerReadTimeout = 250 * time.Millisecond

	// DefaultBreakerFailures opens the accept breaker.
	DefaultBreakerFailures = 5

	// DefaultBreakerReset is how long the accept breaker stays open.
	DefaultBreakerReset = time.Second

	// DefaultConnectTimeout bounds one connect attempt.
	DefaultConnectTimeout = 5 * time.Second

	// DefaultClientReadTimeout bounds one wait of the client listen loop.
	DefaultClientReadTimeout = time.Second

	// DefaultRetries is how many extra connect attempts are made.
	DefaultRetries = 2

	// DefaultRetryDelay is the first backoff between attempts.
	DefaultRetryDelay = 250 * time.Millisecond

	// MaxMessageSizeLimit caps max_message_size.
	MaxMessageSizeLimit = 64 << 10
)

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Endpoint:        DefaultServerEndpoint,
			Backlog:         DefaultBacklog,
			PollTimeout:     DefaultPollTimeout,
			ReadTimeout:     DefaultServerReadTimeout,
			MaxMessageSize:  protocol.MaxMessageSize,
			BreakerFailures: DefaultBreakerFailures,
			BreakerReset:    DefaultBreakerReset,
		},
		Client: ClientConfig{
			ConnectTimeout: DefaultConnectTimeout,
			ReadTimeout:    DefaultClientReadTimeout,
			Retries:        DefaultRetries,
			RetryDelay:     DefaultRetryDelay,
			MaxMessageSize: protocol.MaxMessageSize,
		},
	}
}
