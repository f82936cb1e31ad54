// Package config defines the runtime configuration for relaychat and the
// endpoint syntax shared by the server and the client.
package config

import (
	"net"
	"strconv"
	"strings"
	"time"

	ncerr "relaychat/internal/errors"
	"relaychat/internal/transport"
)

// Config holds every tuneable for one relaychat process.
type Config struct {
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Client ClientConfig `mapstructure:"client" yaml:"client"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`

	// Plain forces the line console even on a terminal.
	Plain bool `mapstructure:"plain" yaml:"plain"`
}

// ServerConfig configures `relaychat serve`.
type ServerConfig struct {
	Endpoint       string        `mapstructure:"endpoint" yaml:"endpoint"`
	AdminAddr      string        `mapstructure:"admin_addr" yaml:"admin_addr"` // "" disables admin HTTP
	Backlog        int           `mapstructure:"backlog" yaml:"backlog"`
	PollTimeout    time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	MaxMessageSize int           `mapstructure:"max_message_size" yaml:"max_message_size"`

	// ── Accept-loop circuit breaker ──────────────────────────────────
	BreakerFailures int           `mapstructure:"breaker_failures" yaml:"breaker_failures"`
	BreakerReset    time.Duration `mapstructure:"breaker_reset" yaml:"breaker_reset"`
}

// ClientConfig configures `relaychat connect`.
type ClientConfig struct {
	Endpoint       string        `mapstructure:"endpoint" yaml:"endpoint"` // "" waits for /connect
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	Retries        int           `mapstructure:"retries" yaml:"retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	MaxMessageSize int           `mapstructure:"max_message_size" yaml:"max_message_size"`
}

// LogConfig controls diagnostic logging.
type LogConfig struct {
	Verbose int    `mapstructure:"verbose" yaml:"verbose"`
	File    string `mapstructure:"file" yaml:"file"`
}

// ── Endpoints ────────────────────────────────────────────────────────

// UnixPrefix marks a UNIX-domain socket path in an endpoint.
const UnixPrefix = "unix:"

// Endpoint is a parsed "host[:port]" or "unix:/path" string.
type Endpoint struct {
	Family  transport.Family
	Address string // host, or socket path for UNIX
	Service string // port; empty for UNIX
}

func (e Endpoint) String() string {
	if e.Family == transport.FamilyUnix {
		return UnixPrefix + e.Address
	}
	return net.JoinHostPort(e.Address, e.Service)
}

// ParseEndpoint accepts "unix:/path", "host", "host:port", ":port" and
// bracketed IPv6 forms.  A missing port becomes defaultService.
func ParseEndpoint(s, defaultService string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Endpoint{}, &ncerr.ConfigError{Field: "endpoint", Message: "is empty",
			Hint: "use host[:port] or unix:/path/to/socket"}
	}

	if path, ok := strings.CutPrefix(s, UnixPrefix); ok {
		if path == "" {
			return Endpoint{}, &ncerr.ConfigError{Field: "endpoint", Value: s, Message: "socket path is empty"}
		}
		return Endpoint{Family: transport.FamilyUnix, Address: path}, nil
	}

	host, port, err := net.SplitHostPort(s)
	if err != nil {
		// No port, or a bare IPv6 literal.
		host, port = strings.Trim(s, "[]"), ""
	}
	if port == "" {
		port = defaultService
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return Endpoint{}, &ncerr.ConfigError{Field: "endpoint", Value: s, Message: "invalid port " + strconv.Quote(port),
			Hint: "ports are numbers between 0 and 65535"}
	}
	return Endpoint{Family: transport.FamilyInet, Address: host, Service: port}, nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Server.Endpoint != "" {
		if _, err := ParseEndpoint(c.Server.Endpoint, DefaultPort); err != nil {
			return err
		}
	}
	if c.Client.Endpoint != "" {
		if _, err := ParseEndpoint(c.Client.Endpoint, DefaultPort); err != nil {
			return err
		}
	}
	if c.Server.AdminAddr != "" {
		if _, _, err := net.SplitHostPort(c.Server.AdminAddr); err != nil {
			return &ncerr.ConfigError{Field: "server.admin_addr", Value: c.Server.AdminAddr,
				Message: "is not host:port", Hint: "for example 127.0.0.1:8080, or leave empty to disable"}
		}
	}

	checks := []struct {
		field string
		value interface{}
		ok    bool
		hint  string
	}{
		{"server.backlog", c.Server.Backlog, c.Server.Backlog > 0, ""},
		{"server.poll_timeout", c.Server.PollTimeout, c.Server.PollTimeout > 0, "for example 500ms"},
		{"server.read_timeout", c.Server.ReadTimeout, c.Server.ReadTimeout > 0, "for example 250ms"},
		{"server.max_message_size", c.Server.MaxMessageSize, validSize(c.Server.MaxMessageSize), "between 1 and 65536"},
		{"server.breaker_failures", c.Server.BreakerFailures, c.Server.BreakerFailures > 0, ""},
		{"client.connect_timeout", c.Client.ConnectTimeout, c.Client.ConnectTimeout > 0, "for example 5s"},
		{"client.read_timeout", c.Client.ReadTimeout, c.Client.ReadTimeout > 0, "for example 1s"},
		{"client.retries", c.Client.Retries, c.Client.Retries >= 0, "0 disables retries"},
		{"client.max_message_size", c.Client.MaxMessageSize, validSize(c.Client.MaxMessageSize), "between 1 and 65536"},
		{"log.verbose", c.Log.Verbose, c.Log.Verbose >= 0, ""},
	}
	for _, ck := range checks {
		if !ck.ok {
			return &ncerr.ConfigError{Field: ck.field, Value: ck.value, Message: "out of range", Hint: ck.hint}
		}
	}
	if c.Client.MaxMessageSize > c.Server.MaxMessageSize {
		return &ncerr.ConfigError{Field: "client.max_message_size", Value: c.Client.MaxMessageSize,
			Message: "exceeds server.max_message_size", Hint: "the server rejects longer /m payloads"}
	}
	return nil
}

func validSize(n int) bool { return n > 0 && n <= MaxMessageSizeLimit }
