package config

import (
	"errors"
	"strings"
	"testing"

	ncerr "relaychat/internal/errors"
)

// TestValidate_ErrorMessages verifies that Validate names the field and
// returns a typed error.
func TestValidate_ErrorMessages(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string // substring expected in error
	}{
		{"bad server endpoint", func(c *Config) { c.Server.Endpoint = "host:nope" }, "invalid port"},
		{"bad client endpoint", func(c *Config) { c.Client.Endpoint = "unix:" }, "socket path is empty"},
		{"admin addr", func(c *Config) { c.Server.AdminAddr = "8080" }, "server.admin_addr"},
		{"backlog", func(c *Config) { c.Server.Backlog = 0 }, "server.backlog"},
		{"poll timeout", func(c *Config) { c.Server.PollTimeout = 0 }, "hint:"},
		{"message size", func(c *Config) { c.Server.MaxMessageSize = 1 << 20 }, "server.max_message_size"},
		{"retries", func(c *Config) { c.Client.Retries = -1 }, "client.retries"},
		{"client larger than server", func(c *Config) { c.Client.MaxMessageSize = c.Server.MaxMessageSize + 1 }, "exceeds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			var ce *ncerr.ConfigError
			if !errors.As(err, &ce) {
				t.Errorf("error %T is not a ConfigError", err)
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantSub)
			}
		})
	}
}

func TestValidate_AdminAddr(t *testing.T) {
	cfg := Default()
	cfg.Server.AdminAddr = "127.0.0.1:8080"
	cfg.Client.Endpoint = "unix:/tmp/relay.sock"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
