package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relaychat.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Backlog != DefaultBacklog || cfg.Client.ConnectTimeout != DefaultConnectTimeout {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	if err == nil {
		t.Fatal("expected error for a missing --config file")
	}
	if !strings.Contains(err.Error(), "config init") {
		t.Errorf("error %q should carry a hint", err)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
server:
  endpoint: unix:/tmp/relay.sock
  poll_timeout: 2s
client:
  retries: 7
log:
  verbose: 2
`)
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Endpoint != "unix:/tmp/relay.sock" {
		t.Errorf("endpoint = %q", cfg.Server.Endpoint)
	}
	if cfg.Server.PollTimeout != 2*time.Second {
		t.Errorf("poll timeout = %v", cfg.Server.PollTimeout)
	}
	if cfg.Client.Retries != 7 || cfg.Log.Verbose != 2 {
		t.Errorf("client/log = %+v %+v", cfg.Client, cfg.Log)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Server.Backlog != DefaultBacklog {
		t.Errorf("backlog = %d", cfg.Server.Backlog)
	}
}

// TestLoad_Precedence checks defaults < file < env < flags.
func TestLoad_Precedence(t *testing.T) {
	path := writeFile(t, `
server:
  backlog: 32
  poll_timeout: 2s
  admin_addr: 127.0.0.1:1000
`)
	t.Setenv("RELAYCHAT_SERVER_POLL_TIMEOUT", "3s")
	t.Setenv("RELAYCHAT_SERVER_ADMIN_ADDR", "127.0.0.1:2000")

	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.String("admin-addr", "", "")
	fs.Int("backlog", DefaultBacklog, "")
	if err := fs.Parse([]string{"--admin-addr", "127.0.0.1:3000"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Backlog != 32 {
		t.Errorf("unchanged flag must not override the file: backlog = %d", cfg.Server.Backlog)
	}
	if cfg.Server.PollTimeout != 3*time.Second {
		t.Errorf("env must override the file: poll timeout = %v", cfg.Server.PollTimeout)
	}
	if cfg.Server.AdminAddr != "127.0.0.1:3000" {
		t.Errorf("flag must override env: admin addr = %q", cfg.Server.AdminAddr)
	}
}

func TestWriteDefault_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "relaychat.yaml")
	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	if err := WriteDefault(path, false); err == nil {
		t.Error("second write without force should fail")
	}
	if err := WriteDefault(path, true); err != nil {
		t.Errorf("forced write: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Errorf("round trip changed config:\n got %+v\nwant %+v", cfg, Default())
	}
}
