package config

// loader.go - configuration loading.
//
// Precedence order (highest wins):
//   1. CLI flags bound with BindFlags
//   2. Environment variables (RELAYCHAT_SERVER_BACKLOG, ...)
//   3. The YAML config file
//   4. Defaults (defaults.go)

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	ncerr "relaychat/internal/errors"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "RELAYCHAT"

	// DefaultFileName is looked up in the working directory when no
	// --config is given.
	DefaultFileName = "relaychat.yaml"
)

// FlagKeys maps CLI flag names to config keys.
var FlagKeys = map[string]string{
	"admin-addr":      "server.admin_addr",
	"backlog":         "server.backlog",
	"poll-timeout":    "server.poll_timeout",
	"connect-timeout": "client.connect_timeout",
	"retries":         "client.retries",
	"verbose":         "log.verbose",
	"log-file":        "log.file",
	"plain":           "plain",
}

// Load resolves the configuration from defaults, the config file at path
// (or ./relaychat.yaml when path is empty and that file exists), the
// environment, and the flags in fs that FlagKeys names.  fs may be nil.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := BindFlags(v, fs); err != nil {
		return cfg, err
	}

	file, explicit := path, path != ""
	if !explicit {
		file = DefaultFileName
	}
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
		if explicit || !missing {
			return cfg, &ncerr.ConfigError{Field: "config", Value: file, Message: err.Error(),
				Hint: "create one with `relaychat config init`"}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// BindFlags binds every flag of fs listed in FlagKeys to its config key.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	if fs == nil {
		return nil
	}
	for name, key := range FlagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// setDefaults registers every key so env overrides reach Unmarshal.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("server.endpoint", cfg.Server.Endpoint)
	v.SetDefault("server.admin_addr", cfg.Server.AdminAddr)
	v.SetDefault("server.backlog", cfg.Server.Backlog)
	v.SetDefault("server.poll_timeout", cfg.Server.PollTimeout)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.max_message_size", cfg.Server.MaxMessageSize)
	v.SetDefault("server.breaker_failures", cfg.Server.BreakerFailures)
	v.SetDefault("server.breaker_reset", cfg.Server.BreakerReset)

	v.SetDefault("client.endpoint", cfg.Client.Endpoint)
	v.SetDefault("client.connect_timeout", cfg.Client.ConnectTimeout)
	v.SetDefault("client.read_timeout", cfg.Client.ReadTimeout)
	v.SetDefault("client.retries", cfg.Client.Retries)
	v.SetDefault("client.retry_delay", cfg.Client.RetryDelay)
	v.SetDefault("client.max_message_size", cfg.Client.MaxMessageSize)

	v.SetDefault("log.verbose", cfg.Log.Verbose)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("plain", cfg.Plain)
}

// WriteDefault writes the default configuration to path as YAML.  An
// existing file is only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return &ncerr.ConfigError{Field: "config", Value: path, Message: "already exists",
				Hint: "pass --force to overwrite it"}
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
