package core

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"relaychat/config"
	"relaychat/internal/client"
	"relaychat/internal/retry"
	"relaychat/internal/server"
)

// maxRetryDelay caps the backoff between connect attempts.
const maxRetryDelay = 5 * time.Second

// Build validates cfg and constructs the Mode for kind.
func Build(kind Kind, cfg *config.Config, logger *zerolog.Logger) (Mode, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	switch kind {
	case KindServe:
		return buildServe(cfg, logger)
	case KindConnect:
		return buildConnect(cfg, logger), nil
	}
	return nil, fmt.Errorf("unknown mode %d", kind)
}

// ── mode builders ────────────────────────────────────────────────────

func buildServe(cfg *config.Config, logger *zerolog.Logger) (Mode, error) {
	ep, err := config.ParseEndpoint(cfg.Server.Endpoint, config.DefaultPort)
	if err != nil {
		return nil, err
	}
	return &ServeMode{
		Endpoint: ep,
		Options: server.Options{
			MaxMessageSize: cfg.Server.MaxMessageSize,
			PollTimeout:    cfg.Server.PollTimeout,
			ReadTimeout:    cfg.Server.ReadTimeout,
			Backlog:        cfg.Server.Backlog,
			Breaker: &retry.CircuitBreakerConfig{
				MaxFailures:  cfg.Server.BreakerFailures,
				ResetTimeout: cfg.Server.BreakerReset,
				HalfOpenMax:  1,
			},
		},
		AdminAddr: cfg.Server.AdminAddr,
		Plain:     cfg.Plain,
		Logger:    logger,
	}, nil
}

func buildConnect(cfg *config.Config, logger *zerolog.Logger) Mode {
	return &ConnectMode{
		Endpoint: cfg.Client.Endpoint,
		Options: client.Options{
			Service:        config.DefaultPort,
			MaxMessageSize: cfg.Client.MaxMessageSize,
			ReadTimeout:    cfg.Client.ReadTimeout,
			ConnectTimeout: cfg.Client.ConnectTimeout,
			Backoff: &retry.Backoff{
				InitialDelay: cfg.Client.RetryDelay,
				MaxDelay:     maxRetryDelay,
				Multiplier:   2,
				MaxAttempts:  cfg.Client.Retries + 1,
				Jitter:       true,
			},
		},
		Plain:  cfg.Plain,
		Logger: logger,
	}
}
