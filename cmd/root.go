// Package cmd wires up the CLI and dispatches to the core modes.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"relaychat/config"
	"relaychat/internal/core"
	"relaychat/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X relaychat/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the selected relaychat command.
func Execute(ctx context.Context, args []string) error {
	root := newRootCmd(os.Stdout, os.Stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// globals holds the persistent flags that are not config keys.
type globals struct {
	configPath string
	dryRun     bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "relaychat",
		Short: "Multi-user channel chat over TCP or UNIX sockets",
		Long: `relaychat is a line-oriented chat server and client.

Clients join channels; the first member of a channel is its admin and
may /kick, /mute, /unmute and /whois the others.  Endpoints are written
host[:port] (default port ` + config.DefaultPort + `) or unix:/path/to/socket.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetGlobalNormalizationFunc(normalizeFlag)

	// ── persistent flags ─────────────────────────────────────────
	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "Config file (default ./"+config.DefaultFileName+" when present)")
	pf.CountP("verbose", "v", "Increase log verbosity (repeatable)")
	pf.String("log-file", "", "Write logs to this file")
	pf.Bool("plain", false, "Use the line console even on a terminal")
	pf.BoolVar(&g.dryRun, "dry-run", false, "Validate the configuration and exit")

	root.AddCommand(
		newServeCmd(g),
		newConnectCmd(g),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

// ── serve ────────────────────────────────────────────────────────────

func newServeCmd(g *globals) *cobra.Command {
	c := &cobra.Command{
		Use:   "serve [endpoint]",
		Short: "Run the chat server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, g, core.KindServe, args, func(cfg *config.Config, ep string) {
				cfg.Server.Endpoint = ep
			})
		},
	}
	fs := c.Flags()
	fs.String("admin-addr", "", "Serve read-only admin HTTP on host:port")
	fs.Int("backlog", config.DefaultBacklog, "Listen backlog")
	fs.Duration("poll-timeout", config.DefaultPollTimeout, "Readiness wait per listen-loop pass")
	return c
}

// ── connect ──────────────────────────────────────────────────────────

func newConnectCmd(g *globals) *cobra.Command {
	c := &cobra.Command{
		Use:   "connect [endpoint]",
		Short: "Run the chat client",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, g, core.KindConnect, args, func(cfg *config.Config, ep string) {
				cfg.Client.Endpoint = ep
			})
		},
	}
	fs := c.Flags()
	fs.Duration("connect-timeout", config.DefaultConnectTimeout, "Bound on each connect attempt")
	fs.Int("retries", config.DefaultRetries, "Extra connect attempts on refused or timed-out connects")
	return c
}

// run loads the configuration, builds the mode, and runs it.
func run(cmd *cobra.Command, g *globals, kind core.Kind, args []string, setEndpoint func(*config.Config, string)) error {
	cfg, err := config.Load(g.configPath, cmd.Flags())
	if err != nil {
		return err
	}
	if len(args) == 1 {
		setEndpoint(&cfg, args[0])
	}

	logger, closeLog, err := newLogger(&cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	mode, err := core.Build(kind, &cfg, logger)
	if err != nil {
		return err
	}
	if g.dryRun {
		ep := cfg.Server.Endpoint
		if kind == core.KindConnect {
			ep = cfg.Client.Endpoint
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s: configuration OK\n", kind, ep)
		return nil
	}

	logger.Info().Str("mode", kind.String()).Str("version", version).Msg("starting")
	return mode.Run(cmd.Context())
}

// newLogger sends logs to --log-file, or to stderr unless the
// full-screen console owns the terminal.
func newLogger(cfg *config.Config, stderr io.Writer) (*zerolog.Logger, func(), error) {
	if cfg.Log.File != "" {
		f, err := util.OpenLogFile(cfg.Log.File)
		if err != nil {
			return nil, nil, fmt.Errorf("log file: %w", err)
		}
		return util.NewLogger(cfg.Log.Verbose, f), func() { f.Close() }, nil
	}
	if core.Interactive(cfg.Plain, os.Stdin, os.Stdout) {
		return util.NewLogger(cfg.Log.Verbose, nil), func() {}, nil
	}
	return util.NewLogger(cfg.Log.Verbose, stderr), func() {}, nil
}

// ── config ───────────────────────────────────────────────────────────

func newConfigCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultFileName
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteDefault(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	c.AddCommand(initCmd)
	return c
}

// ── version ──────────────────────────────────────────────────────────

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "relaychat %s\n", version)
		},
	}
}

// normalizeFlag accepts config-style names such as --admin_addr.
func normalizeFlag(_ *flag.FlagSet, name string) flag.NormalizedName {
	return flag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}
