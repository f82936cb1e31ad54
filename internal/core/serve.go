package core

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"relaychat/config"
	"relaychat/internal/adminhttp"
	"relaychat/internal/console"
	"relaychat/internal/server"
	"relaychat/internal/transport"
	"relaychat/util"
)

// ServeMode runs the chat server with an operator console and, when
// AdminAddr is set, the read-only admin HTTP endpoint.
type ServeMode struct {
	Endpoint  config.Endpoint
	Options   server.Options
	AdminAddr string
	Plain     bool
	Logger    *zerolog.Logger

	stdio
}

// Run starts the server and serves until ctx is cancelled or the
// operator types /quit.  When the console input ends without /quit the
// server keeps running until ctx is cancelled.
func (m *ServeMode) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := server.New(m.Options, m.Logger)
	if err := srv.Start(m.Endpoint.Family, m.Endpoint.Address, m.Endpoint.Service); err != nil {
		return fmt.Errorf("listen on %s: %w", m.Endpoint, err)
	}
	defer srv.Stop() //nolint:errcheck

	if m.AdminAddr != "" {
		admin, err := adminhttp.Start(m.AdminAddr, srv, m.Logger)
		if err != nil {
			return fmt.Errorf("admin http on %s: %w", m.AdminAddr, err)
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer scancel()
			admin.Shutdown(sctx) //nolint:errcheck
		}()
	}

	con, interactive := newConsole(m.Plain, m.stdio)
	m.register(con, srv, func() {
		cancel()
		con.Quit()
	})

	// The TUI only accepts output once it is running.
	go func() {
		for _, a := range m.listenAddrs(srv) {
			con.Log("Server listening on " + a)
		}
		con.Log("Type /help for operator commands")
	}()

	if err := con.Run(ctx); err != nil {
		m.Logger.Warn().Err(err).Msg("console stopped")
	}
	if !interactive {
		<-ctx.Done()
	}
	return nil
}

func (m *ServeMode) listenAddrs(srv *server.Server) []string {
	if m.Endpoint.Family == transport.FamilyUnix {
		return []string{config.UnixPrefix + m.Endpoint.Address}
	}
	_, port, err := net.SplitHostPort(srv.Addr())
	if err != nil {
		return []string{srv.Addr()}
	}
	return util.ListenAddrs(m.Endpoint.Address, port)
}

// register installs the operator commands.
func (m *ServeMode) register(reg console.Console, srv *server.Server, quit func()) {
	reg.RegisterCommand("/stats", func([]string) error {
		for _, line := range strings.Split(srv.Metrics().JSON(), "\n") {
			reg.Print(line)
		}
		return nil
	})

	reg.RegisterCommand("/users", func([]string) error {
		users := srv.Users()
		if len(users) == 0 {
			reg.Log("No users connected")
			return nil
		}
		for _, u := range users {
			line := u.Nickname
			if u.Channel != "" {
				line += " in " + u.Channel
			}
			if u.Admin {
				line += " (admin)"
			}
			if u.Muted {
				line += " (muted)"
			}
			reg.Print(line)
		}
		return nil
	})

	reg.RegisterCommand("/channels", func([]string) error {
		chans := srv.Channels()
		if len(chans) == 0 {
			reg.Log("No channels")
			return nil
		}
		for _, ch := range chans {
			line := fmt.Sprintf("%s admin=%s members=%s", ch.Name, ch.Admin, strings.Join(ch.Members, ","))
			if len(ch.Muted) > 0 {
				line += " muted=" + strings.Join(ch.Muted, ",")
			}
			reg.Print(line)
		}
		return nil
	})

	reg.RegisterCommand("/quit", func([]string) error {
		reg.Log("Shutting down server...")
		quit()
		return nil
	})

	reg.SetMessageHandler(func(string) {
		reg.Log("The server console only takes commands, try /help")
	})
}
