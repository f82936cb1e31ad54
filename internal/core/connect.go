package core

import (
	"context"

	"github.com/rs/zerolog"

	"relaychat/internal/client"
	"relaychat/internal/console"
)

// ConnectMode runs the chat client behind a console.  With an Endpoint
// it connects straight away; otherwise the user types /connect.
type ConnectMode struct {
	Endpoint string
	Options  client.Options
	Plain    bool
	Logger   *zerolog.Logger

	stdio
}

// Run drives the console until the user quits, the server goes away, or
// ctx is cancelled.  The connection is closed when Run returns.
func (m *ConnectMode) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	con, _ := newConsole(m.Plain, m.stdio)
	cl := client.New(m.Options, con, m.Logger)
	cl.Register(ctx, con, con.Quit)
	defer cl.Stop() //nolint:errcheck

	// The TUI only accepts output once it is running.
	started := make(chan struct{})
	go func() {
		defer close(started)
		con.UpdatePrompt(console.DefaultPrompt)
		if m.Endpoint == "" {
			con.Log("Not connected, use /connect <address>")
			return
		}
		cl.Start(ctx, m.Endpoint) //nolint:errcheck
	}()

	err := con.Run(ctx)
	cancel()
	<-started
	return err
}
