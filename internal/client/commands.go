package client

import (
	"context"
	"strings"

	"relaychat/internal/console"
	"relaychat/internal/protocol"
)

// command describes one client-side command: how many words it takes and
// what must hold before it is forwarded to the server.
type command struct {
	name        string
	usage       string
	hint        string
	arity       int
	needChannel bool
}

var forwarded = []command{
	{protocol.CmdNickname, "/nickname <nickname>", "This will change your current nickname", 2, false},
	{protocol.CmdJoin, "/join <channel>", "This will join you to a channel, creating it when it does not exist", 2, false},
	{protocol.CmdMute, "/mute <nickname>", "Only the channel admin can mute a member", 2, true},
	{protocol.CmdUnmute, "/unmute <nickname>", "Only the channel admin can unmute a member", 2, true},
	{protocol.CmdWhois, "/whois <nickname>", "Only the channel admin can see where a member connects from", 2, true},
	{protocol.CmdKick, "/kick <nickname>", "Only the channel admin can kick a member", 2, true},
	{protocol.CmdWhoami, "/whoami", "Shows your current nickname", 1, false},
	{protocol.CmdPing, "/ping", "Checks that the server is responsive", 1, false},
}

// Register installs the client's commands and chat handler on reg.  quit
// is called by /quit after the connection is closed.
func (c *Client) Register(ctx context.Context, reg console.Registrar, quit func()) {
	reg.RegisterCommand("/connect", func(args []string) error {
		if len(args) != 2 {
			c.usage("/connect <address>", "Use host[:port] or unix:/path/to/socket")
			return nil
		}
		// Start reports its own failures to the sink.
		c.Start(ctx, args[1]) //nolint:errcheck
		return nil
	})

	for _, cmd := range forwarded {
		cmd := cmd
		reg.RegisterCommand(cmd.name, func(args []string) error {
			if len(args) != cmd.arity {
				c.usage(cmd.usage, cmd.hint)
				return nil
			}
			if !c.requireConnected("use this command") {
				return nil
			}
			if cmd.needChannel && !c.requireChannel("use this command") {
				return nil
			}
			return c.Send(strings.Join(args, " "))
		})
	}

	reg.RegisterCommand("/quit", func([]string) error {
		if c.IsConnected() {
			c.Stop() //nolint:errcheck
		}
		if quit != nil {
			quit()
		}
		return nil
	})

	reg.SetMessageHandler(func(text string) {
		switch {
		case !c.requireConnected("send messages"):
		case !c.requireChannel("send messages"):
		case c.IsMuted():
			c.sink.Log("You are muted in this channel!")
		default:
			if err := c.MessageServer(text); err != nil {
				c.sink.Log("Failed to send message: " + err.Error())
			}
		}
	})
}

func (c *Client) usage(usage, hint string) {
	c.sink.Print("Try: " + usage)
	c.sink.Print("Hint: " + hint)
}

func (c *Client) requireConnected(what string) bool {
	if c.IsConnected() {
		return true
	}
	c.sink.Log("You must be connected to " + what + "!")
	return false
}

func (c *Client) requireChannel(what string) bool {
	if c.HasChannel() {
		return true
	}
	c.sink.Log("You must be in a channel to " + what + "!")
	return false
}
