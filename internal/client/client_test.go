package client

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaychat/internal/console"
	ncerr "relaychat/internal/errors"
	"relaychat/internal/server"
	"relaychat/internal/session"
	"relaychat/internal/transport"
)

// recorder is a concurrency-safe Sink.
type recorder struct {
	mu      sync.Mutex
	logs    []string
	prints  []string
	prompts []string
	closed  []string
}

func (r *recorder) Log(msg string)             { r.add(&r.logs, msg) }
func (r *recorder) Print(line string)          { r.add(&r.prints, line) }
func (r *recorder) UpdatePrompt(prompt string) { r.add(&r.prompts, prompt) }
func (r *recorder) PrepareClose(msg string)    { r.add(&r.closed, msg) }

func (r *recorder) add(dst *[]string, s string) {
	r.mu.Lock()
	*dst = append(*dst, s)
	r.mu.Unlock()
}

func (r *recorder) has(src *[]string, s string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range *src {
		if v == s {
			return true
		}
	}
	return false
}

func (r *recorder) prompt() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.prompts) == 0 {
		return ""
	}
	return r.prompts[len(r.prompts)-1]
}

func startServer(t *testing.T) *server.Server {
	t.Helper()
	srv := server.New(server.Options{PollTimeout: 20 * time.Millisecond, ReadTimeout: 50 * time.Millisecond}, nil)
	require.NoError(t, srv.Start(transport.FamilyInet, "127.0.0.1", "0"))
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func newClient(t *testing.T, opts Options) (*Client, *recorder) {
	t.Helper()
	rec := &recorder{}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 50 * time.Millisecond
	}
	c := New(opts, rec, nil)
	t.Cleanup(func() { c.Stop() })
	return c, rec
}

// connectAs starts a client and waits for its /youare push.
func connectAs(t *testing.T, srv *server.Server, nick string) (*Client, *recorder) {
	t.Helper()
	c, rec := newClient(t, Options{})
	require.NoError(t, c.Start(context.Background(), srv.Addr()))
	waitFor(t, func() bool { return rec.prompt() == "<"+nick+"> " })
	return c, rec
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}

func TestClient_ConnectAndJoin(t *testing.T) {
	srv := startServer(t)
	c, rec := connectAs(t, srv, "User1")

	assert.True(t, c.IsConnected())
	assert.False(t, c.HasChannel())
	assert.True(t, rec.has(&rec.logs, "Client connected on "+srv.Addr()))

	require.NoError(t, c.Send("/join lobby"))
	waitFor(t, func() bool { return rec.prompt() == "<User1@lobby> " })
	assert.True(t, rec.has(&rec.logs, "Joined channel lobby as admin successfully!"))
	assert.True(t, c.HasChannel())
	assert.True(t, c.Self().IsAdmin())
}

func TestClient_StartTwice(t *testing.T) {
	srv := startServer(t)
	c, _ := connectAs(t, srv, "User1")
	err := c.Start(context.Background(), srv.Addr())
	assert.ErrorIs(t, err, ncerr.ErrAlreadyConnected)
}

func TestClient_ChatAndMute(t *testing.T) {
	srv := startServer(t)
	c1, rec1 := connectAs(t, srv, "User1")
	c2, rec2 := connectAs(t, srv, "User2")

	require.NoError(t, c1.Send("/join lobby"))
	waitFor(t, c1.HasChannel)
	require.NoError(t, c2.Send("/join lobby"))
	waitFor(t, c2.HasChannel)

	require.NoError(t, c2.MessageServer("hello"))
	waitFor(t, func() bool { return rec1.has(&rec1.prints, "User2: hello") })

	require.NoError(t, c1.Send("/mute User2"))
	waitFor(t, c2.IsMuted)
	assert.True(t, rec2.has(&rec2.logs, "You have been muted!"))
	waitFor(t, func() bool { return rec1.has(&rec1.prints, "User2 has been muted in lobby") })

	require.NoError(t, c1.Send("/unmute User2"))
	waitFor(t, func() bool { return !c2.IsMuted() })
	assert.True(t, rec2.has(&rec2.logs, "You have been unmuted!"))

	require.NoError(t, c1.Send("/kick User2"))
	waitFor(t, func() bool { return !c2.HasChannel() })
	assert.True(t, rec2.has(&rec2.logs, "You have been kicked from your current channel!"))
	assert.Equal(t, "<User2> ", rec2.prompt())
}

func TestClient_ServerDisconnect(t *testing.T) {
	srv := startServer(t)
	c, rec := connectAs(t, srv, "User1")

	require.NoError(t, srv.Stop())
	waitFor(t, func() bool { return rec.has(&rec.closed, "Press any key to exit...") })
	assert.False(t, c.IsConnected())
	assert.True(t, rec.has(&rec.logs, "Server disconnected!"))
	assert.ErrorIs(t, c.Send("/ping"), ncerr.ErrNotConnected)
	assert.True(t, c.Self().Transport().Closed(), "socket released on disconnect")
	assert.Zero(t, c.Metrics().ActiveConnections())
}

func TestClient_ReconnectAfterDisconnect(t *testing.T) {
	srv := startServer(t)
	c, rec := connectAs(t, srv, "User1")
	first := c.Self()

	require.NoError(t, srv.Stop())
	waitFor(t, func() bool { return !c.IsConnected() })

	srv2 := startServer(t)
	require.NoError(t, c.Start(context.Background(), srv2.Addr()))
	waitFor(t, func() bool { return c.Self().Nickname() == "User1" })
	assert.True(t, rec.has(&rec.logs, "Client connected on "+srv2.Addr()))
	assert.NotSame(t, first, c.Self())
	assert.True(t, first.Transport().Closed())
	assert.Equal(t, int64(1), c.Metrics().ActiveConnections())
	assert.Equal(t, int64(2), c.Metrics().TotalConnections())
}

func TestClient_ConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	c, rec := newClient(t, Options{})
	err = c.Start(context.Background(), addr)
	require.Error(t, err)
	assert.ErrorIs(t, err, ncerr.ErrConnRefused)
	assert.False(t, c.IsConnected())
	assert.True(t, rec.has(&rec.logs, "Error connecting to "+addr+": connection refused"))
}

func TestClient_Unix(t *testing.T) {
	path := t.TempDir() + "/relay.sock"
	srv := server.New(server.Options{PollTimeout: 20 * time.Millisecond}, nil)
	require.NoError(t, srv.Start(transport.FamilyUnix, path, ""))
	defer srv.Stop()

	c, rec := newClient(t, Options{})
	require.NoError(t, c.Start(context.Background(), "unix:"+path))
	waitFor(t, func() bool { return rec.prompt() == "<User1> " })
}

// rawServer accepts one connection and records the lines it receives.
func rawServer(t *testing.T) (addr string, lines <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	out := make(chan string, 64)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			out <- sc.Text()
		}
	}()
	return ln.Addr().String(), out
}

func recv(t *testing.T, lines <-chan string) string {
	t.Helper()
	select {
	case l := <-lines:
		return l
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a line")
		return ""
	}
}

func TestClient_MessageServerChunks(t *testing.T) {
	addr, lines := rawServer(t)
	c, _ := newClient(t, Options{MaxMessageSize: 8})
	require.NoError(t, c.Start(context.Background(), addr))
	assert.Equal(t, "/whoami", recv(t, lines))

	payload := "abcdefghijklmnopqrst"
	require.NoError(t, c.MessageServer(payload))

	var got []string
	for i := 0; i < 3; i++ {
		l := recv(t, lines)
		require.True(t, strings.HasPrefix(l, "/m "), "got %q", l)
		got = append(got, strings.TrimPrefix(l, "/m "))
	}
	assert.Equal(t, []string{"abcdefgh", "ijklmnop", "qrst"}, got)
	assert.Equal(t, payload, strings.Join(got, ""))

	require.NoError(t, c.MessageServer("two\nlines"))
	assert.Equal(t, "/m two line", recv(t, lines))
	assert.Equal(t, "/m s", recv(t, lines))
}

func TestClient_HandlePush(t *testing.T) {
	rec := &recorder{}
	c := New(Options{}, rec, nil)
	self := session.New(nil, session.RoleLocal, "")

	steps := []struct {
		line    string
		check   func() bool
		logged  string
		printed string
	}{
		{line: "/youare alice", check: func() bool { return self.Nickname() == "alice" }},
		{line: "/joined lobby user", check: func() bool { return self.Channel() == "lobby" && !self.IsAdmin() },
			logged: "Joined channel lobby as user successfully!"},
		{line: "/joined lobby admin", check: self.IsAdmin},
		{line: "/muted", check: self.IsMuted, logged: "You have been muted!"},
		{line: "/msg bob hi there", check: func() bool { return true }, printed: "bob: hi there"},
		{line: "Error: you are muted in lobby", check: func() bool { return true }, printed: "Error: you are muted in lobby"},
		{line: "/unknown push", check: func() bool { return true }},
		{line: "/kicked", check: func() bool { return self.Channel() == "" && !self.IsAdmin() && !self.IsMuted() },
			logged: "You have been kicked from your current channel!"},
	}
	for _, st := range steps {
		c.handlePush(self, st.line)
		assert.True(t, st.check(), "after %q", st.line)
		if st.logged != "" {
			assert.True(t, rec.has(&rec.logs, st.logged), "log for %q", st.line)
		}
		if st.printed != "" {
			assert.True(t, rec.has(&rec.prints, st.printed), "print for %q", st.line)
		}
	}
	assert.Equal(t, "<alice> ", rec.prompt())
	assert.False(t, rec.has(&rec.prints, "/unknown push"))
}

func TestCommands_Guards(t *testing.T) {
	rec := &recorder{}
	c := New(Options{}, rec, nil)
	tbl := console.NewTable(rec)
	quit := false
	c.Register(context.Background(), tbl, func() { quit = true })

	tbl.Dispatch("/join")
	assert.True(t, rec.has(&rec.prints, "Try: /join <channel>"))

	tbl.Dispatch("/join lobby")
	assert.True(t, rec.has(&rec.logs, "You must be connected to use this command!"))

	tbl.Dispatch("hello")
	assert.True(t, rec.has(&rec.logs, "You must be connected to send messages!"))

	tbl.Dispatch("/connect")
	assert.True(t, rec.has(&rec.prints, "Try: /connect <address>"))

	tbl.Dispatch("/quit")
	assert.True(t, quit)
}

func TestCommands_Connected(t *testing.T) {
	srv := startServer(t)
	rec := &recorder{}
	c := New(Options{ReadTimeout: 50 * time.Millisecond}, rec, nil)
	defer c.Stop()
	tbl := console.NewTable(rec)
	c.Register(context.Background(), tbl, nil)

	tbl.Dispatch("/connect " + srv.Addr())
	require.True(t, c.IsConnected())
	waitFor(t, func() bool { return rec.prompt() == "<User1> " })

	tbl.Dispatch("/kick User2")
	assert.True(t, rec.has(&rec.logs, "You must be in a channel to use this command!"))
	tbl.Dispatch("hello")
	assert.True(t, rec.has(&rec.logs, "You must be in a channel to send messages!"))

	tbl.Dispatch("/nickname alice")
	waitFor(t, func() bool { return rec.prompt() == "<alice> " })
	tbl.Dispatch("/join lobby")
	waitFor(t, c.HasChannel)
	tbl.Dispatch("/ping")
	waitFor(t, func() bool { return rec.has(&rec.prints, "pong") })

	tbl.Dispatch("hello world")
	waitFor(t, func() bool { return rec.has(&rec.prints, "alice: hello world") })

	tbl.Dispatch("/quit")
	assert.False(t, c.IsConnected())
}
