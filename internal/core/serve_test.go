package core

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"relaychat/config"
	"relaychat/internal/server"
	"relaychat/internal/transport"
	"relaychat/util"
)

func serveMode(t *testing.T, in io.Reader, out io.Writer) (*ServeMode, string) {
	t.Helper()
	port, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	m := &ServeMode{
		Endpoint: config.Endpoint{Family: transport.FamilyInet, Address: "127.0.0.1", Service: fmt.Sprint(port)},
		Options:  server.Options{PollTimeout: 20 * time.Millisecond, ReadTimeout: 50 * time.Millisecond},
		Plain:    true,
		Logger:   util.NewLogger(0, nil),
	}
	m.Stdin, m.Stdout = in, out
	return m, fmt.Sprintf("127.0.0.1:%d", port)
}

// TestServeMode_OperatorCommands drives the operator console while a raw
// client sits in a channel.
func TestServeMode_OperatorCommands(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	out := &syncBuffer{}
	mode, addr := serveMode(t, pr, out)

	errc := make(chan error, 1)
	go func() { errc <- mode.Run(context.Background()) }()
	waitOutput(t, out, "LOG: Server listening on "+addr)

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	r := bufio.NewReader(conn)
	fmt.Fprint(conn, "/whoami\n/join lobby\n")
	for _, want := range []string{"/youare User1\n", "/joined lobby admin\n"} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
		if got, err := r.ReadString('\n'); err != nil || got != want {
			t.Fatalf("got %q (%v), want %q", got, err, want)
		}
	}

	fmt.Fprintln(pw, "/users")
	waitOutput(t, out, "User1 in lobby (admin)")
	fmt.Fprintln(pw, "/channels")
	waitOutput(t, out, "lobby admin=User1 members=User1")
	fmt.Fprintln(pw, "/stats")
	waitOutput(t, out, `"connections_active": 1`)
	fmt.Fprintln(pw, "hello")
	waitOutput(t, out, "only takes commands")

	fmt.Fprintln(pw, "/quit")
	if err := waitRun(t, errc); err != nil {
		t.Errorf("Run: %v", err)
	}
}

// TestServeMode_InputEOFKeepsServing verifies that a closed stdin does
// not stop the server; only the context does.
func TestServeMode_InputEOFKeepsServing(t *testing.T) {
	out := &syncBuffer{}
	mode, addr := serveMode(t, strings.NewReader(""), out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- mode.Run(ctx) }()
	waitOutput(t, out, "Server listening on")
	time.Sleep(50 * time.Millisecond)

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("server stopped with its console: %v", err)
	}
	conn.Close()

	cancel()
	if err := waitRun(t, errc); err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestServeMode_AdminHTTP(t *testing.T) {
	adminPort, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	out := &syncBuffer{}
	mode, _ := serveMode(t, strings.NewReader(""), out)
	mode.AdminAddr = fmt.Sprintf("127.0.0.1:%d", adminPort)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- mode.Run(ctx) }()
	waitOutput(t, out, "Server listening on")

	resp, err := http.Get("http://" + mode.AdminAddr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	waitRun(t, errc) //nolint:errcheck
}

func TestServeMode_BindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	_, port, _ := net.SplitHostPort(ln.Addr().String())

	mode, _ := serveMode(t, strings.NewReader(""), io.Discard)
	mode.Endpoint.Service = port
	err = mode.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "listen on") {
		t.Errorf("expected a listen error, got %v", err)
	}
}
