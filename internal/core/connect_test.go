package core

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"relaychat/internal/client"
	"relaychat/internal/server"
	"relaychat/internal/transport"
	"relaychat/util"
)

func startServer(t *testing.T) *server.Server {
	t.Helper()
	srv := server.New(server.Options{PollTimeout: 20 * time.Millisecond, ReadTimeout: 50 * time.Millisecond}, nil)
	if err := srv.Start(transport.FamilyInet, "127.0.0.1", "0"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func connectMode(endpoint string, in io.Reader, out io.Writer) *ConnectMode {
	m := &ConnectMode{
		Endpoint: endpoint,
		Options:  client.Options{ReadTimeout: 50 * time.Millisecond},
		Plain:    true,
		Logger:   util.NewLogger(0, nil),
	}
	m.Stdin, m.Stdout = in, out
	return m
}

// TestConnectMode_Chat verifies end-to-end chat through the console.
func TestConnectMode_Chat(t *testing.T) {
	srv := startServer(t)
	pr, pw := io.Pipe()
	defer pw.Close()
	out := &syncBuffer{}

	errc := make(chan error, 1)
	go func() { errc <- connectMode(srv.Addr(), pr, out).Run(context.Background()) }()
	waitOutput(t, out, "LOG: Client connected on "+srv.Addr())

	fmt.Fprintln(pw, "/join lobby")
	waitOutput(t, out, "LOG: Joined channel lobby as admin successfully!")
	fmt.Fprintln(pw, "hello there")
	waitOutput(t, out, "User1: hello there")

	fmt.Fprintln(pw, "/quit")
	if err := waitRun(t, errc); err != nil {
		t.Errorf("Run: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(srv.Users()) != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := len(srv.Users()); n != 0 {
		t.Errorf("server still has %d users after /quit", n)
	}
}

// TestConnectMode_NoEndpoint verifies the guard messages when no server
// was named.
func TestConnectMode_NoEndpoint(t *testing.T) {
	out := &syncBuffer{}
	mode := connectMode("", strings.NewReader("/ping\nhello\n"), out)

	if err := mode.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, want := range []string{
		"LOG: Not connected, use /connect <address>",
		"LOG: You must be connected to use this command!",
		"LOG: You must be connected to send messages!",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

// TestConnectMode_ServerGone verifies that a server shutdown ends Run.
func TestConnectMode_ServerGone(t *testing.T) {
	srv := startServer(t)
	pr, pw := io.Pipe()
	defer pw.Close()
	out := &syncBuffer{}

	errc := make(chan error, 1)
	go func() { errc <- connectMode(srv.Addr(), pr, out).Run(context.Background()) }()
	waitOutput(t, out, "Client connected on")

	srv.Stop()
	if err := waitRun(t, errc); err != nil {
		t.Errorf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "LOG: Server disconnected!") {
		t.Errorf("output = %s", out.String())
	}
}

// TestConnectMode_Refused verifies the typed failure reaches the user.
func TestConnectMode_Refused(t *testing.T) {
	port, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	out := &syncBuffer{}
	mode := connectMode(fmt.Sprintf("127.0.0.1:%d", port), strings.NewReader(""), out)
	if err := mode.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "connection refused") {
		t.Errorf("output = %s", out.String())
	}
}
