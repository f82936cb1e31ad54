// Package session represents a single chat participant: one connection
// bound to a nickname, the channel it sits in, and its admin and mute
// flags within that channel.
//
// The server keeps one Session per accepted connection; the client keeps
// one for itself and mirrors the server's view of it from pushes.
package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"relaychat/internal/transport"
)

// Role tells which side of the connection a Session describes.
type Role int

const (
	// RoleRemote is a peer accepted by the server.
	RoleRemote Role = iota
	// RoleLocal is this process acting as a client.
	RoleLocal
)

func (r Role) String() string {
	if r == RoleLocal {
		return "local"
	}
	return "remote"
}

// Session encapsulates the state of one participant.  Its fields are
// guarded by an internal mutex; registry membership is the owner's
// concern.
type Session struct {
	id   string
	conn *transport.Conn
	role Role

	mu       sync.Mutex
	nickname string
	channel  string
	admin    bool
	muted    bool
}

// New creates a Session bound to conn.
func New(conn *transport.Conn, role Role, nickname string) *Session {
	return &Session{
		id:       uuid.NewString(),
		conn:     conn,
		role:     role,
		nickname: nickname,
	}
}

// ID is a random identifier used to correlate log lines.
func (s *Session) ID() string { return s.id }

// Role reports which side this Session describes.
func (s *Session) Role() Role { return s.role }

// Transport returns the underlying connection.
func (s *Session) Transport() *transport.Conn { return s.conn }

func (s *Session) Nickname() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nickname
}

func (s *Session) SetNickname(name string) {
	s.mu.Lock()
	s.nickname = name
	s.mu.Unlock()
}

// Channel returns the current channel, or "" when in none.
func (s *Session) Channel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

func (s *Session) IsAdmin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admin
}

func (s *Session) SetAdmin(admin bool) {
	s.mu.Lock()
	s.admin = admin
	s.mu.Unlock()
}

func (s *Session) IsMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *Session) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

// Enter records membership of channel with the given admin flag.
func (s *Session) Enter(channel string, admin bool) {
	s.mu.Lock()
	s.channel, s.admin = channel, admin
	s.mu.Unlock()
}

// Leave clears channel membership together with the channel-scoped
// admin and mute flags.
func (s *Session) Leave() {
	s.mu.Lock()
	s.channel, s.admin, s.muted = "", false, false
	s.mu.Unlock()
}

// Snapshot is a consistent copy of a Session's mutable fields.
type Snapshot struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Channel  string `json:"channel,omitempty"`
	Admin    bool   `json:"admin"`
	Muted    bool   `json:"muted"`
}

// Snapshot copies the mutable fields under one lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{ID: s.id, Nickname: s.nickname, Channel: s.channel, Admin: s.admin, Muted: s.muted}
}

func (s *Session) String() string {
	snap := s.Snapshot()
	return fmt.Sprintf("%s(%s)", snap.Nickname, snap.ID[:8])
}

// Write sends one line on the session's connection.
func (s *Session) Write(line string) error {
	if s.conn == nil {
		return fmt.Errorf("session %s: no connection", s.id)
	}
	_, err := s.conn.Write(line)
	return err
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
