package server

import (
	"fmt"
	"sort"

	"relaychat/internal/protocol"
	"relaychat/internal/session"
)

// Channel is a named group of sessions with one admin.
type Channel struct {
	name    string
	admin   string
	members map[string]*session.Session
	muted   map[string]struct{}
}

func newChannel(name string) *Channel {
	return &Channel{
		name:    name,
		members: make(map[string]*session.Session),
		muted:   make(map[string]struct{}),
	}
}

// sortedMembers returns members ordered by nickname.
func (c *Channel) sortedMembers() []*session.Session {
	names := make([]string, 0, len(c.members))
	for n := range c.members {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*session.Session, len(names))
	for i, n := range names {
		out[i] = c.members[n]
	}
	return out
}

func (c *Channel) isMuted(nick string) bool {
	_, ok := c.muted[nick]
	return ok
}

// ChannelInfo is a read-only view of a channel.
type ChannelInfo struct {
	Name    string   `json:"name"`
	Admin   string   `json:"admin"`
	Members []string `json:"members"`
	Muted   []string `json:"muted,omitempty"`
}

func (c *Channel) info() ChannelInfo {
	ci := ChannelInfo{Name: c.name, Admin: c.admin}
	for _, m := range c.sortedMembers() {
		ci.Members = append(ci.Members, m.Nickname())
	}
	for n := range c.muted {
		ci.Muted = append(ci.Muted, n)
	}
	sort.Strings(ci.Muted)
	return ci
}

// delivery is one line owed to one session, written after the registry
// lock is released.
type delivery struct {
	to   *session.Session
	line string
}

// registry holds the authoritative client and channel maps.  Every
// method requires the server lock.
type registry struct {
	clients  map[string]*session.Session
	channels map[string]*Channel
	counter  int
}

func newRegistry() *registry {
	return &registry{
		clients:  make(map[string]*session.Session),
		channels: make(map[string]*Channel),
	}
}

// nextNickname returns the first free "User<N>" name.
func (r *registry) nextNickname() string {
	for {
		r.counter++
		name := fmt.Sprintf("User%d", r.counter)
		if _, taken := r.clients[name]; !taken {
			return name
		}
	}
}

func (r *registry) add(s *session.Session) {
	r.clients[s.Nickname()] = s
}

// registered reports whether s is the session stored under its name.
func (r *registry) registered(s *session.Session) bool {
	return r.clients[s.Nickname()] == s
}

// sessions returns registered sessions ordered by nickname.
func (r *registry) sessions() []*session.Session {
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*session.Session, len(names))
	for i, n := range names {
		out[i] = r.clients[n]
	}
	return out
}

// channelOf returns the channel s currently belongs to, if any.
func (r *registry) channelOf(s *session.Session) *Channel {
	name := s.Channel()
	if name == "" {
		return nil
	}
	ch := r.channels[name]
	if ch == nil || ch.members[s.Nickname()] != s {
		return nil
	}
	return ch
}

// rename moves s to newName in every structure that is keyed by
// nickname.
func (r *registry) rename(s *session.Session, newName string) error {
	old := s.Nickname()
	if old == newName {
		return nil
	}
	if _, taken := r.clients[newName]; taken {
		return fmt.Errorf("nickname %s is already taken", newName)
	}

	delete(r.clients, old)
	r.clients[newName] = s

	if ch := r.channelOf(s); ch != nil {
		delete(ch.members, old)
		ch.members[newName] = s
		if ch.admin == old {
			ch.admin = newName
		}
	}
	for _, ch := range r.channels {
		if ch.isMuted(old) {
			delete(ch.muted, old)
			ch.muted[newName] = struct{}{}
		}
	}
	s.SetNickname(newName)
	return nil
}

// join moves s into the named channel, creating it with s as admin when
// it does not exist.  The returned deliveries include the /joined
// confirmation, any mute state change, and a promotion push for the
// channel s left.
func (r *registry) join(s *session.Session, name string) []delivery {
	if ch := r.channelOf(s); ch != nil && ch.name == name {
		return []delivery{{s, protocol.Joined(name, ch.admin == s.Nickname())}}
	}
	wasMuted := s.IsMuted()
	out := r.leave(s)

	ch, ok := r.channels[name]
	if !ok {
		ch = newChannel(name)
		ch.admin = s.Nickname()
		r.channels[name] = ch
	}
	admin := ch.admin == s.Nickname()
	ch.members[s.Nickname()] = s
	s.Enter(name, admin)

	out = append(out, delivery{s, protocol.Joined(name, admin)})
	switch {
	case ch.isMuted(s.Nickname()):
		s.SetMuted(true)
		out = append(out, delivery{s, protocol.PushMuted})
	case wasMuted:
		out = append(out, delivery{s, protocol.PushUnmuted})
	}
	return out
}

// leave removes s from its channel.  An empty channel is destroyed; if the
// admin left, the member with the smallest nickname is promoted.
func (r *registry) leave(s *session.Session) []delivery {
	ch := r.channelOf(s)
	s.Leave()
	if ch == nil {
		return nil
	}
	nick := s.Nickname()
	delete(ch.members, nick)

	if len(ch.members) == 0 {
		delete(r.channels, ch.name)
		return nil
	}
	if ch.admin != nick {
		return nil
	}
	heir := ch.sortedMembers()[0]
	ch.admin = heir.Nickname()
	heir.SetAdmin(true)
	return []delivery{{heir, protocol.Joined(ch.name, true)}}
}

// remove unregisters s entirely and forgets its mutes, so a later
// session taking the same nickname starts unmuted.  It returns nil when s
// was not registered, so repeated drops are harmless.
func (r *registry) remove(s *session.Session) ([]delivery, bool) {
	if !r.registered(s) {
		return nil, false
	}
	out := r.leave(s)
	nick := s.Nickname()
	for _, ch := range r.channels {
		delete(ch.muted, nick)
	}
	delete(r.clients, nick)
	return out, true
}

// reset forgets every session and channel and returns the sessions that
// were registered.
func (r *registry) reset() []*session.Session {
	all := r.sessions()
	r.clients = make(map[string]*session.Session)
	r.channels = make(map[string]*Channel)
	return all
}
