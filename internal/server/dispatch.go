package server

import (
	"relaychat/internal/protocol"
	"relaychat/internal/session"
)

// handleMessage executes one line received from sess.  Protocol misuse is
// answered with an error line; it never closes the connection.
func (s *Server) handleMessage(sess *session.Session, line string) {
	cmd, ok := protocol.ParseCommand(line)

	s.mu.Lock()
	var out []delivery
	switch {
	case !s.reg.registered(sess):
		// Dropped while its line was in flight.
	case !ok:
		out = s.reject(sess, "unknown command, chat lines are sent with %s", protocol.CmdMessage)
	default:
		out = s.dispatch(sess, cmd)
	}
	s.mu.Unlock()

	s.log.Debug().Str("session", sess.ID()).Str("nick", sess.Nickname()).Str("cmd", cmd.Name).Msg("command")
	s.deliver(out)
}

// dispatch routes cmd to its handler.  Callers hold s.mu.
func (s *Server) dispatch(sess *session.Session, cmd protocol.Command) []delivery {
	switch cmd.Name {
	case protocol.CmdWhoami:
		return reply(sess, protocol.YouAre(sess.Nickname()))
	case protocol.CmdPing:
		return reply(sess, protocol.Pong)
	case protocol.CmdNickname:
		return s.cmdNickname(sess, cmd)
	case protocol.CmdJoin:
		return s.cmdJoin(sess, cmd)
	case protocol.CmdKick:
		return s.cmdKick(sess, cmd)
	case protocol.CmdMute:
		return s.cmdMute(sess, cmd, true)
	case protocol.CmdUnmute:
		return s.cmdMute(sess, cmd, false)
	case protocol.CmdWhois:
		return s.cmdWhois(sess, cmd)
	case protocol.CmdMessage:
		return s.cmdMessage(sess, cmd)
	}
	return s.reject(sess, "unknown command %s", cmd.Name)
}

func (s *Server) cmdNickname(sess *session.Session, cmd protocol.Command) []delivery {
	name := cmd.Target()
	switch {
	case name == "":
		return s.reject(sess, "usage: %s <nickname>", protocol.CmdNickname)
	case !protocol.ValidNickname(name):
		return s.reject(sess, "invalid nickname %q", name)
	}
	old := sess.Nickname()
	if err := s.reg.rename(sess, name); err != nil {
		return s.reject(sess, "%v", err)
	}
	s.log.Info().Str("session", sess.ID()).Str("from", old).Str("nick", name).Msg("nickname changed")
	return reply(sess, protocol.YouAre(name))
}

func (s *Server) cmdJoin(sess *session.Session, cmd protocol.Command) []delivery {
	name := cmd.Target()
	switch {
	case name == "":
		return s.reject(sess, "usage: %s <channel>", protocol.CmdJoin)
	case !protocol.ValidChannel(name):
		return s.reject(sess, "invalid channel name %q", name)
	}
	out := s.reg.join(sess, name)
	s.log.Info().Str("session", sess.ID()).Str("nick", sess.Nickname()).Str("channel", name).Bool("admin", sess.IsAdmin()).Msg("joined channel")
	return out
}

// moderate checks the preconditions shared by the admin commands and
// returns the caller's channel and the target session.
func (s *Server) moderate(sess *session.Session, cmd protocol.Command, allowSelf bool) (*Channel, *session.Session, []delivery) {
	target := cmd.Target()
	if target == "" {
		return nil, nil, s.reject(sess, "usage: %s <nickname>", cmd.Name)
	}
	ch := s.reg.channelOf(sess)
	if ch == nil {
		return nil, nil, s.reject(sess, "you are not in a channel")
	}
	if ch.admin != sess.Nickname() {
		return nil, nil, s.reject(sess, "you are not the admin of %s", ch.name)
	}
	victim, ok := ch.members[target]
	if !ok {
		return nil, nil, s.reject(sess, "%s is not in %s", target, ch.name)
	}
	if victim == sess && !allowSelf {
		return nil, nil, s.reject(sess, "you cannot use %s on yourself", cmd.Name)
	}
	return ch, victim, nil
}

func (s *Server) cmdKick(sess *session.Session, cmd protocol.Command) []delivery {
	ch, victim, rejected := s.moderate(sess, cmd, false)
	if victim == nil {
		return rejected
	}
	out := s.reg.leave(victim)
	s.log.Info().Str("nick", victim.Nickname()).Str("channel", ch.name).Str("by", sess.Nickname()).Msg("kicked")
	return append(out,
		delivery{victim, protocol.PushKicked},
		delivery{sess, victim.Nickname() + " has been kicked from " + ch.name},
	)
}

func (s *Server) cmdMute(sess *session.Session, cmd protocol.Command, mute bool) []delivery {
	ch, victim, rejected := s.moderate(sess, cmd, false)
	if victim == nil {
		return rejected
	}
	nick := victim.Nickname()
	push, verb := protocol.PushUnmuted, "unmuted"
	if mute {
		ch.muted[nick] = struct{}{}
		push, verb = protocol.PushMuted, "muted"
	} else {
		delete(ch.muted, nick)
	}
	victim.SetMuted(mute)
	s.log.Info().Str("nick", nick).Str("channel", ch.name).Str("by", sess.Nickname()).Msg(verb)
	return []delivery{
		{victim, push},
		{sess, nick + " has been " + verb + " in " + ch.name},
	}
}

func (s *Server) cmdWhois(sess *session.Session, cmd protocol.Command) []delivery {
	_, target, rejected := s.moderate(sess, cmd, true)
	if target == nil {
		return rejected
	}
	return reply(sess, protocol.Whois(target.Nickname(), target.Transport().PeerAddr()))
}

func (s *Server) cmdMessage(sess *session.Session, cmd protocol.Command) []delivery {
	ch := s.reg.channelOf(sess)
	switch {
	case ch == nil:
		return s.reject(sess, "you are not in a channel")
	case sess.IsMuted():
		return s.reject(sess, "you are muted in %s", ch.name)
	case cmd.Arg == "":
		return s.reject(sess, "usage: %s <text>", protocol.CmdMessage)
	case len(cmd.Arg) > s.opts.MaxMessageSize:
		return s.reject(sess, "message too long (limit %d bytes)", s.opts.MaxMessageSize)
	}
	s.metrics.MessageRelayed()
	return multicast(ch.sortedMembers(), protocol.Msg(sess.Nickname(), cmd.Arg))
}

// reject builds the error line for sess and counts it.
func (s *Server) reject(sess *session.Session, format string, args ...any) []delivery {
	s.metrics.CommandRejected()
	return reply(sess, protocol.Errorf(format, args...))
}
