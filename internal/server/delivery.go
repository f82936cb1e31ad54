package server

import (
	"sort"

	"relaychat/internal/session"
)

// reply addresses one line to one session.
func reply(to *session.Session, line string) []delivery {
	return []delivery{{to, line}}
}

// multicast addresses the same line to every member.
func multicast(members []*session.Session, line string) []delivery {
	out := make([]delivery, len(members))
	for i, m := range members {
		out[i] = delivery{m, line}
	}
	return out
}

// deliver writes each line in order.  It must be called without s.mu.  A
// failed write, including a socket with a pending error, drops only the
// session it was meant for.
func (s *Server) deliver(out []delivery) {
	for _, d := range out {
		if c := d.to.Transport(); c == nil || c.Closed() {
			continue
		}
		if err := d.to.Write(d.line); err != nil {
			s.drop(d.to, "write failed", err)
		}
	}
}

func sortChannels(cs []ChannelInfo) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Name < cs[j].Name })
}
