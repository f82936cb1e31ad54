// Package protocol defines the relaychat line vocabulary shared by the
// server and the client.
//
// Every frame on the wire is one UTF-8 line terminated by '\n'.  Lines
// sent by a client that start with '/' are commands; lines pushed by the
// server that start with '/' are state notifications, and anything else
// is rendered to the user verbatim.
package protocol

import (
	"fmt"
	"regexp"
	"strings"
)

// ── Vocabulary ───────────────────────────────────────────────────────

// Client → server commands.
const (
	CmdWhoami   = "/whoami"
	CmdNickname = "/nickname"
	CmdJoin     = "/join"
	CmdKick     = "/kick"
	CmdMute     = "/mute"
	CmdUnmute   = "/unmute"
	CmdWhois    = "/whois"
	CmdMessage  = "/m"
	CmdPing     = "/ping"
)

// Server → client pushes.
const (
	PushYouAre  = "/youare"
	PushJoined  = "/joined"
	PushKicked  = "/kicked"
	PushMuted   = "/muted"
	PushUnmuted = "/unmuted"
	PushMsg     = "/msg"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"

	// Pong answers CmdPing.
	Pong = "pong"
	// ErrorPrefix starts every rejection line.  It carries no leading '/'
	// so clients print it as-is.
	ErrorPrefix = "Error: "

	// MaxMessageSize is the largest chat payload carried by a single /m.
	MaxMessageSize = 4096
	// FrameOverhead is the room left for the command word and nickname
	// when sizing the read buffer for one frame.
	FrameOverhead = 100

	DefaultPort = "6697"
)

// MaxFrame returns the read limit for frames carrying payloads of at most
// maxMessage bytes.
func MaxFrame(maxMessage int) int {
	if maxMessage <= 0 {
		maxMessage = MaxMessageSize
	}
	return maxMessage + FrameOverhead
}

// ── Commands ─────────────────────────────────────────────────────────

// Command is one parsed client line.
type Command struct {
	Name string // leading token including '/', e.g. "/join"
	Arg  string // everything after the first space, untrimmed for /m
}

// ParseCommand splits a client line into its leading token and argument.
// ok is false for lines that do not start with '/'.
func ParseCommand(line string) (cmd Command, ok bool) {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, "/") {
		return Command{}, false
	}
	name, arg, _ := strings.Cut(line, " ")
	return Command{Name: name, Arg: arg}, true
}

// Target returns the first whitespace-separated word of the argument,
// which is how nickname and channel arguments are read.
func (c Command) Target() string {
	fields := strings.Fields(c.Arg)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// ── Pushes ───────────────────────────────────────────────────────────

// Kind identifies what a server line means to the client.
type Kind int

const (
	// KindText is a line without a leading '/', shown verbatim.
	KindText Kind = iota
	KindYouAre
	KindJoined
	KindKicked
	KindMuted
	KindUnmuted
	KindMsg
	// KindUnknown is a '/' line the client does not understand.
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindYouAre:
		return "youare"
	case KindJoined:
		return "joined"
	case KindKicked:
		return "kicked"
	case KindMuted:
		return "muted"
	case KindUnmuted:
		return "unmuted"
	case KindMsg:
		return "msg"
	default:
		return "unknown"
	}
}

// Push is a server line decoded once into its tagged form.  Only the
// fields relevant to Kind are set.
type Push struct {
	Kind     Kind
	Nickname string // KindYouAre
	Channel  string // KindJoined
	Admin    bool   // KindJoined
	From     string // KindMsg
	Text     string // KindMsg, KindText, KindUnknown: the payload or raw line
}

// ParsePush decodes one server line.  Matching is anchored at the start of
// the line and the first match wins in the order youare, joined, kicked,
// muted, unmuted, msg, so a chat payload can never be mistaken for a
// state change.
func ParsePush(line string) Push {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, "/") {
		return Push{Kind: KindText, Text: line}
	}

	if rest, ok := argOf(line, PushYouAre); ok && rest != "" {
		return Push{Kind: KindYouAre, Nickname: rest}
	}
	if rest, ok := argOf(line, PushJoined); ok {
		if i := strings.LastIndexByte(rest, ' '); i > 0 && i < len(rest)-1 {
			return Push{Kind: KindJoined, Channel: rest[:i], Admin: rest[i+1:] == RoleAdmin}
		}
	}
	switch line {
	case PushKicked:
		return Push{Kind: KindKicked}
	case PushMuted:
		return Push{Kind: KindMuted}
	case PushUnmuted:
		return Push{Kind: KindUnmuted}
	}
	if rest, ok := argOf(line, PushMsg); ok {
		from, text, found := strings.Cut(rest, " ")
		if found && from != "" && text != "" {
			return Push{Kind: KindMsg, From: from, Text: text}
		}
	}
	return Push{Kind: KindUnknown, Text: line}
}

// argOf returns what follows "word " at the start of line.
func argOf(line, word string) (string, bool) {
	if len(line) <= len(word) || !strings.HasPrefix(line, word) || line[len(word)] != ' ' {
		return "", false
	}
	return line[len(word)+1:], true
}

// ── Formatting ───────────────────────────────────────────────────────

// YouAre formats the identity push.
func YouAre(nickname string) string { return PushYouAre + " " + nickname }

// Joined formats the channel membership push.
func Joined(channel string, admin bool) string {
	role := RoleUser
	if admin {
		role = RoleAdmin
	}
	return PushJoined + " " + channel + " " + role
}

// Msg formats a relayed chat line.
func Msg(from, text string) string { return PushMsg + " " + from + " " + text }

// Whois formats the answer to CmdWhois.
func Whois(nickname, addr string) string {
	return nickname + " is connected from " + addr
}

// Errorf formats a rejection line.
func Errorf(format string, args ...any) string {
	return ErrorPrefix + fmt.Sprintf(format, args...)
}

// Message formats one /m command carrying text.
func Message(text string) string { return CmdMessage + " " + text }

// ── Validation ───────────────────────────────────────────────────────

var (
	nicknameRe = regexp.MustCompile(`^[A-Za-z0-9_\-\[\]{}^|]{1,32}$`)
	channelRe  = regexp.MustCompile(`^#?[A-Za-z0-9_\-.]{1,64}$`)
)

// ValidNickname reports whether name may be registered.
func ValidNickname(name string) bool { return nicknameRe.MatchString(name) }

// ValidChannel reports whether name may be joined.
func ValidChannel(name string) bool { return channelRe.MatchString(name) }

// ── Chunking ─────────────────────────────────────────────────────────

// Chunk splits payload into pieces of at most size bytes, in order, whose
// concatenation is the payload with every newline replaced by a space.
// A payload of length L > size yields ceil(L/size) pieces; anything
// shorter yields exactly one, possibly empty.
func Chunk(payload string, size int) []string {
	if size <= 0 {
		size = MaxMessageSize
	}
	payload = strings.NewReplacer("\r\n", "  ", "\n", " ", "\r", " ").Replace(payload)

	chunks := make([]string, 0, len(payload)/size+1)
	for len(payload) > size {
		chunks = append(chunks, payload[:size])
		payload = payload[size:]
	}
	return append(chunks, payload)
}
