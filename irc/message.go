package irc

import (
	"fmt"
	"strings"
)

// Message represents a parsed IRC message
type Message struct {
	Prefix  string
	Command string
	Params  []string
	Raw     string
}

// ParseMessage parses a single protocol line. It returns nil for lines that
// carry no command (empty or whitespace-only input); such lines are dropped
// by callers with a local diagnostic, never a disconnect.
func ParseMessage(line string) *Message {
	raw := line
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	msg := &Message{
		Params: make([]string, 0, 4),
		Raw:    raw,
	}

	// Check if the message has a prefix
	if line[0] == ':' {
		parts := strings.SplitN(line[1:], " ", 2)
		if len(parts) < 2 {
			return nil
		}
		msg.Prefix = parts[0]
		line = parts[1]
	}

	parts := strings.SplitN(line, " ", 2)
	if parts[0] == "" {
		return nil
	}
	msg.Command = strings.ToUpper(parts[0])

	if len(parts) > 1 {
		paramPart := parts[1]
		for paramPart != "" {
			// A token starting with a colon is the trailing parameter and
			// consumes the remainder, embedded spaces included.
			if paramPart[0] == ':' {
				msg.Params = append(msg.Params, paramPart[1:])
				break
			}

			next := strings.SplitN(paramPart, " ", 2)
			msg.Params = append(msg.Params, next[0])
			if len(next) > 1 {
				paramPart = next[1]
			} else {
				break
			}
		}
	}

	return msg
}

// String returns the wire representation of the message, without the CRLF
// terminator.
func (m *Message) String() string {
	var builder strings.Builder

	if m.Prefix != "" {
		builder.WriteString(":")
		builder.WriteString(m.Prefix)
		builder.WriteString(" ")
	}

	builder.WriteString(m.Command)

	for i, param := range m.Params {
		builder.WriteString(" ")

		// The last parameter gets a colon when it would otherwise not
		// survive a re-parse: spaces, empty, or a leading colon.
		if i == len(m.Params)-1 && (strings.Contains(param, " ") || param == "" || strings.HasPrefix(param, ":")) {
			builder.WriteString(":")
			builder.WriteString(param)
		} else {
			builder.WriteString(param)
		}
	}

	return builder.String()
}

// NewMessage builds a message with the given prefix, command and parameters.
func NewMessage(prefix, command string, params ...string) *Message {
	return &Message{
		Prefix:  prefix,
		Command: command,
		Params:  params,
	}
}

// LineBuffer splits a fragmented byte stream into complete protocol lines.
// The trailing partial line is retained indefinitely; no length bound is
// enforced at this layer.
type LineBuffer struct {
	pending strings.Builder
}

// Feed appends a chunk of bytes and returns all complete lines it unlocked,
// with terminators removed. CRLF and bare LF are both accepted.
func (b *LineBuffer) Feed(chunk []byte) []string {
	b.pending.Write(chunk)

	data := b.pending.String()
	if !strings.Contains(data, "\n") {
		return nil
	}

	parts := strings.Split(data, "\n")
	b.pending.Reset()
	b.pending.WriteString(parts[len(parts)-1])

	lines := make([]string, 0, len(parts)-1)
	for _, line := range parts[:len(parts)-1] {
		lines = append(lines, strings.TrimSuffix(line, "\r"))
	}
	return lines
}

// Pending returns the buffered partial line, if any.
func (b *LineBuffer) Pending() string {
	return b.pending.String()
}

// ParseHostmask parses a hostmask (nick!user@host)
func ParseHostmask(hostmask string) (nick, user, host string) {
	nickParts := strings.SplitN(hostmask, "!", 2)
	if len(nickParts) < 2 {
		nick = hostmask
		return
	}
	nick = nickParts[0]

	userHostParts := strings.SplitN(nickParts[1], "@", 2)
	if len(userHostParts) < 2 {
		user = nickParts[1]
		return
	}
	user = userHostParts[0]
	host = userHostParts[1]

	return
}

// FormatHostmask formats a hostmask
func FormatHostmask(nick, user, host string) string {
	return fmt.Sprintf("%s!%s@%s", nick, user, host)
}
