package irc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	t.Run("command only", func(t *testing.T) {
		msg := ParseMessage("QUIT")
		require.NotNil(t, msg)
		assert.Equal(t, "QUIT", msg.Command)
		assert.Empty(t, msg.Prefix)
		assert.Empty(t, msg.Params)
	})

	t.Run("prefix and trailing", func(t *testing.T) {
		msg := ParseMessage(":alice!alice@web PRIVMSG #lobby :hello there")
		require.NotNil(t, msg)
		assert.Equal(t, "alice!alice@web", msg.Prefix)
		assert.Equal(t, "PRIVMSG", msg.Command)
		require.Len(t, msg.Params, 2)
		assert.Equal(t, "#lobby", msg.Params[0])
		assert.Equal(t, "hello there", msg.Params[1])
	})

	t.Run("command is upper-cased", func(t *testing.T) {
		msg := ParseMessage("privmsg #lobby :hi")
		require.NotNil(t, msg)
		assert.Equal(t, "PRIVMSG", msg.Command)
	})

	t.Run("middle params", func(t *testing.T) {
		msg := ParseMessage("USER alice 0 * :Alice Cooper")
		require.NotNil(t, msg)
		assert.Equal(t, []string{"alice", "0", "*", "Alice Cooper"}, msg.Params)
	})

	t.Run("empty trailing", func(t *testing.T) {
		msg := ParseMessage("TOPIC #lobby :")
		require.NotNil(t, msg)
		assert.Equal(t, []string{"#lobby", ""}, msg.Params)
	})

	t.Run("empty line", func(t *testing.T) {
		assert.Nil(t, ParseMessage(""))
		assert.Nil(t, ParseMessage("   "))
	})

	t.Run("prefix without command", func(t *testing.T) {
		assert.Nil(t, ParseMessage(":server.name"))
	})
}

func TestMessageString(t *testing.T) {
	t.Run("trailing colon on space", func(t *testing.T) {
		msg := NewMessage("server", "332", "alice", "#lobby", "the topic text")
		assert.Equal(t, ":server 332 alice #lobby :the topic text", msg.String())
	})

	t.Run("trailing colon on empty", func(t *testing.T) {
		msg := NewMessage("", "TOPIC", "#lobby", "")
		assert.Equal(t, "TOPIC #lobby :", msg.String())
	})

	t.Run("trailing colon on leading colon", func(t *testing.T) {
		msg := NewMessage("", "PRIVMSG", "#lobby", ":)")
		assert.Equal(t, "PRIVMSG #lobby ::)", msg.String())
	})

	t.Run("no colon when unneeded", func(t *testing.T) {
		msg := NewMessage("", "JOIN", "#lobby")
		assert.Equal(t, "JOIN #lobby", msg.String())
	})

	t.Run("round trip", func(t *testing.T) {
		in := ":webapp!webapp@bridge PRIVMSG #general :[alice] hi all"
		msg := ParseMessage(in)
		require.NotNil(t, msg)
		assert.Equal(t, in, msg.String())
	})
}

func TestLineBuffer(t *testing.T) {
	t.Run("fragmented line", func(t *testing.T) {
		var buf LineBuffer
		assert.Nil(t, buf.Feed([]byte("NICK al")))
		lines := buf.Feed([]byte("ice\r\nUSER "))
		require.Len(t, lines, 1)
		assert.Equal(t, "NICK alice", lines[0])
		assert.Equal(t, "USER ", buf.Pending())
	})

	t.Run("multiple lines one chunk", func(t *testing.T) {
		var buf LineBuffer
		lines := buf.Feed([]byte("PING :a\r\nPING :b\nPING :c\r\n"))
		assert.Equal(t, []string{"PING :a", "PING :b", "PING :c"}, lines)
		assert.Empty(t, buf.Pending())
	})

	t.Run("bare LF accepted", func(t *testing.T) {
		var buf LineBuffer
		lines := buf.Feed([]byte("QUIT\n"))
		assert.Equal(t, []string{"QUIT"}, lines)
	})
}

func TestHostmask(t *testing.T) {
	nick, user, host := ParseHostmask("alice!~alice@irc.example.com")
	assert.Equal(t, "alice", nick)
	assert.Equal(t, "~alice", user)
	assert.Equal(t, "irc.example.com", host)

	nick, user, host = ParseHostmask("alice")
	assert.Equal(t, "alice", nick)
	assert.Empty(t, user)
	assert.Empty(t, host)

	assert.Equal(t, "a!b@c", FormatHostmask("a", "b", "c"))
}
