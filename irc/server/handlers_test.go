package server

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/datRooster/ircapp/irc/store"
)

func TestExtractAuthor(t *testing.T) {
	author, body, ok := ExtractAuthor("[carol] hi there")
	assert.True(t, ok)
	assert.Equal(t, "carol", author)
	assert.Equal(t, "hi there", body)

	author, body, ok = ExtractAuthor("  [Carol West]  spaced out")
	assert.True(t, ok)
	assert.Equal(t, "Carol West", author)
	assert.Equal(t, "spaced out", body)

	_, body, ok = ExtractAuthor("no label here")
	assert.False(t, ok)
	assert.Equal(t, "no label here", body)

	// Brackets mid-text are not a label
	_, _, ok = ExtractAuthor("see [this] reference")
	assert.False(t, ok)
}

func TestCanJoin(t *testing.T) {
	admin := &Client{Roles: []string{store.RoleAdmin, store.RoleUser}}
	mod := &Client{Roles: []string{store.RoleModerator, store.RoleUser}}
	plain := &Client{Roles: []string{store.RoleUser}}

	open := &Channel{Name: "#general", RequiredRole: store.RoleUser}
	assert.True(t, CanJoin(open, plain))

	modOnly := &Channel{Name: "#helpers", RequiredRole: store.RoleModerator}
	assert.False(t, CanJoin(modOnly, plain))
	assert.True(t, CanJoin(modOnly, mod))
	assert.True(t, CanJoin(modOnly, admin))

	adminOnly := &Channel{Name: "#ops", RequiredRole: store.RoleAdmin}
	assert.False(t, CanJoin(adminOnly, mod))
	assert.True(t, CanJoin(adminOnly, admin))

	private := &Channel{Name: "#secret", RequiredRole: store.RoleUser, IsPrivate: true}
	assert.False(t, CanJoin(private, plain))
	assert.False(t, CanJoin(private, mod))
	assert.True(t, CanJoin(private, admin))

	// The default channel ignores every gate
	lobby := &Channel{Name: "#lobby", RequiredRole: store.RoleAdmin, IsPrivate: true}
	assert.True(t, CanJoin(lobby, plain))
}

func TestNicknamePattern(t *testing.T) {
	valid := []string{"a", "alice", "Alice_99", "web-app", "abcdefghijklmnop"}
	for _, nick := range valid {
		assert.True(t, nicknamePattern.MatchString(nick), nick)
	}

	invalid := []string{"", "9alice", "_alice", "alice!", "abcdefghijklmnopq", "with space"}
	for _, nick := range invalid {
		assert.False(t, nicknamePattern.MatchString(nick), nick)
	}
}
