package server

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/datRooster/ircapp/irc/store"
)

// UserRegistry maps nicknames to live connections. All lookups are
// case-insensitive; claim, release and rename are atomic under one mutex,
// so two connections racing for a nickname cannot both win.
type UserRegistry struct {
	store  *store.Store
	byNick map[string]*Client
	mu     sync.Mutex
}

// NewUserRegistry creates an empty registry over the store
func NewUserRegistry(st *store.Store) *UserRegistry {
	return &UserRegistry{
		store:  st,
		byNick: make(map[string]*Client),
	}
}

// Get returns the client holding the nickname, or nil
func (r *UserRegistry) Get(nickname string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byNick[strings.ToLower(nickname)]
}

// Claim reserves a nickname for a client. Returns false when another
// connection already holds it; the existing claim stays intact.
func (r *UserRegistry) Claim(nickname string, client *Client) bool {
	key := strings.ToLower(nickname)
	r.mu.Lock()
	defer r.mu.Unlock()

	if holder, ok := r.byNick[key]; ok && holder.ID != client.ID {
		return false
	}
	r.byNick[key] = client
	return true
}

// Rename moves a client's claim from one nickname to another atomically.
func (r *UserRegistry) Rename(oldNick, newNick string, client *Client) bool {
	oldKey := strings.ToLower(oldNick)
	newKey := strings.ToLower(newNick)
	r.mu.Lock()
	defer r.mu.Unlock()

	if holder, ok := r.byNick[newKey]; ok && holder.ID != client.ID {
		return false
	}
	delete(r.byNick, oldKey)
	r.byNick[newKey] = client
	return true
}

// Release frees a nickname, but only if the given client still holds it.
func (r *UserRegistry) Release(nickname string, client *Client) {
	key := strings.ToLower(nickname)
	r.mu.Lock()
	defer r.mu.Unlock()

	if holder, ok := r.byNick[key]; ok && holder.ID == client.ID {
		delete(r.byNick, key)
	}
}

// Count returns the number of claimed nicknames
func (r *UserRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byNick)
}

// Ban flags the account and force-disconnects any live connection. A nil
// until means permanent.
func (r *UserRegistry) Ban(username, reason string, until *time.Time) error {
	if err := r.store.SetUserBan(username, true, reason, until); err != nil {
		return err
	}

	if client := r.Get(username); client != nil {
		if reason == "" {
			reason = "Banned"
		}
		client.SendRaw(fmt.Sprintf("ERROR :Closing Link: %s (%s)", client.Nickname, reason))
		client.Quit(reason)
	}
	return nil
}

// Unban clears the account's ban flag
func (r *UserRegistry) Unban(username string) error {
	return r.store.SetUserBan(username, false, "", nil)
}

// SetRole updates the account's role and applies it to a live connection.
func (r *UserRegistry) SetRole(username, role string) error {
	if err := r.store.SetUserRole(username, role); err != nil {
		return err
	}

	if client := r.Get(username); client != nil {
		roles := []string{role}
		if role != store.RoleUser {
			roles = append(roles, store.RoleUser)
		}
		client.mu.Lock()
		client.Roles = roles
		client.mu.Unlock()
	}
	return nil
}
