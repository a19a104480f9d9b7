package server

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/datRooster/ircapp/irc"
	"github.com/datRooster/ircapp/irc/store"
)

// ErrJoinDenied reports a role gate refusing a join.
var ErrJoinDenied = errors.New("join denied")

// Channel is the runtime state of an active channel. Persistent attributes
// (topic, required role, privacy) come from the store row it was
// materialized from; Members only tracks currently connected users.
type Channel struct {
	Name         string // display name, with the # sigil
	StoreID      uint
	Topic        string
	RequiredRole string
	IsPrivate    bool
	Members      map[string]*Client // keyed by connection ID
	Server       *Server
	mu           sync.RWMutex
}

// AddMember adds a client to the channel
func (c *Channel) AddMember(client *Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Members[client.ID] = client
}

// RemoveMember removes a client from the channel
func (c *Channel) RemoveMember(client *Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.Members, client.ID)
}

// IsMember checks if a client is a member of the channel
func (c *Channel) IsMember(client *Client) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.Members[client.ID]
	return ok
}

// MemberCount returns the number of members in the channel
func (c *Channel) MemberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.Members)
}

// SendToAll sends a raw line to all members, except the given client. The
// member set is snapshotted first so a stalled peer socket never blocks
// membership changes.
func (c *Channel) SendToAll(message string, except *Client) {
	c.mu.RLock()
	members := make([]*Client, 0, len(c.Members))
	for _, member := range c.Members {
		if except != nil && member.ID == except.ID {
			continue
		}
		members = append(members, member)
	}
	c.mu.RUnlock()

	for _, member := range members {
		member.SendRaw(message)
	}
}

// SetTopic updates the runtime topic
func (c *Channel) SetTopic(topic string) {
	c.mu.Lock()
	c.Topic = topic
	c.mu.Unlock()
}

// GetTopic returns the runtime topic
func (c *Channel) GetTopic() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Topic
}

// SendNames sends the 353/366 names listing to a client. Admins carry the
// `@` prefix, moderators `+`.
func (c *Channel) SendNames(client *Client) {
	c.mu.RLock()
	var names []string
	for _, member := range c.Members {
		prefix := ""
		if member.HasRole(store.RoleAdmin) {
			prefix = "@"
		} else if member.HasRole(store.RoleModerator) {
			prefix = "+"
		}
		names = append(names, prefix+member.Nickname)
	}
	c.mu.RUnlock()

	serverName := c.Server.GetConfig().Server.Name
	client.SendMessage(serverName, irc.RPL_NAMREPLY, client.Nickname, "=", c.Name, strings.Join(names, " "))
	client.SendMessage(serverName, irc.RPL_ENDOFNAMES, client.Nickname, c.Name, "End of /NAMES list")
}

// ChannelRegistry maps active channel names to runtime channels and
// materializes them from the store on first join. Lookups are
// case-insensitive; store rows carry the name without the # sigil.
type ChannelRegistry struct {
	store    *store.Store
	channels map[string]*Channel // keyed by lowercase name with sigil
	mu       sync.RWMutex
}

// NewChannelRegistry creates an empty registry over the store
func NewChannelRegistry(st *store.Store) *ChannelRegistry {
	return &ChannelRegistry{
		store:    st,
		channels: make(map[string]*Channel),
	}
}

// NormalizeName lower-cases a channel name, preserving the sigil.
func NormalizeName(name string) string {
	return strings.ToLower(name)
}

// StoreName strips the sigil for store lookups.
func StoreName(name string) string {
	return strings.TrimPrefix(strings.ToLower(name), "#")
}

// Get returns the active channel with the given name, or nil
func (r *ChannelRegistry) Get(name string) *Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[NormalizeName(name)]
}

// CanJoin is the pure role gate: private channels are admin-only, a
// required role of admin or moderator ladders up, anything else is open.
// The default channel is always open.
func CanJoin(channel *Channel, client *Client) bool {
	if NormalizeName(channel.Name) == DefaultChannel {
		return true
	}
	if channel.IsPrivate {
		return client.HasRole(store.RoleAdmin)
	}
	switch channel.RequiredRole {
	case store.RoleAdmin:
		return client.HasRole(store.RoleAdmin)
	case store.RoleModerator:
		return client.HasRole(store.RoleModerator) || client.HasRole(store.RoleAdmin)
	}
	return true
}

// Active returns a snapshot of the currently materialized channels
func (r *ChannelRegistry) Active() []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	channels := make([]*Channel, 0, len(r.channels))
	for _, channel := range r.channels {
		channels = append(channels, channel)
	}
	return channels
}

// Join places the client in the channel, materializing it from the store
// on first reference. Re-joining a channel the client is already in is a
// no-op. Returns ErrJoinDenied when the role gate refuses.
func (r *ChannelRegistry) Join(client *Client, name string) error {
	key := NormalizeName(name)

	r.mu.Lock()
	channel, ok := r.channels[key]
	if !ok {
		row, err := r.store.FindOrCreateChannel(StoreName(name), client.Nickname)
		if err != nil {
			r.mu.Unlock()
			return fmt.Errorf("materialize channel %s: %w", name, err)
		}
		channel = &Channel{
			Name:         "#" + row.Name,
			StoreID:      row.ID,
			Topic:        row.Topic,
			RequiredRole: row.RequiredRole,
			IsPrivate:    row.IsPrivate,
			Members:      make(map[string]*Client),
			Server:       client.Server,
		}
		r.channels[key] = channel
	}
	r.mu.Unlock()

	if !CanJoin(channel, client) {
		return ErrJoinDenied
	}

	if channel.IsMember(client) {
		return nil
	}

	channel.AddMember(client)
	client.mu.Lock()
	client.Channels[key] = channel
	client.mu.Unlock()

	// Join notice goes to everyone, the joiner included.
	channel.SendToAll(fmt.Sprintf(":%s JOIN %s", client.Hostmask(), channel.Name), nil)

	if topic := channel.GetTopic(); topic != "" {
		client.SendMessage(client.Server.GetConfig().Server.Name, irc.RPL_TOPIC, client.Nickname, channel.Name, topic)
	}
	channel.SendNames(client)

	return nil
}

// Leave removes the client from the channel, both sides of the membership
// relation, and drops the runtime channel once it empties.
func (r *ChannelRegistry) Leave(client *Client, channel *Channel) {
	channel.RemoveMember(client)

	key := NormalizeName(channel.Name)
	client.mu.Lock()
	delete(client.Channels, key)
	client.mu.Unlock()

	if channel.MemberCount() == 0 {
		r.mu.Lock()
		if current, ok := r.channels[key]; ok && current == channel && channel.MemberCount() == 0 {
			delete(r.channels, key)
		}
		r.mu.Unlock()
	}
}

// UpdateTopic persists and applies a new topic
func (r *ChannelRegistry) UpdateTopic(channel *Channel, topic string) error {
	if err := r.store.UpdateTopic(channel.StoreID, topic); err != nil {
		return err
	}
	channel.SetTopic(topic)
	return nil
}
