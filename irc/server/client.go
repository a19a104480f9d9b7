package server

import (
	"fmt"
	"log"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/datRooster/ircapp/irc"
)

var nicknamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,15}$`)

// Client represents a connected client
type Client struct {
	ID         string
	Nickname   string
	Username   string
	Realname   string
	Hostname   string
	IP         string
	UserID     uint
	Roles      []string
	Channels   map[string]*Channel
	Server     *Server
	Conn       net.Conn
	LastPong   time.Time
	LastProbe  time.Time
	Registered bool
	mu         sync.RWMutex
	quit       chan struct{}
}

// NewClient creates a new client
func NewClient(server *Server, conn net.Conn) *Client {
	ip, _, _ := net.SplitHostPort(conn.RemoteAddr().String())

	return &Client{
		ID:        uuid.New().String(),
		Server:    server,
		Conn:      conn,
		IP:        ip,
		Hostname:  ip,
		Channels:  make(map[string]*Channel),
		LastPong:  time.Now(),
		LastProbe: time.Now(),
		quit:      make(chan struct{}),
	}
}

// Handle runs the client read loop
func (c *Client) Handle() {
	defer c.Quit("Connection closed")

	var buffer irc.LineBuffer
	chunk := make([]byte, 4096)
	for {
		n, err := c.Conn.Read(chunk)
		if err != nil {
			return
		}

		for _, line := range buffer.Feed(chunk[:n]) {
			if strings.TrimSpace(line) == "" {
				continue
			}

			msg := irc.ParseMessage(line)
			if msg == nil {
				log.Printf("[%s] dropped unparseable line: %q", c.Hostname, line)
				continue
			}

			log.Printf("[%s] <= %s", c.Hostname, line)

			// A handler error is a server-side fault on this connection;
			// it never takes down another client.
			if err := c.handleMessage(msg); err != nil {
				log.Printf("[%s] error handling %s: %v", c.Hostname, msg.Command, err)
			}

			select {
			case <-c.quit:
				return
			default:
			}
		}
	}
}

// handleMessage dispatches a message through the hook table
func (c *Client) handleMessage(msg *irc.Message) error {
	c.mu.Lock()
	c.LastPong = time.Now()
	c.mu.Unlock()

	return c.Server.RunHooks(msg.Command, &HookParams{
		Server:  c.Server,
		Client:  c,
		Message: msg,
	})
}

// IsRegistered reports whether the client completed registration
func (c *Client) IsRegistered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Registered
}

// HasRole reports whether the client carries the given role
func (c *Client) HasRole(role string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// SendRaw sends a raw line to the client
func (c *Client) SendRaw(message string) {
	if !strings.HasSuffix(message, "\r\n") {
		message += "\r\n"
	}
	c.Conn.Write([]byte(message))
}

// SendMessage sends a protocol message to the client
func (c *Client) SendMessage(prefix, command string, params ...string) {
	msg := &irc.Message{
		Prefix:  prefix,
		Command: command,
		Params:  params,
	}
	c.SendRaw(msg.String())
}

// sendNumeric sends a numeric reply with the client's nick as first target.
// Unregistered clients are addressed as `*`.
func (c *Client) sendNumeric(numeric string, params ...string) {
	c.mu.RLock()
	nick := c.Nickname
	c.mu.RUnlock()
	if nick == "" {
		nick = "*"
	}
	c.SendMessage(c.Server.GetConfig().Server.Name, numeric, append([]string{nick}, params...)...)
}

// Hostmask returns the client's nick!user@host prefix
func (c *Client) Hostmask() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return irc.FormatHostmask(c.Nickname, c.Username, c.Hostname)
}

// tryRegister completes registration once both NICK and USER arrived.
// Registration resolves the account behind the nickname; actively banned
// accounts are refused and disconnected.
func (c *Client) tryRegister() error {
	c.mu.RLock()
	ready := !c.Registered && c.Nickname != "" && c.Username != ""
	nick := c.Nickname
	c.mu.RUnlock()
	if !ready {
		return nil
	}

	user, err := c.Server.Store().FindUserByName(nick)
	if err != nil {
		return fmt.Errorf("resolve account %q: %w", nick, err)
	}
	if user == nil {
		user, err = c.Server.Store().CreateUser(nick)
		if err != nil {
			return fmt.Errorf("create account %q: %w", nick, err)
		}
	}

	if user.BanActive(time.Now()) {
		reason := user.BanReason
		if reason == "" {
			reason = "You are banned from this server"
		}
		log.Printf("[%s] refused banned user %q: %s", c.Hostname, nick, reason)
		c.SendRaw(fmt.Sprintf("ERROR :Closing Link: %s (%s)", nick, reason))
		c.Quit(reason)
		return nil
	}

	c.mu.Lock()
	c.Registered = true
	c.UserID = user.ID
	c.Roles = user.RoleSet()
	c.mu.Unlock()

	if err := c.Server.Store().SetUserOnline(user.ID, true); err != nil {
		log.Printf("[%s] failed to mark %q online: %v", c.Hostname, nick, err)
	}
	registrationsTotal.Inc()

	c.SendWelcome()

	// Every registered user lands in the default channel.
	if err := c.Server.channels.Join(c, DefaultChannel); err != nil {
		log.Printf("[%s] failed to auto-join %s: %v", c.Hostname, DefaultChannel, err)
	}

	return nil
}

// SendWelcome sends the registration numerics and the MOTD
func (c *Client) SendWelcome() {
	serverName := c.Server.GetConfig().Server.Name
	networkName := c.Server.GetConfig().Server.Network

	c.mu.RLock()
	nick, user, host := c.Nickname, c.Username, c.Hostname
	c.mu.RUnlock()

	c.SendMessage(serverName, irc.RPL_WELCOME, nick, fmt.Sprintf("Welcome to the %s network %s!%s@%s", networkName, nick, user, host))
	c.SendMessage(serverName, irc.RPL_YOURHOST, nick, fmt.Sprintf("Your host is %s, running version ircapp-1.0", serverName))
	c.SendMessage(serverName, irc.RPL_CREATED, nick, fmt.Sprintf("This server was created %s", c.Server.startTime.Format(time.RFC1123)))
	c.SendMessage(serverName, irc.RPL_MYINFO, nick, serverName, "ircapp-1.0", "i", "nt")

	c.SendMessage(serverName, irc.RPL_MOTDSTART, nick, fmt.Sprintf("- %s Message of the Day -", serverName))
	c.SendMessage(serverName, irc.RPL_MOTD, nick, fmt.Sprintf("- Welcome to %s", networkName))
	c.SendMessage(serverName, irc.RPL_ENDOFMOTD, nick, "End of /MOTD command")
}

// PartChannel makes the client leave a channel
func (c *Client) PartChannel(channelName, reason string) bool {
	c.mu.RLock()
	channel, ok := c.Channels[strings.ToLower(channelName)]
	c.mu.RUnlock()
	if !ok {
		return false
	}

	channel.SendToAll(fmt.Sprintf(":%s PART %s :%s", c.Hostmask(), channel.Name, reason), nil)
	c.Server.channels.Leave(c, channel)
	return true
}

// Quit disconnects the client, broadcasting a quit notice to its channels.
// Safe to call more than once; only the first call does the work.
func (c *Client) Quit(message string) {
	c.mu.Lock()
	select {
	case <-c.quit:
		c.mu.Unlock()
		return
	default:
		close(c.quit)
	}
	channels := make([]*Channel, 0, len(c.Channels))
	for _, channel := range c.Channels {
		channels = append(channels, channel)
	}
	registered := c.Registered
	userID := c.UserID
	nick := c.Nickname
	c.mu.Unlock()

	notice := fmt.Sprintf(":%s QUIT :%s", c.Hostmask(), message)
	for _, channel := range channels {
		channel.SendToAll(notice, c)
		c.Server.channels.Leave(c, channel)
	}

	// The claim exists as soon as NICK succeeds, before registration
	// completes, so it must be released regardless.
	if nick != "" {
		c.Server.users.Release(nick, c)
	}
	if registered {
		if err := c.Server.Store().SetUserOnline(userID, false); err != nil {
			log.Printf("[%s] failed to mark %q offline: %v", c.Hostname, nick, err)
		}
	}
	c.Server.RemoveClient(c)

	if c.Conn != nil {
		c.Conn.SetReadDeadline(time.Now())
		c.Conn.Close()
	}
}
