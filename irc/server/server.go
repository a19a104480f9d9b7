// Package server implements the community chat protocol server: the TCP
// accept loop, per-connection state machines, channel and nickname
// registries, and the liveness sweep.
package server

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/datRooster/ircapp/irc"
	"github.com/datRooster/ircapp/irc/config"
	"github.com/datRooster/ircapp/irc/secure"
	"github.com/datRooster/ircapp/irc/store"
)

// Liveness constants: a connection silent for ProbeAfter gets a PING, one
// silent past Cutoff is force-closed. The sweep runs every SweepInterval.
const (
	ProbeAfter    = 60 * time.Second
	Cutoff        = 120 * time.Second
	SweepInterval = 30 * time.Second
)

// DefaultChannel is always open to every registered user.
const DefaultChannel = "#lobby"

// Server represents the chat protocol server
type Server struct {
	config    *config.Config
	store     *store.Store
	cipher    *secure.Cipher
	startTime time.Time

	probeAfter    time.Duration
	cutoff        time.Duration
	sweepInterval time.Duration
	clients   sync.Map // map[string]*Client, keyed by connection ID
	channels  *ChannelRegistry
	users     *UserRegistry
	hooks     map[string][]Hook
	mu        sync.RWMutex
	listener  net.Listener
	admin     *AdminAPI
	quit      chan struct{}
	quitOnce  sync.Once
}

// Hook is a function that can be registered to handle a command
type Hook func(params *HookParams) error

// HookParams carries context for hooks
type HookParams struct {
	Server  *Server
	Client  *Client
	Message *irc.Message
}

// NewServer creates a new protocol server
func NewServer(cfg *config.Config, st *store.Store) (*Server, error) {
	srv := &Server{
		config:        cfg,
		store:         st,
		startTime:     time.Now(),
		probeAfter:    ProbeAfter,
		cutoff:        Cutoff,
		sweepInterval: SweepInterval,
		hooks:         make(map[string][]Hook),
		quit:          make(chan struct{}),
	}
	srv.channels = NewChannelRegistry(st)
	srv.users = NewUserRegistry(st)

	// Message encryption is optional on the server side; without a key,
	// channel traffic is persisted in the clear.
	if cfg.Secure.Key != "" {
		cipher, err := secure.NewCipher(cfg.Secure.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize message cipher: %v", err)
		}
		srv.cipher = cipher
	}

	if cfg.Admin.Enabled {
		srv.admin = NewAdminAPI(srv, cfg)
	}

	srv.registerDefaultHooks()

	return srv, nil
}

// Start starts the server
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.GetListenAddress())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %v", s.config.GetListenAddress(), err)
	}
	s.listener = listener
	log.Printf("[SERVER] listening on %s", s.config.GetListenAddress())

	if s.admin != nil {
		go func() {
			if err := s.admin.Start(); err != nil {
				log.Printf("[SERVER] admin endpoint stopped: %v", err)
			}
		}()
	}

	go s.acceptConnections()
	go s.sweepLoop()

	return nil
}

// Stop stops the server
func (s *Server) Stop() error {
	s.quitOnce.Do(func() { close(s.quit) })

	if s.listener != nil {
		s.listener.Close()
	}
	if s.admin != nil {
		s.admin.Stop()
	}

	clientsToDisconnect := make([]*Client, 0)
	s.clients.Range(func(key, value interface{}) bool {
		clientsToDisconnect = append(clientsToDisconnect, value.(*Client))
		return true
	})
	for _, client := range clientsToDisconnect {
		client.Quit("Server shutting down")
	}

	return nil
}

// acceptConnections accepts and handles new connections
func (s *Server) acceptConnections() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				log.Printf("[SERVER] failed to accept connection: %v", err)
				continue
			}
		}

		go s.handleConnection(conn)
	}
}

// handleConnection handles a new connection
func (s *Server) handleConnection(conn net.Conn) {
	client := NewClient(s, conn)
	s.clients.Store(client.ID, client)
	connectionsTotal.Inc()
	connectedClients.Inc()

	client.Handle()
}

// sweepLoop probes idle connections and closes dead ones. A timeout
// disconnection runs through the normal quit path, so channel members see
// an ordinary QUIT notice.
func (s *Server) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			s.clients.Range(func(key, value interface{}) bool {
				client := value.(*Client)
				client.mu.RLock()
				lastPong := client.LastPong
				lastProbe := client.LastProbe
				client.mu.RUnlock()

				if now.Sub(lastPong) >= s.cutoff {
					log.Printf("[SERVER] [%s] ping timeout", client.Hostname)
					client.Quit("Ping timeout")
					return true
				}
				if now.Sub(lastProbe) >= s.probeAfter {
					client.mu.Lock()
					client.LastProbe = now
					client.mu.Unlock()
					client.SendMessage(s.config.Server.Name, "PING", s.config.Server.Name)
				}
				return true
			})
		case <-s.quit:
			return
		}
	}
}

// SetLivenessIntervals overrides the probe/cutoff/sweep timing. It must be
// called before Start.
func (s *Server) SetLivenessIntervals(probeAfter, cutoff, sweep time.Duration) {
	s.probeAfter = probeAfter
	s.cutoff = cutoff
	s.sweepInterval = sweep
}

// RegisterHook registers a hook for a command
func (s *Server) RegisterHook(command string, hook Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[command] = append(s.hooks[command], hook)
}

// RunHooks runs all hooks for a command. Unknown commands get a 421 for
// registered clients; unregistered clients get 451 for anything but the
// registration commands.
func (s *Server) RunHooks(command string, params *HookParams) error {
	s.mu.RLock()
	hooks := s.hooks[command]
	s.mu.RUnlock()

	if len(hooks) == 0 {
		params.Client.sendNumeric(irc.ERR_UNKNOWNCOMMAND, command, "Unknown command")
		return nil
	}

	if !params.Client.IsRegistered() && !isRegistrationCommand(command) {
		params.Client.sendNumeric(irc.ERR_NOTREGISTERED, "You have not registered")
		return nil
	}

	commandsTotal.WithLabelValues(command).Inc()

	for _, hook := range hooks {
		if err := hook(params); err != nil {
			return err
		}
	}
	return nil
}

func isRegistrationCommand(command string) bool {
	switch command {
	case "NICK", "USER", "PING", "PONG", "QUIT":
		return true
	}
	return false
}

// registerDefaultHooks registers the default command handlers
func (s *Server) registerDefaultHooks() {
	s.RegisterHook("NICK", handleNick)
	s.RegisterHook("USER", handleUser)
	s.RegisterHook("JOIN", handleJoin)
	s.RegisterHook("PART", handlePart)
	s.RegisterHook("PRIVMSG", handlePrivmsg)
	s.RegisterHook("TOPIC", handleTopic)
	s.RegisterHook("QUIT", handleQuit)
	s.RegisterHook("PING", handlePing)
	s.RegisterHook("PONG", handlePong)
	s.RegisterHook("LIST", handleList)
	s.RegisterHook("NAMES", handleNames)
	s.RegisterHook("WHO", handleWho)
	s.RegisterHook("WHOIS", handleWhois)
	s.RegisterHook("MODE", handleMode)
}

// GetClient gets a registered client by nickname, case-insensitively
func (s *Server) GetClient(nickname string) *Client {
	return s.users.Get(nickname)
}

// RemoveClient removes a client from the server registries
func (s *Server) RemoveClient(client *Client) {
	s.clients.Delete(client.ID)
	connectedClients.Dec()
}

// BanUser flags the account and force-disconnects any live session. A nil
// until bans permanently.
func (s *Server) BanUser(username, reason string, until *time.Time) error {
	return s.users.Ban(username, reason, until)
}

// UnbanUser clears the account's ban
func (s *Server) UnbanUser(username string) error {
	return s.users.Unban(username)
}

// SetUserRole changes the account's role, applying it to any live session
func (s *Server) SetUserRole(username, role string) error {
	return s.users.SetRole(username, role)
}

// GetConfig returns the server configuration
func (s *Server) GetConfig() *config.Config {
	return s.config
}

// Store returns the persistence layer
func (s *Server) Store() *store.Store {
	return s.store
}

// GetUptime returns the server uptime
func (s *Server) GetUptime() time.Duration {
	return time.Since(s.startTime)
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	count := 0
	s.clients.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}
