// Package bridge relays messages between the chat server and the webapp:
// one resilient client under the reserved bridge nickname, an HTTP surface
// the webapp pushes outbound messages through, and a webhook notifier for
// the inbound direction. Message bodies cross the bridge encrypted.
package bridge

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/lrstanley/girc"

	"github.com/datRooster/ircapp/irc/config"
	"github.com/datRooster/ircapp/irc/secure"
	"github.com/datRooster/ircapp/irc/store"
	"github.com/datRooster/ircapp/wait"
)

const (
	// reconnectDelay paces reconnection attempts after a dropped link.
	reconnectDelay = 2 * time.Second
	// joinWait caps how long an outbound send waits for its channel join
	// to be confirmed before falling back to a raw PRIVMSG.
	joinWait = 5 * time.Second
)

// Bridge is the webapp relay
type Bridge struct {
	config   *config.Config
	cipher   *secure.Cipher
	store    *store.Store
	notifier *Notifier
	suppress *Suppressor

	mu      sync.RWMutex
	client  *girc.Client
	joined  map[string]bool
	waiters map[string][]chan struct{}

	api  *API
	quit chan struct{}
	once sync.Once
}

// New creates the bridge. The message key is mandatory here: a bridge that
// cannot seal or open payloads must not start.
func New(cfg *config.Config, st *store.Store) (*Bridge, error) {
	key, err := cfg.RequireSecureKey()
	if err != nil {
		return nil, err
	}
	cipher, err := secure.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize message cipher: %v", err)
	}

	b := &Bridge{
		config:   cfg,
		cipher:   cipher,
		store:    st,
		notifier: NewNotifier(cfg.Bridge.WebhookURL, st),
		suppress: NewSuppressor(),
		joined:   make(map[string]bool),
		waiters:  make(map[string][]chan struct{}),
		quit:     make(chan struct{}),
	}
	b.api = NewAPI(b)

	return b, nil
}

// newClient builds a fresh protocol client. A new instance is created for
// every connection attempt; handlers do not survive a disconnect.
func (b *Bridge) newClient() *girc.Client {
	client := girc.New(girc.Config{
		Server: b.config.Bridge.Host,
		Port:   b.config.Bridge.Port,
		Nick:   b.config.Bridge.Nick,
		User:   b.config.Bridge.Nick,
		Name:   "Webapp Bridge",
	})

	client.Handlers.Add(girc.CONNECTED, func(c *girc.Client, e girc.Event) {
		log.Printf("[BOT] connected to %s as %s", b.config.GetBridgeServerAddress(), c.GetNick())
	})

	client.Handlers.Add(girc.JOIN, func(c *girc.Client, e girc.Event) {
		if e.Source == nil || !strings.EqualFold(e.Source.Name, c.GetNick()) || len(e.Params) == 0 {
			return
		}
		b.markJoined(e.Params[0])
	})

	client.Handlers.Add(girc.PRIVMSG, func(c *girc.Client, e girc.Event) {
		b.handleInbound(c, e)
	})

	client.Handlers.Add(girc.ERROR, func(c *girc.Client, e girc.Event) {
		log.Printf("[BOT] protocol error: %v", e.Params)
	})

	return client
}

// Run starts the HTTP surface and keeps the protocol link up until Stop.
// Reconnection uses a fixed delay; a successful connection blocks inside
// Connect until the link drops.
func (b *Bridge) Run() error {
	go func() {
		if err := b.api.Start(); err != nil {
			log.Printf("[BOT] api stopped: %v", err)
		}
	}()

	pacing := wait.NewFixedStrategy(reconnectDelay)
	for {
		select {
		case <-b.quit:
			return nil
		default:
		}

		client := b.newClient()
		b.mu.Lock()
		b.client = client
		b.joined = make(map[string]bool)
		b.mu.Unlock()

		if err := client.Connect(); err != nil {
			log.Printf("[BOT] connection lost: %v", err)
		}

		select {
		case <-b.quit:
			return nil
		default:
		}

		delay, _ := pacing.Next()
		log.Printf("[BOT] reconnecting in %s", delay)
		time.Sleep(delay)
	}
}

// Stop shuts the bridge down
func (b *Bridge) Stop() {
	b.once.Do(func() { close(b.quit) })
	b.api.Stop()

	b.mu.RLock()
	client := b.client
	b.mu.RUnlock()
	if client != nil {
		client.Close()
	}
}

// markJoined records a confirmed join and releases every send waiting on it
func (b *Bridge) markJoined(channel string) {
	key := strings.ToLower(channel)
	b.mu.Lock()
	b.joined[key] = true
	waiters := b.waiters[key]
	delete(b.waiters, key)
	b.mu.Unlock()

	for _, waiter := range waiters {
		close(waiter)
	}
	log.Printf("[BOT] joined %s", channel)
}

// ensureJoined makes sure the bridge is in the channel, joining it and
// waiting up to joinWait for confirmation. Returns false when the join was
// not confirmed in time; callers then fall back to a raw send.
func (b *Bridge) ensureJoined(client *girc.Client, channel string) bool {
	key := strings.ToLower(channel)

	b.mu.Lock()
	if b.joined[key] {
		b.mu.Unlock()
		return true
	}
	waiter := make(chan struct{})
	b.waiters[key] = append(b.waiters[key], waiter)
	b.mu.Unlock()

	client.Cmd.Join(channel)

	select {
	case <-waiter:
		return true
	case <-time.After(joinWait):
		log.Printf("[BOT] join of %s not confirmed after %s", channel, joinWait)
		return false
	}
}

// SendToChannel puts an outbound webapp message on the wire: the composed
// line is registered for echo suppression first, then delivered.
// originMessageID is the webapp's id for the message, kept in the
// suppression record.
func (b *Bridge) SendToChannel(channel, from, plaintext, originMessageID string) error {
	b.mu.RLock()
	client := b.client
	b.mu.RUnlock()
	if client == nil {
		return fmt.Errorf("not connected")
	}

	composed := fmt.Sprintf("[%s] %s", from, plaintext)
	b.suppress.Add(strings.ToLower(channel), composed, originMessageID)

	if b.ensureJoined(client, channel) {
		// Cmd.Message surfaces no error, so an unconfirmed join is the
		// only reachable trigger for the raw fallback below.
		client.Cmd.Message(channel, composed)
	} else {
		client.Send(&girc.Event{Command: girc.PRIVMSG, Params: []string{channel, composed}})
	}
	return nil
}

// SetTopic pushes a topic change as a raw TOPIC line
func (b *Bridge) SetTopic(channel, topic string) error {
	b.mu.RLock()
	client := b.client
	b.mu.RUnlock()
	if client == nil {
		return fmt.Errorf("not connected")
	}

	client.Send(&girc.Event{Command: "TOPIC", Params: []string{channel, topic}})
	return nil
}

// handleInbound relays a channel message to the webapp ingress, unless it
// is the bridge's own echo.
func (b *Bridge) handleInbound(c *girc.Client, e girc.Event) {
	if e.Source == nil || strings.EqualFold(e.Source.Name, c.GetNick()) {
		return
	}
	if len(e.Params) < 2 {
		return
	}
	target := e.Params[0]
	if !strings.HasPrefix(target, "#") {
		return
	}
	text := e.Last()

	if originID, hit := b.suppress.Consume(strings.ToLower(target), text); hit {
		log.Printf("[BOT] suppressed echo on %s (origin id %q)", target, originID)
		return
	}

	// from is the nick on the wire; realFrom is the display author when the
	// line carries the `[name] text` convention. The ingress attributes the
	// persisted message by realFrom.
	from := e.Source.Name
	realFrom := from
	if author, ok := extractAuthor(text); ok {
		realFrom = author
	}

	sealed, err := b.cipher.Seal(text)
	if err != nil {
		log.Printf("[BOT] failed to seal inbound message: %v", err)
		return
	}

	b.notifier.Notify(&RelayPayload{
		Action:    "irc-message",
		ChannelID: strings.TrimPrefix(target, "#"),
		Content:   sealed.Content,
		From:      from,
		RealFrom:  realFrom,
		Encrypted: true,
		IV:        sealed.IV,
	})
}
