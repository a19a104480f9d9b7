package server_test

import (
	"bufio"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datRooster/ircapp/irc/config"
	"github.com/datRooster/ircapp/irc/secure"
	"github.com/datRooster/ircapp/irc/server"
	"github.com/datRooster/ircapp/irc/store"
)

type IRCClient struct {
	Conn   net.Conn
	Reader *bufio.Reader
}

// NewIRCClient connects a raw test client to the server
func NewIRCClient(t *testing.T, address string) *IRCClient {
	conn, err := net.Dial("tcp", address)
	require.NoError(t, err, "Should connect to the server")

	return &IRCClient{
		Conn:   conn,
		Reader: bufio.NewReader(conn),
	}
}

// Send sends a line to the server
func (c *IRCClient) Send(message string) error {
	_, err := c.Conn.Write([]byte(message + "\r\n"))
	return err
}

// Expect reads lines until one contains the expected string
func (c *IRCClient) Expect(t *testing.T, expected string, timeout time.Duration) (string, error) {
	c.Conn.SetReadDeadline(time.Now().Add(timeout))
	defer c.Conn.SetReadDeadline(time.Time{})

	for {
		line, err := c.Reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("waiting for %q: %w", expected, err)
		}

		line = strings.TrimSpace(line)
		if strings.Contains(line, expected) {
			return line, nil
		}
	}
}

// Register performs the NICK/USER handshake and drains the welcome burst
func (c *IRCClient) Register(t *testing.T, nick string) {
	require.NoError(t, c.Send("NICK "+nick))
	require.NoError(t, c.Send(fmt.Sprintf("USER %s 0 * :%s", nick, nick)))
	_, err := c.Expect(t, "366", 2*time.Second)
	require.NoError(t, err, "Should finish registration and lobby auto-join")
}

// Close closes the connection
func (c *IRCClient) Close() error {
	return c.Conn.Close()
}

func freeAddress(t *testing.T) (string, int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return "127.0.0.1", port
}

func startTestServer(t *testing.T) (*server.Server, *store.Store, string) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	cfg := config.LoadDefault()
	cfg.Server.Host, cfg.Server.Port = freeAddress(t)

	key, err := secure.GenerateKey()
	require.NoError(t, err)
	cfg.Secure.Key = key

	srv, err := server.NewServer(cfg, st)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	return srv, st, cfg.GetListenAddress()
}

func TestRegistrationSequence(t *testing.T) {
	_, _, addr := startTestServer(t)

	client := NewIRCClient(t, addr)
	defer client.Close()

	require.NoError(t, client.Send("NICK alice"))
	require.NoError(t, client.Send("USER alice 0 * :Alice"))

	welcome, err := client.Expect(t, "001", 2*time.Second)
	require.NoError(t, err)
	assert.Contains(t, welcome, "alice")

	_, err = client.Expect(t, "376", 2*time.Second)
	require.NoError(t, err, "Should receive end of MOTD")

	join, err := client.Expect(t, "JOIN #lobby", 2*time.Second)
	require.NoError(t, err, "Should be auto-joined to the lobby")
	assert.Contains(t, join, "alice")

	_, err = client.Expect(t, "366", 2*time.Second)
	require.NoError(t, err, "Should receive end of NAMES for the lobby")
}

func TestCommandsBeforeRegistration(t *testing.T) {
	_, _, addr := startTestServer(t)

	client := NewIRCClient(t, addr)
	defer client.Close()

	require.NoError(t, client.Send("PRIVMSG #lobby :hi"))
	_, err := client.Expect(t, "451", 2*time.Second)
	require.NoError(t, err, "Should be told to register first")
}

func TestNicknameValidation(t *testing.T) {
	_, _, addr := startTestServer(t)

	client := NewIRCClient(t, addr)
	defer client.Close()

	require.NoError(t, client.Send("NICK"))
	_, err := client.Expect(t, "431", 2*time.Second)
	require.NoError(t, err)

	require.NoError(t, client.Send("NICK 9starts-with-digit"))
	_, err = client.Expect(t, "432", 2*time.Second)
	require.NoError(t, err)

	require.NoError(t, client.Send("NICK this-nickname-is-way-too-long"))
	_, err = client.Expect(t, "432", 2*time.Second)
	require.NoError(t, err)
}

func TestNicknameConflictLeavesHolderIntact(t *testing.T) {
	_, _, addr := startTestServer(t)

	first := NewIRCClient(t, addr)
	defer first.Close()
	first.Register(t, "alice")

	second := NewIRCClient(t, addr)
	defer second.Close()
	require.NoError(t, second.Send("NICK alice"))
	_, err := second.Expect(t, "433", 2*time.Second)
	require.NoError(t, err, "Second claim should be refused")

	// Case-insensitive conflict
	require.NoError(t, second.Send("NICK Alice"))
	_, err = second.Expect(t, "433", 2*time.Second)
	require.NoError(t, err)

	// The original holder still works
	require.NoError(t, first.Send("PING :token"))
	_, err = first.Expect(t, "PONG", 2*time.Second)
	require.NoError(t, err)
}

func TestChannelMessageFanout(t *testing.T) {
	_, st, addr := startTestServer(t)

	alice := NewIRCClient(t, addr)
	defer alice.Close()
	alice.Register(t, "alice")

	bob := NewIRCClient(t, addr)
	defer bob.Close()
	bob.Register(t, "bob")

	require.NoError(t, alice.Send("JOIN #general"))
	_, err := alice.Expect(t, "JOIN #general", 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, bob.Send("JOIN #general"))
	_, err = bob.Expect(t, "JOIN #general", 2*time.Second)
	require.NoError(t, err)

	require.NoError(t, alice.Send("PRIVMSG #general :hello everyone"))

	line, err := bob.Expect(t, "PRIVMSG #general", 2*time.Second)
	require.NoError(t, err, "Other members should receive the message")
	assert.Contains(t, line, "hello everyone")
	assert.Contains(t, line, "alice")

	// The sender gets no echo: the next thing alice sees is her own PING
	// round trip, not the message.
	require.NoError(t, alice.Send("PING :sync"))
	next, err := alice.Expect(t, "PONG", 2*time.Second)
	require.NoError(t, err)
	assert.NotContains(t, next, "hello everyone")

	// The message is persisted sealed, not in the clear
	channel, err := st.FindChannelByName("general")
	require.NoError(t, err)
	require.NotNil(t, channel)
	require.Eventually(t, func() bool {
		msgs, err := st.RecentMessages(channel.ID, 10)
		return err == nil && len(msgs) == 1
	}, 2*time.Second, 50*time.Millisecond)
	msgs, err := st.RecentMessages(channel.ID, 10)
	require.NoError(t, err)
	assert.True(t, msgs[0].Encrypted)
	assert.NotContains(t, msgs[0].Content, "hello everyone")
	assert.NotEmpty(t, msgs[0].IV)
}

func TestRelayedMessageAttribution(t *testing.T) {
	_, st, addr := startTestServer(t)

	relay := NewIRCClient(t, addr)
	defer relay.Close()
	relay.Register(t, "webapp")

	require.NoError(t, relay.Send("JOIN #general"))
	_, err := relay.Expect(t, "JOIN #general", 2*time.Second)
	require.NoError(t, err)

	require.NoError(t, relay.Send("PRIVMSG #general :[carol] hi from the web"))

	require.Eventually(t, func() bool {
		user, err := st.FindUserByName("carol")
		return err == nil && user != nil
	}, 2*time.Second, 50*time.Millisecond)

	carol, err := st.FindUserByName("carol")
	require.NoError(t, err)
	channel, err := st.FindChannelByName("general")
	require.NoError(t, err)
	msgs, err := st.RecentMessages(channel.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, carol.ID, msgs[0].UserID)
}

func TestPartAndNotOnChannel(t *testing.T) {
	_, _, addr := startTestServer(t)

	bob := NewIRCClient(t, addr)
	defer bob.Close()
	bob.Register(t, "bob")

	client := NewIRCClient(t, addr)
	defer client.Close()
	client.Register(t, "alice")

	require.NoError(t, client.Send("PART #nowhere"))
	_, err := client.Expect(t, "442", 2*time.Second)
	require.NoError(t, err)

	require.NoError(t, client.Send("PART #lobby"))
	_, err = client.Expect(t, "PART #lobby", 2*time.Second)
	require.NoError(t, err)

	// bob still holds the lobby open, so messaging after parting is a
	// membership refusal
	require.NoError(t, client.Send("PRIVMSG #lobby :anyone"))
	_, err = client.Expect(t, "442", 2*time.Second)
	require.NoError(t, err)

	// Once the last member leaves, the runtime channel is gone entirely
	require.NoError(t, bob.Send("PART #lobby"))
	_, err = bob.Expect(t, ":bob!", 2*time.Second)
	require.NoError(t, err)

	require.NoError(t, client.Send("PRIVMSG #lobby :anyone"))
	_, err = client.Expect(t, "403", 2*time.Second)
	require.NoError(t, err)
}

func TestTopicRequiresModerator(t *testing.T) {
	_, st, addr := startTestServer(t)

	// mod exists with the moderator role before connecting
	_, err := st.CreateUser("mod")
	require.NoError(t, err)
	require.NoError(t, st.SetUserRole("mod", store.RoleModerator))

	user := NewIRCClient(t, addr)
	defer user.Close()
	user.Register(t, "plain")

	require.NoError(t, user.Send("TOPIC #lobby :new topic"))
	_, err = user.Expect(t, "482", 2*time.Second)
	require.NoError(t, err, "Plain users cannot set topics")

	mod := NewIRCClient(t, addr)
	defer mod.Close()
	mod.Register(t, "mod")

	require.NoError(t, mod.Send("TOPIC #lobby :welcome to the lobby"))
	line, err := user.Expect(t, "TOPIC #lobby", 2*time.Second)
	require.NoError(t, err, "Topic change should be broadcast")
	assert.Contains(t, line, "welcome to the lobby")

	// Persisted
	require.Eventually(t, func() bool {
		ch, err := st.FindChannelByName("lobby")
		return err == nil && ch != nil && ch.Topic == "welcome to the lobby"
	}, 2*time.Second, 50*time.Millisecond)

	// Readable back
	require.NoError(t, user.Send("TOPIC #lobby"))
	_, err = user.Expect(t, "332", 2*time.Second)
	require.NoError(t, err)
}

func TestRoleGatedJoin(t *testing.T) {
	_, st, addr := startTestServer(t)

	// staff channel requires the admin role
	_, err := st.FindOrCreateChannel("staff", "system")
	require.NoError(t, err)
	require.NoError(t, st.SetChannelAccess("staff", store.RoleAdmin, false))

	_, err = st.CreateUser("boss")
	require.NoError(t, err)
	require.NoError(t, st.SetUserRole("boss", store.RoleAdmin))

	plain := NewIRCClient(t, addr)
	defer plain.Close()
	plain.Register(t, "plain")

	require.NoError(t, plain.Send("JOIN #staff"))
	_, err = plain.Expect(t, "473", 2*time.Second)
	require.NoError(t, err, "Role gate should refuse plain users")

	boss := NewIRCClient(t, addr)
	defer boss.Close()
	boss.Register(t, "boss")

	require.NoError(t, boss.Send("JOIN #staff"))
	_, err = boss.Expect(t, "JOIN #staff", 2*time.Second)
	require.NoError(t, err, "Admins pass the role gate")
}

func TestDirectMessages(t *testing.T) {
	_, _, addr := startTestServer(t)

	alice := NewIRCClient(t, addr)
	defer alice.Close()
	alice.Register(t, "alice")

	bob := NewIRCClient(t, addr)
	defer bob.Close()
	bob.Register(t, "bob")

	require.NoError(t, alice.Send("PRIVMSG bob :psst"))
	line, err := bob.Expect(t, "PRIVMSG bob", 2*time.Second)
	require.NoError(t, err)
	assert.Contains(t, line, "psst")

	require.NoError(t, alice.Send("PRIVMSG ghost :anyone"))
	_, err = alice.Expect(t, "401", 2*time.Second)
	require.NoError(t, err)

	require.NoError(t, alice.Send("PRIVMSG bob :"))
	_, err = alice.Expect(t, "412", 2*time.Second)
	require.NoError(t, err)
}

func TestListAndNamesAndWho(t *testing.T) {
	_, _, addr := startTestServer(t)

	client := NewIRCClient(t, addr)
	defer client.Close()
	client.Register(t, "alice")

	require.NoError(t, client.Send("LIST"))
	line, err := client.Expect(t, "322", 2*time.Second)
	require.NoError(t, err)
	assert.Contains(t, line, "#lobby")
	_, err = client.Expect(t, "323", 2*time.Second)
	require.NoError(t, err)

	require.NoError(t, client.Send("NAMES #lobby"))
	names, err := client.Expect(t, "353", 2*time.Second)
	require.NoError(t, err)
	assert.Contains(t, names, "alice")

	require.NoError(t, client.Send("WHO #lobby"))
	_, err = client.Expect(t, "315", 2*time.Second)
	require.NoError(t, err)
}

func TestWhoisAndMode(t *testing.T) {
	_, _, addr := startTestServer(t)

	client := NewIRCClient(t, addr)
	defer client.Close()
	client.Register(t, "alice")

	require.NoError(t, client.Send("WHOIS alice"))
	_, err := client.Expect(t, "311", 2*time.Second)
	require.NoError(t, err)
	_, err = client.Expect(t, "318", 2*time.Second)
	require.NoError(t, err)

	require.NoError(t, client.Send("WHOIS ghost"))
	_, err = client.Expect(t, "401", 2*time.Second)
	require.NoError(t, err)
	_, err = client.Expect(t, "318", 2*time.Second)
	require.NoError(t, err)

	require.NoError(t, client.Send("MODE #lobby"))
	mode, err := client.Expect(t, "324", 2*time.Second)
	require.NoError(t, err)
	assert.Contains(t, mode, "+nt")

	require.NoError(t, client.Send("MODE alice"))
	umode, err := client.Expect(t, "221", 2*time.Second)
	require.NoError(t, err)
	assert.Contains(t, umode, "+i")
}

func TestUnknownCommand(t *testing.T) {
	_, _, addr := startTestServer(t)

	client := NewIRCClient(t, addr)
	defer client.Close()
	client.Register(t, "alice")

	require.NoError(t, client.Send("BOGUS stuff"))
	_, err := client.Expect(t, "421", 2*time.Second)
	require.NoError(t, err)
}

func TestBannedUserRefused(t *testing.T) {
	_, st, addr := startTestServer(t)

	_, err := st.CreateUser("mallory")
	require.NoError(t, err)
	require.NoError(t, st.SetUserBan("mallory", true, "spamming", nil))

	client := NewIRCClient(t, addr)
	defer client.Close()

	require.NoError(t, client.Send("NICK mallory"))
	require.NoError(t, client.Send("USER mallory 0 * :Mallory"))

	line, err := client.Expect(t, "ERROR", 2*time.Second)
	require.NoError(t, err)
	assert.Contains(t, line, "spamming")
}

func TestQuitBroadcast(t *testing.T) {
	_, _, addr := startTestServer(t)

	alice := NewIRCClient(t, addr)
	defer alice.Close()
	alice.Register(t, "alice")

	bob := NewIRCClient(t, addr)
	defer bob.Close()
	bob.Register(t, "bob")

	require.NoError(t, alice.Send("QUIT :bye"))
	line, err := bob.Expect(t, "QUIT", 2*time.Second)
	require.NoError(t, err)
	assert.Contains(t, line, "bye")

	// The nickname is free again
	second := NewIRCClient(t, addr)
	defer second.Close()
	second.Register(t, "alice")
}

func TestLiveBanAndUnban(t *testing.T) {
	srv, _, addr := startTestServer(t)

	mallory := NewIRCClient(t, addr)
	defer mallory.Close()
	mallory.Register(t, "mallory")

	require.NoError(t, srv.BanUser("mallory", "spamming", nil))

	line, err := mallory.Expect(t, "ERROR", 2*time.Second)
	require.NoError(t, err, "Live session should be disconnected")
	assert.Contains(t, line, "spamming")

	// The ban also refuses a fresh registration
	again := NewIRCClient(t, addr)
	defer again.Close()
	require.NoError(t, again.Send("NICK mallory"))
	require.NoError(t, again.Send("USER mallory 0 * :Mallory"))
	_, err = again.Expect(t, "ERROR", 2*time.Second)
	require.NoError(t, err)

	require.NoError(t, srv.UnbanUser("mallory"))

	reformed := NewIRCClient(t, addr)
	defer reformed.Close()
	reformed.Register(t, "mallory")
}

func TestLiveRolePromotion(t *testing.T) {
	srv, st, addr := startTestServer(t)

	_, err := st.FindOrCreateChannel("staff", "system")
	require.NoError(t, err)
	require.NoError(t, st.SetChannelAccess("staff", store.RoleAdmin, false))

	user := NewIRCClient(t, addr)
	defer user.Close()
	user.Register(t, "newstaff")

	require.NoError(t, user.Send("JOIN #staff"))
	_, err = user.Expect(t, "473", 2*time.Second)
	require.NoError(t, err)

	// Promotion applies to the live session without reconnecting
	require.NoError(t, srv.SetUserRole("newstaff", store.RoleAdmin))

	require.NoError(t, user.Send("JOIN #staff"))
	_, err = user.Expect(t, "JOIN #staff", 2*time.Second)
	require.NoError(t, err, "Promoted user should pass the role gate")
}

func TestUnregisteredDisconnectFreesNickname(t *testing.T) {
	_, _, addr := startTestServer(t)

	// Claim a nickname but never finish registration
	ghost := NewIRCClient(t, addr)
	require.NoError(t, ghost.Send("NICK casper"))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, ghost.Close())
	time.Sleep(100 * time.Millisecond)

	claimant := NewIRCClient(t, addr)
	defer claimant.Close()
	claimant.Register(t, "casper")
}

func TestLivenessTimeoutSingleQuit(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	cfg := config.LoadDefault()
	cfg.Server.Host, cfg.Server.Port = freeAddress(t)

	key, err := secure.GenerateKey()
	require.NoError(t, err)
	cfg.Secure.Key = key

	srv, err := server.NewServer(cfg, st)
	require.NoError(t, err)
	srv.SetLivenessIntervals(200*time.Millisecond, 600*time.Millisecond, 50*time.Millisecond)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	addr := cfg.GetListenAddress()

	bob := NewIRCClient(t, addr)
	defer bob.Close()
	bob.Register(t, "bob")

	alice := NewIRCClient(t, addr)
	defer alice.Close()
	alice.Register(t, "alice")

	// bob stays alive; alice goes silent and should be swept
	stop := make(chan struct{})
	go func() {
		tick := time.NewTicker(100 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				bob.Send("PING keepalive")
			}
		}
	}()
	defer close(stop)

	quits := 0
	bob.Conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		line, err := bob.Reader.ReadString('\n')
		if err != nil {
			break
		}
		if strings.Contains(line, "alice") && strings.Contains(line, "QUIT") {
			quits++
			assert.Contains(t, line, "Ping timeout")
		}
	}
	assert.Equal(t, 1, quits, "A timed-out connection generates exactly one QUIT")

	// alice's socket was closed by the server
	alice.Conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, err := alice.Reader.ReadString('\n'); err != nil {
			break
		}
	}
}
