package server

import (
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/datRooster/ircapp/irc"
	"github.com/datRooster/ircapp/irc/store"
)

// handleNick handles the NICK command
func handleNick(params *HookParams) error {
	client := params.Client
	message := params.Message

	if len(message.Params) < 1 {
		client.sendNumeric(irc.ERR_NONICKNAMEGIVEN, "No nickname given")
		return nil
	}

	newNick := message.Params[0]
	if !nicknamePattern.MatchString(newNick) {
		client.sendNumeric(irc.ERR_ERRONEUSNICKNAME, newNick, "Erroneous nickname")
		return nil
	}

	client.mu.RLock()
	oldNick := client.Nickname
	wasRegistered := client.Registered
	client.mu.RUnlock()

	if wasRegistered {
		if !client.Server.users.Rename(oldNick, newNick, client) {
			client.sendNumeric(irc.ERR_NICKNAMEINUSE, newNick, "Nickname is already in use")
			return nil
		}

		client.mu.Lock()
		client.Nickname = newNick
		channels := make([]*Channel, 0, len(client.Channels))
		for _, channel := range client.Channels {
			channels = append(channels, channel)
		}
		client.mu.Unlock()

		notice := fmt.Sprintf(":%s NICK %s", irc.FormatHostmask(oldNick, client.Username, client.Hostname), newNick)
		for _, channel := range channels {
			channel.SendToAll(notice, nil)
		}
		return nil
	}

	// A losing claim leaves the current holder untouched.
	if !client.Server.users.Claim(newNick, client) {
		client.sendNumeric(irc.ERR_NICKNAMEINUSE, newNick, "Nickname is already in use")
		return nil
	}

	client.mu.Lock()
	if client.Nickname != "" && !strings.EqualFold(client.Nickname, newNick) {
		client.Server.users.Release(client.Nickname, client)
	}
	client.Nickname = newNick
	client.mu.Unlock()

	return client.tryRegister()
}

// handleUser handles the USER command
func handleUser(params *HookParams) error {
	client := params.Client
	message := params.Message

	if len(message.Params) < 4 {
		client.sendNumeric(irc.ERR_NEEDMOREPARAMS, "USER", "Not enough parameters")
		return nil
	}

	if client.IsRegistered() {
		return nil
	}

	client.mu.Lock()
	client.Username = message.Params[0]
	client.Realname = message.Params[3]
	client.mu.Unlock()

	return client.tryRegister()
}

// handleJoin handles the JOIN command
func handleJoin(params *HookParams) error {
	client := params.Client
	message := params.Message

	if len(message.Params) < 1 {
		client.sendNumeric(irc.ERR_NEEDMOREPARAMS, "JOIN", "Not enough parameters")
		return nil
	}

	for _, channelName := range strings.Split(message.Params[0], ",") {
		if !strings.HasPrefix(channelName, "#") {
			client.sendNumeric(irc.ERR_NOSUCHCHANNEL, channelName, "No such channel")
			continue
		}

		err := client.Server.channels.Join(client, channelName)
		switch {
		case err == nil:
		case err == ErrJoinDenied:
			client.sendNumeric(irc.ERR_INVITEONLYCHAN, channelName, "Cannot join channel - insufficient privileges")
		default:
			log.Printf("[%s] join %s failed: %v", client.Hostname, channelName, err)
			client.sendNumeric(irc.ERR_NOSUCHCHANNEL, channelName, "No such channel")
		}
	}

	return nil
}

// handlePart handles the PART command
func handlePart(params *HookParams) error {
	client := params.Client
	message := params.Message

	if len(message.Params) < 1 {
		client.sendNumeric(irc.ERR_NEEDMOREPARAMS, "PART", "Not enough parameters")
		return nil
	}

	reason := "Leaving"
	if len(message.Params) > 1 {
		reason = message.Params[1]
	}

	for _, channelName := range strings.Split(message.Params[0], ",") {
		if !client.PartChannel(channelName, reason) {
			client.sendNumeric(irc.ERR_NOTONCHANNEL, channelName, "You're not on that channel")
		}
	}

	return nil
}

// authorPattern extracts the display author from relayed messages shaped
// `[name] text`. Best effort: a plain message keeps its sender as author.
var authorPattern = regexp.MustCompile(`(?s)^\s*\[([^\]]+)\]\s*(.*)$`)

// ExtractAuthor splits a `[name] text` line into its author label and body.
func ExtractAuthor(text string) (author, body string, ok bool) {
	m := authorPattern.FindStringSubmatch(text)
	if m == nil {
		return "", text, false
	}
	return m[1], m[2], true
}

// handlePrivmsg handles the PRIVMSG command
func handlePrivmsg(params *HookParams) error {
	client := params.Client
	message := params.Message

	if len(message.Params) < 1 {
		client.sendNumeric(irc.ERR_NEEDMOREPARAMS, "PRIVMSG", "Not enough parameters")
		return nil
	}

	target := message.Params[0]
	var text string
	if len(message.Params) > 1 {
		text = message.Params[1]
	}
	if text == "" {
		client.sendNumeric(irc.ERR_NOTEXTTOSEND, "No text to send")
		return nil
	}

	if strings.HasPrefix(target, "#") {
		channel := client.Server.channels.Get(target)
		if channel == nil {
			client.sendNumeric(irc.ERR_NOSUCHCHANNEL, target, "No such channel")
			return nil
		}
		if !channel.IsMember(client) {
			client.sendNumeric(irc.ERR_NOTONCHANNEL, target, "You're not on that channel")
			return nil
		}

		if err := client.Server.persistChannelMessage(client, channel, text); err != nil {
			log.Printf("[%s] failed to persist message to %s: %v", client.Hostname, channel.Name, err)
		}

		channel.SendToAll(fmt.Sprintf(":%s PRIVMSG %s :%s", client.Hostmask(), channel.Name, text), client)
		messagesTotal.WithLabelValues("channel").Inc()
		return nil
	}

	// Direct messages are delivered live and never persisted.
	targetClient := client.Server.GetClient(target)
	if targetClient == nil {
		client.sendNumeric(irc.ERR_NOSUCHNICK, target, "No such nick/channel")
		return nil
	}
	targetClient.SendRaw(fmt.Sprintf(":%s PRIVMSG %s :%s", client.Hostmask(), targetClient.Nickname, text))
	messagesTotal.WithLabelValues("direct").Inc()

	return nil
}

// persistChannelMessage stores a channel message, sealed when the server
// carries a message key. Relayed lines shaped `[name] text` are attributed
// to the named account rather than the relaying connection.
func (s *Server) persistChannelMessage(client *Client, channel *Channel, text string) error {
	userID := client.UserID
	if author, _, ok := ExtractAuthor(text); ok {
		user, err := s.store.FindUserByName(author)
		if err != nil {
			return err
		}
		if user == nil {
			user, err = s.store.CreateUser(author)
			if err != nil {
				return err
			}
		}
		userID = user.ID
	}

	msg := &store.Message{
		Content:   text,
		UserID:    userID,
		ChannelID: channel.StoreID,
		Type:      "TEXT",
	}
	if s.cipher != nil {
		sealed, err := s.cipher.Seal(text)
		if err != nil {
			return err
		}
		msg.Content = sealed.Content
		msg.IV = sealed.IV
		msg.KeyID = s.config.Secure.KeyID
		msg.Encrypted = true
	}

	_, err := s.store.CreateMessage(msg)
	return err
}

// handleTopic handles the TOPIC command
func handleTopic(params *HookParams) error {
	client := params.Client
	message := params.Message

	if len(message.Params) < 1 {
		client.sendNumeric(irc.ERR_NEEDMOREPARAMS, "TOPIC", "Not enough parameters")
		return nil
	}

	channelName := message.Params[0]
	channel := client.Server.channels.Get(channelName)
	if channel == nil {
		client.sendNumeric(irc.ERR_NOSUCHCHANNEL, channelName, "No such channel")
		return nil
	}
	if !channel.IsMember(client) {
		client.sendNumeric(irc.ERR_NOTONCHANNEL, channelName, "You're not on that channel")
		return nil
	}

	// Read
	if len(message.Params) < 2 {
		if topic := channel.GetTopic(); topic != "" {
			client.sendNumeric(irc.RPL_TOPIC, channel.Name, topic)
		} else {
			client.sendNumeric(irc.RPL_NOTOPIC, channel.Name, "No topic is set")
		}
		return nil
	}

	// Write: moderators and admins only
	if !client.HasRole(store.RoleModerator) && !client.HasRole(store.RoleAdmin) {
		client.sendNumeric(irc.ERR_CHANOPRIVSNEEDED, channel.Name, "You're not a channel operator")
		return nil
	}

	topic := message.Params[1]
	if err := client.Server.channels.UpdateTopic(channel, topic); err != nil {
		return fmt.Errorf("update topic for %s: %w", channel.Name, err)
	}

	channel.SendToAll(fmt.Sprintf(":%s TOPIC %s :%s", client.Hostmask(), channel.Name, topic), nil)
	return nil
}

// handleQuit handles the QUIT command
func handleQuit(params *HookParams) error {
	reason := "Client Quit"
	if len(params.Message.Params) > 0 {
		reason = params.Message.Params[0]
	}
	params.Client.Quit(reason)
	return nil
}

// handlePing handles the PING command
func handlePing(params *HookParams) error {
	client := params.Client
	message := params.Message

	if len(message.Params) < 1 {
		client.sendNumeric(irc.ERR_NEEDMOREPARAMS, "PING", "Not enough parameters")
		return nil
	}

	serverName := client.Server.GetConfig().Server.Name
	client.SendMessage(serverName, "PONG", serverName, message.Params[0])
	return nil
}

// handlePong handles the PONG command
func handlePong(params *HookParams) error {
	// Liveness is refreshed for every inbound line in handleMessage.
	return nil
}

// handleList handles the LIST command, listing public channels from the
// store with live member counts for the active ones.
func handleList(params *HookParams) error {
	client := params.Client

	client.sendNumeric(irc.RPL_LISTSTART, "Channel", "Users Name")

	channels, err := client.Server.Store().ListChannels()
	if err != nil {
		log.Printf("[%s] LIST failed: %v", client.Hostname, err)
		client.sendNumeric(irc.RPL_LISTEND, "End of LIST")
		return nil
	}

	for _, row := range channels {
		name := "#" + row.Name
		count := 0
		topic := row.Topic
		if active := client.Server.channels.Get(name); active != nil {
			count = active.MemberCount()
			topic = active.GetTopic()
		}
		client.sendNumeric(irc.RPL_LIST, name, fmt.Sprintf("%d", count), topic)
	}

	client.sendNumeric(irc.RPL_LISTEND, "End of LIST")
	return nil
}

// handleNames handles the NAMES command
func handleNames(params *HookParams) error {
	client := params.Client
	message := params.Message

	if len(message.Params) > 0 {
		for _, channelName := range strings.Split(message.Params[0], ",") {
			if channel := client.Server.channels.Get(channelName); channel != nil {
				channel.SendNames(client)
			} else {
				client.sendNumeric(irc.RPL_ENDOFNAMES, channelName, "End of /NAMES list")
			}
		}
		return nil
	}

	for _, channel := range client.Server.channels.Active() {
		channel.SendNames(client)
	}
	return nil
}

// handleWho handles the WHO command with the minimal end-marker reply.
func handleWho(params *HookParams) error {
	client := params.Client

	mask := "*"
	if len(params.Message.Params) > 0 {
		mask = params.Message.Params[0]
	}
	client.sendNumeric(irc.RPL_ENDOFWHO, mask, "End of WHO list")
	return nil
}

// handleWhois handles the WHOIS command
func handleWhois(params *HookParams) error {
	client := params.Client
	message := params.Message

	if len(message.Params) < 1 {
		client.sendNumeric(irc.ERR_NONICKNAMEGIVEN, "No nickname given")
		return nil
	}

	target := message.Params[0]
	targetClient := client.Server.GetClient(target)
	if targetClient == nil {
		client.sendNumeric(irc.ERR_NOSUCHNICK, target, "No such nick/channel")
		client.sendNumeric(irc.RPL_ENDOFWHOIS, target, "End of WHOIS list")
		return nil
	}

	targetClient.mu.RLock()
	nick, user, host, real := targetClient.Nickname, targetClient.Username, targetClient.Hostname, targetClient.Realname
	targetClient.mu.RUnlock()

	client.sendNumeric(irc.RPL_WHOISUSER, nick, user, host, "*", real)
	client.sendNumeric(irc.RPL_ENDOFWHOIS, nick, "End of WHOIS list")
	return nil
}

// handleMode handles the MODE command with the static channel and user
// mode replies.
func handleMode(params *HookParams) error {
	client := params.Client
	message := params.Message

	if len(message.Params) < 1 {
		client.sendNumeric(irc.ERR_NEEDMOREPARAMS, "MODE", "Not enough parameters")
		return nil
	}

	target := message.Params[0]
	if strings.HasPrefix(target, "#") {
		channel := client.Server.channels.Get(target)
		if channel == nil {
			client.sendNumeric(irc.ERR_NOSUCHCHANNEL, target, "No such channel")
			return nil
		}
		client.sendNumeric(irc.RPL_CHANNELMODEIS, channel.Name, "+nt")
		return nil
	}

	client.sendNumeric(irc.RPL_UMODEIS, "+i")
	return nil
}
