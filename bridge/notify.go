package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/datRooster/ircapp/irc/store"
	"github.com/datRooster/ircapp/wait"
)

// Retry pacing for background webhook notification: base delay doubling
// per attempt, a bounded number of attempts.
const (
	notifyTimeout    = 5 * time.Second
	notifyBaseDelay  = 1 * time.Second
	notifyMaxRetries = 4
)

// RelayPayload is the body posted to the webapp ingress for every message
// picked up off a channel.
type RelayPayload struct {
	Action            string `json:"action"`
	ChannelID         string `json:"channelId"`
	Content           string `json:"content"`
	From              string `json:"from"`
	RealFrom          string `json:"realFrom"`
	Encrypted         bool   `json:"encrypted"`
	IV                string `json:"iv,omitempty"`
	OriginalMessageID string `json:"originalMessageId,omitempty"`
}

// Notifier delivers relay payloads to the webapp ingress, persisting them
// through the store when the ingress is unreachable and retrying delivery
// in the background.
type Notifier struct {
	url    string
	client *http.Client
	store  *store.Store
}

// NewNotifier creates a notifier against the given webhook URL
func NewNotifier(url string, st *store.Store) *Notifier {
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: notifyTimeout},
		store:  st,
	}
}

// post delivers the payload once
func (n *Notifier) post(payload *RelayPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := n.client.Post(n.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post to %s: %w", n.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post to %s: status %s", n.url, resp.Status)
	}
	return nil
}

// Notify delivers the payload to the ingress. On failure the message is
// stored as a fallback and delivery is retried in the background with
// exponential backoff; after the attempt budget the payload is dropped
// with a log line.
func (n *Notifier) Notify(payload *RelayPayload) {
	if err := n.post(payload); err == nil {
		return
	} else {
		log.Printf("[BOT] ingress notify failed, falling back to store: %v", err)
	}

	if err := n.storeFallback(payload); err != nil {
		log.Printf("[BOT] store fallback failed: %v", err)
	}

	go func() {
		err := wait.Until(func() (bool, error) {
			if err := n.post(payload); err != nil {
				log.Printf("[BOT] ingress retry failed: %v", err)
				return false, nil
			}
			return true, nil
		}, wait.DefaultOptions().
			WithMaxRetries(notifyMaxRetries).
			WithTimeout(time.Minute).
			WithStrategy(wait.NewExponentialBackoffStrategy(notifyBaseDelay, 2.0, 0)))
		if err != nil {
			log.Printf("[BOT] giving up on ingress notify for %s: %v", payload.ChannelID, err)
		}
	}()
}

// storeFallback persists the relayed message so it survives an unreachable
// ingress. The store's duplicate window absorbs a later successful retry
// writing the same row again.
func (n *Notifier) storeFallback(payload *RelayPayload) error {
	if n.store == nil {
		return nil
	}

	user, err := n.store.FindUserByName(payload.RealFrom)
	if err != nil {
		return err
	}
	if user == nil {
		user, err = n.store.CreateUser(payload.RealFrom)
		if err != nil {
			return err
		}
	}

	channel, err := n.store.FindOrCreateChannel(strings.TrimPrefix(payload.ChannelID, "#"), payload.RealFrom)
	if err != nil {
		return err
	}

	_, err = n.store.CreateMessage(&store.Message{
		Content:   payload.Content,
		IV:        payload.IV,
		Encrypted: payload.Encrypted,
		UserID:    user.ID,
		ChannelID: channel.ID,
		Type:      "TEXT",
	})
	return err
}
