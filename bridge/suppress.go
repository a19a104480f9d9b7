package bridge

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"sync"
	"time"
)

// authorPattern matches relayed lines shaped `[name] text`.
var authorPattern = regexp.MustCompile(`(?s)^\s*\[([^\]]+)\]\s*(.*)$`)

// extractAuthor pulls the display author out of a `[name] text` line.
func extractAuthor(text string) (string, bool) {
	m := authorPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// SuppressTTL is how long an outbound message stays registered for echo
// suppression before it expires.
const SuppressTTL = 10 * time.Second

// Suppressor remembers messages the bridge itself just sent, so the same
// line coming back off the wire is not relayed to the webapp again. Records
// are keyed by channel and a short content hash, carry the origin message
// id when the webapp supplied one, expire after SuppressTTL, and are
// consumed by the first hit.
type Suppressor struct {
	entries map[string]suppressRecord
	mu      sync.Mutex
	now     func() time.Time
}

type suppressRecord struct {
	originID string
	expires  time.Time
}

// NewSuppressor creates an empty suppressor
func NewSuppressor() *Suppressor {
	return &Suppressor{
		entries: make(map[string]suppressRecord),
		now:     time.Now,
	}
}

// contentHash is the first 8 hex characters of the SHA-1 of the composed
// message text.
func contentHash(text string) string {
	sum := sha1.Sum([]byte(text))
	return hex.EncodeToString(sum[:])[:8]
}

func suppressKey(channel, text string) string {
	return channel + "|" + contentHash(text)
}

// Add registers an outbound message for suppression, remembering the origin
// message id when the webapp supplied one.
func (s *Suppressor) Add(channel, text, originID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[suppressKey(channel, text)] = suppressRecord{
		originID: originID,
		expires:  s.now().Add(SuppressTTL),
	}

	// Opportunistic cleanup of expired records
	now := s.now()
	for key, record := range s.entries {
		if now.After(record.expires) {
			delete(s.entries, key)
		}
	}
}

// Consume reports whether the message was registered and still fresh,
// returning the origin message id it was registered with. The record is
// removed either way: one suppression per registration.
func (s *Suppressor) Consume(channel, text string) (string, bool) {
	key := suppressKey(channel, text)

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.entries[key]
	if !ok {
		return "", false
	}
	delete(s.entries, key)
	if !s.now().Before(record.expires) {
		return "", false
	}
	return record.originID, true
}
