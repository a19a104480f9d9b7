package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSuppressorConsumeOnce(t *testing.T) {
	s := NewSuppressor()

	s.Add("#lobby", "[alice] hi", "msg-42")
	id, hit := s.Consume("#lobby", "[alice] hi")
	assert.True(t, hit)
	assert.Equal(t, "msg-42", id, "Record carries the origin message id")

	_, hit = s.Consume("#lobby", "[alice] hi")
	assert.False(t, hit, "One registration suppresses one echo")
}

func TestSuppressorMissesDifferentContent(t *testing.T) {
	s := NewSuppressor()

	s.Add("#lobby", "[alice] hi", "")
	_, hit := s.Consume("#lobby", "[alice] hello")
	assert.False(t, hit)
	_, hit = s.Consume("#general", "[alice] hi")
	assert.False(t, hit, "Channel is part of the key")
	_, hit = s.Consume("#lobby", "[alice] hi")
	assert.True(t, hit)
}

func TestSuppressorExpiry(t *testing.T) {
	s := NewSuppressor()
	now := time.Now()
	s.now = func() time.Time { return now }

	s.Add("#lobby", "[alice] hi", "msg-1")

	now = now.Add(SuppressTTL + time.Second)
	id, hit := s.Consume("#lobby", "[alice] hi")
	assert.False(t, hit, "Stale records do not suppress")
	assert.Empty(t, id)
}

func TestContentHash(t *testing.T) {
	assert.Len(t, contentHash("anything"), 8)
	assert.Equal(t, contentHash("same"), contentHash("same"))
	assert.NotEqual(t, contentHash("one"), contentHash("two"))
}

func TestExtractAuthor(t *testing.T) {
	author, ok := extractAuthor("[carol] hi there")
	assert.True(t, ok)
	assert.Equal(t, "carol", author)

	_, ok = extractAuthor("plain text")
	assert.False(t, ok)

	_, ok = extractAuthor("see [this] reference")
	assert.False(t, ok)
}
