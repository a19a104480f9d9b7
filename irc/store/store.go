// Package store persists users, channels and messages behind the chat
// server and the webapp bridge. Channel names are stored without the `#`
// sigil; callers strip it before lookups.
package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Role names, lowest to highest.
const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// User is a chat account. Roles holds a comma-separated role set;
// PrimaryRole is the highest role and drives protocol-side gates.
type User struct {
	ID          uint   `gorm:"primaryKey"`
	Username    string `gorm:"uniqueIndex;not null"`
	Roles       string
	PrimaryRole string `gorm:"default:user"`
	IsBanned    bool
	BanReason   string
	BannedUntil *time.Time
	IsOnline    bool
	LastSeen    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RoleSet returns the user's roles as a slice.
func (u *User) RoleSet() []string {
	if u.Roles == "" {
		if u.PrimaryRole != "" {
			return []string{u.PrimaryRole}
		}
		return nil
	}
	parts := strings.Split(u.Roles, ",")
	roles := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			roles = append(roles, p)
		}
	}
	return roles
}

// BanActive reports whether the user is banned right now, honoring
// temporary bans with an expiry.
func (u *User) BanActive(now time.Time) bool {
	if !u.IsBanned {
		return false
	}
	if u.BannedUntil == nil {
		return true
	}
	return now.Before(*u.BannedUntil)
}

// Channel is a chat room. Name is stored without the `#` sigil.
type Channel struct {
	ID           uint   `gorm:"primaryKey"`
	Name         string `gorm:"uniqueIndex;not null"`
	Description  string
	Topic        string
	Category     string `gorm:"default:GENERAL"`
	RequiredRole string `gorm:"default:user"`
	IsPrivate    bool
	IsArchived   bool
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message is a persisted chat line. Content is ciphertext when Encrypted
// is set; IV and KeyID identify the sealing parameters.
type Message struct {
	ID        uint `gorm:"primaryKey"`
	Content   string
	IV        string
	KeyID     string
	Encrypted bool
	UserID    uint `gorm:"index"`
	ChannelID uint `gorm:"index"`
	Type      string
	Timestamp time.Time `gorm:"index"`
	CreatedAt time.Time
}

// Store wraps the database handle.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the sqlite database at path and migrates the
// schema. An in-memory path does not survive gorm's connection pool; use a
// throwaway file for ephemeral stores.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(&User{}, &Channel{}, &Message{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// FindUserByName looks a user up by exact username. Returns (nil, nil)
// when no such user exists.
func (s *Store) FindUserByName(username string) (*User, error) {
	var user User
	err := s.db.Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user %q: %w", username, err)
	}
	return &user, nil
}

// CreateUser inserts a new user with the default role.
func (s *Store) CreateUser(username string) (*User, error) {
	user := &User{
		Username:    username,
		Roles:       RoleUser,
		PrimaryRole: RoleUser,
		LastSeen:    time.Now(),
	}
	if err := s.db.Create(user).Error; err != nil {
		return nil, fmt.Errorf("create user %q: %w", username, err)
	}
	return user, nil
}

// SetUserOnline records presence transitions.
func (s *Store) SetUserOnline(userID uint, online bool) error {
	err := s.db.Model(&User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{"is_online": online, "last_seen": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("set user %d online=%v: %w", userID, online, err)
	}
	return nil
}

// SetUserBan flips the ban flag. A nil until means a permanent ban; it is
// ignored when banned is false.
func (s *Store) SetUserBan(username string, banned bool, reason string, until *time.Time) error {
	updates := map[string]interface{}{
		"is_banned":    banned,
		"ban_reason":   reason,
		"banned_until": until,
	}
	if !banned {
		updates["ban_reason"] = ""
		updates["banned_until"] = nil
	}
	err := s.db.Model(&User{}).Where("username = ?", username).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("set ban for %q: %w", username, err)
	}
	return nil
}

// SetUserRole replaces the user's primary role and role set.
func (s *Store) SetUserRole(username, role string) error {
	roles := role
	if role != RoleUser {
		roles = role + "," + RoleUser
	}
	err := s.db.Model(&User{}).Where("username = ?", username).
		Updates(map[string]interface{}{"primary_role": role, "roles": roles}).Error
	if err != nil {
		return fmt.Errorf("set role for %q: %w", username, err)
	}
	return nil
}

// FindChannelByName looks a channel up by its stored (sigil-less) name.
// Returns (nil, nil) when no such channel exists.
func (s *Store) FindChannelByName(name string) (*Channel, error) {
	var channel Channel
	err := s.db.Where("name = ?", name).First(&channel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find channel %q: %w", name, err)
	}
	return &channel, nil
}

// FindOrCreateChannel returns the channel with the given stored name,
// materializing it with open-access defaults on first reference.
func (s *Store) FindOrCreateChannel(name, createdBy string) (*Channel, error) {
	channel, err := s.FindChannelByName(name)
	if err != nil {
		return nil, err
	}
	if channel != nil {
		return channel, nil
	}

	channel = &Channel{
		Name:         name,
		Category:     "GENERAL",
		RequiredRole: RoleUser,
		CreatedBy:    createdBy,
	}
	if err := s.db.Create(channel).Error; err != nil {
		return nil, fmt.Errorf("create channel %q: %w", name, err)
	}
	return channel, nil
}

// ListChannels returns public, non-archived channels ordered by name.
func (s *Store) ListChannels() ([]Channel, error) {
	var channels []Channel
	err := s.db.Where("is_private = ? AND is_archived = ?", false, false).
		Order("name").Find(&channels).Error
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return channels, nil
}

// SetChannelAccess updates a channel's role gate.
func (s *Store) SetChannelAccess(name, requiredRole string, private bool) error {
	err := s.db.Model(&Channel{}).Where("name = ?", name).
		Updates(map[string]interface{}{"required_role": requiredRole, "is_private": private}).Error
	if err != nil {
		return fmt.Errorf("set access for channel %q: %w", name, err)
	}
	return nil
}

// UpdateTopic persists a channel topic.
func (s *Store) UpdateTopic(channelID uint, topic string) error {
	err := s.db.Model(&Channel{}).Where("id = ?", channelID).
		Update("topic", topic).Error
	if err != nil {
		return fmt.Errorf("update topic for channel %d: %w", channelID, err)
	}
	return nil
}

// DuplicateWindow is the interval within which an identical message from
// the same user in the same channel is treated as a duplicate delivery.
const DuplicateWindow = 10 * time.Second

// CreateMessage persists a message. An identical content from the same
// user in the same channel inside DuplicateWindow returns the existing
// row instead of inserting a second one.
func (s *Store) CreateMessage(msg *Message) (*Message, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	var existing Message
	cutoff := msg.Timestamp.Add(-DuplicateWindow)
	err := s.db.Where(
		"channel_id = ? AND user_id = ? AND content = ? AND timestamp > ?",
		msg.ChannelID, msg.UserID, msg.Content, cutoff,
	).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("check duplicate message: %w", err)
	}

	if err := s.db.Create(msg).Error; err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return msg, nil
}

// RecentMessages returns up to limit messages for a channel, newest first.
func (s *Store) RecentMessages(channelID uint, limit int) ([]Message, error) {
	var messages []Message
	err := s.db.Where("channel_id = ?", channelID).
		Order("timestamp desc").Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("recent messages for channel %d: %w", channelID, err)
	}
	return messages, nil
}
