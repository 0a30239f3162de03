// ABOUTME: Store interfaces and data types for coven-dm persistence
// ABOUTME: Defines User, Conversation, Member and Message plus the sentinel errors

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when a username is not a participant of a conversation
var ErrForbidden = errors.New("not a participant of conversation")

// ErrDuplicateConversation is returned when a conversation already exists for a participant pair
var ErrDuplicateConversation = errors.New("conversation already exists for participant pair")

// ErrEmptyMessage is returned when a message has no text
var ErrEmptyMessage = errors.New("message text is empty")

// ErrUsernameExists is returned when trying to create a user with an existing username.
var ErrUsernameExists = errors.New("username already exists")

// ErrInvalidUsername is returned when a username is empty, padded with
// whitespace or contains control characters.
var ErrInvalidUsername = errors.New("invalid username")

// maxUsernameLen bounds usernames in bytes.
const maxUsernameLen = 64

// ValidateUsername checks that username can be stored and used as one half
// of a conversation pair.
func ValidateUsername(username string) error {
	switch {
	case username == "":
		return fmt.Errorf("%w: username is empty", ErrInvalidUsername)
	case len(username) > maxUsernameLen:
		return fmt.Errorf("%w: username is longer than %d bytes", ErrInvalidUsername, maxUsernameLen)
	case strings.TrimSpace(username) != username:
		return fmt.Errorf("%w: username has leading or trailing whitespace", ErrInvalidUsername)
	case strings.IndexFunc(username, unicode.IsControl) >= 0:
		return fmt.Errorf("%w: username contains control characters", ErrInvalidUsername)
	}
	return nil
}

// UserStatus is the lifecycle state of a user account.
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// User is a directory entry that can send and receive direct messages.
type User struct {
	ID           string
	Username     string
	DisplayName  string
	PasswordHash string // bcrypt hash, empty if the user cannot log in with a password
	Status       UserStatus
	CreatedAt    time.Time
}

// Member is one participant's view of a conversation.
type Member struct {
	Username    string
	UnreadCount int
	Deleted     bool
}

// Conversation is a two-party thread. Members[0] is the participant who sent
// the first message, Members[1] the first recipient; the pair never changes.
type Conversation struct {
	ID                string
	Members           [2]Member
	LastMessageSentAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewConversation builds an unsaved conversation between sender and recipient
// with both unread counters at zero.
func NewConversation(id, sender, recipient string, now time.Time) *Conversation {
	return &Conversation{
		ID: id,
		Members: [2]Member{
			{Username: sender},
			{Username: recipient},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Participants returns the two usernames in their fixed order.
func (c *Conversation) Participants() []string {
	return []string{c.Members[0].Username, c.Members[1].Username}
}

// Member returns the member entry for username, or nil if username is not a participant.
func (c *Conversation) Member(username string) *Member {
	for i := range c.Members {
		if c.Members[i].Username == username {
			return &c.Members[i]
		}
	}
	return nil
}

// HasParticipant reports whether username is one of the two participants.
func (c *Conversation) HasParticipant(username string) bool {
	return c.Member(username) != nil
}

// Unread returns username's unread counter. ok is false for non-participants.
func (c *Conversation) Unread(username string) (count int, ok bool) {
	m := c.Member(username)
	if m == nil {
		return 0, false
	}
	return m.UnreadCount, true
}

// DeletedFrom returns the usernames that have soft-deleted the conversation.
func (c *Conversation) DeletedFrom() []string {
	out := []string{}
	for _, m := range c.Members {
		if m.Deleted {
			out = append(out, m.Username)
		}
	}
	return out
}

// SortedPair orders two usernames so that (a, b) and (b, a) give the same result.
func SortedPair(a, b string) (lo, hi string) {
	if b < a {
		return b, a
	}
	return a, b
}

// SortedPair returns the conversation's participants in sorted order.
func (c *Conversation) SortedPair() (lo, hi string) {
	return SortedPair(c.Members[0].Username, c.Members[1].Username)
}

// Message is a single message within a conversation.
type Message struct {
	ID             string
	ConversationID string
	Sender         string
	Text           string
	CreatedAt      time.Time
}

// UnreadEntry is a participant's non-zero unread counter for one conversation.
type UnreadEntry struct {
	ConversationID string
	Count          int
}

// UserDirectory resolves usernames to active users.
type UserDirectory interface {
	// ResolveUser returns ErrNotFound for unknown or disabled users.
	ResolveUser(ctx context.Context, username string) (*User, error)
}

// UserStore manages the user directory.
type UserStore interface {
	UserDirectory
	CreateUser(ctx context.Context, user *User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	UpdateUserStatus(ctx context.Context, username string, status UserStatus) error
	UpdateUserPassword(ctx context.Context, username, passwordHash string) error
}

// ConversationStore owns conversation records, participant pairing,
// soft-delete flags and unread counters.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	FindConversationByParticipants(ctx context.Context, a, b string) (*Conversation, error)
	UpdateConversation(ctx context.Context, conv *Conversation) error
	VerifyAccess(ctx context.Context, username, conversationID string) error
	IncrementUnread(ctx context.Context, conversationID, username string) (int, error)
	ResetUnread(ctx context.Context, username, conversationID string) error
	MarkConversationDeleted(ctx context.Context, conversationID, username string) (bool, error)
	ListConversationsByUsername(ctx context.Context, username string, skip, limit int) ([]*Conversation, error)
	ListUnread(ctx context.Context, username string) ([]UnreadEntry, error)
	DeleteConversation(ctx context.Context, id string) error
}

// MessageStore owns message records, append-only within a conversation.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *Message) error
	ListMessagesByConversation(ctx context.Context, conversationID string, skip, limit int) ([]*Message, error)
	CountMessages(ctx context.Context, conversationID string) (int, error)
	DeleteMessagesByConversation(ctx context.Context, conversationID string) error
}

// Store is the full persistence surface used by the server.
type Store interface {
	UserStore
	ConversationStore
	MessageStore
	AuditStore

	// Ping checks that the backing database is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
