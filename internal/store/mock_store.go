// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	users         map[string]*User         // keyed by username
	conversations map[string]*Conversation // keyed by conversation ID
	pairIndex     map[[2]string]string     // keyed by SortedPair -> conversation ID
	messages      map[string][]*Message    // keyed by conversation ID, oldest first
	audit         []AuditEntry
	pingErr       error

	// BeforeCreateConversation, when set, runs before CreateConversation takes
	// the lock. Tests use it to interleave a competing create for the same pair.
	BeforeCreateConversation func(conv *Conversation)
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:         make(map[string]*User),
		conversations: make(map[string]*Conversation),
		pairIndex:     make(map[[2]string]string),
		messages:      make(map[string][]*Message),
	}
}

// SetPingError makes Ping return err.
func (m *MockStore) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// CreateUser stores a new user.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	if err := ValidateUsername(user.Username); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[user.Username]; ok {
		return ErrUsernameExists
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Status == "" {
		user.Status = UserStatusActive
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.DisplayName == "" {
		user.DisplayName = user.Username
	}

	u := *user
	m.users[u.Username] = &u
	return nil
}

// GetUserByUsername retrieves a user regardless of status.
func (m *MockStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// ResolveUser returns the active user with the given username.
func (m *MockStore) ResolveUser(ctx context.Context, username string) (*User, error) {
	u, err := m.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u.Status != UserStatusActive {
		return nil, ErrNotFound
	}
	return u, nil
}

// UpdateUserStatus enables or disables a user.
func (m *MockStore) UpdateUserStatus(ctx context.Context, username string, status UserStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[username]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	return nil
}

// UpdateUserPassword replaces a user's password hash.
func (m *MockStore) UpdateUserPassword(ctx context.Context, username, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[username]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

// CreateConversation stores a new conversation.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	if hook := m.BeforeCreateConversation; hook != nil {
		hook(conv)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a, b := conv.Members[0].Username, conv.Members[1].Username
	if a == "" || b == "" || a == b {
		return fmt.Errorf("conversation requires two distinct participants, got %q and %q", a, b)
	}
	if _, ok := m.conversations[conv.ID]; ok {
		return fmt.Errorf("conversation %s already exists", conv.ID)
	}
	key := pairKey(conv)
	if _, ok := m.pairIndex[key]; ok {
		return ErrDuplicateConversation
	}

	c := copyConversation(conv)
	m.conversations[c.ID] = c
	m.pairIndex[key] = c.ID
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(c), nil
}

// FindConversationByParticipants looks up the conversation for an unordered pair.
func (m *MockStore) FindConversationByParticipants(ctx context.Context, a, b string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lo, hi := SortedPair(a, b)
	id, ok := m.pairIndex[[2]string{lo, hi}]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(m.conversations[id]), nil
}

// UpdateConversation persists timestamps and soft-delete flags. Unread
// counters are left untouched, matching SQLiteStore.
func (m *MockStore) UpdateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[conv.ID]
	if !ok {
		return ErrNotFound
	}
	c.LastMessageSentAt = copyTime(conv.LastMessageSentAt)
	c.UpdatedAt = conv.UpdatedAt
	for _, in := range conv.Members {
		if mem := c.Member(in.Username); mem != nil {
			mem.Deleted = in.Deleted
		}
	}
	return nil
}

// VerifyAccess checks that the conversation exists and username participates in it.
func (m *MockStore) VerifyAccess(ctx context.Context, username, conversationID string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	if !c.HasParticipant(username) {
		return ErrForbidden
	}
	return nil
}

// IncrementUnread adds one to username's unread counter.
func (m *MockStore) IncrementUnread(ctx context.Context, conversationID, username string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return 0, ErrNotFound
	}
	mem := c.Member(username)
	if mem == nil {
		return 0, ErrNotFound
	}
	mem.UnreadCount++
	return mem.UnreadCount, nil
}

// ResetUnread sets username's unread counter to zero.
func (m *MockStore) ResetUnread(ctx context.Context, username, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.conversations[conversationID]; ok {
		if mem := c.Member(username); mem != nil {
			mem.UnreadCount = 0
		}
	}
	return nil
}

// MarkConversationDeleted sets username's soft-delete flag and reports whether
// both participants have now deleted the conversation.
func (m *MockStore) MarkConversationDeleted(ctx context.Context, conversationID, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return false, ErrNotFound
	}
	mem := c.Member(username)
	if mem == nil {
		return false, ErrForbidden
	}
	mem.Deleted = true
	c.UpdatedAt = time.Now().UTC()
	return c.Members[0].Deleted && c.Members[1].Deleted, nil
}

// ListConversationsByUsername returns username's visible conversations,
// most recently active first.
func (m *MockStore) ListConversationsByUsername(ctx context.Context, username string, skip, limit int) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit = normalizeLimit(limit)
	if skip < 0 {
		skip = 0
	}

	convs := []*Conversation{}
	for _, c := range m.conversations {
		mem := c.Member(username)
		if mem == nil || mem.Deleted {
			continue
		}
		convs = append(convs, copyConversation(c))
	}

	sort.Slice(convs, func(i, j int) bool {
		a, b := convs[i].LastMessageSentAt, convs[j].LastMessageSentAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return convs[i].ID < convs[j].ID
	})

	if skip >= len(convs) {
		return []*Conversation{}, nil
	}
	convs = convs[skip:]
	if len(convs) > limit {
		convs = convs[:limit]
	}
	return convs, nil
}

// ListUnread returns username's non-zero unread counters.
func (m *MockStore) ListUnread(ctx context.Context, username string) ([]UnreadEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := []UnreadEntry{}
	for _, c := range m.conversations {
		mem := c.Member(username)
		if mem == nil || mem.Deleted || mem.UnreadCount == 0 {
			continue
		}
		entries = append(entries, UnreadEntry{ConversationID: c.ID, Count: mem.UnreadCount})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ConversationID < entries[j].ConversationID
	})
	return entries, nil
}

// DeleteConversation permanently removes a conversation.
func (m *MockStore) DeleteConversation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.pairIndex, pairKey(c))
	delete(m.conversations, id)
	delete(m.messages, id)
	return nil
}

// CreateMessage appends a message.
func (m *MockStore) CreateMessage(ctx context.Context, msg *Message) error {
	if strings.TrimSpace(msg.Text) == "" {
		return ErrEmptyMessage
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}
	if !c.HasParticipant(msg.Sender) {
		return ErrForbidden
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	msgCopy := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &msgCopy)
	return nil
}

// ListMessagesByConversation returns a page of messages, newest first.
func (m *MockStore) ListMessagesByConversation(ctx context.Context, conversationID string, skip, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit = normalizeLimit(limit)
	if skip < 0 {
		skip = 0
	}

	msgs := m.messages[conversationID]
	result := []*Message{}
	for i := len(msgs) - 1 - skip; i >= 0 && len(result) < limit; i-- {
		msgCopy := *msgs[i]
		result = append(result, &msgCopy)
	}
	return result, nil
}

// CountMessages returns the number of messages in a conversation.
func (m *MockStore) CountMessages(ctx context.Context, conversationID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages[conversationID]), nil
}

// DeleteMessagesByConversation removes every message in a conversation.
func (m *MockStore) DeleteMessagesByConversation(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, conversationID)
	return nil
}

// AppendAuditLog records an audit entry.
func (m *MockStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	m.audit = append(m.audit, *e)
	return nil
}

// ListAuditLog returns recorded entries newest first. Only the Actor, Action
// and TargetID filters are applied.
func (m *MockStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := []AuditEntry{}
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if f.Actor != nil && e.Actor != *f.Actor {
			continue
		}
		if f.Action != nil && e.Action != *f.Action {
			continue
		}
		if f.TargetID != nil && e.TargetID != *f.TargetID {
			continue
		}
		entries = append(entries, e)
	}

	if limit := normalizeAuditLimit(f.Limit); len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Ping returns the error set with SetPingError.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingErr
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

func pairKey(c *Conversation) [2]string {
	lo, hi := c.SortedPair()
	return [2]string{lo, hi}
}

func copyConversation(c *Conversation) *Conversation {
	out := *c
	out.LastMessageSentAt = copyTime(c.LastMessageSentAt)
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
