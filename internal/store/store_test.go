package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func generateTestID(prefix string, i int) string {
	return fmt.Sprintf("%s-%d", prefix, i)
}

// createTestConversation stores a conversation between sender and recipient.
func createTestConversation(t *testing.T, s ConversationStore, sender, recipient string) *Conversation {
	t.Helper()
	conv := NewConversation(uuid.New().String(), sender, recipient, time.Now().UTC())
	require.NoError(t, s.CreateConversation(context.Background(), conv))
	return conv
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "dm.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	assert.FileExists(t, dbPath)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	conv := createTestConversation(t, store, "alice", "bob")

	got, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
}

func TestStore_CreateConversation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := createTestConversation(t, store, "alice", "bob")

	retrieved, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, retrieved.Participants())
	assert.Nil(t, retrieved.LastMessageSentAt)
	assert.Empty(t, retrieved.DeletedFrom())

	count, ok := retrieved.Unread("bob")
	assert.True(t, ok)
	assert.Equal(t, 0, count)
}

func TestStore_CreateConversation_DuplicatePair(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	createTestConversation(t, store, "alice", "bob")

	// Reversed order is the same pair
	dup := NewConversation(uuid.New().String(), "bob", "alice", time.Now().UTC())
	err := store.CreateConversation(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateConversation)
}

func TestStore_CreateConversation_SameParticipant(t *testing.T) {
	store := setupTestStore(t)

	conv := NewConversation(uuid.New().String(), "alice", "alice", time.Now().UTC())
	err := store.CreateConversation(context.Background(), conv)
	assert.Error(t, err)
}

func TestStore_CreateConversation_ConcurrentPair(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 1 {
				a, b = b, a
			}
			conv := NewConversation(uuid.New().String(), a, b, time.Now().UTC())
			errs[i] = store.CreateConversation(ctx, conv)
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicateConversation)
	}
	assert.Equal(t, 1, created, "exactly one conversation should exist per pair")
}

func TestStore_GetConversation_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetConversation(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_FindConversationByParticipants(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := createTestConversation(t, store, "alice", "bob")

	found, err := store.FindConversationByParticipants(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, found.ID)

	found, err = store.FindConversationByParticipants(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, found.ID)

	_, err = store.FindConversationByParticipants(ctx, "alice", "carol")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_UpdateConversation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := createTestConversation(t, store, "alice", "bob")

	sentAt := time.Now().UTC().Add(time.Minute)
	conv.LastMessageSentAt = &sentAt
	conv.UpdatedAt = sentAt
	conv.Members[1].Deleted = true
	// Counters are not written through UpdateConversation
	conv.Members[1].UnreadCount = 42
	require.NoError(t, store.UpdateConversation(ctx, conv))

	retrieved, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved.LastMessageSentAt)
	assert.True(t, sentAt.Equal(*retrieved.LastMessageSentAt))
	assert.Equal(t, []string{"bob"}, retrieved.DeletedFrom())

	count, _ := retrieved.Unread("bob")
	assert.Equal(t, 0, count)
}

func TestStore_UpdateConversation_NotFound(t *testing.T) {
	store := setupTestStore(t)

	conv := NewConversation("missing", "alice", "bob", time.Now().UTC())
	err := store.UpdateConversation(context.Background(), conv)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_VerifyAccess(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := createTestConversation(t, store, "alice", "bob")

	assert.NoError(t, store.VerifyAccess(ctx, "alice", conv.ID))
	assert.NoError(t, store.VerifyAccess(ctx, "bob", conv.ID))
	assert.ErrorIs(t, store.VerifyAccess(ctx, "carol", conv.ID), ErrForbidden)
	assert.ErrorIs(t, store.VerifyAccess(ctx, "alice", "nonexistent"), ErrNotFound)
}

func TestStore_UnreadCounters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := createTestConversation(t, store, "alice", "bob")

	for i := 1; i <= 3; i++ {
		n, err := store.IncrementUnread(ctx, conv.ID, "bob")
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	entries, err := store.ListUnread(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []UnreadEntry{{ConversationID: conv.ID, Count: 3}}, entries)

	// Sender's counter is independent
	entries, err = store.ListUnread(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, store.ResetUnread(ctx, "bob", conv.ID))
	require.NoError(t, store.ResetUnread(ctx, "bob", conv.ID))

	entries, err = store.ListUnread(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_IncrementUnread_NotParticipant(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := createTestConversation(t, store, "alice", "bob")

	_, err := store.IncrementUnread(ctx, conv.ID, "carol")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_IncrementUnread_Concurrent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := createTestConversation(t, store, "alice", "bob")

	const workers = 10
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.IncrementUnread(ctx, conv.ID, "bob")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	retrieved, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	count, _ := retrieved.Unread("bob")
	assert.Equal(t, workers, count)
}

func TestStore_MarkConversationDeleted(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := createTestConversation(t, store, "alice", "bob")

	allDeleted, err := store.MarkConversationDeleted(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assert.False(t, allDeleted)

	// Idempotent for the same participant
	allDeleted, err = store.MarkConversationDeleted(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assert.False(t, allDeleted)

	retrieved, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, retrieved.DeletedFrom())

	allDeleted, err = store.MarkConversationDeleted(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.True(t, allDeleted)
}

func TestStore_MarkConversationDeleted_Errors(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := createTestConversation(t, store, "alice", "bob")

	_, err := store.MarkConversationDeleted(ctx, conv.ID, "carol")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = store.MarkConversationDeleted(ctx, "nonexistent", "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListConversationsByUsername(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	ids := make([]string, 3)
	for i, peer := range []string{"bob", "carol", "dave"} {
		conv := createTestConversation(t, store, "alice", peer)
		sentAt := base.Add(time.Duration(i) * time.Minute)
		conv.LastMessageSentAt = &sentAt
		conv.UpdatedAt = sentAt
		require.NoError(t, store.UpdateConversation(ctx, conv))
		ids[i] = conv.ID
	}

	convs, err := store.ListConversationsByUsername(ctx, "alice", 0, 20)
	require.NoError(t, err)
	require.Len(t, convs, 3)
	// Most recent first
	assert.Equal(t, ids[2], convs[0].ID)
	assert.Equal(t, ids[1], convs[1].ID)
	assert.Equal(t, ids[0], convs[2].ID)
	assert.Equal(t, []string{"alice", "dave"}, convs[0].Participants())

	page, err := store.ListConversationsByUsername(ctx, "alice", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)

	empty, err := store.ListConversationsByUsername(ctx, "alice", 10, 20)
	require.NoError(t, err)
	assert.Empty(t, empty)

	bobs, err := store.ListConversationsByUsername(ctx, "bob", 0, 20)
	require.NoError(t, err)
	require.Len(t, bobs, 1)
	assert.Equal(t, ids[0], bobs[0].ID)
}

func TestStore_ListConversationsByUsername_HidesDeleted(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := createTestConversation(t, store, "alice", "bob")
	_, err := store.IncrementUnread(ctx, conv.ID, "bob")
	require.NoError(t, err)

	_, err = store.MarkConversationDeleted(ctx, conv.ID, "bob")
	require.NoError(t, err)

	convs, err := store.ListConversationsByUsername(ctx, "bob", 0, 20)
	require.NoError(t, err)
	assert.Empty(t, convs)

	entries, err := store.ListUnread(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, entries, "deleted conversations do not contribute unread counts")

	convs, err = store.ListConversationsByUsername(ctx, "alice", 0, 20)
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestStore_Messages(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := createTestConversation(t, store, "alice", "bob")

	base := time.Now().UTC()
	for i, text := range []string{"first", "second", "third"} {
		msg := &Message{
			ConversationID: conv.ID,
			Sender:         "alice",
			Text:           text,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, store.CreateMessage(ctx, msg))
		assert.NotEmpty(t, msg.ID)
	}

	messages, err := store.ListMessagesByConversation(ctx, conv.ID, 0, 20)
	require.NoError(t, err)
	require.Len(t, messages, 3)

	// Newest first
	assert.Equal(t, "third", messages[0].Text)
	assert.Equal(t, "second", messages[1].Text)
	assert.Equal(t, "first", messages[2].Text)

	page, err := store.ListMessagesByConversation(ctx, conv.ID, 2, 20)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "first", page[0].Text)

	n, err := store.CountMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestStore_Messages_SameTimestamp(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := createTestConversation(t, store, "alice", "bob")

	at := time.Now().UTC()
	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateMessage(ctx, &Message{
			ConversationID: conv.ID,
			Sender:         "bob",
			Text:           text,
			CreatedAt:      at,
		}))
	}

	messages, err := store.ListMessagesByConversation(ctx, conv.ID, 0, 20)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "c", messages[0].Text)
	assert.Equal(t, "a", messages[2].Text)
}

func TestStore_CreateMessage_Empty(t *testing.T) {
	store := setupTestStore(t)
	conv := createTestConversation(t, store, "alice", "bob")

	err := store.CreateMessage(context.Background(), &Message{
		ConversationID: conv.ID,
		Sender:         "alice",
		Text:           "   ",
	})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestStore_DeleteConversation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := createTestConversation(t, store, "alice", "bob")
	require.NoError(t, store.CreateMessage(ctx, &Message{
		ConversationID: conv.ID,
		Sender:         "alice",
		Text:           "hello",
	}))

	require.NoError(t, store.DeleteMessagesByConversation(ctx, conv.ID))
	require.NoError(t, store.DeleteConversation(ctx, conv.ID))

	_, err := store.GetConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := store.CountMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// The pair is free again
	again := createTestConversation(t, store, "bob", "alice")
	assert.NotEqual(t, conv.ID, again.ID)

	assert.ErrorIs(t, store.DeleteConversation(ctx, conv.ID), ErrNotFound)
}

func TestStore_DeleteMessagesByConversation_Empty(t *testing.T) {
	store := setupTestStore(t)
	assert.NoError(t, store.DeleteMessagesByConversation(context.Background(), "nothing-here"))
}

func TestStore_Users(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	user := &User{Username: "alice", PasswordHash: "hash"}
	require.NoError(t, store.CreateUser(ctx, user))
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, UserStatusActive, user.Status)
	assert.Equal(t, "alice", user.DisplayName)

	err := store.CreateUser(ctx, &User{Username: "alice"})
	assert.ErrorIs(t, err, ErrUsernameExists)

	resolved, err := store.ResolveUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolved.ID)
	assert.Equal(t, "hash", resolved.PasswordHash)

	_, err = store.ResolveUser(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_UpdateUserStatus(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, &User{Username: "alice"}))
	require.NoError(t, store.UpdateUserStatus(ctx, "alice", UserStatusDisabled))

	_, err := store.ResolveUser(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound, "disabled users do not resolve")

	u, err := store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, UserStatusDisabled, u.Status)

	assert.ErrorIs(t, store.UpdateUserStatus(ctx, "nobody", UserStatusDisabled), ErrNotFound)
}

func TestStore_UpdateUserPassword(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, &User{Username: "alice"}))
	require.NoError(t, store.UpdateUserPassword(ctx, "alice", "new-hash"))

	u, err := store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "new-hash", u.PasswordHash)

	assert.ErrorIs(t, store.UpdateUserPassword(ctx, "nobody", "x"), ErrNotFound)
}

func TestSortedPair(t *testing.T) {
	lo, hi := SortedPair("bob", "alice")
	assert.Equal(t, "alice", lo)
	assert.Equal(t, "bob", hi)

	lo2, hi2 := SortedPair("alice", "bob")
	assert.Equal(t, lo, lo2)
	assert.Equal(t, hi, hi2)
}

func TestValidateUsername(t *testing.T) {
	for _, name := range []string{"alice", "bob.smith", "carol-2", "zoë"} {
		assert.NoError(t, ValidateUsername(name), name)
	}

	tests := []struct {
		name     string
		username string
	}{
		{"empty", ""},
		{"unit separator", "a\x1fb"},
		{"newline", "alice\n"},
		{"nul", "al\x00ice"},
		{"leading space", " alice"},
		{"trailing space", "alice "},
		{"too long", strings.Repeat("a", 65)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateUsername(tt.username), ErrInvalidUsername)
		})
	}
}

func TestStore_CreateUser_RejectsInvalidUsername(t *testing.T) {
	stores := map[string]UserStore{
		"sqlite": setupTestStore(t),
		"mock":   NewMockStore(),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			err := s.CreateUser(context.Background(), &User{Username: "a\x1fb"})
			assert.ErrorIs(t, err, ErrInvalidUsername)

			_, err = s.GetUserByUsername(context.Background(), "a\x1fb")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

// Pairs whose joined names would be equal must still get separate conversations.
func TestStore_Conversation_PairsDoNotCollide(t *testing.T) {
	stores := map[string]ConversationStore{
		"sqlite": setupTestStore(t),
		"mock":   NewMockStore(),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := createTestConversation(t, s, "a\x1fb", "c")
			second := createTestConversation(t, s, "a", "b\x1fc")
			assert.NotEqual(t, first.ID, second.ID)

			found, err := s.FindConversationByParticipants(ctx, "b\x1fc", "a")
			require.NoError(t, err)
			assert.Equal(t, second.ID, found.ID)

			found, err = s.FindConversationByParticipants(ctx, "c", "a\x1fb")
			require.NoError(t, err)
			assert.Equal(t, first.ID, found.ID)
		})
	}
}

func TestStore_CreateMessage_RequiresParticipant(t *testing.T) {
	stores := map[string]Store{
		"sqlite": setupTestStore(t),
		"mock":   NewMockStore(),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			conv := createTestConversation(t, s, "alice", "bob")

			err := s.CreateMessage(ctx, &Message{ConversationID: conv.ID, Sender: "carol", Text: "hi"})
			assert.ErrorIs(t, err, ErrForbidden)

			err = s.CreateMessage(ctx, &Message{ConversationID: uuid.New().String(), Sender: "alice", Text: "hi"})
			assert.ErrorIs(t, err, ErrNotFound)

			n, err := s.CountMessages(ctx, conv.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, n)
		})
	}
}

func TestStore_CreateConversation_DuplicateIDIsNotPairConflict(t *testing.T) {
	stores := map[string]ConversationStore{
		"sqlite": setupTestStore(t),
		"mock":   NewMockStore(),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			conv := createTestConversation(t, s, "alice", "bob")

			other := NewConversation(conv.ID, "alice", "carol", time.Now().UTC())
			err := s.CreateConversation(context.Background(), other)
			require.Error(t, err)
			assert.NotErrorIs(t, err, ErrDuplicateConversation)
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, &User{Username: "alice"}))

	insert := `INSERT INTO users (id, username, display_name, status, created_at) VALUES (?, ?, ?, ?, ?)`
	now := formatTime(time.Now())

	_, err := s.db.ExecContext(ctx, insert, uuid.New().String(), "alice", "dup", "active", now)
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err), "duplicate username: %v", err)

	_, err = s.db.ExecContext(ctx, insert, uuid.New().String(), "bob", "bob", "bogus", now)
	require.Error(t, err)
	assert.False(t, isUniqueViolation(err), "CHECK failure: %v", err)

	_, err = s.db.ExecContext(ctx, `INSERT INTO messages (id, conversation_id, sender, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), uuid.New().String(), "alice", "hi", now)
	require.Error(t, err)
	assert.False(t, isUniqueViolation(err), "foreign key failure: %v", err)

	assert.False(t, isUniqueViolation(errors.New("UNIQUE constraint failed: users.username")))
	assert.False(t, isUniqueViolation(nil))
}
