// Package store provides persistent storage for coven-dm using SQLite.
//
// # Architecture
//
// The store package is interface driven:
//
//   - UserDirectory: resolves usernames to active users
//   - UserStore: user accounts and passwords
//   - ConversationStore: conversation records, participant pairs, unread counters and soft-delete flags
//   - MessageStore: append-only message records
//   - AuditStore: account and purge audit trail
//
// SQLiteStore implements all interfaces in a single struct. The messaging
// service only depends on the narrow interfaces it needs.
//
// # Data Models
//
//   - User: a directory entry that can send and receive messages
//   - Conversation: a two-party thread with one Member entry per participant
//   - Member: a participant's unread counter and soft-delete flag
//   - Message: a single message, never edited after creation
//   - AuditEntry: who did what to which user or conversation
//
// Each conversation stores its sorted participant pair in user_lo and user_hi.
// The UNIQUE (user_lo, user_hi) constraint turns concurrent find-or-create
// calls into a single winner and ErrDuplicateConversation for everyone else.
// Usernames are validated on creation and may not contain control characters.
//
// # SQLite Configuration
//
// Pragmas are set in the DSN so every pooled connection gets them:
//
//	_pragma=foreign_keys(1)
//	_pragma=busy_timeout(5000)
//
// File databases also run in WAL mode. ":memory:" is limited to a single
// connection since each connection would otherwise see its own database.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrForbidden: username is not a participant
//   - ErrDuplicateConversation: the participant pair already has a conversation
//   - ErrEmptyMessage: message text is blank
//   - ErrUsernameExists: username is taken
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests:
//
//	store := store.NewMockStore()
//
// Use NewSQLiteStore(":memory:") or a path under t.TempDir() for tests
// against real SQLite.
package store
