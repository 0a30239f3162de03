// ABOUTME: Message store methods: append, paginated newest-first listing and purge
// ABOUTME: Messages are never edited; they are only removed with their conversation

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ensure SQLiteStore implements MessageStore.
var _ MessageStore = (*SQLiteStore)(nil)

// CreateMessage appends a message to a conversation. ID and CreatedAt are
// filled in when empty. Returns ErrEmptyMessage for blank text, ErrNotFound
// if the conversation does not exist and ErrForbidden if the sender is not
// one of its participants.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	if strings.TrimSpace(msg.Text) == "" {
		return ErrEmptyMessage
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender, text, created_at)
		SELECT ?, ?, ?, ?, ?
		WHERE EXISTS (
			SELECT 1 FROM conversation_members
			WHERE conversation_id = ? AND username = ?
		)
	`,
		msg.ID,
		msg.ConversationID,
		msg.Sender,
		msg.Text,
		formatTime(msg.CreatedAt),
		msg.ConversationID,
		msg.Sender,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking inserted message: %w", err)
	}
	if n == 0 {
		// Either the conversation is gone or the sender is not a member.
		if err := s.VerifyAccess(ctx, msg.Sender, msg.ConversationID); err != nil {
			return err
		}
		return fmt.Errorf("inserting message into conversation %s: no row written", msg.ConversationID)
	}

	s.logger.Debug("created message", "id", msg.ID, "conversation_id", msg.ConversationID)
	return nil
}

// ListMessagesByConversation returns a page of messages, newest first.
// Messages created in the same instant keep their insertion order.
func (s *SQLiteStore) ListMessagesByConversation(ctx context.Context, conversationID string, skip, limit int) ([]*Message, error) {
	limit = normalizeLimit(limit)
	if skip < 0 {
		skip = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender, text, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`, conversationID, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		var msg Message
		var createdAtStr string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Sender, &msg.Text, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msg.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// CountMessages returns the number of messages in a conversation.
func (s *SQLiteStore) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

// DeleteMessagesByConversation removes every message in a conversation.
// Deleting from an empty conversation is not an error.
func (s *SQLiteStore) DeleteMessagesByConversation(ctx context.Context, conversationID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}

	n, _ := result.RowsAffected()
	s.logger.Debug("deleted messages", "conversation_id", conversationID, "count", n)
	return nil
}
