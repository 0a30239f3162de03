// ABOUTME: Conversation store methods: pair-keyed creation, unread counters and soft deletes
// ABOUTME: Each participant has a conversation_members row holding its own counter and flag

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Ensure SQLiteStore implements ConversationStore.
var _ ConversationStore = (*SQLiteStore)(nil)

const conversationColumns = `c.id, c.last_message_sent_at, c.created_at, c.updated_at`

// normalizeLimit applies default (20) and cap (1000) to a page size.
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

// CreateConversation inserts a conversation and its two member rows in one transaction.
// Returns ErrDuplicateConversation if the participant pair already has a conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	a, b := conv.Members[0].Username, conv.Members[1].Username
	if a == "" || b == "" || a == b {
		return fmt.Errorf("conversation requires two distinct participants, got %q and %q", a, b)
	}

	lo, hi := conv.SortedPair()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, user_lo, user_hi, last_message_sent_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		conv.ID,
		lo,
		hi,
		nullTime(conv.LastMessageSentAt),
		formatTime(conv.CreatedAt),
		formatTime(conv.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	for pos, m := range conv.Members {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO conversation_members (conversation_id, username, position, unread_count, deleted)
			VALUES (?, ?, ?, ?, ?)
		`, conv.ID, m.Username, pos, m.UnreadCount, boolToInt(m.Deleted))
		if err != nil {
			return fmt.Errorf("inserting conversation member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("committing conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "participants", conv.Participants())
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations c WHERE c.id = ?`, id)
	return s.scanSingleConversation(ctx, row)
}

// FindConversationByParticipants looks up the conversation for an unordered pair.
// The lookup is symmetric: (a, b) and (b, a) find the same record.
func (s *SQLiteStore) FindConversationByParticipants(ctx context.Context, a, b string) (*Conversation, error) {
	lo, hi := SortedPair(a, b)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations c WHERE c.user_lo = ? AND c.user_hi = ?`, lo, hi)
	return s.scanSingleConversation(ctx, row)
}

func (s *SQLiteStore) scanSingleConversation(ctx context.Context, row *sql.Row) (*Conversation, error) {
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.attachMembers(ctx, []*Conversation{conv}); err != nil {
		return nil, err
	}
	return conv, nil
}

// UpdateConversation persists last_message_sent_at, updated_at and each member's
// soft-delete flag. Unread counters are only changed through IncrementUnread and
// ResetUnread so concurrent senders never overwrite each other's increments.
func (s *SQLiteStore) UpdateConversation(ctx context.Context, conv *Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_sent_at = ?, updated_at = ?
		WHERE id = ?
	`, nullTime(conv.LastMessageSentAt), formatTime(conv.UpdatedAt), conv.ID)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	for _, m := range conv.Members {
		if _, err := tx.ExecContext(ctx, `
			UPDATE conversation_members SET deleted = ?
			WHERE conversation_id = ? AND username = ?
		`, boolToInt(m.Deleted), conv.ID, m.Username); err != nil {
			return fmt.Errorf("updating conversation member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing conversation update: %w", err)
	}

	s.logger.Debug("updated conversation", "id", conv.ID)
	return nil
}

// VerifyAccess returns ErrNotFound if the conversation does not exist and
// ErrForbidden if username is not one of its participants.
func (s *SQLiteStore) VerifyAccess(ctx context.Context, username, conversationID string) error {
	var exists, member int
	err := s.db.QueryRowContext(ctx, `
		SELECT
			EXISTS(SELECT 1 FROM conversations WHERE id = ?),
			EXISTS(SELECT 1 FROM conversation_members WHERE conversation_id = ? AND username = ?)
	`, conversationID, conversationID, username).Scan(&exists, &member)
	if err != nil {
		return fmt.Errorf("verifying conversation access: %w", err)
	}

	if exists == 0 {
		return ErrNotFound
	}
	if member == 0 {
		return ErrForbidden
	}
	return nil
}

// IncrementUnread adds one to username's unread counter and returns the new value.
func (s *SQLiteStore) IncrementUnread(ctx context.Context, conversationID, username string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		UPDATE conversation_members
		SET unread_count = unread_count + 1
		WHERE conversation_id = ? AND username = ?
		RETURNING unread_count
	`, conversationID, username).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing unread count: %w", err)
	}
	return count, nil
}

// ResetUnread sets username's unread counter to zero. It is a no-op when the
// counter is already zero.
func (s *SQLiteStore) ResetUnread(ctx context.Context, username, conversationID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversation_members
		SET unread_count = 0
		WHERE conversation_id = ? AND username = ? AND unread_count <> 0
	`, conversationID, username)
	if err != nil {
		return fmt.Errorf("resetting unread count: %w", err)
	}

	if rowsAffected, _ := result.RowsAffected(); rowsAffected > 0 {
		s.logger.Debug("reset unread count", "conversation_id", conversationID, "username", username)
	}
	return nil
}

// MarkConversationDeleted sets username's soft-delete flag and reports whether
// every participant has now deleted the conversation. Calling it twice for the
// same username changes nothing.
func (s *SQLiteStore) MarkConversationDeleted(ctx context.Context, conversationID, username string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE conversation_members SET deleted = 1
		WHERE conversation_id = ? AND username = ?
	`, conversationID, username)
	if err != nil {
		return false, fmt.Errorf("marking conversation deleted: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM conversations WHERE id = ?)`, conversationID,
		).Scan(&exists); err != nil {
			return false, fmt.Errorf("checking conversation: %w", err)
		}
		if exists == 0 {
			return false, ErrNotFound
		}
		return false, ErrForbidden
	}

	var remaining int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM conversation_members
		WHERE conversation_id = ? AND deleted = 0
	`, conversationID).Scan(&remaining); err != nil {
		return false, fmt.Errorf("counting remaining members: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), conversationID,
	); err != nil {
		return false, fmt.Errorf("touching conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing soft delete: %w", err)
	}

	s.logger.Debug("marked conversation deleted",
		"conversation_id", conversationID,
		"username", username,
		"remaining", remaining)
	return remaining == 0, nil
}

// ListConversationsByUsername returns the conversations visible to username,
// most recently active first.
func (s *SQLiteStore) ListConversationsByUsername(ctx context.Context, username string, skip, limit int) ([]*Conversation, error) {
	limit = normalizeLimit(limit)
	if skip < 0 {
		skip = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations c
		JOIN conversation_members m ON m.conversation_id = c.id
		WHERE m.username = ? AND m.deleted = 0
		ORDER BY c.last_message_sent_at DESC, c.id ASC
		LIMIT ? OFFSET ?
	`, username, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	convs := []*Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}

	if err := s.attachMembers(ctx, convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// ListUnread returns username's non-zero unread counters across the
// conversations they have not deleted.
func (s *SQLiteStore) ListUnread(ctx context.Context, username string) ([]UnreadEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, unread_count
		FROM conversation_members
		WHERE username = ? AND deleted = 0 AND unread_count > 0
		ORDER BY conversation_id
	`, username)
	if err != nil {
		return nil, fmt.Errorf("querying unread counts: %w", err)
	}
	defer rows.Close()

	entries := []UnreadEntry{}
	for rows.Next() {
		var e UnreadEntry
		if err := rows.Scan(&e.ConversationID, &e.Count); err != nil {
			return nil, fmt.Errorf("scanning unread row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating unread rows: %w", err)
	}
	return entries, nil
}

// DeleteConversation permanently removes a conversation and its member rows.
// Messages must be removed through DeleteMessagesByConversation first.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conversation_members WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("deleting conversation members: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing conversation delete: %w", err)
	}

	s.logger.Debug("deleted conversation", "id", id)
	return nil
}

// scanConversation scans the conversationColumns from a row.
func scanConversation(scanner interface{ Scan(dest ...any) error }) (*Conversation, error) {
	var conv Conversation
	var lastMessage sql.NullString
	var createdAtStr, updatedAtStr string

	if err := scanner.Scan(&conv.ID, &lastMessage, &createdAtStr, &updatedAtStr); err != nil {
		return nil, err
	}

	var err error
	conv.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = parseTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if lastMessage.Valid {
		t, err := parseTime(lastMessage.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_message_sent_at: %w", err)
		}
		conv.LastMessageSentAt = &t
	}

	return &conv, nil
}

// attachMembers loads the member rows for convs in a single query.
func (s *SQLiteStore) attachMembers(ctx context.Context, convs []*Conversation) error {
	if len(convs) == 0 {
		return nil
	}

	byID := make(map[string]*Conversation, len(convs))
	args := make([]any, 0, len(convs))
	for _, c := range convs {
		byID[c.ID] = c
		args = append(args, c.ID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, username, position, unread_count, deleted
		FROM conversation_members
		WHERE conversation_id IN (`+placeholders(len(args))+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("querying conversation members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var convID string
		var m Member
		var position, deleted int
		if err := rows.Scan(&convID, &m.Username, &position, &m.UnreadCount, &deleted); err != nil {
			return fmt.Errorf("scanning conversation member: %w", err)
		}
		if position < 0 || position > 1 {
			return fmt.Errorf("conversation %s has member at invalid position %d", convID, position)
		}
		m.Deleted = deleted != 0
		if c, ok := byID[convID]; ok {
			c.Members[position] = m
		}
	}
	return rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
