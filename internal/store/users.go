// ABOUTME: User directory store methods backed by the users table
// ABOUTME: Resolves usernames for messaging and manages account status and passwords

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ensure SQLiteStore implements UserStore.
var _ UserStore = (*SQLiteStore)(nil)

// CreateUser creates a new user. ID, status and CreatedAt are filled in when empty.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	if err := ValidateUsername(user.Username); err != nil {
		return err
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

	query := `
		INSERT INTO users (id, username, display_name, password_hash, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.DisplayName,
		nullString(user.PasswordHash),
		string(user.Status),
		formatTime(user.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUsernameExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Info("created user", "id", user.ID, "username", user.Username)
	return nil
}

// GetUserByUsername retrieves a user regardless of status.
// Returns ErrNotFound if no such user exists.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	query := `
		SELECT id, username, display_name, password_hash, status, created_at
		FROM users
		WHERE username = ?
	`

	var user User
	var passwordHash sql.NullString
	var status, createdAtStr string

	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&user.ID,
		&user.Username,
		&user.DisplayName,
		&passwordHash,
		&status,
		&createdAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	user.PasswordHash = passwordHash.String
	user.Status = UserStatus(status)
	user.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &user, nil
}

// ResolveUser returns the active user with the given username.
// Disabled users are reported as ErrNotFound so they cannot receive messages.
func (s *SQLiteStore) ResolveUser(ctx context.Context, username string) (*User, error) {
	user, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user.Status != UserStatusActive {
		return nil, ErrNotFound
	}
	return user, nil
}

// UpdateUserStatus enables or disables a user.
func (s *SQLiteStore) UpdateUserStatus(ctx context.Context, username string, status UserStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET status = ? WHERE username = ?`,
		string(status), username,
	)
	if err != nil {
		return fmt.Errorf("updating user status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Info("updated user status", "username", username, "status", status)
	return nil
}

// UpdateUserPassword replaces a user's password hash.
func (s *SQLiteStore) UpdateUserPassword(ctx context.Context, username, passwordHash string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE username = ?`,
		nullString(passwordHash), username,
	)
	if err != nil {
		return fmt.Errorf("updating user password: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
