// ABOUTME: Service is the single entry point for direct messaging between two users
// ABOUTME: Orchestrates user lookup, conversation state and message persistence in that order

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-dm/internal/store"
)

// DefaultPageSize is the number of conversations or messages returned per page.
const DefaultPageSize = 20

// Recorder receives counts of messaging events. metrics.Metrics implements it.
type Recorder interface {
	MessageSent()
	ConversationCreated()
	ConversationPurged()
	PairConflict()
	StateTransition(from, to string)
}

type nopRecorder struct{}

func (nopRecorder) MessageSent()         {}
func (nopRecorder) ConversationCreated() {}
func (nopRecorder) ConversationPurged()  {}
func (nopRecorder) PairConflict()        {}

func (nopRecorder) StateTransition(from, to string) {}

// Service enforces conversation invariants across the conversation and message stores.
type Service struct {
	users    store.UserDirectory
	convs    store.ConversationStore
	msgs     store.MessageStore
	audit    store.AuditStore
	recorder Recorder
	pageSize int
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. The service tags it with component=conversation.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPageSize sets the page size for ListConversations and GetMessages.
func WithPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithAuditLog records conversation purges to the audit log.
func WithAuditLog(audit store.AuditStore) Option {
	return func(s *Service) {
		s.audit = audit
	}
}

// WithRecorder reports messaging events to r.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Service from its collaborators.
func New(users store.UserDirectory, convs store.ConversationStore, msgs store.MessageStore, opts ...Option) *Service {
	s := &Service{
		users:    users,
		convs:    convs,
		msgs:     msgs,
		recorder: nopRecorder{},
		pageSize: DefaultPageSize,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "conversation")
	return s
}

// PageSize returns the configured page size.
func (s *Service) PageSize() int {
	return s.pageSize
}

// ValidID reports whether id is a well-formed conversation identifier.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// SendMessage appends a message from sender to recipient, creating the
// conversation on first contact. A participant who had deleted the
// conversation sees it again. The recipient's unread counter goes up by one.
func (s *Service) SendMessage(ctx context.Context, sender, recipient, body string) (*store.Conversation, error) {
	if sender == "" {
		return nil, newError(KindInvalidArgument, "sender is required")
	}
	if recipient == "" {
		return nil, newError(KindInvalidArgument, "recipient is required")
	}
	if strings.TrimSpace(body) == "" {
		return nil, newError(KindInvalidArgument, "message body is required")
	}
	if sender == recipient {
		return nil, newError(KindInvalidArgument, "cannot send a message to yourself")
	}

	if _, err := s.users.ResolveUser(ctx, recipient); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindNotFound, "user %q not found", recipient)
		}
		return nil, internalError("resolving recipient", err)
	}

	conv, err := s.findOrCreate(ctx, sender, recipient)
	if err != nil {
		return nil, err
	}

	return s.deliver(ctx, conv, sender, recipient, body)
}

// findOrCreate returns the pair's conversation, creating it if needed. When a
// concurrent request wins the insert, the winner's record is returned.
func (s *Service) findOrCreate(ctx context.Context, sender, recipient string) (*store.Conversation, error) {
	conv, err := s.convs.FindConversationByParticipants(ctx, sender, recipient)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, internalError("looking up conversation", err)
	}

	conv = store.NewConversation(uuid.New().String(), sender, recipient, s.now())
	err = s.convs.CreateConversation(ctx, conv)
	if err == nil {
		s.recorder.ConversationCreated()
		s.logger.Info("conversation created",
			"conversation_id", conv.ID,
			"sender", sender,
			"recipient", recipient)
		return conv, nil
	}
	if !errors.Is(err, store.ErrDuplicateConversation) {
		return nil, internalError("creating conversation", err)
	}

	s.recorder.PairConflict()
	s.logger.Debug("conversation created concurrently, retrying lookup",
		"sender", sender,
		"recipient", recipient)

	conv, err = s.convs.FindConversationByParticipants(ctx, sender, recipient)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &Error{
				Kind:    KindConflict,
				Message: "conversation changed concurrently, retry the request",
				Err:     err,
			}
		}
		return nil, internalError("looking up conversation after conflict", err)
	}
	return conv, nil
}

// deliver restores the conversation for both participants, appends the
// message, bumps the recipient's counter and persists the conversation.
func (s *Service) deliver(ctx context.Context, conv *store.Conversation, sender, recipient, body string) (*store.Conversation, error) {
	if !conv.HasParticipant(sender) || !conv.HasParticipant(recipient) {
		return nil, internalError("delivering message",
			fmt.Errorf("conversation %s is between %v, not %s and %s", conv.ID, conv.Participants(), sender, recipient))
	}

	prev := StateOf(conv)
	for _, username := range []string{sender, recipient} {
		if m := conv.Member(username); m != nil && m.Deleted {
			m.Deleted = false
		}
	}

	now := s.now()
	msg := &store.Message{
		ConversationID: conv.ID,
		Sender:         sender,
		Text:           body,
		CreatedAt:      now,
	}
	if err := s.msgs.CreateMessage(ctx, msg); err != nil {
		switch {
		case errors.Is(err, store.ErrEmptyMessage):
			return nil, newError(KindInvalidArgument, "message body is required")
		case errors.Is(err, store.ErrNotFound):
			return nil, removedConcurrently(err)
		}
		return nil, internalError("saving message", err)
	}

	count, err := s.convs.IncrementUnread(ctx, conv.ID, recipient)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, removedConcurrently(err)
		}
		return nil, internalError("incrementing unread count", err)
	}
	conv.Member(recipient).UnreadCount = count

	conv.LastMessageSentAt = &now
	conv.UpdatedAt = now
	if err := s.convs.UpdateConversation(ctx, conv); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, removedConcurrently(err)
		}
		return nil, internalError("updating conversation", err)
	}

	if prev != StateActive {
		s.recorder.StateTransition(prev.String(), StateActive.String())
		s.logger.Info("conversation restored",
			"conversation_id", conv.ID,
			"previous_state", prev.String())
	}

	s.recorder.MessageSent()
	s.logger.Debug("message sent",
		"conversation_id", conv.ID,
		"message_id", msg.ID,
		"sender", sender,
		"recipient", recipient,
		"recipient_unread", count)

	return conv, nil
}

// ListConversations returns one page of the conversations username has not
// deleted, most recently active first.
func (s *Service) ListConversations(ctx context.Context, username string, skip int) ([]*store.Conversation, error) {
	if skip < 0 {
		return nil, newError(KindInvalidArgument, "skip must not be negative")
	}

	convs, err := s.convs.ListConversationsByUsername(ctx, username, skip, s.pageSize)
	if err != nil {
		return nil, internalError("listing conversations", err)
	}
	return convs, nil
}

// UnreadValue is one conversation's unread count.
type UnreadValue struct {
	ID    string
	Value int
}

// UnreadInfo is a user's unread counts across their visible conversations.
type UnreadInfo struct {
	Values []UnreadValue
	Total  int
}

// UnreadInfo returns username's non-zero unread counters and their sum.
func (s *Service) UnreadInfo(ctx context.Context, username string) (*UnreadInfo, error) {
	if _, err := s.users.ResolveUser(ctx, username); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindNotFound, "user %q not found", username)
		}
		return nil, internalError("resolving user", err)
	}

	entries, err := s.convs.ListUnread(ctx, username)
	if err != nil {
		return nil, internalError("listing unread counts", err)
	}

	info := &UnreadInfo{Values: make([]UnreadValue, 0, len(entries))}
	for _, e := range entries {
		info.Values = append(info.Values, UnreadValue{ID: e.ConversationID, Value: e.Count})
		info.Total += e.Count
	}
	return info, nil
}

// GetConversation returns a conversation that username participates in.
func (s *Service) GetConversation(ctx context.Context, username, conversationID string) (*store.Conversation, error) {
	if !ValidID(conversationID) {
		return nil, newError(KindInvalidArgument, "invalid conversation id %q", conversationID)
	}

	conv, err := s.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, s.mapAccessError(err, conversationID)
	}
	if !conv.HasParticipant(username) {
		return nil, s.mapAccessError(store.ErrForbidden, conversationID)
	}
	return conv, nil
}

// GetMessages returns one page of messages, newest first, and marks the
// conversation as read for username.
func (s *Service) GetMessages(ctx context.Context, username, conversationID string, skip int) ([]*store.Message, error) {
	if !ValidID(conversationID) {
		return nil, newError(KindInvalidArgument, "invalid conversation id %q", conversationID)
	}
	if skip < 0 {
		return nil, newError(KindInvalidArgument, "skip must not be negative")
	}

	if err := s.convs.VerifyAccess(ctx, username, conversationID); err != nil {
		return nil, s.mapAccessError(err, conversationID)
	}

	if err := s.convs.ResetUnread(ctx, username, conversationID); err != nil {
		return nil, internalError("resetting unread count", err)
	}

	msgs, err := s.msgs.ListMessagesByConversation(ctx, conversationID, skip, s.pageSize)
	if err != nil {
		return nil, internalError("listing messages", err)
	}
	return msgs, nil
}

// DeleteConversation hides the conversation from username. Once both
// participants have deleted it, the conversation and its messages are removed
// and purged is true.
func (s *Service) DeleteConversation(ctx context.Context, conversationID, username string) (purged bool, err error) {
	conv, err := s.GetConversation(ctx, username, conversationID)
	if err != nil {
		return false, err
	}

	allDeleted, err := s.convs.MarkConversationDeleted(ctx, conversationID, username)
	if err != nil {
		return false, s.mapAccessError(err, conversationID)
	}

	prev := StateOf(conv)
	if !allDeleted {
		if prev == StateActive {
			s.recorder.StateTransition(prev.String(), StateDeletedByOne.String())
		}
		s.logger.Info("conversation deleted by participant",
			"conversation_id", conversationID,
			"username", username,
			"previous_state", prev.String())
		return false, nil
	}

	if err := s.purge(ctx, conv, username, prev); err != nil {
		return false, err
	}
	return true, nil
}

// purge removes the messages first so a failure never leaves messages
// without a conversation.
func (s *Service) purge(ctx context.Context, conv *store.Conversation, actor string, prev State) error {
	if err := s.msgs.DeleteMessagesByConversation(ctx, conv.ID); err != nil {
		return internalError("deleting messages", err)
	}

	if err := s.convs.DeleteConversation(ctx, conv.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Debug("conversation already purged", "conversation_id", conv.ID)
			return nil
		}
		return internalError("deleting conversation", err)
	}

	s.recorder.ConversationPurged()
	s.recorder.StateTransition(prev.String(), StatePurged.String())
	s.logger.Info("conversation purged",
		"conversation_id", conv.ID,
		"participants", conv.Participants())

	if s.audit != nil {
		entry := &store.AuditEntry{
			Actor:      actor,
			Action:     store.AuditPurgeConversation,
			TargetType: "conversation",
			TargetID:   conv.ID,
			Detail:     map[string]any{"participants": conv.Participants()},
		}
		if err := s.audit.AppendAuditLog(ctx, entry); err != nil {
			s.logger.Warn("failed to record purge in audit log",
				"conversation_id", conv.ID,
				"error", err)
		}
	}
	return nil
}

// removedConcurrently reports a conversation purged while a send was in flight.
func removedConcurrently(err error) *Error {
	return &Error{
		Kind:    KindConflict,
		Message: "conversation was removed concurrently, retry the request",
		Err:     err,
	}
}

func (s *Service) mapAccessError(err error, conversationID string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return newError(KindNotFound, "conversation %s not found", conversationID)
	case errors.Is(err, store.ErrForbidden):
		return newError(KindForbidden, "not a participant of conversation %s", conversationID)
	default:
		return internalError("checking conversation access", err)
	}
}
