// Package conversation implements direct messaging between two users.
//
// # Overview
//
// Service is the only entry point for messaging. It validates input, resolves
// the recipient through a store.UserDirectory, then works on conversation state
// through a store.ConversationStore and on messages through a store.MessageStore:
//
//	svc := conversation.New(users, convs, msgs,
//		conversation.WithLogger(logger),
//		conversation.WithPageSize(cfg.Messaging.PageSize),
//	)
//
// Key operations:
//
//   - SendMessage(ctx, sender, recipient, body): find or create the pair's conversation and append
//   - ListConversations(ctx, username, skip): one page of visible conversations, most recent first
//   - UnreadInfo(ctx, username): non-zero unread counts and their total
//   - GetMessages(ctx, username, id, skip): one page of messages, newest first; marks the conversation read
//   - DeleteConversation(ctx, id, username): hide for one participant, purge once both have
//
// # Conversations
//
// A conversation belongs to exactly one unordered pair of usernames. The first
// sender is stored as participant 0 and the first recipient as participant 1;
// the pair never changes. Each participant has their own unread counter and
// soft-delete flag.
//
// Creation is a conditional insert on the pair. If another request creates the
// same pair first, the store returns store.ErrDuplicateConversation and the
// service looks the pair up again and appends to the winner.
//
// # Deletion
//
// StateOf reports the lifecycle:
//
//	Active --delete(p)--> DeletedByOne(p) --delete(q)--> Purged
//	DeletedByOne(p) --send involving p--> Active
//
// Purging removes the messages and then the conversation, and is recorded in
// the audit log when WithAuditLog is set.
//
// # Errors
//
// Every failure is a *Error with a Kind. Use errors.Is against ErrNotFound,
// ErrInvalidArgument, ErrForbidden and ErrConflict, or KindOf for the HTTP
// status mapping. Store failures that are not part of the taxonomy come back
// as KindInternal with the cause wrapped.
package conversation
