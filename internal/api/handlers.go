// ABOUTME: Request handlers for login, sending, listing, reading and deleting conversations
// ABOUTME: Each handler reads the caller from the auth context and delegates to conversation.Service

package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/2389/coven-dm/internal/auth"
	"github.com/2389/coven-dm/internal/dedupe"
	"github.com/2389/coven-dm/internal/store"
)

// handleLogin handles POST /api/auth/login.
// It exchanges a username and password for a bearer token.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	if req.Username == "" || req.Password == "" {
		h.sendJSONError(w, http.StatusBadRequest, "invalid_argument", "username and password are required")
		return
	}

	user, err := auth.CheckPassword(r.Context(), h.users, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.sendJSONError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
			return
		}
		h.logger.Error("failed to check password", "username", req.Username, "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	token, err := h.verifier.Generate(user.Username, h.tokenTTL)
	if err != nil {
		h.logger.Error("failed to generate token", "username", user.Username, "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	expiresAt := time.Now().Add(h.tokenTTL)

	if h.audit != nil {
		entry := &store.AuditEntry{
			Actor:      user.Username,
			Action:     store.AuditIssueToken,
			TargetType: "user",
			TargetID:   user.ID,
			Detail:     map[string]any{"via": "login", "expires_at": formatTime(expiresAt)},
		}
		if err := h.audit.AppendAuditLog(r.Context(), entry); err != nil {
			h.logger.Warn("failed to audit token issue", "username", user.Username, "error", err)
		}
	}

	h.logger.Info("issued token", "username", user.Username)
	h.writeJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		Username:  user.Username,
		ExpiresAt: formatTime(expiresAt),
	})
}

// handleSendMessage handles POST /api/messages.
// With an Idempotency-Key header a retried request returns the conversation
// from the first attempt instead of sending again.
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	username := auth.UsernameFromContext(r.Context())

	var req SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}

	var claimKey string
	if idem := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)); idem != "" && h.dedupe != nil {
		key := dedupe.Key(username, idem)
		state, conversationID := h.dedupe.Claim(key, sendFingerprint(req))
		switch state {
		case dedupe.StateMismatch:
			h.sendJSONError(w, http.StatusUnprocessableEntity, "invalid_argument", "Idempotency-Key was already used for a different message")
			return
		case dedupe.StatePending:
			h.sendJSONError(w, http.StatusConflict, "conflict", "a request with this Idempotency-Key is still in progress")
			return
		case dedupe.StateDone:
			h.replaySend(w, r, username, conversationID)
			return
		}
		claimKey = key
	}

	conv, err := h.svc.SendMessage(r.Context(), username, req.Recipient, req.Body)
	if err != nil {
		if claimKey != "" {
			h.dedupe.Release(claimKey)
		}
		h.sendServiceError(w, r, err)
		return
	}
	if claimKey != "" {
		h.dedupe.Complete(claimKey, conv.ID)
	}

	h.writeJSON(w, http.StatusCreated, toConversationResponse(conv))
}

// sendFingerprint identifies a send request so a reused Idempotency-Key can
// be told apart from a genuine retry.
func sendFingerprint(req SendMessageRequest) string {
	sum := sha256.Sum256([]byte(req.Recipient + "\x00" + req.Body))
	return hex.EncodeToString(sum[:])
}

func (h *Handler) replaySend(w http.ResponseWriter, r *http.Request, username, conversationID string) {
	conv, err := h.svc.GetConversation(r.Context(), username, conversationID)
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}
	if h.metrics != nil {
		h.metrics.IdempotentReplay()
	}
	h.logger.Debug("replayed idempotent send", "username", username, "conversation_id", conversationID)
	w.Header().Set("Idempotent-Replayed", "true")
	h.writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

// handleListConversations handles GET /api/conversations?skip=N.
func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	username := auth.UsernameFromContext(r.Context())

	skip, err := parseSkip(r)
	if err != nil {
		h.sendJSONError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}

	convs, err := h.svc.ListConversations(r.Context(), username, skip)
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	resp := ListConversationsResponse{
		Conversations: make([]ConversationResponse, len(convs)),
		Skip:          skip,
		PageSize:      h.svc.PageSize(),
	}
	for i, c := range convs {
		resp.Conversations[i] = toConversationResponse(c)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// handleUnreadInfo handles GET /api/conversations/unread.
func (h *Handler) handleUnreadInfo(w http.ResponseWriter, r *http.Request) {
	username := auth.UsernameFromContext(r.Context())

	info, err := h.svc.UnreadInfo(r.Context(), username)
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toUnreadInfoResponse(info))
}

// handleGetConversation handles GET /api/conversations/{id}.
func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	username := auth.UsernameFromContext(r.Context())

	conv, err := h.svc.GetConversation(r.Context(), username, r.PathValue("id"))
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

// handleGetMessages handles GET /api/conversations/{id}/messages?skip=N&format=html.
// Reading a page marks the conversation as read for the caller.
func (h *Handler) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	username := auth.UsernameFromContext(r.Context())
	conversationID := r.PathValue("id")

	skip, err := parseSkip(r)
	if err != nil {
		h.sendJSONError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}

	format := r.URL.Query().Get("format")
	if format != "" && format != "text" && format != "html" {
		h.sendJSONError(w, http.StatusBadRequest, "invalid_argument", "format must be text or html")
		return
	}

	msgs, err := h.svc.GetMessages(r.Context(), username, conversationID, skip)
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	resp := MessagesResponse{
		ConversationID: conversationID,
		Messages:       make([]MessageResponse, len(msgs)),
		Skip:           skip,
		PageSize:       h.svc.PageSize(),
	}
	for i, m := range msgs {
		resp.Messages[i] = toMessageResponse(m)
		if format == "html" {
			resp.Messages[i].HTML = h.renderMarkdown(m)
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// renderMarkdown converts a message body to HTML. goldmark drops raw HTML in
// the source by default.
func (h *Handler) renderMarkdown(m *store.Message) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(m.Text), &buf); err != nil {
		h.logger.Warn("failed to render message", "message_id", m.ID, "error", err)
		return ""
	}
	return buf.String()
}

// handleDeleteConversation handles DELETE /api/conversations/{id}.
// The response reports whether this call purged the conversation.
func (h *Handler) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	username := auth.UsernameFromContext(r.Context())
	conversationID := r.PathValue("id")

	purged, err := h.svc.DeleteConversation(r.Context(), conversationID, username)
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, DeleteConversationResponse{ID: conversationID, Purged: purged})
}
