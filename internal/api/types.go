// ABOUTME: JSON request and response bodies for the HTTP API
// ABOUTME: Converts store records into their wire representation

package api

import (
	"time"

	"github.com/2389/coven-dm/internal/conversation"
	"github.com/2389/coven-dm/internal/store"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// LoginRequest is the JSON request body for POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the JSON response for POST /api/auth/login.
type LoginResponse struct {
	Token     string `json:"token"`
	Username  string `json:"username"`
	ExpiresAt string `json:"expires_at"`
}

// SendMessageRequest is the JSON request body for POST /api/messages.
type SendMessageRequest struct {
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
}

// UnreadCountResponse is one participant's unread counter.
type UnreadCountResponse struct {
	Username string `json:"username"`
	Count    int    `json:"count"`
}

// ConversationResponse is the JSON form of a conversation.
type ConversationResponse struct {
	ID                string                `json:"id"`
	Participants      []string              `json:"participants"`
	UnreadCounts      []UnreadCountResponse `json:"unread_counts"`
	DeletedFrom       []string              `json:"deleted_from"`
	LastMessageSentAt *string               `json:"last_message_sent_at"`
	CreatedAt         string                `json:"created_at"`
	UpdatedAt         string                `json:"updated_at"`
}

// ListConversationsResponse is the JSON response for GET /api/conversations.
type ListConversationsResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
	Skip          int                    `json:"skip"`
	PageSize      int                    `json:"page_size"`
}

// UnreadValueResponse is one conversation's unread count.
type UnreadValueResponse struct {
	ID    string `json:"_id"`
	Value int    `json:"value"`
}

// UnreadInfoResponse is the JSON response for GET /api/conversations/unread.
type UnreadInfoResponse struct {
	ValuesByConversations []UnreadValueResponse `json:"values_by_conversations"`
	TotalUnreadValue      int                   `json:"total_unread_value"`
}

// MessageResponse is the JSON form of a message. HTML is only set when the
// client asked for format=html.
type MessageResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Sender         string `json:"sender"`
	Text           string `json:"text"`
	HTML           string `json:"html,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// MessagesResponse is the JSON response for GET /api/conversations/{id}/messages.
type MessagesResponse struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []MessageResponse `json:"messages"`
	Skip           int               `json:"skip"`
	PageSize       int               `json:"page_size"`
}

// DeleteConversationResponse is the JSON response for DELETE /api/conversations/{id}.
type DeleteConversationResponse struct {
	ID     string `json:"id"`
	Purged bool   `json:"purged"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func toConversationResponse(c *store.Conversation) ConversationResponse {
	resp := ConversationResponse{
		ID:           c.ID,
		Participants: c.Participants(),
		UnreadCounts: make([]UnreadCountResponse, 0, len(c.Members)),
		DeletedFrom:  c.DeletedFrom(),
		CreatedAt:    formatTime(c.CreatedAt),
		UpdatedAt:    formatTime(c.UpdatedAt),
	}
	for _, m := range c.Members {
		resp.UnreadCounts = append(resp.UnreadCounts, UnreadCountResponse{Username: m.Username, Count: m.UnreadCount})
	}
	if c.LastMessageSentAt != nil {
		s := formatTime(*c.LastMessageSentAt)
		resp.LastMessageSentAt = &s
	}
	return resp
}

func toUnreadInfoResponse(info *conversation.UnreadInfo) UnreadInfoResponse {
	resp := UnreadInfoResponse{
		ValuesByConversations: make([]UnreadValueResponse, len(info.Values)),
		TotalUnreadValue:      info.Total,
	}
	for i, v := range info.Values {
		resp.ValuesByConversations[i] = UnreadValueResponse{ID: v.ID, Value: v.Value}
	}
	return resp
}

func toMessageResponse(m *store.Message) MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         m.Sender,
		Text:           m.Text,
		CreatedAt:      formatTime(m.CreatedAt),
	}
}
