// Package api serves the direct messaging HTTP API.
//
// # Routes
//
//	POST   /api/auth/login                     exchange username and password for a JWT
//	POST   /api/messages                       send {"recipient","body"}
//	GET    /api/conversations?skip=N           caller's visible conversations, most recent first
//	GET    /api/conversations/unread           {"values_by_conversations","total_unread_value"}
//	GET    /api/conversations/{id}             one conversation
//	GET    /api/conversations/{id}/messages    one page of messages, newest first; marks read
//	DELETE /api/conversations/{id}             hide for the caller; {"purged": true} once both have
//
// Every route except login requires "Authorization: Bearer <jwt>" whose sub
// claim is the caller's username.
//
// # Idempotent Sends
//
// POST /api/messages accepts an Idempotency-Key header. Keys are scoped to
// the caller. A retry after success returns 200 with the original
// conversation and "Idempotent-Replayed: true"; a retry while the first
// request is still running returns 409. Reusing a key for a different
// recipient or body returns 422. Failed sends forget the key.
//
// Keys live in process memory, so a retry routed to another instance is
// not recognised.
//
// # Errors
//
// Error bodies are {"error": "...", "kind": "..."}. Service kinds map to
// status codes:
//
//	not_found        404
//	invalid_argument 400
//	forbidden        403
//	conflict         409
//	internal         500 (message hidden)
//
// Authentication failures use kind "unauthenticated" with 401.
package api
