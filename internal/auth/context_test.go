// ABOUTME: Unit tests for authentication context functions
// ABOUTME: Tests context propagation helpers

package auth

import (
	"context"
	"testing"
)

func TestWithAuth_FromContext(t *testing.T) {
	ctx := WithAuth(context.Background(), &AuthContext{Username: "alice", UserID: "u-1"})

	got := FromContext(ctx)
	if got == nil {
		t.Fatal("FromContext() = nil, want AuthContext")
	}
	if got.Username != "alice" || got.UserID != "u-1" {
		t.Errorf("FromContext() = %+v", got)
	}
	if UsernameFromContext(ctx) != "alice" {
		t.Errorf("UsernameFromContext() = %q, want alice", UsernameFromContext(ctx))
	}
}

func TestFromContext_Missing(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext() = %+v, want nil", got)
	}
	if got := UsernameFromContext(context.Background()); got != "" {
		t.Errorf("UsernameFromContext() = %q, want empty", got)
	}
}

func TestMustFromContext_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustFromContext() did not panic")
		}
	}()
	MustFromContext(context.Background())
}
