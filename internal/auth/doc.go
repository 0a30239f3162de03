// Package auth provides authentication for the coven-dm HTTP API.
//
// # JWT Tokens
//
// Clients authenticate with HS256 JWTs whose "sub" claim is the username:
//
//	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
//	token, err := verifier.Generate("alice", 24*time.Hour)
//
// Secrets shorter than MinSecretLength are rejected.
//
// # HTTP Middleware
//
// HTTPAuthMiddleware verifies the bearer token, resolves the subject through a
// store.UserDirectory and stores an AuthContext in the request context.
// Handlers read it back with FromContext or UsernameFromContext.
//
// # Passwords
//
// HashPassword and CheckPassword wrap bcrypt. CheckPassword reports every
// failure as ErrInvalidCredentials and runs a bcrypt comparison even for
// unknown users.
package auth
