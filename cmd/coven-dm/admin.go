// ABOUTME: Offline administration commands that work directly on the database
// ABOUTME: Manages users, issues tokens and prints the audit log

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-dm/internal/auth"
	"github.com/2389/coven-dm/internal/config"
	"github.com/2389/coven-dm/internal/store"
)

// openStore loads the config and opens its database.
func openStore() (*config.Config, *store.SQLiteStore, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return cfg, s, nil
}

// parsedArgs holds positional arguments and --flag values.
type parsedArgs struct {
	positional []string
	flags      map[string]string
}

// parseArgs supports "--flag value", "--flag=value" and boolean flags listed in bools.
func parseArgs(args []string, valued, bools []string) (*parsedArgs, error) {
	isValued := make(map[string]bool, len(valued))
	for _, f := range valued {
		isValued[f] = true
	}
	isBool := make(map[string]bool, len(bools))
	for _, f := range bools {
		isBool[f] = true
	}

	p := &parsedArgs{flags: map[string]string{}}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			p.positional = append(p.positional, arg)
			continue
		}

		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		switch {
		case isBool[name]:
			p.flags[name] = "true"
		case isValued[name] && hasValue:
			p.flags[name] = value
		case isValued[name]:
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--%s requires a value", name)
			}
			p.flags[name] = args[i+1]
			i++
		default:
			return nil, fmt.Errorf("unknown flag: %s", arg)
		}
	}
	return p, nil
}

// readPassword reads one line from r.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password is empty")
	}
	return password, nil
}

func audit(ctx context.Context, s store.AuditStore, action store.AuditAction, user *store.User, detail map[string]any) {
	entry := &store.AuditEntry{
		Actor:      store.SystemActor,
		Action:     action,
		TargetType: "user",
		TargetID:   user.ID,
		Detail:     detail,
	}
	if err := s.AppendAuditLog(ctx, entry); err != nil {
		color.Yellow("  ! failed to write audit entry: %v", err)
	}
}

func runUser(ctx context.Context, args []string) error {
	subcmd := ""
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "add":
		return runUserAdd(ctx, args)
	case "disable":
		return runUserStatus(ctx, args, store.UserStatusDisabled)
	case "enable":
		return runUserStatus(ctx, args, store.UserStatusActive)
	case "passwd":
		return runUserPasswd(ctx, args)
	default:
		return fmt.Errorf("usage: user add|disable|enable|passwd NAME")
	}
}

func runUserAdd(ctx context.Context, args []string) error {
	p, err := parseArgs(args, []string{"name"}, []string{"password-stdin"})
	if err != nil {
		return err
	}
	if len(p.positional) != 1 {
		return errors.New("usage: user add NAME [--name DISPLAY] [--password-stdin]")
	}
	username := p.positional[0]
	if err := store.ValidateUsername(username); err != nil {
		return err
	}

	user := &store.User{Username: username, DisplayName: p.flags["name"]}
	if p.flags["password-stdin"] != "" {
		password, err := readPassword(os.Stdin)
		if err != nil {
			return err
		}
		if user.PasswordHash, err = auth.HashPassword(password); err != nil {
			return err
		}
	}

	_, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrUsernameExists) {
			return fmt.Errorf("user %q already exists", username)
		}
		return fmt.Errorf("creating user: %w", err)
	}
	audit(ctx, s, store.AuditCreateUser, user, map[string]any{"username": username})

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created user %s (%s)\n", user.Username, user.ID)
	if user.PasswordHash == "" {
		fmt.Println("    No password set; issue a token with: coven-dm token " + username)
	}
	return nil
}

func runUserStatus(ctx context.Context, args []string, status store.UserStatus) error {
	if len(args) != 1 {
		return errors.New("usage: user disable|enable NAME")
	}
	username := args[0]

	_, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	user, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("user %q not found", username)
		}
		return err
	}
	if err := s.UpdateUserStatus(ctx, username, status); err != nil {
		return fmt.Errorf("updating user: %w", err)
	}

	action := store.AuditEnableUser
	if status == store.UserStatusDisabled {
		action = store.AuditDisableUser
	}
	audit(ctx, s, action, user, map[string]any{"previous": string(user.Status)})

	color.New(color.FgGreen).Printf("  ✓ %s is now %s\n", username, status)
	return nil
}

func runUserPasswd(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: user passwd NAME (password on stdin)")
	}
	username := args[0]

	password, err := readPassword(os.Stdin)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	_, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	user, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("user %q not found", username)
		}
		return err
	}
	if err := s.UpdateUserPassword(ctx, username, hash); err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	audit(ctx, s, store.AuditResetPassword, user, nil)

	color.New(color.FgGreen).Printf("  ✓ Password updated for %s\n", username)
	return nil
}

func runToken(ctx context.Context, args []string) error {
	p, err := parseArgs(args, []string{"ttl"}, nil)
	if err != nil {
		return err
	}
	if len(p.positional) != 1 {
		return errors.New("usage: token NAME [--ttl DURATION]")
	}
	username := p.positional[0]

	cfg, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}

	ttl := cfg.Auth.TokenTTL
	if raw := p.flags["ttl"]; raw != "" {
		if ttl, err = time.ParseDuration(raw); err != nil || ttl <= 0 {
			return fmt.Errorf("invalid ttl %q", raw)
		}
	}

	user, err := s.ResolveUser(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("user %q not found or disabled", username)
		}
		return err
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(user.Username, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	expiresAt := time.Now().Add(ttl).UTC()
	audit(ctx, s, store.AuditIssueToken, user, map[string]any{"via": "cli", "expires_at": expiresAt.Format(time.RFC3339)})

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	fmt.Println()
	green.Println("  Token created successfully")
	fmt.Println()
	cyan.Println("  User:       " + user.Username)
	cyan.Println("  Expires:    " + expiresAt.Format("Jan 02, 2006 15:04 MST"))
	fmt.Println()
	fmt.Println("  Token (keep this secret!):")
	fmt.Println()
	fmt.Println("  " + token)
	fmt.Println()

	return nil
}

func runAudit(ctx context.Context, args []string) error {
	p, err := parseArgs(args, []string{"limit", "action", "actor"}, nil)
	if err != nil {
		return err
	}

	filter := store.AuditFilter{Limit: 50}
	if raw := p.flags["limit"]; raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil || filter.Limit < 1 {
			return fmt.Errorf("invalid limit %q", raw)
		}
	}
	if raw := p.flags["action"]; raw != "" {
		action := store.AuditAction(raw)
		if !isValidAuditAction(action) {
			return fmt.Errorf("unknown action %q", raw)
		}
		filter.Action = &action
	}
	if raw := p.flags["actor"]; raw != "" {
		filter.Actor = &raw
	}

	_, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := s.ListAuditLog(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing audit log: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Audit Log")
	cyan.Println("  ---------")

	if len(entries) == 0 {
		fmt.Println("  (no entries)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tACTOR\tACTION\tTARGET\tDETAIL")
	fmt.Fprintln(w, "  ----\t-----\t------\t------\t------")
	for _, e := range entries {
		target := e.TargetType + ":" + truncate(e.TargetID, 12)
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("Jan 02 15:04:05"), e.Actor, e.Action, target, formatDetail(e.Detail))
	}
	w.Flush()
	fmt.Println()

	return nil
}

func isValidAuditAction(a store.AuditAction) bool {
	for _, v := range store.ValidAuditActions {
		if v == a {
			return true
		}
	}
	return false
}

func formatDetail(detail map[string]any) string {
	if len(detail) == 0 {
		return ""
	}
	parts := make([]string, 0, len(detail))
	for k, v := range detail {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
