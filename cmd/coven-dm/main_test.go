// ABOUTME: Tests for CLI argument parsing and log formatting helpers
// ABOUTME: Command handlers that touch the database are covered by package tests

package main

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	p, err := parseArgs([]string{"alice", "--name", "Alice A", "--password-stdin"}, []string{"name"}, []string{"password-stdin"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, p.positional)
	assert.Equal(t, "Alice A", p.flags["name"])
	assert.Equal(t, "true", p.flags["password-stdin"])

	p, err = parseArgs([]string{"--ttl=1h", "bob"}, []string{"ttl"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "1h", p.flags["ttl"])
	assert.Equal(t, []string{"bob"}, p.positional)

	_, err = parseArgs([]string{"--ttl"}, []string{"ttl"}, nil)
	assert.Error(t, err)

	_, err = parseArgs([]string{"--bogus"}, nil, nil)
	assert.Error(t, err)
}

func TestReadPassword(t *testing.T) {
	pw, err := readPassword(strings.NewReader("s3cret\n"))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", pw)

	pw, err = readPassword(strings.NewReader("no-newline"))
	require.NoError(t, err)
	assert.Equal(t, "no-newline", pw)

	_, err = readPassword(strings.NewReader("\n"))
	assert.Error(t, err)
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("COVEN_DM_CONFIG", "/etc/coven/dm.yaml")
	assert.Equal(t, "/etc/coven/dm.yaml", getConfigPath())

	t.Setenv("COVEN_DM_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "coven", "dm.yaml"), getConfigPath())
}

func TestFormatDetail(t *testing.T) {
	assert.Equal(t, "", formatDetail(nil))
	assert.Equal(t, "a=1 b=two", formatDetail(map[string]any{"b": "two", "a": 1}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 12))
	assert.Equal(t, "abcdefghi...", truncate("abcdefghijklmnop", 12))
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	var buf bytes.Buffer
	logger := slog.New(newColorHandler(&buf, slog.LevelInfo))

	logger.Debug("hidden")
	logger.With("component", "api").WithGroup("req").Info("served", "status", 200)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INF served")
	assert.Contains(t, out, "component=api")
	assert.Contains(t, out, "req.status=200")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
