package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRegistry(t *testing.T) {
	r := NewSessionRegistry()

	_, ok := r.SessionFor("client-1")
	assert.False(t, ok)

	r.Register("client-1", "mcp-session-a")
	got, ok := r.SessionFor("client-1")
	assert.True(t, ok)
	assert.Equal(t, "mcp-session-a", got)

	// Reconnect replaces the previous mapping.
	r.Register("client-1", "mcp-session-b")
	got, ok = r.SessionFor("client-1")
	assert.True(t, ok)
	assert.Equal(t, "mcp-session-b", got)

	r.Remove("mcp-session-b")
	_, ok = r.SessionFor("client-1")
	assert.False(t, ok)
}

func TestSessionRegistryIsolatesScopes(t *testing.T) {
	r := NewSessionRegistry()
	r.Register("client-1", "session-1")
	r.Register("client-2", "session-2")

	got, ok := r.SessionFor("client-2")
	assert.True(t, ok)
	assert.Equal(t, "session-2", got)

	r.Remove("session-1")
	_, ok = r.SessionFor("client-2")
	assert.True(t, ok)
	_, ok = r.SessionFor("client-1")
	assert.False(t, ok)
}
