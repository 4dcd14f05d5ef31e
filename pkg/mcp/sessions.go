package mcp

import "sync"

// SessionRegistry maps scope IDs to MCP client session IDs. Populated
// automatically when a caller uses a tool that carries a scope_id, so routine
// activity in that scope can be pushed back to whoever operates it.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // scopeID → MCP session ID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates a scope ID with an MCP session ID.
// If the scope already has a session, it is overwritten (reconnect).
func (r *SessionRegistry) Register(scopeID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[scopeID] = sessionID
}

// SessionFor returns the MCP session ID for the given scope, if connected.
func (r *SessionRegistry) SessionFor(scopeID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[scopeID]
	return sid, ok
}

// Remove deletes all scope mappings for the given MCP session ID.
// Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for scope, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, scope)
		}
	}
}
