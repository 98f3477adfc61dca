package mcp

import (
	"slices"
	"sync"
)

// SessionRegistry tracks where to reach agents and which maps they work on.
// Sessions are per agent and replaced on reconnect; watchers are per map and
// survive reconnects, so an agent that comes back is still told about the
// maps it touched.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string   // agent id -> session id
	watchers map[string][]string // map id -> agents in first-touch order
}

// NewSessionRegistry creates an empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]string),
		watchers: make(map[string][]string),
	}
}

// Register records sessionID for agentID, replacing an older session.
func (r *SessionRegistry) Register(agentID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[agentID] = sessionID
}

// SessionFor returns the session of agentID, if any.
func (r *SessionRegistry) SessionFor(agentID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[agentID]
	return sid, ok
}

// Watch marks agentID as working on mapID.
func (r *SessionRegistry) Watch(mapID, agentID string) {
	if mapID == "" || agentID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.Contains(r.watchers[mapID], agentID) {
		r.watchers[mapID] = append(r.watchers[mapID], agentID)
	}
}

// Recipients returns who hears about a change to mapID made by actor: the
// owner first, then every watcher, without actor or duplicates.
func (r *SessionRegistry) Recipients(mapID, owner, actor string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, agent := range append([]string{owner}, r.watchers[mapID]...) {
		if agent == "" || agent == actor || slices.Contains(out, agent) {
			continue
		}
		out = append(out, agent)
	}
	return out
}

// Remove forgets the session sessionID for every agent bound to it. Watch
// lists are kept.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for agent, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, agent)
		}
	}
}
