// Package realtime tracks live socket connections and fans events out to rooms.
package realtime

import (
	"sort"
	"sync"

	"campusflow/internal/logging"
)

type registration struct {
	userID string
	role   string
}

// Registry maps sockets to users and roles for the current process.
// It is safe for concurrent use. Empty user and role sets are removed.
type Registry struct {
	mu      sync.RWMutex
	sockets map[string]registration
	byUser  map[string]map[string]struct{}
	byRole  map[string]map[string]struct{}
}

// RegistryStats is a point-in-time view of the registry.
type RegistryStats struct {
	Sockets int            `json:"sockets"`
	Users   int            `json:"users"`
	Roles   map[string]int `json:"roles"`
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sockets: make(map[string]registration),
		byUser:  make(map[string]map[string]struct{}),
		byRole:  make(map[string]map[string]struct{}),
	}
}

// Register records a socket. Re-registering a socket replaces its previous identity.
// A registration missing any key is ignored.
func (r *Registry) Register(socketID, userID, role string) {
	if socketID == "" || userID == "" || role == "" {
		logging.Warn().Str("socket_id", socketID).Str("user_id", userID).Str("role", role).Msg("registration with missing key ignored")
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterLocked(socketID)
	r.sockets[socketID] = registration{userID: userID, role: role}
	add(r.byUser, userID, socketID)
	add(r.byRole, role, socketID)
}

// Unregister forgets a socket and reports whether it was known.
func (r *Registry) Unregister(socketID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unregisterLocked(socketID)
}

func (r *Registry) unregisterLocked(socketID string) bool {
	reg, ok := r.sockets[socketID]
	if !ok {
		return false
	}
	delete(r.sockets, socketID)
	remove(r.byUser, reg.userID, socketID)
	remove(r.byRole, reg.role, socketID)
	return true
}

// IsConnected reports whether the user has at least one live socket.
func (r *Registry) IsConnected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// IsRoleConnected reports whether any socket of the role is live.
func (r *Registry) IsRoleConnected(role string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byRole[role]) > 0
}

// SocketsForUser returns the user's socket ids, sorted.
func (r *Registry) SocketsForUser(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keys(r.byUser[userID])
}

// SocketsForRole returns the role's socket ids, sorted.
func (r *Registry) SocketsForRole(role string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keys(r.byRole[role])
}

// Stats reports socket, user and per-role counts.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := RegistryStats{Sockets: len(r.sockets), Users: len(r.byUser), Roles: make(map[string]int, len(r.byRole))}
	for role, set := range r.byRole {
		st.Roles[role] = len(set)
	}
	return st
}

func add(index map[string]map[string]struct{}, key, socketID string) {
	set := index[key]
	if set == nil {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[socketID] = struct{}{}
}

func remove(index map[string]map[string]struct{}, key, socketID string) {
	set := index[key]
	if set == nil {
		return
	}
	delete(set, socketID)
	if len(set) == 0 {
		delete(index, key)
	}
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
