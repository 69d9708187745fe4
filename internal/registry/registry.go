package registry

import (
	"sync"
)

// Handle is a live transport connection owned by this process. The
// registry only tracks identity and membership; it never performs I/O on
// the handle.
type Handle interface {
	ID() string
	UserID() string
}

// Registry is the per-process map from user identity to live connections,
// with a secondary index by joined room. All mutation is linearized under
// one lock so concurrent connect/disconnect of the same user never leaves
// a half-updated index, and list results are snapshots: no caller can
// observe a handle after Remove for it has returned.
type Registry struct {
	mu    sync.RWMutex
	users map[string]map[Handle]struct{} // userID -> connections
	rooms map[string]map[Handle]struct{} // roomID -> connections
	conns map[Handle]map[string]struct{} // connection -> joined rooms
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		users: make(map[string]map[Handle]struct{}),
		rooms: make(map[string]map[Handle]struct{}),
		conns: make(map[Handle]map[string]struct{}),
	}
}

// Add registers a connection under its user. Idempotent.
func (r *Registry) Add(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[h]; ok {
		return
	}
	r.conns[h] = make(map[string]struct{})
	userID := h.UserID()
	if r.users[userID] == nil {
		r.users[userID] = make(map[Handle]struct{})
	}
	r.users[userID][h] = struct{}{}
}

// Remove deregisters a connection and leaves all its rooms. Returns true
// when this was the user's last local connection.
func (r *Registry) Remove(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.conns[h]
	if !ok {
		return false
	}
	delete(r.conns, h)

	for roomID := range joined {
		if members, ok := r.rooms[roomID]; ok {
			delete(members, h)
			if len(members) == 0 {
				delete(r.rooms, roomID)
			}
		}
	}

	userID := h.UserID()
	if conns, ok := r.users[userID]; ok {
		delete(conns, h)
		if len(conns) == 0 {
			delete(r.users, userID)
			return true
		}
	}
	return false
}

// JoinRoom joins a registered connection to a room broadcast group.
// Unregistered handles are ignored, so a join racing a disconnect cannot
// resurrect the handle.
func (r *Registry) JoinRoom(h Handle, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.conns[h]
	if !ok {
		return
	}
	joined[roomID] = struct{}{}
	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[Handle]struct{})
	}
	r.rooms[roomID][h] = struct{}{}
}

// LeaveRoom removes a connection from a room broadcast group.
func (r *Registry) LeaveRoom(h Handle, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if joined, ok := r.conns[h]; ok {
		delete(joined, roomID)
	}
	if members, ok := r.rooms[roomID]; ok {
		delete(members, h)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

// ListByUser returns a snapshot of the user's local connections.
func (r *Registry) ListByUser(userID string) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.users[userID])
}

// ListByRoom returns a snapshot of the local connections joined to a room.
func (r *Registry) ListByRoom(roomID string) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.rooms[roomID])
}

// ListAll returns a snapshot of every local connection.
func (r *Registry) ListAll() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Handle, 0, len(r.conns))
	for h := range r.conns {
		result = append(result, h)
	}
	return result
}

// Rooms returns a snapshot of the rooms a connection has joined.
func (r *Registry) Rooms(h Handle) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	joined := r.conns[h]
	if len(joined) == 0 {
		return nil
	}
	result := make([]string, 0, len(joined))
	for roomID := range joined {
		result = append(result, roomID)
	}
	return result
}

// Contains reports whether the handle is still registered. Handlers check
// this after awaited calls before emitting a transport response.
func (r *Registry) Contains(h Handle) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[h]
	return ok
}

// UserConnectionCount returns the number of local connections for a user.
func (r *Registry) UserConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}

// Stats returns total connections and unique users.
func (r *Registry) Stats() (connections, users int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns), len(r.users)
}

func snapshot(set map[Handle]struct{}) []Handle {
	if len(set) == 0 {
		return nil
	}
	result := make([]Handle, 0, len(set))
	for h := range set {
		result = append(result, h)
	}
	return result
}
