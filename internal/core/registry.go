package core

// Registry maps rooms to the sessions currently bound to them. A session is
// a member of at most one room at a time; binding to a new room replaces the
// previous membership. All methods are called from the hub loop only, so no
// locking is needed.
type Registry struct {
	bySession map[string]string
	byRoom    map[string]map[string]struct{}
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		bySession: make(map[string]string),
		byRoom:    make(map[string]map[string]struct{}),
	}
}

// Bind associates a session with a room, removing it from any room it was
// previously bound to. It returns the previous room id, if any.
func (r *Registry) Bind(sessionID, roomID string) (prev string, moved bool) {
	prev, moved = r.bySession[sessionID]
	if moved && prev == roomID {
		return prev, false
	}
	if moved {
		r.removeMember(prev, sessionID)
	}

	r.bySession[sessionID] = roomID
	members := r.byRoom[roomID]
	if members == nil {
		members = make(map[string]struct{})
		r.byRoom[roomID] = members
	}
	members[sessionID] = struct{}{}
	return prev, moved
}

// Unbind removes the session from whatever room it belongs to. Called on
// disconnect. Returns the room the session was bound to, if any.
func (r *Registry) Unbind(sessionID string) (roomID string, ok bool) {
	roomID, ok = r.bySession[sessionID]
	if !ok {
		return "", false
	}
	delete(r.bySession, sessionID)
	r.removeMember(roomID, sessionID)
	return roomID, true
}

// MembersOf returns the session ids currently bound to the room.
func (r *Registry) MembersOf(roomID string) []string {
	members := r.byRoom[roomID]
	if len(members) == 0 {
		return nil
	}
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// RoomOf returns the room a session is bound to.
func (r *Registry) RoomOf(sessionID string) (string, bool) {
	roomID, ok := r.bySession[sessionID]
	return roomID, ok
}

// MemberCount returns the number of sessions bound to the room.
func (r *Registry) MemberCount(roomID string) int {
	return len(r.byRoom[roomID])
}

func (r *Registry) removeMember(roomID, sessionID string) {
	members := r.byRoom[roomID]
	if members == nil {
		return
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(r.byRoom, roomID)
	}
}
