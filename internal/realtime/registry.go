package realtime

import (
	"sort"
	"sync"
)

// Registry tracks which connected client belongs to which note room. A client
// is a member of at most one note at a time; joining a new note atomically
// leaves the previous one. Membership is soft state bounded by process
// uptime — a liveness hint, never an authority decision.
type Registry struct {
	mu       sync.RWMutex
	noteOf   map[string]string
	roomsFor map[string]map[string]struct{}
}

// NewRegistry constructs an empty membership registry.
func NewRegistry() *Registry {
	return &Registry{
		noteOf:   make(map[string]string),
		roomsFor: make(map[string]map[string]struct{}),
	}
}

// Join records the client as a member of the note room and returns the note
// it previously belonged to, if any. Idempotent: re-joining the current note
// is a no-op.
func (r *Registry) Join(clientID, noteID string) (previous string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.noteOf[clientID]
	if ok && current == noteID {
		return ""
	}
	if ok {
		r.removeLocked(clientID, current)
		previous = current
	}
	r.noteOf[clientID] = noteID
	room := r.roomsFor[noteID]
	if room == nil {
		room = make(map[string]struct{})
		r.roomsFor[noteID] = room
	}
	room[clientID] = struct{}{}
	return previous
}

// Leave removes the client from the note room and reports whether a
// membership was actually removed. Removing a non-member is a no-op.
func (r *Registry) Leave(clientID, noteID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.noteOf[clientID] != noteID {
		return false
	}
	r.removeLocked(clientID, noteID)
	delete(r.noteOf, clientID)
	return true
}

// Disconnect removes the client from whatever room it was in and returns the
// note it belonged to, if any. Idempotent.
func (r *Registry) Disconnect(clientID string) (noteID string, wasMember bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	noteID, wasMember = r.noteOf[clientID]
	if !wasMember {
		return "", false
	}
	r.removeLocked(clientID, noteID)
	delete(r.noteOf, clientID)
	return noteID, true
}

// NoteOf returns the note the client is currently a member of, if any.
func (r *Registry) NoteOf(clientID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	noteID, ok := r.noteOf[clientID]
	return noteID, ok
}

// MembersOf returns the clients currently in the note room, sorted for
// deterministic output. Diagnostics only.
func (r *Registry) MembersOf(noteID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.roomsFor[noteID]
	if len(room) == 0 {
		return nil
	}
	members := make([]string, 0, len(room))
	for clientID := range room {
		members = append(members, clientID)
	}
	sort.Strings(members)
	return members
}

func (r *Registry) removeLocked(clientID, noteID string) {
	room := r.roomsFor[noteID]
	if room == nil {
		return
	}
	delete(room, clientID)
	if len(room) == 0 {
		delete(r.roomsFor, noteID)
	}
}
