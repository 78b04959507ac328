package server

import (
	"sync"
)

// RoomRegistry is the process-wide authoritative map of room membership:
// room id -> set of usernames currently in that room. Room existence and
// metadata live in storage; who receives a room's broadcasts is decided
// here.
//
// A single mutex serializes every mutation. The membership invariant (a
// username is in at most one room) and the empty-room sweep both span
// multiple map operations that must not interleave with a concurrent join.
type RoomRegistry struct {
	mu      sync.Mutex
	members map[int64]map[string]bool
}

// NewRoomRegistry creates an empty registry.
func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		members: make(map[int64]map[string]bool),
	}
}

// Ensure registers a room id with an empty membership set if absent.
// Used to keep registry keys a superset of the rooms storage knows.
func (rr *RoomRegistry) Ensure(roomID int64) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if _, ok := rr.members[roomID]; !ok {
		rr.members[roomID] = make(map[string]bool)
	}
}

// Join adds a username to a room, atomically removing it from every other
// room first. Returns the previous room id, or 0 if the user was roomless.
func (rr *RoomRegistry) Join(username string, roomID int64) (prevRoomID int64) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	for id, set := range rr.members {
		if set[username] {
			delete(set, username)
			prevRoomID = id
			break
		}
	}

	if _, ok := rr.members[roomID]; !ok {
		rr.members[roomID] = make(map[string]bool)
	}
	rr.members[roomID][username] = true
	return prevRoomID
}

// RemoveUser removes a username from every room. Returns the room id the
// user was in, or 0.
func (rr *RoomRegistry) RemoveUser(username string) (roomID int64) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	for id, set := range rr.members {
		if set[username] {
			delete(set, username)
			return id
		}
	}
	return 0
}

// RemoveFromRoom removes a username from one room's set, reporting whether
// it was a member.
func (rr *RoomRegistry) RemoveFromRoom(roomID int64, username string) bool {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	set, ok := rr.members[roomID]
	if !ok || !set[username] {
		return false
	}
	delete(set, username)
	return true
}

// Members returns a snapshot of a room's usernames.
func (rr *RoomRegistry) Members(roomID int64) []string {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	set := rr.members[roomID]
	result := make([]string, 0, len(set))
	for name := range set {
		result = append(result, name)
	}
	return result
}

// MemberCount returns how many users are in a room.
func (rr *RoomRegistry) MemberCount(roomID int64) int {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return len(rr.members[roomID])
}

// Contains reports whether a username is in a room's membership set.
func (rr *RoomRegistry) Contains(roomID int64, username string) bool {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return rr.members[roomID][username]
}

// RoomOf returns the room a username is in, or 0.
func (rr *RoomRegistry) RoomOf(username string) int64 {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	for id, set := range rr.members {
		if set[username] {
			return id
		}
	}
	return 0
}

// Sweep deletes every room whose membership set is empty, invoking
// deleteFn for each to remove it from storage. The registry lock is held
// across the whole pass so no join can land in a room mid-deletion.
//
// A room stays registered if its storage delete fails; the next departure
// retries. deleteFn treats an already-absent room as success, which makes
// the sweep idempotent against transient registry/storage mismatch.
func (rr *RoomRegistry) Sweep(deleteFn func(roomID int64) error) (deleted []int64) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	for id, set := range rr.members {
		if len(set) != 0 {
			continue
		}
		if err := deleteFn(id); err != nil {
			continue
		}
		delete(rr.members, id)
		deleted = append(deleted, id)
	}
	return deleted
}
