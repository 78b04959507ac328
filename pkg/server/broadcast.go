package server

import (
	"log/slog"
	"sort"

	"github.com/ewaller/chatrelay/pkg/protocol"
)

// send delivers one message to one session. A failed write means the peer
// is gone: the session is closed and deregistered so later broadcasts skip
// it, and the normal disconnect cleanup runs when its receive loop exits.
func (s *Server) send(sess *Session, v any) bool {
	if err := sess.Send(v); err != nil {
		slog.Debug("write failed, dropping session", "session", sess.ID, "err", err)
		sess.Close()
		return false
	}
	return true
}

// broadcastAll fans a message out to every connected session, logged-in
// or not. Iterates a snapshot; sessions dying mid-broadcast are skipped
// silently.
func (s *Server) broadcastAll(v any) {
	for _, sess := range s.sessions.All() {
		s.send(sess, v)
	}
}

// broadcastRoom fans a message out to the sessions of a room's current
// members.
func (s *Server) broadcastRoom(roomID int64, v any) {
	for _, username := range s.rooms.Members(roomID) {
		if sess, ok := s.sessions.ByUsername(username); ok {
			s.send(sess, v)
		}
	}
}

// sendToUser delivers a message to one named user if connected. Reports
// whether a live session was found.
func (s *Server) sendToUser(username string, v any) bool {
	sess, ok := s.sessions.ByUsername(username)
	if !ok {
		return false
	}
	return s.send(sess, v)
}

// buildRoomState assembles the room_state payload from storage metadata
// plus live membership counts. Every storage room is ensured a registry
// key on the way through, keeping the registry a superset of storage.
func (s *Server) buildRoomState() (*protocol.RoomState, error) {
	rooms, err := s.store.NonTx().ListRooms()
	if err != nil {
		return nil, err
	}

	infos := make([]protocol.RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		s.rooms.Ensure(room.ID)
		mods, err := s.store.NonTx().GetModerators(room.ID)
		if err != nil {
			return nil, err
		}
		infos = append(infos, protocol.RoomInfo{
			ID:          room.ID,
			Name:        room.Name,
			Creator:     room.Creator,
			RoomType:    room.RoomType,
			Description: room.Description,
			Moderators:  mods,
			UserCount:   s.rooms.MemberCount(room.ID),
		})
	}
	return &protocol.RoomState{Type: protocol.TypeRoomState, Rooms: infos}, nil
}

// broadcastRoomState pushes the current room list to all sessions.
func (s *Server) broadcastRoomState() {
	state, err := s.buildRoomState()
	if err != nil {
		slog.Error("build room state failed", "err", err)
		return
	}
	s.broadcastAll(state)
}

// broadcastOnlineUsers pushes the logged-in user list to all sessions.
func (s *Server) broadcastOnlineUsers() {
	users := s.sessions.OnlineUsernames()
	sort.Strings(users)
	s.broadcastAll(&protocol.OnlineUsers{Type: protocol.TypeOnlineUsers, Users: users})
}
