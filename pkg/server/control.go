package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"unicode"

	"github.com/ewaller/chatrelay/pkg/crypto"
	"github.com/ewaller/chatrelay/pkg/datastore"
	"github.com/ewaller/chatrelay/pkg/model"
	"github.com/ewaller/chatrelay/pkg/protocol"
	"github.com/ewaller/chatrelay/pkg/rbac"
)

// MaxChatContentLength caps relayed chat messages.
const MaxChatContentLength = 2000

// handlerFunc consumes one decoded payload for one session.
type handlerFunc func(sess *Session, raw json.RawMessage)

// handlers returns the dispatch table: message type -> handler. Unknown
// types fall through to a generic error reply in dispatchMessage.
func (s *Server) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		protocol.TypeLogin:               s.handleLogin,
		protocol.TypeRegister:            s.handleRegister,
		protocol.TypeUpdateProfile:       s.handleUpdateProfile,
		protocol.TypeGetProfile:          s.handleGetProfile,
		protocol.TypeCreateRoom:          s.handleCreateRoom,
		protocol.TypeJoinRoom:            s.handleJoinRoom,
		protocol.TypeAddModerator:        s.handleAddModerator,
		protocol.TypeBanUser:             s.handleBanUser,
		protocol.TypeSendFriendRequest:   s.handleSendFriendRequest,
		protocol.TypeAcceptFriendRequest: s.handleAcceptFriendRequest,
		protocol.TypeGetFriends:          s.handleGetFriends,
		protocol.TypeMessage:             s.handleChat,
	}
}

// handleConn runs a single connection's lifecycle: session registration,
// the blocking receive loop, and disconnect cleanup. One goroutine per
// connection; each message is dispatched synchronously before the next
// read, so commands from one session are strictly ordered.
func (s *Server) handleConn(conn net.Conn) {
	sess := s.sessions.Create(conn)
	remoteAddr := conn.RemoteAddr().String()
	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)
	slog.Debug("new connection", "remote", remoteAddr, "session", sess.ID)

	defer s.closeSession(sess)

	dispatch := s.handlers()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		raw, typ, err := protocol.ReadMessage(conn)
		if err != nil {
			switch {
			case err == io.EOF || isClosedErr(err):
				slog.Debug("client closed connection", "remote", remoteAddr)
			case errors.Is(err, protocol.ErrFraming), errors.Is(err, protocol.ErrDecode):
				slog.Warn("fatal protocol error", "remote", remoteAddr, "err", err)
			default:
				slog.Error("read error", "remote", remoteAddr, "err", err)
			}
			return
		}

		s.dispatchMessage(dispatch, sess, typ, raw)
	}
}

// dispatchMessage routes one message to its handler. A handler panic is
// recovered here and converted to an error reply so a single bad command
// cannot take the process down; the session survives.
func (s *Server) dispatchMessage(dispatch map[string]handlerFunc, sess *Session, typ string, raw json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler panic", "type", typ, "session", sess.ID, "panic", r)
			s.sendError(sess, "internal server error")
		}
	}()

	h, ok := dispatch[typ]
	if !ok {
		s.sendError(sess, "unknown message type: "+typ)
		return
	}
	h(sess, raw)
}

// closeSession runs the full disconnect cleanup for a session: table
// deregistration, offline flag, room departure, presence/room broadcasts,
// and the empty-room sweep.
func (s *Server) closeSession(sess *Session) {
	sess.Close()
	username := sess.Username()
	s.sessions.Remove(sess.ID)
	s.metrics.ActiveConnections.Add(-1)
	s.metrics.TotalDisconnects.Add(1)

	if username == "" {
		slog.Debug("session closed before login", "session", sess.ID)
		return
	}

	if err := s.store.NonTx().SetOnline(username, false); err != nil {
		slog.Error("mark offline failed", "user", username, "err", err)
	}
	s.rooms.RemoveUser(username)
	s.broadcastOnlineUsers()
	s.sweepEmptyRooms()
	s.broadcastRoomState()
	slog.Info("client disconnected", "user", username, "session", sess.ID)
}

// sweepEmptyRooms deletes rooms whose membership dropped to zero from both
// storage and the registry. Called after every departure: leave, ban, and
// disconnect.
func (s *Server) sweepEmptyRooms() {
	deleted := s.rooms.Sweep(func(roomID int64) error {
		if err := s.store.NonTx().DeleteRoom(roomID); err != nil {
			slog.Error("sweep: delete room failed", "room", roomID, "err", err)
			return err
		}
		return nil
	})
	for _, id := range deleted {
		slog.Info("deleted empty room", "room", id)
	}
	s.metrics.RoomsSwept.Add(int64(len(deleted)))
}

// ----- Handlers -----

func (s *Server) handleLogin(sess *Session, raw json.RawMessage) {
	var req protocol.LoginRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.Username == "" || req.Password == "" {
		s.sendError(sess, "login requires username and password")
		return
	}
	if sess.Username() != "" {
		s.sendError(sess, "already logged in as "+sess.Username())
		return
	}

	ok, err := s.store.NonTx().VerifyCredentials(req.Username, req.Password)
	if err != nil {
		slog.Error("credential check failed", "user", req.Username, "err", err)
		s.sendError(sess, "login failed")
		return
	}
	if !ok {
		s.metrics.FailedLogins.Add(1)
		s.send(sess, &protocol.LoginResponse{Type: protocol.TypeLoginResponse, Success: false})
		return
	}

	if err := s.sessions.Bind(sess, req.Username); err != nil {
		// Second login for a live username is rejected; the first session
		// keeps its binding.
		s.metrics.FailedLogins.Add(1)
		slog.Info("duplicate login rejected", "user", req.Username)
		s.send(sess, &protocol.LoginResponse{Type: protocol.TypeLoginResponse, Success: false})
		return
	}

	if err := s.store.NonTx().SetOnline(req.Username, true); err != nil {
		slog.Error("mark online failed", "user", req.Username, "err", err)
	}

	s.metrics.SuccessfulLogins.Add(1)
	s.send(sess, &protocol.LoginResponse{
		Type:     protocol.TypeLoginResponse,
		Success:  true,
		Username: req.Username,
	})
	s.broadcastOnlineUsers()
	s.broadcastRoomState()
	slog.Info("user logged in", "user", req.Username, "session", sess.ID)
}

func (s *Server) handleRegister(sess *Session, raw json.RawMessage) {
	var req protocol.RegisterRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.Username == "" || req.Password == "" {
		s.sendError(sess, "register requires username and password")
		return
	}

	if err := model.ValidateUsername(req.Username); err != nil {
		s.send(sess, &protocol.RegisterResponse{
			Type:    protocol.TypeRegisterResponse,
			Success: false,
			Message: "Registration failed: " + err.Error(),
		})
		return
	}

	err := s.store.NonTx().AddUser(req.Username, req.Password)
	switch {
	case errors.Is(err, datastore.ErrUsernameTaken):
		s.send(sess, &protocol.RegisterResponse{
			Type:    protocol.TypeRegisterResponse,
			Success: false,
			Message: "Username already exists",
		})
	case err != nil:
		slog.Error("registration failed", "user", req.Username, "err", err)
		s.send(sess, &protocol.RegisterResponse{
			Type:    protocol.TypeRegisterResponse,
			Success: false,
			Message: "Registration failed",
		})
	default:
		s.metrics.Registrations.Add(1)
		s.send(sess, &protocol.RegisterResponse{
			Type:    protocol.TypeRegisterResponse,
			Success: true,
			Message: "Registration successful",
		})
		slog.Info("user registered", "user", req.Username)
	}
}

func (s *Server) handleUpdateProfile(sess *Session, raw json.RawMessage) {
	username := s.requireLogin(sess)
	if username == "" {
		return
	}
	var req protocol.UpdateProfileRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.sendError(sess, "malformed update_profile payload")
		return
	}

	if err := s.store.NonTx().UpdateProfile(username, req.Bio, req.Pronouns, req.TextColor); err != nil {
		slog.Error("profile update failed", "user", username, "err", err)
		s.send(sess, &protocol.ProfileUpdated{
			Type:    protocol.TypeProfileUpdated,
			Success: false,
			Message: "Failed to update profile",
		})
		return
	}
	s.send(sess, &protocol.ProfileUpdated{Type: protocol.TypeProfileUpdated, Success: true})
}

func (s *Server) handleGetProfile(sess *Session, raw json.RawMessage) {
	var req protocol.GetProfileRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.Username == "" {
		s.sendError(sess, "get_profile requires username")
		return
	}

	profile, err := s.store.NonTx().GetProfile(req.Username)
	if err != nil {
		slog.Error("get profile failed", "user", req.Username, "err", err)
		s.sendError(sess, "Failed to get user profile")
		return
	}
	if profile == nil {
		profile = &model.Profile{TextColor: model.DefaultTextColor}
	}
	if profile.TextColor == "" {
		profile.TextColor = model.DefaultTextColor
	}
	s.send(sess, &protocol.ProfileData{
		Type:      protocol.TypeProfileData,
		Username:  req.Username,
		Bio:       profile.Bio,
		Pronouns:  profile.Pronouns,
		TextColor: profile.TextColor,
	})
}

func (s *Server) handleCreateRoom(sess *Session, raw json.RawMessage) {
	username := s.requireLogin(sess)
	if username == "" {
		return
	}
	var req protocol.CreateRoomRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.RoomName == "" {
		s.sendError(sess, "create_room requires room_name")
		return
	}

	room := &model.Room{
		Name:        sanitizeText(strings.TrimSpace(req.RoomName)),
		Creator:     username,
		RoomType:    req.RoomType,
		Description: sanitizeText(strings.TrimSpace(req.Description)),
	}

	// Room + seed-moderator rows land together or not at all.
	tx, err := s.store.Tx(context.Background())
	if err != nil {
		slog.Error("create room: begin tx failed", "err", err)
		s.sendError(sess, "Failed to create room")
		return
	}
	roomID, err := tx.CreateRoom(room, req.Password)
	if err != nil {
		_ = tx.Rollback()
		s.sendError(sess, "Failed to create room: "+err.Error())
		return
	}
	if err := tx.Commit(); err != nil {
		slog.Error("create room: commit failed", "err", err)
		s.sendError(sess, "Failed to create room")
		return
	}

	// The creator implicitly joins the new room, leaving any previous one.
	prev := s.rooms.Join(username, roomID)
	sess.setState(StateInRoom)

	s.metrics.RoomsCreated.Add(1)
	s.send(sess, &protocol.RoomCreated{
		Type:     protocol.TypeRoomCreated,
		RoomID:   roomID,
		RoomName: room.Name,
	})
	if prev != 0 {
		s.sweepEmptyRooms()
	}
	s.broadcastRoomState()
	slog.Info("room created", "room", roomID, "name", room.Name, "by", username)
}

func (s *Server) handleJoinRoom(sess *Session, raw json.RawMessage) {
	username := s.requireLogin(sess)
	if username == "" {
		return
	}
	var req protocol.JoinRoomRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.RoomID == 0 {
		s.sendError(sess, "join_room requires room_id")
		return
	}

	banned, err := s.store.NonTx().IsBanned(req.RoomID, username)
	if err != nil {
		slog.Error("ban check failed", "room", req.RoomID, "user", username, "err", err)
		s.sendError(sess, "Failed to join room")
		return
	}
	if banned {
		s.sendError(sess, "You are banned from this room")
		return
	}

	room, err := s.store.NonTx().GetRoom(req.RoomID)
	if err != nil {
		slog.Error("room lookup failed", "room", req.RoomID, "err", err)
		s.sendError(sess, "Failed to join room")
		return
	}
	if room == nil {
		s.sendError(sess, "Room does not exist")
		return
	}
	if room.RoomType == model.RoomTypePrivate {
		if !crypto.VerifyPassword(room.PasswordHash, req.Password) {
			s.sendError(sess, "Incorrect password")
			return
		}
	}

	prev := s.rooms.Join(username, room.ID)
	sess.setState(StateInRoom)
	if prev != 0 && prev != room.ID {
		s.sweepEmptyRooms()
	}
	s.broadcastRoomState()
	slog.Info("user joined room", "user", username, "room", room.ID)
}

func (s *Server) handleAddModerator(sess *Session, raw json.RawMessage) {
	username := s.requireLogin(sess)
	if username == "" {
		return
	}
	var req protocol.AddModeratorRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.RoomID == 0 || req.Username == "" {
		s.sendError(sess, "add_moderator requires room_id and username")
		return
	}

	standing, err := s.store.NonTx().RoomStanding(req.RoomID, username)
	if errors.Is(err, datastore.ErrRoomNotFound) {
		s.sendError(sess, "Room does not exist")
		return
	}
	if err != nil {
		slog.Error("standing check failed", "room", req.RoomID, "err", err)
		s.sendError(sess, "Failed to add moderator")
		return
	}
	if msg := rbac.RequirePermission(standing, rbac.PermAddModerator); msg != "" {
		s.sendError(sess, msg)
		return
	}

	exists, err := s.store.NonTx().UserExists(req.Username)
	if err != nil {
		slog.Error("user lookup failed", "user", req.Username, "err", err)
		s.sendError(sess, "Failed to add moderator")
		return
	}
	if !exists {
		s.sendError(sess, "User "+req.Username+" does not exist")
		return
	}

	err = s.store.NonTx().AddModerator(req.RoomID, req.Username)
	switch {
	case errors.Is(err, datastore.ErrAlreadyModerator):
		s.sendError(sess, "User is already a moderator")
	case err != nil:
		slog.Error("add moderator failed", "room", req.RoomID, "err", err)
		s.sendError(sess, "Failed to add moderator")
	default:
		s.metrics.ModeratorsAdded.Add(1)
		s.send(sess, &protocol.Success{
			Type:    protocol.TypeSuccess,
			Message: "Added " + req.Username + " as moderator",
		})
		s.broadcastRoomState()
		slog.Info("moderator added", "room", req.RoomID, "target", req.Username, "by", username)
	}
}

func (s *Server) handleBanUser(sess *Session, raw json.RawMessage) {
	username := s.requireLogin(sess)
	if username == "" {
		return
	}
	var req protocol.BanUserRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.RoomID == 0 || req.Username == "" {
		s.sendError(sess, "ban_user requires room_id and username")
		return
	}

	standing, err := s.store.NonTx().RoomStanding(req.RoomID, username)
	if errors.Is(err, datastore.ErrRoomNotFound) {
		s.sendError(sess, "Room does not exist")
		return
	}
	if err != nil {
		slog.Error("standing check failed", "room", req.RoomID, "err", err)
		s.sendError(sess, "Failed to ban user")
		return
	}
	if msg := rbac.RequirePermission(standing, rbac.PermBanUser); msg != "" {
		s.sendError(sess, msg)
		return
	}

	reason := sanitizeText(strings.TrimSpace(req.Reason))
	err = s.store.NonTx().AddBan(req.RoomID, req.Username, username, reason)
	switch {
	case errors.Is(err, datastore.ErrAlreadyBanned):
		s.sendError(sess, "User is already banned")
		return
	case err != nil:
		slog.Error("add ban failed", "room", req.RoomID, "err", err)
		s.sendError(sess, "Failed to ban user")
		return
	}

	// A ban is a departure: pull the target out of the room and let the
	// sweep collect it if it emptied.
	removed := s.rooms.RemoveFromRoom(req.RoomID, req.Username)
	s.sendToUser(req.Username, &protocol.Banned{
		Type:   protocol.TypeBanned,
		RoomID: req.RoomID,
		Reason: reason,
	})
	if removed {
		s.sweepEmptyRooms()
	}
	s.broadcastRoomState()

	s.metrics.BanCount.Add(1)
	s.send(sess, &protocol.Success{
		Type:    protocol.TypeSuccess,
		Message: "Banned " + req.Username + " from room",
	})
	slog.Info("user banned", "room", req.RoomID, "target", req.Username, "by", username)
}

func (s *Server) handleSendFriendRequest(sess *Session, raw json.RawMessage) {
	username := s.requireLogin(sess)
	if username == "" {
		return
	}
	var req protocol.SendFriendRequestRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.Username == "" {
		s.sendError(sess, "send_friend_request requires username")
		return
	}
	if req.Username == username {
		s.sendError(sess, "Cannot send a friend request to yourself")
		return
	}

	err := s.store.NonTx().CreateFriendRequest(username, req.Username)
	switch {
	case errors.Is(err, datastore.ErrUnknownUser):
		s.sendError(sess, "User "+req.Username+" does not exist")
	case errors.Is(err, datastore.ErrDuplicateRequest):
		s.sendError(sess, "Friend request already exists")
	case err != nil:
		slog.Error("friend request failed", "from", username, "to", req.Username, "err", err)
		s.sendError(sess, "Failed to send friend request")
	default:
		s.metrics.FriendRequestsSent.Add(1)
		s.sendToUser(req.Username, &protocol.FriendRequestNotice{
			Type:     protocol.TypeFriendRequest,
			FromUser: username,
		})
		s.send(sess, &protocol.Success{
			Type:    protocol.TypeSuccess,
			Message: "Friend request sent to " + req.Username,
		})
	}
}

func (s *Server) handleAcceptFriendRequest(sess *Session, raw json.RawMessage) {
	username := s.requireLogin(sess)
	if username == "" {
		return
	}
	var req protocol.AcceptFriendRequestRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.Username == "" {
		s.sendError(sess, "accept_friend_request requires username")
		return
	}

	err := s.store.NonTx().AcceptFriendRequest(req.Username, username)
	switch {
	case errors.Is(err, datastore.ErrNoPendingRequest):
		s.sendError(sess, "Could not accept friend request")
	case err != nil:
		slog.Error("accept friend request failed", "from", req.Username, "to", username, "err", err)
		s.sendError(sess, "Could not accept friend request")
	default:
		s.metrics.FriendshipsFormed.Add(1)
		s.send(sess, &protocol.FriendAdded{Type: protocol.TypeFriendAdded, Username: req.Username})
		s.sendToUser(req.Username, &protocol.FriendAdded{Type: protocol.TypeFriendAdded, Username: username})
	}
}

func (s *Server) handleGetFriends(sess *Session, _ json.RawMessage) {
	username := s.requireLogin(sess)
	if username == "" {
		return
	}

	edges, err := s.store.NonTx().ListFriends(username)
	if err != nil {
		slog.Error("list friends failed", "user", username, "err", err)
		s.sendError(sess, "Failed to get friends list")
		return
	}

	// Pending edges report "pending"; accepted ones report live presence.
	friends := make([][2]string, 0, len(edges))
	for _, e := range edges {
		counterpart := e.Counterpart(username)
		status := model.FriendStatusPending
		if e.Status == model.FriendStatusAccepted {
			status = "offline"
			if s.sessions.IsOnline(counterpart) {
				status = "online"
			}
		}
		friends = append(friends, [2]string{counterpart, status})
	}
	s.send(sess, &protocol.FriendsList{Type: protocol.TypeFriendsList, Friends: friends})
}

func (s *Server) handleChat(sess *Session, raw json.RawMessage) {
	username := s.requireLogin(sess)
	if username == "" {
		return
	}
	var req protocol.ChatRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.RoomID == 0 {
		s.sendError(sess, "message requires room_id and content")
		return
	}

	content := sanitizeText(strings.TrimSpace(req.Content))
	if content == "" {
		return // silently drop empty messages
	}
	if len(content) > MaxChatContentLength {
		content = content[:MaxChatContentLength]
	}

	if !s.rooms.Contains(req.RoomID, username) {
		s.sendError(sess, "You are not in this room")
		return
	}

	textColor := model.DefaultTextColor
	if profile, err := s.store.NonTx().GetProfile(username); err != nil {
		slog.Error("profile lookup failed", "user", username, "err", err)
	} else if profile != nil && profile.TextColor != "" {
		textColor = profile.TextColor
	}

	s.metrics.ChatMessagesSent.Add(1)
	s.broadcastRoom(req.RoomID, &protocol.ChatBroadcast{
		Type:      protocol.TypeMessage,
		RoomID:    req.RoomID,
		Username:  username,
		Content:   content,
		TextColor: textColor,
	})
}

// ----- Helpers -----

// requireLogin returns the session's username, or sends an error reply and
// returns "" when the session has not authenticated.
func (s *Server) requireLogin(sess *Session) string {
	username := sess.Username()
	if username == "" {
		s.sendError(sess, "Must be logged in")
	}
	return username
}

func (s *Server) sendError(sess *Session, message string) {
	s.send(sess, &protocol.ErrorMessage{Type: protocol.TypeError, Message: message})
}

func isClosedErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}

// sanitizeText strips control characters (except newline, collapsed to a
// space) from user-supplied text to prevent terminal escape injection and
// null-byte tricks.
func sanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
