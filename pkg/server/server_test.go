package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ewaller/chatrelay/pkg/datastore"
	"github.com/ewaller/chatrelay/pkg/protocol"

	"github.com/google/go-cmp/cmp"
)

// recordConn captures every frame a handler writes so tests can decode the
// replies and broadcasts a session received.
type recordConn struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *recordConn) Read(_ []byte) (int, error) { return 0, io.EOF }

func (c *recordConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *recordConn) Close() error                       { return nil }
func (c *recordConn) LocalAddr() net.Addr                { return &net.IPAddr{} }
func (c *recordConn) RemoteAddr() net.Addr               { return &net.IPAddr{} }
func (c *recordConn) SetDeadline(_ time.Time) error      { return nil }
func (c *recordConn) SetReadDeadline(_ time.Time) error  { return nil }
func (c *recordConn) SetWriteDeadline(_ time.Time) error { return nil }

type frame struct {
	typ string
	raw json.RawMessage
}

// frames decodes everything written to the conn so far.
func (c *recordConn) frames(t *testing.T) []frame {
	t.Helper()
	c.mu.Lock()
	data := make([]byte, c.buf.Len())
	copy(data, c.buf.Bytes())
	c.mu.Unlock()

	var out []frame
	r := bytes.NewReader(data)
	for {
		raw, typ, err := protocol.ReadMessage(r)
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("decode recorded frame: %v", err)
		}
		out = append(out, frame{typ: typ, raw: raw})
	}
}

// lastOfType returns the most recent frame of the given type, or fails.
func (c *recordConn) lastOfType(t *testing.T, typ string) json.RawMessage {
	t.Helper()
	var found json.RawMessage
	for _, f := range c.frames(t) {
		if f.typ == typ {
			found = f.raw
		}
	}
	if found == nil {
		t.Fatalf("no %q frame recorded", typ)
	}
	return found
}

func (c *recordConn) hasType(t *testing.T, typ string) bool {
	t.Helper()
	for _, f := range c.frames(t) {
		if f.typ == typ {
			return true
		}
	}
	return false
}

func newTestServer(t *testing.T) (*Server, *datastore.MemoryStore) {
	t.Helper()
	st := datastore.NewMemory()
	srv := New(DefaultConfig(), Dependencies{Store: st})
	return srv, st
}

func mustRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

// loginUser registers (if needed) and logs in a user on a fresh session.
func loginUser(t *testing.T, srv *Server, st *datastore.MemoryStore, username string) (*Session, *recordConn) {
	t.Helper()
	if exists, _ := st.UserExists(username); !exists {
		if err := st.AddUser(username, "pw-"+username); err != nil {
			t.Fatalf("AddUser(%q): %v", username, err)
		}
	}
	conn := &recordConn{}
	sess := srv.sessions.Create(conn)
	srv.handleLogin(sess, mustRaw(t, protocol.LoginRequest{
		Type:     protocol.TypeLogin,
		Username: username,
		Password: "pw-" + username,
	}))
	if sess.Username() != username {
		t.Fatalf("login for %q did not bind the session", username)
	}
	return sess, conn
}

func errorMessage(t *testing.T, conn *recordConn) string {
	t.Helper()
	var msg protocol.ErrorMessage
	if err := json.Unmarshal(conn.lastOfType(t, protocol.TypeError), &msg); err != nil {
		t.Fatalf("unmarshal error frame: %v", err)
	}
	return msg.Message
}

func TestRegisterAndLogin(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := &recordConn{}
	sess := srv.sessions.Create(conn)

	srv.handleRegister(sess, mustRaw(t, protocol.RegisterRequest{
		Type: protocol.TypeRegister, Username: "alice", Password: "hunter2",
	}))
	var reg protocol.RegisterResponse
	if err := json.Unmarshal(conn.lastOfType(t, protocol.TypeRegisterResponse), &reg); err != nil {
		t.Fatalf("unmarshal register_response: %v", err)
	}
	if !reg.Success {
		t.Fatalf("register failed: %s", reg.Message)
	}

	// Wrong password fails without binding.
	srv.handleLogin(sess, mustRaw(t, protocol.LoginRequest{
		Type: protocol.TypeLogin, Username: "alice", Password: "wrong",
	}))
	var login protocol.LoginResponse
	if err := json.Unmarshal(conn.lastOfType(t, protocol.TypeLoginResponse), &login); err != nil {
		t.Fatalf("unmarshal login_response: %v", err)
	}
	if login.Success {
		t.Fatalf("login with wrong password succeeded")
	}
	if sess.Username() != "" {
		t.Fatalf("failed login bound username %q", sess.Username())
	}

	srv.handleLogin(sess, mustRaw(t, protocol.LoginRequest{
		Type: protocol.TypeLogin, Username: "alice", Password: "hunter2",
	}))
	if err := json.Unmarshal(conn.lastOfType(t, protocol.TypeLoginResponse), &login); err != nil {
		t.Fatalf("unmarshal login_response: %v", err)
	}
	if !login.Success || login.Username != "alice" {
		t.Fatalf("login_response = %+v, want success for alice", login)
	}
	if sess.State() != StateAuthenticated {
		t.Errorf("session state = %v, want StateAuthenticated", sess.State())
	}

	// Everyone gets a presence broadcast after login.
	var users protocol.OnlineUsers
	if err := json.Unmarshal(conn.lastOfType(t, protocol.TypeOnlineUsers), &users); err != nil {
		t.Fatalf("unmarshal online_users: %v", err)
	}
	if diff := cmp.Diff([]string{"alice"}, users.Users); diff != "" {
		t.Errorf("online_users mismatch (-want +got):\n%s", diff)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	srv, st := newTestServer(t)
	if err := st.AddUser("alice", "whatever"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	conn := &recordConn{}
	sess := srv.sessions.Create(conn)
	srv.handleRegister(sess, mustRaw(t, protocol.RegisterRequest{
		Type: protocol.TypeRegister, Username: "alice", Password: "hunter2",
	}))

	var reg protocol.RegisterResponse
	if err := json.Unmarshal(conn.lastOfType(t, protocol.TypeRegisterResponse), &reg); err != nil {
		t.Fatalf("unmarshal register_response: %v", err)
	}
	if reg.Success {
		t.Fatalf("duplicate registration succeeded")
	}
	if reg.Message != "Username already exists" {
		t.Errorf("message = %q, want %q", reg.Message, "Username already exists")
	}
}

func TestDuplicateLoginRejected(t *testing.T) {
	srv, st := newTestServer(t)
	first, _ := loginUser(t, srv, st, "alice")

	conn2 := &recordConn{}
	second := srv.sessions.Create(conn2)
	srv.handleLogin(second, mustRaw(t, protocol.LoginRequest{
		Type: protocol.TypeLogin, Username: "alice", Password: "pw-alice",
	}))

	var login protocol.LoginResponse
	if err := json.Unmarshal(conn2.lastOfType(t, protocol.TypeLoginResponse), &login); err != nil {
		t.Fatalf("unmarshal login_response: %v", err)
	}
	if login.Success {
		t.Fatalf("second login for a live username succeeded")
	}

	// The first session keeps its binding.
	bound, ok := srv.sessions.ByUsername("alice")
	if !ok || bound != first {
		t.Errorf("username binding moved off the first session")
	}
	if second.Username() != "" {
		t.Errorf("rejected login bound username %q", second.Username())
	}
}

func TestCreateRoomJoinsCreator(t *testing.T) {
	srv, st := newTestServer(t)
	sess, conn := loginUser(t, srv, st, "alice")

	srv.handleCreateRoom(sess, mustRaw(t, protocol.CreateRoomRequest{
		Type: protocol.TypeCreateRoom, RoomName: "lobby",
	}))

	var created protocol.RoomCreated
	if err := json.Unmarshal(conn.lastOfType(t, protocol.TypeRoomCreated), &created); err != nil {
		t.Fatalf("unmarshal room_created: %v", err)
	}
	if created.RoomName != "lobby" || created.RoomID == 0 {
		t.Fatalf("room_created = %+v", created)
	}

	if !srv.rooms.Contains(created.RoomID, "alice") {
		t.Errorf("creator not in the new room")
	}
	if sess.State() != StateInRoom {
		t.Errorf("session state = %v, want StateInRoom", sess.State())
	}

	var state protocol.RoomState
	if err := json.Unmarshal(conn.lastOfType(t, protocol.TypeRoomState), &state); err != nil {
		t.Fatalf("unmarshal room_state: %v", err)
	}
	if len(state.Rooms) != 1 || state.Rooms[0].UserCount != 1 {
		t.Errorf("room_state = %+v, want one room with one member", state.Rooms)
	}
}

func TestJoinRoomErrors(t *testing.T) {
	srv, st := newTestServer(t)
	creator, _ := loginUser(t, srv, st, "alice")
	srv.handleCreateRoom(creator, mustRaw(t, protocol.CreateRoomRequest{
		Type: protocol.TypeCreateRoom, RoomName: "vault", RoomType: "private", Password: "s3cret",
	}))
	roomID := srv.rooms.RoomOf("alice")
	if roomID == 0 {
		t.Fatalf("creator has no room")
	}

	sess, conn := loginUser(t, srv, st, "bob")

	srv.handleJoinRoom(sess, mustRaw(t, protocol.JoinRoomRequest{
		Type: protocol.TypeJoinRoom, RoomID: 999,
	}))
	if got := errorMessage(t, conn); got != "Room does not exist" {
		t.Errorf("missing room error = %q", got)
	}

	srv.handleJoinRoom(sess, mustRaw(t, protocol.JoinRoomRequest{
		Type: protocol.TypeJoinRoom, RoomID: roomID, Password: "wrong",
	}))
	if got := errorMessage(t, conn); got != "Incorrect password" {
		t.Errorf("wrong password error = %q", got)
	}
	if srv.rooms.Contains(roomID, "bob") {
		t.Fatalf("bob joined despite wrong password")
	}

	srv.handleJoinRoom(sess, mustRaw(t, protocol.JoinRoomRequest{
		Type: protocol.TypeJoinRoom, RoomID: roomID, Password: "s3cret",
	}))
	if !srv.rooms.Contains(roomID, "bob") {
		t.Fatalf("bob not in room after correct password")
	}
}

func TestJoinRoomBanned(t *testing.T) {
	srv, st := newTestServer(t)
	creator, _ := loginUser(t, srv, st, "alice")
	srv.handleCreateRoom(creator, mustRaw(t, protocol.CreateRoomRequest{
		Type: protocol.TypeCreateRoom, RoomName: "lobby",
	}))
	roomID := srv.rooms.RoomOf("alice")

	if err := st.AddBan(roomID, "bob", "alice", "spam"); err != nil {
		t.Fatalf("AddBan: %v", err)
	}

	sess, conn := loginUser(t, srv, st, "bob")
	srv.handleJoinRoom(sess, mustRaw(t, protocol.JoinRoomRequest{
		Type: protocol.TypeJoinRoom, RoomID: roomID,
	}))

	if got := errorMessage(t, conn); got != "You are banned from this room" {
		t.Errorf("banned join error = %q", got)
	}
	if srv.rooms.Contains(roomID, "bob") {
		t.Errorf("banned user joined the room")
	}
}

func TestBanUserFlow(t *testing.T) {
	srv, st := newTestServer(t)
	creator, creatorConn := loginUser(t, srv, st, "alice")
	srv.handleCreateRoom(creator, mustRaw(t, protocol.CreateRoomRequest{
		Type: protocol.TypeCreateRoom, RoomName: "lobby",
	}))
	roomID := srv.rooms.RoomOf("alice")

	target, targetConn := loginUser(t, srv, st, "bob")
	srv.handleJoinRoom(target, mustRaw(t, protocol.JoinRoomRequest{
		Type: protocol.TypeJoinRoom, RoomID: roomID,
	}))

	// Plain members cannot ban.
	srv.handleBanUser(target, mustRaw(t, protocol.BanUserRequest{
		Type: protocol.TypeBanUser, RoomID: roomID, Username: "alice",
	}))
	if got := errorMessage(t, targetConn); got == "" {
		t.Fatalf("expected permission denial for non-moderator")
	}

	srv.handleBanUser(creator, mustRaw(t, protocol.BanUserRequest{
		Type: protocol.TypeBanUser, RoomID: roomID, Username: "bob", Reason: "spam",
	}))

	var notice protocol.Banned
	if err := json.Unmarshal(targetConn.lastOfType(t, protocol.TypeBanned), &notice); err != nil {
		t.Fatalf("unmarshal banned notice: %v", err)
	}
	if notice.RoomID != roomID || notice.Reason != "spam" {
		t.Errorf("banned notice = %+v", notice)
	}

	if srv.rooms.Contains(roomID, "bob") {
		t.Errorf("banned user still in the room")
	}
	banned, err := st.IsBanned(roomID, "bob")
	if err != nil {
		t.Fatalf("IsBanned: %v", err)
	}
	if !banned {
		t.Errorf("ban not persisted")
	}
	if !creatorConn.hasType(t, protocol.TypeSuccess) {
		t.Errorf("no success reply to the banning moderator")
	}
}

func TestAddModerator(t *testing.T) {
	srv, st := newTestServer(t)
	creator, creatorConn := loginUser(t, srv, st, "alice")
	srv.handleCreateRoom(creator, mustRaw(t, protocol.CreateRoomRequest{
		Type: protocol.TypeCreateRoom, RoomName: "lobby",
	}))
	roomID := srv.rooms.RoomOf("alice")

	loginUser(t, srv, st, "bob")

	srv.handleAddModerator(creator, mustRaw(t, protocol.AddModeratorRequest{
		Type: protocol.TypeAddModerator, RoomID: roomID, Username: "bob",
	}))

	var ok protocol.Success
	if err := json.Unmarshal(creatorConn.lastOfType(t, protocol.TypeSuccess), &ok); err != nil {
		t.Fatalf("unmarshal success: %v", err)
	}
	if ok.Message != "Added bob as moderator" {
		t.Errorf("success message = %q", ok.Message)
	}

	standing, err := st.RoomStanding(roomID, "bob")
	if err != nil {
		t.Fatalf("RoomStanding: %v", err)
	}
	if !standing.IsModerator {
		t.Errorf("bob not recorded as moderator")
	}

	// Repeating the grant is refused.
	srv.handleAddModerator(creator, mustRaw(t, protocol.AddModeratorRequest{
		Type: protocol.TypeAddModerator, RoomID: roomID, Username: "bob",
	}))
	if got := errorMessage(t, creatorConn); got != "User is already a moderator" {
		t.Errorf("duplicate grant error = %q", got)
	}

	// Unknown target is refused.
	srv.handleAddModerator(creator, mustRaw(t, protocol.AddModeratorRequest{
		Type: protocol.TypeAddModerator, RoomID: roomID, Username: "ghost",
	}))
	if got := errorMessage(t, creatorConn); got != "User ghost does not exist" {
		t.Errorf("unknown target error = %q", got)
	}
}

func TestChatBroadcast(t *testing.T) {
	srv, st := newTestServer(t)
	creator, creatorConn := loginUser(t, srv, st, "alice")
	srv.handleCreateRoom(creator, mustRaw(t, protocol.CreateRoomRequest{
		Type: protocol.TypeCreateRoom, RoomName: "lobby",
	}))
	roomID := srv.rooms.RoomOf("alice")

	member, memberConn := loginUser(t, srv, st, "bob")
	srv.handleJoinRoom(member, mustRaw(t, protocol.JoinRoomRequest{
		Type: protocol.TypeJoinRoom, RoomID: roomID,
	}))

	color := "#ff0000"
	if err := st.UpdateProfile("alice", nil, nil, &color); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}

	srv.handleChat(creator, mustRaw(t, protocol.ChatRequest{
		Type: protocol.TypeMessage, RoomID: roomID, Content: "hello room",
	}))

	for name, conn := range map[string]*recordConn{"alice": creatorConn, "bob": memberConn} {
		var msg protocol.ChatBroadcast
		if err := json.Unmarshal(conn.lastOfType(t, protocol.TypeMessage), &msg); err != nil {
			t.Fatalf("unmarshal chat for %s: %v", name, err)
		}
		want := protocol.ChatBroadcast{
			Type: protocol.TypeMessage, RoomID: roomID,
			Username: "alice", Content: "hello room", TextColor: "#ff0000",
		}
		if diff := cmp.Diff(want, msg); diff != "" {
			t.Errorf("chat broadcast to %s mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func TestChatRequiresMembership(t *testing.T) {
	srv, st := newTestServer(t)
	creator, _ := loginUser(t, srv, st, "alice")
	srv.handleCreateRoom(creator, mustRaw(t, protocol.CreateRoomRequest{
		Type: protocol.TypeCreateRoom, RoomName: "lobby",
	}))
	roomID := srv.rooms.RoomOf("alice")

	outsider, conn := loginUser(t, srv, st, "bob")
	srv.handleChat(outsider, mustRaw(t, protocol.ChatRequest{
		Type: protocol.TypeMessage, RoomID: roomID, Content: "sneaky",
	}))

	if got := errorMessage(t, conn); got != "You are not in this room" {
		t.Errorf("non-member chat error = %q", got)
	}
}

func TestSweepAfterRoomSwitch(t *testing.T) {
	srv, st := newTestServer(t)
	sess, _ := loginUser(t, srv, st, "alice")

	srv.handleCreateRoom(sess, mustRaw(t, protocol.CreateRoomRequest{
		Type: protocol.TypeCreateRoom, RoomName: "first",
	}))
	firstID := srv.rooms.RoomOf("alice")

	// Creating a second room moves the creator and empties the first,
	// which the sweep then deletes from storage.
	srv.handleCreateRoom(sess, mustRaw(t, protocol.CreateRoomRequest{
		Type: protocol.TypeCreateRoom, RoomName: "second",
	}))

	room, err := st.GetRoom(firstID)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if room != nil {
		t.Errorf("empty room %d survived the sweep", firstID)
	}
	if srv.rooms.MemberCount(firstID) != 0 {
		t.Errorf("registry still tracks the swept room")
	}
}

func TestDisconnectCleanup(t *testing.T) {
	srv, st := newTestServer(t)
	sess, _ := loginUser(t, srv, st, "alice")
	srv.handleCreateRoom(sess, mustRaw(t, protocol.CreateRoomRequest{
		Type: protocol.TypeCreateRoom, RoomName: "lobby",
	}))
	roomID := srv.rooms.RoomOf("alice")

	srv.closeSession(sess)

	if srv.sessions.IsOnline("alice") {
		t.Errorf("session still registered after disconnect")
	}
	online, err := st.ListOnlineUsers()
	if err != nil {
		t.Fatalf("ListOnlineUsers: %v", err)
	}
	if len(online) != 0 {
		t.Errorf("online flags = %v after disconnect, want empty", online)
	}

	// Their room emptied, so the sweep removed it.
	room, err := st.GetRoom(roomID)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if room != nil {
		t.Errorf("room %d survived its last member disconnecting", roomID)
	}
}

func TestFriendRequestFlow(t *testing.T) {
	srv, st := newTestServer(t)
	alice, aliceConn := loginUser(t, srv, st, "alice")
	bob, bobConn := loginUser(t, srv, st, "bob")

	srv.handleSendFriendRequest(alice, mustRaw(t, protocol.SendFriendRequestRequest{
		Type: protocol.TypeSendFriendRequest, Username: "ghost",
	}))
	if got := errorMessage(t, aliceConn); got != "User ghost does not exist" {
		t.Errorf("ghost request error = %q", got)
	}

	srv.handleSendFriendRequest(alice, mustRaw(t, protocol.SendFriendRequestRequest{
		Type: protocol.TypeSendFriendRequest, Username: "bob",
	}))

	var notice protocol.FriendRequestNotice
	if err := json.Unmarshal(bobConn.lastOfType(t, protocol.TypeFriendRequest), &notice); err != nil {
		t.Fatalf("unmarshal friend_request: %v", err)
	}
	if notice.FromUser != "alice" {
		t.Errorf("friend_request from %q, want alice", notice.FromUser)
	}

	// Pending edges show as "pending" in the recipient's list.
	srv.handleGetFriends(bob, nil)
	var list protocol.FriendsList
	if err := json.Unmarshal(bobConn.lastOfType(t, protocol.TypeFriendsList), &list); err != nil {
		t.Fatalf("unmarshal friends_list: %v", err)
	}
	if diff := cmp.Diff([][2]string{{"alice", "pending"}}, list.Friends); diff != "" {
		t.Errorf("pending friends_list mismatch (-want +got):\n%s", diff)
	}

	srv.handleAcceptFriendRequest(bob, mustRaw(t, protocol.AcceptFriendRequestRequest{
		Type: protocol.TypeAcceptFriendRequest, Username: "alice",
	}))

	// Both sides are notified.
	for name, conn := range map[string]*recordConn{"alice": aliceConn, "bob": bobConn} {
		if !conn.hasType(t, protocol.TypeFriendAdded) {
			t.Errorf("%s did not receive friend_added", name)
		}
	}

	// Accepted friends report live presence.
	srv.handleGetFriends(alice, nil)
	if err := json.Unmarshal(aliceConn.lastOfType(t, protocol.TypeFriendsList), &list); err != nil {
		t.Fatalf("unmarshal friends_list: %v", err)
	}
	if diff := cmp.Diff([][2]string{{"bob", "online"}}, list.Friends); diff != "" {
		t.Errorf("accepted friends_list mismatch (-want +got):\n%s", diff)
	}

	srv.closeSession(bob)
	srv.handleGetFriends(alice, nil)
	if err := json.Unmarshal(aliceConn.lastOfType(t, protocol.TypeFriendsList), &list); err != nil {
		t.Fatalf("unmarshal friends_list: %v", err)
	}
	if diff := cmp.Diff([][2]string{{"bob", "offline"}}, list.Friends); diff != "" {
		t.Errorf("offline friends_list mismatch (-want +got):\n%s", diff)
	}
}

func TestProfileUpdateAndGet(t *testing.T) {
	srv, st := newTestServer(t)
	sess, conn := loginUser(t, srv, st, "alice")

	bio := "hello"
	color := "#00ff00"
	srv.handleUpdateProfile(sess, mustRaw(t, protocol.UpdateProfileRequest{
		Type: protocol.TypeUpdateProfile, Bio: &bio, TextColor: &color,
	}))

	var upd protocol.ProfileUpdated
	if err := json.Unmarshal(conn.lastOfType(t, protocol.TypeProfileUpdated), &upd); err != nil {
		t.Fatalf("unmarshal profile_updated: %v", err)
	}
	if !upd.Success {
		t.Fatalf("profile update failed: %s", upd.Message)
	}

	srv.handleGetProfile(sess, mustRaw(t, protocol.GetProfileRequest{
		Type: protocol.TypeGetProfile, Username: "alice",
	}))
	var prof protocol.ProfileData
	if err := json.Unmarshal(conn.lastOfType(t, protocol.TypeProfileData), &prof); err != nil {
		t.Fatalf("unmarshal profile_data: %v", err)
	}
	want := protocol.ProfileData{
		Type: protocol.TypeProfileData, Username: "alice",
		Bio: "hello", TextColor: "#00ff00",
	}
	if diff := cmp.Diff(want, prof); diff != "" {
		t.Errorf("profile_data mismatch (-want +got):\n%s", diff)
	}

	// Unknown users read back as an empty profile with defaults.
	srv.handleGetProfile(sess, mustRaw(t, protocol.GetProfileRequest{
		Type: protocol.TypeGetProfile, Username: "ghost",
	}))
	if err := json.Unmarshal(conn.lastOfType(t, protocol.TypeProfileData), &prof); err != nil {
		t.Fatalf("unmarshal profile_data: %v", err)
	}
	if prof.TextColor != "#000000" || prof.Bio != "" {
		t.Errorf("ghost profile = %+v, want defaults", prof)
	}
}

func TestDispatchUnknownType(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := &recordConn{}
	sess := srv.sessions.Create(conn)

	srv.dispatchMessage(srv.handlers(), sess, "teleport", mustRaw(t, map[string]string{"type": "teleport"}))

	if got := errorMessage(t, conn); got != "unknown message type: teleport" {
		t.Errorf("unknown type error = %q", got)
	}
}

func TestDispatchRecoversPanic(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := &recordConn{}
	sess := srv.sessions.Create(conn)

	dispatch := map[string]handlerFunc{
		"boom": func(*Session, json.RawMessage) { panic("kaboom") },
	}
	srv.dispatchMessage(dispatch, sess, "boom", nil)

	if got := errorMessage(t, conn); got != "internal server error" {
		t.Errorf("panic reply = %q", got)
	}
}

func TestHandlersRequireLogin(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := &recordConn{}
	sess := srv.sessions.Create(conn)

	srv.handleChat(sess, mustRaw(t, protocol.ChatRequest{
		Type: protocol.TypeMessage, RoomID: 1, Content: "hi",
	}))
	if got := errorMessage(t, conn); got != "Must be logged in" {
		t.Errorf("anonymous chat error = %q", got)
	}

	srv.handleCreateRoom(sess, mustRaw(t, protocol.CreateRoomRequest{
		Type: protocol.TypeCreateRoom, RoomName: "lobby",
	}))
	if got := errorMessage(t, conn); got != "Must be logged in" {
		t.Errorf("anonymous create_room error = %q", got)
	}
}
