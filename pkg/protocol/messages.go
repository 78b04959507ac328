package protocol

// Message type discriminators. Client→server requests and server→client
// replies/broadcasts share one namespace on the wire.
const (
	TypeLogin               = "login"
	TypeLoginResponse       = "login_response"
	TypeRegister            = "register"
	TypeRegisterResponse    = "register_response"
	TypeUpdateProfile       = "update_profile"
	TypeProfileUpdated      = "profile_updated"
	TypeGetProfile          = "get_profile"
	TypeProfileData         = "profile_data"
	TypeCreateRoom          = "create_room"
	TypeRoomCreated         = "room_created"
	TypeJoinRoom            = "join_room"
	TypeAddModerator        = "add_moderator"
	TypeBanUser             = "ban_user"
	TypeBanned              = "banned"
	TypeSendFriendRequest   = "send_friend_request"
	TypeFriendRequest       = "friend_request"
	TypeAcceptFriendRequest = "accept_friend_request"
	TypeFriendAdded         = "friend_added"
	TypeGetFriends          = "get_friends"
	TypeFriendsList         = "friends_list"
	TypeMessage             = "message"
	TypeRoomState           = "room_state"
	TypeOnlineUsers         = "online_users"
	TypeSuccess             = "success"
	TypeError               = "error"
)

// ----- Auth & profile -----

type LoginRequest struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Type     string `json:"type"`
	Success  bool   `json:"success"`
	Username string `json:"username,omitempty"`
}

type RegisterRequest struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// UpdateProfileRequest carries partial profile edits. Pointer fields
// distinguish "leave unchanged" from "set to empty".
type UpdateProfileRequest struct {
	Type      string  `json:"type"`
	Bio       *string `json:"bio,omitempty"`
	Pronouns  *string `json:"pronouns,omitempty"`
	TextColor *string `json:"text_color,omitempty"`
}

type ProfileUpdated struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type GetProfileRequest struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

type ProfileData struct {
	Type      string `json:"type"`
	Username  string `json:"username"`
	Bio       string `json:"bio"`
	Pronouns  string `json:"pronouns"`
	TextColor string `json:"text_color"`
}

// ----- Rooms -----

type CreateRoomRequest struct {
	Type        string `json:"type"`
	RoomName    string `json:"room_name"`
	RoomType    string `json:"room_type,omitempty"` // "public" (default) or "private"
	Password    string `json:"password,omitempty"`
	Description string `json:"description,omitempty"`
}

type RoomCreated struct {
	Type     string `json:"type"`
	RoomID   int64  `json:"room_id"`
	RoomName string `json:"room_name"`
}

type JoinRoomRequest struct {
	Type     string `json:"type"`
	RoomID   int64  `json:"room_id"`
	Password string `json:"password,omitempty"`
}

type AddModeratorRequest struct {
	Type     string `json:"type"`
	RoomID   int64  `json:"room_id"`
	Username string `json:"username"`
}

type BanUserRequest struct {
	Type     string `json:"type"`
	RoomID   int64  `json:"room_id"`
	Username string `json:"username"`
	Reason   string `json:"reason,omitempty"`
}

// Banned is the direct notification delivered to a banned user's session.
type Banned struct {
	Type   string `json:"type"`
	RoomID int64  `json:"room_id"`
	Reason string `json:"reason,omitempty"`
}

// RoomInfo is one entry in a room_state broadcast.
type RoomInfo struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Creator     string   `json:"creator"`
	RoomType    string   `json:"type"`
	Description string   `json:"description"`
	Moderators  []string `json:"moderators"`
	UserCount   int      `json:"user_count"`
}

type RoomState struct {
	Type  string     `json:"type"`
	Rooms []RoomInfo `json:"rooms"`
}

// ----- Friends -----

type SendFriendRequestRequest struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

type FriendRequestNotice struct {
	Type     string `json:"type"`
	FromUser string `json:"from_user"`
}

type AcceptFriendRequestRequest struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

type FriendAdded struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

type GetFriendsRequest struct {
	Type string `json:"type"`
}

// FriendsList carries [username, status] pairs, where status is the edge
// state annotated live as "online"/"offline" per the session table.
type FriendsList struct {
	Type    string      `json:"type"`
	Friends [][2]string `json:"friends"`
}

// ----- Chat -----

type ChatRequest struct {
	Type    string `json:"type"`
	RoomID  int64  `json:"room_id"`
	Content string `json:"content"`
}

type ChatBroadcast struct {
	Type      string `json:"type"`
	RoomID    int64  `json:"room_id"`
	Username  string `json:"username"`
	Content   string `json:"content"`
	TextColor string `json:"text_color"`
}

// ----- Presence & generic -----

type OnlineUsers struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

type Success struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
