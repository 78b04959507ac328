// Package datastore defines the persistence interface consumed by the relay
// core, plus its SQLite and in-memory implementations.
package datastore

import (
	"context"
	"errors"

	"github.com/ewaller/chatrelay/pkg/model"
	"github.com/ewaller/chatrelay/pkg/rbac"
)

// Sentinel errors for business-rule violations the dispatcher reports back
// to clients verbatim-ish. Anything else out of a DataStore call is an
// unexpected storage fault.
var (
	ErrUsernameTaken    = errors.New("datastore: username already exists")
	ErrUnknownUser      = errors.New("datastore: user does not exist")
	ErrRoomNotFound     = errors.New("datastore: room does not exist")
	ErrAlreadyModerator = errors.New("datastore: user is already a moderator")
	ErrAlreadyBanned    = errors.New("datastore: user is already banned")
	ErrDuplicateRequest = errors.New("datastore: friend request already exists")
	ErrNoPendingRequest = errors.New("datastore: no pending friend request")
)

type DataProviderFactory interface {
	NonTx() DataStore
	Tx(context.Context) (DataStoreTx, error)
}

type DataStoreTx interface {
	DataStore
	Rollback() error
	Commit() error
}

// DataStore is the storage surface the relay core depends on. Every call is
// independently atomic and safe for concurrent use from multiple sessions.
type DataStore interface {
	ConfigProvider

	UserReadProvider
	UserWriteProvider

	RoomReadProvider
	RoomWriteProvider

	BanReadProvider
	BanWriteProvider

	FriendReadProvider
	FriendWriteProvider
}

// Compile-time check: the SQLite factory satisfies the interface.
var _ DataProviderFactory = (*ProviderFactory)(nil)

type ConfigProvider interface {
	Close() error
}

type UserReadProvider interface {
	// VerifyCredentials checks a username/password pair against the stored
	// Argon2id hash. A missing user verifies false without error.
	VerifyCredentials(username, password string) (bool, error)
	UserExists(username string) (bool, error)
	GetProfile(username string) (*model.Profile, error)
	ListOnlineUsers() ([]string, error)
}

type UserWriteProvider interface {
	// AddUser registers a user, hashing the password before storage.
	// Returns ErrUsernameTaken on duplicates.
	AddUser(username, password string) error
	SetOnline(username string, online bool) error
	// SetAllOffline clears stale online flags, run once at startup.
	SetAllOffline() error
	// UpdateProfile applies partial edits; nil fields are left unchanged.
	UpdateProfile(username string, bio, pronouns, textColor *string) error
}

type RoomReadProvider interface {
	GetRoom(id int64) (*model.Room, error)
	// ListRooms returns all non-archived rooms, public and private alike.
	ListRooms() ([]model.Room, error)
	GetModerators(roomID int64) ([]string, error)
	// RoomStanding reports the requester's creator/moderator standing for
	// permission checks. Unknown rooms yield ErrRoomNotFound.
	RoomStanding(roomID int64, username string) (rbac.Standing, error)
}

type RoomWriteProvider interface {
	// CreateRoom persists a room, assigning its ID, hashing the raw password
	// for private rooms, and seeding the creator into the moderator set.
	CreateRoom(room *model.Room, password string) (int64, error)
	// DeleteRoom removes a room along with its moderator and ban rows.
	// Deleting an absent room is a no-op, which keeps the sweep idempotent.
	DeleteRoom(id int64) error
	// AddModerator returns ErrAlreadyModerator on duplicates.
	AddModerator(roomID int64, username string) error
}

type BanReadProvider interface {
	IsBanned(roomID int64, username string) (bool, error)
}

type BanWriteProvider interface {
	// AddBan returns ErrAlreadyBanned if a ban record exists.
	AddBan(roomID int64, username, bannedBy, reason string) error
}

type FriendReadProvider interface {
	// ListFriends unions edges where username is on either side.
	ListFriends(username string) ([]model.FriendEdge, error)
}

type FriendWriteProvider interface {
	// CreateFriendRequest returns ErrDuplicateRequest if an edge exists in
	// either direction, ErrUnknownUser if the recipient is not registered.
	CreateFriendRequest(from, to string) error
	// AcceptFriendRequest flips a pending (from, to) edge to accepted;
	// returns ErrNoPendingRequest when there is nothing to accept.
	AcceptFriendRequest(from, to string) error
}
