package model

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// Room type values as stored and sent on the wire.
const (
	RoomTypePublic  = "public"
	RoomTypePrivate = "private"
)

const (
	MaxRoomNameLength = 64
	MaxRoomDescLength = 256
)

var ErrRoomNameEmpty = errors.New("room name must not be empty")
var ErrRoomNameTooLong = errors.New("room name too long")
var ErrRoomDescTooLong = errors.New("room description too long")
var ErrRoomTypeInvalid = errors.New("room type must be public or private")
var ErrRoomPasswordRequired = errors.New("private rooms require a password")

// Room represents a chat room. PasswordHash is empty for public rooms.
// Membership is not part of the record; the in-memory registry owns it.
type Room struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Creator      string    `json:"creator"`
	RoomType     string    `json:"type"`
	PasswordHash string    `json:"-"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate checks room fields before persistence. The password argument is
// the raw (pre-hash) password supplied at creation, empty for public rooms.
func (r *Room) Validate(password string) error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrRoomNameEmpty
	}
	if utf8.RuneCountInString(r.Name) > MaxRoomNameLength {
		return ErrRoomNameTooLong
	}
	if utf8.RuneCountInString(r.Description) > MaxRoomDescLength {
		return ErrRoomDescTooLong
	}
	switch r.RoomType {
	case RoomTypePublic:
	case RoomTypePrivate:
		if password == "" {
			return ErrRoomPasswordRequired
		}
	default:
		return ErrRoomTypeInvalid
	}
	return nil
}

// Ban records one user banned from one room.
type Ban struct {
	RoomID    int64     `json:"room_id"`
	Username  string    `json:"username"`
	BannedBy  string    `json:"banned_by"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
