package datastore_test

import (
	"errors"
	"testing"

	"github.com/ewaller/chatrelay/pkg/datastore"
	"github.com/ewaller/chatrelay/pkg/model"
)

// MemoryStore backs the server tests; keep its sentinel behavior in step
// with the SQLite provider.
func TestMemoryStoreSentinels(t *testing.T) {
	st := datastore.NewMemory()

	if err := st.AddUser("alice", "pw"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if err := st.AddUser("alice", "pw"); !errors.Is(err, datastore.ErrUsernameTaken) {
		t.Errorf("AddUser duplicate = %v, want ErrUsernameTaken", err)
	}

	room := &model.Room{Name: "lobby", Creator: "alice"}
	id, err := st.CreateRoom(room, "")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if room.RoomType != model.RoomTypePublic {
		t.Errorf("room type defaulted to %q, want public", room.RoomType)
	}

	if err := st.AddModerator(id, "alice"); !errors.Is(err, datastore.ErrAlreadyModerator) {
		t.Errorf("AddModerator for seeded creator = %v, want ErrAlreadyModerator", err)
	}
	if _, err := st.RoomStanding(999, "alice"); !errors.Is(err, datastore.ErrRoomNotFound) {
		t.Errorf("RoomStanding missing room = %v, want ErrRoomNotFound", err)
	}

	if err := st.CreateFriendRequest("alice", "ghost"); !errors.Is(err, datastore.ErrUnknownUser) {
		t.Errorf("CreateFriendRequest to ghost = %v, want ErrUnknownUser", err)
	}
	if err := st.AcceptFriendRequest("alice", "nobody"); !errors.Is(err, datastore.ErrNoPendingRequest) {
		t.Errorf("AcceptFriendRequest without edge = %v, want ErrNoPendingRequest", err)
	}
}

func TestMemoryStoreDeleteRoomIdempotent(t *testing.T) {
	st := datastore.NewMemory()

	if err := st.AddUser("alice", "pw"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	id, err := st.CreateRoom(&model.Room{Name: "lobby", Creator: "alice"}, "")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	if err := st.DeleteRoom(id); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	if err := st.DeleteRoom(id); err != nil {
		t.Errorf("DeleteRoom repeat: %v", err)
	}

	got, err := st.GetRoom(id)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if got != nil {
		t.Errorf("GetRoom after delete = %+v, want nil", got)
	}
}
