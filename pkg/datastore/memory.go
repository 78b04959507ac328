package datastore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ewaller/chatrelay/pkg/crypto"
	"github.com/ewaller/chatrelay/pkg/model"
	"github.com/ewaller/chatrelay/pkg/rbac"
)

// MemoryStore provides an in-memory DataStore implementation for tests.
// It mirrors the SQLite implementation's validation and sentinel errors.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	nextRoomID int64

	users   map[string]*memoryUser
	rooms   map[int64]*model.Room
	mods    map[int64]map[string]bool    // roomID -> moderator set
	bans    map[int64]map[string]*model.Ban
	friends map[[2]string]*model.FriendEdge // [requester, recipient]
}

type memoryUser struct {
	passwordHash string
	profile      model.Profile
	online       bool
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:        now,
		nextRoomID: 1,
		users:      make(map[string]*memoryUser),
		rooms:      make(map[int64]*model.Room),
		mods:       make(map[int64]map[string]bool),
		bans:       make(map[int64]map[string]*model.Ban),
		friends:    make(map[[2]string]*model.FriendEdge),
	}
}

// NonTx returns the store itself; every operation is already atomic.
func (s *MemoryStore) NonTx() DataStore {
	return s
}

// Tx returns a transactional view. Operations apply immediately and
// Commit/Rollback are no-ops, sufficient for the single-operation
// transactions the server opens, not a real isolation layer.
func (s *MemoryStore) Tx(context.Context) (DataStoreTx, error) {
	return &memoryTx{s}, nil
}

type memoryTx struct {
	*MemoryStore
}

func (t *memoryTx) Commit() error   { return nil }
func (t *memoryTx) Rollback() error { return nil }

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// ---- Users ----

func (s *MemoryStore) AddUser(username, password string) error {
	if err := model.ValidateUsername(username); err != nil {
		return err
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; exists {
		return ErrUsernameTaken
	}
	s.users[username] = &memoryUser{
		passwordHash: hash,
		profile:      model.Profile{TextColor: model.DefaultTextColor},
	}
	return nil
}

func (s *MemoryStore) VerifyCredentials(username, password string) (bool, error) {
	s.mu.RLock()
	u, ok := s.users[username]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return crypto.VerifyPassword(u.passwordHash, password), nil
}

func (s *MemoryStore) UserExists(username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[username]
	return ok, nil
}

func (s *MemoryStore) SetOnline(username string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[username]; ok {
		u.online = online
	}
	return nil
}

func (s *MemoryStore) SetAllOffline() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		u.online = false
	}
	return nil
}

func (s *MemoryStore) ListOnlineUsers() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var users []string
	for name, u := range s.users {
		if u.online {
			users = append(users, name)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (s *MemoryStore) GetProfile(username string) (*model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return nil, nil
	}
	p := u.profile
	return &p, nil
}

func (s *MemoryStore) UpdateProfile(username string, bio, pronouns, textColor *string) error {
	if textColor != nil {
		if err := model.ValidateTextColor(*textColor); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return nil
	}
	if bio != nil {
		u.profile.Bio = *bio
	}
	if pronouns != nil {
		u.profile.Pronouns = *pronouns
	}
	if textColor != nil {
		u.profile.TextColor = *textColor
	}
	return nil
}

// ---- Rooms ----

func (s *MemoryStore) CreateRoom(room *model.Room, password string) (int64, error) {
	if room.RoomType == "" {
		room.RoomType = model.RoomTypePublic
	}
	if err := room.Validate(password); err != nil {
		return 0, err
	}

	passwordHash := ""
	if room.RoomType == model.RoomTypePrivate {
		var err error
		passwordHash, err = crypto.HashPassword(password)
		if err != nil {
			return 0, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextRoomID
	s.nextRoomID++

	stored := *room
	stored.ID = id
	stored.PasswordHash = passwordHash
	stored.CreatedAt = s.now()
	s.rooms[id] = &stored
	s.mods[id] = map[string]bool{room.Creator: true}

	room.ID = id
	room.PasswordHash = passwordHash
	room.CreatedAt = stored.CreatedAt
	return id, nil
}

func (s *MemoryStore) GetRoom(id int64) (*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, nil
	}
	copyRoom := *r
	return &copyRoom, nil
}

func (s *MemoryStore) ListRooms() ([]model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	rooms := make([]model.Room, 0, len(ids))
	for _, id := range ids {
		rooms = append(rooms, *s.rooms[id])
	}
	return rooms, nil
}

func (s *MemoryStore) DeleteRoom(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, id)
	delete(s.mods, id)
	delete(s.bans, id)
	return nil
}

func (s *MemoryStore) AddModerator(roomID int64, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.mods[roomID]
	if !ok {
		set = make(map[string]bool)
		s.mods[roomID] = set
	}
	if set[username] {
		return ErrAlreadyModerator
	}
	set[username] = true
	return nil
}

func (s *MemoryStore) GetModerators(roomID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var mods []string
	for name := range s.mods[roomID] {
		mods = append(mods, name)
	}
	sort.Strings(mods)
	return mods, nil
}

func (s *MemoryStore) RoomStanding(roomID int64, username string) (rbac.Standing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return rbac.Standing{}, ErrRoomNotFound
	}
	return rbac.Standing{
		IsCreator:   r.Creator == username,
		IsModerator: s.mods[roomID][username],
	}, nil
}

// ---- Bans ----

func (s *MemoryStore) AddBan(roomID int64, username, bannedBy, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.bans[roomID]
	if !ok {
		set = make(map[string]*model.Ban)
		s.bans[roomID] = set
	}
	if _, exists := set[username]; exists {
		return ErrAlreadyBanned
	}
	set[username] = &model.Ban{
		RoomID:    roomID,
		Username:  username,
		BannedBy:  bannedBy,
		Reason:    reason,
		CreatedAt: s.now(),
	}
	return nil
}

func (s *MemoryStore) IsBanned(roomID int64, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.bans[roomID][username]
	return ok, nil
}

// ---- Friends ----

func (s *MemoryStore) CreateFriendRequest(from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[to]; !ok {
		return ErrUnknownUser
	}
	if _, ok := s.friends[[2]string{from, to}]; ok {
		return ErrDuplicateRequest
	}
	if _, ok := s.friends[[2]string{to, from}]; ok {
		return ErrDuplicateRequest
	}
	s.friends[[2]string{from, to}] = &model.FriendEdge{
		Requester: from,
		Recipient: to,
		Status:    model.FriendStatusPending,
		SentAt:    s.now(),
	}
	return nil
}

func (s *MemoryStore) AcceptFriendRequest(from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	edge, ok := s.friends[[2]string{from, to}]
	if !ok || edge.Status != model.FriendStatusPending {
		return ErrNoPendingRequest
	}
	edge.Status = model.FriendStatusAccepted
	return nil
}

func (s *MemoryStore) ListFriends(username string) ([]model.FriendEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var edges []model.FriendEdge
	for _, e := range s.friends {
		if e.Requester == username || e.Recipient == username {
			edges = append(edges, *e)
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Requester != edges[j].Requester {
			return edges[i].Requester < edges[j].Requester
		}
		return edges[i].Recipient < edges[j].Recipient
	})
	return edges, nil
}

// Compile-time check: MemoryStore satisfies both interfaces.
var _ DataProviderFactory = (*MemoryStore)(nil)
var _ DataStore = (*MemoryStore)(nil)
