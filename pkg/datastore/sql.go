package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ewaller/chatrelay/pkg/crypto"
	"github.com/ewaller/chatrelay/pkg/model"
	"github.com/ewaller/chatrelay/pkg/rbac"
)

const dbTimeLayout = "2006-01-02 15:04:05"

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type baseProvider struct {
	DB
}

func (p *baseProvider) Close() error {
	return nil
}

type nonTxProvider struct {
	baseProvider
}

type txProvider struct {
	baseProvider
	tx *sql.Tx
}

func (c *txProvider) Rollback() error {
	return c.tx.Rollback()
}

func (c *txProvider) Commit() error {
	return c.tx.Commit()
}

// ProviderFactory hands out transactional and non-transactional views of
// the SQLite database.
type ProviderFactory struct {
	DB *sql.DB
}

func (sf *ProviderFactory) NonTx() DataStore {
	return &nonTxProvider{
		baseProvider: baseProvider{
			DB: sf.DB,
		},
	}
}

func (sf *ProviderFactory) Tx(ctx context.Context) (DataStoreTx, error) {
	tx, err := sf.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &txProvider{
		baseProvider: baseProvider{
			DB: tx,
		},
		tx: tx,
	}, nil
}

// NewProviderFactory opens (or creates) a SQLite database and runs migrations.
func NewProviderFactory(dbPath string) (*ProviderFactory, error) {
	DB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := DB.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	if _, err := DB.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: enable FK: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := DB.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &ProviderFactory{DB: DB}
	if err := s.migrate(); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *ProviderFactory) Close() error {
	return s.DB.Close()
}

func (s *ProviderFactory) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		username   TEXT PRIMARY KEY CHECK(length(username) > 0 AND length(username) <= 32),
		password   TEXT NOT NULL,
		text_color TEXT NOT NULL DEFAULT '#000000',
		bio        TEXT NOT NULL DEFAULT '',
		pronouns   TEXT NOT NULL DEFAULT '',
		is_online  INTEGER NOT NULL DEFAULT 0,
		last_login TEXT,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS rooms (
		room_id     INTEGER PRIMARY KEY AUTOINCREMENT,
		room_name   TEXT    NOT NULL,
		creator     TEXT    NOT NULL REFERENCES users(username),
		room_type   TEXT    NOT NULL DEFAULT 'public',
		password    TEXT    NOT NULL DEFAULT '',
		description TEXT    NOT NULL DEFAULT '',
		is_archived INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS room_moderators (
		room_id  INTEGER NOT NULL,
		username TEXT    NOT NULL,
		PRIMARY KEY (room_id, username)
	);

	CREATE TABLE IF NOT EXISTS banned_users (
		room_id   INTEGER NOT NULL,
		username  TEXT    NOT NULL,
		banned_by TEXT    NOT NULL DEFAULT '',
		reason    TEXT    NOT NULL DEFAULT '',
		banned_at TEXT    NOT NULL DEFAULT (datetime('now')),
		PRIMARY KEY (room_id, username)
	);

	CREATE TABLE IF NOT EXISTS friends (
		user1   TEXT NOT NULL,
		user2   TEXT NOT NULL,
		status  TEXT NOT NULL DEFAULT 'pending',
		sent_at TEXT NOT NULL DEFAULT (datetime('now')),
		PRIMARY KEY (user1, user2)
	);
	`
	ctx := context.Background()
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version      int
		statements   []string
		ignoreErrors bool
	}{
		{
			version:    1,
			statements: []string{schema},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := s.execMigration(ctx, stmt, m.ignoreErrors); err != nil {
				return err
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *ProviderFactory) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.DB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *ProviderFactory) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.DB.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *ProviderFactory) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.DB.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func (s *ProviderFactory) execMigration(ctx context.Context, stmt string, ignoreErrors bool) error {
	if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
		if ignoreErrors {
			return nil
		}
		return fmt.Errorf("datastore: migrate: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// isUniqueViolation reports whether err is a SQLite UNIQUE/PK constraint
// failure, which the providers translate into domain sentinels.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ---- Users ----

// AddUser registers a user with an Argon2id-hashed credential.
func (s *baseProvider) AddUser(username, password string) error {
	if err := model.ValidateUsername(username); err != nil {
		return fmt.Errorf("datastore: add user: %w", err)
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return fmt.Errorf("datastore: add user: %w", err)
	}
	_, err = s.ExecContext(context.Background(),
		"INSERT INTO users (username, password) VALUES (?, ?)", username, hash)
	if isUniqueViolation(err) {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("datastore: add user: %w", err)
	}
	return nil
}

// VerifyCredentials checks a username/password pair. Unknown users verify
// false without error so login failures stay indistinguishable.
func (s *baseProvider) VerifyCredentials(username, password string) (bool, error) {
	var hash string
	err := s.QueryRowContext(context.Background(),
		"SELECT password FROM users WHERE username = ?", username).Scan(&hash)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("datastore: verify credentials: %w", err)
	}
	return crypto.VerifyPassword(hash, password), nil
}

// UserExists reports whether a username is registered.
func (s *baseProvider) UserExists(username string) (bool, error) {
	var count int
	err := s.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("datastore: user exists: %w", err)
	}
	return count > 0, nil
}

// SetOnline flips a user's online flag and stamps last_login.
func (s *baseProvider) SetOnline(username string, online bool) error {
	onlineInt := 0
	if online {
		onlineInt = 1
	}
	_, err := s.ExecContext(context.Background(),
		"UPDATE users SET is_online = ?, last_login = ? WHERE username = ?",
		onlineInt, formatDBTime(time.Now()), username)
	if err != nil {
		return fmt.Errorf("datastore: set online: %w", err)
	}
	return nil
}

// SetAllOffline clears every online flag. Run at startup so flags left by
// an unclean shutdown do not leak into presence lists.
func (s *baseProvider) SetAllOffline() error {
	_, err := s.ExecContext(context.Background(), "UPDATE users SET is_online = 0")
	if err != nil {
		return fmt.Errorf("datastore: set all offline: %w", err)
	}
	return nil
}

// ListOnlineUsers returns the usernames currently flagged online.
func (s *baseProvider) ListOnlineUsers() ([]string, error) {
	rows, err := s.QueryContext(context.Background(),
		"SELECT username FROM users WHERE is_online = 1 ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("datastore: list online users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("datastore: scan online user: %w", err)
		}
		users = append(users, name)
	}
	return users, rows.Err()
}

// GetProfile retrieves the public profile fields for a user.
func (s *baseProvider) GetProfile(username string) (*model.Profile, error) {
	p := &model.Profile{}
	err := s.QueryRowContext(context.Background(),
		"SELECT bio, pronouns, text_color FROM users WHERE username = ?", username).
		Scan(&p.Bio, &p.Pronouns, &p.TextColor)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get profile: %w", err)
	}
	return p, nil
}

// UpdateProfile applies partial profile edits; nil fields stay untouched.
func (s *baseProvider) UpdateProfile(username string, bio, pronouns, textColor *string) error {
	var sets []string
	var args []any
	if bio != nil {
		sets = append(sets, "bio = ?")
		args = append(args, *bio)
	}
	if pronouns != nil {
		sets = append(sets, "pronouns = ?")
		args = append(args, *pronouns)
	}
	if textColor != nil {
		if err := model.ValidateTextColor(*textColor); err != nil {
			return fmt.Errorf("datastore: update profile: %w", err)
		}
		sets = append(sets, "text_color = ?")
		args = append(args, *textColor)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, username)
	_, err := s.ExecContext(context.Background(),
		"UPDATE users SET "+strings.Join(sets, ", ")+" WHERE username = ?", args...)
	if err != nil {
		return fmt.Errorf("datastore: update profile: %w", err)
	}
	return nil
}

// ---- Rooms ----

// CreateRoom persists a room with its creator seeded as moderator. Private
// room passwords are hashed before storage. Call inside a transaction when
// atomicity of the two inserts matters.
func (s *baseProvider) CreateRoom(room *model.Room, password string) (int64, error) {
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
			return 0, fmt.Errorf("datastore: create room: %w", err)
		}
	}

	res, err := s.ExecContext(context.Background(),
		"INSERT INTO rooms (room_name, creator, room_type, password, description) VALUES (?, ?, ?, ?, ?)",
		room.Name, room.Creator, room.RoomType, passwordHash, room.Description)
	if err != nil {
		return 0, fmt.Errorf("datastore: create room: %w", err)
	}
	id, _ := res.LastInsertId()

	if _, err := s.ExecContext(context.Background(),
		"INSERT INTO room_moderators (room_id, username) VALUES (?, ?)", id, room.Creator); err != nil {
		return 0, fmt.Errorf("datastore: create room: seed moderator: %w", err)
	}

	room.ID = id
	room.PasswordHash = passwordHash
	room.CreatedAt = time.Now().UTC()
	return id, nil
}

// GetRoom retrieves a room by ID, nil when absent or archived.
func (s *baseProvider) GetRoom(id int64) (*model.Room, error) {
	r := &model.Room{}
	var createdAt string
	err := s.QueryRowContext(context.Background(),
		"SELECT room_id, room_name, creator, room_type, password, description, created_at FROM rooms WHERE room_id = ? AND is_archived = 0", id).
		Scan(&r.ID, &r.Name, &r.Creator, &r.RoomType, &r.PasswordHash, &r.Description, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get room: %w", err)
	}
	parsed, err := parseDBTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("datastore: get room: %w", err)
	}
	r.CreatedAt = parsed
	return r, nil
}

// ListRooms returns all non-archived rooms.
func (s *baseProvider) ListRooms() ([]model.Room, error) {
	rows, err := s.QueryContext(context.Background(),
		"SELECT room_id, room_name, creator, room_type, password, description, created_at FROM rooms WHERE is_archived = 0 ORDER BY room_id")
	if err != nil {
		return nil, fmt.Errorf("datastore: list rooms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rooms []model.Room
	for rows.Next() {
		var r model.Room
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Name, &r.Creator, &r.RoomType, &r.PasswordHash, &r.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan room: %w", err)
		}
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan room: %w", err)
		}
		r.CreatedAt = parsed
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// DeleteRoom removes a room and its moderator and ban rows. A missing room
// deletes cleanly, keeping the empty-room sweep idempotent.
func (s *baseProvider) DeleteRoom(id int64) error {
	ctx := context.Background()
	if _, err := s.ExecContext(ctx, "DELETE FROM room_moderators WHERE room_id = ?", id); err != nil {
		return fmt.Errorf("datastore: delete room moderators: %w", err)
	}
	if _, err := s.ExecContext(ctx, "DELETE FROM banned_users WHERE room_id = ?", id); err != nil {
		return fmt.Errorf("datastore: delete room bans: %w", err)
	}
	if _, err := s.ExecContext(ctx, "DELETE FROM rooms WHERE room_id = ?", id); err != nil {
		return fmt.Errorf("datastore: delete room: %w", err)
	}
	return nil
}

// AddModerator adds a user to a room's moderator set.
func (s *baseProvider) AddModerator(roomID int64, username string) error {
	_, err := s.ExecContext(context.Background(),
		"INSERT INTO room_moderators (room_id, username) VALUES (?, ?)", roomID, username)
	if isUniqueViolation(err) {
		return ErrAlreadyModerator
	}
	if err != nil {
		return fmt.Errorf("datastore: add moderator: %w", err)
	}
	return nil
}

// GetModerators returns a room's moderator usernames.
func (s *baseProvider) GetModerators(roomID int64) ([]string, error) {
	rows, err := s.QueryContext(context.Background(),
		"SELECT username FROM room_moderators WHERE room_id = ? ORDER BY username", roomID)
	if err != nil {
		return nil, fmt.Errorf("datastore: get moderators: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var mods []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("datastore: scan moderator: %w", err)
		}
		mods = append(mods, name)
	}
	return mods, rows.Err()
}

// RoomStanding reports whether username is the room's creator or in its
// moderator set.
func (s *baseProvider) RoomStanding(roomID int64, username string) (rbac.Standing, error) {
	var standing rbac.Standing

	var creator string
	err := s.QueryRowContext(context.Background(),
		"SELECT creator FROM rooms WHERE room_id = ? AND is_archived = 0", roomID).Scan(&creator)
	if err == sql.ErrNoRows {
		return standing, ErrRoomNotFound
	}
	if err != nil {
		return standing, fmt.Errorf("datastore: room standing: %w", err)
	}
	standing.IsCreator = creator == username

	var count int
	err = s.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM room_moderators WHERE room_id = ? AND username = ?", roomID, username).Scan(&count)
	if err != nil {
		return standing, fmt.Errorf("datastore: room standing: %w", err)
	}
	standing.IsModerator = count > 0
	return standing, nil
}

// ---- Bans ----

// AddBan records a room ban.
func (s *baseProvider) AddBan(roomID int64, username, bannedBy, reason string) error {
	_, err := s.ExecContext(context.Background(),
		"INSERT INTO banned_users (room_id, username, banned_by, reason) VALUES (?, ?, ?, ?)",
		roomID, username, bannedBy, reason)
	if isUniqueViolation(err) {
		return ErrAlreadyBanned
	}
	if err != nil {
		return fmt.Errorf("datastore: add ban: %w", err)
	}
	return nil
}

// IsBanned checks whether username is banned from roomID.
func (s *baseProvider) IsBanned(roomID int64, username string) (bool, error) {
	var count int
	err := s.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM banned_users WHERE room_id = ? AND username = ?",
		roomID, username).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("datastore: check ban: %w", err)
	}
	return count > 0, nil
}

// ---- Friends ----

// CreateFriendRequest inserts a pending edge after checking the recipient
// exists and no edge exists in either direction.
func (s *baseProvider) CreateFriendRequest(from, to string) error {
	exists, err := s.UserExists(to)
	if err != nil {
		return err
	}
	if !exists {
		return ErrUnknownUser
	}

	var count int
	err = s.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM friends WHERE (user1 = ? AND user2 = ?) OR (user1 = ? AND user2 = ?)",
		from, to, to, from).Scan(&count)
	if err != nil {
		return fmt.Errorf("datastore: check friend edge: %w", err)
	}
	if count > 0 {
		return ErrDuplicateRequest
	}

	_, err = s.ExecContext(context.Background(),
		"INSERT INTO friends (user1, user2, status) VALUES (?, ?, ?)",
		from, to, model.FriendStatusPending)
	if isUniqueViolation(err) {
		return ErrDuplicateRequest
	}
	if err != nil {
		return fmt.Errorf("datastore: create friend request: %w", err)
	}
	return nil
}

// AcceptFriendRequest flips a pending (from, to) edge to accepted.
func (s *baseProvider) AcceptFriendRequest(from, to string) error {
	res, err := s.ExecContext(context.Background(),
		"UPDATE friends SET status = ? WHERE user1 = ? AND user2 = ? AND status = ?",
		model.FriendStatusAccepted, from, to, model.FriendStatusPending)
	if err != nil {
		return fmt.Errorf("datastore: accept friend request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("datastore: accept friend request: %w", err)
	}
	if n == 0 {
		return ErrNoPendingRequest
	}
	return nil
}

// ListFriends unions edges from both directions.
func (s *baseProvider) ListFriends(username string) ([]model.FriendEdge, error) {
	rows, err := s.QueryContext(context.Background(),
		`SELECT user1, user2, status, sent_at FROM friends WHERE user1 = ?
		 UNION
		 SELECT user1, user2, status, sent_at FROM friends WHERE user2 = ?`,
		username, username)
	if err != nil {
		return nil, fmt.Errorf("datastore: list friends: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var edges []model.FriendEdge
	for rows.Next() {
		var e model.FriendEdge
		var sentAt string
		if err := rows.Scan(&e.Requester, &e.Recipient, &e.Status, &sentAt); err != nil {
			return nil, fmt.Errorf("datastore: scan friend edge: %w", err)
		}
		parsed, err := parseDBTime(sentAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan friend edge: %w", err)
		}
		e.SentAt = parsed
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
