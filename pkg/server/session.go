package server

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/ewaller/chatrelay/pkg/protocol"
)

// SessionState tracks a session's lifecycle.
type SessionState int

const (
	StateConnected     SessionState = iota // post-accept, pre-login
	StateAuthenticated                     // username bound
	StateInRoom                            // authenticated and joined a room
	StateClosed                            // terminal
)

// writeTimeout bounds each framed write so a stalled peer can only delay,
// never wedge, a broadcasting goroutine.
const writeTimeout = 30 * time.Second

// Session is the server-side state for one connected client. The receive
// loop owns reads; writes come from any goroutine and are serialized by the
// session's write lock so a frame's header and payload never interleave
// with another message.
type Session struct {
	ID uint32

	conn net.Conn

	writeMu sync.Mutex // serializes framed writes on conn

	mu       sync.Mutex // guards username and state
	username string
	state    SessionState
}

// Username returns the bound username, empty until login succeeds.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// State returns the session's lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Send writes one framed message to the session's connection. Concurrent
// senders are serialized; each write carries a deadline.
func (s *Session) Send(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return protocol.WriteMessage(s.conn, v)
}

// Close closes the underlying connection. Safe to call more than once.
func (s *Session) Close() {
	s.setState(StateClosed)
	_ = s.conn.Close()
}

// ErrUsernameInUse is returned by Bind when the username already has a live
// session. Policy: the second login is rejected; the first session stays.
var ErrUsernameInUse = errors.New("server: username already logged in")

// SessionManager is the global session table.
type SessionManager struct {
	mu         sync.RWMutex
	sessions   map[uint32]*Session
	byUsername map[string]*Session
}

// NewSessionManager creates an empty session table.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions:   make(map[uint32]*Session),
		byUsername: make(map[string]*Session),
	}
}

// Create registers a new pre-login session for a connection.
func (sm *SessionManager) Create(conn net.Conn) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	// Generate random non-zero session ID
	var id uint32
	for {
		b := make([]byte, 4)
		if _, err := rand.Read(b); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		id = binary.BigEndian.Uint32(b)
		if id != 0 {
			if _, exists := sm.sessions[id]; !exists {
				break
			}
		}
	}

	sess := &Session{
		ID:    id,
		conn:  conn,
		state: StateConnected,
	}
	sm.sessions[id] = sess
	return sess
}

// Bind associates a username with a session after successful login. The
// second concurrent login for a username is rejected with ErrUsernameInUse.
func (sm *SessionManager) Bind(sess *Session, username string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if existing, ok := sm.byUsername[username]; ok && existing != sess {
		return ErrUsernameInUse
	}
	sm.byUsername[username] = sess

	sess.mu.Lock()
	sess.username = username
	sess.state = StateAuthenticated
	sess.mu.Unlock()
	return nil
}

// Remove drops a session from the table, releasing its username binding.
func (sm *SessionManager) Remove(id uint32) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sess, ok := sm.sessions[id]
	if !ok {
		return
	}
	delete(sm.sessions, id)
	sess.mu.Lock()
	name := sess.username
	sess.mu.Unlock()
	if name != "" && sm.byUsername[name] == sess {
		delete(sm.byUsername, name)
	}
}

// ByUsername retrieves the live session for a username.
func (sm *SessionManager) ByUsername(username string) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sess, ok := sm.byUsername[username]
	return sess, ok
}

// IsOnline reports whether a username has a live session.
func (sm *SessionManager) IsOnline(username string) bool {
	_, ok := sm.ByUsername(username)
	return ok
}

// OnlineUsernames returns a sorted-insertion-free snapshot of logged-in
// usernames; callers sort if they need stable output.
func (sm *SessionManager) OnlineUsernames() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	names := make([]string, 0, len(sm.byUsername))
	for name := range sm.byUsername {
		names = append(names, name)
	}
	return names
}

// All returns all active sessions (snapshot).
func (sm *SessionManager) All() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	result := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		result = append(result, s)
	}
	return result
}

// Count returns the number of active sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}
