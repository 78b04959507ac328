package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime TCP connections accepted
	ActiveConnections atomic.Int64 // current active connections
	FailedLogins      atomic.Int64 // failed login attempts
	SuccessfulLogins  atomic.Int64 // successful login attempts
	Registrations     atomic.Int64 // accounts registered during this run
	TotalDisconnects  atomic.Int64 // total client disconnects (clean + unclean)

	// Chat counters
	ChatMessagesSent atomic.Int64 // total chat messages relayed

	// Room counters
	RoomsCreated atomic.Int64 // rooms created during this run
	RoomsSwept   atomic.Int64 // empty rooms deleted by the sweep

	// Moderation counters
	ModeratorsAdded atomic.Int64 // moderator grants
	BanCount        atomic.Int64 // users banned

	// Friend counters
	FriendRequestsSent atomic.Int64 // friend requests created
	FriendshipsFormed  atomic.Int64 // friend requests accepted
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	SuccessfulLogins  int64 `json:"successful_logins"`
	FailedLogins      int64 `json:"failed_logins"`
	Registrations     int64 `json:"registrations"`
	TotalDisconnects  int64 `json:"total_disconnects"`

	ChatMessagesSent int64 `json:"chat_messages_sent"`

	RoomsCreated int64 `json:"rooms_created"`
	RoomsSwept   int64 `json:"rooms_swept"`

	ModeratorsAdded    int64 `json:"moderators_added"`
	BanCount           int64 `json:"ban_count"`
	FriendRequestsSent int64 `json:"friend_requests_sent"`
	FriendshipsFormed  int64 `json:"friendships_formed"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:             uptime.Truncate(time.Second).String(),
		UptimeSeconds:      int64(uptime.Seconds()),
		ActiveConnections:  m.ActiveConnections.Load(),
		TotalConnections:   m.TotalConnections.Load(),
		SuccessfulLogins:   m.SuccessfulLogins.Load(),
		FailedLogins:       m.FailedLogins.Load(),
		Registrations:      m.Registrations.Load(),
		TotalDisconnects:   m.TotalDisconnects.Load(),
		ChatMessagesSent:   m.ChatMessagesSent.Load(),
		RoomsCreated:       m.RoomsCreated.Load(),
		RoomsSwept:         m.RoomsSwept.Load(),
		ModeratorsAdded:    m.ModeratorsAdded.Load(),
		BanCount:           m.BanCount.Load(),
		FriendRequestsSent: m.FriendRequestsSent.Load(),
		FriendshipsFormed:  m.FriendshipsFormed.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"chat_msgs", s.ChatMessagesSent,
		"rooms_created", s.RoomsCreated,
		"rooms_swept", s.RoomsSwept,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
