// Package server implements the chat relay: the TCP accept loop, per-session
// receive loops, the in-memory room registry, command dispatch, and
// broadcast delivery.
package server

import (
	"context"
	"net"

	"github.com/ewaller/chatrelay/pkg/datastore"
)

// Config holds server configuration.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`  // TCP bind address (e.g. ":5000")
	DBPath      string `yaml:"db_path"`      // SQLite database path
	MetricsAddr string `yaml:"metrics_addr"` // HTTP bind address for /metrics (empty = disabled)

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store datastore.DataProviderFactory
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:  ":5000",
		MetricsAddr: ":5001",
		DBPath:      "chatrelay.db",
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// Server is the chat relay server.
type Server struct {
	cfg      Config
	sessions *SessionManager
	rooms    *RoomRegistry
	metrics  *Metrics
	store    datastore.DataProviderFactory
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		sessions: NewSessionManager(),
		rooms:    NewRoomRegistry(),
		metrics:  NewMetrics(),
		store:    deps.Store,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Rooms returns the room registry.
func (s *Server) Rooms() *RoomRegistry {
	return s.rooms
}

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}
