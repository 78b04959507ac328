package server

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Run starts the server and blocks until shutdown signal.
func (s *Server) Run() error {
	if s.store == nil {
		return fmt.Errorf("server: missing store dependency")
	}
	st := s.store
	defer func() { _ = st.NonTx().Close() }()

	// Stale online flags from a previous run would leak into presence
	// lists; clear them before accepting anyone.
	if err := st.NonTx().SetAllOffline(); err != nil {
		return fmt.Errorf("server: reset online flags: %w", err)
	}

	// Seed the registry with every stored room so a freshly started
	// server serves the same room list persistence knows about.
	rooms, err := st.NonTx().ListRooms()
	if err != nil {
		return fmt.Errorf("server: load rooms: %w", err)
	}
	for _, room := range rooms {
		s.rooms.Ensure(room.ID)
	}
	slog.Info("loaded rooms from storage", "count", len(rooms))

	if err := s.StartListener(); err != nil {
		return err
	}

	slog.Info("chatrelay server running", "listen", s.cfg.ListenAddr)

	// Start Prometheus metrics HTTP endpoint
	s.StartMetricsHTTP()

	// Start periodic metrics logging (every 60s)
	s.metrics.StartPeriodicLog(60*time.Second, s.ctx.Done())

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	s.Shutdown()
	return nil
}

// StartListener starts the TCP listener and the accept loop.
func (s *Server) StartListener() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.listener = ln

	slog.Info("listening", "addr", s.cfg.ListenAddr)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
					slog.Error("accept error", "err", err)
					continue
				}
			}
			go s.handleConn(conn)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	for _, sess := range s.sessions.All() {
		sess.Close()
	}
}
