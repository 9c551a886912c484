// Package server provides the berrydb TCP server implementation.
//
// The server handles client connections, authentication, and request
// dispatching into the storage service.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/berrydb/berrydb/config"
	"github.com/berrydb/berrydb/internal/handler"
	"github.com/berrydb/berrydb/internal/logging"
	"github.com/berrydb/berrydb/internal/storage"
	"github.com/berrydb/berrydb/internal/wire"
)

var log = logging.Component("server")

// =============================================================================
// Auth Rate Limiting
// =============================================================================

// RateLimiter blocks IPs that keep failing authentication. Only failed
// attempts count; a successful auth resets the counter for that IP, so
// legitimate clients behind a shared NAT are not punished for one bad
// neighbor's expired token.
type RateLimiter struct {
	mu       sync.RWMutex
	failures map[string]*rateLimitEntry
	limit    int
	window   time.Duration
}

type rateLimitEntry struct {
	count     int
	resetTime time.Time
}

// NewRateLimiter creates a rate limiter allowing limit failures per
// window per IP.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		failures: make(map[string]*rateLimitEntry),
		limit:    limit,
		window:   window,
	}
	go rl.cleanupLoop()
	return rl
}

// IsBlocked reports whether the IP exceeded the failure limit within the
// current window. Checked before the auth exchange starts.
func (rl *RateLimiter) IsBlocked(ip string) bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	entry, ok := rl.failures[ip]
	if !ok || time.Now().After(entry.resetTime) {
		return false
	}
	return entry.count >= rl.limit
}

// RecordFailure counts a failed authentication attempt against the IP.
func (rl *RateLimiter) RecordFailure(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	entry, ok := rl.failures[ip]
	if !ok || now.After(entry.resetTime) {
		rl.failures[ip] = &rateLimitEntry{
			count:     1,
			resetTime: now.Add(rl.window),
		}
		return
	}
	entry.count++
}

// Reset clears the failure count for an IP after a successful auth.
func (rl *RateLimiter) Reset(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.failures, ip)
}

// GetFailureCount returns the current failure count for an IP.
func (rl *RateLimiter) GetFailureCount(ip string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	entry, ok := rl.failures[ip]
	if !ok || time.Now().After(entry.resetTime) {
		return 0
	}
	return entry.count
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for ip, entry := range rl.failures {
			if now.After(entry.resetTime) {
				delete(rl.failures, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// =============================================================================
// Server Configuration
// =============================================================================

// Config holds server configuration.
type Config struct {
	// Storage is the storage service (required).
	Storage *storage.Service

	// Listen is the address to listen on (e.g., "0.0.0.0:4410").
	Listen string

	// TLS configuration (optional).
	TLSCertFile string
	TLSKeyFile  string

	// Authentication tokens.
	Tokens []handler.TokenConfig

	// Session settings.
	AuthTimeoutSec int
}

// =============================================================================
// Server
// =============================================================================

// Server accepts client connections and routes requests into storage.
type Server struct {
	cfg      *Config
	svc      *storage.Service
	sessions *handler.SessionManager
	handler  *handler.Handler
	listener net.Listener

	authRateLimiter *RateLimiter

	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// New creates a new server.
func New(cfg *Config) *Server {
	// Apply defaults
	if cfg.Listen == "" {
		cfg.Listen = config.DefaultListenAddress
	}
	if cfg.AuthTimeoutSec == 0 {
		cfg.AuthTimeoutSec = config.DefaultAuthTimeoutSec
	}

	// Create session manager
	sessions := handler.NewSessionManager(&handler.SessionManagerConfig{
		AuthTimeout:     time.Duration(cfg.AuthTimeoutSec) * time.Second,
		CleanupInterval: time.Duration(config.DefaultSessionCleanupIntervalSec) * time.Second,
		Tokens:          cfg.Tokens,
	})

	return &Server{
		cfg:      cfg,
		svc:      cfg.Storage,
		sessions: sessions,
		handler:  handler.NewHandler(cfg.Storage, sessions),
		shutdown: make(chan struct{}),
		authRateLimiter: NewRateLimiter(
			config.DefaultAuthRateLimitPerMinute,
			time.Minute,
		),
	}
}

// Run starts the server and blocks until shutdown.
func (s *Server) Run() error {
	if err := s.svc.Start(); err != nil {
		return fmt.Errorf("start storage: %w", err)
	}

	s.sessions.Start()

	// Start listener
	var ln net.Listener
	var err error

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("load TLS cert: %w", err)
		}
		tlsCfg := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		ln, err = tls.Listen("tcp", s.cfg.Listen, tlsCfg)
		if err != nil {
			return fmt.Errorf("TLS listen: %w", err)
		}
		log.Info("listening with TLS", "address", s.cfg.Listen)
	} else {
		ln, err = net.Listen("tcp", s.cfg.Listen)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		log.Info("listening without TLS", "address", s.cfg.Listen)
	}

	s.listener = ln

	// Accept connections
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
				log.Error("accept error", "error", err)
				continue
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Addr returns the listener address, once listening.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops the server gracefully. Queued async commits drain
// through the storage service's own Stop.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		log.Info("shutting down")
		close(s.shutdown)

		if s.listener != nil {
			s.listener.Close()
		}

		s.sessions.Stop()
		s.wg.Wait()

		if err := s.svc.Stop(); err != nil {
			log.Error("storage stop failed", "error", err)
		}

		log.Info("shutdown complete")
	})
}

// =============================================================================
// Connection Handling
// =============================================================================

// handleConn handles a new connection.
func (s *Server) handleConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	remoteIP := extractIP(remote)

	log.Info("connection from", "remote", remote)

	if s.authRateLimiter.IsBlocked(remoteIP) {
		log.Warn("blocked due to too many failed auth attempts", "remote", remote)
		conn.Close()
		return
	}

	w := wire.NewConn(conn)

	// Auth with timeout
	conn.SetDeadline(time.Now().Add(s.sessions.AuthTimeout()))

	env, err := w.Read()
	if err != nil {
		log.Error("auth read error", "remote", remote, "error", err)
		conn.Close()
		return
	}

	if env.Type != wire.TypeAuth {
		s.authRateLimiter.RecordFailure(remoteIP)
		w.Write(wire.NewError(env.ID, 0, "first message must be auth"))
		conn.Close()
		return
	}

	var auth wire.Auth
	if err := env.DecodeBody(&auth); err != nil {
		s.authRateLimiter.RecordFailure(remoteIP)
		w.Write(wire.NewErrorFromErr(env.ID, err))
		conn.Close()
		return
	}

	tokenCfg, ok := s.sessions.ValidateToken(auth.Token)
	if !ok {
		s.authRateLimiter.RecordFailure(remoteIP)
		s.sendAuthResponse(w, env.ID, false, "invalid token")
		conn.Close()
		log.Warn("auth failed", "remote", remote,
			"failure_count", s.authRateLimiter.GetFailureCount(remoteIP))
		return
	}

	s.authRateLimiter.Reset(remoteIP)

	conn.SetDeadline(time.Time{}) // Clear deadline

	session := s.sessions.CreateSession(tokenCfg.ID, conn, w)
	log.Info("new session", "session_id", session.ID, "remote", remote, "token_id", tokenCfg.ID)

	if err := s.sendAuthResponse(w, env.ID, true, ""); err != nil {
		log.Error("failed to send auth response", "remote", remote, "error", err)
		session.Close()
		return
	}

	// Start writer goroutine
	done := make(chan struct{})
	go func() {
		defer close(done)
		for data := range session.SendChan() {
			if _, err := conn.Write(data); err != nil {
				// Close() is idempotent, so it's safe to call from both goroutines.
				log.Debug("write failed, closing session",
					"session_id", session.ID,
					"error", err)
				session.Close()
				return
			}
		}
	}()

	ctx := logging.ContextWithSessionID(context.Background(), session.ID)

	// Read loop. Each request runs in its own goroutine so a slow sync
	// commit does not stall queries multiplexed on the same connection.
	var requests sync.WaitGroup
	for {
		env, err := w.Read()
		if err != nil {
			break
		}

		requests.Add(1)
		go func(env *wire.Envelope) {
			defer requests.Done()
			s.handler.Handle(ctx, session, env)
		}(env)
	}

	// Disconnect - wait for in-flight requests, then close session and
	// wait for the writer goroutine
	requests.Wait()
	session.Close()
	log.Info("session disconnected", "session_id", session.ID)
	<-done
}

// extractIP extracts the IP address from a remote address string.
func extractIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}

func (s *Server) sendAuthResponse(w *wire.Conn, id uint64, ok bool, errMsg string) error {
	env, err := wire.NewEnvelope(id, wire.TypeAuthResponse, &wire.AuthResponse{
		Success: ok,
		Message: errMsg,
	})
	if err != nil {
		return err
	}
	return w.Write(env)
}
