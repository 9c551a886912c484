// Package handler provides request handling for the berrydb protocol.
//
// This package contains session management and the dispatch of wire
// requests to the storage service.
//
// Sessions are not resumable: a reconnecting client re-authenticates and
// gets a fresh session. A failed commit applies nothing, so
// reconnect-and-retry needs no server-side session state.
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/berrydb/berrydb/config"
	"github.com/berrydb/berrydb/internal/logging"
	"github.com/berrydb/berrydb/internal/wire"
)

var log = logging.Component("session")

// =============================================================================
// Session
// =============================================================================

// Session is one authenticated connection. Responses are queued on a
// buffered send channel and written by a single writer goroutine owned by
// the server, so concurrent request handlers never interleave frames.
//
// Session is safe for concurrent use.
type Session struct {
	ID        string
	TokenID   string
	CreatedAt time.Time

	connMu sync.RWMutex
	Conn   net.Conn
	Wire   *wire.Conn

	sendMu sync.RWMutex
	sendCh chan []byte

	closed    atomic.Bool
	closeOnce sync.Once

	onClose func(sessionID string)

	sendBufferSize int
	sendTimeoutMs  int
}

// SessionConfig overrides the send buffer defaults.
type SessionConfig struct {
	SendBufferSize int
	SendTimeoutMs  int
}

// NewSession creates a session with default buffering.
func NewSession(id, tokenID string, conn net.Conn, w *wire.Conn) *Session {
	return NewSessionWithConfig(id, tokenID, conn, w, nil)
}

// NewSessionWithConfig creates a session with explicit buffer settings.
func NewSessionWithConfig(id, tokenID string, conn net.Conn, w *wire.Conn, cfg *SessionConfig) *Session {
	bufferSize := config.DefaultSessionSendBufferSize
	timeoutMs := config.DefaultSessionSendTimeoutMs
	if cfg != nil {
		if cfg.SendBufferSize > 0 {
			bufferSize = cfg.SendBufferSize
		}
		if cfg.SendTimeoutMs > 0 {
			timeoutMs = cfg.SendTimeoutMs
		}
	}

	return &Session{
		ID:             id,
		TokenID:        tokenID,
		CreatedAt:      time.Now(),
		Conn:           conn,
		Wire:           w,
		sendCh:         make(chan []byte, bufferSize),
		sendBufferSize: bufferSize,
		sendTimeoutMs:  timeoutMs,
	}
}

// SetOnClose sets the close callback.
func (s *Session) SetOnClose(fn func(sessionID string)) {
	s.sendMu.Lock()
	s.onClose = fn
	s.sendMu.Unlock()
}

// Send queues framed bytes for the client. A full buffer gets one grace
// period of sendTimeoutMs; after that the response is dropped rather than
// letting a slow client stall a request handler that may be holding a
// commit result.
func (s *Session) Send(data []byte) bool {
	if s.closed.Load() {
		return false
	}

	s.sendMu.RLock()
	ch := s.sendCh
	s.sendMu.RUnlock()

	if ch == nil {
		return false
	}

	select {
	case ch <- data:
		return true
	default:
	}

	select {
	case ch <- data:
		return true
	case <-time.After(time.Duration(s.sendTimeoutMs) * time.Millisecond):
		log.Warn("send buffer full, dropping response",
			"session_id", s.ID,
			"timeout_ms", s.sendTimeoutMs)
		return false
	}
}

// SendEnvelope frames and queues an envelope for the client.
func (s *Session) SendEnvelope(env *wire.Envelope) bool {
	data, err := wire.Marshal(env)
	if err != nil {
		log.Error("marshal envelope failed", "session_id", s.ID, "type", env.Type, "error", err)
		return false
	}
	return s.Send(data)
}

// SendChan returns the send channel for the writer goroutine.
func (s *Session) SendChan() <-chan []byte {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	return s.sendCh
}

// Close closes the session. Idempotent; safe to call from the reader and
// writer goroutines concurrently.
func (s *Session) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		s.closed.Store(true)

		s.sendMu.Lock()
		onClose := s.onClose
		if s.sendCh != nil {
			close(s.sendCh)
			s.sendCh = nil
		}
		s.sendMu.Unlock()

		s.connMu.Lock()
		if s.Conn != nil {
			closeErr = s.Conn.Close()
			s.Conn = nil
			s.Wire = nil
		}
		s.connMu.Unlock()

		if onClose != nil {
			onClose(s.ID)
		}

		log.Debug("session closed", "session_id", s.ID)
	})

	return closeErr
}

// IsClosed returns true if the session is closed.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// =============================================================================
// Session Manager
// =============================================================================

// TokenConfig is one auth token and the identity it grants.
type TokenConfig struct {
	ID    string
	Token string
}

// SessionManagerConfig holds session manager configuration.
type SessionManagerConfig struct {
	AuthTimeout     time.Duration
	CleanupInterval time.Duration
	Tokens          []TokenConfig
	OnSessionClosed func(session *Session)
}

// SessionManager tracks live sessions and validates tokens. Closed
// sessions linger in the map until the periodic cleanup sweeps them,
// which keeps Close cheap on the connection teardown path.
//
// SessionManager is safe for concurrent use.
type SessionManager struct {
	mu sync.RWMutex

	sessions map[string]*Session
	tokens   map[string]*TokenConfig

	authTimeout     time.Duration
	cleanupInterval time.Duration

	onSessionClosed func(session *Session)

	cleanupCtx    context.Context
	cleanupCancel context.CancelFunc
	cleanupWg     sync.WaitGroup
}

// NewSessionManager creates a new session manager.
func NewSessionManager(cfg *SessionManagerConfig) *SessionManager {
	if cfg == nil {
		cfg = &SessionManagerConfig{}
	}
	if cfg.AuthTimeout == 0 {
		cfg.AuthTimeout = time.Duration(config.DefaultAuthTimeoutSec) * time.Second
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Duration(config.DefaultSessionCleanupIntervalSec) * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	sm := &SessionManager{
		sessions:        make(map[string]*Session),
		tokens:          make(map[string]*TokenConfig),
		authTimeout:     cfg.AuthTimeout,
		cleanupInterval: cfg.CleanupInterval,
		onSessionClosed: cfg.OnSessionClosed,
		cleanupCtx:      ctx,
		cleanupCancel:   cancel,
	}

	for _, t := range cfg.Tokens {
		tc := t
		sm.tokens[tc.ID] = &tc
	}

	return sm
}

// Start starts the background cleanup goroutine.
func (sm *SessionManager) Start() {
	sm.cleanupWg.Add(1)
	go sm.cleanupLoop()
	log.Info("session manager started")
}

// Stop stops the cleanup loop and closes every remaining session.
func (sm *SessionManager) Stop() {
	sm.cleanupCancel()
	sm.cleanupWg.Wait()

	sm.mu.Lock()
	for _, session := range sm.sessions {
		session.Close()
	}
	sm.sessions = make(map[string]*Session)
	sm.mu.Unlock()

	log.Info("session manager stopped")
}

// AuthTimeout returns the authentication timeout.
func (sm *SessionManager) AuthTimeout() time.Duration {
	return sm.authTimeout
}

func (sm *SessionManager) cleanupLoop() {
	defer sm.cleanupWg.Done()

	ticker := time.NewTicker(sm.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sm.cleanupClosedSessions()
		case <-sm.cleanupCtx.Done():
			return
		}
	}
}

func (sm *SessionManager) cleanupClosedSessions() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	removed := 0
	for id, session := range sm.sessions {
		if session.IsClosed() {
			delete(sm.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		log.Debug("swept closed sessions", "count", removed)
	}
}

// RegisterToken adds or updates a token configuration.
func (sm *SessionManager) RegisterToken(cfg *TokenConfig) {
	sm.mu.Lock()
	sm.tokens[cfg.ID] = cfg
	sm.mu.Unlock()
}

// ValidateToken checks a presented token and returns the matching config.
func (sm *SessionManager) ValidateToken(token string) (*TokenConfig, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for _, cfg := range sm.tokens {
		if cfg.Token == token {
			return cfg, true
		}
	}
	return nil, false
}

// CreateSession registers a new session for an authenticated connection.
func (sm *SessionManager) CreateSession(tokenID string, conn net.Conn, w *wire.Conn) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	id := generateSessionID()
	session := NewSession(id, tokenID, conn, w)
	session.SetOnClose(func(sid string) {
		if sm.onSessionClosed != nil {
			sm.onSessionClosed(session)
		}
	})

	sm.sessions[id] = session

	log.Info("session created", "session_id", id, "token_id", tokenID)
	return session
}

// GetSession returns a session by ID, or nil.
func (sm *SessionManager) GetSession(id string) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

// RemoveSession closes and forgets a session immediately, without
// waiting for the cleanup sweep.
func (sm *SessionManager) RemoveSession(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, ok := sm.sessions[id]
	if !ok {
		return
	}

	session.Close()
	delete(sm.sessions, id)

	log.Info("session removed", "session_id", id)
}

// Count returns the total number of tracked sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CountActive returns the number of sessions that are not closed.
func (sm *SessionManager) CountActive() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	count := 0
	for _, s := range sm.sessions {
		if !s.IsClosed() {
			count++
		}
	}
	return count
}

// generateSessionID returns 128 bits of randomness as 32 hex characters.
func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("failed to generate session ID: " + err.Error())
	}
	return hex.EncodeToString(b)
}
