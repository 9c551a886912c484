package handler

import (
	"net"
	"testing"
	"time"

	"github.com/berrydb/berrydb/internal/wire"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()

	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return NewSession("sess-1", "token-1", a, wire.NewConn(a))
}

func TestSessionSend(t *testing.T) {
	s := newTestSession(t)

	if !s.Send([]byte("hello")) {
		t.Fatal("Send on open session returned false")
	}

	select {
	case data := <-s.SendChan():
		if string(data) != "hello" {
			t.Errorf("got %q", data)
		}
	case <-time.After(time.Second):
		t.Fatal("queued data never arrived")
	}
}

func TestSessionSendEnvelope(t *testing.T) {
	s := newTestSession(t)

	env := wire.NewError(7, 1, "boom")
	if !s.SendEnvelope(env) {
		t.Fatal("SendEnvelope returned false")
	}

	data := <-s.SendChan()
	if len(data) < 4 {
		t.Fatalf("framed message too short: %d bytes", len(data))
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	s := newTestSession(t)

	var closedID string
	s.SetOnClose(func(id string) { closedID = id })

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !s.IsClosed() {
		t.Error("IsClosed() = false after Close")
	}
	if closedID != "sess-1" {
		t.Errorf("onClose got %q", closedID)
	}

	// Second close is a no-op, and sends after close fail.
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if s.Send([]byte("late")) {
		t.Error("Send after Close returned true")
	}
}

func TestSessionSendBufferFull(t *testing.T) {
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})

	s := NewSessionWithConfig("sess-2", "token-1", a, wire.NewConn(a), &SessionConfig{
		SendBufferSize: 1,
		SendTimeoutMs:  10,
	})
	t.Cleanup(func() { s.Close() })

	if !s.Send([]byte("first")) {
		t.Fatal("first Send failed")
	}
	// Nobody drains the channel, so the second send times out.
	if s.Send([]byte("second")) {
		t.Error("Send into a full buffer should fail")
	}
}

func TestValidateToken(t *testing.T) {
	sm := NewSessionManager(&SessionManagerConfig{
		Tokens: []TokenConfig{
			{ID: "reader", Token: "tok-reader"},
			{ID: "writer", Token: "tok-writer"},
		},
	})

	cfg, ok := sm.ValidateToken("tok-writer")
	if !ok || cfg.ID != "writer" {
		t.Errorf("ValidateToken = %+v, %v", cfg, ok)
	}

	if _, ok := sm.ValidateToken("bogus"); ok {
		t.Error("unknown token validated")
	}

	sm.RegisterToken(&TokenConfig{ID: "admin", Token: "tok-admin"})
	if _, ok := sm.ValidateToken("tok-admin"); !ok {
		t.Error("registered token not found")
	}
}

func TestSessionLifecycle(t *testing.T) {
	sm := NewSessionManager(nil)

	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})

	session := sm.CreateSession("reader", a, wire.NewConn(a))
	if session.ID == "" || session.TokenID != "reader" {
		t.Fatalf("bad session: %+v", session)
	}
	if sm.Count() != 1 || sm.CountActive() != 1 {
		t.Errorf("count=%d active=%d, want 1/1", sm.Count(), sm.CountActive())
	}
	if got := sm.GetSession(session.ID); got != session {
		t.Error("GetSession returned a different session")
	}

	session.Close()
	if sm.CountActive() != 0 {
		t.Errorf("active = %d after close, want 0", sm.CountActive())
	}

	// Closed sessions linger until cleanup removes them.
	if sm.Count() != 1 {
		t.Errorf("count = %d, want 1 before cleanup", sm.Count())
	}
	sm.cleanupClosedSessions()
	if sm.Count() != 0 {
		t.Errorf("count = %d after cleanup, want 0", sm.Count())
	}
}

func TestRemoveSession(t *testing.T) {
	sm := NewSessionManager(nil)

	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})

	session := sm.CreateSession("reader", a, wire.NewConn(a))
	sm.RemoveSession(session.ID)

	if !session.IsClosed() {
		t.Error("RemoveSession should close the session")
	}
	if sm.Count() != 0 {
		t.Errorf("count = %d, want 0", sm.Count())
	}
}

func TestStopClosesSessions(t *testing.T) {
	sm := NewSessionManager(&SessionManagerConfig{CleanupInterval: time.Hour})
	sm.Start()

	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	session := sm.CreateSession("reader", a, wire.NewConn(a))

	sm.Stop()

	if !session.IsClosed() {
		t.Error("Stop should close remaining sessions")
	}
	if sm.Count() != 0 {
		t.Errorf("count = %d, want 0", sm.Count())
	}
}

func TestGenerateSessionID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := generateSessionID()
		if len(id) != 32 {
			t.Fatalf("id length = %d, want 32", len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
