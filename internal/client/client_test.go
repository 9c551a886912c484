package client

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/berrydb/berrydb/internal/storage/types"
)

func TestStateString(t *testing.T) {
	tests := []struct {
		state ClientState
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateClosing, "closing"},
		{StateClosed, "closed"},
		{ClientState(99), "unknown(99)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestStateTransitions(t *testing.T) {
	c := New(nil)

	if got := c.getState(); got != StateDisconnected {
		t.Fatalf("initial state = %s", got)
	}

	// Disconnected cannot jump straight to Connected.
	if err := c.transitionTo(StateConnected); err == nil {
		t.Error("disconnected -> connected should be invalid")
	}

	if err := c.transitionTo(StateConnecting); err != nil {
		t.Fatalf("disconnected -> connecting: %v", err)
	}
	if err := c.transitionTo(StateConnected); err != nil {
		t.Fatalf("connecting -> connected: %v", err)
	}
	if err := c.transitionTo(StateClosing); err != nil {
		t.Fatalf("connected -> closing: %v", err)
	}
	if err := c.transitionTo(StateClosed); err != nil {
		t.Fatalf("closing -> closed: %v", err)
	}

	// Closed is terminal.
	if err := c.transitionTo(StateConnecting); err == nil {
		t.Error("closed -> connecting should be invalid")
	}
}

func TestTransitionFrom(t *testing.T) {
	c := New(nil)

	if !c.transitionFrom(StateDisconnected, StateConnecting) {
		t.Error("valid CAS transition failed")
	}
	// Wrong from-state.
	if c.transitionFrom(StateDisconnected, StateConnecting) {
		t.Error("CAS from a stale state should fail")
	}
}

func TestRequestWhenDisconnected(t *testing.T) {
	c := New(nil)
	ctx := context.Background()

	if _, err := c.Insert(ctx, uuid.New(), []types.Point{{Time: 1, Value: 1}}, true); err == nil {
		t.Error("Insert without a connection should fail")
	}
	if _, _, err := c.QueryRange(ctx, uuid.New(), 0, 10, types.LatestVersion); err == nil {
		t.Error("QueryRange without a connection should fail")
	}
}

func TestConnectRefused(t *testing.T) {
	// Reserved port with nothing listening.
	c := New(&Config{Addr: "127.0.0.1:1", Token: "t"})

	if err := c.Connect(); err == nil {
		c.Close()
		t.Fatal("Connect to a dead address should fail")
	}

	// A failed connect leaves the client reusable, not closed.
	if got := c.getState(); got != StateDisconnected {
		t.Errorf("state after failed connect = %s, want disconnected", got)
	}
}

func TestCloseBeforeConnect(t *testing.T) {
	c := New(nil)

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !c.IsClosed() {
		t.Error("IsClosed() = false after Close")
	}
	if err := c.Connect(); err == nil {
		t.Error("Connect after Close should fail")
	}
	if err := c.Reconnect(); err == nil {
		t.Error("Reconnect after Close should fail")
	}
}
