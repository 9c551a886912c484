// Package client provides a Go client for a berrydb server.
//
// A Client multiplexes concurrent requests over one authenticated TCP
// connection: every request carries a unique envelope ID and the read loop
// routes responses back to the waiting caller. The connection state is an
// explicit machine with validated transitions, and close/reconnect is
// guarded by a resettable once so a client can be safely reused after a
// disconnect.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	berrySync "github.com/berrydb/berrydb/internal/sync"
	"github.com/berrydb/berrydb/internal/wire"
)

// =============================================================================
// State Machine
// =============================================================================

// ClientState is the connection lifecycle state of a client.
type ClientState int32

const (
	StateDisconnected ClientState = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

// String returns the state name for logs and errors.
func (s ClientState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// stateTransition is an edge in the connection state machine.
type stateTransition struct {
	from ClientState
	to   ClientState
}

// validTransitions enumerates the legal state machine edges. Anything
// absent here is a programming error surfaced as ErrInvalidTransition.
var validTransitions = map[stateTransition]bool{
	// out of Disconnected
	{StateDisconnected, StateConnecting}: true,
	{StateDisconnected, StateClosed}:     true,

	// out of Connecting
	{StateConnecting, StateConnected}:    true,
	{StateConnecting, StateDisconnected}: true,

	// out of Connected
	{StateConnected, StateDisconnected}: true,
	{StateConnected, StateClosing}:      true,

	// out of Closing
	{StateClosing, StateClosed}: true,
}

// =============================================================================
// Errors
// =============================================================================

var (
	ErrClientClosed      = errors.New("client is closed")
	ErrClientClosing     = errors.New("client is closing")
	ErrNotConnected      = errors.New("not connected")
	ErrAlreadyConnected  = errors.New("already connected")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrTimeout           = errors.New("request timeout")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// =============================================================================
// Client
// =============================================================================

// Client connects to a berrydb server.
type Client struct {
	addr      string
	token     string
	tlsConfig *tls.Config

	requestTimeout time.Duration

	// conn and wire are guarded by mu
	mu   sync.Mutex
	conn net.Conn
	wire *wire.Conn

	state atomic.Int32

	closeOnce berrySync.ResettableOnce

	// pending maps request IDs to response channels
	pendingMu sync.RWMutex
	pending   map[uint64]chan *wire.Envelope
	requestID atomic.Uint64

	onDisconnect func(error)

	shutdown chan struct{}
}

// Config configures a Client.
type Config struct {
	Addr           string
	Token          string
	TLS            bool
	TLSSkipVerify  bool
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultConfig returns a Config with the default server address and
// 30 second timeouts.
func DefaultConfig() *Config {
	return &Config{
		Addr:           "localhost:4410",
		ConnectTimeout: 30 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// New creates a client. Connect must be called before any operation.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		addr:           cfg.Addr,
		token:          cfg.Token,
		requestTimeout: timeout,
		pending:        make(map[uint64]chan *wire.Envelope),
		shutdown:       make(chan struct{}),
	}

	if cfg.TLS {
		c.tlsConfig = &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		}
	}

	return c
}

// =============================================================================
// State Transition Methods
// =============================================================================

// getState loads the current state.
func (c *Client) getState() ClientState {
	return ClientState(c.state.Load())
}

// transitionTo moves to newState, retrying the CAS until it lands or
// the transition becomes invalid.
func (c *Client) transitionTo(newState ClientState) error {
	for {
		oldState := c.getState()
		transition := stateTransition{from: oldState, to: newState}

		if !validTransitions[transition] {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, oldState, newState)
		}

		if c.state.CompareAndSwap(int32(oldState), int32(newState)) {
			return nil
		}
	}
}

// transitionFrom moves from a known state to a new one in a single CAS.
func (c *Client) transitionFrom(from, to ClientState) bool {
	transition := stateTransition{from: from, to: to}
	if !validTransitions[transition] {
		return false
	}
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// =============================================================================
// Connecting and Closing
// =============================================================================

// Connect dials and authenticates.
func (c *Client) Connect() error {
	return c.ConnectWithContext(context.Background())
}

// ConnectWithContext dials and authenticates, honoring ctx for the
// dial and the auth exchange.
func (c *Client) ConnectWithContext(ctx context.Context) error {
	currentState := c.getState()
	switch currentState {
	case StateClosed:
		return ErrClientClosed
	case StateClosing:
		return ErrClientClosing
	case StateConnected:
		return ErrAlreadyConnected
	case StateConnecting:
		return fmt.Errorf("connection already in progress")
	}

	if !c.transitionFrom(StateDisconnected, StateConnecting) {
		return fmt.Errorf("cannot connect: current state is %s", c.getState())
	}

	success := false
	defer func() {
		if !success {
			c.transitionFrom(StateConnecting, StateDisconnected)
		}
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	var conn net.Conn
	var err error

	dialer := &net.Dialer{}

	if c.tlsConfig != nil {
		conn, err = tls.DialWithDialer(dialer, "tcp", c.addr, c.tlsConfig)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", c.addr)
	}
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.conn = conn
	c.wire = wire.NewConn(conn)

	if err := c.authenticate(ctx); err != nil {
		conn.Close()
		c.conn = nil
		c.wire = nil
		return err
	}

	go c.readLoop()

	if err := c.transitionTo(StateConnected); err != nil {
		conn.Close()
		c.conn = nil
		c.wire = nil
		return err
	}

	success = true
	return nil
}

func (c *Client) authenticate(ctx context.Context) error {
	env, err := wire.NewEnvelope(1, wire.TypeAuth, &wire.Auth{Token: c.token})
	if err != nil {
		return fmt.Errorf("build auth: %w", err)
	}
	if err := c.wire.Write(env); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
	} else {
		c.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	}
	defer c.conn.SetReadDeadline(time.Time{})

	resp, err := c.wire.Read()
	if err != nil {
		return fmt.Errorf("read auth response: %w", err)
	}

	switch resp.Type {
	case wire.TypeError:
		var we wire.Error
		if err := resp.DecodeBody(&we); err != nil {
			return fmt.Errorf("decode auth error: %w", err)
		}
		return fmt.Errorf("%s: %w", we.Message, ErrAuthFailed)

	case wire.TypeAuthResponse:
		var ar wire.AuthResponse
		if err := resp.DecodeBody(&ar); err != nil {
			return fmt.Errorf("decode auth response: %w", err)
		}
		if !ar.Success {
			msg := "authentication failed"
			if ar.Message != "" {
				msg = ar.Message
			}
			return fmt.Errorf("%s: %w", msg, ErrAuthFailed)
		}
		return nil

	default:
		return fmt.Errorf("unexpected auth response type %q", resp.Type)
	}
}

// Close tears the connection down and fails all pending requests.
func (c *Client) Close() error {
	var closeErr error

	c.closeOnce.Do(func() {
		currentState := c.getState()
		if currentState == StateClosed || currentState == StateClosing {
			return
		}

		if currentState == StateConnected {
			c.transitionFrom(StateConnected, StateClosing)
		} else if currentState == StateDisconnected {
			c.transitionFrom(StateDisconnected, StateClosed)
			return
		}

		close(c.shutdown)

		c.mu.Lock()
		if c.conn != nil {
			closeErr = c.conn.Close()
			c.conn = nil
			c.wire = nil
		}
		c.mu.Unlock()

		c.pendingMu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()

		c.transitionFrom(StateClosing, StateClosed)
	})

	return closeErr
}

// Reconnect re-dials after a disconnect.
func (c *Client) Reconnect() error {
	return c.ReconnectWithContext(context.Background())
}

// ReconnectWithContext drops any existing connection, resets the
// pending map and shutdown channel, and dials again. Callers with
// in-flight requests get their channels closed.
func (c *Client) ReconnectWithContext(ctx context.Context) error {
	currentState := c.getState()
	if currentState == StateClosed {
		return ErrClientClosed
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.wire = nil
	}
	c.mu.Unlock()

	c.state.Store(int32(StateDisconnected))

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pending = make(map[uint64]chan *wire.Envelope)
	c.pendingMu.Unlock()

	c.shutdown = make(chan struct{})

	c.closeOnce.Reset()

	return c.ConnectWithContext(ctx)
}

// =============================================================================
// State Inspection
// =============================================================================

// IsConnected reports whether the client is connected.
func (c *Client) IsConnected() bool {
	return c.getState() == StateConnected
}

// IsClosed reports whether the client is permanently closed.
func (c *Client) IsClosed() bool {
	return c.getState() == StateClosed
}

// State returns the current state name.
func (c *Client) State() string {
	return c.getState().String()
}

// OnDisconnect sets the handler invoked when the connection drops
// unexpectedly.
func (c *Client) OnDisconnect(fn func(error)) {
	c.pendingMu.Lock()
	c.onDisconnect = fn
	c.pendingMu.Unlock()
}

// =============================================================================
// Response Demultiplexing
// =============================================================================

func (c *Client) readLoop() {
	var disconnectErr error

	defer func() {
		c.pendingMu.RLock()
		fn := c.onDisconnect
		c.pendingMu.RUnlock()

		if fn != nil && disconnectErr != nil {
			fn(disconnectErr)
		}
	}()

	for {
		if c.getState() != StateConnected {
			return
		}

		env, err := c.wire.Read()
		if err != nil {
			if c.getState() != StateConnected {
				return
			}

			disconnectErr = err
			c.transitionFrom(StateConnected, StateDisconnected)
			return
		}

		c.handleMessage(env)
	}
}

func (c *Client) handleMessage(env *wire.Envelope) {
	c.pendingMu.RLock()
	ch, ok := c.pending[env.ID]
	c.pendingMu.RUnlock()

	if ok {
		select {
		case ch <- env:
		default:
		}
	}
}

// =============================================================================
// Request Plumbing
// =============================================================================

func (c *Client) request(ctx context.Context, typ string, body interface{}) (*wire.Envelope, error) {
	if c.getState() != StateConnected {
		return nil, ErrNotConnected
	}

	id := c.requestID.Add(1)

	env, err := wire.NewEnvelope(id, typ, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	ch := make(chan *wire.Envelope, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.mu.Lock()
	w := c.wire
	c.mu.Unlock()
	if w == nil {
		return nil, ErrNotConnected
	}

	if err := w.Write(env); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClientClosed
		}
		if resp.Type == wire.TypeError {
			return nil, decodeError(resp)
		}
		return resp, nil

	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())

	case <-c.shutdown:
		return nil, ErrClientClosed
	}
}

// requestTimeoutCtx wraps ctx with the client's request timeout when the
// caller has not set a deadline of its own.
func (c *Client) requestTimeoutCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}
