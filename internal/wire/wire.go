// Package wire provides CBOR message framing for the berrydb protocol.
//
// Messages are length-delimited: a 4-byte little-endian length prefix
// followed by a CBOR-encoded Envelope. The envelope carries a request ID,
// a message type, and a type-specific body.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/berrydb/berrydb/config"
	"github.com/berrydb/berrydb/internal/errors"
)

// Reader reads length-delimited CBOR envelopes from an io.Reader.
// It is safe for concurrent use.
type Reader struct {
	r  *bufio.Reader
	mu sync.Mutex

	maxSize uint32
}

// NewReader creates a Reader wrapping the given io.Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:       bufio.NewReader(r),
		maxSize: config.DefaultMaxMessageSize,
	}
}

// Read reads and unmarshals the next envelope.
// Returns an error if the message exceeds the maximum message size.
func (r *Reader) Read() (*Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var prefix [4]byte
	if _, err := io.ReadFull(r.r, prefix[:]); err != nil {
		return nil, err
	}

	length := binary.LittleEndian.Uint32(prefix[:])
	if length > r.maxSize {
		return nil, fmt.Errorf("%d bytes: %w", length, errors.ErrMessageTooLarge)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, fmt.Errorf("read envelope: %w", err)
	}

	env := &Envelope{}
	if err := cbor.Unmarshal(payload, env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// Writer writes length-delimited CBOR envelopes to an io.Writer.
// It is safe for concurrent use.
type Writer struct {
	w  io.Writer
	mu sync.Mutex

	maxSize uint32
}

// NewWriter creates a Writer wrapping the given io.Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w:       w,
		maxSize: config.DefaultMaxMessageSize,
	}
}

// Write marshals and writes an envelope with length prefix.
func (w *Writer) Write(env *Envelope) error {
	payload, err := cbor.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if uint32(len(payload)) > w.maxSize {
		return fmt.Errorf("%d bytes: %w", len(payload), errors.ErrMessageTooLarge)
	}

	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(payload)))

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write prefix: %w", err)
	}
	if _, err := w.w.Write(payload); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

// Conn combines Reader and Writer for bidirectional communication.
type Conn struct {
	*Reader
	*Writer
}

// NewConn creates a Conn from an io.ReadWriter (e.g., net.Conn).
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{
		Reader: NewReader(rw),
		Writer: NewWriter(rw),
	}
}

// Marshal encodes an envelope into its framed wire form: length prefix
// plus CBOR payload. Useful when frames are queued before writing.
func Marshal(env *Envelope) ([]byte, error) {
	payload, err := cbor.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	if uint32(len(payload)) > config.DefaultMaxMessageSize {
		return nil, fmt.Errorf("%d bytes: %w", len(payload), errors.ErrMessageTooLarge)
	}

	framed := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(framed[:4], uint32(len(payload)))
	copy(framed[4:], payload)
	return framed, nil
}

// NewEnvelope builds an envelope with the given body.
func NewEnvelope(id uint64, typ string, body interface{}) (*Envelope, error) {
	env := &Envelope{ID: id, Type: typ}

	if body != nil {
		raw, err := cbor.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", typ, err)
		}
		env.Body = raw
	}
	return env, nil
}

// DecodeBody unmarshals the envelope body into v.
func (e *Envelope) DecodeBody(v interface{}) error {
	if len(e.Body) == 0 {
		return errors.NewMissingField("body")
	}
	if err := cbor.Unmarshal(e.Body, v); err != nil {
		return fmt.Errorf("decode %s body: %w", e.Type, err)
	}
	return nil
}

// =============================================================================
// Error Envelope Helpers
// =============================================================================

// NewError creates an error envelope with the given request ID, error
// code, and message. Error codes should be from the errors package.
func NewError(id uint64, code int32, msg string) *Envelope {
	raw, _ := cbor.Marshal(&Error{Code: code, Message: msg})
	return &Envelope{
		ID:   id,
		Type: TypeError,
		Body: raw,
	}
}

// NewErrorFromErr creates an error envelope from a Go error. It maps the
// error to the appropriate wire code using errors.ErrorToCode.
func NewErrorFromErr(id uint64, err error) *Envelope {
	return NewError(id, errors.ErrorToCode(err), err.Error())
}

// NewErrorf creates an error envelope with a formatted message.
func NewErrorf(id uint64, code int32, format string, args ...interface{}) *Envelope {
	return NewError(id, code, fmt.Sprintf(format, args...))
}
