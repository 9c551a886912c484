package wire

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"

	"github.com/berrydb/berrydb/internal/errors"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	r := NewReader(&buf)

	env, err := NewEnvelope(7, TypeInsert, &Insert{
		Stream: "stream-a",
		Points: []Point{{Time: 1, Value: 10}, {Time: 3, Value: 14}},
		Sync:   true,
	})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if err := w.Write(env); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := r.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.ID != 7 || got.Type != TypeInsert {
		t.Errorf("got id=%d type=%q, want id=7 type=%q", got.ID, got.Type, TypeInsert)
	}

	var ins Insert
	if err := got.DecodeBody(&ins); err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if ins.Stream != "stream-a" || len(ins.Points) != 2 || !ins.Sync {
		t.Errorf("decoded body mismatch: %+v", ins)
	}
	if ins.Points[1].Time != 3 || ins.Points[1].Value != 14 {
		t.Errorf("point mismatch: %+v", ins.Points[1])
	}
}

func TestMultipleEnvelopesInOrder(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	r := NewReader(&buf)

	for i := uint64(1); i <= 5; i++ {
		env, err := NewEnvelope(i, TypeQueryVersion, &QueryVersion{Stream: "s"})
		if err != nil {
			t.Fatalf("NewEnvelope %d: %v", i, err)
		}
		if err := w.Write(env); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	for i := uint64(1); i <= 5; i++ {
		env, err := r.Read()
		if err != nil {
			t.Fatalf("Read %d: %v", i, err)
		}
		if env.ID != i {
			t.Errorf("read %d: got id %d", i, env.ID)
		}
	}
}

func TestReadRejectsOversizeFrame(t *testing.T) {
	var buf bytes.Buffer
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], 64*1024*1024)
	buf.Write(prefix[:])

	r := NewReader(&buf)
	if _, err := r.Read(); !errors.Is(err, errors.ErrMessageTooLarge) {
		t.Errorf("got %v, want ErrMessageTooLarge", err)
	}
}

func TestMarshalMatchesWriter(t *testing.T) {
	env, err := NewEnvelope(42, TypeQueryVersion, &QueryVersion{Stream: "s"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}

	framed, err := Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var buf bytes.Buffer
	if err := NewWriter(&buf).Write(env); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !bytes.Equal(framed, buf.Bytes()) {
		t.Errorf("Marshal and Writer disagree: %x vs %x", framed, buf.Bytes())
	}
}

func TestDecodeBodyMissing(t *testing.T) {
	env, err := NewEnvelope(1, TypeServerStats, nil)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if len(env.Body) != 0 {
		t.Fatalf("nil body should produce empty Body, got %d bytes", len(env.Body))
	}

	var v ServerStats
	if err := env.DecodeBody(&v); !errors.Is(err, errors.ErrMissingField) {
		t.Errorf("got %v, want ErrMissingField", err)
	}
}

func TestNewErrorFromErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int32
	}{
		{"unknown stream", errors.ErrUnknownStream, errors.CodeNotFound},
		{"invalid version", errors.NewInvalidVersion(9, 2), errors.CodeInvalidVersion},
		{"malformed sample", errors.NewMalformedSample(0, "NaN"), errors.CodeMalformedSample},
		{"bad token", errors.ErrInvalidToken, errors.CodeAuthFailed},
		{"internal fallback", errors.New("boom"), errors.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := NewErrorFromErr(99, tt.err)
			if env.Type != TypeError || env.ID != 99 {
				t.Fatalf("bad envelope: id=%d type=%q", env.ID, env.Type)
			}

			var we Error
			if err := env.DecodeBody(&we); err != nil {
				t.Fatalf("DecodeBody: %v", err)
			}
			if we.Code != tt.code {
				t.Errorf("got code %d (%s), want %d (%s)",
					we.Code, errors.CodeName(we.Code), tt.code, errors.CodeName(tt.code))
			}
			if we.Message == "" {
				t.Error("empty error message")
			}
		})
	}
}

func TestConnOverPipe(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	server := NewConn(a)
	client := NewConn(b)

	errCh := make(chan error, 1)
	go func() {
		req, err := server.Read()
		if err != nil {
			errCh <- err
			return
		}
		errCh <- server.Write(NewError(req.ID, errors.CodeNotFound, "no such stream"))
	}()

	req, err := NewEnvelope(3, TypeQueryRange, &QueryRange{Stream: "missing", Start: 0, End: 10})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if err := client.Write(req); err != nil {
		t.Fatalf("client write: %v", err)
	}

	resp, err := client.Read()
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("server side: %v", err)
	}
	if resp.ID != 3 || resp.Type != TypeError {
		t.Errorf("got id=%d type=%q, want id=3 type=%q", resp.ID, resp.Type, TypeError)
	}
}
