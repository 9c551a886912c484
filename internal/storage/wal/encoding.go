package wal

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/berrydb/berrydb/internal/storage/types"
)

// Entry is one committed mutation in the log: an insert batch or a range
// delete, tagged with the stream and the version the commit produced.
type Entry struct {
	Stream  types.StreamID
	Version types.Version
	Op      types.Op

	// Points for OpInsert.
	Points []types.Point

	// Range for OpDelete.
	Start int64
	End   int64
}

// Entry encoding format (binary, little-endian):
// - Stream UUID (16 bytes)
// - Version (8 bytes)
// - Op (1 byte)
// - OpInsert: point count (4 bytes) + [time (8) + value (8)] per point
// - OpDelete: start (8 bytes) + end (8 bytes)

func encodeEntry(e *Entry) ([]byte, error) {
	size := 16 + 8 + 1
	switch e.Op {
	case types.OpInsert:
		size += 4 + 16*len(e.Points)
	case types.OpDelete:
		size += 16
	default:
		return nil, fmt.Errorf("unknown op %d", e.Op)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, e.Stream[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, e.Version)
	buf = append(buf, byte(e.Op))

	switch e.Op {
	case types.OpInsert:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.Points)))
		for _, p := range e.Points {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(p.Time))
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p.Value))
		}
	case types.OpDelete:
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Start))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.End))
	}

	return buf, nil
}

func decodeEntry(data []byte) (*Entry, error) {
	if len(data) < 16+8+1 {
		return nil, fmt.Errorf("data too short for entry header")
	}

	var e Entry
	copy(e.Stream[:], data[0:16])
	e.Version = binary.LittleEndian.Uint64(data[16:24])
	e.Op = types.Op(data[24])
	data = data[25:]

	switch e.Op {
	case types.OpInsert:
		if len(data) < 4 {
			return nil, fmt.Errorf("data too short for point count")
		}
		count := int(binary.LittleEndian.Uint32(data[0:4]))
		data = data[4:]

		if len(data) < 16*count {
			return nil, fmt.Errorf("data too short for %d points", count)
		}
		e.Points = make([]types.Point, count)
		for i := 0; i < count; i++ {
			e.Points[i] = types.Point{
				Time:  int64(binary.LittleEndian.Uint64(data[16*i:])),
				Value: math.Float64frombits(binary.LittleEndian.Uint64(data[16*i+8:])),
			}
		}

	case types.OpDelete:
		if len(data) < 16 {
			return nil, fmt.Errorf("data too short for delete range")
		}
		e.Start = int64(binary.LittleEndian.Uint64(data[0:8]))
		e.End = int64(binary.LittleEndian.Uint64(data[8:16]))

	default:
		return nil, fmt.Errorf("unknown op %d", e.Op)
	}

	return &e, nil
}
