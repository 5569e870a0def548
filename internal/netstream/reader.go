package netstream

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/google/uuid"
)

// ErrShortBuffer is reported by Err after any read ran past the end of data.
var ErrShortBuffer = errors.New("netstream: read past end of buffer")

// Reader reads replication fields from a payload. Reads past the end return
// zero values and latch ErrShortBuffer.
type Reader struct {
	data  []byte
	off   int
	short bool
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// NewMessageReader reads a tagged message; byte 0 is the kind.
func NewMessageReader(data []byte) *Reader {
	return &Reader{data: data, off: 1}
}

// Kind returns byte 0 of the underlying data.
func (r *Reader) Kind() byte {
	if len(r.data) == 0 {
		return 0
	}
	return r.data[0]
}

func (r *Reader) need(n int) bool {
	if r.off+n > len(r.data) {
		r.short = true
		r.off = len(r.data)
		return false
	}
	return true
}

func (r *Reader) ReadU8() byte {
	if !r.need(1) {
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

func (r *Reader) ReadBool() bool {
	return r.ReadU8() != 0
}

func (r *Reader) ReadU16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

func (r *Reader) ReadU32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *Reader) ReadI32() int32 {
	return int32(r.ReadU32())
}

func (r *Reader) ReadU64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v
}

func (r *Reader) ReadF32() float32 {
	return math.Float32frombits(r.ReadU32())
}

func (r *Reader) ReadF64() float64 {
	return math.Float64frombits(r.ReadU64())
}

func (r *Reader) ReadUUID() uuid.UUID {
	var id uuid.UUID
	if !r.need(16) {
		return id
	}
	copy(id[:], r.data[r.off:r.off+16])
	r.off += 16
	return id
}

// ReadString reads a u16 length-prefixed string.
func (r *Reader) ReadString() string {
	n := int(r.ReadU16())
	if !r.need(n) {
		return ""
	}
	s := string(r.data[r.off : r.off+n])
	r.off += n
	return s
}

// ReadFixedString reads a NUL-padded field of size bytes.
func (r *Reader) ReadFixedString(size int) string {
	if !r.need(size) {
		return ""
	}
	field := r.data[r.off : r.off+size]
	r.off += size
	for i, b := range field {
		if b == 0 {
			return string(field[:i])
		}
	}
	return string(field)
}

// ReadBlob reads a u16 length-prefixed byte slice. The result is a copy.
func (r *Reader) ReadBlob() []byte {
	n := int(r.ReadU16())
	return r.ReadBytes(n)
}

// ReadBytes reads n raw bytes into a new slice.
func (r *Reader) ReadBytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.off:r.off+n])
	r.off += n
	return b
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

// Err returns ErrShortBuffer if any read overran the data.
func (r *Reader) Err() error {
	if r.short {
		return ErrShortBuffer
	}
	return nil
}
