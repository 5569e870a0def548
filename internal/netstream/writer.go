package netstream

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Writer builds a replication payload. All multi-byte writes are little-endian.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 256)}
}

// NewWriterWithKind starts a message buffer with its kind tag in byte 0.
func NewWriterWithKind(kind byte) *Writer {
	w := &Writer{buf: make([]byte, 0, 256)}
	w.WriteU8(kind)
	return w
}

// Reset empties the buffer, keeping its capacity.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
}

func (w *Writer) WriteU8(v byte) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

func (w *Writer) WriteU16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) WriteU32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteI32(v int32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
}

func (w *Writer) WriteU64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) WriteF32(v float32) {
	w.WriteU32(math.Float32bits(v))
}

func (w *Writer) WriteF64(v float64) {
	w.WriteU64(math.Float64bits(v))
}

// WriteUUID writes the 16 raw bytes of id.
func (w *Writer) WriteUUID(id uuid.UUID) {
	w.buf = append(w.buf, id[:]...)
}

// WriteString writes a u16 length prefix followed by the UTF-8 bytes.
// Strings longer than 65535 bytes are truncated.
func (w *Writer) WriteString(s string) {
	if len(s) > math.MaxUint16 {
		s = s[:math.MaxUint16]
	}
	w.WriteU16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteFixedString writes s into a NUL-padded field of exactly size bytes.
// At most size-1 bytes of s are kept so the field is always terminated; a
// cut never splits a UTF-8 sequence.
func (w *Writer) WriteFixedString(s string, size int) {
	if size <= 0 {
		return
	}
	n := len(s)
	if n > size-1 {
		n = size - 1
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
	}
	w.buf = append(w.buf, s[:n]...)
	for i := n; i < size; i++ {
		w.buf = append(w.buf, 0)
	}
}

// WriteBlob writes a u16 length prefix followed by b.
func (w *Writer) WriteBlob(b []byte) {
	w.WriteU16(uint16(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteBytes writes raw bytes.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// Bytes returns the written content. The slice aliases the writer's buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return len(w.buf)
}
