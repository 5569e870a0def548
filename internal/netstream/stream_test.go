package netstream

import (
	"errors"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
)

func TestWriterReaderFields(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	w := NewWriterWithKind(7)
	w.WriteU32(42)
	w.WriteUUID(id)
	w.WriteFixedString("Pawn", 128)
	w.WriteString("héllo")
	w.WriteF32(1.5)
	w.WriteBlob([]byte{9, 8, 7})

	if got := w.Len(); got != 1+4+16+128+2+6+4+2+3 {
		t.Fatalf("unexpected length %d", got)
	}

	r := NewMessageReader(w.Bytes())
	if r.Kind() != 7 {
		t.Fatalf("expected kind 7, got %d", r.Kind())
	}
	if v := r.ReadU32(); v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
	if got := r.ReadUUID(); got != id {
		t.Fatalf("expected %s, got %s", id, got)
	}
	if got := r.ReadFixedString(128); got != "Pawn" {
		t.Fatalf("expected Pawn, got %q", got)
	}
	if got := r.ReadString(); got != "héllo" {
		t.Fatalf("expected héllo, got %q", got)
	}
	if got := r.ReadF32(); got != 1.5 {
		t.Fatalf("expected 1.5, got %v", got)
	}
	if got := r.ReadBlob(); len(got) != 3 || got[0] != 9 {
		t.Fatalf("unexpected blob %v", got)
	}
	if r.Remaining() != 0 || r.Err() != nil {
		t.Fatalf("expected clean end, remaining=%d err=%v", r.Remaining(), r.Err())
	}
}

func TestFixedStringTruncatesAndTerminates(t *testing.T) {
	w := NewWriter()
	w.WriteFixedString("abcdef", 4)
	if got := w.Bytes(); string(got) != "abc\x00" {
		t.Fatalf("expected NUL terminated truncation, got %q", got)
	}
}

func TestFixedStringKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		in   string
		size int
		want string
	}{
		{"aé", 3, "a\x00\x00"},
		{"x€", 4, "x\x00\x00\x00"},
		{"x€", 5, "x€\x00"},
		{"日本", 4, "日\x00"},
	}
	for _, tt := range tests {
		w := NewWriter()
		w.WriteFixedString(tt.in, tt.size)
		if got := string(w.Bytes()); got != tt.want {
			t.Fatalf("expected %q for %q in %d bytes, got %q", tt.want, tt.in, tt.size, got)
		}
		if got := NewReader(w.Bytes()).ReadFixedString(tt.size); !utf8.ValidString(got) {
			t.Fatalf("expected valid UTF-8 after truncation, got %q", got)
		}
	}
}

func TestReaderLatchesShortBuffer(t *testing.T) {
	r := NewReader([]byte{1, 2})
	if v := r.ReadU32(); v != 0 {
		t.Fatalf("expected zero value on overrun, got %d", v)
	}
	if !errors.Is(r.Err(), ErrShortBuffer) {
		t.Fatalf("expected ErrShortBuffer, got %v", r.Err())
	}
	if r.ReadU8() != 0 {
		t.Fatalf("expected reads after overrun to stay at end")
	}
}
