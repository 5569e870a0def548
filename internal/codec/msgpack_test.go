package codec

import (
	"errors"
	"testing"

	"github.com/l1jgo/netrepl/internal/netstream"
)

type position struct {
	X, Y  float32
	Label string `msgpack:"label"`
}

func TestEncodeDecode(t *testing.T) {
	w := netstream.NewWriter()
	if err := Encode(&position{X: 1.5, Y: -2, Label: "spawn"}, w); err != nil {
		t.Fatalf("encode: %v", err)
	}
	var got position
	if err := Decode(&got, netstream.NewReader(w.Bytes())); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.X != 1.5 || got.Y != -2 || got.Label != "spawn" {
		t.Fatalf("unexpected value %+v", got)
	}
}

func TestDecodeShortBlob(t *testing.T) {
	var got position
	err := Decode(&got, netstream.NewReader([]byte{10, 0, 1}))
	if !errors.Is(err, netstream.ErrShortBuffer) {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
}
