// Package codec serializes plain structs as msgpack blobs inside a
// replication payload.
package codec

import (
	"errors"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/l1jgo/netrepl/internal/netstream"
)

var ErrBlobTooLarge = errors.New("codec: encoded value exceeds 65535 bytes")

// Encode writes instance as a u16 length-prefixed msgpack blob.
func Encode(instance any, w *netstream.Writer) error {
	data, err := msgpack.Marshal(instance)
	if err != nil {
		return fmt.Errorf("msgpack encode %T: %w", instance, err)
	}
	if len(data) > math.MaxUint16 {
		return fmt.Errorf("msgpack encode %T: %w", instance, ErrBlobTooLarge)
	}
	w.WriteBlob(data)
	return nil
}

// Decode reads a blob written by Encode into instance, which must be a
// pointer.
func Decode(instance any, r *netstream.Reader) error {
	data := r.ReadBlob()
	if err := r.Err(); err != nil {
		return fmt.Errorf("msgpack decode %T: %w", instance, err)
	}
	if err := msgpack.Unmarshal(data, instance); err != nil {
		return fmt.Errorf("msgpack decode %T: %w", instance, err)
	}
	return nil
}
