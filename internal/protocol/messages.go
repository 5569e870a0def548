// Package protocol defines the replication message payloads and their
// fixed little-endian layouts.
package protocol

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/l1jgo/netrepl/internal/netstream"
)

// Kind is the tag in byte 0 of every replication message.
type Kind byte

const (
	KindStateUpdate     Kind = 1
	KindSpawn           Kind = 2
	KindDespawn         Kind = 3
	KindOwnershipChange Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindStateUpdate:
		return "StateUpdate"
	case KindSpawn:
		return "Spawn"
	case KindDespawn:
		return "Despawn"
	case KindOwnershipChange:
		return "OwnershipChange"
	default:
		return fmt.Sprintf("Kind(%d)", byte(k))
	}
}

// TypeNameSize is the fixed width of type name fields, NUL terminator included.
const TypeNameSize = 128

// MaxMessageSize is the largest encoded message one transport frame can
// carry: a u16 frame length minus the 3-byte frame header.
const MaxMessageSize = math.MaxUint16 - 3

// stateUpdateHeaderSize covers kind, sequence, object and parent ids, type
// name and the payload size field.
const stateUpdateHeaderSize = 1 + 4 + 16 + 16 + TypeNameSize + 2

// MaxPayload is the largest StateUpdate payload that still fits one frame.
const MaxPayload = MaxMessageSize - stateUpdateHeaderSize

var (
	ErrShortMessage    = errors.New("protocol: truncated message")
	ErrWrongKind       = errors.New("protocol: unexpected message kind")
	ErrPayloadTooLarge = errors.New("protocol: payload exceeds frame budget")
)

type StateUpdate struct {
	Sequence uint32
	ObjectID uuid.UUID
	ParentID uuid.UUID
	TypeName string
	Payload  []byte
}

type Spawn struct {
	ObjectID         uuid.UUID
	ParentID         uuid.UUID
	TemplateID       uuid.UUID
	TemplateMemberID uuid.UUID
	OwnerClientID    uint32
	TypeName         string
}

type Despawn struct {
	ObjectID uuid.UUID
}

type OwnershipChange struct {
	ObjectID      uuid.UUID
	OwnerClientID uint32
}

func writeTypeName(w *netstream.Writer, name string) {
	w.WriteFixedString(norm.NFC.String(name), TypeNameSize)
}

func readTypeName(r *netstream.Reader) string {
	return norm.NFC.String(r.ReadFixedString(TypeNameSize))
}

func (m *StateUpdate) Encode() ([]byte, error) {
	if len(m.Payload) > MaxPayload {
		return nil, fmt.Errorf("encode state update %s: %w", m.ObjectID, ErrPayloadTooLarge)
	}
	w := netstream.NewWriterWithKind(byte(KindStateUpdate))
	w.WriteU32(m.Sequence)
	w.WriteUUID(m.ObjectID)
	w.WriteUUID(m.ParentID)
	writeTypeName(w, m.TypeName)
	w.WriteU16(uint16(len(m.Payload)))
	w.WriteBytes(m.Payload)
	return w.Bytes(), nil
}

func (m *Spawn) Encode() []byte {
	w := netstream.NewWriterWithKind(byte(KindSpawn))
	w.WriteUUID(m.ObjectID)
	w.WriteUUID(m.ParentID)
	w.WriteUUID(m.TemplateID)
	w.WriteUUID(m.TemplateMemberID)
	w.WriteU32(m.OwnerClientID)
	writeTypeName(w, m.TypeName)
	return w.Bytes()
}

func (m *Despawn) Encode() []byte {
	w := netstream.NewWriterWithKind(byte(KindDespawn))
	w.WriteUUID(m.ObjectID)
	return w.Bytes()
}

func (m *OwnershipChange) Encode() []byte {
	w := netstream.NewWriterWithKind(byte(KindOwnershipChange))
	w.WriteUUID(m.ObjectID)
	w.WriteU32(m.OwnerClientID)
	return w.Bytes()
}

func checkKind(r *netstream.Reader, want Kind) error {
	if got := Kind(r.Kind()); got != want {
		return fmt.Errorf("%w: got %s want %s", ErrWrongKind, got, want)
	}
	return nil
}

func finish(r *netstream.Reader, k Kind) error {
	if r.Err() != nil {
		return fmt.Errorf("decode %s: %w", k, ErrShortMessage)
	}
	return nil
}

// ReadStateUpdate decodes the body of a StateUpdate from a message reader.
func ReadStateUpdate(r *netstream.Reader) (StateUpdate, error) {
	var m StateUpdate
	if err := checkKind(r, KindStateUpdate); err != nil {
		return m, err
	}
	m.Sequence = r.ReadU32()
	m.ObjectID = r.ReadUUID()
	m.ParentID = r.ReadUUID()
	m.TypeName = readTypeName(r)
	m.Payload = r.ReadBytes(int(r.ReadU16()))
	return m, finish(r, KindStateUpdate)
}

func ReadSpawn(r *netstream.Reader) (Spawn, error) {
	var m Spawn
	if err := checkKind(r, KindSpawn); err != nil {
		return m, err
	}
	m.ObjectID = r.ReadUUID()
	m.ParentID = r.ReadUUID()
	m.TemplateID = r.ReadUUID()
	m.TemplateMemberID = r.ReadUUID()
	m.OwnerClientID = r.ReadU32()
	m.TypeName = readTypeName(r)
	return m, finish(r, KindSpawn)
}

func ReadDespawn(r *netstream.Reader) (Despawn, error) {
	var m Despawn
	if err := checkKind(r, KindDespawn); err != nil {
		return m, err
	}
	m.ObjectID = r.ReadUUID()
	return m, finish(r, KindDespawn)
}

func ReadOwnershipChange(r *netstream.Reader) (OwnershipChange, error) {
	var m OwnershipChange
	if err := checkKind(r, KindOwnershipChange); err != nil {
		return m, err
	}
	m.ObjectID = r.ReadUUID()
	m.OwnerClientID = r.ReadU32()
	return m, finish(r, KindOwnershipChange)
}
