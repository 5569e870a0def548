package replication

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/l1jgo/netrepl/internal/netstream"
	"github.com/l1jgo/netrepl/internal/types"
)

var ErrUnserializable = errors.New("replication: no serializer for type")

// Serializable is the capability a Go type implements to serialize itself.
type Serializable interface {
	NetSerialize(w *netstream.Writer) error
	NetDeserialize(r *netstream.Reader) error
}

type (
	SerializeFunc   func(instance any, w *netstream.Writer) error
	DeserializeFunc func(instance any, r *netstream.Reader) error
)

var serializableType = reflect.TypeOf((*Serializable)(nil)).Elem()

type serializerKind uint8

const (
	serializerExplicit serializerKind = iota + 1
	serializerCapability
	// serializerInherited caches a base type's serializer under a derived
	// type. Dropped on every registration.
	serializerInherited
)

type serializer struct {
	kind serializerKind
	ser  SerializeFunc
	de   DeserializeFunc
}

func capabilitySerializer() serializer {
	return serializer{
		kind: serializerCapability,
		ser: func(instance any, w *netstream.Writer) error {
			s, ok := instance.(Serializable)
			if !ok {
				return fmt.Errorf("%T: %w", instance, ErrUnserializable)
			}
			return s.NetSerialize(w)
		},
		de: func(instance any, r *netstream.Reader) error {
			s, ok := instance.(Serializable)
			if !ok {
				return fmt.Errorf("%T: %w", instance, ErrUnserializable)
			}
			return s.NetDeserialize(r)
		},
	}
}

// serializerTable dispatches per type: explicit registration, then the
// Serializable capability, then the same two checks up the base chain. A
// match found on a base is cached under the type that asked.
type serializerTable struct {
	byType map[*types.Type]serializer
}

func newSerializerTable() serializerTable {
	return serializerTable{byType: make(map[*types.Type]serializer)}
}

func (t *serializerTable) register(typ *types.Type, ser SerializeFunc, de DeserializeFunc) {
	for k, s := range t.byType {
		if s.kind == serializerInherited {
			delete(t.byType, k)
		}
	}
	t.byType[typ] = serializer{kind: serializerExplicit, ser: ser, de: de}
}

func (t *serializerTable) lookup(typ *types.Type) (serializer, bool) {
	for cur, depth := typ, 0; cur != nil && depth < types.MaxBaseDepth; cur, depth = cur.Base, depth+1 {
		s, ok := t.byType[cur]
		if !ok && cur.GoType != nil && cur.GoType.Implements(serializableType) {
			s, ok = capabilitySerializer(), true
			t.byType[cur] = s
		}
		if !ok {
			continue
		}
		if cur != typ {
			t.byType[typ] = serializer{kind: serializerInherited, ser: s.ser, de: s.de}
		}
		return s, true
	}
	return serializer{}, false
}

func (t *serializerTable) serialize(typ *types.Type, instance any, w *netstream.Writer) error {
	if typ == nil || instance == nil || w == nil {
		return ErrUnserializable
	}
	s, ok := t.lookup(typ)
	if !ok {
		return fmt.Errorf("serialize %s: %w", typ, ErrUnserializable)
	}
	return s.ser(instance, w)
}

func (t *serializerTable) deserialize(typ *types.Type, instance any, r *netstream.Reader) error {
	if typ == nil || instance == nil || r == nil {
		return ErrUnserializable
	}
	s, ok := t.lookup(typ)
	if !ok {
		return fmt.Errorf("deserialize %s: %w", typ, ErrUnserializable)
	}
	if err := s.de(instance, r); err != nil {
		return err
	}
	return r.Err()
}

func (t *serializerTable) clear() {
	clear(t.byType)
}
