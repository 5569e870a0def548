// Package sim holds the node's replicated object types.
package sim

import (
	"fmt"

	"github.com/l1jgo/netrepl/internal/codec"
	"github.com/l1jgo/netrepl/internal/netstream"
	"github.com/l1jgo/netrepl/internal/replication"
	"github.com/l1jgo/netrepl/internal/types"
)

const (
	TypeActor  = "Actor"
	TypeMarker = "Marker"
	TypePawn   = "Pawn"
)

// Actor is the base simulated object. It has no serialization methods and
// is registered with the msgpack codec explicitly.
type Actor struct {
	X      float64 `msgpack:"x"`
	Y      float64 `msgpack:"y"`
	VX     float64 `msgpack:"vx"`
	VY     float64 `msgpack:"vy"`
	Health float64 `msgpack:"hp"`
}

// State exposes the fields scripts may read and write.
func (a *Actor) State() map[string]float64 {
	return map[string]float64{
		"x":  a.X,
		"y":  a.Y,
		"vx": a.VX,
		"vy": a.VY,
		"hp": a.Health,
	}
}

func (a *Actor) SetState(s map[string]float64) {
	a.X, a.Y = s["x"], s["y"]
	a.VX, a.VY = s["vx"], s["vy"]
	a.Health = s["hp"]
}

// Marker is a static actor with a label. It serializes through Actor's
// registration.
type Marker struct {
	Actor
	Label string `msgpack:"label"`
}

// Pawn is a player-driven actor with a hand-written wire layout.
type Pawn struct {
	Actor
	Input uint32
}

var _ replication.Serializable = (*Pawn)(nil)

func (p *Pawn) NetSerialize(w *netstream.Writer) error {
	w.WriteF32(float32(p.X))
	w.WriteF32(float32(p.Y))
	w.WriteF32(float32(p.VX))
	w.WriteF32(float32(p.VY))
	w.WriteF32(float32(p.Health))
	w.WriteU32(p.Input)
	return nil
}

func (p *Pawn) NetDeserialize(r *netstream.Reader) error {
	p.X = float64(r.ReadF32())
	p.Y = float64(r.ReadF32())
	p.VX = float64(r.ReadF32())
	p.VY = float64(r.ReadF32())
	p.Health = float64(r.ReadF32())
	p.Input = r.ReadU32()
	return r.Err()
}

func (p *Pawn) State() map[string]float64 {
	s := p.Actor.State()
	s["input"] = float64(p.Input)
	return s
}

func (p *Pawn) SetState(s map[string]float64) {
	p.Actor.SetState(s)
	p.Input = uint32(s["input"])
}

// Factories maps catalog factory names to constructors.
func Factories() map[string]func() any {
	return map[string]func() any{
		TypeActor:  func() any { return &Actor{Health: 100} },
		TypeMarker: func() any { return &Marker{} },
		TypePawn:   func() any { return &Pawn{Actor: Actor{Health: 100}} },
	}
}

// RegisterTypes registers the built-in types without a catalog file.
func RegisterTypes(reg *types.Registry) error {
	_, err := types.RegisterCatalog(reg, []types.CatalogEntry{
		{Name: TypeActor},
		{Name: TypeMarker, Base: TypeActor},
		{Name: TypePawn, Base: TypeActor},
	}, Factories())
	return err
}

// RegisterSerializers installs the explicit Actor codec on r.
func RegisterSerializers(r *replication.Replicator, reg *types.Registry) error {
	actor, ok := reg.Find(TypeActor)
	if !ok {
		return fmt.Errorf("register serializers: %s: %w", TypeActor, types.ErrUnknownType)
	}
	r.RegisterSerializer(actor, codec.Encode, codec.Decode)
	return nil
}
