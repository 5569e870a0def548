package system

import (
	"time"

	"go.uber.org/zap"

	coresys "github.com/l1jgo/netrepl/internal/core/system"
	"github.com/l1jgo/netrepl/internal/replication"
)

// Stepper runs one scripted behaviour step.
type Stepper interface {
	Step(typeName string, state map[string]float64, dt float64) (bool, error)
}

// Stateful instances expose numeric state to scripts.
type Stateful interface {
	State() map[string]float64
	SetState(map[string]float64)
}

// SimulationSystem steps every spawned object this peer owns and marks the
// changed ones dirty. Phase 2.
type SimulationSystem struct {
	repl    *replication.Replicator
	world   replication.World
	scripts Stepper
	log     *zap.Logger
	failed  map[string]bool
}

func NewSimulationSystem(repl *replication.Replicator, world replication.World, scripts Stepper, log *zap.Logger) *SimulationSystem {
	return &SimulationSystem{
		repl:    repl,
		world:   world,
		scripts: scripts,
		log:     log,
		failed:  make(map[string]bool),
	}
}

func (s *SimulationSystem) Phase() coresys.Phase { return coresys.PhaseSimulate }

func (s *SimulationSystem) Update(dt time.Duration) {
	for _, e := range s.repl.Entries() {
		if e.Role != replication.RoleOwnedAuthoritative || !e.Spawned || s.failed[e.TypeName] {
			continue
		}
		obj, ok := s.world.Find(e.ObjectID)
		if !ok {
			continue
		}
		st, ok := obj.Instance().(Stateful)
		if !ok {
			continue
		}
		state := st.State()
		changed, err := s.scripts.Step(e.TypeName, state, dt.Seconds())
		if err != nil {
			// disabled after the first error
			s.failed[e.TypeName] = true
			s.log.Error("behaviour step failed, disabled", zap.String("type", e.TypeName), zap.Error(err))
			continue
		}
		if changed {
			st.SetState(state)
			s.repl.MarkDirty(obj)
		}
	}
}
