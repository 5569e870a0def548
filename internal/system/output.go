package system

import (
	"time"

	coresys "github.com/l1jgo/netrepl/internal/core/system"
)

// Ticker is the replication frame driver.
type Ticker interface {
	Tick()
}

// Flusher pushes buffered sends to the peers' writers.
type Flusher interface {
	Flush()
}

// OutputSystem runs the replication frame and flushes the transport. Phase 3.
type OutputSystem struct {
	repl      Ticker
	transport Flusher
}

func NewOutputSystem(repl Ticker, transport Flusher) *OutputSystem {
	return &OutputSystem{repl: repl, transport: transport}
}

func (s *OutputSystem) Phase() coresys.Phase { return coresys.PhaseReplicate }

func (s *OutputSystem) Update(_ time.Duration) {
	s.repl.Tick()
	s.transport.Flush()
}
