// Package system runs the node's tick as an ordered list of phased systems.
package system

import "time"

// Phase orders systems within a tick.
type Phase int

const (
	PhaseInput     Phase = iota // drain peer queues, dispatch messages
	PhaseEvents                 // deliver last tick's bus events
	PhaseSimulate               // scripted behaviours
	PhaseReplicate              // replication tick + transport flush
	PhasePersist                // journal flush

	phaseCount
)

func (p Phase) String() string {
	switch p {
	case PhaseInput:
		return "input"
	case PhaseEvents:
		return "events"
	case PhaseSimulate:
		return "simulate"
	case PhaseReplicate:
		return "replicate"
	case PhasePersist:
		return "persist"
	default:
		return "unknown"
	}
}

// System is one step of the tick.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
