package system

import (
	"testing"
	"time"
)

type recorder struct {
	name  string
	phase Phase
	log   *[]string
}

func (r recorder) Phase() Phase            { return r.phase }
func (r recorder) Update(dt time.Duration) { *r.log = append(*r.log, r.name) }

func TestRunnerPhaseOrder(t *testing.T) {
	var log []string
	r := NewRunner()
	r.Register(recorder{"persist", PhasePersist, &log})
	r.Register(recorder{"replicate", PhaseReplicate, &log})
	r.Register(recorder{"input-a", PhaseInput, &log})
	r.Register(recorder{"input-b", PhaseInput, &log})

	r.Tick(time.Millisecond)
	want := []string{"input-a", "input-b", "replicate", "persist"}
	if len(log) != len(want) {
		t.Fatalf("expected %v, got %v", want, log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, log)
		}
	}

	log = log[:0]
	r.TickPhase(PhaseInput, time.Millisecond)
	if len(log) != 2 || log[0] != "input-a" {
		t.Fatalf("expected only input systems, got %v", log)
	}
}
