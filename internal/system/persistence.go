package system

import (
	"context"
	"time"

	"go.uber.org/zap"

	coresys "github.com/l1jgo/netrepl/internal/core/system"
)

// JournalFlusher writes buffered journal records.
type JournalFlusher interface {
	Flush(ctx context.Context) (int, error)
}

// PersistenceSystem flushes the journal every interval. Phase 4 (Persist).
type PersistenceSystem struct {
	journal  JournalFlusher
	interval time.Duration
	elapsed  time.Duration
	log      *zap.Logger
}

func NewPersistenceSystem(journal JournalFlusher, interval time.Duration, log *zap.Logger) *PersistenceSystem {
	return &PersistenceSystem{journal: journal, interval: interval, log: log}
}

func (s *PersistenceSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *PersistenceSystem) Update(dt time.Duration) {
	s.elapsed += dt
	if s.elapsed < s.interval {
		return
	}
	s.elapsed = 0
	s.FlushNow()
}

// FlushNow writes everything buffered. Also used at shutdown.
func (s *PersistenceSystem) FlushNow() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n, err := s.journal.Flush(ctx)
	if err != nil {
		s.log.Error("journal flush failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Debug("journal flushed", zap.Int("records", n))
	}
}
