package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/l1jgo/netrepl/internal/config"
	"github.com/l1jgo/netrepl/internal/replication"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := config.JournalConfig{
		Driver: DriverSQLite,
		DSN:    "file:" + filepath.Join(t.TempDir(), "journal.db"),
	}
	db, err := Open(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(db.Close)
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestFlushWritesBatch(t *testing.T) {
	db := openTestDB(t)
	j := New(db, 0, zaptest.NewLogger(t))

	obj := uuid.New()
	j.Observe(replication.Event{Kind: replication.EventAdded, Frame: 1, ObjectID: obj, TypeName: "Pawn", Role: replication.RoleOwnedAuthoritative})
	j.Observe(replication.Event{Kind: replication.EventSpawned, Frame: 1, ObjectID: obj, TypeName: "Pawn", Role: replication.RoleOwnedAuthoritative})
	j.Observe(replication.Event{Kind: replication.EventOwnerChanged, Frame: 4, ObjectID: obj, TypeName: "Pawn", Owner: 2, Role: replication.RoleReplicated, Peer: 2})
	j.Observe(replication.Event{Kind: replication.EventAdded, Frame: 5, ObjectID: uuid.New(), TypeName: "Marker"})

	n, err := j.Flush(context.Background())
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 records written, got %d", n)
	}
	if j.Pending() != 0 {
		t.Fatalf("expected empty buffer, got %d", j.Pending())
	}

	hist, err := j.History(context.Background(), obj)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("expected 3 records for object, got %d", len(hist))
	}
	last := hist[2]
	if last.Kind != "owner_changed" || last.Owner != 2 || last.Peer != 2 || last.Frame != 4 {
		t.Fatalf("unexpected last record %+v", last)
	}
	if last.Role != "Replicated" || last.ObjectID != obj {
		t.Fatalf("unexpected last record %+v", last)
	}
}

func TestFlushEmpty(t *testing.T) {
	j := New(openTestDB(t), 0, zaptest.NewLogger(t))
	n, err := j.Flush(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("expected no-op flush, got %d %v", n, err)
	}
}

func TestObserveDropsOldestWhenFull(t *testing.T) {
	j := New(openTestDB(t), 2, zaptest.NewLogger(t))
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for i, id := range ids {
		j.Observe(replication.Event{Kind: replication.EventAdded, Frame: uint32(i + 1), ObjectID: id, TypeName: "Pawn"})
	}
	if j.Pending() != 2 {
		t.Fatalf("expected 2 pending, got %d", j.Pending())
	}
	if _, err := j.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	hist, err := j.History(context.Background(), ids[0])
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 0 {
		t.Fatalf("expected oldest record dropped, got %d", len(hist))
	}
}

func TestFlushRequeuesOnFailure(t *testing.T) {
	db := openTestDB(t)
	j := New(db, 0, zaptest.NewLogger(t))
	j.Observe(replication.Event{Kind: replication.EventAdded, Frame: 1, ObjectID: uuid.New(), TypeName: "Pawn"})

	if _, err := db.SQL.Exec(`DROP TABLE replication_journal`); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, err := j.Flush(context.Background()); err == nil {
		t.Fatalf("expected flush error without table")
	}
	if j.Pending() != 1 {
		t.Fatalf("expected batch requeued, got %d pending", j.Pending())
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.JournalConfig{Driver: "mysql"}, zaptest.NewLogger(t))
	if err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
