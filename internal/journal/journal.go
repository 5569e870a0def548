package journal

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/l1jgo/netrepl/internal/replication"
)

// Record is one journal row.
type Record struct {
	Frame    uint32
	Kind     string
	ObjectID uuid.UUID
	ParentID uuid.UUID
	TypeName string
	Owner    uint32
	Role     string
	Peer     uint32
}

func recordOf(ev replication.Event) Record {
	return Record{
		Frame:    ev.Frame,
		Kind:     ev.Kind.String(),
		ObjectID: ev.ObjectID,
		ParentID: ev.ParentID,
		TypeName: ev.TypeName,
		Owner:    ev.Owner,
		Role:     ev.Role.String(),
		Peer:     ev.Peer,
	}
}

// Journal buffers replication events in memory and writes them in batches.
// Observe never touches the database.
type Journal struct {
	db         *DB
	maxPending int
	log        *zap.Logger

	mu      sync.Mutex
	pending []Record
	dropped int
}

var _ replication.Observer = (*Journal)(nil)

func New(db *DB, maxPending int, log *zap.Logger) *Journal {
	if maxPending <= 0 {
		maxPending = 4096
	}
	return &Journal{db: db, maxPending: maxPending, log: log}
}

// Observe buffers ev. When the buffer is full the oldest record is dropped.
func (j *Journal) Observe(ev replication.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.pending) >= j.maxPending {
		j.pending = j.pending[1:]
		j.dropped++
	}
	j.pending = append(j.pending, recordOf(ev))
}

func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}

// Flush writes every buffered record in one transaction. On failure the
// batch is put back in front of records observed meanwhile.
func (j *Journal) Flush(ctx context.Context) (int, error) {
	j.mu.Lock()
	batch := j.pending
	j.pending = nil
	dropped := j.dropped
	j.dropped = 0
	j.mu.Unlock()

	if dropped > 0 {
		j.log.Warn("journal buffer overflow", zap.Int("dropped", dropped))
	}
	if len(batch) == 0 {
		return 0, nil
	}

	var err error
	if j.db.Pool != nil {
		err = j.writePostgres(ctx, batch)
	} else {
		err = j.writeSQL(ctx, batch)
	}
	if err != nil {
		j.mu.Lock()
		j.pending = append(batch, j.pending...)
		j.mu.Unlock()
		return 0, err
	}
	return len(batch), nil
}

func (j *Journal) writePostgres(ctx context.Context, batch []Record) error {
	tx, err := j.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("journal begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range batch {
		if _, err := tx.Exec(ctx,
			`INSERT INTO replication_journal (frame, kind, object_id, parent_id, type_name, owner_id, role, peer_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			int64(r.Frame), r.Kind, r.ObjectID, r.ParentID, r.TypeName, int64(r.Owner), r.Role, int64(r.Peer),
		); err != nil {
			return fmt.Errorf("journal insert: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (j *Journal) writeSQL(ctx context.Context, batch []Record) error {
	tx, err := j.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO replication_journal (frame, kind, object_id, parent_id, type_name, owner_id, role, peer_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("journal prepare: %w", err)
	}
	defer stmt.Close()
	for _, r := range batch {
		if _, err := stmt.ExecContext(ctx,
			int64(r.Frame), r.Kind, r.ObjectID.String(), r.ParentID.String(), r.TypeName, int64(r.Owner), r.Role, int64(r.Peer),
		); err != nil {
			return fmt.Errorf("journal insert: %w", err)
		}
	}
	return tx.Commit()
}

// History returns the recorded events for one object, oldest first.
func (j *Journal) History(ctx context.Context, objectID uuid.UUID) ([]Record, error) {
	query := `SELECT frame, kind, object_id, parent_id, type_name, owner_id, role, peer_id
	          FROM replication_journal WHERE object_id = ? ORDER BY id`
	if j.db.Driver == DriverPostgres {
		query = `SELECT frame, kind, object_id::text, parent_id::text, type_name, owner_id, role, peer_id
		         FROM replication_journal WHERE object_id = $1 ORDER BY id`
	}
	rows, err := j.db.SQL.QueryContext(ctx, query, objectID.String())
	if err != nil {
		return nil, fmt.Errorf("journal history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                 Record
			frame, owner, pid int64
			oid, parent       string
		)
		if err := rows.Scan(&frame, &r.Kind, &oid, &parent, &r.TypeName, &owner, &r.Role, &pid); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		r.Frame, r.Owner, r.Peer = uint32(frame), uint32(owner), uint32(pid)
		if r.ObjectID, err = uuid.Parse(oid); err != nil {
			return nil, fmt.Errorf("journal scan object id: %w", err)
		}
		if r.ParentID, err = uuid.Parse(parent); err != nil {
			return nil, fmt.Errorf("journal scan parent id: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
