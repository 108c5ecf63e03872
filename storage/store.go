package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"channeld/core/types"
)

var (
	// ErrSequenceGap reports a record whose sequence does not directly follow
	// the current head, or a hole found while reading the log back.
	ErrSequenceGap = errors.New("storage: sequence gap")
	// ErrCorrupt reports a record or snapshot failing its checksum or decoding.
	ErrCorrupt = errors.New("storage: corrupt entry")
	// ErrTruncated reports a log that ends before its recorded head.
	ErrTruncated = errors.New("storage: log truncated before head")
)

// LogRecord is one applied state change together with the events it produced.
type LogRecord struct {
	Sequence    uint64
	Timestamp   time.Time
	StateChange types.StateChange
	Events      []types.Event
}

// Snapshot is the full chain state after the record with the same sequence.
type Snapshot struct {
	Sequence  uint64
	Timestamp time.Time
	State     *types.ChainState
}

// RunRecord marks one start of the node against a store.
type RunRecord struct {
	ID        uuid.UUID
	StartedAt time.Time
	Version   string
}

// StateStore is the durable state-change log and snapshot store.
type StateStore interface {
	// Append stores rec atomically. rec.Sequence must be Head()+1.
	Append(rec LogRecord) error
	// Head returns the sequence of the last appended record, 0 for an empty log.
	Head() (uint64, error)
	// Records calls fn for every record with from <= sequence <= to in order.
	// A to of 0 reads up to the head. Holes and checksum failures are errors.
	Records(from, to uint64, fn func(LogRecord) error) error
	SaveSnapshot(s Snapshot) error
	// LatestSnapshot returns the newest snapshot at or below maxSequence, or
	// nil when none exists. A maxSequence of 0 means no bound. Snapshots that
	// fail their checksum or do not decode are skipped; the log never is.
	LatestSnapshot(maxSequence uint64) (*Snapshot, error)
	// PruneSnapshots keeps the newest retain snapshots.
	PruneSnapshots(retain int) error
	RecordRun(run RunRecord) error
	Runs() ([]RunRecord, error)
	Close() error
}
