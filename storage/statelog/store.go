// Package statelog keeps the append-only state-change log and the snapshot
// store on top of a key/value storage.Database.
//
// Layout:
//
//	head            sequence of the last appended record
//	log/<seq>       checksum || state change record
//	events/<seq>    checksum || events produced by that record
//	snap/<seq>      checksum || chain state after record seq
//	runs/<ns><id>   run record
//
// Sequences are big-endian so that key order is sequence order. Every value
// carries a blake3 checksum that is verified on read.
package statelog

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"lukechampine.com/blake3"

	"channeld/core/types"
	"channeld/storage"
)

var (
	keyHead      = []byte("head")
	prefixLog    = []byte("log/")
	prefixEvents = []byte("events/")
	prefixSnap   = []byte("snap/")
	prefixRuns   = []byte("runs/")

	errStop = errors.New("statelog: stop iteration")
)

const checksumLen = 32

// Store implements storage.StateStore over a storage.Database.
type Store struct {
	db storage.Database

	mu   sync.Mutex
	head uint64
}

var _ storage.StateStore = (*Store)(nil)

// Open loads the head pointer of db.
func Open(db storage.Database) (*Store, error) {
	s := &Store{db: db}
	raw, err := db.Get(keyHead)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("statelog: read head: %w", err)
	case len(raw) != 8:
		return nil, fmt.Errorf("statelog: head has %d bytes: %w", len(raw), storage.ErrCorrupt)
	default:
		s.head = binary.BigEndian.Uint64(raw)
	}
	return s, nil
}

// OpenLevelDB opens or creates a LevelDB backed store at path.
func OpenLevelDB(path string) (*Store, error) {
	db, err := storage.NewLevelDB(path)
	if err != nil {
		return nil, fmt.Errorf("statelog: open leveldb: %w", err)
	}
	s, err := Open(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func seqKey(prefix []byte, seq uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

func keySeq(prefix, key []byte) (uint64, error) {
	if len(key) != len(prefix)+8 || !bytes.HasPrefix(key, prefix) {
		return 0, fmt.Errorf("statelog: malformed key %q: %w", key, storage.ErrCorrupt)
	}
	return binary.BigEndian.Uint64(key[len(prefix):]), nil
}

func seal(payload []byte) []byte {
	sum := blake3.Sum256(payload)
	out := make([]byte, 0, checksumLen+len(payload))
	out = append(out, sum[:]...)
	return append(out, payload...)
}

func unseal(value []byte) ([]byte, error) {
	if len(value) < checksumLen {
		return nil, storage.ErrCorrupt
	}
	payload := value[checksumLen:]
	sum := blake3.Sum256(payload)
	if !bytes.Equal(sum[:], value[:checksumLen]) {
		return nil, storage.ErrCorrupt
	}
	return payload, nil
}

type recordJSON struct {
	Sequence    uint64          `json:"sequence"`
	Timestamp   time.Time       `json:"timestamp"`
	StateChange json.RawMessage `json:"stateChange"`
}

type snapshotJSON struct {
	Sequence  uint64          `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
	State     json.RawMessage `json:"state"`
}

type runJSON struct {
	ID        uuid.UUID `json:"id"`
	StartedAt time.Time `json:"startedAt"`
	Version   string    `json:"version"`
}

// Append writes the record, its events and the new head in one batch.
func (s *Store) Append(rec storage.LogRecord) error {
	sc, err := types.EncodeStateChange(rec.StateChange)
	if err != nil {
		return fmt.Errorf("statelog: encode record %d: %w", rec.Sequence, err)
	}
	payload, err := json.Marshal(recordJSON{Sequence: rec.Sequence, Timestamp: rec.Timestamp.UTC(), StateChange: sc})
	if err != nil {
		return fmt.Errorf("statelog: encode record %d: %w", rec.Sequence, err)
	}
	events, err := json.Marshal(types.EventList(rec.Events))
	if err != nil {
		return fmt.Errorf("statelog: encode events %d: %w", rec.Sequence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Sequence != s.head+1 {
		return fmt.Errorf("statelog: append %d after head %d: %w", rec.Sequence, s.head, storage.ErrSequenceGap)
	}
	head := make([]byte, 8)
	binary.BigEndian.PutUint64(head, rec.Sequence)

	batch := s.db.NewBatch()
	batch.Put(seqKey(prefixLog, rec.Sequence), seal(payload))
	batch.Put(seqKey(prefixEvents, rec.Sequence), seal(events))
	batch.Put(keyHead, head)
	if err := batch.Write(); err != nil {
		return fmt.Errorf("statelog: append %d: %w", rec.Sequence, err)
	}
	s.head = rec.Sequence
	return nil
}

// Head returns the last appended sequence.
func (s *Store) Head() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head, nil
}

// Records streams records in sequence order and fails on the first hole,
// checksum mismatch or missing tail.
func (s *Store) Records(from, to uint64, fn func(storage.LogRecord) error) error {
	head, _ := s.Head()
	if from == 0 {
		from = 1
	}
	if to == 0 || to > head {
		to = head
	}
	if from > to {
		return nil
	}
	next := from
	err := s.db.Iterate(prefixLog, seqKey(prefixLog, from), func(key, value []byte) error {
		seq, err := keySeq(prefixLog, key)
		if err != nil {
			return err
		}
		if seq > to {
			return errStop
		}
		if seq != next {
			return fmt.Errorf("statelog: expected record %d, found %d: %w", next, seq, storage.ErrSequenceGap)
		}
		rec, err := s.decodeRecord(seq, value)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		next++
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return err
	}
	if next <= to {
		return fmt.Errorf("statelog: log ends at %d, head is %d: %w", next-1, to, storage.ErrTruncated)
	}
	return nil
}

func (s *Store) decodeRecord(seq uint64, value []byte) (storage.LogRecord, error) {
	payload, err := unseal(value)
	if err != nil {
		return storage.LogRecord{}, fmt.Errorf("statelog: record %d: %w", seq, err)
	}
	var raw recordJSON
	if err := json.Unmarshal(payload, &raw); err != nil {
		return storage.LogRecord{}, fmt.Errorf("statelog: record %d: %v: %w", seq, err, storage.ErrCorrupt)
	}
	if raw.Sequence != seq {
		return storage.LogRecord{}, fmt.Errorf("statelog: record %d claims sequence %d: %w", seq, raw.Sequence, storage.ErrCorrupt)
	}
	sc, err := types.DecodeStateChange(raw.StateChange)
	if err != nil {
		return storage.LogRecord{}, fmt.Errorf("statelog: record %d: %v: %w", seq, err, storage.ErrCorrupt)
	}
	rec := storage.LogRecord{Sequence: seq, Timestamp: raw.Timestamp, StateChange: sc}

	value, err = s.db.Get(seqKey(prefixEvents, seq))
	if err != nil {
		return storage.LogRecord{}, fmt.Errorf("statelog: events %d: %w", seq, err)
	}
	payload, err = unseal(value)
	if err != nil {
		return storage.LogRecord{}, fmt.Errorf("statelog: events %d: %w", seq, err)
	}
	var events types.EventList
	if err := json.Unmarshal(payload, &events); err != nil {
		return storage.LogRecord{}, fmt.Errorf("statelog: events %d: %v: %w", seq, err, storage.ErrCorrupt)
	}
	rec.Events = events
	return rec, nil
}

// SaveSnapshot writes a snapshot under its sequence with a single put.
func (s *Store) SaveSnapshot(snap storage.Snapshot) error {
	state, err := types.EncodeChainState(snap.State)
	if err != nil {
		return fmt.Errorf("statelog: encode snapshot %d: %w", snap.Sequence, err)
	}
	payload, err := json.Marshal(snapshotJSON{Sequence: snap.Sequence, Timestamp: snap.Timestamp.UTC(), State: state})
	if err != nil {
		return fmt.Errorf("statelog: encode snapshot %d: %w", snap.Sequence, err)
	}
	if err := s.db.Put(seqKey(prefixSnap, snap.Sequence), seal(payload)); err != nil {
		return fmt.Errorf("statelog: write snapshot %d: %w", snap.Sequence, err)
	}
	return nil
}

func (s *Store) snapshotSequences() ([]uint64, error) {
	var seqs []uint64
	err := s.db.Iterate(prefixSnap, nil, func(key, _ []byte) error {
		seq, err := keySeq(prefixSnap, key)
		if err != nil {
			return err
		}
		seqs = append(seqs, seq)
		return nil
	})
	return seqs, err
}

// LatestSnapshot returns the newest usable snapshot not beyond maxSequence.
// Snapshots that fail their checksum or do not decode are skipped.
func (s *Store) LatestSnapshot(maxSequence uint64) (*storage.Snapshot, error) {
	seqs, err := s.snapshotSequences()
	if err != nil {
		return nil, fmt.Errorf("statelog: list snapshots: %w", err)
	}
	for i := len(seqs) - 1; i >= 0; i-- {
		seq := seqs[i]
		if maxSequence != 0 && seq > maxSequence {
			continue
		}
		snap, err := s.readSnapshot(seq)
		if errors.Is(err, storage.ErrCorrupt) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return snap, nil
	}
	return nil, nil
}

func (s *Store) readSnapshot(seq uint64) (*storage.Snapshot, error) {
	value, err := s.db.Get(seqKey(prefixSnap, seq))
	if err != nil {
		return nil, fmt.Errorf("statelog: read snapshot %d: %w", seq, err)
	}
	payload, err := unseal(value)
	if err != nil {
		return nil, fmt.Errorf("statelog: snapshot %d: %w", seq, err)
	}
	var raw snapshotJSON
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("statelog: snapshot %d: %v: %w", seq, err, storage.ErrCorrupt)
	}
	state, err := types.DecodeChainState(raw.State)
	if err != nil {
		return nil, fmt.Errorf("statelog: snapshot %d: %v: %w", seq, err, storage.ErrCorrupt)
	}
	return &storage.Snapshot{Sequence: seq, Timestamp: raw.Timestamp, State: state}, nil
}

// PruneSnapshots deletes all but the newest retain snapshots.
func (s *Store) PruneSnapshots(retain int) error {
	seqs, err := s.snapshotSequences()
	if err != nil {
		return fmt.Errorf("statelog: list snapshots: %w", err)
	}
	if len(seqs) <= retain {
		return nil
	}
	batch := s.db.NewBatch()
	for _, seq := range seqs[:len(seqs)-retain] {
		batch.Delete(seqKey(prefixSnap, seq))
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("statelog: prune snapshots: %w", err)
	}
	return nil
}

// RecordRun stores a run record keyed by its start time.
func (s *Store) RecordRun(run storage.RunRecord) error {
	payload, err := json.Marshal(runJSON{ID: run.ID, StartedAt: run.StartedAt.UTC(), Version: run.Version})
	if err != nil {
		return fmt.Errorf("statelog: encode run: %w", err)
	}
	key := append(seqKey(prefixRuns, uint64(run.StartedAt.UnixNano())), run.ID[:]...)
	if err := s.db.Put(key, payload); err != nil {
		return fmt.Errorf("statelog: write run: %w", err)
	}
	return nil
}

// Runs lists run records, oldest first.
func (s *Store) Runs() ([]storage.RunRecord, error) {
	var runs []storage.RunRecord
	err := s.db.Iterate(prefixRuns, nil, func(_, value []byte) error {
		var raw runJSON
		if err := json.Unmarshal(value, &raw); err != nil {
			return fmt.Errorf("statelog: run: %v: %w", err, storage.ErrCorrupt)
		}
		runs = append(runs, storage.RunRecord{ID: raw.ID, StartedAt: raw.StartedAt, Version: raw.Version})
		return nil
	})
	return runs, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}
