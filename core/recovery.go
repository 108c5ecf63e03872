package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"channeld/core/machine"
	"channeld/core/types"
	"channeld/storage"
)

// RecoveryInfo summarises a recovery.
type RecoveryInfo struct {
	RunID            uuid.UUID
	SnapshotSequence uint64
	Replayed         uint64
	Head             uint64
	// Redispatched counts the queued messages and pending transactions
	// handed back to the sink.
	Redispatched int
}

// Replay rebuilds the state at sequence upTo (the head when 0) from the
// newest usable snapshot and the records after it. A nil state with no
// error means the store is empty.
func Replay(store storage.StateStore, upTo uint64) (*types.ChainState, RecoveryInfo, error) {
	var info RecoveryInfo
	head, err := store.Head()
	if err != nil {
		return nil, info, &RecoveryError{Err: fmt.Errorf("read head: %w", err)}
	}
	if upTo == 0 || upTo > head {
		upTo = head
	}
	info.Head = upTo
	if upTo == 0 {
		return nil, info, nil
	}

	var state *types.ChainState
	snap, err := usableSnapshot(store, upTo)
	if err != nil {
		return nil, info, &RecoveryError{Err: fmt.Errorf("load snapshot: %w", err)}
	}
	if snap != nil {
		state = snap.State
		info.SnapshotSequence = snap.Sequence
	}

	err = store.Records(info.SnapshotSequence+1, upTo, func(rec storage.LogRecord) error {
		next, _, err := machine.Apply(state, rec.StateChange)
		if err != nil {
			return &RecoveryError{Sequence: rec.Sequence, Err: err}
		}
		next.Sequence = rec.Sequence
		state = next
		info.Replayed++
		return nil
	})
	if err != nil {
		var rerr *RecoveryError
		if errors.As(err, &rerr) {
			return nil, info, rerr
		}
		return nil, info, &RecoveryError{Sequence: info.SnapshotSequence + info.Replayed + 1, Err: err}
	}
	return state, info, nil
}

// usableSnapshot returns the newest snapshot at or below upTo whose state
// belongs to its sequence. Recovery replays from genesis when none is left.
func usableSnapshot(store storage.StateStore, upTo uint64) (*storage.Snapshot, error) {
	for upTo > 0 {
		snap, err := store.LatestSnapshot(upTo)
		if err != nil || snap == nil {
			return nil, err
		}
		if snap.State != nil && snap.State.Sequence == snap.Sequence {
			return snap, nil
		}
		upTo = snap.Sequence - 1
	}
	return nil, nil
}

// Recover loads the state from the store, records this run and hands the
// pending outbound queues back to the sink so that delivery resumes.
func (e *Engine) Recover(ctx context.Context) (RecoveryInfo, error) {
	state, info, err := Replay(e.store, 0)
	if err != nil {
		e.logger.Error("recovery failed", slog.Any("error", err))
		return info, err
	}

	info.RunID = uuid.New()
	run := storage.RunRecord{ID: info.RunID, StartedAt: e.now(), Version: e.cfg.Version}
	if err := e.store.RecordRun(run); err != nil {
		return info, &StorageError{Op: "run", Sequence: info.Head, Err: err}
	}

	e.mu.Lock()
	e.state = state
	e.sequence = info.Head
	e.lastSnap = info.SnapshotSequence
	e.lastSnapAt = e.now()
	e.recovered = true
	var pending []types.Event
	if state != nil {
		pending = append(pending, state.QueuedMessages...)
		pending = append(pending, state.PendingTransactions...)
	}
	e.mu.Unlock()

	if e.sink != nil && len(pending) > 0 {
		e.sink.Handle(ctx, info.Head, pending)
	}
	info.Redispatched = len(pending)
	e.logger.Info("state recovered",
		slog.String("run_id", info.RunID.String()),
		slog.Uint64("snapshot_sequence", info.SnapshotSequence),
		slog.Uint64("replayed", info.Replayed),
		slog.Uint64("head", info.Head),
		slog.Int("redispatched", info.Redispatched))
	return info, nil
}
