package sqlstore

import (
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"channeld/core/types"
	"channeld/storage"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	s, err := OpenSQLite(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(seq uint64) storage.LogRecord {
	return storage.LogRecord{
		Sequence:    seq,
		Timestamp:   time.Unix(1700000000+int64(seq), 0),
		StateChange: &types.Block{Number: types.BlockNumber(seq)},
		Events:      []types.Event{&types.ContractSendChannelSettle{}},
	}
}

func TestAppendAndRecords(t *testing.T) {
	s := setupStore(t)
	for seq := uint64(1); seq <= 4; seq++ {
		require.NoError(t, s.Append(record(seq)))
	}
	require.ErrorIs(t, s.Append(record(6)), storage.ErrSequenceGap)

	head, err := s.Head()
	require.NoError(t, err)
	require.Equal(t, uint64(4), head)

	var seen []uint64
	err = s.Records(2, 0, func(rec storage.LogRecord) error {
		seen = append(seen, rec.Sequence)
		require.Equal(t, types.BlockNumber(rec.Sequence), rec.StateChange.(*types.Block).Number)
		require.Len(t, rec.Events, 1)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{2, 3, 4}, seen)
}

func TestTamperedRowIsDetected(t *testing.T) {
	s := setupStore(t)
	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, s.Append(record(seq)))
	}
	require.NoError(t, s.db.Model(&stateChangeRow{}).Where("seq = ?", 2).Update("data", []byte(`{"type":"Block","data":{"number":99}}`)).Error)

	err := s.Records(1, 0, func(storage.LogRecord) error { return nil })
	require.ErrorIs(t, err, storage.ErrCorrupt)
}

func TestDeletedRowIsDetected(t *testing.T) {
	s := setupStore(t)
	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, s.Append(record(seq)))
	}
	require.NoError(t, s.db.Where("seq = ?", 3).Delete(&stateChangeRow{}).Error)

	err := s.Records(1, 0, func(storage.LogRecord) error { return nil })
	require.ErrorIs(t, err, storage.ErrTruncated)
}

func TestSnapshotsAndRuns(t *testing.T) {
	s := setupStore(t)
	for _, seq := range []uint64{5, 10, 15, 20} {
		state := types.NewChainState(&types.ActionInitChain{
			ChainID:     1,
			BlockNumber: types.BlockNumber(seq),
			OurAddress:  common.HexToAddress("0x0000000000000000000000000000000000000002"),
		})
		require.NoError(t, s.SaveSnapshot(storage.Snapshot{Sequence: seq, Timestamp: time.Now(), State: state}))
	}

	snap, err := s.LatestSnapshot(0)
	require.NoError(t, err)
	require.Equal(t, uint64(20), snap.Sequence)
	require.Equal(t, types.BlockNumber(20), snap.State.BlockNumber)

	snap, err = s.LatestSnapshot(12)
	require.NoError(t, err)
	require.Equal(t, uint64(10), snap.Sequence)

	require.NoError(t, s.PruneSnapshots(2))
	snap, err = s.LatestSnapshot(12)
	require.NoError(t, err)
	require.Nil(t, snap)

	first := storage.RunRecord{ID: uuid.New(), StartedAt: time.Unix(1700000000, 0), Version: "a"}
	second := storage.RunRecord{ID: uuid.New(), StartedAt: time.Unix(1700000100, 0), Version: "b"}
	require.NoError(t, s.RecordRun(second))
	require.NoError(t, s.RecordRun(first))
	runs, err := s.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, first.ID, runs[0].ID)
	require.Equal(t, second.ID, runs[1].ID)
}

func TestTamperedSnapshotFallsBackToOlder(t *testing.T) {
	s := setupStore(t)
	for _, seq := range []uint64{4, 8} {
		state := types.NewChainState(&types.ActionInitChain{
			ChainID:     1,
			BlockNumber: types.BlockNumber(seq),
			OurAddress:  common.HexToAddress("0x0000000000000000000000000000000000000002"),
		})
		require.NoError(t, s.SaveSnapshot(storage.Snapshot{Sequence: seq, Timestamp: time.Now(), State: state}))
	}
	require.NoError(t, s.db.Model(&snapshotRow{}).Where("seq = ?", 8).Update("data", []byte(`{"blockNumber":99}`)).Error)

	snap, err := s.LatestSnapshot(0)
	require.NoError(t, err)
	require.Equal(t, uint64(4), snap.Sequence)

	require.NoError(t, s.db.Model(&snapshotRow{}).Where("seq = ?", 4).Update("checksum", []byte("bad")).Error)
	snap, err = s.LatestSnapshot(0)
	require.NoError(t, err)
	require.Nil(t, snap)
}
