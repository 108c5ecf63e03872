// Package sqlstore is a storage.StateStore kept in SQL tables through gorm,
// for operators who prefer sqlite files or a postgres instance over LevelDB.
package sqlstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"lukechampine.com/blake3"

	"channeld/core/types"
	"channeld/storage"
)

type stateChangeRow struct {
	Seq       uint64 `gorm:"column:seq;primaryKey;autoIncrement:false"`
	Timestamp time.Time
	Type      string `gorm:"size:64;index"`
	Data      []byte
	Events    []byte
	Checksum  []byte `gorm:"size:32"`
}

func (stateChangeRow) TableName() string { return "state_changes" }

type snapshotRow struct {
	Seq       uint64 `gorm:"column:seq;primaryKey;autoIncrement:false"`
	Timestamp time.Time
	Data      []byte
	Checksum  []byte `gorm:"size:32"`
}

func (snapshotRow) TableName() string { return "state_snapshots" }

type runRow struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	StartedAt time.Time `gorm:"index"`
	Version   string    `gorm:"size:64"`
}

func (runRow) TableName() string { return "runs" }

// metaRow holds the head pointer.
type metaRow struct {
	Name  string `gorm:"size:32;primaryKey"`
	Value uint64
}

func (metaRow) TableName() string { return "store_meta" }

const headKey = "head"

// AutoMigrate creates or updates the store tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&stateChangeRow{},
		&snapshotRow{},
		&runRow{},
		&metaRow{},
	)
}

// Store implements storage.StateStore over gorm.
type Store struct {
	db *gorm.DB
}

var _ storage.StateStore = (*Store)(nil)

// New migrates db and wraps it.
func New(db *gorm.DB) (*Store, error) {
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenSQLite opens a sqlite database at dsn, a path or a file: URI.
func OpenSQLite(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open sqlite: %w", err)
	}
	return New(db)
}

// OpenPostgres connects to the postgres instance described by dsn.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open postgres: %w", err)
	}
	return New(db)
}

func checksum(parts ...[]byte) []byte {
	h := blake3.New(32, nil)
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func readHead(tx *gorm.DB) (uint64, error) {
	var meta metaRow
	err := tx.First(&meta, "name = ?", headKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return meta.Value, nil
}

// Append inserts the record and moves the head in one transaction.
func (s *Store) Append(rec storage.LogRecord) error {
	data, err := types.EncodeStateChange(rec.StateChange)
	if err != nil {
		return fmt.Errorf("sqlstore: encode record %d: %w", rec.Sequence, err)
	}
	events, err := json.Marshal(types.EventList(rec.Events))
	if err != nil {
		return fmt.Errorf("sqlstore: encode events %d: %w", rec.Sequence, err)
	}
	row := stateChangeRow{
		Seq:       rec.Sequence,
		Timestamp: rec.Timestamp.UTC(),
		Type:      rec.StateChange.StateChangeType(),
		Data:      data,
		Events:    events,
		Checksum:  checksum(data, events),
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		head, err := readHead(tx)
		if err != nil {
			return err
		}
		if rec.Sequence != head+1 {
			return fmt.Errorf("append %d after head %d: %w", rec.Sequence, head, storage.ErrSequenceGap)
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Save(&metaRow{Name: headKey, Value: rec.Sequence}).Error
	})
	if err != nil {
		return fmt.Errorf("sqlstore: %w", err)
	}
	return nil
}

// Head returns the last appended sequence.
func (s *Store) Head() (uint64, error) {
	head, err := readHead(s.db)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: read head: %w", err)
	}
	return head, nil
}

// Records streams rows in sequence order, failing on holes, checksum
// mismatches and a tail shorter than the head.
func (s *Store) Records(from, to uint64, fn func(storage.LogRecord) error) error {
	head, err := s.Head()
	if err != nil {
		return err
	}
	if from == 0 {
		from = 1
	}
	if to == 0 || to > head {
		to = head
	}
	if from > to {
		return nil
	}
	rows, err := s.db.Model(&stateChangeRow{}).Where("seq >= ? AND seq <= ?", from, to).Order("seq").Rows()
	if err != nil {
		return fmt.Errorf("sqlstore: query records: %w", err)
	}
	defer rows.Close()

	next := from
	for rows.Next() {
		var row stateChangeRow
		if err := s.db.ScanRows(rows, &row); err != nil {
			return fmt.Errorf("sqlstore: scan record: %w", err)
		}
		if row.Seq != next {
			return fmt.Errorf("sqlstore: expected record %d, found %d: %w", next, row.Seq, storage.ErrSequenceGap)
		}
		rec, err := decodeRow(&row)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		next++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlstore: read records: %w", err)
	}
	if next <= to {
		return fmt.Errorf("sqlstore: log ends at %d, head is %d: %w", next-1, to, storage.ErrTruncated)
	}
	return nil
}

func decodeRow(row *stateChangeRow) (storage.LogRecord, error) {
	if !bytes.Equal(row.Checksum, checksum(row.Data, row.Events)) {
		return storage.LogRecord{}, fmt.Errorf("sqlstore: record %d: %w", row.Seq, storage.ErrCorrupt)
	}
	sc, err := types.DecodeStateChange(row.Data)
	if err != nil {
		return storage.LogRecord{}, fmt.Errorf("sqlstore: record %d: %v: %w", row.Seq, err, storage.ErrCorrupt)
	}
	var events types.EventList
	if err := json.Unmarshal(row.Events, &events); err != nil {
		return storage.LogRecord{}, fmt.Errorf("sqlstore: events %d: %v: %w", row.Seq, err, storage.ErrCorrupt)
	}
	return storage.LogRecord{Sequence: row.Seq, Timestamp: row.Timestamp, StateChange: sc, Events: events}, nil
}

// SaveSnapshot inserts or replaces the snapshot at its sequence.
func (s *Store) SaveSnapshot(snap storage.Snapshot) error {
	data, err := types.EncodeChainState(snap.State)
	if err != nil {
		return fmt.Errorf("sqlstore: encode snapshot %d: %w", snap.Sequence, err)
	}
	row := snapshotRow{Seq: snap.Sequence, Timestamp: snap.Timestamp.UTC(), Data: data, Checksum: checksum(data)}
	if err := s.db.Save(&row).Error; err != nil {
		return fmt.Errorf("sqlstore: write snapshot %d: %w", snap.Sequence, err)
	}
	return nil
}

// LatestSnapshot returns the newest usable snapshot not beyond maxSequence.
// Rows that fail their checksum or do not decode are skipped.
func (s *Store) LatestSnapshot(maxSequence uint64) (*storage.Snapshot, error) {
	bound := maxSequence
	for {
		query := s.db.Order("seq DESC")
		if bound != 0 {
			query = query.Where("seq <= ?", bound)
		}
		var row snapshotRow
		err := query.First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("sqlstore: read snapshot: %w", err)
		}
		snap, err := decodeSnapshot(row)
		if !errors.Is(err, storage.ErrCorrupt) {
			return snap, err
		}
		if row.Seq <= 1 {
			return nil, nil
		}
		bound = row.Seq - 1
	}
}

func decodeSnapshot(row snapshotRow) (*storage.Snapshot, error) {
	if !bytes.Equal(row.Checksum, checksum(row.Data)) {
		return nil, fmt.Errorf("sqlstore: snapshot %d: %w", row.Seq, storage.ErrCorrupt)
	}
	state, err := types.DecodeChainState(row.Data)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: snapshot %d: %v: %w", row.Seq, err, storage.ErrCorrupt)
	}
	return &storage.Snapshot{Sequence: row.Seq, Timestamp: row.Timestamp, State: state}, nil
}

// PruneSnapshots deletes all but the newest retain snapshots.
func (s *Store) PruneSnapshots(retain int) error {
	var keep []uint64
	if err := s.db.Model(&snapshotRow{}).Order("seq DESC").Limit(retain).Pluck("seq", &keep).Error; err != nil {
		return fmt.Errorf("sqlstore: list snapshots: %w", err)
	}
	query := s.db.Model(&snapshotRow{})
	if len(keep) > 0 {
		query = query.Where("seq NOT IN ?", keep)
	} else {
		query = query.Where("1 = 1")
	}
	if err := query.Delete(&snapshotRow{}).Error; err != nil {
		return fmt.Errorf("sqlstore: prune snapshots: %w", err)
	}
	return nil
}

// RecordRun stores a run record.
func (s *Store) RecordRun(run storage.RunRecord) error {
	row := runRow{ID: run.ID, StartedAt: run.StartedAt.UTC(), Version: run.Version}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("sqlstore: write run: %w", err)
	}
	return nil
}

// Runs lists run records, oldest first.
func (s *Store) Runs() ([]storage.RunRecord, error) {
	var rows []runRow
	if err := s.db.Order("started_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlstore: list runs: %w", err)
	}
	runs := make([]storage.RunRecord, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, storage.RunRecord{ID: row.ID, StartedAt: row.StartedAt, Version: row.Version})
	}
	return runs, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
