// Package exports renders the state-change log for auditors. Every export
// returns its payload alongside a SHA-256 checksum so that copies handed to
// third parties can be verified.
package exports

import (
	"fmt"
	"strings"
	"time"

	"channeld/core/types"
	"channeld/storage"
)

// Row is the flattened form of one log record.
type Row struct {
	Sequence    uint64
	Timestamp   time.Time
	Type        string
	EventCount  int
	EventTypes  []string
	StateChange []byte
}

// Rows flattens records in log order.
func Rows(records []storage.LogRecord) ([]Row, error) {
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		raw, err := types.EncodeStateChange(rec.StateChange)
		if err != nil {
			return nil, fmt.Errorf("exports: record %d: %w", rec.Sequence, err)
		}
		row := Row{
			Sequence:    rec.Sequence,
			Timestamp:   rec.Timestamp.UTC(),
			Type:        rec.StateChange.StateChangeType(),
			EventCount:  len(rec.Events),
			StateChange: raw,
		}
		for _, ev := range rec.Events {
			row.EventTypes = append(row.EventTypes, ev.EventType())
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (r Row) joinedEvents() string {
	return strings.Join(r.EventTypes, ";")
}

func (r Row) timestamp() string {
	if r.Timestamp.IsZero() {
		return ""
	}
	return r.Timestamp.Format(time.RFC3339Nano)
}
