package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"strconv"

	"channeld/storage"
)

// LogCSV builds a CSV export of records and returns the serialised data
// alongside a SHA-256 checksum of the payload.
func LogCSV(records []storage.LogRecord) ([]byte, string, error) {
	rows, err := Rows(records)
	if err != nil {
		return nil, "", err
	}
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"sequence", "timestamp", "type", "event_count", "events", "state_change"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, row := range rows {
		record := []string{
			strconv.FormatUint(row.Sequence, 10),
			row.timestamp(),
			row.Type,
			strconv.Itoa(row.EventCount),
			row.joinedEvents(),
			string(row.StateChange),
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
