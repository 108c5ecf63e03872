package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"channeld/storage"
)

// LogJSONL builds a JSON Lines export of records and returns the serialised
// payload alongside a checksum. Each line carries the tagged state change
// envelope unchanged, so the export can be decoded with the log codec.
func LogJSONL(records []storage.LogRecord) ([]byte, string, error) {
	rows, err := Rows(records)
	if err != nil {
		return nil, "", err
	}
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, row := range rows {
		payload := map[string]interface{}{
			"sequence":     row.Sequence,
			"timestamp":    row.timestamp(),
			"type":         row.Type,
			"event_count":  row.EventCount,
			"events":       row.EventTypes,
			"state_change": json.RawMessage(row.StateChange),
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
