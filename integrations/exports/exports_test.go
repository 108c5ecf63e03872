package exports

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"channeld/core/types"
	"channeld/storage"
)

func sampleRecords() []storage.LogRecord {
	at := time.Unix(1700, 0).UTC()
	return []storage.LogRecord{
		{
			Sequence:    1,
			Timestamp:   at,
			StateChange: &types.ActionInitChain{ChainID: 1, BlockNumber: 10, OurAddress: common.HexToAddress("0xd1")},
		},
		{
			Sequence:    2,
			Timestamp:   at.Add(time.Second),
			StateChange: &types.Block{Number: 11},
			Events: []types.Event{
				&types.ContractSendChannelSettle{},
				&types.EventPaymentSentFailed{Reason: "lock expired"},
			},
		},
	}
}

func TestLogJSONL(t *testing.T) {
	data, checksum, err := LogJSONL(sampleRecords())
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	if len(data) == 0 || len(checksum) != 64 {
		t.Fatalf("expected data and checksum")
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	var lines []map[string]json.RawMessage
	for scanner.Scan() {
		var line map[string]json.RawMessage
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		lines = append(lines, line)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	sc, err := types.DecodeStateChange(lines[1]["state_change"])
	if err != nil {
		t.Fatalf("decode state change: %v", err)
	}
	if block, ok := sc.(*types.Block); !ok || block.Number != 11 {
		t.Fatalf("unexpected state change %#v", sc)
	}
	if string(lines[1]["event_count"]) != "2" {
		t.Fatalf("event_count %s", lines[1]["event_count"])
	}
}

func TestLogCSV(t *testing.T) {
	data, checksum, err := LogCSV(sampleRecords())
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if checksum == "" {
		t.Fatalf("expected checksum")
	}
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d rows, want header and 2 records", len(records))
	}
	if strings.Join(records[0], ",") != "sequence,timestamp,type,event_count,events,state_change" {
		t.Fatalf("unexpected header %v", records[0])
	}
	if records[2][2] != "Block" || records[2][4] != "ContractSendChannelSettle;EventPaymentSentFailed" {
		t.Fatalf("unexpected row %v", records[2])
	}
}

func TestChecksumIsStable(t *testing.T) {
	_, first, err := LogCSV(sampleRecords())
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	_, second, err := LogCSV(sampleRecords())
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if first != second {
		t.Fatalf("checksum changed between identical exports")
	}
}

func TestWriteParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.parquet")
	if err := WriteParquet(path, sampleRecords()); err != nil {
		t.Fatalf("write parquet: %v", err)
	}
	seqs, err := ReadParquetSequences(path)
	if err != nil {
		t.Fatalf("read parquet: %v", err)
	}
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 2 {
		t.Fatalf("unexpected sequences %v", seqs)
	}
}
