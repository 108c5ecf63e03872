package exports

import (
	"fmt"
	"os"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"channeld/storage"
)

type parquetRow struct {
	Sequence    int64  `parquet:"name=sequence, type=INT64"`
	Timestamp   string `parquet:"name=timestamp, type=BYTE_ARRAY, convertedtype=UTF8"`
	Type        string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	EventCount  int32  `parquet:"name=event_count, type=INT32"`
	Events      string `parquet:"name=events, type=BYTE_ARRAY, convertedtype=UTF8"`
	StateChange string `parquet:"name=state_change, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// WriteParquet writes records to a Snappy-compressed Parquet file at path.
func WriteParquet(path string, records []storage.LogRecord) error {
	rows, err := Rows(records)
	if err != nil {
		return err
	}
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("exports: create parquet: %w", err)
	}
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		fw.Close()
		return fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			Sequence:    int64(row.Sequence),
			Timestamp:   row.timestamp(),
			Type:        row.Type,
			EventCount:  int32(row.EventCount),
			Events:      row.joinedEvents(),
			StateChange: string(row.StateChange),
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			fw.Close()
			return fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("exports: parquet flush: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("exports: close parquet file: %w", err)
	}
	return nil
}

// ReadParquetSequences returns the sequence column of a Parquet export.
func ReadParquetSequences(path string) ([]uint64, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("exports: open parquet: %w", err)
	}
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetRow), 1)
	if err != nil {
		return nil, fmt.Errorf("exports: parquet schema: %w", err)
	}
	defer pr.ReadStop()
	rows := make([]parquetRow, pr.GetNumRows())
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("exports: parquet read: %w", err)
	}
	out := make([]uint64, 0, len(rows))
	for _, row := range rows {
		out = append(out, uint64(row.Sequence))
	}
	return out, nil
}
