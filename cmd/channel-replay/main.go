// Command channel-replay rebuilds the chain state from a node's store at any
// logged sequence and prints a summary. It never writes to the store.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"channeld/cmd/internal/stores"
	"channeld/config"
	"channeld/core"
	"channeld/integrations/exports"
	"channeld/observability/logging"
	"channeld/storage"
)

type options struct {
	to      uint64
	jsonl   string
	csv     string
	parquet string
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the node configuration file")
	to := flag.Uint64("to", 0, "Replay up to this sequence (0 replays the whole log)")
	jsonlOut := flag.String("export-jsonl", "", "Write the replayed records as JSONL to this path")
	csvOut := flag.String("export-csv", "", "Write the replayed records as CSV to this path")
	parquetOut := flag.String("export-parquet", "", "Write the replayed records as Parquet to this path")
	flag.Parse()

	logger, closer := logging.Setup("channel-replay", "", logging.Options{Level: logging.ParseLevel("info"), Output: os.Stderr})
	defer closer.Close()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	store, err := stores.Open(cfg)
	if err != nil {
		logger.Error("open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	opts := options{to: *to, jsonl: *jsonlOut, csv: *csvOut, parquet: *parquetOut}
	if err := replay(store, opts, os.Stdout, logger); err != nil {
		logger.Error("replay failed", slog.Any("error", err))
		store.Close()
		os.Exit(1)
	}
}

func replay(store storage.StateStore, opts options, out io.Writer, logger *slog.Logger) error {
	state, info, err := core.Replay(store, opts.to)
	if err != nil {
		return err
	}
	if opts.jsonl != "" || opts.csv != "" || opts.parquet != "" {
		if err := export(store, info.Head, opts, logger); err != nil {
			return err
		}
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(buildReport(state, info)); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return enc.Close()
}

func export(store storage.StateStore, head uint64, opts options, logger *slog.Logger) error {
	var records []storage.LogRecord
	if head > 0 {
		err := store.Records(1, head, func(rec storage.LogRecord) error {
			records = append(records, rec)
			return nil
		})
		if err != nil {
			return fmt.Errorf("read log: %w", err)
		}
	}
	write := func(path string, encode func([]storage.LogRecord) ([]byte, string, error)) error {
		if path == "" {
			return nil
		}
		data, checksum, err := encode(records)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		logger.Info("export written",
			slog.String("path", path),
			slog.Int("records", len(records)),
			slog.String("sha256", checksum))
		return nil
	}
	if err := write(opts.jsonl, exports.LogJSONL); err != nil {
		return fmt.Errorf("jsonl export: %w", err)
	}
	if err := write(opts.csv, exports.LogCSV); err != nil {
		return fmt.Errorf("csv export: %w", err)
	}
	if opts.parquet != "" {
		if err := exports.WriteParquet(opts.parquet, records); err != nil {
			return fmt.Errorf("parquet export: %w", err)
		}
		logger.Info("export written", slog.String("path", opts.parquet), slog.Int("records", len(records)))
	}
	return nil
}
