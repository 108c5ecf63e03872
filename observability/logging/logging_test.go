package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := Setup("channeld", "test", Options{Output: &buf})
	defer closer.Close()

	logger.Info("snapshot written", slog.Uint64("sequence", 7))

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	if line["message"] != "snapshot written" || line["severity"] != "INFO" {
		t.Fatalf("unexpected line %v", line)
	}
	if line["service"] != "channeld" || line["env"] != "test" {
		t.Fatalf("missing service attributes: %v", line)
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("missing timestamp: %v", line)
	}
}

func TestSetupMasksSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := Setup("channeld", "", Options{Output: &buf})
	defer closer.Close()

	logger.Warn("reveal", slog.String("secret", "0xdeadbeef"), slog.String("dsn", "postgres://u:p@db/x"))

	out := buf.String()
	if strings.Contains(out, "deadbeef") || strings.Contains(out, "u:p@") {
		t.Fatalf("sensitive value logged: %s", out)
	}
	if !strings.Contains(out, RedactedValue) {
		t.Fatalf("expected redaction placeholder: %s", out)
	}
}

func TestSetupHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := Setup("channeld", "", Options{Output: &buf, Level: ParseLevel("warn")})
	defer closer.Close()

	logger.Info("ignored")
	if buf.Len() != 0 {
		t.Fatalf("info line written at warn level: %s", buf.String())
	}
	logger.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("warn line missing")
	}
}

func TestSetupWritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channeld.log")
	var buf bytes.Buffer
	logger, closer := Setup("channeld", "", Options{Output: &buf, File: path, MaxSizeMB: 1})
	logger.Info("to file")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Fatalf("log file missing line: %s", data)
	}
}

func TestMaskField(t *testing.T) {
	if got := MaskField("component", "engine"); got.Value.String() != "engine" {
		t.Fatalf("allowlisted key masked: %v", got)
	}
	if got := MaskField("secrethash", "0x01"); got.Value.String() != RedactedValue {
		t.Fatalf("secret hash not masked: %v", got)
	}
	if got := MaskField("secret", ""); got.Value.String() != "" {
		t.Fatalf("empty value replaced: %v", got)
	}
}
