package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupWritesRenamedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	logger := Setup("perpcore", "test", Options{
		Component: "engine-host",
		FilePath:  path,
	})
	logger.Info("crank completed", slog.Uint64("slot", 42))

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := strings.TrimSpace(string(raw))
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line not JSON: %v (%q)", err, line)
	}
	if entry["msg"] != "crank completed" {
		t.Fatalf("msg key missing: %v", entry)
	}
	if entry["level"] != "info" {
		t.Fatalf("level not lower-cased: %v", entry["level"])
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("ts key missing: %v", entry)
	}
	if entry["service"] != "perpcore" || entry["env"] != "test" || entry["component"] != "engine-host" {
		t.Fatalf("base attrs missing: %v", entry)
	}
}

func TestSetupHonorsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	logger := Setup("perpcore", "", Options{
		Level:    slog.LevelWarn,
		FilePath: path,
	})
	logger.Info("suppressed")
	logger.Warn("kept")

	raw, _ := os.ReadFile(path)
	out := string(raw)
	if strings.Contains(out, "suppressed") {
		t.Fatalf("info line emitted below level: %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Fatalf("warn line missing: %q", out)
	}
}
