package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLevelThreshold(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(Options{Level: "warn", Output: &buf})

	l.logf(infoLevel, "hidden %d", 1)
	l.logf(warnLevel, "shown %d", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, " WARN ") || !strings.Contains(out, "shown 2") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(Options{Format: "JSON", Output: &buf})
	l.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	l.logf(errorLevel, "event=test status=%s", "failed")

	var payload map[string]string
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &payload); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if payload["level"] != "ERROR" {
		t.Errorf("level = %q, want ERROR", payload["level"])
	}
	if payload["msg"] != "event=test status=failed" {
		t.Errorf("msg = %q", payload["msg"])
	}
	if payload["time"] != "2026-03-01T12:00:00Z" {
		t.Errorf("time = %q", payload["time"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]level{
		"debug":   debugLevel,
		"WARNING": warnLevel,
		"error":   errorLevel,
		"":        infoLevel,
		"bogus":   infoLevel,
	}
	for raw, want := range tests {
		if got := parseLevel(raw); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestFileRotationKeepsBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.log")
	l := newLogger(Options{Output: &bytes.Buffer{}, FilePath: path, MaxBackups: 2})
	l.file.maxBytes = 64
	tick := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.file.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	for i := 0; i < 8; i++ {
		l.logf(infoLevel, "line number %d with some padding", i)
	}
	_ = l.file.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 3 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("want active file plus 2 backups, got %v", names)
	}
}

func TestBackupName(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	got, err := backupName(filepath.Join(dir, "client.log"), now)
	if err != nil {
		t.Fatalf("backupName: %v", err)
	}
	want := filepath.Join(dir, "client-20260102T030405.001.log")
	if got != want {
		t.Errorf("backupName = %q, want %q", got, want)
	}
}
