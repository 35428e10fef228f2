// ABOUTME: Tests for logging helpers
// ABOUTME: Checks field tagging through a structured JSON logger
package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		entry := map[string]any{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestWithHelpersTagFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewStructured(&buf)

	WithStream(base, "s-1", 3).Info("stream event")
	WithClient(base, "c-1", "kitchen", "watcher").Info("client event")
	WithSource(base, "mjpeg").Info("source event")

	entries := decodeLines(t, &buf)
	if len(entries) != 3 {
		t.Fatalf("expected 3 log lines, got %d: %s", len(entries), buf.String())
	}

	checks := []struct {
		entry int
		key   string
		want  any
	}{
		{0, KeyStream, "s-1"},
		{0, KeyEpoch, float64(3)},
		{1, KeyClient, "c-1"},
		{1, KeyName, "kitchen"},
		{1, KeyRole, "watcher"},
		{2, KeySource, "mjpeg"},
	}
	for _, c := range checks {
		if got := entries[c.entry][c.key]; got != c.want {
			t.Errorf("entry %d field %q = %v, want %v", c.entry, c.key, got, c.want)
		}
	}
}

func TestOrDefaultNeverNil(t *testing.T) {
	if OrDefault(nil) == nil {
		t.Fatal("expected a fallback logger")
	}
	OrDefault(Discard()).Info("discarded")
	WithStream(nil, "s", 1).Debug("no panic")
}
