package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &rec); err != nil {
		t.Fatalf("bad log line %q: %v", lines[len(lines)-1], err)
	}
	return rec
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	lg := NewWriter(&buf, Warn)
	lg.Info("ignored")
	if buf.Len() != 0 {
		t.Fatalf("info leaked below warn: %s", buf.String())
	}
	lg.Error("kept")
	rec := lastRecord(t, &buf)
	if rec["msg"] != "kept" || rec["level"] != "error" {
		t.Fatalf("record: %v", rec)
	}
}

func TestSecretMasking(t *testing.T) {
	var buf bytes.Buffer
	lg := NewWriter(&buf, Debug)
	lg.Info("db.connect",
		"database_url", "postgres://user:hunter2pass@db:5432/items",
		"api_token", "sk-abcdefghijklmnop",
		"path", "/search",
	)
	rec := lastRecord(t, &buf)
	for _, key := range []string{"database_url", "api_token"} {
		v, _ := rec[key].(string)
		if !strings.Contains(v, "***") {
			t.Errorf("%s not redacted: %q", key, v)
		}
	}
	if strings.Contains(buf.String(), "hunter2pass") {
		t.Error("password survived masking")
	}
	if rec["path"] != "/search" {
		t.Errorf("non-secret field mangled: %v", rec["path"])
	}
}

func TestShortSecretFullyMasked(t *testing.T) {
	if got := redact("tiny"); got != "***" {
		t.Fatalf("redact short = %q", got)
	}
	if got := redact("sk-abcdefghijklmnop"); got != "sk-a***mnop" {
		t.Fatalf("redact long = %q", got)
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	lg := NewWriter(&buf, Info).With(map[string]string{"component": "pipeline"})
	lg.Info("update.done", "id", "42")
	rec := lastRecord(t, &buf)
	if rec["component"] != "pipeline" || rec["id"] != "42" {
		t.Fatalf("record: %v", rec)
	}
}
