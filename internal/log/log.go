// Package log is a small leveled JSON line logger. Values whose keys look
// like credentials are redacted before the record is written.
package log

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

var levelNames = map[Level]string{Debug: "debug", Info: "info", Warn: "warn", Error: "error"}
var nameToLevel = map[string]Level{"debug": Debug, "info": Info, "warn": Warn, "error": Error}

type Logger struct {
	out    io.Writer
	level  Level
	fields map[string]string
	mu     sync.Mutex
}

// New builds a logger writing to stderr at the level given by
// SEMSEARCH_LOG_LEVEL (default info).
func New() *Logger {
	lvl := Info
	if v := strings.ToLower(os.Getenv("SEMSEARCH_LOG_LEVEL")); v != "" {
		if l, ok := nameToLevel[v]; ok {
			lvl = l
		}
	}
	return &Logger{out: os.Stderr, level: lvl, fields: make(map[string]string)}
}

// NewWriter builds a logger for tests with an explicit sink and level.
func NewWriter(out io.Writer, level Level) *Logger {
	return &Logger{out: out, level: level, fields: make(map[string]string)}
}

// With returns a child logger carrying extra constant fields.
func (l *Logger) With(kv map[string]string) *Logger {
	child := &Logger{out: l.out, level: l.level, fields: make(map[string]string, len(l.fields)+len(kv))}
	for k, v := range l.fields {
		child.fields[k] = v
	}
	for k, v := range kv {
		child.fields[k] = v
	}
	return child
}

func (l *Logger) write(level Level, msg string, kv []any) {
	if level < l.level {
		return
	}
	rec := make(map[string]any, 4+len(l.fields)+len(kv)/2)
	rec["ts"] = time.Now().Format(time.RFC3339)
	rec["level"] = levelNames[level]
	rec["msg"] = msg
	for k, v := range l.fields {
		rec[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		rec[k] = kv[i+1]
	}
	maskSecrets(rec)
	b, _ := json.Marshal(rec)
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(append(b, '\n'))
}

func (l *Logger) Debug(msg string, kv ...any) { l.write(Debug, msg, kv) }
func (l *Logger) Info(msg string, kv ...any)  { l.write(Info, msg, kv) }
func (l *Logger) Warn(msg string, kv ...any)  { l.write(Warn, msg, kv) }
func (l *Logger) Error(msg string, kv ...any) { l.write(Error, msg, kv) }

var secretKeyParts = []string{"key", "token", "secret", "password", "authorization", "dsn", "database_url"}

// maskSecrets redacts likely secret values in-place.
func maskSecrets(m map[string]any) {
	for k, v := range m {
		s, ok := v.(string)
		if !ok {
			continue
		}
		lowerK := strings.ToLower(k)
		for _, p := range secretKeyParts {
			if strings.Contains(lowerK, p) {
				m[k] = redact(s)
				break
			}
		}
	}
}

func redact(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***" + s[len(s)-4:]
}
