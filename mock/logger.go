package mock

import (
	"fmt"
	"strings"
	"sync"
)

// Entry is one recorded log call.
type Entry struct {
	Level string
	Msg   string
	KV    []any
}

func (e Entry) String() string {
	return fmt.Sprintf("%s %s %v", e.Level, e.Msg, e.KV)
}

// Logger records log calls so tests can assert on warnings.
type Logger struct {
	mu      sync.Mutex
	entries []Entry
}

func (l *Logger) add(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Level: level, Msg: msg, KV: kv})
}

// Debug func
func (l *Logger) Debug(msg string, kv ...any) { l.add("debug", msg, kv) }

// Info func
func (l *Logger) Info(msg string, kv ...any) { l.add("info", msg, kv) }

// Warn func
func (l *Logger) Warn(msg string, kv ...any) { l.add("warn", msg, kv) }

// Error func
func (l *Logger) Error(msg string, kv ...any) { l.add("error", msg, kv) }

// Entries returns the recorded entries of the given level, all when level is empty.
func (l *Logger) Entries(level string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Entry
	for _, e := range l.entries {
		if level == "" || e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many entries of level contain substr in their message.
func (l *Logger) Count(level, substr string) int {
	n := 0
	for _, e := range l.Entries(level) {
		if strings.Contains(e.Msg, substr) {
			n++
		}
	}
	return n
}
