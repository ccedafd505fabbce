// Package logging provides the levelled structured logger used by the index
// and its node stores.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// Level represents the logging level.
type Level int

const (
	// LevelDebug is the most verbose level.
	LevelDebug Level = iota
	// LevelInfo is for informational messages.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages.
	LevelError
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel parses a string into a Level. Unknown names map to LevelInfo.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Format represents the log output format.
type Format int

const (
	// FormatText outputs logs in human-readable text format.
	FormatText Format = iota
	// FormatJSON outputs one JSON object per line.
	FormatJSON
)

// ParseFormat parses a string into a Format.
func ParseFormat(s string) Format {
	if s == "json" {
		return FormatJSON
	}
	return FormatText
}

// Logger is the interface for structured logging.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	// WithFields returns a new logger that adds the given pairs to every entry.
	WithFields(keysAndValues ...interface{}) Logger
}

type logger struct {
	level  Level
	format Format
	output io.Writer
	fields map[string]interface{}
	mu     *sync.Mutex
}

// NewWriter creates a Logger writing to w.
func NewWriter(w io.Writer, level Level, format Format) Logger {
	return &logger{
		level:  level,
		format: format,
		output: w,
		fields: make(map[string]interface{}),
		mu:     &sync.Mutex{},
	}
}

// NewNop creates a logger that discards all output.
func NewNop() Logger {
	return nopLogger{}
}

func (l *logger) Debug(msg string, keysAndValues ...interface{}) {
	l.log(LevelDebug, msg, keysAndValues...)
}

func (l *logger) Info(msg string, keysAndValues ...interface{}) {
	l.log(LevelInfo, msg, keysAndValues...)
}

func (l *logger) Warn(msg string, keysAndValues ...interface{}) {
	l.log(LevelWarn, msg, keysAndValues...)
}

func (l *logger) Error(msg string, keysAndValues ...interface{}) {
	l.log(LevelError, msg, keysAndValues...)
}

func (l *logger) WithFields(keysAndValues ...interface{}) Logger {
	fields := make(map[string]interface{}, len(l.fields)+len(keysAndValues)/2)
	for k, v := range l.fields {
		fields[k] = v
	}
	addPairs(fields, keysAndValues)
	// Children share the parent's mutex so interleaved writes stay whole.
	return &logger{
		level:  l.level,
		format: l.format,
		output: l.output,
		fields: fields,
		mu:     l.mu,
	}
}

func addPairs(dst map[string]interface{}, keysAndValues []interface{}) {
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			dst[key] = keysAndValues[i+1]
		}
	}
}

func (l *logger) log(level Level, msg string, keysAndValues ...interface{}) {
	if level < l.level {
		return
	}

	entry := make(map[string]interface{}, len(l.fields)+len(keysAndValues)/2+3)
	for k, v := range l.fields {
		entry[k] = v
	}
	addPairs(entry, keysAndValues)
	entry["ts"] = time.Now().UTC().Format(time.RFC3339)
	entry["level"] = level.String()
	entry["msg"] = msg

	var line string
	if l.format == FormatJSON {
		data, err := json.Marshal(entry)
		if err != nil {
			line = fmt.Sprintf(`{"ts":%q,"level":"error","msg":"failed to marshal log entry"}`, entry["ts"])
		} else {
			line = string(data)
		}
	} else {
		line = formatText(entry)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.output, line)
}

func formatText(entry map[string]interface{}) string {
	result := fmt.Sprintf("%s [%s] %s", entry["ts"], entry["level"], entry["msg"])

	keys := make([]string, 0, len(entry))
	for k := range entry {
		if k == "ts" || k == "level" || k == "msg" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		result += fmt.Sprintf(" %s=%v", k, entry[k])
	}
	return result
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})       {}
func (nopLogger) Info(string, ...interface{})        {}
func (nopLogger) Warn(string, ...interface{})        {}
func (nopLogger) Error(string, ...interface{})       {}
func (n nopLogger) WithFields(...interface{}) Logger { return n }
