package soapd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// LogLevel selects what the spec-mandated structured logger writes
// (spec.md §4.8).
type LogLevel int

const (
	// LogNone writes nothing.
	LogNone LogLevel = iota
	// LogFaults writes only fault lines.
	LogFaults
	// LogEvery writes one line per request plus fault lines.
	LogEvery
)

// internal severities for non-request log lines (admission, suspend,
// transport errors); distinct from LogLevel, which gates request/fault
// lines only.
type severity int

const (
	logInfo severity = iota
	logWarn
	logError
)

// Logger is the append-only, level-filtered, explicitly-flushed writer of
// spec.md §4.8. It is safe for concurrent use: each line is written whole
// under a mutex. Lines of different requests can interleave, so the
// request line and fault line of one request are not always adjacent.
//
// Grounded on getmockd/mockd's pkg/logging Config{Level,Format,Output}
// shape for the ambient slog-based side; the append-file/flush mechanics
// are new, fitted to spec.md's exact line format.
type Logger struct {
	mu    sync.Mutex
	file  *os.File
	level LogLevel
	slog  *slog.Logger
}

// NewLogger opens path in append mode (creating it if necessary) and
// returns a Logger at the given level.
func NewLogger(path string, level LogLevel) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &TransportError{Op: "open log file", Err: err}
	}
	l := &Logger{file: f, level: level}
	l.slog = slog.New(slog.NewTextHandler(f, nil))
	return l, nil
}

// NewDiscardLogger returns a Logger that writes nowhere, for servers that
// don't configure a log file.
func NewDiscardLogger() *Logger {
	return &Logger{level: LogNone, slog: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// Slog returns a *slog.Logger backed by the same file, for ambient
// diagnostic logging (connection accept/reject, pool assignment, TLS
// failures) alongside the spec-mandated request/fault lines.
func (l *Logger) Slog() *slog.Logger {
	if l.slog == nil {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return l.slog
}

// Flush fsyncs the log file (spec.md §4.8 "flush() is explicit").
func (l *Logger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Sync()
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// line writes one structured per-request log line per spec.md §4.8's
// format: "<ISO-timestamp> <level> <verb> <method> [-- <detail>]".
func (l *Logger) line(level, verb, method, detail string) {
	if l.file == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	if detail != "" {
		fmt.Fprintf(l.file, "%s %s %s %s -- %s\n", ts, level, verb, method, detail)
	} else {
		fmt.Fprintf(l.file, "%s %s %s %s\n", ts, level, verb, method)
	}
}

// LogRequest writes an INFO line for every request when level == LogEvery.
func (l *Logger) LogRequest(verb, method string) {
	if l.level == LogEvery {
		l.line("INFO", verb, method, "")
	}
}

// LogFault writes a fault line (code/string/actor/detail) when
// level >= LogFaults.
func (l *Logger) LogFault(verb, method string, f *Fault) {
	if l.level == LogNone {
		return
	}
	detail := fmt.Sprintf("code=%s string=%q actor=%q", f.Code, f.String, f.Actor)
	if f.Detail != nil {
		detail += fmt.Sprintf(" detail=%q", f.Detail.Text)
	}
	l.line("FAULT", verb, method, detail)
}

// LogError writes an ERROR line unconditionally (admission rejection,
// transport failure) — these are operational events, not gated by the
// request-logging level.
func (l *Logger) LogError(verb, method, detail string) {
	l.line("ERROR", verb, method, detail)
}

// log is the Server's internal convenience used by non-request events
// (admission, suspend/resume, TLS handshake failures).
func (s *Server) log(sev severity, verb, method, detail string) {
	if s.Logger == nil {
		return
	}
	switch sev {
	case logError:
		s.Logger.LogError(verb, method, detail)
	case logWarn:
		s.Logger.Slog().Warn(detail)
	default:
		s.Logger.Slog().Info(detail)
	}
}
