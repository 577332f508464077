// Package rlog provides the three logging streams used throughout the
// graph runtime, scene manager, and nodes: Ops (actionable lifecycle
// events and errors), Diag (day-to-day tuning/diagnostics), and Trace
// (high-frequency per-launch telemetry). Streams are configured
// independently so production deployments can keep Ops on while Trace
// stays dark; a stream with no writer makes its log calls free no-ops.
package rlog

import (
	"fmt"
	"io"
	"log"
	"sync"
)

// Level identifies a logging stream.
type Level int

const (
	// Ops routes actionable warnings, errors, and lifecycle events.
	Ops Level = iota
	// Diag routes day-to-day diagnostics: scene mutations, scheduler run
	// start/finish, cluster counts.
	Diag
	// Trace routes high-frequency per-run telemetry: per-launch ray counts,
	// GAS/IAS build decisions, filter counts.
	Trace

	levelCount
)

func (l Level) String() string {
	switch l {
	case Ops:
		return "ops"
	case Diag:
		return "diag"
	case Trace:
		return "trace"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// Writers configures all three streams at once. A nil field disables
// that stream.
type Writers struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// sinks is the single table of per-stream loggers. Every configuration
// and logging call indexes into it by Level.
var sinks = struct {
	sync.RWMutex
	loggers [levelCount]*log.Logger
}{}

// SetWriters configures all three logging streams at once.
func SetWriters(w Writers) {
	sinks.Lock()
	defer sinks.Unlock()
	for l, dst := range [levelCount]io.Writer{Ops: w.Ops, Diag: w.Diag, Trace: w.Trace} {
		sinks.loggers[l] = newSink(Level(l), dst)
	}
}

// SetWriter configures a single logging stream. Pass nil to disable it.
func SetWriter(level Level, w io.Writer) {
	if level < 0 || level >= levelCount {
		panic(fmt.Sprintf("rlog.SetWriter: unknown Level %d", level))
	}
	sinks.Lock()
	defer sinks.Unlock()
	sinks.loggers[level] = newSink(level, w)
}

func newSink(l Level, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, fmt.Sprintf("[raysim/%s] ", l), log.LstdFlags|log.Lmicroseconds)
}

// Logf writes to one stream, doing nothing when that stream has no
// writer. Opsf, Diagf, and Tracef are the conventional shorthands.
func Logf(level Level, format string, args ...any) {
	if level < 0 || level >= levelCount {
		return
	}
	sinks.RLock()
	l := sinks.loggers[level]
	sinks.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Opsf logs to the ops stream.
func Opsf(format string, args ...any) { Logf(Ops, format, args...) }

// Diagf logs to the diag stream.
func Diagf(format string, args ...any) { Logf(Diag, format, args...) }

// Tracef logs to the trace stream.
func Tracef(format string, args ...any) { Logf(Trace, format, args...) }
