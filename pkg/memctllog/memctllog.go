// Package memctllog provides the structured logging used by the vtable
// finder and trap-hook subsystems — kept separate from pkg/merr's
// error stack, which is the *result* channel back to callers (spec §7),
// not a diagnostic log.
package memctllog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with the handful of call shapes this module's
// subsystems use: leveled messages plus loosely-typed key/value pairs,
// mirroring the call sites in vtablefinder/traphook.
type Logger struct {
	zl zerolog.Logger
}

// New returns a Logger writing to w at the given level, parsed by
// zerolog.ParseLevel ("debug", "info", "warn", "error", and the other names
// and numeric levels zerolog accepts); a string it rejects means info.
func New(w io.Writer, level string) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	l := zerolog.New(w).With().Timestamp().Logger().Level(parseLevel(level))
	return &Logger{zl: l}
}

// Default returns a Logger at info level writing to stderr, the shape the
// CLI entrypoint wires up when the user hasn't asked for anything fancier.
func Default() *Logger { return New(os.Stderr, "info") }

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func (l *Logger) event(e *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}

// Debug logs at debug level with alternating key/value pairs.
func (l *Logger) Debug(msg string, kv ...interface{}) { l.event(l.zl.Debug(), msg, kv) }

// Info logs at info level with alternating key/value pairs.
func (l *Logger) Info(msg string, kv ...interface{}) { l.event(l.zl.Info(), msg, kv) }

// Warn logs at warn level with alternating key/value pairs.
func (l *Logger) Warn(msg string, kv ...interface{}) { l.event(l.zl.Warn(), msg, kv) }

// Error logs at error level, attaching err, with alternating key/value
// pairs.
func (l *Logger) Error(err error, msg string, kv ...interface{}) {
	l.event(l.zl.Error().Err(err), msg, kv)
}

// With returns a child Logger with a persistent field attached to every
// log line it writes.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}
