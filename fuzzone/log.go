package fuzzone

import "log"

// Logger wraps the standard logger with a verbosity gate: callers decide
// the level at construction time instead of a global flag, and Logf
// becomes a no-op below it.
type Logger struct {
	L     *log.Logger
	Level int
}

// NewLogger wraps log.Default() at the given verbosity.
func NewLogger(level int) *Logger {
	return &Logger{L: log.Default(), Level: level}
}

// Logf prints at level iff the logger's configured verbosity admits it,
// the same `if verbosity >= level { log.Printf(...) }` shape used
// elsewhere for gated diagnostics.
func (lg *Logger) Logf(level int, format string, args ...interface{}) {
	if lg == nil || lg.L == nil || lg.Level < level {
		return
	}
	lg.L.Printf(format, args...)
}
