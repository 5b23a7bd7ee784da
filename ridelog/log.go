// Package ridelog is the runtime's small logging shim. It intentionally
// wraps the standard library's log.Logger rather than reaching for a
// structured logging framework: nothing in the retrieved example corpus
// pulls in one either (elvish's own logutil package is the same kind of
// thin wrapper around log.Logger), so a hand-rolled interface here matches
// the ecosystem norm rather than working around it.
package ridelog

import (
	"io"
	"log"
	"os"
)

// Logger is the minimal surface the core needs to report unhandled errors.
type Logger interface {
	Errorf(format string, args ...any)
}

type stdLogger struct {
	l *log.Logger
}

// Errorf implements Logger.
func (s *stdLogger) Errorf(format string, args ...any) {
	s.l.Printf(format, args...)
}

// New wraps an arbitrary io.Writer with the given prefix.
func New(w io.Writer, prefix string) Logger {
	return &stdLogger{l: log.New(w, prefix+": ", log.LstdFlags)}
}

// Default returns a Logger writing to stderr, tagged with prefix.
func Default(prefix string) Logger {
	return New(os.Stderr, prefix)
}

// Discard is a Logger that ignores everything, for tests that don't want
// error output on stdout/stderr.
var Discard Logger = &stdLogger{l: log.New(io.Discard, "", 0)}
