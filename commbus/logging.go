package commbus

import (
	"log"
)

// =============================================================================
// LOGGER IMPLEMENTATIONS
// =============================================================================

// nopLogger discards everything.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any)   {}
func (nopLogger) Info(string, ...any)    {}
func (nopLogger) Warning(string, ...any) {}
func (nopLogger) Error(string, ...any)   {}
func (l nopLogger) Bind(...any) Logger   { return l }

// NopLogger returns a Logger that discards all output.
func NopLogger() Logger {
	return nopLogger{}
}

// stdLogger implements Logger using the standard library log package.
// Bound key/value pairs are prepended to every record.
type stdLogger struct {
	bound []any
}

// NewStdLogger returns a Logger writing leveled records via log.Printf.
func NewStdLogger() Logger {
	return &stdLogger{}
}

func (l *stdLogger) log(level, msg string, args []any) {
	if len(l.bound) > 0 {
		args = append(append([]any{}, l.bound...), args...)
	}
	if len(args) == 0 {
		log.Printf("[%s] %s", level, msg)
		return
	}
	log.Printf("[%s] %s %v", level, msg, args)
}

func (l *stdLogger) Debug(msg string, args ...any)   { l.log("DEBUG", msg, args) }
func (l *stdLogger) Info(msg string, args ...any)    { l.log("INFO", msg, args) }
func (l *stdLogger) Warning(msg string, args ...any) { l.log("WARN", msg, args) }
func (l *stdLogger) Error(msg string, args ...any)   { l.log("ERROR", msg, args) }

// Bind returns a child logger carrying the given key/value pairs.
func (l *stdLogger) Bind(args ...any) Logger {
	child := &stdLogger{bound: make([]any, 0, len(l.bound)+len(args))}
	child.bound = append(child.bound, l.bound...)
	child.bound = append(child.bound, args...)
	return child
}
