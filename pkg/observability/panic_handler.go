package observability

import (
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with the stack trace.
//
// Intended for defer statements around code paths that must never raise
// to the caller, such as event ingestion:
//
//	func (e *Engine) Track(...) {
//	    defer observability.RecoverPanic(e.logger, "track")
//	    // ...
//	}
//
// After logging, the panic is NOT re-raised. The process keeps running
// with whatever state the panicking code left behind, so only use this
// where dropped work is acceptable.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}

// RecoverPanicWithCallback recovers from a panic, logs it, and then runs
// the callback regardless of whether a panic occurred. Useful when a
// worker goroutine owns a channel or lock that must be released.
func RecoverPanicWithCallback(logger *Logger, context string, callback func()) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
	if callback != nil {
		callback()
	}
}
