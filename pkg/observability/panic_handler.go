package observability

import (
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with the stack trace.
// Used in defer statements around scheduler-triggered pipeline runs so a
// panicking run never takes down the scheduler loop.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}
