package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanicWithCallback recovers from a panic and logs it with the stack
// trace. Call it deferred. callback runs only when a panic was recovered.
func RecoverPanicWithCallback(logger *Logger, component string, callback func(recovered interface{})) {
	if r := recover(); r != nil {
		logPanic(logger, component, r)
		if callback != nil {
			callback(r)
		}
	}
}

// PanicError converts a recovered value into an error; nil stays nil
func PanicError(r interface{}) error {
	if r == nil {
		return nil
	}
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}

func logPanic(logger *Logger, component string, r interface{}) {
	logger.WithField("panic", fmt.Sprint(r)).
		WithField("stack", string(debug.Stack())).
		WithField("component", component).
		Error("PANIC recovered")
}
