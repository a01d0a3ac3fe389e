package worker

import (
	"errors"
	"fmt"
)

// kinded is implemented by errors that name their own kind in the task error
// string.
type kinded interface {
	Kind() string
}

// FormatError renders err as "{kind}: {message}". Errors that do not carry a
// kind are reported as "Error".
func FormatError(err error) string {
	kind := "Error"
	var k kinded
	if errors.As(err, &k) {
		kind = k.Kind()
	}
	return kind + ": " + err.Error()
}

// PanicError is a handler panic recovered at the task boundary.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}

func (e *PanicError) Kind() string { return "PanicError" }

// OrphanedError marks a task found stuck in processing.
type OrphanedError struct {
	StartedFor string
}

func (e *OrphanedError) Error() string {
	return "task left in processing for " + e.StartedFor
}

func (e *OrphanedError) Kind() string { return "OrphanedError" }
