// Package repair runs bounded auto-fix loops over generated scene source.
package repair

import "fmt"

// Error is returned when a repair loop is interrupted before it could spend
// its budget, for example because the run was canceled.
type Error struct {
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("repair error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("repair error: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}
