package llm

import "fmt"

// GenerationError means the producer could not return usable scene source.
// It covers transport failures, empty replies and replies without the entry
// class.
type GenerationError struct {
	Message string
	Cause   error
}

func (e *GenerationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("code generation failed: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("code generation failed: %s", e.Message)
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}
