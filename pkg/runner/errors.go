package runner

import "fmt"

// ConfigurationError means bad case content reached the engine. It
// should not occur when the external validator did its job; it aborts
// the run before any execution.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// InfrastructureError means cache or output storage is unavailable.
// It aborts the run immediately; there is no partial output guarantee
// beyond whatever was already durably cached.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("infrastructure error during %s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}
