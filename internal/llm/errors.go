package llm

import "fmt"

// ConfigurationError indicates missing or unusable provider configuration.
// It is fatal: construction fails and the process should not start.
type ConfigurationError struct {
	Reason string
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("llm configuration error: %s", e.Reason)
}

// ModelError wraps a transient completion-model failure so callers can
// distinguish "model down" from "nothing to say".
type ModelError struct {
	Model string
	Err   error
}

func (e ModelError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("completion model %s failed: %v", e.Model, e.Err)
	}
	return fmt.Sprintf("completion model failed: %v", e.Err)
}

func (e ModelError) Unwrap() error { return e.Err }
