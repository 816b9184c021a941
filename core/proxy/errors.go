package proxy

import "fmt"

// ConfigurationError reports an invalid handler or adapter configuration.
// It is returned synchronously at construction time; a component that
// failed construction must not be used.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// UnconfiguredActionError reports a PerformRequest call targeting an
// action with no registered handler. This is a caller bug, surfaced
// immediately and never routed through the fault path.
type UnconfiguredActionError struct {
	Action Action
}

func (e *UnconfiguredActionError) Error() string {
	return fmt.Sprintf("no handler configured for action %q", e.Action)
}
