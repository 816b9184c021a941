package proxy

import "context"

// Action identifies which remote operation a request targets.
type Action string

const (
	ActionRead    Action = "read"
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDestroy Action = "destroy"
)

// Actions lists the closed set of supported actions.
var Actions = []Action{ActionRead, ActionCreate, ActionUpdate, ActionDestroy}

// Valid reports whether a is a member of the fixed action set.
func (a Action) Valid() bool {
	switch a {
	case ActionRead, ActionCreate, ActionUpdate, ActionDestroy:
		return true
	}
	return false
}

// IsWrite reports whether a mutates records.
func (a Action) IsWrite() bool {
	return a.Valid() && a != ActionRead
}

// ArgsBuilder derives the ordered positional argument list for a remote
// call from the request and the extracted record payloads. Returning nil
// means no arguments beyond the completion handler.
type ArgsBuilder func(req Request, payloads []map[string]any) []any

// RemoteFunc is a remote procedure: invoked with positional arguments and
// a completion handler, it must return immediately and deliver its
// outcome later through exactly one of the completion channels.
type RemoteFunc func(ctx context.Context, args []any, done *Completion)

// HandlerConfig configures one action binding.
type HandlerConfig struct {
	// Action this handler serves. Required, must be in the fixed set.
	Action Action

	// Remote is the function dispatched for the action. Required.
	Remote RemoteFunc

	// ArgsBuilder derives call arguments. Optional: when nil, read
	// actions send no arguments and write actions send the record
	// payload list as the single argument.
	ArgsBuilder ArgsBuilder
}

// ActionHandler binds one CRUD action to a remote function and the
// argument construction for its calls. Immutable after construction and
// owned by the adapter's action map.
type ActionHandler struct {
	action Action
	remote RemoteFunc
	args   ArgsBuilder
}

// NewActionHandler validates cfg and builds the handler, installing the
// per-action default args builder when none is supplied.
func NewActionHandler(cfg HandlerConfig) (*ActionHandler, error) {
	if cfg.Action == "" {
		return nil, &ConfigurationError{Field: "action", Reason: "missing"}
	}
	if !cfg.Action.Valid() {
		return nil, &ConfigurationError{Field: "action", Reason: "unrecognized action " + string(cfg.Action)}
	}
	if cfg.Remote == nil {
		return nil, &ConfigurationError{Field: "remote", Reason: "missing remote function"}
	}

	builder := cfg.ArgsBuilder
	if builder == nil {
		if cfg.Action == ActionRead {
			builder = defaultReadArgs
		} else {
			builder = defaultWriteArgs
		}
	}

	return &ActionHandler{
		action: cfg.Action,
		remote: cfg.Remote,
		args:   builder,
	}, nil
}

// Action returns the action this handler serves.
func (h *ActionHandler) Action() Action {
	return h.action
}

func defaultReadArgs(Request, []map[string]any) []any {
	return nil
}

func defaultWriteArgs(_ Request, payloads []map[string]any) []any {
	return []any{payloads}
}
