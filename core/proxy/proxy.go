// Package proxy implements the request/response translation layer that
// lets a data-bound record store perform CRUD through remote-procedure
// calls. An Adapter owns one ActionHandler per CRUD action; each
// PerformRequest call builds the remote call arguments, dispatches the
// handler's remote function, and translates the asynchronous outcome
// back into exactly one callback invocation plus one lifecycle
// notification.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/jrazmi/storeproxy/sdk/telemetry"
)

// Config configures an Adapter: one handler config per supported action.
type Config struct {
	Handlers map[Action]HandlerConfig
}

// options holds the internal runtime configuration
type options struct {
	logger   *slog.Logger
	notifier Notifier
	metrics  Metrics
}

// Option is a function that configures the adapter options
type Option func(*options)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithNotifier sets the lifecycle notification sink
func WithNotifier(notifier Notifier) Option {
	return func(o *options) {
		o.notifier = notifier
	}
}

// WithMetrics sets a custom metrics collector
func WithMetrics(metrics Metrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// Adapter routes CRUD requests from a record store to remote functions.
// The handler map is immutable after construction, so concurrent
// PerformRequest calls share no mutable state.
type Adapter struct {
	handlers map[Action]*ActionHandler
	log      *slog.Logger
	notifier Notifier
	metrics  Metrics
}

// NewAdapter builds an adapter from cfg. It fails when the handler map
// is absent or empty, or when any handler config is invalid.
func NewAdapter(cfg Config, opts ...Option) (*Adapter, error) {
	if len(cfg.Handlers) == 0 {
		return nil, &ConfigurationError{Field: "handlers", Reason: "missing or empty action handler map"}
	}

	internalOpts := &options{
		notifier: NopNotifier{},
		metrics:  NewNoOpMetrics(),
	}
	for _, opt := range opts {
		opt(internalOpts)
	}
	if internalOpts.logger == nil {
		internalOpts.logger = slog.Default()
	}

	handlers := make(map[Action]*ActionHandler, len(cfg.Handlers))
	for action, handlerCfg := range cfg.Handlers {
		if handlerCfg.Action == "" {
			handlerCfg.Action = action
		}
		if handlerCfg.Action != action {
			return nil, &ConfigurationError{
				Field:  "handlers",
				Reason: fmt.Sprintf("handler for %q configured with action %q", action, handlerCfg.Action),
			}
		}
		handler, err := NewActionHandler(handlerCfg)
		if err != nil {
			return nil, fmt.Errorf("building handler for %q: %w", action, err)
		}
		handlers[action] = handler
	}

	return &Adapter{
		handlers: handlers,
		log:      internalOpts.logger,
		notifier: internalOpts.notifier,
		metrics:  internalOpts.metrics,
	}, nil
}

// Handlers returns a copy of the action map. The host store uses this to
// discover which actions the adapter supports.
func (a *Adapter) Handlers() map[Action]*ActionHandler {
	out := make(map[Action]*ActionHandler, len(a.handlers))
	for action, handler := range a.handlers {
		out[action] = handler
	}
	return out
}

// GetMetrics returns a snapshot of the adapter's dispatch metrics.
func (a *Adapter) GetMetrics() MetricsSnapshot {
	return a.metrics.GetSnapshot()
}

// PerformRequest is the single entry point for every CRUD operation. It
// dispatches the remote call and returns immediately; the outcome
// arrives later through req.Callback, which fires exactly once.
//
// A nil error means the call was dispatched. A non-nil error means
// nothing was dispatched and the callback will never fire: an
// UnconfiguredActionError for an unregistered action, or a
// ConfigurationError for a request missing its reader or callback.
func (a *Adapter) PerformRequest(ctx context.Context, req Request) error {
	handler, ok := a.handlers[req.Action]
	if !ok {
		return &UnconfiguredActionError{Action: req.Action}
	}
	if err := req.validate(); err != nil {
		return fmt.Errorf("invalid request for %q: %w", req.Action, err)
	}

	ctx = telemetry.EnsureTraceID(ctx)
	req.id = uuid.NewString()
	req.trace = telemetry.GetTraceID(ctx)
	payloads := recordPayloads(req.Records)

	args := handler.args(req, payloads)

	started := time.Now()
	done := NewCompletion(
		func(payload any) {
			if req.Action.IsWrite() {
				a.writeSuccess(req, payload, started)
			} else {
				a.readSuccess(req, payload, started)
			}
		},
		func(message string, err error) {
			a.fault(req, message, err, started)
		},
	)

	a.metrics.RecordDispatch(req.Action)
	a.log.DebugContext(ctx, "dispatching remote call",
		"trace_id", req.trace,
		"request_id", req.id,
		"action", req.Action,
		"records", len(req.Records),
		"args", len(args))

	handler.remote(ctx, args, done)
	return nil
}

// readSuccess normalizes a success-channel payload for the read path.
func (a *Adapter) readSuccess(req Request, raw any, started time.Time) {
	block, err := req.Reader.ReadRecords(raw)
	if err != nil {
		a.fault(req, raw, err, started)
		return
	}

	if !block.Success {
		a.metrics.RecordSoftFailure(req.Action, time.Since(started))
		a.notify(req, func() {
			a.notifier.Exception(Exception{
				Kind:     ExceptionRemote,
				Action:   req.Action,
				Options:  req.Options,
				Response: raw,
			})
		})
	} else {
		a.metrics.RecordCompleted(req.Action, time.Since(started))
		a.notify(req, func() {
			a.notifier.Load(req, req.Options)
		})
	}

	// The callback fires regardless of the success flag; only the
	// notification above differs.
	a.invoke(req, block, req.Options, block.Success)
}

// writeSuccess normalizes a success-channel payload for the write paths.
func (a *Adapter) writeSuccess(req Request, raw any, started time.Time) {
	block, err := req.Reader.ReadResponse(string(req.Action), raw)
	if err != nil {
		a.fault(req, raw, err, started)
		return
	}

	if !block.Success {
		a.metrics.RecordSoftFailure(req.Action, time.Since(started))
		a.notify(req, func() {
			a.notifier.Exception(Exception{
				Kind:     ExceptionRemote,
				Action:   req.Action,
				Options:  req.Options,
				Response: raw,
				Records:  req.Records,
			})
		})
	} else {
		a.metrics.RecordCompleted(req.Action, time.Since(started))
		a.notify(req, func() {
			a.notifier.Write(req.Action, block.Records, block, req.Records, req.Options)
		})
	}

	// The raw response, not the data block, is the second callback
	// argument on the write path. Existing readers rely on this shape.
	a.invoke(req, block.Records, raw, block.Success)
}

// fault is the single terminal path for every failure: a fired fault
// channel or a reader parse error. It completes the callback with nil
// data and must never panic.
func (a *Adapter) fault(req Request, response any, err error, started time.Time) {
	a.metrics.RecordFault(req.Action, time.Since(started))
	a.log.Error("remote call failed",
		"trace_id", req.trace,
		"request_id", req.id,
		"action", req.Action,
		"error", err)

	a.notify(req, func() {
		a.notifier.Exception(Exception{
			Kind:     ExceptionResponse,
			Action:   req.Action,
			Options:  req.Options,
			Response: response,
			Err:      err,
		})
	})

	a.invoke(req, nil, req.Options, false)
}

// invoke runs the terminal callback with panic recovery. Completions
// fire on transport goroutines; a panicking callback must not take the
// transport down with it.
func (a *Adapter) invoke(req Request, data any, options any, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("panic recovered in request callback",
				"request_id", req.id,
				"action", req.Action,
				"panic", r,
				"stack_trace", string(debug.Stack()))
		}
	}()
	req.Callback(data, options, ok)
}

// notify emits one lifecycle notification with panic recovery.
func (a *Adapter) notify(req Request, emit func()) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("panic recovered in lifecycle notifier",
				"request_id", req.id,
				"action", req.Action,
				"panic", r,
				"stack_trace", string(debug.Stack()))
		}
	}()
	emit()
}
