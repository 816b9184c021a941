package proxy_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jrazmi/storeproxy/core/proxy"
	"github.com/jrazmi/storeproxy/core/reader"
	"github.com/jrazmi/storeproxy/sdk/logger"
)

// ============================================================================
// Stubbed Collaborators
// ============================================================================

type stubRecord struct {
	fields map[string]any
}

func (r stubRecord) Data() map[string]any {
	return r.fields
}

// stubReader lets each test control parse results per path.
type stubReader struct {
	readRecordsFunc  func(raw any) (reader.DataBlock, error)
	readResponseFunc func(action string, raw any) (reader.DataBlock, error)
}

func (s *stubReader) ReadRecords(raw any) (reader.DataBlock, error) {
	if s.readRecordsFunc != nil {
		return s.readRecordsFunc(raw)
	}
	return reader.DataBlock{Success: true, Raw: raw}, nil
}

func (s *stubReader) ReadResponse(action string, raw any) (reader.DataBlock, error) {
	if s.readResponseFunc != nil {
		return s.readResponseFunc(action, raw)
	}
	return reader.DataBlock{Success: true, Raw: raw}, nil
}

// recordingNotifier captures every lifecycle notification.
type recordingNotifier struct {
	mu         sync.Mutex
	loads      []proxy.Request
	writes     []writeEvent
	exceptions []proxy.Exception
}

type writeEvent struct {
	action   proxy.Action
	records  []map[string]any
	block    reader.DataBlock
	outgoing []proxy.Record
	options  any
}

func (n *recordingNotifier) Load(req proxy.Request, options any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.loads = append(n.loads, req)
}

func (n *recordingNotifier) Write(action proxy.Action, records []map[string]any, block reader.DataBlock, outgoing []proxy.Record, options any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.writes = append(n.writes, writeEvent{
		action:   action,
		records:  records,
		block:    block,
		outgoing: outgoing,
		options:  options,
	})
}

func (n *recordingNotifier) Exception(ex proxy.Exception) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.exceptions = append(n.exceptions, ex)
}

func (n *recordingNotifier) snapshot() (loads int, writes []writeEvent, exceptions []proxy.Exception) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.loads), append([]writeEvent(nil), n.writes...), append([]proxy.Exception(nil), n.exceptions...)
}

// capture collects callback invocations.
type capture struct {
	mu    sync.Mutex
	calls []callbackCall
}

type callbackCall struct {
	data    any
	options any
	ok      bool
}

func (c *capture) callback(data any, options any, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, callbackCall{data: data, options: options, ok: ok})
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *capture) last(t *testing.T) callbackCall {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		t.Fatal("callback never fired")
	}
	return c.calls[len(c.calls)-1]
}

func resolveWith(payload any) proxy.RemoteFunc {
	return func(ctx context.Context, args []any, done *proxy.Completion) {
		done.Resolve(payload)
	}
}

func rejectWith(message string, err error) proxy.RemoteFunc {
	return func(ctx context.Context, args []any, done *proxy.Completion) {
		done.Reject(message, err)
	}
}

func newTestAdapter(t *testing.T, cfg proxy.Config, notifier proxy.Notifier) *proxy.Adapter {
	t.Helper()
	adapter, err := proxy.NewAdapter(cfg,
		proxy.WithLogger(logger.NewDefault(logger.WithLevel("ERROR")).Logger),
		proxy.WithNotifier(notifier),
		proxy.WithMetrics(proxy.NewInMemoryMetrics()))
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	return adapter
}

// ============================================================================
// Handler Construction
// ============================================================================

func TestNewActionHandlerValidation(t *testing.T) {
	remote := resolveWith(nil)

	tests := []struct {
		name string
		cfg  proxy.HandlerConfig
	}{
		{name: "missing action", cfg: proxy.HandlerConfig{Remote: remote}},
		{name: "unrecognized action", cfg: proxy.HandlerConfig{Action: "patch", Remote: remote}},
		{name: "missing remote function", cfg: proxy.HandlerConfig{Action: proxy.ActionRead}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := proxy.NewActionHandler(tt.cfg)
			var cfgErr *proxy.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
		})
	}
}

func TestNewActionHandlerValidActions(t *testing.T) {
	for _, action := range proxy.Actions {
		handler, err := proxy.NewActionHandler(proxy.HandlerConfig{
			Action: action,
			Remote: resolveWith(nil),
		})
		if err != nil {
			t.Fatalf("action %q: %v", action, err)
		}
		if handler.Action() != action {
			t.Fatalf("action %q: handler reports %q", action, handler.Action())
		}
	}
}

func TestActionClassification(t *testing.T) {
	if proxy.ActionRead.IsWrite() {
		t.Error("read must not classify as a write")
	}
	for _, action := range []proxy.Action{proxy.ActionCreate, proxy.ActionUpdate, proxy.ActionDestroy} {
		if !action.IsWrite() {
			t.Errorf("%s must classify as a write", action)
		}
	}
	if proxy.Action("drop").IsWrite() {
		t.Error("unrecognized action must not classify as a write")
	}
	if !proxy.ActionRead.Valid() || proxy.Action("drop").Valid() {
		t.Error("action validity misclassified")
	}
}

// ============================================================================
// Adapter Construction
// ============================================================================

func TestNewAdapterRequiresHandlers(t *testing.T) {
	for _, cfg := range []proxy.Config{
		{},
		{Handlers: map[proxy.Action]proxy.HandlerConfig{}},
	} {
		_, err := proxy.NewAdapter(cfg)
		var cfgErr *proxy.ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigurationError, got %v", err)
		}
	}
}

func TestNewAdapterPropagatesHandlerErrors(t *testing.T) {
	_, err := proxy.NewAdapter(proxy.Config{
		Handlers: map[proxy.Action]proxy.HandlerConfig{
			proxy.ActionRead: {}, // no remote function
		},
	})
	var cfgErr *proxy.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestNewAdapterRejectsMismatchedActionKey(t *testing.T) {
	_, err := proxy.NewAdapter(proxy.Config{
		Handlers: map[proxy.Action]proxy.HandlerConfig{
			proxy.ActionRead: {Action: proxy.ActionCreate, Remote: resolveWith(nil)},
		},
	})
	var cfgErr *proxy.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestHandlersAccessor(t *testing.T) {
	adapter := newTestAdapter(t, proxy.Config{
		Handlers: map[proxy.Action]proxy.HandlerConfig{
			proxy.ActionRead:   {Remote: resolveWith(nil)},
			proxy.ActionCreate: {Remote: resolveWith(nil)},
		},
	}, &recordingNotifier{})

	handlers := adapter.Handlers()
	if len(handlers) != 2 {
		t.Fatalf("expected 2 handlers, got %d", len(handlers))
	}

	// The accessor hands out a copy; mutating it must not affect the adapter.
	delete(handlers, proxy.ActionRead)
	if len(adapter.Handlers()) != 2 {
		t.Fatal("adapter handler map mutated through accessor")
	}
}

// ============================================================================
// Dispatch
// ============================================================================

func TestPerformRequestUnconfiguredAction(t *testing.T) {
	var dispatched atomic.Int32
	adapter := newTestAdapter(t, proxy.Config{
		Handlers: map[proxy.Action]proxy.HandlerConfig{
			proxy.ActionRead: {Remote: func(ctx context.Context, args []any, done *proxy.Completion) {
				dispatched.Add(1)
				done.Resolve(nil)
			}},
		},
	}, &recordingNotifier{})

	cb := &capture{}
	err := adapter.PerformRequest(context.Background(), proxy.Request{
		Action:   proxy.ActionDestroy,
		Reader:   &stubReader{},
		Callback: cb.callback,
	})

	var unconfigured *proxy.UnconfiguredActionError
	if !errors.As(err, &unconfigured) {
		t.Fatalf("expected UnconfiguredActionError, got %v", err)
	}
	if unconfigured.Action != proxy.ActionDestroy {
		t.Fatalf("error carries action %q", unconfigured.Action)
	}
	if dispatched.Load() != 0 {
		t.Fatal("remote function invoked for unconfigured action")
	}
	if cb.count() != 0 {
		t.Fatal("callback fired for unconfigured action")
	}
}

func TestPerformRequestValidatesRequest(t *testing.T) {
	adapter := newTestAdapter(t, proxy.Config{
		Handlers: map[proxy.Action]proxy.HandlerConfig{
			proxy.ActionRead: {Remote: resolveWith(nil)},
		},
	}, &recordingNotifier{})

	err := adapter.PerformRequest(context.Background(), proxy.Request{
		Action: proxy.ActionRead,
		Reader: &stubReader{},
		// no callback
	})
	var cfgErr *proxy.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestDefaultReadArgsAreEmpty(t *testing.T) {
	var got []any
	var gotSet bool
	adapter := newTestAdapter(t, proxy.Config{
		Handlers: map[proxy.Action]proxy.HandlerConfig{
			proxy.ActionRead: {Remote: func(ctx context.Context, args []any, done *proxy.Completion) {
				got, gotSet = args, true
				done.Resolve(map[string]any{})
			}},
		},
	}, &recordingNotifier{})

	cb := &capture{}
	if err := adapter.PerformRequest(context.Background(), proxy.Request{
		Action:   proxy.ActionRead,
		Params:   map[string]any{"start": 0, "limit": 25},
		Reader:   &stubReader{},
		Callback: cb.callback,
	}); err != nil {
		t.Fatalf("PerformRequest: %v", err)
	}

	if !gotSet {
		t.Fatal("remote function never invoked")
	}
	if len(got) != 0 {
		t.Fatalf("expected empty argument list, got %v", got)
	}
}

func TestDefaultWriteArgsArePayloads(t *testing.T) {
	var got []any
	adapter := newTestAdapter(t, proxy.Config{
		Handlers: map[proxy.Action]proxy.HandlerConfig{
			proxy.ActionCreate: {Remote: func(ctx context.Context, args []any, done *proxy.Completion) {
				got = args
				done.Resolve(map[string]any{})
			}},
		},
	}, &recordingNotifier{})

	records := []proxy.Record{
		stubRecord{fields: map[string]any{"id": 1, "name": "first"}},
		stubRecord{fields: map[string]any{"id": 2, "name": "second"}},
	}

	cb := &capture{}
	if err := adapter.PerformRequest(context.Background(), proxy.Request{
		Action:   proxy.ActionCreate,
		Records:  records,
		Reader:   &stubReader{},
		Callback: cb.callback,
	}); err != nil {
		t.Fatalf("PerformRequest: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected exactly [payloads], got %d args", len(got))
	}
	payloads, ok := got[0].([]map[string]any)
	if !ok {
		t.Fatalf("expected payload list, got %T", got[0])
	}
	if len(payloads) != 2 || payloads[0]["name"] != "first" || payloads[1]["name"] != "second" {
		t.Fatalf("unexpected payloads %v", payloads)
	}
}

func TestCustomArgsBuilderOrdering(t *testing.T) {
	var got []any
	adapter := newTestAdapter(t, proxy.Config{
		Handlers: map[proxy.Action]proxy.HandlerConfig{
			proxy.ActionDestroy: {
				Remote: func(ctx context.Context, args []any, done *proxy.Completion) {
					got = args
					done.Resolve(map[string]any{})
				},
				ArgsBuilder: func(req proxy.Request, payloads []map[string]any) []any {
					return []any{payloads, "user", "pass"}
				},
			},
		},
	}, &recordingNotifier{})

	cb := &capture{}
	if err := adapter.PerformRequest(context.Background(), proxy.Request{
		Action:   proxy.ActionDestroy,
		Records:  []proxy.Record{stubRecord{fields: map[string]any{"id": 7}}},
		Reader:   &stubReader{},
		Callback: cb.callback,
	}); err != nil {
		t.Fatalf("PerformRequest: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 arguments, got %d", len(got))
	}
	if got[1] != "user" || got[2] != "pass" {
		t.Fatalf("argument order not preserved: %v", got)
	}
}

// ============================================================================
// Read Path
// ============================================================================

func TestReadSuccess(t *testing.T) {
	raw := map[string]any{"success": true, "rows": []any{map[string]any{"id": 1}}}
	notifier := &recordingNotifier{}
	adapter := newTestAdapter(t, proxy.Config{
		Handlers: map[proxy.Action]proxy.HandlerConfig{
			proxy.ActionRead: {Remote: resolveWith(raw)},
		},
	}, notifier)

	cb := &capture{}
	options := map[string]any{"page": 1}
	if err := adapter.PerformRequest(context.Background(), proxy.Request{
		Action: proxy.ActionRead,
		Reader: &stubReader{
			readRecordsFunc: func(got any) (reader.DataBlock, error) {
				return reader.DataBlock{
					Success: true,
					Records: []map[string]any{{"id": 1}},
					Total:   1,
					Raw:     got,
				}, nil
			},
		},
		Callback: cb.callback,
		Options:  options,
	}); err != nil {
		t.Fatalf("PerformRequest: %v", err)
	}

	call := cb.last(t)
	block, ok := call.data.(reader.DataBlock)
	if !ok {
		t.Fatalf("expected DataBlock, got %T", call.data)
	}
	if !block.Success || len(block.Records) != 1 || block.Records[0]["id"] != 1 {
		t.Fatalf("unexpected block %+v", block)
	}
	if !call.ok {
		t.Fatal("success flag not propagated")
	}

	loads, _, exceptions := notifier.snapshot()
	if loads != 1 {
		t.Fatalf("expected one load notification, got %d", loads)
	}
	if len(exceptions) != 0 {
		t.Fatalf("unexpected exceptions %v", exceptions)
	}
}

func TestReadSoftFailure(t *testing.T) {
	raw := map[string]any{"success": false}
	notifier := &recordingNotifier{}
	adapter := newTestAdapter(t, proxy.Config{
		Handlers: map[proxy.Action]proxy.HandlerConfig{
			proxy.ActionRead: {Remote: resolveWith(raw)},
		},
	}, notifier)

	cb := &capture{}
	if err := adapter.PerformRequest(context.Background(), proxy.Request{
		Action: proxy.ActionRead,
		Reader: &stubReader{
			readRecordsFunc: func(got any) (reader.DataBlock, error) {
				return reader.DataBlock{Success: false, Raw: got}, nil
			},
		},
		Callback: cb.callback,
	}); err != nil {
		t.Fatalf("PerformRequest: %v", err)
	}

	call := cb.last(t)
	if call.ok {
		t.Fatal("expected successFlag=false")
	}
	if _, ok := call.data.(reader.DataBlock); !ok {
		t.Fatalf("soft failure must still deliver the data block, got %T", call.data)
	}

	loads, _, exceptions := notifier.snapshot()
	if loads != 0 {
		t.Fatal("load notification emitted for soft failure")
	}
	if len(exceptions) != 1 || exceptions[0].Kind != proxy.ExceptionRemote {
		t.Fatalf("expected one remote exception, got %v", exceptions)
	}
	if exceptions[0].Err != nil {
		t.Fatalf("remote exception must carry nil error, got %v", exceptions[0].Err)
	}
}

func TestReadParseErrorRoutesToFault(t *testing.T) {
	raw := "not json"
	parseErr := errors.New("bad payload")
	notifier := &recordingNotifier{}
	adapter := newTestAdapter(t, proxy.Config{
		Handlers: map[proxy.Action]proxy.HandlerConfig{
			proxy.ActionRead: {Remote: resolveWith(raw)},
		},
	}, notifier)

	cb := &capture{}
	options := "opaque"
	if err := adapter.PerformRequest(context.Background(), proxy.Request{
		Action: proxy.ActionRead,
		Reader: &stubReader{
			readRecordsFunc: func(any) (reader.DataBlock, error) {
				return reader.DataBlock{}, parseErr
			},
		},
		Callback: cb.callback,
		Options:  options,
	}); err != nil {
		t.Fatalf("PerformRequest: %v", err)
	}

	call := cb.last(t)
	if call.data != nil || call.options != options || call.ok {
		t.Fatalf("expected (nil, options, false), got %+v", call)
	}

	loads, _, exceptions := notifier.snapshot()
	if loads != 0 {
		t.Fatal("load notification emitted for parse failure")
	}
	if len(exceptions) != 1 {
		t.Fatalf("expected one exception, got %d", len(exceptions))
	}
	ex := exceptions[0]
	if ex.Kind != proxy.ExceptionResponse {
		t.Fatalf("expected response exception, got %q", ex.Kind)
	}
	if ex.Response != raw {
		t.Fatalf("exception must carry the raw response, got %v", ex.Response)
	}
	if !errors.Is(ex.Err, parseErr) {
		t.Fatalf("exception must carry the parse error, got %v", ex.Err)
	}
}

// ============================================================================
// Write Path
// ============================================================================

func TestWriteSuccessPassesRawResponse(t *testing.T) {
	raw := map[string]any{"success": true, "rows": []any{map[string]any{"id": 9}}}
	notifier := &recordingNotifier{}
	adapter := newTestAdapter(t, proxy.Config{
		Handlers: map[proxy.Action]proxy.HandlerConfig{
			proxy.ActionUpdate: {Remote: resolveWith(raw)},
		},
	}, notifier)

	outgoing := []proxy.Record{stubRecord{fields: map[string]any{"id": 9, "name": "renamed"}}}
	parsed := []map[string]any{{"id": 9, "name": "renamed"}}

	cb := &capture{}
	if err := adapter.PerformRequest(context.Background(), proxy.Request{
		Action:  proxy.ActionUpdate,
		Records: outgoing,
		Reader: &stubReader{
			readResponseFunc: func(action string, got any) (reader.DataBlock, error) {
				if action != string(proxy.ActionUpdate) {
					t.Fatalf("reader received action %q", action)
				}
				return reader.DataBlock{Success: true, Records: parsed, Total: 1, Raw: got}, nil
			},
		},
		Callback: cb.callback,
	}); err != nil {
		t.Fatalf("PerformRequest: %v", err)
	}

	call := cb.last(t)
	records, ok := call.data.([]map[string]any)
	if !ok || len(records) != 1 || records[0]["id"] != 9 {
		t.Fatalf("expected parsed records, got %v", call.data)
	}
	// Write path hands back the raw response, not the request options.
	if fmt.Sprintf("%v", call.options) != fmt.Sprintf("%v", raw) {
		t.Fatalf("expected raw response as second argument, got %v", call.options)
	}
	if !call.ok {
		t.Fatal("success flag not propagated")
	}

	_, writes, exceptions := notifier.snapshot()
	if len(writes) != 1 {
		t.Fatalf("expected one write notification, got %d", len(writes))
	}
	if writes[0].action != proxy.ActionUpdate || len(writes[0].outgoing) != 1 {
		t.Fatalf("unexpected write event %+v", writes[0])
	}
	if len(exceptions) != 0 {
		t.Fatalf("unexpected exceptions %v", exceptions)
	}
}

func TestWriteSoftFailureCarriesOutgoingRecords(t *testing.T) {
	raw := map[string]any{"success": false}
	notifier := &recordingNotifier{}
	adapter := newTestAdapter(t, proxy.Config{
		Handlers: map[proxy.Action]proxy.HandlerConfig{
			proxy.ActionCreate: {Remote: resolveWith(raw)},
		},
	}, notifier)

	outgoing := []proxy.Record{stubRecord{fields: map[string]any{"name": "new"}}}

	cb := &capture{}
	if err := adapter.PerformRequest(context.Background(), proxy.Request{
		Action:  proxy.ActionCreate,
		Records: outgoing,
		Reader: &stubReader{
			readResponseFunc: func(string, any) (reader.DataBlock, error) {
				return reader.DataBlock{Success: false}, nil
			},
		},
		Callback: cb.callback,
	}); err != nil {
		t.Fatalf("PerformRequest: %v", err)
	}

	if cb.last(t).ok {
		t.Fatal("expected successFlag=false")
	}

	_, writes, exceptions := notifier.snapshot()
	if len(writes) != 0 {
		t.Fatal("write notification emitted for soft failure")
	}
	if len(exceptions) != 1 || exceptions[0].Kind != proxy.ExceptionRemote {
		t.Fatalf("expected one remote exception, got %v", exceptions)
	}
	if len(exceptions[0].Records) != 1 {
		t.Fatal("remote exception must carry the outgoing records")
	}
}

// ============================================================================
// Fault Channel
// ============================================================================

func TestFaultChannel(t *testing.T) {
	faultErr := errors.New("connection refused")
	notifier := &recordingNotifier{}
	adapter := newTestAdapter(t, proxy.Config{
		Handlers: map[proxy.Action]proxy.HandlerConfig{
			proxy.ActionRead: {Remote: rejectWith("timeout", faultErr)},
		},
	}, notifier)

	cb := &capture{}
	options := 42
	if err := adapter.PerformRequest(context.Background(), proxy.Request{
		Action:   proxy.ActionRead,
		Reader:   &stubReader{},
		Callback: cb.callback,
		Options:  options,
	}); err != nil {
		t.Fatalf("PerformRequest: %v", err)
	}

	call := cb.last(t)
	if call.data != nil || call.options != options || call.ok {
		t.Fatalf("expected (nil, options, false), got %+v", call)
	}

	_, _, exceptions := notifier.snapshot()
	if len(exceptions) != 1 {
		t.Fatalf("expected one exception, got %d", len(exceptions))
	}
	ex := exceptions[0]
	if ex.Kind != proxy.ExceptionResponse || ex.Response != "timeout" || !errors.Is(ex.Err, faultErr) {
		t.Fatalf("unexpected exception %+v", ex)
	}
}

// ============================================================================
// Exactly-Once Semantics
// ============================================================================

func TestCompletionFiresExactlyOnce(t *testing.T) {
	notifier := &recordingNotifier{}
	adapter := newTestAdapter(t, proxy.Config{
		Handlers: map[proxy.Action]proxy.HandlerConfig{
			proxy.ActionRead: {Remote: func(ctx context.Context, args []any, done *proxy.Completion) {
				// A misbehaving transport fires both channels, twice each.
				done.Resolve(map[string]any{"success": true})
				done.Reject("late fault", errors.New("ignored"))
				done.Resolve(map[string]any{"success": true})
				done.Reject("late fault", errors.New("ignored"))
			}},
		},
	}, notifier)

	cb := &capture{}
	if err := adapter.PerformRequest(context.Background(), proxy.Request{
		Action:   proxy.ActionRead,
		Reader:   &stubReader{},
		Callback: cb.callback,
	}); err != nil {
		t.Fatalf("PerformRequest: %v", err)
	}

	if cb.count() != 1 {
		t.Fatalf("callback fired %d times, want exactly 1", cb.count())
	}
	loads, _, exceptions := notifier.snapshot()
	if loads != 1 || len(exceptions) != 0 {
		t.Fatalf("expected only the success path: loads=%d exceptions=%d", loads, len(exceptions))
	}
}

func TestConcurrentCompletionExactlyOnce(t *testing.T) {
	notifier := &recordingNotifier{}
	adapter := newTestAdapter(t, proxy.Config{
		Handlers: map[proxy.Action]proxy.HandlerConfig{
			proxy.ActionRead: {Remote: func(ctx context.Context, args []any, done *proxy.Completion) {
				var wg sync.WaitGroup
				for i := 0; i < 8; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						if i%2 == 0 {
							done.Resolve(map[string]any{"success": true})
						} else {
							done.Reject("race", errors.New("race"))
						}
					}(i)
				}
				wg.Wait()
			}},
		},
	}, notifier)

	cb := &capture{}
	if err := adapter.PerformRequest(context.Background(), proxy.Request{
		Action:   proxy.ActionRead,
		Reader:   &stubReader{},
		Callback: cb.callback,
	}); err != nil {
		t.Fatalf("PerformRequest: %v", err)
	}

	if cb.count() != 1 {
		t.Fatalf("callback fired %d times, want exactly 1", cb.count())
	}
}

func TestCallbackPanicDoesNotEscape(t *testing.T) {
	adapter := newTestAdapter(t, proxy.Config{
		Handlers: map[proxy.Action]proxy.HandlerConfig{
			proxy.ActionRead: {Remote: resolveWith(map[string]any{})},
		},
	}, &recordingNotifier{})

	err := adapter.PerformRequest(context.Background(), proxy.Request{
		Action: proxy.ActionRead,
		Reader: &stubReader{},
		Callback: func(any, any, bool) {
			panic("consumer bug")
		},
	})
	if err != nil {
		t.Fatalf("PerformRequest: %v", err)
	}
}

// ============================================================================
// Metrics
// ============================================================================

func TestMetricsSnapshot(t *testing.T) {
	metrics := proxy.NewInMemoryMetrics()
	adapter, err := proxy.NewAdapter(proxy.Config{
		Handlers: map[proxy.Action]proxy.HandlerConfig{
			proxy.ActionRead:   {Remote: resolveWith(map[string]any{})},
			proxy.ActionCreate: {Remote: rejectWith("down", errors.New("down"))},
		},
	}, proxy.WithMetrics(metrics))
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}

	cb := &capture{}
	for i := 0; i < 3; i++ {
		if err := adapter.PerformRequest(context.Background(), proxy.Request{
			Action:   proxy.ActionRead,
			Reader:   &stubReader{},
			Callback: cb.callback,
		}); err != nil {
			t.Fatalf("PerformRequest: %v", err)
		}
	}
	if err := adapter.PerformRequest(context.Background(), proxy.Request{
		Action:   proxy.ActionCreate,
		Reader:   &stubReader{},
		Callback: cb.callback,
	}); err != nil {
		t.Fatalf("PerformRequest: %v", err)
	}

	snap := adapter.GetMetrics()
	if snap.Dispatched != 4 || snap.Completed != 3 || snap.Faults != 1 || snap.InFlight != 0 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
