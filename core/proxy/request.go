package proxy

import "github.com/jrazmi/storeproxy/core/reader"

// Record is the slice of the host store's record abstraction the proxy
// needs: access to the record's own data fields, excluding any framework
// bookkeeping. Remote functions only understand plain data shapes.
type Record interface {
	Data() map[string]any
}

// Callback receives the terminal result of one proxied call, exactly
// once per PerformRequest.
//
// The second argument differs by path: the read path and the fault path
// pass the request's Options value, while the write path passes the raw
// remote response. Existing readers depend on that shape, so it is kept
// as-is rather than unified.
type Callback func(data any, options any, ok bool)

// Request captures one in-flight CRUD call. It is built per
// PerformRequest call, never shared, and never mutated after dispatch.
type Request struct {
	// Action to perform. Must have a handler registered on the adapter.
	Action Action

	// Records being written. Unused for read.
	Records []Record

	// Params carries caller-supplied call parameters such as pagination
	// bounds. The proxy forwards them opaquely; it never interprets them.
	Params map[string]any

	// Reader parses the raw remote response. Required.
	Reader reader.Reader

	// Callback receives the terminal result. Required.
	Callback Callback

	// Options is an opaque value handed back to the callback.
	Options any

	// id and trace correlate log lines for one dispatched call.
	id    string
	trace string
}

func (r Request) validate() error {
	if r.Reader == nil {
		return &ConfigurationError{Field: "reader", Reason: "missing"}
	}
	if r.Callback == nil {
		return &ConfigurationError{Field: "callback", Reason: "missing"}
	}
	return nil
}

// recordPayloads extracts the plain data payload of each record, in
// order. Empty when no records are attached.
func recordPayloads(records []Record) []map[string]any {
	if len(records) == 0 {
		return nil
	}
	payloads := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		payloads = append(payloads, rec.Data())
	}
	return payloads
}
