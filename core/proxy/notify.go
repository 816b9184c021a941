package proxy

import "github.com/jrazmi/storeproxy/core/reader"

// ExceptionKind distinguishes the two failure notifications.
type ExceptionKind string

const (
	// ExceptionRemote: the remote call completed and parsed cleanly but
	// the response carried success=false. The callback still receives
	// the parsed data.
	ExceptionRemote ExceptionKind = "remote"

	// ExceptionResponse: the fault channel fired or the reader failed to
	// parse the response. The callback receives nil data.
	ExceptionResponse ExceptionKind = "response"
)

// Exception describes a failure notification.
type Exception struct {
	Kind    ExceptionKind
	Action  Action
	Options any

	// Response is the raw remote response, or the fault message when the
	// fault channel fired.
	Response any

	// Err is the parse error or fault detail. Nil for remote-kind
	// exceptions, where the failure is data-level.
	Err error

	// Records are the outgoing records of a failed write. Nil otherwise.
	Records []Record
}

// Notifier is the host store's lifecycle notification sink. The adapter
// emits exactly one notification per completed call: Load or Write on
// success, Exception on any failure.
type Notifier interface {
	Load(req Request, options any)
	Write(action Action, records []map[string]any, block reader.DataBlock, outgoing []Record, options any)
	Exception(ex Exception)
}

// NopNotifier discards all notifications. It is the default sink when
// the adapter is built without one.
type NopNotifier struct{}

func (NopNotifier) Load(Request, any) {}

func (NopNotifier) Write(Action, []map[string]any, reader.DataBlock, []Record, any) {}

func (NopNotifier) Exception(Exception) {}
