package proxy

import "sync"

// Completion is the dual-channel handler appended to every dispatched
// remote call. The transport resolves it with a result payload or
// rejects it with a fault; whichever side fires first wins and the other
// becomes a no-op, so the terminal callback runs exactly once no matter
// how the transport behaves.
type Completion struct {
	once    sync.Once
	resolve func(payload any)
	reject  func(message string, err error)
}

// NewCompletion builds a completion from its two channel functions. The
// adapter builds its own completions; this constructor exists for
// transport implementations exercising the contract directly.
func NewCompletion(resolve func(payload any), reject func(message string, err error)) *Completion {
	return &Completion{resolve: resolve, reject: reject}
}

// Resolve delivers the success payload.
func (c *Completion) Resolve(payload any) {
	c.once.Do(func() {
		c.resolve(payload)
	})
}

// Reject delivers a fault: a short message plus the underlying error
// detail, either of which may stand alone.
func (c *Completion) Reject(message string, err error) {
	c.once.Do(func() {
		c.reject(message, err)
	})
}
