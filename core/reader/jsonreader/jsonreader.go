// Package jsonreader implements the reader contract for JSON responses
// shaped by the common store convention: a success flag, a root array of
// record objects, and an optional total count.
//
//	{
//	    "success": true,
//	    "rows": [ {"id": 1}, {"id": 2} ],
//	    "total": 2
//	}
//
// The property names are configurable for servers that use a different
// root (some endpoints name it after the record type) or flag field.
package jsonreader

import (
	"encoding/json"
	"fmt"

	"github.com/jrazmi/storeproxy/core/reader"
)

const (
	defaultRoot    = "rows"
	defaultSuccess = "success"
	defaultTotal   = "total"
)

// Reader parses JSON remote responses into DataBlocks.
type Reader struct {
	root    string
	success string
	total   string
}

// Option is a function that configures the reader
type Option func(*Reader)

// WithRoot sets the property holding the root record collection
func WithRoot(name string) Option {
	return func(r *Reader) {
		r.root = name
	}
}

// WithSuccessProperty sets the property holding the success flag
func WithSuccessProperty(name string) Option {
	return func(r *Reader) {
		r.success = name
	}
}

// WithTotalProperty sets the property holding the total row count
func WithTotalProperty(name string) Option {
	return func(r *Reader) {
		r.total = name
	}
}

// New creates a Reader with the default property convention, applying any
// given options.
func New(opts ...Option) *Reader {
	r := &Reader{
		root:    defaultRoot,
		success: defaultSuccess,
		total:   defaultTotal,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReadRecords parses a read-path response.
func (r *Reader) ReadRecords(raw any) (reader.DataBlock, error) {
	return r.read(raw)
}

// ReadResponse parses a write-path response. The shape convention is the
// same for every write action, so the action is not consulted.
func (r *Reader) ReadResponse(action string, raw any) (reader.DataBlock, error) {
	return r.read(raw)
}

func (r *Reader) read(raw any) (reader.DataBlock, error) {
	obj, err := decode(raw)
	if err != nil {
		return reader.DataBlock{}, err
	}

	block := reader.DataBlock{
		// An absent flag counts as success; only an explicit false is a
		// soft failure.
		Success: true,
		Raw:     raw,
	}

	if v, ok := obj[r.success]; ok {
		flag, ok := v.(bool)
		if !ok {
			return reader.DataBlock{}, fmt.Errorf("property %q: expected bool, got %T", r.success, v)
		}
		block.Success = flag
	}

	if v, ok := obj[r.root]; ok && v != nil {
		items, ok := v.([]any)
		if !ok {
			return reader.DataBlock{}, fmt.Errorf("property %q: expected array, got %T", r.root, v)
		}
		block.Records = make([]map[string]any, 0, len(items))
		for i, item := range items {
			rec, ok := item.(map[string]any)
			if !ok {
				return reader.DataBlock{}, fmt.Errorf("property %q[%d]: expected object, got %T", r.root, i, item)
			}
			block.Records = append(block.Records, rec)
		}
	}

	block.Total = len(block.Records)
	if v, ok := obj[r.total]; ok {
		num, ok := v.(float64)
		if !ok {
			return reader.DataBlock{}, fmt.Errorf("property %q: expected number, got %T", r.total, v)
		}
		block.Total = int(num)
	}

	return block, nil
}

// decode accepts the response shapes the transports hand us: raw JSON
// bytes or an already-decoded object.
func decode(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, fmt.Errorf("nil response")
	case map[string]any:
		return v, nil
	case []byte:
		return unmarshal(v)
	case json.RawMessage:
		return unmarshal(v)
	case string:
		return unmarshal([]byte(v))
	default:
		return nil, fmt.Errorf("unsupported response type %T", raw)
	}
}

func unmarshal(data []byte) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return obj, nil
}
