// Package reader defines the response-reader boundary: the contract for
// turning a raw remote response into a normalized DataBlock the proxy
// layer can consume. Concrete readers live in subpackages.
package reader

// DataBlock is the normalized result of parsing a raw remote response.
type DataBlock struct {
	// Success reports the data-level outcome of the remote operation.
	// A well-formed response can still carry Success=false; that is a
	// soft failure, not a parse error.
	Success bool `json:"success"`

	// Records is the root record collection: one plain field-value map
	// per parsed record.
	Records []map[string]any `json:"records"`

	// Total is the reported total row count when the response supplies
	// one (paging), otherwise len(Records).
	Total int `json:"total"`

	// Raw retains the response the block was parsed from.
	Raw any `json:"-"`
}

// Reader parses raw remote responses into DataBlocks.
//
// ReadRecords serves the read path, ReadResponse the write path
// (create/update/destroy). The action parameter lets a reader vary its
// interpretation per write action; most readers ignore it.
type Reader interface {
	ReadRecords(raw any) (DataBlock, error)
	ReadResponse(action string, raw any) (DataBlock, error)
}
