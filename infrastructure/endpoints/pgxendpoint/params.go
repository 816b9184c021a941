package pgxendpoint

// Request parameters arrive as decoded JSON, so numbers are usually
// float64. Typed callers handing in Go integers work too.

func uintParam(params map[string]any, key string) (uint64, bool) {
	value, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := value.(type) {
	case float64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint64:
		return n, true
	default:
		return 0, false
	}
}

func stringParam(params map[string]any, key string) (string, bool) {
	value, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}
