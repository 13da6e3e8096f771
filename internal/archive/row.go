package archive

import (
	"strconv"
)

// row is one result row keyed by column name. Missing columns and NULLs both
// read as absent.
type row map[string]any

func (r row) int(key string) *int64 {
	var n int64
	switch v := r[key].(type) {
	case int64:
		n = v
	case int:
		n = int64(v)
	case float64:
		n = int64(v)
	case bool:
		if v {
			n = 1
		}
	case []byte:
		parsed, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return nil
		}
		n = parsed
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil
		}
		n = parsed
	default:
		return nil
	}
	return &n
}

func (r row) val(key string) int64 {
	if p := r.int(key); p != nil {
		return *p
	}
	return 0
}

func (r row) float(key string) *float64 {
	var f float64
	switch v := r[key].(type) {
	case float64:
		f = v
	case int64:
		f = float64(v)
	case []byte:
		parsed, err := strconv.ParseFloat(string(v), 64)
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}

func (r row) strp(key string) *string {
	var s string
	switch v := r[key].(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case int64:
		s = strconv.FormatInt(v, 10)
	default:
		return nil
	}
	return &s
}

func (r row) str(key string) string {
	if p := r.strp(key); p != nil {
		return *p
	}
	return ""
}

func (r row) flag(key string) bool {
	return r.val(key) != 0
}

func (r row) boolp(key string) *bool {
	p := r.int(key)
	if p == nil {
		return nil
	}
	b := *p != 0
	return &b
}

func (r row) anyNonZero(keys ...string) bool {
	for _, key := range keys {
		if f := r.float(key); f != nil && *f != 0 {
			return true
		}
	}
	return false
}
