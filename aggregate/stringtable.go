package aggregate

import (
	"math"

	"eidolon/model"
)

// Vendor attribute names recognized for the typed string-table fields.
var stringTableFields = map[string]func(*model.StringTableView, int64){
	"TableSize":   func(v *model.StringTableView, n int64) { v.TableSize = &n },
	"Size":        func(v *model.StringTableView, n int64) { v.TableSize = &n },
	"BucketCount": func(v *model.StringTableView, n int64) { v.BucketCount = &n },
	"EntryCount":  func(v *model.StringTableView, n int64) { v.EntryCount = &n },
	"TotalMemory": func(v *model.StringTableView, n int64) { v.TotalBytes = &n },
	"MemoryUsage": func(v *model.StringTableView, n int64) { v.TotalBytes = &n },
}

func mapStringTable(attrs map[string]any) model.StringTableView {
	view := model.StringTableView{Available: true, Attributes: map[string]any{}}
	for name, raw := range attrs {
		set, typed := stringTableFields[name]
		n, numeric := asInt64(raw)
		if typed && numeric {
			set(&view, model.Normalize(n))
			continue
		}
		view.Attributes[name] = copyAttribute(raw)
	}
	return view
}

// copyAttribute deep-copies the container types a host is likely to return so
// the snapshot shares nothing with the provider.
func copyAttribute(v any) any {
	switch c := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(c))
		for k, e := range c {
			out[k] = copyAttribute(e)
		}
		return out
	case []any:
		out := make([]any, len(c))
		for i, e := range c {
			out[i] = copyAttribute(e)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(c))
		for k, e := range c {
			out[k] = e
		}
		return out
	case map[string]int64:
		out := make(map[string]int64, len(c))
		for k, e := range c {
			out[k] = e
		}
		return out
	case []string:
		return append([]string(nil), c...)
	case []int64:
		return append([]int64(nil), c...)
	case []float64:
		return append([]float64(nil), c...)
	case []byte:
		return append([]byte(nil), c...)
	default:
		return v
	}
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return math.MaxInt64, true
		}
		return int64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}
