package docstore

import (
	"cmp"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/timestamppb"
)

// millisTimestamp is implemented by provider timestamp types that expose
// their instant as Unix milliseconds.
type millisTimestamp interface {
	ToMillis() int64
}

// Millis normalises any timestamp-like value to Unix milliseconds.
func Millis(v any) (int64, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UnixMilli(), true
	case *time.Time:
		if t == nil {
			return 0, false
		}
		return t.UnixMilli(), true
	case *timestamppb.Timestamp:
		if t == nil {
			return 0, false
		}
		return t.AsTime().UnixMilli(), true
	case millisTimestamp:
		return t.ToMillis(), true
	}
	return 0, false
}

// Time converts a timestamp-like value to a time.Time. RFC 3339 strings are
// accepted as well, since documents written by other clients store them.
func Time(v any) (time.Time, bool) {
	if ms, ok := Millis(v); ok {
		switch t := v.(type) {
		case time.Time:
			return t, true
		case *time.Time:
			return *t, true
		}
		return time.UnixMilli(ms), true
	}
	if s, ok := v.(string); ok && s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Value type classes, in the backend's cross-type ordering.
const (
	classNull = iota
	classBool
	classNumber
	classTimestamp
	classString
	classOther
)

func classify(v any) int {
	if v == nil {
		return classNull
	}
	if _, ok := Millis(v); ok {
		return classTimestamp
	}
	switch v.(type) {
	case bool:
		return classBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return classNumber
	case string:
		return classString
	}
	return classOther
}

func number(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

// Compare orders two field values the way the backend orders them in an
// indexed query: first by type class (null, bool, number, timestamp,
// string), then by value within the class.
func Compare(a, b any) int {
	ca, cb := classify(a), classify(b)
	if ca != cb {
		return cmp.Compare(ca, cb)
	}
	switch ca {
	case classBool:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case classNumber:
		return cmp.Compare(number(a), number(b))
	case classTimestamp:
		am, _ := Millis(a)
		bm, _ := Millis(b)
		return cmp.Compare(am, bm)
	case classString:
		return strings.Compare(a.(string), b.(string))
	}
	return 0
}

// CompareDocuments orders two documents by field, breaking ties by document
// id in the same direction, which is how an indexed query orders them.
func CompareDocuments(a, b Document, order OrderBy) int {
	c := Compare(a.Data[order.Field], b.Data[order.Field])
	if c == 0 {
		c = strings.Compare(a.ID, b.ID)
	}
	if order.Desc() {
		return -c
	}
	return c
}
