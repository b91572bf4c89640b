// Package reply models raw store replies as a small closed set of variants.
package reply

import (
	"fmt"
	"strconv"
)

// Reply is one raw value returned by the store: Nil, Bulk, Integer or Array.
type Reply interface {
	isReply()
}

// Nil is a missing value (absent key, out-of-range index, missing field).
type Nil struct{}

// Bulk is a string reply.
type Bulk string

// Integer is an integer reply.
type Integer int64

// Array is a multi-bulk reply.
type Array []Reply

func (Nil) isReply()     {}
func (Bulk) isReply()    {}
func (Integer) isReply() {}
func (Array) isReply()   {}

// FromValue converts a driver value (string, []byte, int64, []any, nil, ...)
// into a Reply.
func FromValue(v any) (Reply, error) {
	switch x := v.(type) {
	case nil:
		return Nil{}, nil
	case Reply:
		return x, nil
	case string:
		return Bulk(x), nil
	case []byte:
		return Bulk(x), nil
	case int64:
		return Integer(x), nil
	case int:
		return Integer(x), nil
	case bool:
		if x {
			return Integer(1), nil
		}
		return Integer(0), nil
	case float64:
		return Bulk(strconv.FormatFloat(x, 'f', -1, 64)), nil
	case []any:
		out := make(Array, len(x))
		for i, e := range x {
			r, err := FromValue(e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = r
		}
		return out, nil
	case []string:
		out := make(Array, len(x))
		for i, e := range x {
			out[i] = Bulk(e)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported reply type %T", v)
	}
}

// Value returns the cell value for a scalar reply: string, int64 or nil.
// Arrays have no cell value and yield false.
func Value(r Reply) (any, bool) {
	switch x := r.(type) {
	case Nil:
		return nil, true
	case Bulk:
		return string(x), true
	case Integer:
		return int64(x), true
	default:
		return nil, false
	}
}

// TypeName names the variant for error messages.
func TypeName(r Reply) string {
	switch r.(type) {
	case Nil:
		return "nil"
	case Bulk:
		return "bulk"
	case Integer:
		return "integer"
	case Array:
		return "array"
	default:
		return fmt.Sprintf("%T", r)
	}
}
