package schema

import (
	"fmt"
	"time"
)

// ZeroValue is the value of a non-optional property that was never set.
func ZeroValue(t PropertyType) interface{} {
	switch t {
	case Int:
		return int64(0)
	case Bool:
		return false
	case Float:
		return float32(0)
	case Double:
		return float64(0)
	case String:
		return ""
	case Data:
		return []byte{}
	case Date:
		return time.Time{}
	}
	return nil
}

// Coerce converts v to the canonical Go representation of p's type:
// int64, bool, float32, float64, string, []byte or time.Time.
func Coerce(p *Property, v interface{}) (interface{}, error) {
	if v == nil {
		if p.Optional {
			return nil, nil
		}
		return nil, fmt.Errorf("property %s is not optional", p.Name)
	}

	switch p.Type {
	case Int:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int8:
			return int64(n), nil
		case int16:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case uint8:
			return int64(n), nil
		case uint16:
			return int64(n), nil
		case uint32:
			return int64(n), nil
		}
	case Bool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case Float:
		switch f := v.(type) {
		case float32:
			return f, nil
		case float64:
			return float32(f), nil
		}
	case Double:
		switch f := v.(type) {
		case float32:
			return float64(f), nil
		case float64:
			return f, nil
		}
	case String:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case Data:
		if b, ok := v.([]byte); ok {
			c := make([]byte, len(b))
			copy(c, b)
			return c, nil
		}
	case Date:
		// Dates are stored with millisecond precision.
		if d, ok := v.(time.Time); ok {
			return d.UTC().Truncate(time.Millisecond), nil
		}
	}
	return nil, fmt.Errorf("property %s of type %s cannot hold a value of type %T", p.Name, p.Type, v)
}
