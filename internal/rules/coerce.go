package rules

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

// Coercion converts a decoded JSON value into the typed parameter value.
type Coercion func(raw any) (any, error)

var errWrongType = errors.New("wrong type")

// Int64 accepts JSON integers and integer strings.
func Int64(raw any) (any, error) {
	switch v := raw.(type) {
	case json.Number:
		return parseInt(v.String())
	case string:
		return parseInt(v)
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || v >= 1<<63 || v < -(1<<63) {
			return nil, errWrongType
		}
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return nil, errWrongType
	}
}

func parseInt(s string) (any, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil, errWrongType
	}
	return n, nil
}

// String accepts JSON strings and numbers; numbers keep their literal form.
func String(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	default:
		return nil, errWrongType
	}
}

// StrictString accepts JSON strings only.
func StrictString(raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, errWrongType
	}
	return s, nil
}

// Params holds coerced request parameters keyed by field name.
type Params map[string]any

// Int64 returns an integer parameter.
func (p Params) Int64(name string) (int64, bool) {
	v, ok := p[name].(int64)
	return v, ok
}

// String returns a string parameter.
func (p Params) String(name string) (string, bool) {
	v, ok := p[name].(string)
	return v, ok
}

// Has reports whether name was supplied.
func (p Params) Has(name string) bool {
	_, ok := p[name]
	return ok
}
