package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Field values arrive as Go values from code, float64 from decoded JSON, or
// strings from the command line.

func asString(name string, v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case Role:
		return string(s), nil
	case nil:
		return "", nil
	}
	return "", FieldError{Field: name, Reason: "must be a string"}
}

func asInt(name string, v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, FieldError{Field: name, Reason: "must be a whole number"}
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, FieldError{Field: name, Reason: "must be a whole number"}
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, FieldError{Field: name, Reason: "must be a whole number"}
		}
		return i, nil
	}
	return 0, FieldError{Field: name, Reason: "must be a whole number"}
}

func asFloat(name string, v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, FieldError{Field: name, Reason: "must be a number"}
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, FieldError{Field: name, Reason: "must be a number"}
		}
		return f, nil
	}
	return 0, FieldError{Field: name, Reason: "must be a number"}
}
