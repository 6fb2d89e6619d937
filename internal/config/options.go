package config

import (
	"fmt"
	"reflect"
)

// OptString returns the string option key from entry.Options, or "".
func (e ProviderEntry) OptString(key string) string {
	if v, ok := e.Options[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// OptFloat returns the numeric option key from entry.Options. YAML integers
// are accepted.
func (e ProviderEntry) OptFloat(key string) (float64, bool) {
	switch v := e.Options[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// OptInt returns the integer option key from entry.Options.
func (e ProviderEntry) OptInt(key string) (int, bool) {
	switch v := e.Options[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	}
	return 0, false
}

// OptBool returns the boolean option key from entry.Options.
func (e ProviderEntry) OptBool(key string) (value, ok bool) {
	b, ok := e.Options[key].(bool)
	return b, ok
}

func optionEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
