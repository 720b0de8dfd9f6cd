package config

import (
	"fmt"
	"math"
	"strconv"
)

// ConfigBackend stores typed config values in a platform-native place: the
// `defaults` domain on macOS, a JSON file elsewhere. Values are string, int,
// bool or []string according to the key's type.
type ConfigBackend interface {
	Get(key string, typ keyType) (val any, ok bool, err error)
	Set(key string, val any) error
	Delete(key string) error
}

// coerce converts a raw stored value to the Go type of typ. Backends hand it
// whatever they decoded: JSON numbers and arrays, or plain strings.
func coerce(key string, typ keyType, v any) (any, error) {
	switch typ {
	case kString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", v), nil
	case kInt:
		switch val := v.(type) {
		case int:
			return val, nil
		case float64:
			if val < math.MinInt || val > math.MaxInt || val != math.Trunc(val) {
				return nil, fmt.Errorf("value %v for %s is not a valid integer or is out of range", val, key)
			}
			return int(val), nil
		case string:
			i, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("invalid integer for %s: %w", key, err)
			}
			return i, nil
		}
	case kBool:
		switch val := v.(type) {
		case bool:
			return val, nil
		case string:
			b, err := strconv.ParseBool(val)
			if err != nil {
				return nil, fmt.Errorf("invalid bool for %s: %w", key, err)
			}
			return b, nil
		}
	case kList:
		switch val := v.(type) {
		case []string:
			return val, nil
		case []any:
			out := make([]string, 0, len(val))
			for _, item := range val {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("invalid list entry %v for %s", item, key)
				}
				out = append(out, s)
			}
			return out, nil
		case string:
			return splitList(val), nil
		}
	}
	return nil, fmt.Errorf("invalid type %T for %s", v, key)
}
