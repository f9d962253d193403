package params

import (
	"fmt"
	"strconv"
)

// MapSource is a Source backed by a plain map. Values may be strings, bools or
// string slices.
type MapSource map[string]any

func (m MapSource) GetString(key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func (m MapSource) GetBool(key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

func (m MapSource) GetStringSlice(key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case string:
		return []string{v}
	default:
		return nil
	}
}
