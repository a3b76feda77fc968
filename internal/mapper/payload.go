package mapper

import "github.com/shopspring/decimal"

// GetString walks a nested payload path and returns the string leaf, or "".
func GetString(payload map[string]interface{}, path ...string) string {
	v := lookup(payload, path)
	s, _ := v.(string)
	return s
}

// GetDecimal walks a nested payload path and parses the leaf leniently.
func GetDecimal(payload map[string]interface{}, path ...string) decimal.Decimal {
	return ParseLLMDecimal(lookup(payload, path))
}

// GetSlice walks a nested payload path and returns the array leaf, or nil.
func GetSlice(payload map[string]interface{}, path ...string) []interface{} {
	v := lookup(payload, path)
	s, _ := v.([]interface{})
	return s
}

// GetMap walks a nested payload path and returns the object leaf, or nil.
func GetMap(payload map[string]interface{}, path ...string) map[string]interface{} {
	v := lookup(payload, path)
	m, _ := v.(map[string]interface{})
	return m
}

func lookup(payload map[string]interface{}, path []string) interface{} {
	var current interface{} = payload
	for _, key := range path {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current = m[key]
	}
	return current
}
