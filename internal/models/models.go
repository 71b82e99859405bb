package models

import "time"

// FormData is the loosely typed field map submitted by an intake form step.
type FormData map[string]any

func (f FormData) GetInt(key string) int {
	if f == nil {
		return 0
	}
	val, ok := f[key]
	if !ok {
		return 0
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func (f FormData) GetTime(key string) time.Time {
	if f == nil {
		return time.Time{}
	}
	val, ok := f[key]
	if !ok {
		return time.Time{}
	}
	switch v := val.(type) {
	case time.Time:
		return v
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}
		}
		return t
	default:
		return time.Time{}
	}
}

func (f FormData) GetString(key string) string {
	if f == nil {
		return ""
	}
	val, ok := f[key]
	if !ok {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

// CorrelationID returns the correlation id carried by the form, if any.
func (f FormData) CorrelationID() string {
	return f.GetString(FieldCorrelationID)
}
