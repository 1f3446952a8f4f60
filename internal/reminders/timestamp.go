package reminders

import (
	"encoding/json"
	"fmt"
	"time"
)

const nanosPerSecond = int64(time.Second)

// Timestamp is a point in time kept as whole seconds plus a sub-second remainder,
// the shape used on the wire and in cached snapshots.
type Timestamp struct {
	Seconds     int64 `json:"seconds"`
	Nanoseconds int32 `json:"nanoseconds"`
}

// NewTimestamp converts a time.Time into a Timestamp.
func NewTimestamp(value time.Time) Timestamp {
	return Timestamp{
		Seconds:     value.Unix(),
		Nanoseconds: int32(value.Nanosecond()),
	}
}

// TimestampFromUnix builds a Timestamp from unix seconds.
func TimestampFromUnix(seconds int64) Timestamp {
	return Timestamp{Seconds: seconds}
}

// Validate ensures the sub-second remainder is within range.
func (ts Timestamp) Validate() error {
	if ts.Nanoseconds < 0 || int64(ts.Nanoseconds) >= nanosPerSecond {
		return fmt.Errorf("%w: nanoseconds %d out of range", ErrInvalidTimestamp, ts.Nanoseconds)
	}
	return nil
}

// Time returns the timestamp as a UTC time.Time.
func (ts Timestamp) Time() time.Time {
	return time.Unix(ts.Seconds, int64(ts.Nanoseconds)).UTC()
}

// IsZero reports whether the timestamp is unset.
func (ts Timestamp) IsZero() bool {
	return ts.Seconds == 0 && ts.Nanoseconds == 0
}

// Before reports whether ts is earlier than other.
func (ts Timestamp) Before(other Timestamp) bool {
	if ts.Seconds != other.Seconds {
		return ts.Seconds < other.Seconds
	}
	return ts.Nanoseconds < other.Nanoseconds
}

// Map renders the timestamp as a document field value.
func (ts Timestamp) Map() map[string]any {
	return map[string]any{
		"seconds":     ts.Seconds,
		"nanoseconds": int64(ts.Nanoseconds),
	}
}

// TimestampFromValue reconstructs a Timestamp from a decoded document field.
// Numeric fields may arrive as any JSON or BSON number type.
func TimestampFromValue(value any) (Timestamp, error) {
	fields, ok := value.(map[string]any)
	if !ok {
		return Timestamp{}, fmt.Errorf("%w: expected object, got %T", ErrInvalidTimestamp, value)
	}
	seconds, ok := numberAsInt64(fields["seconds"])
	if !ok {
		return Timestamp{}, fmt.Errorf("%w: missing seconds", ErrInvalidTimestamp)
	}
	nanos := int64(0)
	if rawNanos, present := fields["nanoseconds"]; present {
		nanos, ok = numberAsInt64(rawNanos)
		if !ok {
			return Timestamp{}, fmt.Errorf("%w: invalid nanoseconds", ErrInvalidTimestamp)
		}
	}
	if nanos < 0 || nanos >= nanosPerSecond {
		return Timestamp{}, fmt.Errorf("%w: nanoseconds %d out of range", ErrInvalidTimestamp, nanos)
	}
	return Timestamp{Seconds: seconds, Nanoseconds: int32(nanos)}, nil
}

func numberAsInt64(value any) (int64, bool) {
	switch typed := value.(type) {
	case int:
		return int64(typed), true
	case int32:
		return int64(typed), true
	case int64:
		return typed, true
	case float64:
		if typed != float64(int64(typed)) {
			return 0, false
		}
		return int64(typed), true
	case float32:
		return numberAsInt64(float64(typed))
	case json.Number:
		parsed, err := typed.Int64()
		return parsed, err == nil
	default:
		return 0, false
	}
}

// NumberAsFloat64 converts a decoded numeric document value into a float64.
func NumberAsFloat64(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case json.Number:
		parsed, err := typed.Float64()
		return parsed, err == nil
	default:
		return 0, false
	}
}
