package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LocalDateTimeLayout is the zone-less date-time the server reads and writes.
const LocalDateTimeLayout = "2006-01-02T15:04:05"

// zone-less layouts produced by LocalDateTime serialisation on the server
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	LocalDateTimeLayout,
	"2006-01-02T15:04",
}

// ParseTimestamp accepts RFC 3339, a zone-less ISO-8601 date-time (read as UTC)
// or epoch milliseconds.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// Timestamp is a time.Time that decodes from any format ParseTimestamp accepts,
// including a bare JSON number of epoch milliseconds.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}

	var raw string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	} else {
		raw = string(data)
	}

	parsed, err := ParseTimestamp(raw)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}
