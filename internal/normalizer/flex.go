package normalizer

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// The flex types accept the loosely typed values older clients wrote into the
// store. None of them ever fail on a wrong type; they fall back to the zero value.

var null = []byte("null")

type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, null) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	*f = ""
	return nil
}

type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		*f = false
		return nil
	}
	switch t := v.(type) {
	case bool:
		*f = flexBool(t)
	case float64:
		*f = t != 0
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(t))
		*f = flexBool(err == nil && parsed)
	default:
		*f = false
	}
	return nil
}

// flexFloat distinguishes absent (nil) from zero.
type flexFloat struct {
	value *float64
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	f.value = nil
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	switch t := v.(type) {
	case float64:
		f.value = &t
	case string:
		trimmed := strings.TrimSpace(strings.ReplaceAll(t, ",", "."))
		if trimmed == "" {
			return nil
		}
		if parsed, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsNaN(parsed) {
			f.value = &parsed
		}
	}
	return nil
}

type flexTime struct {
	value time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (f *flexTime) UnmarshalJSON(data []byte) error {
	f.value = time.Time{}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	switch t := v.(type) {
	case float64:
		f.value = fromEpochMillis(t)
	case string:
		f.value = parseTime(t)
	}
	return nil
}

func parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if ms, err := strconv.ParseFloat(raw, 64); err == nil {
		return fromEpochMillis(ms)
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

func fromEpochMillis(ms float64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(ms)).UTC()
}

// flexStrings accepts null, a single string or an array; blanks and repeats are dropped.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	*f = nil
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	switch t := v.(type) {
	case string:
		*f = uniqueStrings([]string{t})
	case []interface{}:
		values := make([]string, 0, len(t))
		for _, item := range t {
			switch s := item.(type) {
			case string:
				values = append(values, s)
			case float64:
				values = append(values, strconv.FormatFloat(s, 'f', -1, 64))
			}
		}
		*f = uniqueStrings(values)
	}
	return nil
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

func firstString(values ...flexString) string {
	for _, v := range values {
		if v != "" {
			return string(v)
		}
	}
	return ""
}

func firstTime(values ...flexTime) time.Time {
	for _, v := range values {
		if !v.value.IsZero() {
			return v.value
		}
	}
	return time.Time{}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
