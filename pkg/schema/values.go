package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// isoMillis matches the rendering used for temporal min/max values, a UTC
// instant with millisecond precision.
const isoMillis = "2006-01-02T15:04:05.000Z"

// dateLayouts covers both the loose YYYY-M-D / D-M-YYYY separator styles and
// the wider set of calendar formats that still parse as a date. Almost any
// parseable date string counts as date-like; the leniency is deliberate.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-1-2",
	"2006/1/2",
	"1/2/2006",
	"1/2/06",
	"1-2-2006",
	"2.1.2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
	"2006-01",
	"2006",
	time.RFC1123,
	time.RFC1123Z,
	time.ANSIC,
}

// NumericValue reports whether v is numeric-like and returns its numeric
// value. A value qualifies if it is already a finite numeric scalar, or if
// stripping thousands-separator commas from its string form yields a finite,
// parseable number.
func NumericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), !math.IsNaN(float64(n)) && !math.IsInf(float64(n), 0)
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(n, ",", ""))
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// DateValue reports whether v is date-like and returns its instant. A value
// qualifies if it is already a time.Time, or if its trimmed string form
// parses as a calendar date. Numeric scalars are rendered to their string
// form first, so a bare year like 2024 is date-like too.
func DateValue(v any) (time.Time, bool) {
	switch d := v.(type) {
	case time.Time:
		return d, true
	case string:
		return ParseDate(strings.TrimSpace(d))
	case float64, float32, int, int32, int64:
		return ParseDate(Stringify(v))
	}
	return time.Time{}, false
}

// ParseDate parses s against the known calendar layouts.
func ParseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Stringify renders a raw scalar the way value counting keys it. Floats that
// hold integral values render without a fractional part.
func Stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32)
	case int:
		return strconv.Itoa(s)
	case int32:
		return strconv.FormatInt(int64(s), 10)
	case int64:
		return strconv.FormatInt(s, 10)
	case time.Time:
		return s.UTC().Format(isoMillis)
	}
	return fmt.Sprint(v)
}
