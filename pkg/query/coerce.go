package query

import (
	"time"

	"github.com/datalens-labs/datalens/pkg/schema"
)

// CoerceNumber converts a raw stored value to a float64 for measure
// reduction. It is total: a value that cannot be coerced reports ok=false
// and is skipped by the accumulator rather than aborting the query.
func CoerceNumber(v any) (float64, bool) {
	if b, isBool := v.(bool); isBool {
		if b {
			return 1, true
		}
		return 0, true
	}
	return schema.NumericValue(v)
}

// CoerceTime converts a raw stored value to a time instant for bucketing.
// Like CoerceNumber it is total; rows whose dimension value cannot be
// coerced group under a nil bucket key.
func CoerceTime(v any) (time.Time, bool) {
	return schema.DateValue(v)
}
