package recorder

import (
	"strings"

	"github.com/tidwall/gjson"
)

const (
	OutcomeHigh = "TAI"
	OutcomeLow  = "XIU"

	// HighThreshold is the smallest point classified as OutcomeHigh.
	HighThreshold = 11
)

// OutcomeForPoint derives the categorical label from a point total.
func OutcomeForPoint(point int) string {
	if point >= HighThreshold {
		return OutcomeHigh
	}
	return OutcomeLow
}

// ExtractOutcome returns the upstream-supplied label stored as-is, or the
// threshold label when the record carries none. Labels containing the flat
// export separator or a line break are ignored. This is the only place the
// policy is decided.
func ExtractOutcome(item gjson.Result, keys []string, point int) string {
	for _, key := range keys {
		v := item.Get(key)
		if !v.Exists() || v.Type != gjson.String {
			continue
		}
		if strings.TrimSpace(v.Str) == "" || strings.ContainsAny(v.Str, "|\r\n") {
			continue
		}
		return v.Str
	}
	return OutcomeForPoint(point)
}
