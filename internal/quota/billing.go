package quota

import (
	"encoding/json"
	"strconv"
	"time"
)

// periodEndExtractor pulls a paid-period end out of one known payload shape.
type periodEndExtractor func(map[string]interface{}) (time.Time, bool)

// extractors are tried in priority order; the first hit wins.
var extractors = []periodEndExtractor{
	directPeriodEnd,
	lineItemPeriodEnd,
	subscriptionPeriodEnd,
}

// ExtractPeriodEnd parses a payment-succeeded payload and returns the end of
// the paid period it confirms. Billing providers deliver this in one of three
// shapes: a top-level period_end, the first invoice line item's period end,
// or the expanded subscription's current_period_end.
func ExtractPeriodEnd(payload []byte) (time.Time, bool) {
	var doc map[string]interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return time.Time{}, false
	}
	for _, extract := range extractors {
		if t, ok := extract(doc); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func directPeriodEnd(doc map[string]interface{}) (time.Time, bool) {
	return asUnixTime(doc["period_end"])
}

func lineItemPeriodEnd(doc map[string]interface{}) (time.Time, bool) {
	lines, ok := doc["lines"].(map[string]interface{})
	if !ok {
		return time.Time{}, false
	}
	data, ok := lines["data"].([]interface{})
	if !ok || len(data) == 0 {
		return time.Time{}, false
	}
	first, ok := data[0].(map[string]interface{})
	if !ok {
		return time.Time{}, false
	}
	period, ok := first["period"].(map[string]interface{})
	if !ok {
		return time.Time{}, false
	}
	return asUnixTime(period["end"])
}

func subscriptionPeriodEnd(doc map[string]interface{}) (time.Time, bool) {
	sub, ok := doc["subscription"].(map[string]interface{})
	if !ok {
		return time.Time{}, false
	}
	return asUnixTime(sub["current_period_end"])
}

// asUnixTime accepts an epoch-seconds value as a JSON number or a numeric
// string. Zero and negative epochs are rejected.
func asUnixTime(v interface{}) (time.Time, bool) {
	switch n := v.(type) {
	case float64:
		if n <= 0 {
			return time.Time{}, false
		}
		return time.Unix(int64(n), 0).UTC(), true
	case string:
		sec, err := strconv.ParseInt(n, 10, 64)
		if err != nil || sec <= 0 {
			return time.Time{}, false
		}
		return time.Unix(sec, 0).UTC(), true
	default:
		return time.Time{}, false
	}
}
