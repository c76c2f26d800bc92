package engine

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ParseDecimal converts a loosely-typed worker value into a decimal,
// falling back to zero on anything malformed. Losing one optional numeric
// field is preferable to dropping the whole observation.
func ParseDecimal(v any) decimal.Decimal {
	switch t := v.(type) {
	case nil:
		return decimal.Zero
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.Zero
		}
		return d
	case float64:
		return decimal.NewFromFloat(t)
	case int:
		return decimal.NewFromInt(int64(t))
	case int64:
		return decimal.NewFromInt(t)
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return decimal.Zero
		}
		return d
	case decimal.Decimal:
		return t
	}
	return decimal.Zero
}

// LooseDecimal decodes worker-encoded numbers that may arrive as JSON
// numbers, quoted strings or null. Malformed input decodes to zero rather
// than failing the event.
type LooseDecimal struct {
	decimal.Decimal
}

func (d *LooseDecimal) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		d.Decimal = decimal.Zero
		return nil
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		d.Decimal = decimal.Zero
		return nil
	}
	d.Decimal = ParseDecimal(raw)
	return nil
}

func (d LooseDecimal) MarshalJSON() ([]byte, error) {
	return d.Decimal.MarshalJSON()
}

// millisecondFloor: any epoch value at or above this magnitude is taken to
// be milliseconds rather than seconds (~Sep 2001 in ms, ~33658 AD in s).
const millisecondFloor = 1_000_000_000_000

// UnixToTime converts a worker-reported epoch value whose resolution is
// ambiguous: second-resolution integers and millisecond-resolution
// integers are distinguished by magnitude.
func UnixToTime(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	if ts >= millisecondFloor || ts <= -millisecondFloor {
		return time.UnixMilli(ts)
	}
	return time.Unix(ts, 0)
}

// UnixMilliToTime converts fields that are always millisecond-encoded.
func UnixMilliToTime(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ts)
}
