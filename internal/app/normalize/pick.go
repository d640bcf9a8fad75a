package normalize

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Pick tries each candidate path in order against the raw payload and
// returns the first present, non-null value; otherwise fallback. This is
// the single place the vendor's field-name drift (netSale vs netSales)
// is tolerated.
func Pick(raw json.RawMessage, fallback any, candidates ...string) any {
	for _, path := range candidates {
		if r := gjson.GetBytes(raw, path); r.Exists() && r.Type != gjson.Null {
			return r.Value()
		}
	}
	return fallback
}

// PickString is Pick for string-shaped fields; non-string scalars render
// through gjson's string conversion.
func PickString(raw json.RawMessage, fallback string, candidates ...string) string {
	for _, path := range candidates {
		if r := gjson.GetBytes(raw, path); r.Exists() && r.Type != gjson.Null {
			return r.String()
		}
	}
	return fallback
}

// Unwrap peels the vendor's optional {"data": ...} envelope. Payloads
// without the envelope pass through untouched.
func Unwrap(raw json.RawMessage) json.RawMessage {
	if r := gjson.GetBytes(raw, "data"); r.Exists() {
		return json.RawMessage(r.Raw)
	}
	return raw
}
