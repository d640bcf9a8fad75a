package normalize

import (
	"encoding/json"
	"testing"
)

func TestPickFieldDrift(t *testing.T) {
	if got := Pick(json.RawMessage(`{"netSale": 100.5}`), nil, "netSales", "netSale"); got != 100.5 {
		t.Errorf("Pick(netSale variant) = %v, want 100.5", got)
	}
	if got := Pick(json.RawMessage(`{"netSales": 88}`), nil, "netSales", "netSale"); got != float64(88) {
		t.Errorf("Pick(netSales variant) = %v, want 88", got)
	}
}

func TestPickFallback(t *testing.T) {
	got := Pick(json.RawMessage(`{"grossSales": 1}`), "N/A", "netSales", "netSale")
	if got != "N/A" {
		t.Errorf("Pick(no match) = %v, want fallback", got)
	}
}

func TestPickSkipsNull(t *testing.T) {
	got := Pick(json.RawMessage(`{"netSales": null, "netSale": 7}`), nil, "netSales", "netSale")
	if got != float64(7) {
		t.Errorf("Pick(null first candidate) = %v, want 7", got)
	}
}

func TestPickNestedPath(t *testing.T) {
	raw := json.RawMessage(`{"data":[{"netSales": 55}]}`)
	if got := Pick(raw, nil, "data.0.netSales"); got != float64(55) {
		t.Errorf("Pick(nested path) = %v, want 55", got)
	}
}

func TestPickString(t *testing.T) {
	raw := json.RawMessage(`{"clockIn":"2024-05-15T08:01:00"}`)
	got := PickString(raw, "", "clockInDateTime", "clockIn")
	if got != "2024-05-15T08:01:00" {
		t.Errorf("PickString = %q", got)
	}
}

func TestUnwrap(t *testing.T) {
	wrapped := json.RawMessage(`{"data":[{"a":1}]}`)
	if got := string(Unwrap(wrapped)); got != `[{"a":1}]` {
		t.Errorf("Unwrap(wrapped) = %s", got)
	}

	plain := json.RawMessage(`[{"a":1}]`)
	if got := string(Unwrap(plain)); got != `[{"a":1}]` {
		t.Errorf("Unwrap(plain) = %s", got)
	}

	scalar := json.RawMessage(`"ok"`)
	if got := string(Unwrap(scalar)); got != `"ok"` {
		t.Errorf("Unwrap(scalar) = %s", got)
	}
}
