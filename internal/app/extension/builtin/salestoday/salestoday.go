// Package salestoday renders today's net sales for every selected store.
package salestoday

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/liveiq-tools/report-layer/internal/app/domain/endpoint"
	"github.com/liveiq-tools/report-layer/internal/app/domain/report"
	"github.com/liveiq-tools/report-layer/internal/app/extension"
	"github.com/liveiq-tools/report-layer/internal/app/normalize"
)

func init() {
	extension.Register(Extension{})
}

// Extension implements the "Sales Today" report.
type Extension struct{}

func (Extension) ID() string    { return "sales-today" }
func (Extension) Title() string { return "Sales Today" }

func (Extension) Run(ctx context.Context, host *extension.Context) (string, error) {
	selected := host.SelectedStores()
	if len(selected) == 0 {
		return "No stores selected.", nil
	}

	today := time.Now().Format("2006-01-02")
	var b strings.Builder
	fmt.Fprintf(&b, "Date: %s\n", today)
	fmt.Fprintf(&b, "Stores: %s\n\n", strings.Join(selected, ", "))

	sales := make(map[string]string, len(selected))
	for _, r := range host.FetchSelected(ctx, endpoint.SalesSummary, today, today) {
		if !r.Result.OK {
			sales[r.StoreID] = "ERROR: " + r.Result.Message
			if host.Logf != nil {
				host.Logf("sales-today: store %s: %s", r.StoreID, r.Result.Message)
			}
			continue
		}
		sales[r.StoreID] = netSales(r.Result.Payload)
	}

	b.WriteString("=== Daily Net Sales ===\n")
	ids := make([]string, 0, len(sales))
	for sid := range sales {
		ids = append(ids, sid)
	}
	for _, sid := range report.SortStoreIDs(ids) {
		fmt.Fprintf(&b, "Store %6s : %s\n", sid, sales[sid])
	}
	return b.String(), nil
}

// netSales extracts the day's net sales figure from one store payload.
// Summaries usually arrive as a one-element list; single objects and the
// vendor's field-name drift are tolerated.
func netSales(payload json.RawMessage) string {
	doc := gjson.ParseBytes(normalize.Unwrap(payload))
	if doc.IsArray() {
		arr := doc.Array()
		if len(arr) == 0 {
			return "N/A"
		}
		doc = arr[0]
	}
	if !doc.IsObject() {
		return "N/A"
	}

	v := normalize.Pick(json.RawMessage(doc.Raw), nil,
		"netSales", "netSale", "netSalesTotal", "netSalesAmount")
	switch val := v.(type) {
	case nil:
		return "N/A"
	case float64:
		return money(val)
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// money renders a dollar amount with thousands separators, e.g. $12,345.67.
func money(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	dot := strings.IndexByte(s, '.')
	whole, frac := s[:dot], s[dot:]

	var grouped strings.Builder
	for i := 0; i < len(whole); i++ {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteByte(whole[i])
	}
	if neg {
		return "$-" + grouped.String() + frac
	}
	return "$" + grouped.String() + frac
}
