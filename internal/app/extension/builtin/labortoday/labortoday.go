// Package labortoday lists every employee who clocked in today per
// selected store, keeping the earliest clock-in per employee.
package labortoday

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/liveiq-tools/report-layer/internal/app/domain/endpoint"
	"github.com/liveiq-tools/report-layer/internal/app/extension"
	"github.com/liveiq-tools/report-layer/internal/app/normalize"
)

func init() {
	extension.Register(Extension{})
}

// Extension implements the "Labor Today" report.
type Extension struct{}

func (Extension) ID() string    { return "labor-today" }
func (Extension) Title() string { return "Labor Today" }

func (Extension) Run(ctx context.Context, host *extension.Context) (string, error) {
	selected := host.SelectedStores()
	if len(selected) == 0 {
		return "No stores selected.", nil
	}

	today := time.Now().Format("2006-01-02")
	var b strings.Builder
	fmt.Fprintf(&b, "Date: %s\n", today)
	fmt.Fprintf(&b, "Stores: %s\n\n", strings.Join(selected, ", "))

	for _, r := range host.FetchSelected(ctx, endpoint.DailyTimeclock, today, today) {
		if !r.Result.OK {
			fmt.Fprintf(&b, "Store %s  (Acct: %s)  ->  ERROR: %s\n", r.StoreID, r.AccountName, r.Result.Message)
			if host.Logf != nil {
				host.Logf("labor-today: store %s: %s", r.StoreID, r.Result.Message)
			}
			continue
		}
		writeStore(&b, r)
	}
	return b.String(), nil
}

type clockEntry struct {
	in  string
	job string
}

func writeStore(b *strings.Builder, r extension.StoreResult) {
	doc := gjson.ParseBytes(normalize.Unwrap(r.Result.Payload))
	var recs []gjson.Result
	switch {
	case doc.IsArray():
		recs = doc.Array()
	case doc.IsObject():
		recs = []gjson.Result{doc}
	}

	// Earliest clock-in wins per employee; timeclock rows repeat an
	// employee once per punch.
	unique := make(map[string]clockEntry)
	for _, rec := range recs {
		name := rec.Get("employeeName").String()
		if name == "" {
			name = "<unknown>"
		}
		in := rec.Get("clockInDateTime").String()
		if in == "" {
			in = rec.Get("clockIn").String()
		}
		job := rec.Get("jobDescription").String()
		if job == "" {
			job = rec.Get("jobCode").String()
		}

		prev, seen := unique[name]
		if !seen || (in != "" && (prev.in == "" || in < prev.in)) {
			unique[name] = clockEntry{in: in, job: job}
		}
	}

	fmt.Fprintf(b, "Store %s  (Acct: %s)\n", r.StoreID, r.AccountName)
	if len(unique) == 0 {
		b.WriteString("   - No clock-ins recorded today -\n\n")
		return
	}

	names := make([]string, 0, len(unique))
	for name := range unique {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
	for _, name := range names {
		meta := unique[name]
		fmt.Fprintf(b, "   * %s  |  In: %s  |  %s\n", name, meta.in, meta.job)
	}
	b.WriteString("\n")
}
