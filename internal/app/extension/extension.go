// Package extension hosts compiled-in report extensions. Extensions are
// registered statically at init time and invoked with an explicit context
// bundle; they never reach into host globals, and a panicking extension
// is contained by the host rather than taking the process down.
package extension

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/liveiq-tools/report-layer/internal/app/domain/account"
	"github.com/liveiq-tools/report-layer/internal/app/domain/endpoint"
	"github.com/liveiq-tools/report-layer/internal/app/domain/report"
)

// fetchWorkers bounds how many extension fetches run at once.
const fetchWorkers = 10

// Extension is one compiled-in report. Run returns rendered text for the
// caller to display verbatim.
type Extension interface {
	ID() string
	Title() string
	Run(ctx context.Context, host *Context) (string, error)
}

// FetchFunc issues one report request through the host's gateway.
type FetchFunc func(ctx context.Context, req report.FetchRequest) report.FetchResult

// Context is the snapshot bundle an extension runs against. Everything an
// extension may touch is here; there is no ambient host state.
type Context struct {
	Accounts        []account.Account
	Selection       map[string]bool
	StoresByAccount map[string][]string
	Fetch           FetchFunc
	Flatten         func(v any) map[string]any
	Logf            func(format string, args ...any)
}

// StoreResult couples one store request with its outcome.
type StoreResult struct {
	AccountName string
	StoreID     string
	Result      report.FetchResult
}

// SelectedStores returns the union of selected stores across all accounts
// in numeric order. A nil Selection selects every discovered store.
func (c *Context) SelectedStores() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, acct := range c.Accounts {
		for _, sid := range c.StoresByAccount[acct.Name] {
			if c.Selection != nil && !c.Selection[sid] {
				continue
			}
			if !seen[sid] {
				seen[sid] = true
				ids = append(ids, sid)
			}
		}
	}
	return report.SortStoreIDs(ids)
}

// FetchSelected fans one endpoint/date-range request out over every
// selected store of every account and returns the results in completion
// order. Stores owned by two accounts are fetched once per account.
func (c *Context) FetchSelected(ctx context.Context, ep endpoint.Endpoint, dateStart, dateEnd string) []StoreResult {
	type job struct {
		acct  account.Account
		store string
	}
	var jobs []job
	for _, acct := range c.Accounts {
		for _, sid := range c.StoresByAccount[acct.Name] {
			if c.Selection != nil && !c.Selection[sid] {
				continue
			}
			jobs = append(jobs, job{acct: acct, store: sid})
		}
	}
	if len(jobs) == 0 || c.Fetch == nil {
		return nil
	}

	sem := make(chan struct{}, fetchWorkers)
	results := make(chan StoreResult, len(jobs))
	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res := c.Fetch(ctx, report.FetchRequest{
				Endpoint:     ep,
				StoreID:      j.store,
				DateStart:    dateStart,
				DateEnd:      dateEnd,
				ClientID:     j.acct.ClientID,
				ClientSecret: j.acct.ClientSecret,
			})
			results <- StoreResult{AccountName: j.acct.Name, StoreID: j.store, Result: res}
		}(j)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]StoreResult, 0, len(jobs))
	for r := range results {
		out = append(out, r)
	}
	return out
}

// Invoke runs one registered extension, converting panics into errors so
// a broken extension cannot take the host down with it.
func Invoke(ctx context.Context, id string, host *Context) (out string, err error) {
	ext, ok := Get(id)
	if !ok {
		return "", fmt.Errorf("extension %q not registered", id)
	}

	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			if host != nil && host.Logf != nil {
				host.Logf("extension %s panicked: %v", id, r)
			}
			err = fmt.Errorf("extension %s panicked: %v\n%s", id, r, stack)
		}
	}()
	return ext.Run(ctx, host)
}
