// Package batch fans one report request out across every (account, store)
// pair and aggregates the results. A batch never fails as a whole: every
// candidate request produces exactly one entry unless the batch is
// cancelled, and entries arrive in completion order.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liveiq-tools/report-layer/internal/app/domain/account"
	"github.com/liveiq-tools/report-layer/internal/app/domain/endpoint"
	"github.com/liveiq-tools/report-layer/internal/app/domain/report"
	"github.com/liveiq-tools/report-layer/internal/app/metrics"
	"github.com/liveiq-tools/report-layer/internal/app/storage"
	"github.com/liveiq-tools/report-layer/pkg/logger"
)

// recentLimit bounds how many finished reports stay addressable by id.
const recentLimit = 16

// Fetcher executes one fetch request to completion.
type Fetcher interface {
	Fetch(ctx context.Context, req report.FetchRequest) report.FetchResult
}

// Request describes one batch: the endpoint, the date range, an account
// snapshot taken at submission, and the store selection. A nil Selection
// means every discovered store; an empty one means none, and such a batch
// completes immediately with an empty report.
type Request struct {
	Endpoint  endpoint.Endpoint
	DateStart string
	DateEnd   string
	Accounts  []account.Account
	Selection []string
}

type candidate struct {
	accountName string
	fetch       report.FetchRequest
}

// Scheduler executes batches under a shared concurrency bound.
type Scheduler struct {
	fetcher Fetcher
	history storage.HistoryStore
	limiter *Limiter
	events  *Broadcaster
	log     *logger.Logger

	mu      sync.Mutex
	current *Handle
	recent  map[string]report.Aggregated
	order   []string
}

// New constructs a scheduler. history may be nil; recording is then
// skipped. maxConcurrency <= 0 falls back to 10.
func New(fetcher Fetcher, history storage.HistoryStore, maxConcurrency int, log *logger.Logger) (*Scheduler, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	if log == nil {
		log = logger.NewDefault("batch")
	}
	return &Scheduler{
		fetcher: fetcher,
		history: history,
		limiter: NewLimiter(maxConcurrency),
		events:  NewBroadcaster(),
		recent:  make(map[string]report.Aggregated),
		log:     log,
	}, nil
}

// Events exposes the progress event stream.
func (s *Scheduler) Events() *Broadcaster { return s.events }

// LimiterStats reports current concurrency usage.
func (s *Scheduler) LimiterStats() LimiterStats { return s.limiter.Stats() }

// Handle tracks one batch from dispatch to completion.
type Handle struct {
	ID string

	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	agg       report.Aggregated
	finished  bool
	completed int
	total     int
}

// Done is closed when the batch has finished, cancelled or not.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel stops the batch cooperatively: candidates not yet issued are
// never sent, and results of requests in flight are dropped.
func (h *Handle) Cancel() { h.cancel() }

// Report returns the aggregated result once the batch has finished.
func (h *Handle) Report() (report.Aggregated, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.finished {
		return report.Aggregated{}, false
	}
	return cloneAggregated(h.agg), true
}

// Progress returns how many entries have completed out of the candidate
// total.
func (h *Handle) Progress() (completed, total int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.completed, h.total
}

// Dispatch starts a batch in the background and returns its handle. A
// batch already holding the dispatch slot is cancelled first, so a user
// re-submitting does not double their request volume against the rate
// limit. The cancelled batch keeps its own report, marked cancelled.
func (s *Scheduler) Dispatch(req Request) *Handle {
	runCtx, cancel := context.WithCancel(context.Background())
	h := newHandle(cancel)

	s.mu.Lock()
	prev := s.current
	s.current = h
	s.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}

	go s.run(runCtx, h, req)
	return h
}

// Run executes a batch synchronously under ctx. Run does not touch the
// dispatch slot, so scheduled and command-line batches never cancel an
// interactively dispatched one.
func (s *Scheduler) Run(ctx context.Context, req Request) report.Aggregated {
	runCtx, cancel := context.WithCancel(ctx)
	h := newHandle(cancel)

	go s.run(runCtx, h, req)
	<-h.Done()

	agg, _ := h.Report()
	return agg
}

func newHandle(cancel context.CancelFunc) *Handle {
	return &Handle{ID: uuid.NewString(), cancel: cancel, done: make(chan struct{})}
}

// Current returns the handle in the dispatch slot, or nil.
func (s *Scheduler) Current() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Recent returns a finished report by id.
func (s *Scheduler) Recent(id string) (report.Aggregated, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.recent[id]
	if !ok {
		return report.Aggregated{}, false
	}
	return cloneAggregated(agg), true
}

// Shutdown cancels the batch holding the dispatch slot, if any.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur != nil {
		cur.Cancel()
	}
}

func (s *Scheduler) run(ctx context.Context, h *Handle, req Request) {
	defer h.cancel()

	cands := buildCandidates(req)
	agg := report.Aggregated{
		ID:        h.ID,
		Endpoint:  req.Endpoint,
		DateStart: req.DateStart,
		DateEnd:   req.DateEnd,
		StartedAt: time.Now().UTC(),
	}

	h.mu.Lock()
	h.total = len(cands)
	h.mu.Unlock()

	s.log.Infof("batch %s: %s %s..%s across %d store requests", h.ID, req.Endpoint, req.DateStart, req.DateEnd, len(cands))
	s.events.Publish(Event{Type: EventStarted, BatchID: h.ID, Endpoint: string(req.Endpoint), Total: len(cands)})

	results := make(chan report.Entry, len(cands))
	var wg sync.WaitGroup
	for _, cand := range cands {
		wg.Add(1)
		go func(c candidate) {
			defer wg.Done()
			if err := s.limiter.Acquire(ctx); err != nil {
				return
			}
			defer s.limiter.Release()
			if ctx.Err() != nil {
				return
			}

			res := s.fetcher.Fetch(ctx, c.fetch)
			if ctx.Err() != nil {
				// Cancelled while in flight; partial results are dropped.
				return
			}
			results <- report.Entry{AccountName: c.accountName, StoreID: c.fetch.StoreID, Result: res}
		}(cand)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	for entry := range results {
		agg.Entries = append(agg.Entries, entry)
		completed++

		h.mu.Lock()
		h.completed = completed
		h.mu.Unlock()

		s.events.Publish(Event{
			Type:        EventEntry,
			BatchID:     h.ID,
			Endpoint:    string(req.Endpoint),
			AccountName: entry.AccountName,
			StoreID:     entry.StoreID,
			OK:          entry.Result.OK,
			ErrorKind:   string(entry.Result.Kind),
			Completed:   completed,
			Total:       len(cands),
		})
	}

	agg.FinishedAt = time.Now().UTC()
	agg.Cancelled = ctx.Err() != nil
	s.finish(h, agg, len(cands))
}

func (s *Scheduler) finish(h *Handle, agg report.Aggregated, total int) {
	failed := agg.Failed()
	metrics.RecordBatch(string(agg.Endpoint), agg.Cancelled, len(agg.Entries)-failed, failed)

	s.mu.Lock()
	s.recent[agg.ID] = cloneAggregated(agg)
	s.order = append(s.order, agg.ID)
	if len(s.order) > recentLimit {
		delete(s.recent, s.order[0])
		s.order = s.order[1:]
	}
	s.mu.Unlock()

	// History lands before Done is signalled: a caller returning from Run
	// may read the summary back immediately.
	s.recordHistory(agg, total)

	h.mu.Lock()
	h.agg = agg
	h.finished = true
	h.mu.Unlock()
	close(h.done)

	s.events.Publish(Event{
		Type:      EventFinished,
		BatchID:   agg.ID,
		Endpoint:  string(agg.Endpoint),
		Completed: len(agg.Entries),
		Total:     total,
		Failed:    failed,
		Cancelled: agg.Cancelled,
	})

	if agg.Cancelled {
		s.log.Infof("batch %s cancelled after %d of %d entries", agg.ID, len(agg.Entries), total)
	} else {
		s.log.Infof("batch %s finished: %d entries, %d failed", agg.ID, len(agg.Entries), failed)
	}
}

func (s *Scheduler) recordHistory(agg report.Aggregated, total int) {
	if s.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := storage.BatchRecord{
		ID:         agg.ID,
		Endpoint:   string(agg.Endpoint),
		DateStart:  agg.DateStart,
		DateEnd:    agg.DateEnd,
		Total:      total,
		Failed:     agg.Failed(),
		Cancelled:  agg.Cancelled,
		StartedAt:  agg.StartedAt,
		FinishedAt: agg.FinishedAt,
	}
	if err := s.history.RecordBatch(ctx, rec); err != nil {
		s.log.WithError(err).Warn("record batch history failed")
	}
}

func buildCandidates(req Request) []candidate {
	var selected map[string]bool
	if req.Selection != nil {
		selected = make(map[string]bool, len(req.Selection))
		for _, id := range req.Selection {
			selected[id] = true
		}
	}

	var cands []candidate
	for _, acct := range req.Accounts {
		for _, storeID := range acct.StoreIDs {
			if selected != nil && !selected[storeID] {
				continue
			}
			cands = append(cands, candidate{
				accountName: acct.Name,
				fetch: report.FetchRequest{
					Endpoint:     req.Endpoint,
					StoreID:      storeID,
					DateStart:    req.DateStart,
					DateEnd:      req.DateEnd,
					ClientID:     acct.ClientID,
					ClientSecret: acct.ClientSecret,
				},
			})
		}
	}
	return cands
}

func cloneAggregated(agg report.Aggregated) report.Aggregated {
	agg.Entries = append([]report.Entry(nil), agg.Entries...)
	return agg
}
