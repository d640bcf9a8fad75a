// Package schedule fires recurring report pulls declared in
// configuration. Each entry names an endpoint, a cron expression and a
// date-range preset; triggers snapshot the account registry and run a
// standalone batch so they never interfere with interactive fetches.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/liveiq-tools/report-layer/internal/app/domain/account"
	"github.com/liveiq-tools/report-layer/internal/app/domain/endpoint"
	"github.com/liveiq-tools/report-layer/internal/app/domain/report"
	"github.com/liveiq-tools/report-layer/internal/app/errlog"
	"github.com/liveiq-tools/report-layer/internal/app/services/batch"
	"github.com/liveiq-tools/report-layer/internal/config"
	"github.com/liveiq-tools/report-layer/pkg/logger"
)

// Runner executes one batch synchronously.
type Runner interface {
	Run(ctx context.Context, req batch.Request) report.Aggregated
}

// AccountSource supplies the account snapshot a trigger runs against.
type AccountSource interface {
	Accounts(ctx context.Context) ([]account.Account, error)
}

// Entry is one validated schedule.
type Entry struct {
	Name     string            `json:"name"`
	Endpoint endpoint.Endpoint `json:"endpoint"`
	Spec     string            `json:"cron"`
	Range    report.Range      `json:"range"`
	Stores   []string          `json:"stores,omitempty"`
}

// Service runs configured schedules on a UTC cron clock.
type Service struct {
	accounts AccountSource
	runner   Runner
	errs     *errlog.Log
	log      *logger.Logger

	entries []Entry

	mu      sync.Mutex
	cron    *cron.Cron
	runCtx  context.Context
	cancel  context.CancelFunc
	running bool
}

// New validates the configured entries and keeps the valid ones.
// Malformed entries are skipped and reported, mirroring how malformed
// account records degrade.
func New(accounts AccountSource, runner Runner, errs *errlog.Log, entries []config.ScheduleEntry, log *logger.Logger) (*Service, error) {
	if accounts == nil {
		return nil, fmt.Errorf("account source is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if log == nil {
		log = logger.NewDefault("schedule")
	}

	s := &Service{accounts: accounts, runner: runner, errs: errs, log: log}
	for i, raw := range entries {
		entry, err := validate(raw)
		if err != nil {
			label := strings.TrimSpace(raw.Name)
			if label == "" {
				label = fmt.Sprintf("entry %d", i+1)
			}
			s.log.WithField("schedule", label).WithError(err).Warn("schedule entry skipped")
			s.appendError("%s: schedule %s skipped: %v", report.KindConfigError, label, err)
			continue
		}
		s.entries = append(s.entries, entry)
	}
	return s, nil
}

func validate(e config.ScheduleEntry) (Entry, error) {
	if strings.TrimSpace(e.Name) == "" {
		return Entry{}, fmt.Errorf("missing name")
	}
	ep, ok := endpoint.Lookup(e.Endpoint)
	if !ok {
		return Entry{}, fmt.Errorf("unknown endpoint %q", e.Endpoint)
	}
	if _, err := cron.ParseStandard(e.Cron); err != nil {
		return Entry{}, fmt.Errorf("bad cron expression %q: %w", e.Cron, err)
	}

	rng := report.Range(e.Range)
	if strings.TrimSpace(e.Range) == "" {
		rng = report.RangeToday
	}
	if _, _, err := rng.Resolve(time.Now()); err != nil {
		return Entry{}, err
	}

	entry := Entry{Name: e.Name, Endpoint: ep, Spec: e.Cron, Range: rng}
	if len(e.Stores) > 0 {
		entry.Stores = append([]string(nil), e.Stores...)
	}
	return entry, nil
}

// Entries returns the validated schedules.
func (s *Service) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Name implements system.Service.
func (s *Service) Name() string { return "schedule" }

// Start registers every entry with a UTC cron runner.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("schedule service already running")
	}
	s.running = true
	if len(s.entries) == 0 {
		s.log.Info("no schedules configured")
		return nil
	}

	s.runCtx, s.cancel = context.WithCancel(context.Background())
	c := cron.New(cron.WithLocation(time.UTC))
	for _, entry := range s.entries {
		e := entry
		if _, err := c.AddFunc(e.Spec, func() { s.fire(s.runCtx, e) }); err != nil {
			s.cancel()
			s.running = false
			return fmt.Errorf("add schedule %s: %w", e.Name, err)
		}
	}
	c.Start()
	s.cron = c
	s.log.Infof("%d schedules active", len(s.entries))
	return nil
}

// Stop halts the cron clock and waits for running triggers to finish,
// up to ctx's deadline.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	if s.cancel != nil {
		s.cancel()
	}
	if s.cron == nil {
		return nil
	}

	done := s.cron.Stop().Done()
	s.cron = nil
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fire runs one triggered pull. Failures degrade to error-log lines;
// a trigger never takes the service down.
func (s *Service) fire(ctx context.Context, e Entry) {
	start, end, err := e.Range.Resolve(time.Now())
	if err != nil {
		s.appendError("schedule %s: %v", e.Name, err)
		return
	}

	accts, err := s.accounts.Accounts(ctx)
	if err != nil {
		s.log.WithField("schedule", e.Name).WithError(err).Warn("account snapshot failed")
		s.appendError("schedule %s: account snapshot failed: %v", e.Name, err)
		return
	}

	req := batch.Request{
		Endpoint:  e.Endpoint,
		DateStart: start,
		DateEnd:   end,
		Accounts:  accts,
	}
	if len(e.Stores) > 0 {
		req.Selection = append([]string(nil), e.Stores...)
	}

	s.log.Infof("schedule %s: %s %s..%s", e.Name, e.Endpoint, start, end)
	agg := s.runner.Run(ctx, req)

	if failed := agg.Failed(); failed > 0 {
		s.appendError("schedule %s: %d of %d requests failed", e.Name, failed, len(agg.Entries))
	}
	if agg.Cancelled {
		s.log.Warnf("schedule %s: batch cancelled before completion", e.Name)
		return
	}
	s.log.Infof("schedule %s finished: %d entries, %d failed", e.Name, len(agg.Entries), agg.Failed())
}

func (s *Service) appendError(format string, args ...any) {
	if s.errs == nil {
		return
	}
	if err := s.errs.Appendf(format, args...); err != nil {
		s.log.WithError(err).Warn("error log append failed")
	}
}
