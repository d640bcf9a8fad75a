package app

import (
	"context"
	"fmt"
	"time"

	"github.com/liveiq-tools/report-layer/internal/app/errlog"
	"github.com/liveiq-tools/report-layer/internal/app/extension"
	"github.com/liveiq-tools/report-layer/internal/app/normalize"
	"github.com/liveiq-tools/report-layer/internal/app/services/batch"
	"github.com/liveiq-tools/report-layer/internal/app/services/discovery"
	"github.com/liveiq-tools/report-layer/internal/app/services/gateway"
	"github.com/liveiq-tools/report-layer/internal/app/services/registry"
	"github.com/liveiq-tools/report-layer/internal/app/services/schedule"
	"github.com/liveiq-tools/report-layer/internal/app/storage"
	"github.com/liveiq-tools/report-layer/internal/app/system"
	"github.com/liveiq-tools/report-layer/internal/config"
	"github.com/liveiq-tools/report-layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Accounts storage.AccountStore
	History  storage.HistoryStore
}

// Application ties the report services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	started time.Time

	Errors    *errlog.Log
	Registry  *registry.Service
	Gateway   *gateway.Service
	Discovery *discovery.Service
	Refresher *discovery.Refresher
	Scheduler *batch.Scheduler
	Schedule  *schedule.Service
	History   storage.HistoryStore
}

// New builds a fully initialised application from the configuration and the
// provided stores. Accounts are not loaded here; callers run Registry.Load
// and an initial discovery sweep once construction succeeds.
func New(cfg *config.Config, stores Stores, errs *errlog.Log, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := storage.NewMemory()
	if stores.Accounts == nil {
		stores.Accounts = mem
	}
	if stores.History == nil {
		stores.History = mem
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultBaseURL
	}

	reg, err := registry.New(stores.Accounts, errs, log.WithComponent("registry"))
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	gw, err := gateway.New(gateway.Config{
		BaseURL:       baseURL,
		Timeout:       time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
		MaxAttempts:   cfg.Fetch.MaxAttempts,
		BackoffBase:   time.Duration(cfg.Fetch.BackoffBaseMS) * time.Millisecond,
		BackoffFactor: cfg.Fetch.BackoffFactor,
		RatePerMinute: cfg.Fetch.RatePerMinute,
		Burst:         cfg.Fetch.Burst,
	}, log.WithComponent("gateway"))
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}

	disc, err := discovery.New(gw, stores.Accounts, errs, discovery.Config{
		PageSize: cfg.Discovery.PageSize,
		MaxPages: cfg.Discovery.MaxPages,
	}, log.WithComponent("discovery"))
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}

	sched, err := batch.New(gw, stores.History, cfg.Batch.MaxConcurrency, log.WithComponent("batch"))
	if err != nil {
		return nil, fmt.Errorf("batch scheduler: %w", err)
	}

	pulls, err := schedule.New(reg, sched, errs, cfg.Schedules, log.WithComponent("schedule"))
	if err != nil {
		return nil, fmt.Errorf("schedule: %w", err)
	}

	refresher := discovery.NewRefresher(disc,
		time.Duration(cfg.Discovery.RefreshIntervalMinutes)*time.Minute,
		log.WithComponent("discovery"))

	manager := system.NewManager(log)
	manager.Register(refresher)
	manager.Register(pulls)

	return &Application{
		manager:   manager,
		log:       log,
		started:   time.Now(),
		Errors:    errs,
		Registry:  reg,
		Gateway:   gw,
		Discovery: disc,
		Refresher: refresher,
		Scheduler: sched,
		Schedule:  pulls,
		History:   stores.History,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) {
	a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services and cancels any in-flight batch.
func (a *Application) Stop(ctx context.Context) {
	a.manager.Stop(ctx)
	a.Scheduler.Shutdown()
}

// Uptime reports how long ago the application was constructed.
func (a *Application) Uptime() time.Duration {
	return time.Since(a.started)
}

// ExtensionContext snapshots the roster into the bundle handed to an
// extension. A nil selection means every discovered store; an empty one
// selects none.
func (a *Application) ExtensionContext(ctx context.Context, selection []string) (*extension.Context, error) {
	accounts, err := a.Registry.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot accounts: %w", err)
	}
	byAccount, err := a.Registry.StoresByAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot stores: %w", err)
	}

	var sel map[string]bool
	if selection != nil {
		sel = make(map[string]bool, len(selection))
		for _, id := range selection {
			sel[id] = true
		}
	}

	return &extension.Context{
		Accounts:        accounts,
		Selection:       sel,
		StoresByAccount: byAccount,
		Fetch:           a.Gateway.Fetch,
		Flatten:         normalize.Flatten,
		Logf: func(format string, args ...any) {
			a.log.Warnf(format, args...)
			if a.Errors == nil {
				return
			}
			if err := a.Errors.Appendf(format, args...); err != nil {
				a.log.WithError(err).Warn("error log append failed")
			}
		},
	}, nil
}
