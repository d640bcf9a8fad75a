package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/liveiq-tools/report-layer/internal/app/system"
	"github.com/liveiq-tools/report-layer/pkg/logger"
)

var _ system.Service = (*Refresher)(nil)

// Refresher periodically re-runs store discovery so store sets track
// upstream changes (stores opening, closing, changing hands) without a
// process restart.
type Refresher struct {
	service  *Service
	log      *logger.Logger
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewRefresher constructs a lifecycle-managed discovery refresher. A
// non-positive interval disables the periodic sweep.
func NewRefresher(service *Service, interval time.Duration, log *logger.Logger) *Refresher {
	if log == nil {
		log = logger.NewDefault("discovery-refresher")
	}
	return &Refresher{service: service, interval: interval, log: log}
}

func (r *Refresher) Name() string { return "discovery-refresher" }

func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.interval <= 0 {
		r.mu.Unlock()
		r.log.Info("periodic store discovery disabled")
		return nil
	}
	if r.running {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := r.service.Refresh(runCtx); err != nil && runCtx.Err() == nil {
					r.log.WithError(err).Warn("periodic store discovery failed")
				}
			}
		}
	}()

	r.log.Infof("discovery refresher started (every %s)", r.interval)
	return nil
}

func (r *Refresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.log.Info("discovery refresher stopped")
	return nil
}
