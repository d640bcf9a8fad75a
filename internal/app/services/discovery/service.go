// Package discovery enumerates the stores visible to each account's
// credentials. Discovery is best-effort: a failing account keeps its
// previously known store set and is flagged, and the rest of the
// application stays usable on partial data.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/liveiq-tools/report-layer/internal/app/domain/account"
	"github.com/liveiq-tools/report-layer/internal/app/domain/endpoint"
	"github.com/liveiq-tools/report-layer/internal/app/domain/report"
	"github.com/liveiq-tools/report-layer/internal/app/errlog"
	"github.com/liveiq-tools/report-layer/internal/app/metrics"
	"github.com/liveiq-tools/report-layer/internal/app/normalize"
	"github.com/liveiq-tools/report-layer/internal/app/services/gateway"
	"github.com/liveiq-tools/report-layer/internal/app/storage"
	"github.com/liveiq-tools/report-layer/pkg/logger"
)

// Config controls pagination. The upstream ignores pagination parameters on
// some tenants and echoes the full list on every page, so the walk stops as
// soon as a page contributes nothing new.
type Config struct {
	PageSize int
	MaxPages int
}

func (c *Config) applyDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = 200
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 10
	}
}

// Service discovers store sets and writes them into the account store.
type Service struct {
	gw    *gateway.Service
	store storage.AccountStore
	errs  *errlog.Log
	cfg   Config
	log   *logger.Logger
}

// New constructs a discovery service.
func New(gw *gateway.Service, store storage.AccountStore, errs *errlog.Log, cfg Config, log *logger.Logger) (*Service, error) {
	if gw == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if store == nil {
		return nil, fmt.Errorf("account store is required")
	}
	cfg.applyDefaults()
	if log == nil {
		log = logger.NewDefault("discovery")
	}
	return &Service{gw: gw, store: store, errs: errs, cfg: cfg, log: log}, nil
}

// Discover walks the paginated store listing for one credential pair and
// returns the de-duplicated store ids in first-seen order. Any page failure
// fails the whole walk; the caller decides how to degrade.
func (s *Service) Discover(ctx context.Context, acct account.Account) ([]string, error) {
	seen := make(map[string]bool)
	stores := []string{}

	for page := 1; page <= s.cfg.MaxPages; page++ {
		path := fmt.Sprintf("%s?page=%d&pageSize=%d", endpoint.DiscoveryPath, page, s.cfg.PageSize)
		raw, err := s.gw.GetJSON(ctx, path, acct.ClientID, acct.ClientSecret)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}

		ids := parseStoreIDs(raw)
		if len(ids) == 0 {
			break
		}

		added := 0
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				stores = append(stores, id)
				added++
			}
		}
		if added == 0 || len(ids) < s.cfg.PageSize {
			break
		}
	}
	return stores, nil
}

// parseStoreIDs pulls restaurantNumber out of every element, tolerating
// both a bare array and a data-wrapped envelope. Elements without the field
// are skipped, matching how the listing has always been consumed.
func parseStoreIDs(raw json.RawMessage) []string {
	var ids []string
	gjson.ParseBytes(normalize.Unwrap(raw)).ForEach(func(_, elem gjson.Result) bool {
		if num := elem.Get("restaurantNumber"); num.Exists() && num.Type != gjson.Null {
			ids = append(ids, num.String())
		}
		return true
	})
	return ids
}

// Refresh runs discovery for every account. Failures degrade per account:
// the account is flagged, its stale store set stays in place, and the next
// account still runs. Only context cancellation aborts the sweep.
func (s *Service) Refresh(ctx context.Context) error {
	accts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	for _, acct := range accts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.refreshOne(ctx, acct)
	}
	return nil
}

// RefreshAccount runs discovery for a single account by name.
func (s *Service) RefreshAccount(ctx context.Context, name string) (account.Account, error) {
	acct, err := s.store.GetAccount(ctx, name)
	if err != nil {
		return account.Account{}, err
	}
	s.refreshOne(ctx, acct)
	return s.store.GetAccount(ctx, name)
}

func (s *Service) refreshOne(ctx context.Context, acct account.Account) {
	stores, err := s.Discover(ctx, acct)
	if err != nil {
		metrics.RecordDiscovery(acct.Name, 0, false)
		s.log.WithError(err).WithField("account", acct.Name).Warn("store discovery failed")
		s.appendError("%s: %s store fetch failed: %v", report.KindDiscoveryError, acct.Name, err)
		if markErr := s.store.MarkError(ctx, acct.Name, err.Error()); markErr != nil {
			s.log.WithError(markErr).WithField("account", acct.Name).Warn("mark account errored failed")
		}
		return
	}

	metrics.RecordDiscovery(acct.Name, len(stores), true)
	if err := s.store.ReplaceStores(ctx, acct.Name, report.SortStoreIDs(stores), time.Now().UTC()); err != nil {
		s.log.WithError(err).WithField("account", acct.Name).Warn("store set replacement failed")
		return
	}
	s.log.Infof("account %s: %d stores", acct.Name, len(stores))
}

func (s *Service) appendError(format string, args ...any) {
	if s.errs == nil {
		return
	}
	if err := s.errs.Appendf(format, args...); err != nil {
		s.log.WithError(err).Warn("error log write failed")
	}
}
