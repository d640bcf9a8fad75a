// Package registry manages the account roster: loading credential pairs
// from configuration, validating them, and exposing read snapshots to the
// rest of the application. Store sets are written exclusively by the
// discovery service through ReplaceStores.
package registry

import (
	"context"
	"fmt"

	"github.com/liveiq-tools/report-layer/internal/app/domain/account"
	"github.com/liveiq-tools/report-layer/internal/app/domain/report"
	"github.com/liveiq-tools/report-layer/internal/app/errlog"
	"github.com/liveiq-tools/report-layer/internal/app/storage"
	"github.com/liveiq-tools/report-layer/internal/config"
	"github.com/liveiq-tools/report-layer/pkg/logger"
)

// Service owns the account roster.
type Service struct {
	store storage.AccountStore
	errs  *errlog.Log
	log   *logger.Logger
}

// New constructs an account registry.
func New(store storage.AccountStore, errs *errlog.Log, log *logger.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("account store is required")
	}
	if log == nil {
		log = logger.NewDefault("registry")
	}
	return &Service{store: store, errs: errs, log: log}, nil
}

// Load validates the configured account entries and seeds the store with
// the valid ones. Malformed entries (missing name, missing credentials,
// duplicate names) are skipped and reported, never fatal: the load always
// completes and returns how many accounts survived. Whether zero is
// acceptable is the caller's call.
func (s *Service) Load(ctx context.Context, entries []config.AccountEntry) (int, error) {
	seen := make(map[string]bool, len(entries))
	loaded := 0

	for i, entry := range entries {
		if reason := validate(entry, seen); reason != "" {
			s.reportConfigError(i, entry.Name, reason)
			continue
		}
		seen[entry.Name] = true

		acct := account.Account{
			Name:         entry.Name,
			ClientID:     entry.ClientID,
			ClientSecret: entry.ClientSecret,
			Status:       account.StatusActive,
		}
		if err := s.store.PutAccount(ctx, acct); err != nil {
			return loaded, fmt.Errorf("store account %s: %w", entry.Name, err)
		}
		loaded++
	}

	if loaded == 0 && len(entries) > 0 {
		s.appendError("%s: no valid accounts in configuration", report.KindConfigError)
	}

	s.log.Infof("loaded %d of %d configured accounts", loaded, len(entries))
	return loaded, nil
}

func validate(entry config.AccountEntry, seen map[string]bool) string {
	switch {
	case entry.Name == "":
		return "missing name"
	case entry.ClientID == "":
		return "missing client_id"
	case entry.ClientSecret == "":
		return "missing client_secret"
	case seen[entry.Name]:
		return "duplicate name"
	}
	return ""
}

func (s *Service) reportConfigError(index int, name, reason string) {
	label := name
	if label == "" {
		label = fmt.Sprintf("entry %d", index+1)
	}
	s.log.Warnf("skipping account %s: %s", label, reason)
	s.appendError("%s: account %s skipped: %s", report.KindConfigError, label, reason)
}

func (s *Service) appendError(format string, args ...any) {
	if s.errs == nil {
		return
	}
	if err := s.errs.Appendf(format, args...); err != nil {
		s.log.WithError(err).Warn("error log write failed")
	}
}

// Accounts returns a snapshot of every account in configuration order.
func (s *Service) Accounts(ctx context.Context) ([]account.Account, error) {
	return s.store.ListAccounts(ctx)
}

// Account returns a snapshot of one account by name.
func (s *Service) Account(ctx context.Context, name string) (account.Account, error) {
	return s.store.GetAccount(ctx, name)
}

// StoresByAccount maps every account name to its current store set.
// Accounts in error state keep their stale set, so a transient discovery
// outage does not empty the fetch plan.
func (s *Service) StoresByAccount(ctx context.Context) (map[string][]string, error) {
	accts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]string, len(accts))
	for _, acct := range accts {
		out[acct.Name] = acct.StoreIDs
	}
	return out, nil
}

// AllStores returns the union of every account's store set, de-duplicated
// and sorted numerically where possible.
func (s *Service) AllStores(ctx context.Context) ([]string, error) {
	accts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var ids []string
	for _, acct := range accts {
		for _, id := range acct.StoreIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return report.SortStoreIDs(ids), nil
}
