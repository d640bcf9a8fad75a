package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/liveiq-tools/report-layer/internal/app/domain/account"
)

// Memory is a thread-safe in-memory persistence layer implementing the
// storage interfaces defined in this package. Accounts keep their insertion
// order, which mirrors the order they appear in the configuration file.
type Memory struct {
	mu       sync.RWMutex
	accounts map[string]account.Account
	order    []string
	batches  []BatchRecord
}

var _ AccountStore = (*Memory)(nil)
var _ HistoryStore = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[string]account.Account),
	}
}

// AccountStore implementation -------------------------------------------------

func (m *Memory) PutAccount(_ context.Context, acct account.Account) error {
	if acct.Name == "" {
		return fmt.Errorf("account name is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.accounts[acct.Name]; !exists {
		m.order = append(m.order, acct.Name)
	}
	m.accounts[acct.Name] = acct.Clone()
	return nil
}

func (m *Memory) GetAccount(_ context.Context, name string) (account.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[name]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s not found", name)
	}
	return acct.Clone(), nil
}

func (m *Memory) ListAccounts(_ context.Context) ([]account.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]account.Account, 0, len(m.order))
	for _, name := range m.order {
		result = append(result, m.accounts[name].Clone())
	}
	return result, nil
}

func (m *Memory) ReplaceStores(_ context.Context, name string, storeIDs []string, discoveredAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[name]
	if !ok {
		return fmt.Errorf("account %s not found", name)
	}

	acct.StoreIDs = append([]string(nil), storeIDs...)
	acct.Status = account.StatusActive
	acct.DiscoveredAt = discoveredAt
	acct.LastError = ""

	m.accounts[name] = acct
	return nil
}

func (m *Memory) MarkError(_ context.Context, name, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[name]
	if !ok {
		return fmt.Errorf("account %s not found", name)
	}

	// The previous store set stays in place so an account that discovered
	// successfully once keeps working through a transient outage.
	acct.Status = account.StatusError
	acct.LastError = message

	m.accounts[name] = acct
	return nil
}

// HistoryStore implementation -------------------------------------------------

func (m *Memory) RecordBatch(_ context.Context, rec BatchRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("batch id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.batches = append(m.batches, rec)
	return nil
}

func (m *Memory) ListBatches(_ context.Context, limit int) ([]BatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Most recent first.
	result := make([]BatchRecord, 0, len(m.batches))
	for i := len(m.batches) - 1; i >= 0; i-- {
		result = append(result, m.batches[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}
