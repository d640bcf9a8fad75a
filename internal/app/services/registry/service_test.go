package registry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/liveiq-tools/report-layer/internal/app/errlog"
	"github.com/liveiq-tools/report-layer/internal/app/storage"
	"github.com/liveiq-tools/report-layer/internal/config"
)

func newService(t *testing.T) (*Service, *storage.Memory, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "error_log.txt")
	errs, err := errlog.Open(path)
	if err != nil {
		t.Fatalf("open error log: %v", err)
	}
	t.Cleanup(func() { errs.Close() })

	store := storage.NewMemory()
	svc, err := New(store, errs, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return svc, store, path
}

func TestLoadSkipsMalformedEntries(t *testing.T) {
	svc, _, logPath := newService(t)

	entries := []config.AccountEntry{
		{Name: "alpha", ClientID: "id-a", ClientSecret: "key-a"},
		{Name: "", ClientID: "id-x", ClientSecret: "key-x"},
		{Name: "beta", ClientID: "", ClientSecret: "key-b"},
		{Name: "gamma", ClientID: "id-c", ClientSecret: ""},
		{Name: "alpha", ClientID: "id-dup", ClientSecret: "key-dup"},
		{Name: "delta", ClientID: "id-d", ClientSecret: "key-d"},
	}

	loaded, err := svc.Load(context.Background(), entries)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != 2 {
		t.Fatalf("loaded = %d, want 2", loaded)
	}

	accts, err := svc.Accounts(context.Background())
	if err != nil {
		t.Fatalf("accounts: %v", err)
	}
	if len(accts) != 2 || accts[0].Name != "alpha" || accts[1].Name != "delta" {
		t.Fatalf("accounts = %+v", accts)
	}
	// First occurrence of a duplicated name wins.
	if accts[0].ClientID != "id-a" {
		t.Errorf("alpha client id = %s, want id-a", accts[0].ClientID)
	}

	raw, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read error log: %v", err)
	}
	text := string(raw)
	if got := strings.Count(text, "ConfigError"); got != 4 {
		t.Errorf("config error lines = %d, want 4\n%s", got, text)
	}
	for _, want := range []string{"entry 2 skipped: missing name", "beta skipped: missing client_id", "gamma skipped: missing client_secret", "alpha skipped: duplicate name"} {
		if !strings.Contains(text, want) {
			t.Errorf("error log missing %q\n%s", want, text)
		}
	}
}

func TestLoadReportsWhenNothingValid(t *testing.T) {
	svc, _, logPath := newService(t)

	loaded, err := svc.Load(context.Background(), []config.AccountEntry{{Name: "x"}})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != 0 {
		t.Fatalf("loaded = %d, want 0", loaded)
	}

	raw, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read error log: %v", err)
	}
	if !strings.Contains(string(raw), "no valid accounts in configuration") {
		t.Errorf("error log missing summary line:\n%s", raw)
	}
}

func TestStoresByAccountIncludesErroredAccounts(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	entries := []config.AccountEntry{
		{Name: "alpha", ClientID: "a", ClientSecret: "a"},
		{Name: "beta", ClientID: "b", ClientSecret: "b"},
	}
	if _, err := svc.Load(ctx, entries); err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := store.ReplaceStores(ctx, "alpha", []string{"200", "100"}, time.Now()); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := store.ReplaceStores(ctx, "beta", []string{"100", "50"}, time.Now()); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := store.MarkError(ctx, "beta", "discovery down"); err != nil {
		t.Fatalf("mark error: %v", err)
	}

	byAccount, err := svc.StoresByAccount(ctx)
	if err != nil {
		t.Fatalf("stores by account: %v", err)
	}
	if len(byAccount["beta"]) != 2 {
		t.Errorf("beta stale set = %v, want two stores", byAccount["beta"])
	}

	all, err := svc.AllStores(ctx)
	if err != nil {
		t.Fatalf("all stores: %v", err)
	}
	want := []string{"50", "100", "200"}
	if len(all) != len(want) {
		t.Fatalf("all stores = %v, want %v", all, want)
	}
	for i := range want {
		if all[i] != want[i] {
			t.Fatalf("all stores = %v, want %v", all, want)
		}
	}
}
