package runtime

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/liveiq-tools/report-layer/internal/config"
	"github.com/liveiq-tools/report-layer/pkg/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ErrorLog = filepath.Join(t.TempDir(), "error_log.txt")
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Logging.Output = "stderr"
	return cfg
}

func TestNewApplicationLoadsRoster(t *testing.T) {
	cfg := testConfig(t)
	cfg.Accounts = []config.AccountEntry{
		{Name: "east", ClientID: "id-east", ClientSecret: "sec"},
		{Name: "bad"},
	}

	rt, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	defer rt.Shutdown(context.Background())

	accts, err := rt.App().Registry.Accounts(context.Background())
	if err != nil {
		t.Fatalf("accounts: %v", err)
	}
	if len(accts) != 1 || accts[0].Name != "east" {
		t.Fatalf("expected only the valid account, got %+v", accts)
	}

	data, err := os.ReadFile(cfg.ErrorLog)
	if err != nil {
		t.Fatalf("read error log: %v", err)
	}
	if !strings.Contains(string(data), "ConfigError") {
		t.Fatalf("expected skipped account reported, got %q", data)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := testConfig(t)

	rt, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	if err := rt.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestRunDiscoversStoresOnStart(t *testing.T) {
	up := testutil.NewUpstream(t)
	up.SetStores("id-east", "101", "102")

	cfg := testConfig(t)
	cfg.BaseURL = up.URL()
	cfg.Accounts = []config.AccountEntry{
		{Name: "east", ClientID: "id-east", ClientSecret: "sec"},
	}

	rt, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	// Run refreshes the roster in the background; readiness of the server
	// never waits on it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		acct, err := rt.App().Registry.Account(context.Background(), "east")
		if err == nil && len(acct.StoreIDs) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stores never discovered: err=%v account=%+v", err, acct)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	if err := rt.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestShutdownWithoutRun(t *testing.T) {
	cfg := testConfig(t)

	rt, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := rt.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
