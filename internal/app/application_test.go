package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liveiq-tools/report-layer/internal/app/domain/account"
	"github.com/liveiq-tools/report-layer/internal/app/domain/endpoint"
	"github.com/liveiq-tools/report-layer/internal/app/errlog"
	"github.com/liveiq-tools/report-layer/internal/app/services/batch"
	"github.com/liveiq-tools/report-layer/internal/config"
	"github.com/liveiq-tools/report-layer/pkg/testutil"
)

// newScenario wires a full application against a scripted upstream: two
// working credentials, one broken one, and a sales payload every store
// answers with.
func newScenario(t *testing.T) (*Application, string) {
	t.Helper()

	up := testutil.NewUpstream(t)
	up.SetStores("id-east", "101", "102")
	up.SetStores("id-west", "201")
	up.SetReport("SalesSummary", `{"data":[{"netSales":120.5}]}`)

	logPath := filepath.Join(t.TempDir(), "error_log.txt")
	errs, err := errlog.Open(logPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = errs.Close() })

	cfg := &config.Config{
		BaseURL: up.URL(),
		Batch:   config.BatchConfig{MaxConcurrency: 4},
	}
	application, err := New(cfg, Stores{}, errs, nil)
	require.NoError(t, err)

	_, err = application.Registry.Load(context.Background(), []config.AccountEntry{
		{Name: "east", ClientID: "id-east", ClientSecret: "sec-east"},
		{Name: "west", ClientID: "id-west", ClientSecret: "sec-west"},
		{Name: "ghost", ClientID: "id-ghost", ClientSecret: "sec-ghost"},
	})
	require.NoError(t, err)

	return application, logPath
}

// =============================================================================
// Discovery + Pull Scenario
// =============================================================================

func TestApplicationPullScenario(t *testing.T) {
	application, logPath := newScenario(t)
	ctx := context.Background()

	require.NoError(t, application.Discovery.Refresh(ctx))

	// Verify per-account degradation: the bad credential is flagged while
	// the good ones carry their discovered stores.
	east, err := application.Registry.Account(ctx, "east")
	require.NoError(t, err)
	assert.Equal(t, account.StatusActive, east.Status)
	assert.Len(t, east.StoreIDs, 2)

	ghost, err := application.Registry.Account(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, account.StatusError, ghost.Status)
	assert.Empty(t, ghost.StoreIDs)
	assert.NotEmpty(t, ghost.LastError)

	// Verify the failed discovery landed in the operator error log.
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "DiscoveryError")
	assert.Contains(t, string(data), "ghost")

	accounts, err := application.Registry.Accounts(ctx)
	require.NoError(t, err)
	agg := application.Scheduler.Run(ctx, batch.Request{
		Endpoint:  endpoint.SalesSummary,
		DateStart: "2024-05-14",
		DateEnd:   "2024-05-14",
		Accounts:  accounts,
	})

	// Verify the fan-out reached every discovered store and only those;
	// the flagged account contributes no candidates.
	require.Len(t, agg.Entries, 3)
	assert.Equal(t, 0, agg.Failed())
	assert.False(t, agg.Cancelled)
	for _, e := range agg.Entries {
		assert.True(t, e.Result.OK, "store %s", e.StoreID)
		assert.Contains(t, string(e.Result.Payload), "netSales")
	}

	// Verify the run was summarised into history.
	recs, err := application.History.ListBatches(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, agg.ID, recs[0].ID)
	assert.Equal(t, 3, recs[0].Total)
	assert.Equal(t, 0, recs[0].Failed)
}

// =============================================================================
// Extension Context Scenario
// =============================================================================

func TestApplicationExtensionContext(t *testing.T) {
	application, logPath := newScenario(t)
	ctx := context.Background()

	require.NoError(t, application.Discovery.Refresh(ctx))

	bundle, err := application.ExtensionContext(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, bundle.Accounts, 3)
	assert.Nil(t, bundle.Selection)
	assert.Len(t, bundle.StoresByAccount["east"], 2)
	assert.Len(t, bundle.StoresByAccount["west"], 1)
	require.NotNil(t, bundle.Fetch)
	require.NotNil(t, bundle.Flatten)

	scoped, err := application.ExtensionContext(ctx, []string{"101"})
	require.NoError(t, err)
	require.NotNil(t, scoped.Selection)
	assert.True(t, scoped.Selection["101"])
	assert.False(t, scoped.Selection["102"])

	// Verify extension logging feeds the same operator error log.
	scoped.Logf("extension grumble: store %s", "101")
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "extension grumble: store 101")
}

// =============================================================================
// Lifecycle Scenario
// =============================================================================

func TestApplicationLifecycle(t *testing.T) {
	application, _ := newScenario(t)
	ctx := context.Background()

	require.NoError(t, application.Start(ctx))
	assert.Greater(t, application.Uptime(), time.Duration(0))

	application.Stop(ctx)
	// A second Stop is harmless.
	application.Stop(ctx)
}
