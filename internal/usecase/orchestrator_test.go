package usecase_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ecscrape/scraper-service/internal/auth"
	"github.com/ecscrape/scraper-service/internal/changedetect"
	"github.com/ecscrape/scraper-service/internal/crawler"
	"github.com/ecscrape/scraper-service/internal/entity"
	"github.com/ecscrape/scraper-service/internal/repository"
	"github.com/ecscrape/scraper-service/internal/traffic"
	"github.com/ecscrape/scraper-service/internal/usecase"
	"github.com/ecscrape/scraper-service/pkg/metrics"
)

type harness struct {
	accounts  *fakeAccounts
	records   *fakeRecords
	traffic   *fakeTraffic
	snapshots *memSnapshots
	crawler   *fakeCrawler
	orch      usecase.Orchestrator
}

func newHarness(t *testing.T, workers int, targets fakeTargets, accounts ...*entity.Account) *harness {
	t.Helper()
	return newHarnessWith(t, nopFetcher{}, noConfigs{}, workers, targets, accounts...)
}

func newHarnessWith(t *testing.T, f repository.Fetcher, configs repository.ConfigRepository, workers int, targets fakeTargets, accounts ...*entity.Account) *harness {
	t.Helper()
	h := &harness{
		accounts:  newFakeAccounts(accounts...),
		records:   &fakeRecords{},
		traffic:   &fakeTraffic{},
		snapshots: &memSnapshots{},
		crawler: &fakeCrawler{site: "shop", orders: map[int64][]string{
			1: {"A-2", "A-1"},
			2: {"B-1"},
			3: {"C-3", "C-2", "C-1"},
		}},
	}
	logger := zap.NewNop()
	m := metrics.NewNop()
	h.orch = usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Accounts: h.accounts,
		Records:  h.records,
		Traffic:  h.traffic,
		Targets:  targets,
		Sessions: traffic.NewManager(f, nil, traffic.Options{}, m, logger),
		Auth:     auth.NewRegistry(configs, logger, fakeProvider{site: "shop"}),
		Crawlers: crawler.NewRegistry(configs, nil, crawler.Options{}, logger, h.crawler),
		Changes:  changedetect.NewStore(h.snapshots, nil, 0, logger),
	}, usecase.OrchestratorOptions{Workers: workers, BatchTimeout: 10 * time.Second}, m, logger)
	return h
}

func account(id int64, password, blob string) *entity.Account {
	return &entity.Account{ID: id, Site: "shop", LoginID: "user", Password: password, Active: true, SessionBlob: blob}
}

func historyBatch(mode entity.Mode) usecase.BatchRequest {
	return usecase.BatchRequest{Kind: entity.KindPurchaseHistory, Sites: []string{"shop"}, Mode: mode}
}

func TestRunBatch_OneAuthFailureIsIsolated(t *testing.T) {
	h := newHarness(t, 3, nil, account(1, "secret", ""), account(2, "wrong", ""), account(3, "secret", "{}"))

	sum, err := h.orch.RunBatch(context.Background(), historyBatch(entity.ModeLive))
	require.NoError(t, err)
	require.Len(t, sum.Outcomes, 3)

	failed := sum.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, int64(2), failed[0].AccountID)
	assert.Equal(t, entity.StateAuthenticating, failed[0].FailedAt)
	assert.Equal(t, entity.CauseAuth, failed[0].Cause)

	require.Len(t, h.accounts.failures, 1)
	assert.Equal(t, int64(2), h.accounts.failures[0].AccountID)
	assert.Equal(t, entity.CauseAuth, h.accounts.failures[0].Cause)

	// only the fresh login stores a new session; account 3 was restored
	assert.Contains(t, h.accounts.blobs, int64(1))
	assert.NotContains(t, h.accounts.blobs, int64(3))

	assert.Len(t, h.records.saved, 5)
	for _, r := range h.records.saved {
		assert.NotZero(t, r.AccountID)
	}
	assert.Len(t, h.traffic.summaries, 3, "every unit finishes its session")
	for _, o := range sum.Succeeded() {
		assert.Equal(t, entity.StateDone, o.State)
		assert.Equal(t, o.Fetched, o.Changed)
	}
}

func TestRunBatch_UnchangedRecordsAreNotWritten(t *testing.T) {
	h := newHarness(t, 2, nil, account(1, "secret", ""), account(3, "secret", ""))

	_, err := h.orch.RunBatch(context.Background(), historyBatch(entity.ModeLive))
	require.NoError(t, err)
	saves, stores := h.records.saves, h.snapshots.stores
	require.Equal(t, 2, saves)
	require.Equal(t, 5, stores)

	sum, err := h.orch.RunBatch(context.Background(), historyBatch(entity.ModeLive))
	require.NoError(t, err)
	assert.Equal(t, saves, h.records.saves)
	assert.Equal(t, stores, h.snapshots.stores)
	for _, o := range sum.Outcomes {
		assert.Equal(t, entity.StateDone, o.State)
		assert.Zero(t, o.Changed)
	}
}

func TestRunBatch_Modes(t *testing.T) {
	h := newHarness(t, 1, nil, account(1, "secret", ""))

	sum, err := h.orch.RunBatch(context.Background(), historyBatch(entity.ModeCheck))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Outcomes[0].Changed)
	assert.Zero(t, h.snapshots.stores, "check never writes")
	assert.Zero(t, h.records.saves)

	sum, err = h.orch.RunBatch(context.Background(), historyBatch(entity.ModeInit))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Outcomes[0].Changed)
	assert.Equal(t, 2, h.snapshots.stores)
	assert.Zero(t, h.records.saves, "init only commits snapshots")

	sum, err = h.orch.RunBatch(context.Background(), historyBatch(entity.ModeCheck))
	require.NoError(t, err)
	assert.Zero(t, sum.Outcomes[0].Changed)

	// No checkpoint after init: live reads the full history and writes nothing.
	sum, err = h.orch.RunBatch(context.Background(), historyBatch(entity.ModeLive))
	require.NoError(t, err)
	assert.Zero(t, sum.Outcomes[0].Changed)
	assert.Nil(t, h.crawler.lastKnown)
	assert.Zero(t, h.records.saves)
}

func TestRunBatch_PassesCheckpoint(t *testing.T) {
	h := newHarness(t, 1, nil, account(1, "secret", ""), account(2, "secret", ""))
	h.records.latest = map[int64]*entity.Record{1: {ID: "A-1"}}

	_, err := h.orch.RunBatch(context.Background(), historyBatch(entity.ModeLive))
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{1: "A-1"}, h.crawler.lastKnown)
}

func TestRunBatch_PersistenceFailureStopsBatch(t *testing.T) {
	h := newHarness(t, 1, nil, account(1, "secret", ""), account(2, "secret", ""), account(3, "secret", ""))
	h.records.saveErr = errDown

	sum, err := h.orch.RunBatch(context.Background(), historyBatch(entity.ModeLive))
	require.ErrorIs(t, err, entity.ErrPersistence)
	require.NotNil(t, sum)
	require.Len(t, sum.Outcomes, 3)

	assert.Equal(t, entity.CausePersistence, sum.Outcomes[0].Cause)
	assert.Equal(t, entity.StatePersisting, sum.Outcomes[0].FailedAt)
	for _, o := range sum.Outcomes[1:] {
		assert.Equal(t, entity.CauseCanceled, o.Cause)
		assert.Equal(t, entity.StateIdle, o.FailedAt)
	}
	assert.Equal(t, 1, h.records.saves)
	assert.Zero(t, h.snapshots.stores, "snapshots follow saved records")
}

func TestRunBatch_SessionUpdateFailureEscalates(t *testing.T) {
	h := newHarness(t, 1, nil, account(1, "secret", ""))
	h.accounts.updateErr = errDown

	sum, err := h.orch.RunBatch(context.Background(), historyBatch(entity.ModeLive))
	require.ErrorIs(t, err, entity.ErrPersistence)
	assert.Equal(t, entity.StateAuthenticating, sum.Outcomes[0].FailedAt)
	assert.Zero(t, h.crawler.calls)
}

func TestRunBatch_UnknownSiteFailsBeforeAnyUnit(t *testing.T) {
	h := newHarness(t, 1, nil, account(1, "secret", ""))

	sum, err := h.orch.RunBatch(context.Background(), usecase.BatchRequest{
		Kind:  entity.KindPurchaseHistory,
		Sites: []string{"shop", "elsewhere"},
	})
	require.ErrorIs(t, err, entity.ErrConfigInvalid)
	assert.Nil(t, sum)
	assert.Zero(t, h.crawler.calls)
	assert.Empty(t, h.traffic.summaries)
}

func TestRunBatch_ProductTargets(t *testing.T) {
	h := newHarness(t, 2, fakeTargets{"shop": {"P1", "broken", "P2"}})

	sum, err := h.orch.RunBatch(context.Background(), usecase.BatchRequest{Kind: entity.KindProduct})
	require.NoError(t, err)
	require.Len(t, sum.Outcomes, 3)
	assert.Equal(t, []string{"shop"}, sum.Sites)

	byKey := make(map[string]entity.Outcome)
	for _, o := range sum.Outcomes {
		byKey[o.Key] = o
	}
	assert.Equal(t, entity.StateDone, byKey["P1"].State)
	assert.Equal(t, entity.CauseParse, byKey["broken"].Cause)
	assert.Equal(t, entity.StateCrawling, byKey["broken"].FailedAt)
	assert.Empty(t, h.accounts.failures, "anonymous units have no account to blame")
	assert.Len(t, h.records.saved, 2)
}

func TestRunBatch_RejectsUnknownMode(t *testing.T) {
	h := newHarness(t, 1, nil)
	_, err := h.orch.RunBatch(context.Background(), usecase.BatchRequest{Kind: entity.KindProduct, Mode: "replay"})
	require.Error(t, err)
}

func TestRunBatch_CanceledBeforeStart(t *testing.T) {
	h := newHarness(t, 1, nil, account(1, "secret", ""), account(2, "secret", ""))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := h.orch.RunBatch(ctx, historyBatch(entity.ModeLive))
	require.NoError(t, err)
	for _, o := range sum.Outcomes {
		assert.True(t, o.Failed())
		assert.Equal(t, entity.CauseCanceled, o.Cause)
	}
	assert.Empty(t, h.accounts.failures)
}

func TestRunBatch_ConfigurationWithoutURLFailsBeforeAnyUnit(t *testing.T) {
	configs := staticConfigs{"plain/purchase_history": "- {locator: tr, repeat: true}\n- {field: order_no, locator: .id}\n"}
	plain := func(id int64) *entity.Account {
		a := account(id, "secret", "{}")
		a.Site = "plain"
		return a
	}
	h := newHarnessWith(t, nopFetcher{}, configs, 2, nil, plain(1), plain(2))

	sum, err := h.orch.RunBatch(context.Background(), usecase.BatchRequest{Kind: entity.KindPurchaseHistory, Sites: []string{"plain"}})
	require.ErrorIs(t, err, entity.ErrConfigInvalid)
	assert.ErrorContains(t, err, "has no url")
	assert.Nil(t, sum)
	assert.Empty(t, h.accounts.failures)
	assert.Empty(t, h.traffic.summaries)
}

func TestRunBatch_ConfigFailureInsideUnitStopsBatch(t *testing.T) {
	h := newHarness(t, 1, nil, account(1, "secret", "{}"), account(2, "secret", "{}"))
	h.crawler.historyErr = map[int64]error{1: fmt.Errorf("%w: history configuration has no url", entity.ErrConfigInvalid)}

	sum, err := h.orch.RunBatch(context.Background(), historyBatch(entity.ModeLive))
	require.ErrorIs(t, err, entity.ErrConfigInvalid)
	require.NotNil(t, sum)
	require.Len(t, sum.Outcomes, 2)

	assert.Equal(t, entity.CauseConfig, sum.Outcomes[0].Cause)
	assert.Equal(t, entity.StateCrawling, sum.Outcomes[0].FailedAt)
	assert.Equal(t, entity.CauseCanceled, sum.Outcomes[1].Cause)
	assert.Empty(t, h.accounts.failures, "a configuration problem is not the account's fault")
}

func TestRunBatch_CanceledDuringFetch(t *testing.T) {
	f := &blockingFetcher{entered: make(chan struct{})}
	h := newHarnessWith(t, f, noConfigs{}, 1, nil, account(1, "secret", "{}"))
	h.crawler.fetchURL = "https://shop.example/orders"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-f.entered
		cancel()
	}()

	sum, err := h.orch.RunBatch(ctx, historyBatch(entity.ModeLive))
	require.NoError(t, err)
	require.Len(t, sum.Outcomes, 1)

	out := sum.Outcomes[0]
	assert.Equal(t, entity.StateAccountFailed, out.State)
	assert.Equal(t, entity.StateCrawling, out.FailedAt)
	assert.Equal(t, entity.CauseCanceled, out.Cause)
	assert.Empty(t, h.accounts.failures)
	require.Len(t, h.traffic.summaries, 1, "traffic is saved for a canceled unit")
	assert.Equal(t, 1, h.traffic.summaries[0].Requests)
}
