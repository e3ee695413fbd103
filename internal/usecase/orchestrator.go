package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ecscrape/scraper-service/internal/auth"
	"github.com/ecscrape/scraper-service/internal/changedetect"
	"github.com/ecscrape/scraper-service/internal/crawler"
	"github.com/ecscrape/scraper-service/internal/entity"
	"github.com/ecscrape/scraper-service/internal/keylock"
	"github.com/ecscrape/scraper-service/internal/repository"
	"github.com/ecscrape/scraper-service/internal/traffic"
	"github.com/ecscrape/scraper-service/pkg/metrics"
)

// BatchRequest selects what a batch crawls. Empty Sites means every site
// configured for Kind; an empty Mode means live.
type BatchRequest struct {
	Kind  entity.ResourceKind `json:"kind"`
	Sites []string            `json:"sites,omitempty"`
	Mode  entity.Mode         `json:"mode,omitempty"`
}

// Orchestrator runs crawl batches.
type Orchestrator interface {
	// RunBatch crawls every unit of the batch and reports one outcome per
	// unit. Failures of single units are reported in the summary; only an
	// invalid configuration or a persistence outage is returned as an error,
	// the latter together with the partial summary.
	RunBatch(ctx context.Context, req BatchRequest) (*entity.BatchSummary, error)
}

// OrchestratorDeps are the collaborators of the orchestrator.
type OrchestratorDeps struct {
	Accounts repository.AccountRepository
	Records  repository.RecordRepository
	Traffic  repository.TrafficRepository
	Targets  repository.TargetSource
	Sessions *traffic.Manager
	Auth     *auth.Registry
	Crawlers *crawler.Registry
	Changes  *changedetect.Store
	// Locks serializes work on one account across concurrent batches.
	Locks *keylock.Locks
}

// OrchestratorOptions tune the worker pool.
type OrchestratorOptions struct {
	Workers      int
	BatchTimeout time.Duration
}

type orchestrator struct {
	deps    OrchestratorDeps
	opts    OrchestratorOptions
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(deps OrchestratorDeps, opts OrchestratorOptions, m *metrics.Metrics, logger *zap.Logger) Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if deps.Locks == nil {
		deps.Locks = keylock.New(nil, 0)
	}
	return &orchestrator{deps: deps, opts: opts, metrics: m, logger: logger}
}

// unit is one (account or target key, kind) crawl attempt.
type unit struct {
	site    string
	kind    entity.ResourceKind
	mode    entity.Mode
	account *entity.Account
	key     string
	crawler crawler.Crawler
}

func (u unit) logFields() []zap.Field {
	fields := []zap.Field{zap.String("site", u.site), zap.String("kind", u.kind.String())}
	if u.account != nil {
		fields = append(fields, zap.Int64("account_id", u.account.ID))
	}
	if u.key != "" {
		fields = append(fields, zap.String("key", u.key))
	}
	return fields
}

func (o *orchestrator) RunBatch(ctx context.Context, req BatchRequest) (*entity.BatchSummary, error) {
	if req.Mode == "" {
		req.Mode = entity.ModeLive
	}
	switch req.Mode {
	case entity.ModeLive, entity.ModeInit, entity.ModeCheck:
	default:
		return nil, fmt.Errorf("unknown batch mode %q", req.Mode)
	}
	if _, err := entity.ParseResourceKind(req.Kind.String()); err != nil {
		return nil, err
	}

	sites := req.Sites
	if len(sites) == 0 {
		sites = o.deps.Targets.Sites(req.Kind)
	}
	summary := &entity.BatchSummary{
		ID:        uuid.NewString(),
		Kind:      req.Kind,
		Mode:      req.Mode,
		Sites:     sites,
		StartedAt: time.Now().UTC(),
	}
	logger := o.logger.With(zap.String("batch", summary.ID), zap.String("kind", req.Kind.String()), zap.String("mode", string(req.Mode)))

	if o.opts.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.BatchTimeout)
		defer cancel()
	}

	units, err := o.plan(ctx, req, sites)
	if err != nil {
		logger.Error("batch not started", zap.Error(err))
		return nil, err
	}
	logger.Info("batch started", zap.Strings("sites", sites), zap.Int("units", len(units)))

	summary.Outcomes, err = o.dispatch(ctx, units, logger)
	summary.FinishedAt = time.Now().UTC()

	logger.Info("batch finished",
		zap.Int("succeeded", len(summary.Succeeded())),
		zap.Int("failed", len(summary.Failed())),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)))
	return summary, err
}

// plan resolves every site's crawler and expands the batch into units. Any
// configuration problem fails the whole batch before a unit runs.
func (o *orchestrator) plan(ctx context.Context, req BatchRequest, sites []string) ([]unit, error) {
	var units []unit
	for _, site := range sites {
		site = strings.ToLower(strings.TrimSpace(site))
		c, err := o.deps.Crawlers.Resolve(ctx, site, req.Kind)
		if err != nil {
			return nil, err
		}

		if req.Kind == entity.KindPurchaseHistory {
			accounts, err := o.deps.Accounts.FindActiveBySite(ctx, site)
			if err != nil {
				return nil, fmt.Errorf("%w: accounts of %s: %v", entity.ErrPersistence, site, err)
			}
			for _, a := range accounts {
				units = append(units, unit{site: site, kind: req.Kind, mode: req.Mode, account: a, crawler: c})
			}
			continue
		}

		for _, key := range o.deps.Targets.Targets(site, req.Kind) {
			units = append(units, unit{site: site, kind: req.Kind, mode: req.Mode, key: key, crawler: c})
		}
	}
	return units, nil
}

// dispatch feeds the units to a pool of workers. After a persistence or
// configuration failure no further unit is started; running ones finish
// normally.
func (o *orchestrator) dispatch(ctx context.Context, units []unit, logger *zap.Logger) ([]entity.Outcome, error) {
	outcomes := make([]entity.Outcome, len(units))
	started := make([]bool, len(units))
	tasks := make(chan int)
	stop := make(chan struct{})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		stopOnce sync.Once
		fatalErr error
	)

	for i := 0; i < o.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range tasks {
				select {
				case <-stop:
					continue
				default:
				}
				if ctx.Err() != nil {
					continue
				}
				started[idx] = true
				out, err := o.process(ctx, units[idx], logger)
				outcomes[idx] = out
				if err != nil {
					mu.Lock()
					if fatalErr == nil {
						fatalErr = err
					}
					mu.Unlock()
					stopOnce.Do(func() { close(stop) })
				}
			}
		}()
	}

loop:
	for idx := range units {
		select {
		case tasks <- idx:
		case <-stop:
			break loop
		case <-ctx.Done():
			break loop
		}
	}
	close(tasks)
	wg.Wait()

	skipped := 0
	for idx, u := range units {
		if started[idx] {
			continue
		}
		skipped++
		msg := "batch canceled before the unit started"
		if fatalErr != nil {
			msg = "batch stopped: " + fatalErr.Error()
		}
		out := u.outcome()
		out.State = entity.StateAccountFailed
		out.FailedAt = entity.StateIdle
		out.Cause = entity.CauseCanceled
		out.Err = msg
		outcomes[idx] = out
		o.metrics.ObserveOutcome(u.kind.String(), string(out.State), string(out.Cause))
	}

	if fatalErr != nil {
		logger.Error("batch stopped", zap.Error(fatalErr), zap.Int("not_started", skipped))
		return outcomes, fatalErr
	}
	return outcomes, nil
}

func (u unit) outcome() entity.Outcome {
	out := entity.Outcome{Site: u.site, Kind: u.kind, Key: u.key, State: entity.StateIdle}
	if u.account != nil {
		out.AccountID = u.account.ID
	}
	return out
}

// process runs the state machine of one unit. The returned error is set
// only for persistence and configuration failures, which stop the batch.
func (o *orchestrator) process(ctx context.Context, u unit, batchLogger *zap.Logger) (out entity.Outcome, fatal error) {
	logger := batchLogger.With(u.logFields()...)
	out = u.outcome()
	started := time.Now()

	defer func() {
		o.metrics.ObserveOutcome(u.kind.String(), string(out.State), string(out.Cause))
		o.metrics.CrawlDuration.WithLabelValues(u.site, u.kind.String()).Observe(time.Since(started).Seconds())
		if out.Failed() {
			logger.Warn("unit failed", zap.String("failed_at", string(out.FailedAt)), zap.String("cause", string(out.Cause)), zap.String("error", out.Err))
		} else {
			logger.Info("unit done", zap.Int("fetched", out.Fetched), zap.Int("changed", out.Changed))
		}
	}()

	fail := func(err error) {
		out.FailedAt = out.State
		out.State = entity.StateAccountFailed
		out.Cause = entity.Classify(err)
		out.Err = err.Error()
		switch out.Cause {
		case entity.CausePersistence, entity.CauseConfig:
			fatal = err
		}
		// Configuration problems and cancellation say nothing about the account.
		if u.account != nil && out.Cause != entity.CauseCanceled && out.Cause != entity.CauseConfig {
			if err := o.recordFailure(ctx, u, out); err != nil && fatal == nil {
				fatal = err
			}
		}
	}

	// SessionOpening
	out.State = entity.StateSessionOpening
	lockKey := "unit|" + u.site + "|" + u.kind.String() + "|" + u.key
	if u.account != nil {
		lockKey = "account|" + strconv.FormatInt(u.account.ID, 10)
	}
	release, err := o.deps.Locks.Acquire(ctx, lockKey)
	if err != nil {
		fail(err)
		return out, fatal
	}
	defer release()

	ref := traffic.Anonymous(u.site)
	if u.account != nil {
		ref = traffic.AccountRef{AccountID: u.account.ID, Site: u.site}
	}
	session := o.deps.Sessions.Open(ref, true)
	defer func() {
		out.Traffic = session.Finish()
		// Written even when the batch was canceled.
		if err := o.deps.Traffic.Save(context.WithoutCancel(ctx), out.Traffic, session.Events()); err != nil {
			logger.Warn("traffic summary not saved", zap.Error(err))
		}
	}()

	// Authenticating
	if u.account != nil {
		out.State = entity.StateAuthenticating
		if err := o.authenticate(ctx, u, session, logger); err != nil {
			fail(err)
			return out, fatal
		}
	}

	// Crawling
	out.State = entity.StateCrawling
	records, err := o.crawl(ctx, u, session)
	if err != nil {
		fail(err)
		return out, fatal
	}
	out.Fetched = len(records)

	// Diffing and Persisting
	out.State = entity.StateDiffing
	changed, err := o.diffAndPersist(ctx, u, records, &out)
	if err != nil {
		fail(err)
		return out, fatal
	}
	out.Changed = changed
	out.State = entity.StateDone
	return out, nil
}

func (o *orchestrator) authenticate(ctx context.Context, u unit, s *traffic.Session, logger *zap.Logger) error {
	res := o.deps.Auth.Resolve(u.site).Authenticate(ctx, s, auth.Credentials{
		LoginID:     u.account.LoginID,
		Password:    u.account.Password,
		SessionBlob: u.account.SessionBlob,
	})
	if !res.Success {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s", causeError(res.Cause), res.FailureReason)
	}
	if res.Restored {
		logger.Debug("stored session accepted")
		return nil
	}

	blob, err := s.ExportCookies()
	if err != nil {
		return fmt.Errorf("%w: %v", entity.ErrAuthFailure, err)
	}
	if err := o.deps.Accounts.UpdateSessionBlob(ctx, u.account.ID, blob); err != nil {
		return fmt.Errorf("%w: update session of account %d: %v", entity.ErrPersistence, u.account.ID, err)
	}
	return nil
}

func (o *orchestrator) crawl(ctx context.Context, u unit, s *traffic.Session) ([]entity.Record, error) {
	var (
		res *crawler.Result
		err error
	)
	switch u.kind {
	case entity.KindPurchaseHistory:
		lastKnown, lerr := o.deps.Records.Latest(ctx, u.account.ID, u.kind)
		if errors.Is(lerr, entity.ErrNotFound) {
			lastKnown = nil
		} else if lerr != nil {
			return nil, fmt.Errorf("%w: last known record of account %d: %v", entity.ErrPersistence, u.account.ID, lerr)
		}
		res, err = u.crawler.FetchPurchaseHistoryList(ctx, s, lastKnown, true)
	case entity.KindProduct:
		res, err = u.crawler.FetchProductInfo(ctx, s, u.key)
	case entity.KindSearch:
		res, err = u.crawler.SearchProduct(ctx, s, u.key)
	}
	if err != nil {
		return nil, err
	}

	records := res.Records
	if u.account != nil {
		for i := range records {
			records[i].AccountID = u.account.ID
		}
	}
	return records, nil
}

// diffAndPersist compares the records with their snapshots under the
// per-key lock and, depending on the mode, saves changed records and
// commits their snapshots. Snapshots are committed only after the records
// were saved.
func (o *orchestrator) diffAndPersist(ctx context.Context, u unit, records []entity.Record, out *entity.Outcome) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(records))
	for _, r := range records {
		keys = append(keys, r.SnapshotKey())
	}
	unlock, err := o.deps.Changes.Lock(ctx, u.site, u.kind, keys...)
	if err != nil {
		return 0, err
	}
	defer unlock()

	var changed []entity.Record
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		key := r.SnapshotKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		cmp, err := o.deps.Changes.Compare(ctx, u.site, u.kind, key, r)
		if err != nil {
			return 0, err
		}
		if cmp.Changed {
			changed = append(changed, r)
		}
	}
	if len(changed) > 0 {
		o.metrics.ChangedRecords.WithLabelValues(u.site, u.kind.String()).Add(float64(len(changed)))
	}
	if len(changed) == 0 || u.mode == entity.ModeCheck {
		return len(changed), nil
	}

	// Init commits snapshots without saving records, so it leaves no
	// incremental checkpoint; the next live run reads up to MaxPages.
	if u.mode == entity.ModeLive {
		out.State = entity.StatePersisting
		if err := o.deps.Records.Save(ctx, u.kind, changed); err != nil {
			return 0, fmt.Errorf("%w: save %d records: %v", entity.ErrPersistence, len(changed), err)
		}
	}
	for _, r := range changed {
		if err := o.deps.Changes.Commit(ctx, u.site, u.kind, r.SnapshotKey(), r); err != nil {
			return 0, err
		}
	}
	return len(changed), nil
}

func (o *orchestrator) recordFailure(ctx context.Context, u unit, out entity.Outcome) error {
	failure := &entity.AccountFailure{
		AccountID: u.account.ID,
		Kind:      u.kind,
		Cause:     out.Cause,
		Reason:    fmt.Sprintf("%s: %s", out.FailedAt, out.Err),
		FailedAt:  time.Now().UTC(),
	}
	if err := o.deps.Accounts.RecordFailure(context.WithoutCancel(ctx), failure); err != nil {
		return fmt.Errorf("%w: record failure of account %d: %v", entity.ErrPersistence, u.account.ID, err)
	}
	return nil
}

// causeError maps an auth result cause back onto its sentinel error.
func causeError(cause entity.FailureCause) error {
	switch cause {
	case entity.CauseFetch:
		return entity.ErrFetchFailure
	case entity.CauseParse:
		return entity.ErrParseFailure
	case entity.CauseConfig:
		return entity.ErrConfigInvalid
	case entity.CausePersistence:
		return entity.ErrPersistence
	}
	return entity.ErrAuthFailure
}
