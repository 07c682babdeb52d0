// Package poller schedules per-account polling jobs, applies failure
// backoff, and drives the credential refresh path.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/urizennnn/omni-backend-sub001/internal/accounts"
	"github.com/urizennnn/omni-backend-sub001/internal/config"
	"github.com/urizennnn/omni-backend-sub001/internal/connector"
	"github.com/urizennnn/omni-backend-sub001/internal/ingest"
	"github.com/urizennnn/omni-backend-sub001/internal/platform"
	"github.com/urizennnn/omni-backend-sub001/internal/vault"
)

// refreshMargin refreshes tokens slightly before their stated expiry.
const refreshMargin = 2 * time.Minute

// AccountStore is the slice of the account service the poller consumes.
type AccountStore interface {
	Get(ctx context.Context, id string) (accounts.ConnectedAccount, error)
	ListSchedulable(ctx context.Context) ([]accounts.ConnectedAccount, error)
	SetStatus(ctx context.Context, id string, status accounts.Status) error
	UpdateCredentials(ctx context.Context, id, credentials string) error
	CommitCursor(ctx context.Context, id string, cursor platform.Cursor, polledAt time.Time) error
	RecordFailure(ctx context.Context, id string) (int, error)
}

// Ingestor feeds fetched batches into the pipeline.
type Ingestor interface {
	IngestBatch(ctx context.Context, account accounts.ConnectedAccount, batch []connector.RawEvent) ingest.BatchReport
}

// Poller owns the cron scheduler and the per-account job and refresh
// locks. One poll per job key runs at a time; an overdue tick that finds
// its key held is skipped, never queued.
type Poller struct {
	cron     *cron.Cron
	accounts AccountStore
	registry *connector.Registry
	ingestor Ingestor
	vault    *vault.Vault
	cfg      config.PollerConfig
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	entries   map[string]cron.EntryID
	inFlight  map[string]bool
	refreshMu map[string]*sync.Mutex
}

// New creates a poller. Start must be called to begin ticking.
func New(
	log *slog.Logger,
	store AccountStore,
	registry *connector.Registry,
	ingestor Ingestor,
	v *vault.Vault,
	cfg config.PollerConfig,
) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		cron:      cron.New(),
		accounts:  store,
		registry:  registry,
		ingestor:  ingestor,
		vault:     v,
		cfg:       cfg,
		logger:    log.With(slog.String("service", "poller")),
		now:       time.Now,
		entries:   make(map[string]cron.EntryID),
		inFlight:  make(map[string]bool),
		refreshMu: make(map[string]*sync.Mutex),
	}
}

// Start loads every schedulable account, registers its job, and starts
// the scheduler.
func (p *Poller) Start(ctx context.Context) error {
	list, err := p.accounts.ListSchedulable(ctx)
	if err != nil {
		return fmt.Errorf("list schedulable accounts: %w", err)
	}
	for _, account := range list {
		p.Schedule(account)
	}
	p.cron.Start()
	p.logger.Info("poller started", slog.Int("accounts", len(list)))
	return nil
}

// Stop halts the scheduler and waits for running jobs to finish.
func (p *Poller) Stop(ctx context.Context) error {
	done := p.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Schedule registers a recurring job for the account, replacing any
// existing entry under the same job key.
func (p *Poller) Schedule(account accounts.ConnectedAccount) {
	interval := time.Duration(account.PollingIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Duration(config.DefaultPollInterval) * time.Second
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.entries[account.JobKey]; ok {
		p.cron.Remove(id)
	}
	accountID := account.ID
	p.entries[account.JobKey] = p.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		p.tick(accountID)
	}))
}

// Unschedule removes the account's recurring job.
func (p *Poller) Unschedule(jobKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.entries[jobKey]; ok {
		p.cron.Remove(id)
		delete(p.entries, jobKey)
	}
}

// tick is the scheduled entry point. Errors are logged, never propagated
// to cron.
func (p *Poller) tick(accountID string) {
	ctx := context.Background()
	account, err := p.accounts.Get(ctx, accountID)
	if err != nil {
		p.logger.Error("load account for poll",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()))
		return
	}
	if err := p.poll(ctx, account, false); err != nil {
		p.logger.Warn("poll failed",
			slog.String("account_id", accountID),
			slog.String("platform", account.Platform.String()),
			slog.String("error", err.Error()))
	}
}

// PollAccount runs one poll immediately, outside the schedule. The
// backoff gate is bypassed; the job key lock still applies.
func (p *Poller) PollAccount(ctx context.Context, accountID string) error {
	account, err := p.accounts.Get(ctx, accountID)
	if err != nil {
		return err
	}
	return p.poll(ctx, account, true)
}

// ErrPollInProgress reports that the account's job key is held.
var ErrPollInProgress = fmt.Errorf("poll already in progress")

func (p *Poller) poll(ctx context.Context, account accounts.ConnectedAccount, onDemand bool) error {
	if !p.tryLock(account.JobKey) {
		if onDemand {
			return ErrPollInProgress
		}
		return nil
	}
	defer p.unlock(account.JobKey)

	if account.Status == accounts.StatusNeedsReauth {
		return nil
	}
	if !onDemand && !p.due(account) {
		return nil
	}

	conn, err := p.registry.Get(account.Platform)
	if err != nil {
		return err
	}

	creds, err := p.openCredentials(account)
	if err != nil {
		// An undecryptable credential document cannot heal itself.
		p.suspend(ctx, account, err)
		return err
	}

	cursor, err := platform.ParseCursor(account.Cursor, account.Platform)
	if err != nil {
		// A cursor that no longer parses is a data fault, not an auth
		// fault. Re-polling the same bytes cannot succeed.
		p.halt(ctx, account, err)
		return err
	}

	if p.needsRefresh(creds) {
		creds, err = p.refresh(ctx, account, conn, creds)
		if err != nil {
			return p.recordOutcome(ctx, account, err)
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout())
	batch, err := conn.FetchSince(fetchCtx, creds, cursor)
	cancel()
	if connector.IsAuthExpired(err) && creds.RefreshToken != "" {
		creds, err = p.refresh(ctx, account, conn, creds)
		if err != nil {
			return p.recordOutcome(ctx, account, err)
		}
		fetchCtx, cancel = context.WithTimeout(ctx, p.cfg.FetchTimeout())
		batch, err = conn.FetchSince(fetchCtx, creds, cursor)
		cancel()
	}
	if err != nil {
		return p.recordOutcome(ctx, account, err)
	}

	report := p.ingestor.IngestBatch(ctx, account, batch.Events)
	if report.Failed > 0 {
		// Leave the cursor so the failed events are refetched next poll.
		return p.recordOutcome(ctx, account, fmt.Errorf("%d events failed to ingest", report.Failed))
	}

	if err := p.accounts.CommitCursor(ctx, account.ID, batch.NextCursor, p.now()); err != nil {
		return fmt.Errorf("commit cursor: %w", err)
	}

	p.logger.Debug("poll committed",
		slog.String("account_id", account.ID),
		slog.String("platform", account.Platform.String()),
		slog.Int("ingested", report.Ingested),
		slog.Int("duplicates", report.Duplicates),
		slog.Int("skipped", report.Skipped))
	return nil
}

// due applies the failure backoff gate to scheduled ticks.
func (p *Poller) due(account accounts.ConnectedAccount) bool {
	if account.ConsecutiveFailures == 0 || account.LastPolledAt == nil {
		return true
	}
	base, cap := p.cfg.Backoff()
	delay := base
	for i := 1; i < account.ConsecutiveFailures && delay < cap; i++ {
		delay *= 2
	}
	if delay > cap {
		delay = cap
	}
	return p.now().After(account.LastPolledAt.Add(delay))
}

// recordOutcome books a failed poll: auth expiry suspends the account,
// anything else increments the failure count toward the error status.
func (p *Poller) recordOutcome(ctx context.Context, account accounts.ConnectedAccount, pollErr error) error {
	if connector.IsAuthExpired(pollErr) {
		p.suspend(ctx, account, pollErr)
		return pollErr
	}

	count, err := p.accounts.RecordFailure(ctx, account.ID)
	if err != nil {
		p.logger.Error("record failure",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()))
		return pollErr
	}
	threshold := p.cfg.ErrorThreshold
	if threshold <= 0 {
		threshold = config.DefaultErrorThreshold
	}
	if count >= threshold && account.Status != accounts.StatusError {
		if err := p.accounts.SetStatus(ctx, account.ID, accounts.StatusError); err != nil {
			p.logger.Error("set error status",
				slog.String("account_id", account.ID),
				slog.String("error", err.Error()))
		}
	}
	return pollErr
}

// suspend marks the account needs_reauth and removes it from the
// schedule. Only a reconnect brings it back.
func (p *Poller) suspend(ctx context.Context, account accounts.ConnectedAccount, cause error) {
	p.logger.Warn("suspending account",
		slog.String("account_id", account.ID),
		slog.String("platform", account.Platform.String()),
		slog.String("cause", cause.Error()))
	if err := p.accounts.SetStatus(ctx, account.ID, accounts.StatusNeedsReauth); err != nil {
		p.logger.Error("set needs_reauth",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()))
	}
	p.Unschedule(account.JobKey)
}

// halt flags a data fault as an error status and removes the account
// from the schedule. The credentials are untouched, so an operator fix
// plus a restart resumes polling without a reconnect.
func (p *Poller) halt(ctx context.Context, account accounts.ConnectedAccount, cause error) {
	p.logger.Error("halting account",
		slog.String("account_id", account.ID),
		slog.String("platform", account.Platform.String()),
		slog.String("cause", cause.Error()))
	if err := p.accounts.SetStatus(ctx, account.ID, accounts.StatusError); err != nil {
		p.logger.Error("set error status",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()))
	}
	p.Unschedule(account.JobKey)
}

func (p *Poller) needsRefresh(creds connector.Credentials) bool {
	return creds.RefreshToken != "" && !creds.ExpiresAt.IsZero() &&
		p.now().Add(refreshMargin).After(creds.ExpiresAt)
}

// refresh redeems the refresh token under the account's dedicated refresh
// lock. Refresh tokens are often single use, so concurrent polls and
// on-demand sends must never race on the exchange.
func (p *Poller) refresh(ctx context.Context, account accounts.ConnectedAccount, conn connector.Connector, creds connector.Credentials) (connector.Credentials, error) {
	lock := p.refreshLock(account.ID)
	lock.Lock()
	defer lock.Unlock()

	// Another holder may have refreshed while we waited.
	current, err := p.accounts.Get(ctx, account.ID)
	if err == nil && current.Credentials != account.Credentials {
		if fresh, err := p.openCredentials(current); err == nil {
			return fresh, nil
		}
	}

	fresh, err := conn.Refresh(ctx, creds)
	if err != nil {
		return connector.Credentials{}, fmt.Errorf("refresh credentials: %w", err)
	}

	sealed, err := p.sealCredentials(fresh)
	if err != nil {
		return connector.Credentials{}, err
	}
	if err := p.accounts.UpdateCredentials(ctx, account.ID, sealed); err != nil {
		return connector.Credentials{}, fmt.Errorf("store refreshed credentials: %w", err)
	}
	return fresh, nil
}

func (p *Poller) openCredentials(account accounts.ConnectedAccount) (connector.Credentials, error) {
	plain, err := p.vault.Decrypt(account.Credentials)
	if err != nil {
		return connector.Credentials{}, err
	}
	var creds connector.Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return connector.Credentials{}, fmt.Errorf("decode credentials: %w", err)
	}
	return creds, nil
}

func (p *Poller) sealCredentials(creds connector.Credentials) (string, error) {
	doc, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("encode credentials: %w", err)
	}
	sealed, err := p.vault.Encrypt(doc)
	if err != nil {
		return "", fmt.Errorf("encrypt credentials: %w", err)
	}
	return sealed, nil
}

func (p *Poller) tryLock(jobKey string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight[jobKey] {
		return false
	}
	p.inFlight[jobKey] = true
	return true
}

func (p *Poller) unlock(jobKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, jobKey)
}

func (p *Poller) refreshLock(accountID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.refreshMu[accountID]
	if !ok {
		lock = &sync.Mutex{}
		p.refreshMu[accountID] = lock
	}
	return lock
}
