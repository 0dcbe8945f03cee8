// Package dispatch starts sync runs on request, after an account connects, and on a schedule,
// allowing at most one run per account at a time.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/peteski22/donorsync/internal/contacts"
	"github.com/peteski22/donorsync/internal/sync"
)

const defaultConcurrency = 4

// ErrRunInProgress is returned when the account already has a run in progress.
var ErrRunInProgress = errors.New("dispatch: sync already in progress")

// ConnectionLister lists the connections eligible for scheduled runs.
type ConnectionLister interface {
	// ActiveConnections returns every active connection.
	ActiveConnections(ctx context.Context) ([]contacts.Connection, error)
}

// Runner executes one sync run.
type Runner interface {
	// Run executes a full sync cycle for one account.
	Run(ctx context.Context, opts sync.RunOptions) (*sync.Result, error)
}

// Config holds the required configuration for creating a Dispatcher.
type Config struct {
	// Concurrency bounds how many accounts a scheduled pass syncs at once. Default is 4.
	Concurrency int

	// Connections lists the accounts for scheduled runs.
	Connections ConnectionLister

	// Logger is the structured logger for the dispatcher.
	Logger *slog.Logger

	// Runner executes sync runs.
	Runner Runner
}

// validate checks that all required Config fields are set.
func (c *Config) validate() error {
	var errs []error
	if c.Connections == nil {
		errs = append(errs, errors.New("connection lister is required"))
	}
	if c.Runner == nil {
		errs = append(errs, errors.New("runner is required"))
	}
	if c.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("concurrency must not be negative, got %d", c.Concurrency))
	}
	return errors.Join(errs...)
}

// ScheduledSummary counts the outcomes of one scheduled pass.
type ScheduledSummary struct {
	// Accounts is the number of eligible accounts.
	Accounts int

	// Failed is the number of runs that returned an error.
	Failed int

	// Skipped is the number of accounts that already had a run in progress.
	Skipped int

	// Succeeded is the number of runs that completed.
	Succeeded int
}

// Dispatcher guards and starts sync runs.
type Dispatcher struct {
	concurrency int
	connections ConnectionLister
	logger      *slog.Logger
	mu          gosync.Mutex
	running     map[string]bool
	runner      Runner
	wg          gosync.WaitGroup
}

// New creates a new Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency == 0 {
		concurrency = defaultConcurrency
	}

	return &Dispatcher{
		concurrency: concurrency,
		connections: cfg.Connections,
		logger:      logger,
		running:     map[string]bool{},
		runner:      cfg.Runner,
	}, nil
}

// Running reports whether the account has a run in progress.
func (d *Dispatcher) Running(accountID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.running[accountID]
}

// Trigger runs a sync for the account and waits for the result.
// Returns ErrRunInProgress if the account already has a run in progress.
func (d *Dispatcher) Trigger(ctx context.Context, opts sync.RunOptions) (*sync.Result, error) {
	if !d.acquire(opts.AccountID) {
		return nil, ErrRunInProgress
	}
	defer d.release(opts.AccountID)

	return d.runner.Run(ctx, opts)
}

// TriggerAsync starts a sync for the account in the background.
// The run outlives ctx's cancellation. Returns ErrRunInProgress if the account already has a run in progress.
func (d *Dispatcher) TriggerAsync(ctx context.Context, opts sync.RunOptions) error {
	if !d.acquire(opts.AccountID) {
		return ErrRunInProgress
	}

	runCtx := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.release(opts.AccountID)

		result, err := d.runner.Run(runCtx, opts)
		if err != nil {
			d.logger.Error("background sync failed",
				"account_id", opts.AccountID,
				"trigger", opts.Trigger,
				"error", err)
			return
		}
		d.logger.Info("background sync finished",
			"account_id", opts.AccountID,
			"trigger", opts.Trigger,
			"errors", result.Errors)
	}()

	return nil
}

// Wait blocks until every background run has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// RunScheduled syncs every active, enabled, usable connection with the platform_wins policy,
// at most Concurrency accounts at a time.
func (d *Dispatcher) RunScheduled(ctx context.Context) (ScheduledSummary, error) {
	conns, err := d.connections.ActiveConnections(ctx)
	if err != nil {
		return ScheduledSummary{}, fmt.Errorf("listing connections: %w", err)
	}

	var accounts []string
	for _, c := range conns {
		if c.Enabled && c.Usable() {
			accounts = append(accounts, c.AccountID)
		}
	}

	summary := ScheduledSummary{Accounts: len(accounts)}
	if len(accounts) == 0 {
		return summary, nil
	}

	var mu gosync.Mutex
	record := func(accountID string, err error) {
		mu.Lock()
		defer mu.Unlock()

		switch {
		case err == nil:
			summary.Succeeded++
		case errors.Is(err, ErrRunInProgress):
			summary.Skipped++
			d.logger.Info("skipping scheduled sync, run in progress", "account_id", accountID)
		default:
			summary.Failed++
			d.logger.Error("scheduled sync failed", "account_id", accountID, "error", err)
		}
	}

	indexCh := make(chan int)
	var wg gosync.WaitGroup

	worker := func() {
		defer wg.Done()
		for idx := range indexCh {
			_, err := d.Trigger(ctx, sync.RunOptions{
				AccountID: accounts[idx],
				Policy:    sync.PolicyPlatformWins,
				Trigger:   sync.TriggerScheduled,
			})
			record(accounts[idx], err)
		}
	}

	for range min(d.concurrency, len(accounts)) {
		wg.Add(1)
		go worker()
	}

Loop:
	for i := range accounts {
		select {
		case indexCh <- i:
		case <-ctx.Done():
			break Loop
		}
	}
	close(indexCh)
	wg.Wait()

	d.logger.Info("scheduled sync pass finished",
		"accounts", summary.Accounts,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped)

	return summary, ctx.Err()
}

// Start runs a scheduled pass every interval until ctx is done.
func (d *Dispatcher) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := d.RunScheduled(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("scheduled sync pass failed", "error", err)
			}
		}
	}
}

func (d *Dispatcher) acquire(accountID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running[accountID] {
		return false
	}
	d.running[accountID] = true
	return true
}

func (d *Dispatcher) release(accountID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.running, accountID)
}
