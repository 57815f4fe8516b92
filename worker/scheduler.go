/*
Package worker runs the periodic billing pass.

PURPOSE:

	Issues the previous calendar month's invoice for every active lease in
	every account, on a cron schedule.

DESIGN:
  - robfig/cron drives the schedule; overlapping runs are skipped
  - Each pass fans leases out to a bounded pool of workers
  - Leases already invoiced for the period are skipped (duplicate conflict)
  - Leases that do not overlap the month are not billed
  - Failures are logged and counted; the pass carries on

USAGE:

	scheduler := worker.NewBillingScheduler(store, invoices, logger)
	scheduler.Schedule = cfg.Billing.Schedule
	if err := scheduler.Start(ctx); err != nil { ... }
	// ... later
	scheduler.Stop()
*/
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/warp/rent-billing/generic"
	"github.com/warp/rent-billing/rental"
)

// LeaseSource lists what a billing pass walks over.
type LeaseSource interface {
	ListAccounts(ctx context.Context) ([]rental.AccountID, error)
	ListLeasesInPeriod(ctx context.Context, scope rental.Scope, period generic.Period) ([]rental.Lease, error)
}

// Invoicer issues one invoice; *rental.InvoiceService satisfies it.
type Invoicer interface {
	Issue(ctx context.Context, scope rental.Scope, req rental.InvoiceRequest) (*rental.Invoice, error)
}

// RunResult summarizes one billing pass.
type RunResult struct {
	Month       generic.YearMonth
	Leases      int
	Issued      int
	Skipped     int // already invoiced
	Failed      int
}

// BillingScheduler handles the automated monthly invoice run.
type BillingScheduler struct {
	Leases   LeaseSource
	Invoices Invoicer
	Schedule string
	Workers  int
	Enabled  bool
	Now      func() time.Time

	logger *zap.Logger
	cron   *cron.Cron
	mu     sync.Mutex
}

// NewBillingScheduler creates a scheduler that runs daily at 00:15 UTC with
// four workers.
func NewBillingScheduler(leases LeaseSource, invoices Invoicer, logger *zap.Logger) *BillingScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BillingScheduler{
		Leases:   leases,
		Invoices: invoices,
		Schedule: "15 0 * * *",
		Workers:  4,
		Enabled:  true,
		Now:      time.Now,
		logger:   logger.Named("scheduler"),
	}
}

// Start registers the billing pass on the schedule. Passes run with ctx.
func (bs *BillingScheduler) Start(ctx context.Context) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if !bs.Enabled {
		bs.logger.Info("Disabled, not starting")
		return nil
	}
	if bs.cron != nil {
		return errors.New("scheduler already started")
	}

	cl := cronLogger{bs.logger.Sugar()}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(bs.Schedule, func() { bs.RunNow(ctx) }); err != nil {
		return fmt.Errorf("invalid billing schedule %q: %w", bs.Schedule, err)
	}
	c.Start()
	bs.cron = c

	bs.logger.Info("Started", zap.String("schedule", bs.Schedule), zap.Int("workers", bs.Workers))
	return nil
}

// Stop stops the schedule and waits for a running pass to finish.
func (bs *BillingScheduler) Stop() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.cron != nil {
		<-bs.cron.Stop().Done()
		bs.cron = nil
		bs.logger.Info("Stopped")
	}
}

// RunNow bills the calendar month before today (UTC).
func (bs *BillingScheduler) RunNow(ctx context.Context) RunResult {
	today := generic.DateOf(bs.Now().UTC())
	return bs.RunOnce(ctx, generic.YearMonthOf(today).Prev())
}

type billingJob struct {
	scope  rental.Scope
	lease  rental.Lease
	period generic.Period
}

// RunOnce issues month's invoice for every lease whose range overlaps the
// month, including leases ended or moved out during it.
func (bs *BillingScheduler) RunOnce(ctx context.Context, month generic.YearMonth) RunResult {
	result := RunResult{Month: month}
	bs.logger.Info("Billing run started", zap.Stringer("month", month))

	accounts, err := bs.Leases.ListAccounts(ctx)
	if err != nil {
		bs.logger.Error("Error listing accounts", zap.Error(err))
		return result
	}

	var jobs []billingJob
	for _, account := range accounts {
		scope := rental.NewScope(account)
		leases, err := bs.Leases.ListLeasesInPeriod(ctx, scope, month.Period())
		if err != nil {
			bs.logger.Error("Error listing leases", zap.String("account_id", string(account)), zap.Error(err))
			continue
		}
		for _, lease := range leases {
			period, ok := month.Period().Intersect(lease.ActiveRange())
			if !ok {
				continue
			}
			result.Leases++
			jobs = append(jobs, billingJob{scope: scope, lease: lease, period: period})
		}
	}

	bs.process(ctx, jobs, &result)

	bs.logger.Info("Billing run completed",
		zap.Stringer("month", month),
		zap.Int("issued", result.Issued),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed))
	return result
}

func (bs *BillingScheduler) process(ctx context.Context, jobs []billingJob, result *RunResult) {
	workers := bs.Workers
	if workers <= 0 {
		workers = 1
	}

	queue := make(chan billingJob)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range queue {
				outcome := bs.issue(ctx, job)
				mu.Lock()
				switch outcome {
				case outcomeIssued:
					result.Issued++
				case outcomeSkipped:
					result.Skipped++
				default:
					result.Failed++
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for i, job := range jobs {
		select {
		case queue <- job:
		case <-ctx.Done():
			mu.Lock()
			result.Failed += len(jobs) - i
			mu.Unlock()
			break feed
		}
	}
	close(queue)
	wg.Wait()
}

type outcome int

const (
	outcomeIssued outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (bs *BillingScheduler) issue(ctx context.Context, job billingJob) outcome {
	inv, err := bs.Invoices.Issue(ctx, job.scope, rental.InvoiceRequest{
		LeaseID:     job.lease.ID,
		PeriodStart: job.period.Start,
		PeriodEnd:   job.period.End,
	})
	switch {
	case err == nil:
		bs.logger.Debug("Invoice issued",
			zap.String("lease_id", job.lease.ID),
			zap.String("invoice_number", inv.InvoiceNumber))
		return outcomeIssued
	case errors.Is(err, rental.ErrDuplicateInvoice):
		return outcomeSkipped
	default:
		bs.logger.Error("Error issuing invoice",
			zap.String("account_id", string(job.scope.AccountID)),
			zap.String("lease_id", job.lease.ID),
			zap.Stringer("period", job.period),
			zap.Error(err))
		return outcomeFailed
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
