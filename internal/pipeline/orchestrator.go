package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

// Orchestrator manages all pipeline goroutines: the market scanner, the
// ledger event scanner, the resolver, and cold-storage archival.
type Orchestrator struct {
	marketScanner   *MarketScanner
	eventScanner    *EventScanner
	resolver        *Resolver
	archiver        *Archiver
	scanInterval    time.Duration
	resolveInterval time.Duration
	archiveCron     string
	logger          *slog.Logger

	triggerCh <-chan struct{}
	onCycle   func(domain.ResolverStats)
	locker    domain.LockManager
}

// resolverLockKey serializes resolver cycles across replicas. The TTL bounds
// how long a crashed holder blocks the others.
const (
	resolverLockKey = "lock:resolver:cycle"
	resolverLockTTL = 5 * time.Minute
)

// NewOrchestrator creates a new Orchestrator that coordinates all pipeline
// sub-systems.
func NewOrchestrator(
	marketScanner *MarketScanner,
	eventScanner *EventScanner,
	resolver *Resolver,
	archiver *Archiver,
	scanInterval time.Duration,
	resolveInterval time.Duration,
	archiveCron string,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		marketScanner:   marketScanner,
		eventScanner:    eventScanner,
		resolver:        resolver,
		archiver:        archiver,
		scanInterval:    scanInterval,
		resolveInterval: resolveInterval,
		archiveCron:     archiveCron,
		logger:          logger,
	}
}

// WithTriggerChannel sets a channel that runs one resolver cycle on receive,
// in addition to the regular ticker.
func (o *Orchestrator) WithTriggerChannel(ch <-chan struct{}) *Orchestrator {
	o.triggerCh = ch
	return o
}

// WithCycleHook sets a callback invoked with the stats of every completed
// resolver cycle.
func (o *Orchestrator) WithCycleHook(fn func(domain.ResolverStats)) *Orchestrator {
	o.onCycle = fn
	return o
}

// WithLockManager serializes resolver cycles across replicas with a
// distributed lock. A cycle that cannot acquire the lock is skipped; the
// next tick retries.
func (o *Orchestrator) WithLockManager(locker domain.LockManager) *Orchestrator {
	o.locker = locker
	return o
}

// Run starts all sub-pipelines as concurrent goroutines using an errgroup.
// Each goroutine respects ctx cancellation. If any goroutine returns a
// non-context error, the errgroup cancels the shared context and Run returns
// that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Duration("scan_interval", o.scanInterval),
		slog.Duration("resolve_interval", o.resolveInterval),
		slog.String("archive_cron", o.archiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	// 1. Market scanner on ticker.
	g.Go(func() error {
		o.logger.Info("starting market scanner loop")
		err := o.marketScanner.RunLoop(ctx, o.scanInterval)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("market scanner: %w", err)
	})

	// 2. Ledger event scanner on ticker, starting from a bounded lookback.
	g.Go(func() error {
		o.logger.Info("starting ledger event scanner loop")
		since := time.Now().UTC().Add(-24 * time.Hour)
		err := o.eventScanner.RunLoop(ctx, o.scanInterval, since)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("event scanner: %w", err)
	})

	// 3. Resolver on ticker.
	g.Go(func() error {
		o.logger.Info("starting resolver loop")
		err := o.runResolverLoop(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("resolver: %w", err)
	})

	// 4. Archiver on cron schedule.
	g.Go(func() error {
		o.logger.Info("starting archiver cron")
		err := o.archiver.RunCron(ctx, o.archiveCron)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("archiver: %w", err)
	})

	err := g.Wait()
	if err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}

// runResolverLoop runs the resolver immediately and then on every tick. A
// failed cycle is logged and retried on the next tick; per-request failures
// are already absorbed inside PollAndResolve.
func (o *Orchestrator) runResolverLoop(ctx context.Context) error {
	runOnce := func() {
		if o.locker != nil {
			unlock, err := o.locker.Acquire(ctx, resolverLockKey, resolverLockTTL)
			if err != nil {
				o.logger.Info("resolver cycle skipped, another replica holds the lock")
				return
			}
			defer unlock()
		}

		stats, err := o.resolver.PollAndResolve(ctx)
		if err != nil {
			o.logger.Error("resolution cycle failed", slog.String("error", err.Error()))
			return
		}
		if o.onCycle != nil {
			o.onCycle(stats)
		}
	}

	runOnce()

	ticker := time.NewTicker(o.resolveInterval)
	defer ticker.Stop()

	for {
		if o.triggerCh != nil {
			select {
			case <-ctx.Done():
				o.logger.Info("resolver loop stopped")
				return ctx.Err()
			case <-ticker.C:
				runOnce()
			case <-o.triggerCh:
				o.logger.Info("resolver cycle triggered manually")
				runOnce()
			}
		} else {
			select {
			case <-ctx.Done():
				o.logger.Info("resolver loop stopped")
				return ctx.Err()
			case <-ticker.C:
				runOnce()
			}
		}
	}
}
