package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

// ResolutionStarter moves due markets into resolution. Satisfied by the
// resolution state machine.
type ResolutionStarter interface {
	BeginResolution(ctx context.Context, marketID int64) (domain.ResolutionRequest, error)
	AdoptRequest(ctx context.Context, req domain.ResolutionRequest) error
}

// MarketScanner sweeps the market store for markets past their resolution
// time and opens resolution requests for them.
type MarketScanner struct {
	markets domain.MarketStore
	starter ResolutionStarter
	logger  *slog.Logger
}

// NewMarketScanner creates a new MarketScanner.
func NewMarketScanner(markets domain.MarketStore, starter ResolutionStarter, logger *slog.Logger) *MarketScanner {
	return &MarketScanner{
		markets: markets,
		starter: starter,
		logger:  logger.With(slog.String("component", "market_scanner")),
	}
}

// Run executes a single sweep. Markets that cannot begin resolution (already
// resolving, raced with another instance) are logged and skipped.
func (s *MarketScanner) Run(ctx context.Context) error {
	const pageSize = 100
	offset := 0
	totalStarted := 0

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("market scanner context cancelled: %w", err)
		}

		due, err := s.markets.ListDue(ctx, time.Now().UTC(), domain.ListOpts{Limit: pageSize, Offset: offset})
		if err != nil {
			return fmt.Errorf("listing due markets at offset %d: %w", offset, err)
		}
		if len(due) == 0 {
			break
		}

		for _, mkt := range due {
			if mkt.State != domain.MarketStateActive {
				continue // already in flight or awaiting governance
			}
			if _, err := s.starter.BeginResolution(ctx, mkt.ID); err != nil {
				if errors.Is(err, domain.ErrInvalidTransition) {
					continue // another sweep got there first
				}
				s.logger.ErrorContext(ctx, "begin resolution failed",
					slog.Int64("market_id", mkt.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			totalStarted++
		}

		if len(due) < pageSize {
			break
		}
		offset += pageSize
	}

	if totalStarted > 0 {
		s.logger.InfoContext(ctx, "market sweep complete", slog.Int("started", totalStarted))
	}
	return nil
}

// RunLoop runs the market scanner on a repeating interval until the context
// is cancelled.
func (s *MarketScanner) RunLoop(ctx context.Context, interval time.Duration) error {
	// Run immediately on start.
	if err := s.Run(ctx); err != nil {
		s.logger.Error("market sweep failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("market scanner loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Run(ctx); err != nil {
				s.logger.Error("market sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// EventScanner imports resolution requests raised externally on the ledger.
// It tracks the last seen event time so each iteration only fetches new
// events; imported requests keep their ledger-assigned IDs.
type EventScanner struct {
	ledger  domain.Ledger
	markets domain.MarketStore
	starter ResolutionStarter
	logger  *slog.Logger
}

// NewEventScanner creates a new EventScanner.
func NewEventScanner(ledger domain.Ledger, markets domain.MarketStore, starter ResolutionStarter, logger *slog.Logger) *EventScanner {
	return &EventScanner{
		ledger:  ledger,
		markets: markets,
		starter: starter,
		logger:  logger.With(slog.String("component", "event_scanner")),
	}
}

// Run fetches resolution events since the given time, imports each into the
// state machine, and returns the advanced watermark.
func (s *EventScanner) Run(ctx context.Context, since time.Time) (time.Time, error) {
	events, err := s.ledger.QueryResolutionEvents(ctx, since)
	if err != nil {
		return since, fmt.Errorf("querying resolution events since %v: %w", since, err)
	}
	if len(events) == 0 {
		return since, nil
	}

	imported := 0
	latest := since
	for _, ev := range events {
		if ev.CreatedAt.After(latest) {
			latest = ev.CreatedAt
		}

		// Events can reference markets we have not ingested yet.
		if _, err := s.markets.GetByID(ctx, ev.MarketID); errors.Is(err, domain.ErrNotFound) {
			onLedger, readErr := s.ledger.ReadMarket(ctx, ev.MarketID)
			if readErr != nil {
				s.logger.ErrorContext(ctx, "ledger market read failed",
					slog.Int64("market_id", ev.MarketID),
					slog.String("error", readErr.Error()),
				)
				continue
			}
			if upErr := s.markets.Upsert(ctx, onLedger); upErr != nil {
				s.logger.ErrorContext(ctx, "market upsert failed",
					slog.Int64("market_id", ev.MarketID),
					slog.String("error", upErr.Error()),
				)
				continue
			}
		}

		if err := s.starter.AdoptRequest(ctx, ev); err != nil {
			s.logger.ErrorContext(ctx, "adopt request failed",
				slog.String("request_id", ev.ID),
				slog.Int64("market_id", ev.MarketID),
				slog.String("error", err.Error()),
			)
			continue
		}
		imported++
	}

	s.logger.InfoContext(ctx, "event scan complete",
		slog.Int("events", len(events)),
		slog.Int("imported", imported),
		slog.Time("watermark", latest),
	)
	return latest, nil
}

// RunLoop runs the event scanner on a repeating interval until the context is
// cancelled, carrying the watermark across iterations.
func (s *EventScanner) RunLoop(ctx context.Context, interval time.Duration, since time.Time) error {
	watermark, err := s.Run(ctx, since)
	if err != nil {
		s.logger.Error("event scan failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("event scanner loop stopped")
			return ctx.Err()
		case <-ticker.C:
			next, err := s.Run(ctx, watermark)
			if err != nil {
				s.logger.Error("event scan failed", slog.String("error", err.Error()))
				continue
			}
			watermark = next
		}
	}
}
