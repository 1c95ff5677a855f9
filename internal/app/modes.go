package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbiter/internal/consensus"
	"github.com/alanyoungcy/arbiter/internal/crypto"
	"github.com/alanyoungcy/arbiter/internal/domain"
	"github.com/alanyoungcy/arbiter/internal/governance"
	"github.com/alanyoungcy/arbiter/internal/ledger"
	"github.com/alanyoungcy/arbiter/internal/pipeline"
	"github.com/alanyoungcy/arbiter/internal/provider"
	"github.com/alanyoungcy/arbiter/internal/relay"
	"github.com/alanyoungcy/arbiter/internal/resolution"
	"github.com/alanyoungcy/arbiter/internal/server"
	"github.com/alanyoungcy/arbiter/internal/server/handler"
	"github.com/alanyoungcy/arbiter/internal/server/ws"
	"github.com/alanyoungcy/arbiter/internal/service"
)

// core bundles the domain modules shared by all application modes: the
// resolution state machine, the governance module, and the services built on
// top of them.
type core struct {
	machine       *resolution.Machine
	govModule     *governance.Module
	ledger        domain.Ledger // nil when no RPC endpoint is configured
	signer        *crypto.Signer
	marketSvc     *service.MarketService
	resolutionSvc *service.ResolutionService
	governanceSvc *service.GovernanceService
}

// buildCore constructs the shared domain modules. The signer and ledger are
// optional: read-only modes run without a wallet or RPC endpoint.
func (a *App) buildCore(ctx context.Context, deps *Dependencies) (*core, error) {
	c := &core{}

	c.machine = resolution.NewMachine(
		deps.MarketStore, deps.ResolutionStore, deps.SignalBus, deps.AuditStore,
		resolution.Config{DisputeWindow: a.cfg.Resolution.DisputeWindow.Duration},
		a.logger,
	)

	// Wallet signer for resolution attestations and direct ledger writes.
	var keyHex string
	if a.cfg.Wallet.PrivateKey != "" || a.cfg.Wallet.EncryptedKeyPath != "" {
		var err error
		keyHex, err = crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    a.cfg.Wallet.PrivateKey,
			EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      a.cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("app: load wallet key: %w", err)
		}
		c.signer, err = crypto.NewSigner(keyHex, a.cfg.Ledger.ChainID)
		if err != nil {
			return nil, fmt.Errorf("app: create signer: %w", err)
		}
		a.logger.InfoContext(ctx, "wallet loaded",
			slog.String("address", c.signer.Address().Hex()),
		)
	}

	// Ledger client for chain reads, event scanning, and direct fallback
	// submissions.
	if a.cfg.Ledger.RpcURL != "" {
		lc, err := ledger.NewClient(ledger.Config{
			RPCURL:          a.cfg.Ledger.RpcURL,
			ContractAddress: a.cfg.Ledger.ContractAddress,
			ChainID:         a.cfg.Ledger.ChainID,
			PrivateKeyHex:   keyHex,
			BlockTime:       a.cfg.Ledger.BlockTime.Duration,
			GasLimit:        a.cfg.Ledger.GasLimit,
			Confirmations:   a.cfg.Ledger.Confirmations,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("app: ledger client: %w", err)
		}
		c.ledger = lc
	}

	c.govModule = governance.New(
		deps.ProposalStore, deps.ExpertiseStore, deps.StakeStore, c.machine,
		governance.Config{
			MinBond:        a.cfg.Governance.MinBond,
			Quorum:         a.cfg.Governance.Quorum,
			VotingPeriod:   a.cfg.Governance.VotingPeriod.Duration,
			ExpertiseBoost: a.cfg.Governance.ExpertiseBoost,
		},
		a.logger,
	)

	c.marketSvc = service.NewMarketService(deps.MarketStore, deps.MarketCache, a.logger)

	var attester service.Attester
	if c.signer != nil {
		attester = c.signer
	}
	c.resolutionSvc = service.NewResolutionService(
		c.machine, deps.ConsensusAuditStore, deps.AuditStore,
		attester, deps.Notifier, a.logger,
	)

	c.governanceSvc = service.NewGovernanceService(
		c.govModule, deps.ProposalStore, c.ledger, deps.AuditStore,
		deps.Notifier, a.logger,
	)

	return c, nil
}

// buildProviders constructs the AI provider adapters in configured order.
func (a *App) buildProviders() []domain.AIProvider {
	providers := make([]domain.AIProvider, 0, len(a.cfg.Providers))
	for _, p := range a.cfg.Providers {
		switch strings.ToLower(p.Kind) {
		case "openai":
			providers = append(providers, provider.NewOpenAIClient(p.BaseURL, p.ApiKey, p.Model))
		case "gemini":
			providers = append(providers, provider.NewGeminiClient(p.BaseURL, p.ApiKey, p.Model))
		default:
			a.logger.Warn("skipping provider with unknown kind",
				slog.String("kind", p.Kind),
				slog.String("model", p.Model),
			)
		}
	}
	return providers
}

// buildPipeline constructs the automation pipeline: market scanner, ledger
// event scanner, consensus resolver, and cold-storage archiver under one
// orchestrator.
func (a *App) buildPipeline(deps *Dependencies, c *core) (*pipeline.Orchestrator, error) {
	if c.ledger == nil {
		return nil, fmt.Errorf("pipeline requires a configured ledger RPC endpoint")
	}
	if deps.Archiver == nil {
		return nil, fmt.Errorf("pipeline requires blob storage for archival")
	}

	providers := a.buildProviders()
	if len(providers) == 0 {
		return nil, fmt.Errorf("pipeline requires at least one AI provider")
	}

	engine := consensus.New(providers, consensus.Config{
		CallTimeout: a.cfg.Consensus.CallTimeout.Duration,
		Generation: domain.GenerationConfig{
			Temperature:     a.cfg.Consensus.Temperature,
			MaxOutputTokens: a.cfg.Consensus.MaxOutputTokens,
		},
	}, a.logger)

	relayClient := relay.NewClient(a.cfg.Relay.BaseURL, a.cfg.Relay.ApiKey)

	resolver := pipeline.NewResolver(
		deps.ResolutionStore,
		deps.MarketStore,
		c.ledger,
		relayClient,
		engine,
		c.machine,
		ledger.NewCallDataBuilder(),
		deps.ConsensusAuditStore,
		deps.DedupCache,
		deps.Notifier,
		pipeline.ResolverConfig{
			Lookback:      a.cfg.Resolution.Lookback.Duration,
			TargetChain:   a.cfg.Relay.TargetChain,
			TargetAddress: a.cfg.Relay.TargetAddress,
			DedupTTL:      a.cfg.Resolution.DedupTTL.Duration,
			MaxBatch:      a.cfg.Resolution.MaxBatch,
		},
		a.logger,
	)

	marketScanner := pipeline.NewMarketScanner(deps.MarketStore, c.machine, a.logger)
	eventScanner := pipeline.NewEventScanner(c.ledger, deps.MarketStore, c.machine, a.logger)
	archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Pipeline.ArchiveRetentionDays, a.logger)

	orch := pipeline.NewOrchestrator(
		marketScanner,
		eventScanner,
		resolver,
		archiver,
		a.cfg.Pipeline.ScanInterval.Duration,
		a.cfg.Resolution.ResolveInterval.Duration,
		a.cfg.Pipeline.ArchiveCron,
		a.logger,
	)
	orch.WithLockManager(deps.LockManager)
	return orch, nil
}

// ResolverMode runs the automation pipeline headless: scan, resolve, archive.
// No HTTP API is served.
func (a *App) ResolverMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting resolver mode")

	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return fmt.Errorf("resolver mode: %w", err)
	}

	orch, err := a.buildPipeline(deps, c)
	if err != nil {
		return fmt.Errorf("resolver mode: %w", err)
	}

	return orch.Run(ctx)
}

// MonitorMode runs read-only observation: the HTTP API for dashboards plus a
// consumer that logs market state transitions from the signal bus. No
// consensus rounds run and nothing is submitted to the ledger.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	// State transition consumer.
	g.Go(func() error {
		ch, err := deps.SignalBus.Subscribe(ctx, "ch:market:state")
		if err != nil {
			return fmt.Errorf("monitor mode: subscribe market state: %w", err)
		}
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case data, ok := <-ch:
				if !ok {
					return nil
				}
				a.logger.InfoContext(ctx, "market transition observed",
					slog.String("event", string(data)),
				)
			}
		}
	})

	a.startHTTPServer(ctx, g, deps, c, nil)

	return g.Wait()
}

// ServerMode serves the HTTP + WebSocket API only.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, c, nil)

	return g.Wait()
}

// FullMode runs the automation pipeline and the HTTP + WebSocket API
// together. POST /api/pipeline/trigger runs one resolver cycle on demand.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if !a.cfg.Pipeline.Enabled {
		a.logger.WarnContext(ctx, "pipeline.enabled is false, but full mode runs the pipeline by design")
	}

	orch, err := a.buildPipeline(deps, c)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	if a.cfg.Server.Enabled {
		triggerCh := make(chan struct{}, 1)
		orch.WithTriggerChannel(triggerCh)

		statusH := a.startHTTPServer(ctx, g, deps, c, triggerCh)
		orch.WithCycleHook(statusH.RecordCycle)
	}

	g.Go(func() error {
		return orch.Run(ctx)
	})

	return g.Wait()
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup and returns the status handler so callers can feed it
// resolver cycle stats. pipelineTriggerCh is optional; when non-nil,
// POST /api/pipeline/trigger sends on it to request one resolver cycle.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	c *core,
	pipelineTriggerCh chan<- struct{},
) *handler.StatusHandler {
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	statusH := handler.NewStatusHandler(a.cfg.Mode, startedAt)

	ph := handler.NewPipelineHandler(a.logger)
	if pipelineTriggerCh != nil {
		ph = ph.WithTriggerChannel(pipelineTriggerCh)
	}

	var adminAuth *crypto.HMACAuth
	if a.cfg.Server.AdminApiKey != "" && a.cfg.Server.AdminApiSecret != "" {
		adminAuth = &crypto.HMACAuth{
			Key:    a.cfg.Server.AdminApiKey,
			Secret: a.cfg.Server.AdminApiSecret,
		}
	} else {
		a.logger.Warn("admin API credentials not configured; lifecycle endpoints disabled")
	}

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			AdminAuth:   adminAuth,
			RateLimiter: deps.RateLimiter,
		},
		server.Handlers{
			Health:     handler.NewHealthHandler(a.logger),
			Status:     statusH,
			Markets:    handler.NewMarketHandler(c.marketSvc, a.logger),
			Resolution: handler.NewResolutionHandler(c.resolutionSvc, a.logger),
			Governance: handler.NewGovernanceHandler(c.governanceSvc, a.logger),
			Pipeline:   ph,
		},
		hub,
		a.logger,
	)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return statusH
}
