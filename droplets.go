package droplets

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/wjorgensen/StreamDroplets/common/httputil"
	"github.com/wjorgensen/StreamDroplets/config"
	"github.com/wjorgensen/StreamDroplets/database"
	"github.com/wjorgensen/StreamDroplets/event/classifier"
	"github.com/wjorgensen/StreamDroplets/integration"
	"github.com/wjorgensen/StreamDroplets/integration/depositsync"
	"github.com/wjorgensen/StreamDroplets/ledger"
	"github.com/wjorgensen/StreamDroplets/metrics"
	"github.com/wjorgensen/StreamDroplets/orchestrator"
	"github.com/wjorgensen/StreamDroplets/pricing"
	"github.com/wjorgensen/StreamDroplets/synchronizer"
	"github.com/wjorgensen/StreamDroplets/synchronizer/blocktime"
	"github.com/wjorgensen/StreamDroplets/synchronizer/node"
)

// Droplets contains the necessary resources for indexing the configured
// chains and valuing every position once per day.
type Droplets struct {
	log log.Logger
	DB  *database.DB

	clients map[uint64]node.EthClient
	chains  []orchestrator.Chain
	sources map[uint64]integration.Chain

	apiServer     *httputil.HTTPServer
	metricsServer *httputil.HTTPServer

	metricsRegistry *prometheus.Registry
	metrics         *metrics.IndexerMetrics

	Registry     *classifier.Registry
	Oracle       *pricing.Oracle
	Ledger       *ledger.Ledger
	Trackers     []integration.ProtocolTracker
	Syncers      []*depositsync.Syncer
	Orchestrator *orchestrator.Orchestrator

	shutdown context.CancelCauseFunc

	stopped atomic.Bool
}

// NewDroplets initializes an instance of Droplets. The initial deposit
// reference sync runs here, so an unreachable deposit API fails startup.
func NewDroplets(ctx context.Context, log log.Logger, cfg *config.Config, shutdown context.CancelCauseFunc) (*Droplets, error) {
	registry := metrics.NewRegistry()
	out := &Droplets{
		log:             log,
		clients:         make(map[uint64]node.EthClient),
		sources:         make(map[uint64]integration.Chain),
		metricsRegistry: registry,
		metrics:         metrics.NewIndexerMetrics(registry),
		shutdown:        shutdown,
	}
	if err := out.initFromConfig(ctx, cfg); err != nil {
		return nil, errors.Join(err, out.Stop(ctx))
	}
	return out, nil
}

func (d *Droplets) Start(ctx context.Context) error {
	if err := d.Orchestrator.Start(); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}
	return nil
}

func (d *Droplets) Stop(ctx context.Context) error {
	var result error

	if d.Orchestrator != nil {
		if err := d.Orchestrator.Close(); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to close orchestrator: %w", err))
		}
	}

	// Now that no day is in flight, we can stop the RPC clients
	for _, client := range d.clients {
		client.Close()
	}

	if d.apiServer != nil {
		if err := d.apiServer.Close(); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to close health server: %w", err))
		}
	}

	// DB connection can be closed last, after all its potential users have shut down
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to close DB: %w", err))
		}
	}

	if d.metricsServer != nil {
		if err := d.metricsServer.Close(); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to close metrics server: %w", err))
		}
	}

	d.stopped.Store(true)

	d.log.Info("droplets stopped")

	return result
}

func (d *Droplets) Stopped() bool {
	return d.stopped.Load()
}

func (d *Droplets) initFromConfig(ctx context.Context, cfg *config.Config) error {
	if err := d.initDB(ctx, cfg.DB); err != nil {
		return fmt.Errorf("failed to init DB: %w", err)
	}
	if err := d.initChains(ctx, cfg); err != nil {
		return fmt.Errorf("failed to start RPC clients: %w", err)
	}
	if err := d.initPricing(cfg.Topology); err != nil {
		return fmt.Errorf("failed to init oracle: %w", err)
	}
	d.initRegistry(cfg.Topology)
	d.Ledger = ledger.NewLedger(d.log, d.DB.ChainEvents, d.DB.ShareBalances, d.Oracle, cfg.Topology.AssetSymbols(), d.metrics)
	if err := d.initIntegrations(cfg); err != nil {
		return fmt.Errorf("failed to init integrations: %w", err)
	}
	if err := d.initOrchestrator(cfg); err != nil {
		return fmt.Errorf("failed to init orchestrator: %w", err)
	}
	if err := d.Orchestrator.SyncReferences(ctx); err != nil {
		return fmt.Errorf("initial deposit sync failed: %w", err)
	}
	if err := d.startHttpServer(ctx, cfg.HTTPServer); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := d.startMetricsServer(ctx, cfg.MetricsServer); err != nil {
		return fmt.Errorf("failed to start Metrics server: %w", err)
	}
	return nil
}

func (d *Droplets) initDB(ctx context.Context, cfg config.DBConfig) error {
	db, err := database.NewDB(ctx, d.log, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	d.DB = db
	return nil
}

func (d *Droplets) initChains(ctx context.Context, cfg *config.Config) error {
	for _, c := range cfg.Topology.Chains {
		client, err := node.DialEthClient(ctx, d.log, node.ClientConfig{
			Chain:             c.Name,
			RPC:               c.RPC,
			FallbackRPC:       c.FallbackRPC,
			RequestsPerSecond: c.RequestsPerSecond,
			Burst:             c.Burst,
		}, metrics.NewNodeMetrics(d.metricsRegistry, c.Name))
		if err != nil {
			return fmt.Errorf("failed to dial %s client: %w", c.Name, err)
		}
		d.clients[c.ChainID] = client

		chainID, err := client.ChainID(ctx)
		if err != nil {
			return fmt.Errorf("failed to read %s chain id: %w", c.Name, err)
		}
		if chainID != c.ChainID {
			return fmt.Errorf("%s rpc serves chain %d, configured as %d", c.Name, chainID, c.ChainID)
		}

		var lookup blocktime.Lookup
		if c.Explorer.URL != "" {
			lookup = blocktime.NewExplorerLookup(c.Explorer.URL, c.Explorer.APIKey, c.ChainID)
		}
		fetcher := synchronizer.NewLogFetcher(client, c.MaxLogRange, cfg.Indexer.FetchWorkers)

		d.chains = append(d.chains, orchestrator.Chain{
			ChainID:    c.ChainID,
			Name:       c.Name,
			StartBlock: c.StartBlock,
			Addresses:  c.Addresses(),
			Logs:       fetcher,
			Blocks:     blocktime.NewFinder(d.log.New("chain", c.Name), client, lookup, c.BlockTime),
		})
		d.sources[c.ChainID] = integration.Chain{Logs: fetcher, Caller: client}
	}
	return nil
}

func (d *Droplets) initPricing(topology config.Topology) error {
	canonical, ok := topology.Chain(topology.CanonicalChainID)
	if !ok {
		return fmt.Errorf("canonical chain %d is not configured", topology.CanonicalChainID)
	}
	assets := make([]pricing.Asset, 0, len(topology.Assets))
	for _, a := range topology.Assets {
		assets = append(assets, pricing.Asset{
			Symbol:      a.Symbol,
			Vault:       common.HexToAddress(canonical.Vaults[a.Symbol]),
			PPSDecimals: a.PPSDecimals,
		})
	}
	d.Oracle = pricing.NewOracle(d.log, d.clients[canonical.ChainID], assets, d.DB.PriceCaches)
	return nil
}

// initRegistry builds the static address book. Deposit-holding addresses of
// offchain protocols are merged in by the registry after each sync.
func (d *Droplets) initRegistry(topology config.Topology) {
	book := classifier.NewAddressBook()
	for _, c := range topology.Chains {
		for symbol, addr := range c.Vaults {
			book.Vaults[common.HexToAddress(addr)] = symbol
		}
		for symbol, addr := range c.BridgeAdapters {
			book.BridgeAdapters[common.HexToAddress(addr)] = symbol
		}
		for _, addr := range c.Routers {
			book.Routers[common.HexToAddress(addr)] = struct{}{}
		}
	}
	for _, in := range topology.Integrations {
		for _, addrs := range in.ContractAddresses() {
			for _, addr := range addrs {
				switch in.Kind {
				case config.KindERC4626:
					book.Integrations[addr] = in.Name
				case config.KindAMM:
					book.Pools[addr] = in.Name
				}
			}
		}
	}
	d.Registry = classifier.NewRegistry(book, d.DB.Deposits, topology.OffchainProtocols())
}

func (d *Droplets) initIntegrations(cfg *config.Config) error {
	topology := cfg.Topology
	for _, in := range topology.Integrations {
		base := integration.Config{
			Name:      in.Name,
			Asset:     in.Asset,
			Contracts: in.ContractAddresses(),
			Tolerance: in.ToleranceOr(cfg.Indexer.Tolerance),
		}
		switch in.Kind {
		case config.KindERC4626:
			d.Trackers = append(d.Trackers, integration.NewERC4626Tracker(d.log, base, d.sources, d.DB.IntegrationEvents, d.DB.IntegrationBalances))
		case config.KindAMM:
			d.Trackers = append(d.Trackers, integration.NewAMMTracker(d.log, integration.AMMConfig{
				Config:     base,
				Routers:    in.RouterAddresses(),
				TokenIndex: in.TokenIndex,
			}, d.sources, d.DB.IntegrationEvents, d.DB.IntegrationBalances))
		case config.KindOffchain:
			d.Trackers = append(d.Trackers, integration.NewOffchainTracker(d.log, integration.OffchainConfig{
				Config:           base,
				CanonicalChainID: topology.CanonicalChainID,
			}, d.sources, d.DB.IntegrationEvents, d.DB.IntegrationBalances, d.DB.Deposits, d.Oracle))
			d.Syncers = append(d.Syncers, depositsync.NewSyncer(d.log, depositsync.Config{
				Endpoint: in.Endpoint,
				Protocol: in.Name,
				Markets:  in.Markets,
				ChainID:  depositChain(in, topology.CanonicalChainID),
				Asset:    in.Asset,
				PageSize: in.PageSize,
			}, d.DB.Deposits))
		default:
			return fmt.Errorf("integration %s: unknown kind %q", in.Name, in.Kind)
		}
	}
	return nil
}

// depositChain is the chain an offchain protocol's deposit addresses live on:
// its only configured chain, or the canonical one.
func depositChain(in config.IntegrationConfig, canonical uint64) uint64 {
	if len(in.Contracts) == 1 {
		for chainID := range in.Contracts {
			return chainID
		}
	}
	return canonical
}

func (d *Droplets) initOrchestrator(cfg *config.Config) error {
	syncers := make([]orchestrator.ReferenceSyncer, 0, len(d.Syncers))
	for _, s := range d.Syncers {
		syncers = append(syncers, s)
	}
	orch, err := orchestrator.NewOrchestrator(d.log, orchestrator.Config{
		StartDate:        cfg.Indexer.StartDate,
		FinalityDelay:    cfg.Indexer.FinalityDelay,
		Schedule:         cfg.Indexer.Schedule,
		CanonicalChainID: cfg.Topology.CanonicalChainID,
		Assets:           cfg.Topology.AssetSymbols(),
	}, orchestrator.Store{
		ChainEvents:         d.DB.ChainEvents,
		IntegrationEvents:   d.DB.IntegrationEvents,
		ShareBalances:       d.DB.ShareBalances,
		IntegrationBalances: d.DB.IntegrationBalances,
		Cursors:             d.DB.Cursors,
		Snapshots:           d.DB.Snapshots,
		Days:                d.DB,
	}, orchestrator.Deps{
		Chains:    d.chains,
		Recorder:  classifier.NewRecorder(d.log, d.Registry, d.DB.ChainEvents, d.metrics),
		Books:     d.Registry,
		Syncers:   syncers,
		Ledger:    d.Ledger,
		Converter: d.Oracle,
		Trackers:  d.Trackers,
	}, d.metrics, d.shutdown)
	if err != nil {
		return err
	}
	d.Orchestrator = orch
	return nil
}

func (d *Droplets) startHttpServer(ctx context.Context, cfg config.ServerConfig) error {
	d.log.Debug("starting http server...", "port", cfg.Port)

	r := chi.NewRouter()
	r.Use(middleware.Heartbeat("/healthz"))

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	srv, err := httputil.StartHTTPServer(addr, r)
	if err != nil {
		return fmt.Errorf("http server failed to start: %w", err)
	}
	d.apiServer = srv
	d.log.Info("http server started", "addr", srv.Addr())
	return nil
}

func (d *Droplets) startMetricsServer(ctx context.Context, cfg config.ServerConfig) error {
	d.log.Debug("starting metrics server...", "port", cfg.Port)
	srv, err := metrics.StartServer(d.metricsRegistry, cfg.Host, cfg.Port)
	if err != nil {
		return fmt.Errorf("metrics server failed to start: %w", err)
	}
	d.metricsServer = srv
	d.log.Info("metrics server started", "addr", srv.Addr())
	return nil
}
