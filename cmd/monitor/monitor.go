package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/danywayGit/OnChainArbitrage-sub000/catalog"
	"github.com/danywayGit/OnChainArbitrage-sub000/config"
	"github.com/danywayGit/OnChainArbitrage-sub000/feed"
	"github.com/danywayGit/OnChainArbitrage-sub000/gateway"
	"github.com/danywayGit/OnChainArbitrage-sub000/ingest"
	"github.com/danywayGit/OnChainArbitrage-sub000/provider"
	"github.com/danywayGit/OnChainArbitrage-sub000/quote"
	"github.com/danywayGit/OnChainArbitrage-sub000/registry"
	"github.com/danywayGit/OnChainArbitrage-sub000/types"
)

const statusInterval = time.Minute

// Monitor wires the full decision pipeline: streaming providers, pair
// catalog, price ingest, quote simulation and the execution gateway.
type Monitor struct {
	cfg    *config.Config
	chain  *registry.Chain
	cat    *catalog.Catalog
	pool   *provider.Pool
	reader *ethclient.Client
	ingest *ingest.Ingest
	sim    *quote.Simulator
	gw     *gateway.Gateway
	pub    *feed.Publisher
	logger *zap.Logger

	opportunities chan types.ArbitrageOpportunity
	metricsSrv    *http.Server
	wg            sync.WaitGroup
}

// New assembles a monitor from configuration. Nothing connects until Start.
func New(cfg *config.Config, logger *zap.Logger) (*Monitor, error) {
	reg, err := registry.Load(cfg.RegistryFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load venue registry: %w", err)
	}
	chain, ok := reg.Chain(cfg.ChainID)
	if !ok {
		return nil, fmt.Errorf("chain %d is not present in %s", cfg.ChainID, cfg.RegistryFile)
	}

	poolCfg := provider.Config{
		HeartbeatInterval:  cfg.HeartbeatInterval,
		HeartbeatFailLimit: cfg.HeartbeatFailLimit,
		ReconnectBase:      cfg.ReconnectBackoff,
		ReconnectCap:       cfg.ReconnectBackoffCap,
		MaxReconnects:      cfg.MaxReconnects,
		DialTimeout:        provider.DefaultConfig().DialTimeout,
	}
	pool := provider.NewPool(poolCfg, nil, logger)

	providers := cfg.Providers
	if len(providers) == 0 {
		for i, endpoint := range chain.WSEndpoints {
			providers = append(providers, config.ProviderConfig{
				Name:     fmt.Sprintf("%s-ws-%d", chain.Name, i),
				Endpoint: endpoint,
				Priority: i,
			})
		}
	}
	for _, p := range providers {
		if err := pool.AddProvider(p.Name, p.Endpoint, p.Priority); err != nil {
			return nil, fmt.Errorf("failed to register provider %s: %w", p.Name, err)
		}
	}

	rpcEndpoint := cfg.RPCEndpoint
	if rpcEndpoint == "" && len(chain.HTTPEndpoints) > 0 {
		rpcEndpoint = chain.HTTPEndpoints[0]
	}
	reader, err := ethclient.Dial(rpcEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect point-query client: %w", err)
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.RPCRateLimit.RequestsPerSecond), cfg.RPCRateLimit.BurstSize)

	m := &Monitor{
		cfg:           cfg,
		chain:         chain,
		pool:          pool,
		reader:        reader,
		logger:        logger,
		opportunities: make(chan types.ArbitrageOpportunity, cfg.OpportunityQueueSize),
	}

	detector := ingest.NewDetector(cfg.SpreadThresholdBps, logger)
	m.ingest, err = ingest.New(reader, pool, chain, detector, ingest.Options{
		EventQueueSize: cfg.EventQueueSize,
		RPCRateLimit:   rate.Limit(cfg.RPCRateLimit.RequestsPerSecond),
		RPCWaitTimeout: cfg.RPCRateLimit.WaitTimeout,
		MoveLogBps:     cfg.PriceMoveLogBps,
	}, m.enqueue, logger)
	if err != nil {
		reader.Close()
		return nil, fmt.Errorf("failed to create event ingest: %w", err)
	}

	m.sim, err = quote.NewSimulator(reader, limiter, quote.Costs{
		FlashLoanFeeBps:   cfg.FlashLoanFeeBps,
		SlippageBufferBps: cfg.SlippageBufferBps,
		GasUnits:          cfg.GasUnits,
	}, logger)
	if err != nil {
		reader.Close()
		return nil, fmt.Errorf("failed to create quote simulator: %w", err)
	}

	m.gw = gateway.New(gateway.NewLogInvoker(logger), cfg.MinProfitBps, logger)
	m.cat = catalog.New(cfg.CatalogFile, chain, logger)

	if cfg.PrometheusEnabled {
		reg := prometheus.NewRegistry()
		for _, register := range []func(prometheus.Registerer) error{
			pool.Register, m.ingest.Register, m.gw.Register,
		} {
			if err := register(reg); err != nil {
				reader.Close()
				return nil, fmt.Errorf("failed to register metrics: %w", err)
			}
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		m.metricsSrv = &http.Server{Addr: cfg.PrometheusEndpoint, Handler: mux}
	}

	if cfg.Redis.Enabled {
		m.pub, err = feed.NewPublisher(cfg.Redis.Addr, cfg.Redis.Stream, logger)
		if err != nil {
			reader.Close()
			return nil, fmt.Errorf("failed to connect opportunity feed: %w", err)
		}
	}

	return m, nil
}

// Start connects providers, loads the pair catalog and launches the
// pipeline. A failure to reach any streaming provider is fatal.
func (m *Monitor) Start(ctx context.Context) error {
	m.logger.Info("Starting arbitrage monitor",
		zap.String("chain", m.chain.Name),
		zap.Uint64("chain_id", m.chain.ID))

	if err := m.pool.ConnectAll(ctx); err != nil {
		return fmt.Errorf("failed to connect streaming providers: %w", err)
	}

	pairs, err := m.cat.Load()
	if err != nil {
		return fmt.Errorf("failed to load pair catalog: %w", err)
	}
	if err := m.ingest.Start(ctx, pairs); err != nil {
		return fmt.Errorf("failed to start event ingest: %w", err)
	}

	if err := m.cat.Watch(ctx, func(diff catalog.Diff, _ []types.TradingPair) {
		m.ingest.ApplyDiff(ctx, diff.Added, diff.Removed, diff.Changed)
	}); err != nil {
		m.logger.Warn("Catalog hot reload unavailable", zap.Error(err))
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.processOpportunities(ctx)
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.statusLoop(ctx)
	}()

	if m.metricsSrv != nil {
		go func() {
			if err := m.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				m.logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	return nil
}

// Stop tears the pipeline down and waits for in-flight work.
func (m *Monitor) Stop() {
	m.logger.Info("Stopping arbitrage monitor...")
	if m.metricsSrv != nil {
		m.metricsSrv.Close()
	}
	m.pool.Stop()
	m.wg.Wait()
	m.reader.Close()
	if m.pub != nil {
		m.pub.Close()
	}
}

// enqueue hands a detected opportunity to the evaluation loop without ever
// blocking the ingest path.
func (m *Monitor) enqueue(opp types.ArbitrageOpportunity) {
	select {
	case m.opportunities <- opp:
	default:
		m.logger.Warn("Opportunity queue full, dropping",
			zap.String("pair", opp.Pair))
	}
}

func (m *Monitor) processOpportunities(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case opp := <-m.opportunities:
			if err := m.evaluate(ctx, opp); err != nil {
				m.logger.Warn("Opportunity evaluation failed",
					zap.String("pair", opp.Pair),
					zap.Error(err))
			}
		}
	}
}

func (m *Monitor) evaluate(ctx context.Context, opp types.ArbitrageOpportunity) error {
	var pair types.TradingPair
	found := false
	for _, p := range m.cat.Pairs() {
		if p.Name == opp.Pair {
			pair = p
			found = true
			break
		}
	}
	if !found {
		// the pair left the catalog while the opportunity was queued
		return nil
	}

	buy, ok := m.chain.Venue(opp.BuyVenue)
	if !ok {
		return fmt.Errorf("unknown buy venue %s", opp.BuyVenue)
	}
	sell, ok := m.chain.Venue(opp.SellVenue)
	if !ok {
		return fmt.Errorf("unknown sell venue %s", opp.SellVenue)
	}

	ev, err := m.sim.Evaluate(ctx, opp, pair, *buy, *sell, m.cfg.TradeAmountIn)
	if err != nil {
		return err
	}

	if m.pub != nil {
		if err := m.pub.Publish(ctx, opp, ev); err != nil {
			m.logger.Warn("Feed publish failed", zap.Error(err))
		}
	}

	if !ev.Profitable {
		return nil
	}
	return m.gw.Execute(ctx, opp, pair, *buy, *sell, ev)
}

// Status is the observability snapshot for the whole pipeline.
type Status struct {
	ActiveProvider string
	Subscriptions  int
	PriceTableSize int
	TopSpreads     map[string]float64
}

func (m *Monitor) Status() Status {
	st := m.pool.Status()
	return Status{
		ActiveProvider: st.ActiveProvider,
		Subscriptions:  st.Subscriptions,
		PriceTableSize: m.ingest.PriceTableSize(),
		TopSpreads:     m.ingest.TopSpreads(),
	}
}

func (m *Monitor) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := m.Status()
			m.logger.Info("Monitor status",
				zap.String("active_provider", st.ActiveProvider),
				zap.Int("subscriptions", st.Subscriptions),
				zap.Int("priced_pools", st.PriceTableSize),
				zap.Any("top_spreads", st.TopSpreads))
		}
	}
}
