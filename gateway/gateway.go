package gateway

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"

	"github.com/danywayGit/OnChainArbitrage-sub000/quote"
	"github.com/danywayGit/OnChainArbitrage-sub000/registry"
	"github.com/danywayGit/OnChainArbitrage-sub000/types"
)

// TradeParams is everything the execution layer needs to assemble a
// flash-loan round trip. The gateway fills it; it never signs or submits
// on-chain itself.
type TradeParams struct {
	BorrowAsset  common.Address
	Amount       *big.Int
	BuyRouter    common.Address
	SellRouter   common.Address
	BuyPath      []common.Address
	SellPath     []common.Address
	BuyFeeBps    int64
	SellFeeBps   int64
	MinProfitBps int64
}

// Invoker submits a prepared trade. Implementations may sign transactions,
// call a relay, or just record the decision.
type Invoker interface {
	Submit(ctx context.Context, params TradeParams) (common.Hash, error)
}

// LogInvoker is the default dry-run invoker: it logs the decision and
// reports success without touching the chain.
type LogInvoker struct {
	log *zap.Logger
}

func NewLogInvoker(logger *zap.Logger) *LogInvoker {
	return &LogInvoker{log: logger}
}

func (l *LogInvoker) Submit(_ context.Context, params TradeParams) (common.Hash, error) {
	l.log.Info("Dry-run trade",
		zap.String("borrow_asset", params.BorrowAsset.Hex()),
		zap.String("amount", params.Amount.String()),
		zap.String("buy_router", params.BuyRouter.Hex()),
		zap.String("sell_router", params.SellRouter.Hex()))
	return common.Hash{}, nil
}

// Gateway is the boundary between the decision engine and trade execution.
// A rejected or reverted submission is logged and counted, never fatal.
type Gateway struct {
	mu           sync.RWMutex
	invoker      Invoker
	minProfitBps int64
	log          *zap.Logger

	metrics struct {
		submissions  prometheus.Counter
		successCount prometheus.Counter
		totalCount   prometheus.Counter
		failures     prometheus.Counter
		successRate  prometheus.Gauge
	}
}

func New(invoker Invoker, minProfitBps int64, logger *zap.Logger) *Gateway {
	g := &Gateway{
		invoker:      invoker,
		minProfitBps: minProfitBps,
		log:          logger,
	}

	g.metrics.submissions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_submissions_total",
		Help: "Total number of trades handed to the invoker",
	})
	g.metrics.successCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_success_total",
		Help: "Total number of accepted trade submissions",
	})
	g.metrics.totalCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_attempts_total",
		Help: "Total number of trade submission attempts",
	})
	g.metrics.failures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_failures_total",
		Help: "Total number of rejected or reverted submissions",
	})
	g.metrics.successRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_success_rate",
		Help: "Success rate of trade submissions",
	})
	return g
}

// Register attaches the gateway's metrics to a Prometheus registry.
func (g *Gateway) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		g.metrics.submissions,
		g.metrics.successCount,
		g.metrics.totalCount,
		g.metrics.failures,
		g.metrics.successRate,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Execute hands a profitable evaluation to the invoker. The trade direction
// is borrow tokenB, buy tokenA on the cheap venue, sell it on the dear one.
func (g *Gateway) Execute(ctx context.Context, opp types.ArbitrageOpportunity, pair types.TradingPair, buy, sell registry.Venue, ev quote.Evaluation) error {
	if !ev.Profitable {
		return fmt.Errorf("refusing unprofitable trade for %s", opp.Pair)
	}

	params := TradeParams{
		BorrowAsset:  pair.TokenBAddress,
		Amount:       new(big.Int).Set(ev.AmountIn),
		BuyRouter:    buy.Router,
		SellRouter:   sell.Router,
		BuyPath:      []common.Address{pair.TokenBAddress, pair.TokenAAddress},
		SellPath:     []common.Address{pair.TokenAAddress, pair.TokenBAddress},
		BuyFeeBps:    buy.FeeBps,
		SellFeeBps:   sell.FeeBps,
		MinProfitBps: g.minProfitBps,
	}

	g.metrics.submissions.Inc()
	g.metrics.totalCount.Inc()

	txHash, err := g.invoker.Submit(ctx, params)
	if err != nil {
		g.metrics.failures.Inc()
		g.updateSuccessRate()
		g.log.Warn("Trade submission failed",
			zap.String("pair", opp.Pair),
			zap.String("buy_venue", buy.Name),
			zap.String("sell_venue", sell.Name),
			zap.Error(err))
		return fmt.Errorf("submit trade for %s: %w", opp.Pair, err)
	}

	g.metrics.successCount.Inc()
	g.updateSuccessRate()
	g.log.Info("Trade submitted",
		zap.String("pair", opp.Pair),
		zap.String("tx", txHash.Hex()),
		zap.String("net_profit", ev.NetProfit.String()))
	return nil
}

func (g *Gateway) updateSuccessRate() {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var successCount, totalCount float64

	ch := make(chan prometheus.Metric, 1)
	g.metrics.successCount.Collect(ch)
	if metric := <-ch; metric != nil {
		m := &dto.Metric{}
		if err := metric.Write(m); err == nil && m.Counter != nil {
			successCount = *m.Counter.Value
		}
	}

	g.metrics.totalCount.Collect(ch)
	if metric := <-ch; metric != nil {
		m := &dto.Metric{}
		if err := metric.Write(m); err == nil && m.Counter != nil {
			totalCount = *m.Counter.Value
		}
	}

	if totalCount > 0 {
		g.metrics.successRate.Set(successCount / totalCount)
	}
}
