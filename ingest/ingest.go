package ingest

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/danywayGit/OnChainArbitrage-sub000/registry"
	"github.com/danywayGit/OnChainArbitrage-sub000/types"
)

// SyncTopic identifies reserve-change events emitted by constant-product
// pools after every swap, mint and burn.
var SyncTopic = crypto.Keccak256Hash([]byte("Sync(uint112,uint112)"))

const (
	factoryABIJSON = `[{"constant":true,"inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],"name":"getPair","outputs":[{"name":"pair","type":"address"}],"stateMutability":"view","type":"function"}]`
	pairABIJSON    = `[{"constant":true,"inputs":[],"name":"getReserves","outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}],"stateMutability":"view","type":"function"}]`

	poolCacheSize = 512
)

// ChainReader is the point-query surface the ingest needs from a node.
// *ethclient.Client satisfies it.
type ChainReader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// SubscriptionPool is the streaming surface, satisfied by *provider.Pool.
type SubscriptionPool interface {
	Subscribe(id string, address common.Address, topics []common.Hash, cb func(ethtypes.Log)) error
	Unsubscribe(id string)
}

// binding ties one live subscription to the pair and venue it prices.
type binding struct {
	venue    string
	pair     types.TradingPair
	poolAddr common.Address
	// true when the pair's tokenA is the pool's token1, so decoded
	// reserves must be swapped before pricing
	flipped bool
}

type event struct {
	subID string
	log   ethtypes.Log
}

// Ingest turns raw reserve-change events into normalized price points and
// runs spread detection on every update. One instance covers every
// constant-product venue of a chain; concentrated-liquidity venues carry no
// reserve stream and join at the quote stage instead.
type Ingest struct {
	reader   ChainReader
	pool     SubscriptionPool
	chain    *registry.Chain
	table    *PriceTable
	detector *Detector
	log      *zap.Logger

	limiter     *rate.Limiter
	waitTimeout time.Duration
	poolCache   *lru.Cache
	factoryABI  abi.ABI
	pairABI     abi.ABI
	moveLogBps  int64

	events        chan event
	onOpportunity func(types.ArbitrageOpportunity)

	mu       sync.Mutex
	bindings map[string]*binding

	metrics struct {
		eventsProcessed prometheus.Counter
		eventsDropped   prometheus.Counter
		opportunities   prometheus.Counter
	}
}

// Options tune queue sizing, point-query throttling and log verbosity.
// RPCWaitTimeout bounds how long a point query blocks on the rate limiter;
// zero means wait indefinitely.
type Options struct {
	EventQueueSize int
	RPCRateLimit   rate.Limit
	RPCWaitTimeout time.Duration
	MoveLogBps     int64
}

func New(reader ChainReader, pool SubscriptionPool, chain *registry.Chain, detector *Detector, opts Options, onOpportunity func(types.ArbitrageOpportunity), logger *zap.Logger) (*Ingest, error) {
	factoryABI, err := abi.JSON(strings.NewReader(factoryABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse factory ABI: %w", err)
	}
	pairABI, err := abi.JSON(strings.NewReader(pairABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse pair ABI: %w", err)
	}
	cache, err := lru.New(poolCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create pool cache: %w", err)
	}
	if opts.EventQueueSize <= 0 {
		opts.EventQueueSize = 1024
	}
	if opts.RPCRateLimit <= 0 {
		opts.RPCRateLimit = 20
	}

	in := &Ingest{
		reader:        reader,
		pool:          pool,
		chain:         chain,
		table:         NewPriceTable(chain.VenueNames()),
		detector:      detector,
		log:           logger,
		limiter:       rate.NewLimiter(opts.RPCRateLimit, int(opts.RPCRateLimit)),
		waitTimeout:   opts.RPCWaitTimeout,
		poolCache:     cache,
		factoryABI:    factoryABI,
		pairABI:       pairABI,
		moveLogBps:    opts.MoveLogBps,
		events:        make(chan event, opts.EventQueueSize),
		onOpportunity: onOpportunity,
		bindings:      make(map[string]*binding),
	}

	in.metrics.eventsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_events_processed_total",
		Help: "Total number of reserve events processed",
	})
	in.metrics.eventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_events_dropped_total",
		Help: "Total number of reserve events dropped on queue overflow",
	})
	in.metrics.opportunities = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_opportunities_total",
		Help: "Total number of candidate opportunities detected",
	})
	return in, nil
}

// Register attaches the ingest's metrics to a Prometheus registry.
func (in *Ingest) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		in.metrics.eventsProcessed,
		in.metrics.eventsDropped,
		in.metrics.opportunities,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Start subscribes the initial pair set and launches the processing loop.
// The loop stops when ctx is cancelled.
func (in *Ingest) Start(ctx context.Context, pairs []types.TradingPair) error {
	for _, pair := range pairs {
		in.AddPair(ctx, pair)
	}
	go in.loop(ctx)
	return nil
}

// AddPair wires one pair onto every constant-product venue that actually
// lists it. A venue with no pool for the pair is skipped without affecting
// the other venues.
func (in *Ingest) AddPair(ctx context.Context, pair types.TradingPair) {
	for _, name := range in.chain.VenueNames() {
		venue, ok := in.chain.Venue(name)
		if !ok || venue.Kind != registry.ConstantProduct {
			continue
		}
		if err := in.addVenuePair(ctx, *venue, pair); err != nil {
			in.log.Warn("Skipping venue for pair",
				zap.String("venue", venue.Name),
				zap.String("pair", pair.Name),
				zap.Error(err))
		}
	}
}

// RemovePair tears down the pair's subscriptions and forgets its prices.
func (in *Ingest) RemovePair(pair types.TradingPair) {
	in.mu.Lock()
	var ids []string
	for id, b := range in.bindings {
		if b.pair.Name == pair.Name {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		venue := in.bindings[id].venue
		delete(in.bindings, id)
		in.table.Delete(venue, pair.Name)
	}
	in.mu.Unlock()

	for _, id := range ids {
		in.pool.Unsubscribe(id)
	}
	if len(ids) > 0 {
		in.log.Info("Pair removed from watch set",
			zap.String("pair", pair.Name),
			zap.Int("subscriptions", len(ids)))
	}
}

// ApplyDiff reconciles the watch set with a catalog reload. Changed pairs
// are rebuilt so address updates take effect.
func (in *Ingest) ApplyDiff(ctx context.Context, added, removed, changed []types.TradingPair) {
	for _, pair := range removed {
		in.RemovePair(pair)
	}
	for _, pair := range changed {
		in.RemovePair(pair)
		in.AddPair(ctx, pair)
	}
	for _, pair := range added {
		in.AddPair(ctx, pair)
	}
}

func (in *Ingest) PriceTableSize() int {
	return in.table.Size()
}

// PairPoints exposes the live view for one pair, used by the monitor command.
func (in *Ingest) PairPoints(pair string) []types.PricePoint {
	return in.table.PairPoints(pair)
}

// TopSpreads reports the current widest spread per pair, in percent.
func (in *Ingest) TopSpreads() map[string]float64 {
	return in.table.TopSpreads()
}

func (in *Ingest) addVenuePair(ctx context.Context, venue registry.Venue, pair types.TradingPair) error {
	poolAddr, err := in.resolvePool(ctx, venue, pair)
	if err != nil {
		return err
	}

	flipped := bytes.Compare(pair.TokenAAddress.Bytes(), pair.TokenBAddress.Bytes()) > 0
	b := &binding{venue: venue.Name, pair: pair, poolAddr: poolAddr, flipped: flipped}
	subID := venue.Name + ":" + pair.Name

	if err := in.seedReserves(ctx, b); err != nil {
		// the Sync stream will fill the gap; not fatal
		in.log.Warn("Failed to seed reserves",
			zap.String("venue", venue.Name),
			zap.String("pair", pair.Name),
			zap.Error(err))
	}

	err = in.pool.Subscribe(subID, poolAddr, []common.Hash{SyncTopic}, func(lg ethtypes.Log) {
		select {
		case in.events <- event{subID: subID, log: lg}:
		default:
			in.metrics.eventsDropped.Inc()
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subID, err)
	}

	in.mu.Lock()
	in.bindings[subID] = b
	in.mu.Unlock()

	in.log.Info("Watching pool",
		zap.String("venue", venue.Name),
		zap.String("pair", pair.Name),
		zap.String("pool", poolAddr.Hex()))
	return nil
}

// resolvePool asks the venue factory for the pool address, with an LRU cache
// in front so repeated catalog reloads stay cheap. The key carries the token
// addresses, so a pair whose addresses change on reload resolves fresh.
func (in *Ingest) resolvePool(ctx context.Context, venue registry.Venue, pair types.TradingPair) (common.Address, error) {
	cacheKey := venue.Name + "|" + pair.TokenAAddress.Hex() + "|" + pair.TokenBAddress.Hex()
	if cached, ok := in.poolCache.Get(cacheKey); ok {
		return cached.(common.Address), nil
	}

	if err := in.waitForSlot(ctx); err != nil {
		return common.Address{}, err
	}

	data, err := in.factoryABI.Pack("getPair", pair.TokenAAddress, pair.TokenBAddress)
	if err != nil {
		return common.Address{}, fmt.Errorf("pack getPair: %w", err)
	}
	out, err := in.reader.CallContract(ctx, ethereum.CallMsg{To: &venue.Factory, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("getPair call: %w", err)
	}
	res, err := in.factoryABI.Unpack("getPair", out)
	if err != nil {
		return common.Address{}, fmt.Errorf("unpack getPair: %w", err)
	}
	poolAddr := res[0].(common.Address)
	if poolAddr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("venue %s has no pool for %s", venue.Name, pair.Name)
	}

	in.poolCache.Add(cacheKey, poolAddr)
	return poolAddr, nil
}

// waitForSlot blocks on the rate limiter, for at most waitTimeout when one is
// configured.
func (in *Ingest) waitForSlot(ctx context.Context) error {
	if in.waitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.waitTimeout)
		defer cancel()
	}
	return in.limiter.Wait(ctx)
}

// seedReserves fetches the current reserves so the pair is priced before the
// first event arrives.
func (in *Ingest) seedReserves(ctx context.Context, b *binding) error {
	if err := in.waitForSlot(ctx); err != nil {
		return err
	}

	data, err := in.pairABI.Pack("getReserves")
	if err != nil {
		return fmt.Errorf("pack getReserves: %w", err)
	}
	out, err := in.reader.CallContract(ctx, ethereum.CallMsg{To: &b.poolAddr, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("getReserves call: %w", err)
	}
	res, err := in.pairABI.Unpack("getReserves", out)
	if err != nil {
		return fmt.Errorf("unpack getReserves: %w", err)
	}

	r0 := res[0].(*big.Int)
	r1 := res[1].(*big.Int)
	in.updatePoint(b, r0, r1)
	return nil
}

func (in *Ingest) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-in.events:
			in.process(ev)
		}
	}
}

func (in *Ingest) process(ev event) {
	in.mu.Lock()
	b, ok := in.bindings[ev.subID]
	in.mu.Unlock()
	if !ok {
		// subscription was torn down while the event was queued
		return
	}
	if len(ev.log.Data) < 64 {
		in.log.Warn("Malformed reserve event",
			zap.String("subscription", ev.subID),
			zap.Int("data_len", len(ev.log.Data)))
		return
	}

	r0 := new(big.Int).SetBytes(ev.log.Data[0:32])
	r1 := new(big.Int).SetBytes(ev.log.Data[32:64])
	in.metrics.eventsProcessed.Inc()
	in.updatePoint(b, r0, r1)

	points := in.table.PairPoints(b.pair.Name)
	if opp, found := in.detector.Evaluate(b.pair.Name, points); found {
		in.metrics.opportunities.Inc()
		if in.onOpportunity != nil {
			in.onOpportunity(opp)
		}
	}
}

// updatePoint normalizes raw reserves into a decimals-adjusted price and
// publishes the point atomically.
func (in *Ingest) updatePoint(b *binding, r0, r1 *big.Int) {
	reserveA, reserveB := r0, r1
	if b.flipped {
		reserveA, reserveB = r1, r0
	}
	if reserveA.Sign() == 0 || reserveB.Sign() == 0 {
		in.log.Warn("Pool with empty reserves",
			zap.String("venue", b.venue),
			zap.String("pair", b.pair.Name))
		return
	}

	// price of tokenA in tokenB, normalized by token decimals:
	// (reserveB * 10^decA) / (reserveA * 10^decB)
	num := new(big.Int).Mul(reserveB, pow10(b.pair.TokenADecimals))
	den := new(big.Int).Mul(reserveA, pow10(b.pair.TokenBDecimals))
	price := new(big.Rat).SetFrac(num, den)

	if prev, ok := in.table.Get(b.venue, b.pair.Name); ok && in.moveLogBps > 0 {
		if moveExceeds(prev.Price, price, in.moveLogBps) {
			pf, _ := price.Float64()
			in.log.Info("Price moved",
				zap.String("venue", b.venue),
				zap.String("pair", b.pair.Name),
				zap.Float64("price", pf))
		}
	}

	in.table.Put(types.PricePoint{
		Venue:     b.venue,
		Pair:      b.pair.Name,
		ReserveA:  new(big.Int).Set(reserveA),
		ReserveB:  new(big.Int).Set(reserveB),
		Price:     price,
		UpdatedAt: time.Now(),
	})
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// moveExceeds reports whether |new-old|/old is strictly above bps.
func moveExceeds(old, next *big.Rat, bps int64) bool {
	delta := new(big.Rat).Sub(next, old)
	if delta.Sign() < 0 {
		delta.Neg(delta)
	}
	rel := delta.Quo(delta, old)
	return rel.Cmp(big.NewRat(bps, 10000)) > 0
}
