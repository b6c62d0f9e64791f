package quote

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/danywayGit/OnChainArbitrage-sub000/registry"
	"github.com/danywayGit/OnChainArbitrage-sub000/types"
)

// ErrQuoteUnavailable means the venue could not price the trade at all, for
// example a reverted quoter call. The caller should drop the opportunity
// rather than retry.
var ErrQuoteUnavailable = errors.New("quote unavailable")

const (
	routerABIJSON = `[{"constant":true,"inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],"name":"getAmountsOut","outputs":[{"name":"amounts","type":"uint256[]"}],"stateMutability":"view","type":"function"}]`
	quoterABIJSON = `[{"inputs":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"fee","type":"uint24"},{"name":"amountIn","type":"uint256"},{"name":"sqrtPriceLimitX96","type":"uint160"}],"name":"quoteExactInputSingle","outputs":[{"name":"amountOut","type":"uint256"}],"stateMutability":"nonpayable","type":"function"}]`

	// haircut applied when a concentrated-liquidity quoter is unreachable
	// and the output must be estimated from the nominal amount
	estimateHaircutBps = 50
)

// ChainReader is the read-only node surface the simulator needs.
// *ethclient.Client satisfies it.
type ChainReader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Costs carries the deterministic cost model applied to every evaluation.
type Costs struct {
	FlashLoanFeeBps   int64
	SlippageBufferBps int64
	GasUnits          uint64
}

// Leg is one swap of the round trip.
type Leg struct {
	Venue    string
	TokenIn  common.Address
	TokenOut common.Address
	Quote    types.QuoteResult
}

// Evaluation is the full verdict on one opportunity at one trade size.
type Evaluation struct {
	AmountIn       *big.Int
	BuyOutput      *big.Int
	FinalAmount    *big.Int
	GrossProfit    *big.Int
	FlashLoanFee   *big.Int
	GasCost        *big.Int
	SlippageBuffer *big.Int
	NetProfit      *big.Int
	Profitable     bool
	Estimated      bool
	Legs           [2]Leg
}

// Simulator prices candidate round trips against venue routers and quoters
// and applies the flash-loan cost model.
type Simulator struct {
	reader    ChainReader
	limiter   *rate.Limiter
	costs     Costs
	log       *zap.Logger
	routerABI abi.ABI
	quoterABI abi.ABI
}

func NewSimulator(reader ChainReader, limiter *rate.Limiter, costs Costs, logger *zap.Logger) (*Simulator, error) {
	routerABI, err := abi.JSON(strings.NewReader(routerABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse router ABI: %w", err)
	}
	quoterABI, err := abi.JSON(strings.NewReader(quoterABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse quoter ABI: %w", err)
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Simulator{
		reader:    reader,
		limiter:   limiter,
		costs:     costs,
		log:       logger,
		routerABI: routerABI,
		quoterABI: quoterABI,
	}, nil
}

// QuoteLeg prices a single swap on one venue. Constant-product venues go
// through the router's getAmountsOut; concentrated-liquidity venues through
// the quoter, with a haircut estimate as fallback when the quoter call
// itself fails.
func (s *Simulator) QuoteLeg(ctx context.Context, venue registry.Venue, tokenIn, tokenOut common.Address, amountIn *big.Int) (types.QuoteResult, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return types.QuoteResult{}, err
	}

	switch venue.Kind {
	case registry.ConstantProduct:
		return s.quoteRouter(ctx, venue, tokenIn, tokenOut, amountIn)
	case registry.ConcentratedLiquidity:
		return s.quoteQuoter(ctx, venue, tokenIn, tokenOut, amountIn)
	default:
		return types.QuoteResult{}, fmt.Errorf("%w: unsupported venue kind %q", ErrQuoteUnavailable, venue.Kind)
	}
}

func (s *Simulator) quoteRouter(ctx context.Context, venue registry.Venue, tokenIn, tokenOut common.Address, amountIn *big.Int) (types.QuoteResult, error) {
	data, err := s.routerABI.Pack("getAmountsOut", amountIn, []common.Address{tokenIn, tokenOut})
	if err != nil {
		return types.QuoteResult{}, fmt.Errorf("pack getAmountsOut: %w", err)
	}
	out, err := s.reader.CallContract(ctx, ethereum.CallMsg{To: &venue.Router, Data: data}, nil)
	if err != nil {
		return types.QuoteResult{}, fmt.Errorf("%w: %s getAmountsOut: %v", ErrQuoteUnavailable, venue.Name, err)
	}
	res, err := s.routerABI.Unpack("getAmountsOut", out)
	if err != nil {
		return types.QuoteResult{}, fmt.Errorf("unpack getAmountsOut: %w", err)
	}
	amounts := res[0].([]*big.Int)
	if len(amounts) < 2 {
		return types.QuoteResult{}, fmt.Errorf("%w: %s returned short path", ErrQuoteUnavailable, venue.Name)
	}

	return types.QuoteResult{
		AmountIn:  new(big.Int).Set(amountIn),
		AmountOut: amounts[len(amounts)-1],
		FeeBps:    venue.FeeBps,
	}, nil
}

func (s *Simulator) quoteQuoter(ctx context.Context, venue registry.Venue, tokenIn, tokenOut common.Address, amountIn *big.Int) (types.QuoteResult, error) {
	// quoter fee tiers are in hundredths of a bip
	fee := big.NewInt(venue.FeeBps * 100)
	data, err := s.quoterABI.Pack("quoteExactInputSingle", tokenIn, tokenOut, fee, amountIn, big.NewInt(0))
	if err != nil {
		return types.QuoteResult{}, fmt.Errorf("pack quoteExactInputSingle: %w", err)
	}
	out, err := s.reader.CallContract(ctx, ethereum.CallMsg{To: &venue.Quoter, Data: data}, nil)
	if err != nil {
		// degrade to an estimate so one flaky quoter does not hide the
		// whole venue
		s.log.Warn("Quoter unreachable, estimating",
			zap.String("venue", venue.Name),
			zap.Error(err))
		est := new(big.Int).Mul(amountIn, big.NewInt(10000-estimateHaircutBps))
		est.Div(est, big.NewInt(10000))
		return types.QuoteResult{
			AmountIn:   new(big.Int).Set(amountIn),
			AmountOut:  est,
			FeeBps:     venue.FeeBps,
			IsEstimate: true,
		}, nil
	}
	res, err := s.quoterABI.Unpack("quoteExactInputSingle", out)
	if err != nil {
		return types.QuoteResult{}, fmt.Errorf("unpack quoteExactInputSingle: %w", err)
	}

	return types.QuoteResult{
		AmountIn:  new(big.Int).Set(amountIn),
		AmountOut: res[0].(*big.Int),
		FeeBps:    venue.FeeBps,
	}, nil
}

// Evaluate prices the full round trip for an opportunity: borrow the quote
// asset, buy tokenA on the cheap venue, sell it back on the dear venue,
// repay, and net out flash-loan fee, gas and the slippage buffer.
func (s *Simulator) Evaluate(ctx context.Context, opp types.ArbitrageOpportunity, pair types.TradingPair, buy, sell registry.Venue, amountIn *big.Int) (Evaluation, error) {
	buyQuote, err := s.QuoteLeg(ctx, buy, pair.TokenBAddress, pair.TokenAAddress, amountIn)
	if err != nil {
		return Evaluation{}, fmt.Errorf("buy leg on %s: %w", buy.Name, err)
	}
	sellQuote, err := s.QuoteLeg(ctx, sell, pair.TokenAAddress, pair.TokenBAddress, buyQuote.AmountOut)
	if err != nil {
		return Evaluation{}, fmt.Errorf("sell leg on %s: %w", sell.Name, err)
	}

	// Impact is measured against the detected spot prices. The buy leg
	// spends tokenB for tokenA, so its reference is the inverted price.
	if opp.BuyPrice != nil && opp.BuyPrice.Sign() != 0 {
		buyQuote.PriceImpactBps = PriceImpactBps(new(big.Rat).Inv(opp.BuyPrice), amountIn, buyQuote.AmountOut)
	}
	if opp.SellPrice != nil && opp.SellPrice.Sign() != 0 {
		sellQuote.PriceImpactBps = PriceImpactBps(opp.SellPrice, buyQuote.AmountOut, sellQuote.AmountOut)
	}

	gasPrice, err := s.reader.SuggestGasPrice(ctx)
	if err != nil {
		return Evaluation{}, fmt.Errorf("gas price: %w", err)
	}

	gross := new(big.Int).Sub(sellQuote.AmountOut, amountIn)
	flashFee := FlashLoanFee(amountIn, s.costs.FlashLoanFeeBps)
	gasCost := GasCost(s.costs.GasUnits, gasPrice)
	slippage := SlippageBuffer(amountIn, s.costs.SlippageBufferBps)
	net := NetProfit(gross, flashFee, gasCost, slippage)

	ev := Evaluation{
		AmountIn:       new(big.Int).Set(amountIn),
		BuyOutput:      buyQuote.AmountOut,
		FinalAmount:    sellQuote.AmountOut,
		GrossProfit:    gross,
		FlashLoanFee:   flashFee,
		GasCost:        gasCost,
		SlippageBuffer: slippage,
		NetProfit:      net,
		Profitable:     Profitable(net),
		Estimated:      buyQuote.IsEstimate || sellQuote.IsEstimate,
		Legs: [2]Leg{
			{Venue: buy.Name, TokenIn: pair.TokenBAddress, TokenOut: pair.TokenAAddress, Quote: buyQuote},
			{Venue: sell.Name, TokenIn: pair.TokenAAddress, TokenOut: pair.TokenBAddress, Quote: sellQuote},
		},
	}

	s.log.Info("Opportunity evaluated",
		zap.String("pair", opp.Pair),
		zap.String("buy_venue", buy.Name),
		zap.String("sell_venue", sell.Name),
		zap.String("net_profit", net.String()),
		zap.Bool("profitable", ev.Profitable),
		zap.Bool("estimated", ev.Estimated))
	return ev, nil
}
