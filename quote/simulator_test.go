package quote

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/danywayGit/OnChainArbitrage-sub000/registry"
	"github.com/danywayGit/OnChainArbitrage-sub000/types"
)

var (
	quickRouter = common.HexToAddress("0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff")
	sushiRouter = common.HexToAddress("0x1b02dA8Cb0d097eB8D57A175b88c7D8b47997506")
	uniQuoter   = common.HexToAddress("0x61fFE014bA17989E743c5F6cB21bF9697530B21e")

	wethAddr = common.HexToAddress("0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619")
	usdcAddr = common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
)

func quickswap() registry.Venue {
	return registry.Venue{Name: "quickswap", Kind: registry.ConstantProduct, Router: quickRouter, FeeBps: 30}
}

func sushiswap() registry.Venue {
	return registry.Venue{Name: "sushiswap", Kind: registry.ConstantProduct, Router: sushiRouter, FeeBps: 30}
}

func uniswapV3() registry.Venue {
	return registry.Venue{Name: "uniswap-v3", Kind: registry.ConcentratedLiquidity, Quoter: uniQuoter, FeeBps: 30}
}

type fakeQuoteReader struct {
	outs     map[common.Address][]byte
	errs     map[common.Address]error
	gasPrice *big.Int
	gasErr   error
	calls    []ethereum.CallMsg
}

func newFakeQuoteReader() *fakeQuoteReader {
	return &fakeQuoteReader{
		outs:     make(map[common.Address][]byte),
		errs:     make(map[common.Address]error),
		gasPrice: big.NewInt(1),
	}
}

func (r *fakeQuoteReader) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	r.calls = append(r.calls, msg)
	if err := r.errs[*msg.To]; err != nil {
		return nil, err
	}
	out, ok := r.outs[*msg.To]
	if !ok {
		return nil, errors.New("unexpected call target")
	}
	return out, nil
}

func (r *fakeQuoteReader) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	if r.gasErr != nil {
		return nil, r.gasErr
	}
	return r.gasPrice, nil
}

func newTestSimulator(t *testing.T, reader ChainReader, costs Costs) *Simulator {
	t.Helper()
	sim, err := NewSimulator(reader, nil, costs, zap.NewNop())
	require.NoError(t, err)
	return sim
}

func packAmounts(t *testing.T, sim *Simulator, amounts ...*big.Int) []byte {
	t.Helper()
	out, err := sim.routerABI.Methods["getAmountsOut"].Outputs.Pack(amounts)
	require.NoError(t, err)
	return out
}

func packQuoterOut(t *testing.T, sim *Simulator, amount *big.Int) []byte {
	t.Helper()
	out, err := sim.quoterABI.Methods["quoteExactInputSingle"].Outputs.Pack(amount)
	require.NoError(t, err)
	return out
}

func TestQuoteLegConstantProduct(t *testing.T) {
	reader := newFakeQuoteReader()
	sim := newTestSimulator(t, reader, Costs{})
	reader.outs[quickRouter] = packAmounts(t, sim, big.NewInt(1_000_000), big.NewInt(495))

	q, err := sim.QuoteLeg(context.Background(), quickswap(), usdcAddr, wethAddr, big.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, int64(495), q.AmountOut.Int64())
	assert.Equal(t, int64(30), q.FeeBps)
	assert.False(t, q.IsEstimate)
}

func TestQuoteLegRouterRevert(t *testing.T) {
	reader := newFakeQuoteReader()
	sim := newTestSimulator(t, reader, Costs{})
	reader.errs[quickRouter] = errors.New("execution reverted")

	_, err := sim.QuoteLeg(context.Background(), quickswap(), usdcAddr, wethAddr, big.NewInt(1_000_000))
	require.ErrorIs(t, err, ErrQuoteUnavailable)
}

func TestQuoteLegConcentratedLiquidity(t *testing.T) {
	reader := newFakeQuoteReader()
	sim := newTestSimulator(t, reader, Costs{})
	reader.outs[uniQuoter] = packQuoterOut(t, sim, big.NewInt(498))

	q, err := sim.QuoteLeg(context.Background(), uniswapV3(), usdcAddr, wethAddr, big.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, int64(498), q.AmountOut.Int64())
	assert.False(t, q.IsEstimate)

	// fee tier on the wire is in hundredths of a bip
	require.Len(t, reader.calls, 1)
	args, err := sim.quoterABI.Methods["quoteExactInputSingle"].Inputs.Unpack(reader.calls[0].Data[4:])
	require.NoError(t, err)
	assert.Equal(t, int64(3000), args[2].(*big.Int).Int64())
}

func TestQuoteLegQuoterFallsBackToEstimate(t *testing.T) {
	reader := newFakeQuoteReader()
	sim := newTestSimulator(t, reader, Costs{})
	reader.errs[uniQuoter] = errors.New("connection refused")

	q, err := sim.QuoteLeg(context.Background(), uniswapV3(), usdcAddr, wethAddr, big.NewInt(1_000_000))
	require.NoError(t, err)
	assert.True(t, q.IsEstimate)
	// 99.5% of the nominal amount
	assert.Equal(t, int64(995_000), q.AmountOut.Int64())
}

func TestEvaluateProfitableRoundTrip(t *testing.T) {
	reader := newFakeQuoteReader()
	sim := newTestSimulator(t, reader, Costs{FlashLoanFeeBps: 5, SlippageBufferBps: 2, GasUnits: 300})
	reader.outs[quickRouter] = packAmounts(t, sim, big.NewInt(1_000_000), big.NewInt(500))
	reader.outs[sushiRouter] = packAmounts(t, sim, big.NewInt(500), big.NewInt(1_005_000))

	pair := types.TradingPair{
		Name:          "WETH/USDC",
		TokenAAddress: wethAddr,
		TokenBAddress: usdcAddr,
	}
	opp := types.ArbitrageOpportunity{
		Pair:      "WETH/USDC",
		BuyVenue:  "quickswap",
		SellVenue: "sushiswap",
		BuyPrice:  big.NewRat(2000, 1),
		SellPrice: big.NewRat(2020, 1),
		Timestamp: time.Now(),
	}

	ev, err := sim.Evaluate(context.Background(), opp, pair, quickswap(), sushiswap(), big.NewInt(1_000_000))
	require.NoError(t, err)

	assert.Equal(t, int64(500), ev.BuyOutput.Int64())
	assert.Equal(t, int64(1_005_000), ev.FinalAmount.Int64())
	assert.Equal(t, int64(5000), ev.GrossProfit.Int64())
	assert.Equal(t, int64(500), ev.FlashLoanFee.Int64())
	assert.Equal(t, int64(300), ev.GasCost.Int64())
	assert.Equal(t, int64(200), ev.SlippageBuffer.Int64())
	assert.Equal(t, int64(4000), ev.NetProfit.Int64())
	assert.True(t, ev.Profitable)
	assert.False(t, ev.Estimated)

	assert.Equal(t, "quickswap", ev.Legs[0].Venue)
	assert.Equal(t, usdcAddr, ev.Legs[0].TokenIn)
	assert.Equal(t, wethAddr, ev.Legs[0].TokenOut)
	assert.Equal(t, "sushiswap", ev.Legs[1].Venue)

	// buy leg filled exactly at spot; sell leg 5,000 short of 500*2020
	assert.Zero(t, ev.Legs[0].Quote.PriceImpactBps)
	assert.Equal(t, int64(49), ev.Legs[1].Quote.PriceImpactBps)
}

func TestEvaluateUnprofitableRoundTrip(t *testing.T) {
	reader := newFakeQuoteReader()
	sim := newTestSimulator(t, reader, Costs{FlashLoanFeeBps: 5, SlippageBufferBps: 2, GasUnits: 300})
	reader.outs[quickRouter] = packAmounts(t, sim, big.NewInt(1_000_000), big.NewInt(500))
	reader.outs[sushiRouter] = packAmounts(t, sim, big.NewInt(500), big.NewInt(1_001_000))

	pair := types.TradingPair{Name: "WETH/USDC", TokenAAddress: wethAddr, TokenBAddress: usdcAddr}
	opp := types.ArbitrageOpportunity{Pair: "WETH/USDC", BuyVenue: "quickswap", SellVenue: "sushiswap"}

	ev, err := sim.Evaluate(context.Background(), opp, pair, quickswap(), sushiswap(), big.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, int64(0), ev.NetProfit.Int64())
	assert.False(t, ev.Profitable)
}

func TestEvaluateFailsWithoutGasPrice(t *testing.T) {
	reader := newFakeQuoteReader()
	sim := newTestSimulator(t, reader, Costs{GasUnits: 300})
	reader.outs[quickRouter] = packAmounts(t, sim, big.NewInt(1_000_000), big.NewInt(500))
	reader.outs[sushiRouter] = packAmounts(t, sim, big.NewInt(500), big.NewInt(1_005_000))
	reader.gasErr = errors.New("node down")

	pair := types.TradingPair{Name: "WETH/USDC", TokenAAddress: wethAddr, TokenBAddress: usdcAddr}
	_, err := sim.Evaluate(context.Background(), types.ArbitrageOpportunity{}, pair, quickswap(), sushiswap(), big.NewInt(1_000_000))
	require.Error(t, err)
}
