package quote

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCostComponents(t *testing.T) {
	amountIn := big.NewInt(1_000_000)

	assert.Equal(t, int64(500), FlashLoanFee(amountIn, 5).Int64())
	assert.Equal(t, int64(200), SlippageBuffer(amountIn, 2).Int64())
	assert.Equal(t, int64(300), GasCost(300, big.NewInt(1)).Int64())
}

func TestNetProfitDeductsEveryCost(t *testing.T) {
	gross := big.NewInt(5000)
	net := NetProfit(gross, big.NewInt(500), big.NewInt(300), big.NewInt(200))

	assert.Equal(t, int64(4000), net.Int64())
	assert.True(t, Profitable(net))
}

func TestBreakEvenIsNotProfitable(t *testing.T) {
	gross := big.NewInt(1000)
	net := NetProfit(gross, big.NewInt(500), big.NewInt(300), big.NewInt(200))

	assert.Zero(t, net.Int64())
	assert.False(t, Profitable(net))

	loss := NetProfit(big.NewInt(900), big.NewInt(500), big.NewInt(300), big.NewInt(200))
	assert.False(t, Profitable(loss))
}

func TestFeeRoundsDown(t *testing.T) {
	// 999 * 5 / 10000 = 0.4995, floor division keeps it at 0
	assert.Zero(t, FlashLoanFee(big.NewInt(999), 5).Int64())
	assert.Equal(t, int64(1), FlashLoanFee(big.NewInt(2000), 5).Int64())
}

func TestPriceImpactBps(t *testing.T) {
	spot := big.NewRat(2, 1)

	// expected 200 out, received 190: 5% short of spot
	assert.Equal(t, int64(500), PriceImpactBps(spot, big.NewInt(100), big.NewInt(190)))

	// exactly at spot
	assert.Zero(t, PriceImpactBps(spot, big.NewInt(100), big.NewInt(200)))

	// better than spot comes out negative
	assert.Equal(t, int64(-500), PriceImpactBps(spot, big.NewInt(100), big.NewInt(210)))

	assert.Zero(t, PriceImpactBps(new(big.Rat), big.NewInt(100), big.NewInt(200)))
}
