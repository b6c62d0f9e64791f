package ingest

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/danywayGit/OnChainArbitrage-sub000/types"
)

func pricedAt(venue string, num, den int64) types.PricePoint {
	return types.PricePoint{Venue: venue, Pair: "WETH/USDC", Price: big.NewRat(num, den)}
}

func TestDetectorPicksCheapestAndDearest(t *testing.T) {
	d := NewDetector(50, zap.NewNop())

	points := []types.PricePoint{
		pricedAt("venue-a", 100, 1),
		pricedAt("venue-b", 101, 1),
		pricedAt("venue-c", 99, 1),
	}

	opp, found := d.Evaluate("WETH/USDC", points)
	require.True(t, found)
	assert.Equal(t, "venue-c", opp.BuyVenue)
	assert.Equal(t, "venue-b", opp.SellVenue)
	// (101 - 99) / 99 = 2.0202...%
	assert.InDelta(t, 2.0202, opp.SpreadPercent, 0.0001)
}

func TestDetectorThresholdIsExclusive(t *testing.T) {
	d := NewDetector(50, zap.NewNop())

	// exactly 0.50% spread must not fire
	_, found := d.Evaluate("WETH/USDC", []types.PricePoint{
		pricedAt("venue-a", 10000, 1),
		pricedAt("venue-b", 10050, 1),
	})
	assert.False(t, found)

	// one part over the threshold does
	opp, found := d.Evaluate("WETH/USDC", []types.PricePoint{
		pricedAt("venue-a", 10000, 1),
		pricedAt("venue-b", 10051, 1),
	})
	require.True(t, found)
	assert.Equal(t, "venue-a", opp.BuyVenue)
	assert.Equal(t, "venue-b", opp.SellVenue)
}

func TestDetectorNeedsTwoVenues(t *testing.T) {
	d := NewDetector(50, zap.NewNop())

	_, found := d.Evaluate("WETH/USDC", nil)
	assert.False(t, found)

	_, found = d.Evaluate("WETH/USDC", []types.PricePoint{pricedAt("venue-a", 100, 1)})
	assert.False(t, found)
}

func TestDetectorIgnoresFlatPrices(t *testing.T) {
	d := NewDetector(50, zap.NewNop())

	_, found := d.Evaluate("WETH/USDC", []types.PricePoint{
		pricedAt("venue-a", 2000, 1),
		pricedAt("venue-b", 2000, 1),
	})
	assert.False(t, found)
}

func TestDetectorTieBreaksByTableOrder(t *testing.T) {
	d := NewDetector(10, zap.NewNop())

	// venue-a and venue-b share the low price; the first one wins the buy side
	opp, found := d.Evaluate("WETH/USDC", []types.PricePoint{
		pricedAt("venue-a", 100, 1),
		pricedAt("venue-b", 100, 1),
		pricedAt("venue-c", 103, 1),
	})
	require.True(t, found)
	assert.Equal(t, "venue-a", opp.BuyVenue)
	assert.Equal(t, "venue-c", opp.SellVenue)
}
