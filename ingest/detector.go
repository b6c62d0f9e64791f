package ingest

import (
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/danywayGit/OnChainArbitrage-sub000/types"
)

// Detector compares the latest price per venue for a pair and reports a
// candidate opportunity when the relative spread strictly exceeds the
// configured threshold.
type Detector struct {
	thresholdBps int64
	log          *zap.Logger
}

func NewDetector(thresholdBps int64, logger *zap.Logger) *Detector {
	return &Detector{thresholdBps: thresholdBps, log: logger}
}

// Evaluate picks the cheapest venue to buy on and the dearest to sell on.
// Ties resolve to the first venue in table order. Returns false with fewer
// than two venues or when the spread does not clear the threshold.
func (d *Detector) Evaluate(pair string, points []types.PricePoint) (types.ArbitrageOpportunity, bool) {
	if len(points) < 2 {
		return types.ArbitrageOpportunity{}, false
	}

	min, max := points[0], points[0]
	for _, p := range points[1:] {
		if p.Price.Cmp(min.Price) < 0 {
			min = p
		}
		if p.Price.Cmp(max.Price) > 0 {
			max = p
		}
	}
	if min.Venue == max.Venue {
		return types.ArbitrageOpportunity{}, false
	}

	// spread = (max - min) / min, compared against threshold in exact
	// rational arithmetic
	spread := new(big.Rat).Sub(max.Price, min.Price)
	spread.Quo(spread, min.Price)
	threshold := big.NewRat(d.thresholdBps, 10000)
	if spread.Cmp(threshold) <= 0 {
		return types.ArbitrageOpportunity{}, false
	}

	spreadPct, _ := new(big.Rat).Mul(spread, big.NewRat(100, 1)).Float64()
	opp := types.ArbitrageOpportunity{
		Pair:          pair,
		BuyVenue:      min.Venue,
		SellVenue:     max.Venue,
		BuyPrice:      min.Price,
		SellPrice:     max.Price,
		SpreadPercent: spreadPct,
		Timestamp:     time.Now(),
	}

	d.log.Info("Arbitrage opportunity detected",
		zap.String("pair", pair),
		zap.String("buy_venue", opp.BuyVenue),
		zap.String("sell_venue", opp.SellVenue),
		zap.Float64("spread_pct", opp.SpreadPercent))
	return opp, true
}
