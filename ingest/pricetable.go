package ingest

import (
	"math/big"
	"sync"

	"github.com/danywayGit/OnChainArbitrage-sub000/types"
)

// PriceTable holds the latest price point per (venue, pair). Writers replace
// whole points so readers never observe reserves from one update combined
// with a price from another.
type PriceTable struct {
	mu         sync.RWMutex
	points     map[string]types.PricePoint
	venueOrder []string
}

func NewPriceTable(venueOrder []string) *PriceTable {
	return &PriceTable{
		points:     make(map[string]types.PricePoint),
		venueOrder: append([]string(nil), venueOrder...),
	}
}

func key(venue, pair string) string {
	return venue + "|" + pair
}

func (t *PriceTable) Put(point types.PricePoint) {
	t.mu.Lock()
	t.points[key(point.Venue, point.Pair)] = point
	t.mu.Unlock()
}

func (t *PriceTable) Get(venue, pair string) (types.PricePoint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.points[key(venue, pair)]
	return p, ok
}

func (t *PriceTable) Delete(venue, pair string) {
	t.mu.Lock()
	delete(t.points, key(venue, pair))
	t.mu.Unlock()
}

// PairPoints returns the known points for one pair in the table's fixed venue
// order, which keeps min/max tie-breaks deterministic.
func (t *PriceTable) PairPoints(pair string) []types.PricePoint {
	t.mu.RLock()
	defer t.mu.RUnlock()

	points := make([]types.PricePoint, 0, len(t.venueOrder))
	for _, venue := range t.venueOrder {
		if p, ok := t.points[key(venue, pair)]; ok {
			points = append(points, p)
		}
	}
	return points
}

// TopSpreads reports, per pair, the widest relative spread in percent across
// the venues currently priced. Pairs with fewer than two venues are omitted.
func (t *PriceTable) TopSpreads() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	minMax := make(map[string][2]*big.Rat)
	for _, p := range t.points {
		mm, ok := minMax[p.Pair]
		if !ok {
			minMax[p.Pair] = [2]*big.Rat{p.Price, p.Price}
			continue
		}
		if p.Price.Cmp(mm[0]) < 0 {
			mm[0] = p.Price
		}
		if p.Price.Cmp(mm[1]) > 0 {
			mm[1] = p.Price
		}
		minMax[p.Pair] = mm
	}

	spreads := make(map[string]float64, len(minMax))
	for pair, mm := range minMax {
		if mm[0] == mm[1] || mm[0].Sign() == 0 {
			continue
		}
		spread := new(big.Rat).Sub(mm[1], mm[0])
		spread.Quo(spread, mm[0])
		pct, _ := spread.Mul(spread, big.NewRat(100, 1)).Float64()
		spreads[pair] = pct
	}
	return spreads
}

func (t *PriceTable) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.points)
}
