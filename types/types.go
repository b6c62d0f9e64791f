package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TradingPair is a monitored token pair, fully resolved against the active
// chain's token registry.
type TradingPair struct {
	Name           string
	TokenASymbol   string
	TokenBSymbol   string
	TokenAAddress  common.Address
	TokenBAddress  common.Address
	TokenADecimals uint8
	TokenBDecimals uint8
	Enabled        bool
	VerifiedSpread float64
	Reason         string
}

// PricePoint is one venue's latest view of a pair. Replaced as a whole value
// on every reserve update, never field by field.
type PricePoint struct {
	Venue     string
	Pair      string
	ReserveA  *big.Int
	ReserveB  *big.Int
	Price     *big.Rat // tokenB per tokenA, decimals-normalized
	UpdatedAt time.Time
}

// ArbitrageOpportunity is a detected cross-venue spread for one pair.
// Ephemeral: handed to the opportunity callback and not retained.
type ArbitrageOpportunity struct {
	Pair          string
	BuyVenue      string
	SellVenue     string
	BuyPrice      *big.Rat
	SellPrice     *big.Rat
	SpreadPercent float64
	Timestamp     time.Time
}

// QuoteResult is the outcome of simulating a single swap leg.
type QuoteResult struct {
	AmountIn       *big.Int
	AmountOut      *big.Int
	FeeBps         int64
	IsEstimate     bool
	PriceImpactBps int64
}
