package quote

import "math/big"

// All profit arithmetic stays in integer token base units. Nothing here
// rounds through floats.

// FlashLoanFee is the premium owed on a borrowed amount, floor division.
func FlashLoanFee(amountIn *big.Int, feeBps int64) *big.Int {
	fee := new(big.Int).Mul(amountIn, big.NewInt(feeBps))
	return fee.Div(fee, big.NewInt(10000))
}

// SlippageBuffer is the safety haircut applied to the borrowed amount.
func SlippageBuffer(amountIn *big.Int, bufferBps int64) *big.Int {
	buf := new(big.Int).Mul(amountIn, big.NewInt(bufferBps))
	return buf.Div(buf, big.NewInt(10000))
}

// GasCost converts a fixed gas allowance and a gas price into spend,
// denominated in the borrow asset's base units.
func GasCost(gasUnits uint64, gasPrice *big.Int) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(gasUnits), gasPrice)
}

// NetProfit subtracts every cost from the gross round-trip profit. The
// result may be negative.
func NetProfit(gross, flashFee, gasCost, slippage *big.Int) *big.Int {
	net := new(big.Int).Set(gross)
	net.Sub(net, flashFee)
	net.Sub(net, gasCost)
	return net.Sub(net, slippage)
}

// Profitable requires strictly positive net profit. Breaking even is not
// worth a transaction.
func Profitable(net *big.Int) bool {
	return net.Sign() > 0
}

// PriceImpactBps measures how far an executed quote deviates from the
// reference spot price, in basis points. A positive result means the quote
// returned less than spot implied.
func PriceImpactBps(spot *big.Rat, amountIn, amountOut *big.Int) int64 {
	if spot.Sign() == 0 || amountIn.Sign() == 0 {
		return 0
	}
	// expected = amountIn * spot
	expected := new(big.Rat).Mul(new(big.Rat).SetInt(amountIn), spot)
	actual := new(big.Rat).SetInt(amountOut)

	impact := new(big.Rat).Sub(expected, actual)
	impact.Quo(impact, expected)
	impact.Mul(impact, big.NewRat(10000, 1))

	// truncate toward zero
	return new(big.Int).Quo(impact.Num(), impact.Denom()).Int64()
}
