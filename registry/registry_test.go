package registry

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
chains:
  137:
    name: polygon
    native: MATIC
    rpc:
      http: ["https://polygon-rpc.com"]
      ws: ["wss://polygon-rpc.com/ws"]
    venues:
      - name: quickswap
        kind: constant-product
        router: "0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff"
        factory: "0x5757371414417b8C6CAad45bAeF941aBc7d3Ab32"
        fee_bps: 30
      - name: uniswap-v3
        kind: concentrated-liquidity
        router: "0xE592427A0AEce92De3Edee1F18E0157C05861564"
        quoter: "0x61fFE014bA17989E743c5F6cB21bF9697530B21e"
        fee_bps: 30
    tokens:
      weth:
        address: "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619"
        decimals: 18
      USDC:
        address: "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
        decimals: 6
`

func TestParseValidRegistry(t *testing.T) {
	reg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	chain, ok := reg.Chain(137)
	require.True(t, ok)
	assert.Equal(t, "polygon", chain.Name)
	assert.Equal(t, "MATIC", chain.NativeSymbol)
	assert.Equal(t, []string{"wss://polygon-rpc.com/ws"}, chain.WSEndpoints)
	assert.Equal(t, []string{"quickswap", "uniswap-v3"}, chain.VenueNames())

	quick, ok := chain.Venue("quickswap")
	require.True(t, ok)
	assert.Equal(t, ConstantProduct, quick.Kind)
	assert.Equal(t, common.HexToAddress("0x5757371414417b8C6CAad45bAeF941aBc7d3Ab32"), quick.Factory)
	assert.Equal(t, int64(30), quick.FeeBps)

	uni, ok := chain.Venue("uniswap-v3")
	require.True(t, ok)
	assert.Equal(t, ConcentratedLiquidity, uni.Kind)
	assert.Equal(t, common.HexToAddress("0x61fFE014bA17989E743c5F6cB21bF9697530B21e"), uni.Quoter)

	_, ok = reg.Chain(1)
	assert.False(t, ok)
}

func TestTokenLookupIsCaseInsensitive(t *testing.T) {
	reg, err := Parse([]byte(validYAML))
	require.NoError(t, err)
	chain, _ := reg.Chain(137)

	for _, sym := range []string{"WETH", "weth", "Weth"} {
		tok, ok := chain.Token(sym)
		require.True(t, ok, sym)
		assert.Equal(t, "WETH", tok.Symbol)
		assert.Equal(t, uint8(18), tok.Decimals)
	}

	_, ok := chain.Token("SHIB")
	assert.False(t, ok)
}

func TestParseRejectsEmptyRegistry(t *testing.T) {
	_, err := Parse([]byte(`chains: {}`))
	require.Error(t, err)
}

func TestParseRejectsConstantProductWithoutFactory(t *testing.T) {
	_, err := Parse([]byte(`
chains:
  137:
    name: polygon
    venues:
      - name: quickswap
        kind: constant-product
        router: "0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff"
        fee_bps: 30
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "factory")
}

func TestParseRejectsConcentratedLiquidityWithoutQuoter(t *testing.T) {
	_, err := Parse([]byte(`
chains:
  137:
    name: polygon
    venues:
      - name: uniswap-v3
        kind: concentrated-liquidity
        router: "0xE592427A0AEce92De3Edee1F18E0157C05861564"
        fee_bps: 30
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quoter")
}

func TestParseRejectsUnknownVenueKind(t *testing.T) {
	_, err := Parse([]byte(`
chains:
  137:
    name: polygon
    venues:
      - name: mystery
        kind: order-book
        router: "0xE592427A0AEce92De3Edee1F18E0157C05861564"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestParseRejectsBadTokenAddress(t *testing.T) {
	_, err := Parse([]byte(`
chains:
  137:
    name: polygon
    venues:
      - name: quickswap
        kind: constant-product
        router: "0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff"
        factory: "0x5757371414417b8C6CAad45bAeF941aBc7d3Ab32"
    tokens:
      WETH:
        address: "not-an-address"
        decimals: 18
`))
	require.Error(t, err)
}

func TestParseRejectsFeeOutOfRange(t *testing.T) {
	_, err := Parse([]byte(`
chains:
  137:
    name: polygon
    venues:
      - name: quickswap
        kind: constant-product
        router: "0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff"
        factory: "0x5757371414417b8C6CAad45bAeF941aBc7d3Ab32"
        fee_bps: 2000
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fee_bps")
}

func TestParseCollectsMultipleErrors(t *testing.T) {
	_, err := Parse([]byte(`
chains:
  137:
    name: ""
    venues: []
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name must be specified")
	assert.Contains(t, err.Error(), "at least one venue")
}
