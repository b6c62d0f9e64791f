package monitor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/danywayGit/OnChainArbitrage-sub000/config"
)

const registryFixture = `
chains:
  137:
    name: polygon
    native: MATIC
    rpc:
      http: ["http://localhost:8545"]
      ws: ["ws://localhost:8546"]
    venues:
      - name: quickswap
        kind: constant-product
        router: "0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff"
        factory: "0x5757371414417b8C6CAad45bAeF941aBc7d3Ab32"
        fee_bps: 30
    tokens:
      WETH:
        address: "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619"
        decimals: 18
      USDC:
        address: "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
        decimals: 6
`

func testMonitorConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	registryPath := filepath.Join(dir, "chains.yaml")
	require.NoError(t, os.WriteFile(registryPath, []byte(registryFixture), 0o644))

	cfg := config.DefaultConfig()
	cfg.RegistryFile = registryPath
	cfg.CatalogFile = filepath.Join(dir, "pairs.json")
	cfg.RPCEndpoint = "http://localhost:8545"
	require.NoError(t, cfg.ValidateConfig())
	return cfg
}

func TestNewWiresPipelineFromConfig(t *testing.T) {
	m, err := New(testMonitorConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer m.Stop()

	st := m.Status()
	assert.Empty(t, st.ActiveProvider)
	assert.Zero(t, st.Subscriptions)
	assert.Zero(t, st.PriceTableSize)
}

func TestNewFailsForUnknownChain(t *testing.T) {
	cfg := testMonitorConfig(t)
	cfg.ChainID = 1

	_, err := New(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain 1")
}

func TestNewFailsWithoutRegistry(t *testing.T) {
	cfg := testMonitorConfig(t)
	cfg.RegistryFile = filepath.Join(t.TempDir(), "absent.yaml")

	_, err := New(cfg, zap.NewNop())
	require.Error(t, err)
}
