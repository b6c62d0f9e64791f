package catalog

import "github.com/danywayGit/OnChainArbitrage-sub000/registry"

// fallbackEntries is the built-in pair list used when the catalog document is
// missing or unparsable. Symbols here must exist in the chain token registry
// or the entry is quarantined like any other.
func fallbackEntries(chain *registry.Chain) []Entry {
	candidates := []Entry{
		{Name: "WETH/USDC", Token0: "WETH", Token1: "USDC", Enabled: true},
		{Name: "WETH/USDT", Token0: "WETH", Token1: "USDT", Enabled: true},
		{Name: "WBTC/WETH", Token0: "WBTC", Token1: "WETH", Enabled: true},
		{Name: "WMATIC/USDC", Token0: "WMATIC", Token1: "USDC", Enabled: true},
		{Name: "WMATIC/WETH", Token0: "WMATIC", Token1: "WETH", Enabled: true},
	}

	var out []Entry
	for _, e := range candidates {
		if _, ok := chain.Token(e.Token0); !ok {
			continue
		}
		if _, ok := chain.Token(e.Token1); !ok {
			continue
		}
		out = append(out, e)
	}
	return out
}
