package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/danywayGit/OnChainArbitrage-sub000/registry"
	"github.com/danywayGit/OnChainArbitrage-sub000/types"
)

// Document is the trading-pair catalog schema.
type Document struct {
	LastUpdated     string     `json:"lastUpdated"`
	UpdateFrequency string     `json:"updateFrequency"`
	Source          string     `json:"source"`
	Criteria        Criteria   `json:"criteria"`
	Pairs           []Entry    `json:"pairs"`
	ExcludedPairs   []Excluded `json:"excludedPairs"`
}

type Criteria struct {
	ExcludeTop15 bool     `json:"excludeTop15"`
	MaxSpread    float64  `json:"maxSpread"`
	MinLiquidity float64  `json:"minLiquidity"`
	VerifiedDEXes []string `json:"verifiedDEXes"`
}

type Entry struct {
	Name           string  `json:"name"`
	Token0         string  `json:"token0"`
	Token1         string  `json:"token1"`
	Enabled        bool    `json:"enabled"`
	Token0Address  string  `json:"token0Address,omitempty"`
	Token1Address  string  `json:"token1Address,omitempty"`
	VerifiedSpread float64 `json:"verifiedSpread,omitempty"`
	Reason         string  `json:"reason,omitempty"`
}

type Excluded struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Catalog loads and serves the working set of trading pairs for one chain.
type Catalog struct {
	path  string
	chain *registry.Chain
	log   *zap.Logger

	mu    sync.RWMutex
	pairs []types.TradingPair
}

func New(path string, chain *registry.Chain, log *zap.Logger) *Catalog {
	return &Catalog{path: path, chain: chain, log: log}
}

// Load reads the catalog document, resolves token symbols against the chain
// registry, and replaces the working set. Malformed or unresolvable entries
// are quarantined with a warning each. A missing or unparsable document falls
// back to the built-in pair list for the chain; Load never returns an empty
// set while fallback data exists.
func (c *Catalog) Load() ([]types.TradingPair, error) {
	entries, fromFallback := c.readEntries()
	if len(entries) == 0 {
		return nil, fmt.Errorf("no catalog entries available for chain %s", c.chain.Name)
	}

	var pairs []types.TradingPair
	for _, e := range entries {
		pair, err := c.resolve(e)
		if err != nil {
			c.log.Warn("Quarantining catalog entry",
				zap.String("pair", e.Name),
				zap.Error(err))
			continue
		}
		if !pair.Enabled {
			continue
		}
		pairs = append(pairs, pair)
	}

	if len(pairs) == 0 && !fromFallback {
		// Nothing from the document survived resolution; the built-in list is
		// known-resolvable, so use it instead of going dark.
		c.log.Warn("No usable pairs in catalog document, loading fallback list")
		for _, e := range fallbackEntries(c.chain) {
			pair, err := c.resolve(e)
			if err != nil {
				continue
			}
			pairs = append(pairs, pair)
		}
	}

	c.mu.Lock()
	c.pairs = pairs
	c.mu.Unlock()

	c.log.Info("Catalog loaded",
		zap.Int("pairs", len(pairs)),
		zap.Bool("fallback", fromFallback))
	return pairs, nil
}

func (c *Catalog) readEntries() ([]Entry, bool) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		c.log.Warn("Catalog file unreadable, using built-in fallback pairs",
			zap.String("path", c.path),
			zap.Error(err))
		return fallbackEntries(c.chain), true
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		c.log.Warn("Catalog file malformed, using built-in fallback pairs",
			zap.String("path", c.path),
			zap.Error(err))
		return fallbackEntries(c.chain), true
	}
	if len(doc.Pairs) == 0 {
		c.log.Warn("Catalog file has no pairs, using built-in fallback pairs",
			zap.String("path", c.path))
		return fallbackEntries(c.chain), true
	}

	return doc.Pairs, false
}

// resolve turns a catalog entry into a fully-addressed TradingPair.
// Symbols must exist in the chain token registry: decimals come from there
// even when the entry carries explicit addresses.
func (c *Catalog) resolve(e Entry) (types.TradingPair, error) {
	var pair types.TradingPair

	if e.Name == "" || e.Token0 == "" || e.Token1 == "" {
		return pair, fmt.Errorf("entry missing name or token symbols")
	}
	if e.Token0 == e.Token1 {
		return pair, fmt.Errorf("token symbols are identical")
	}

	tokenA, ok := c.chain.Token(e.Token0)
	if !ok {
		return pair, fmt.Errorf("unknown token symbol %q on chain %s", e.Token0, c.chain.Name)
	}
	tokenB, ok := c.chain.Token(e.Token1)
	if !ok {
		return pair, fmt.Errorf("unknown token symbol %q on chain %s", e.Token1, c.chain.Name)
	}

	addrA, err := overrideAddress(tokenA.Address, e.Token0Address)
	if err != nil {
		return pair, fmt.Errorf("token0Address: %w", err)
	}
	addrB, err := overrideAddress(tokenB.Address, e.Token1Address)
	if err != nil {
		return pair, fmt.Errorf("token1Address: %w", err)
	}

	return types.TradingPair{
		Name:           e.Name,
		TokenASymbol:   tokenA.Symbol,
		TokenBSymbol:   tokenB.Symbol,
		TokenAAddress:  addrA,
		TokenBAddress:  addrB,
		TokenADecimals: tokenA.Decimals,
		TokenBDecimals: tokenB.Decimals,
		Enabled:        e.Enabled,
		VerifiedSpread: e.VerifiedSpread,
		Reason:         e.Reason,
	}, nil
}

func overrideAddress(base common.Address, override string) (common.Address, error) {
	if override == "" {
		return base, nil
	}
	if !common.IsHexAddress(override) {
		return common.Address{}, fmt.Errorf("invalid address %q", override)
	}
	return common.HexToAddress(override), nil
}

// Pairs returns the current working set.
func (c *Catalog) Pairs() []types.TradingPair {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.TradingPair, len(c.pairs))
	copy(out, c.pairs)
	return out
}

// Diff describes what changed between two working sets, so subscriptions can
// be adjusted incrementally instead of torn down wholesale.
type Diff struct {
	Added   []types.TradingPair
	Removed []types.TradingPair
	Changed []types.TradingPair
}

func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

func diffPairs(old, next []types.TradingPair) Diff {
	var d Diff

	prev := make(map[string]types.TradingPair, len(old))
	for _, p := range old {
		prev[p.Name] = p
	}
	seen := make(map[string]bool, len(next))

	for _, p := range next {
		seen[p.Name] = true
		before, ok := prev[p.Name]
		switch {
		case !ok:
			d.Added = append(d.Added, p)
		case before.TokenAAddress != p.TokenAAddress || before.TokenBAddress != p.TokenBAddress:
			d.Changed = append(d.Changed, p)
		}
	}
	for _, p := range old {
		if !seen[p.Name] {
			d.Removed = append(d.Removed, p)
		}
	}

	sort.Slice(d.Added, func(i, j int) bool { return d.Added[i].Name < d.Added[j].Name })
	sort.Slice(d.Removed, func(i, j int) bool { return d.Removed[i].Name < d.Removed[j].Name })
	sort.Slice(d.Changed, func(i, j int) bool { return d.Changed[i].Name < d.Changed[j].Name })
	return d
}
