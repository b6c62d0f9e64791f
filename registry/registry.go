package registry

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"
)

// VenueKind discriminates the two pool models we can price and quote.
type VenueKind string

const (
	ConstantProduct       VenueKind = "constant-product"
	ConcentratedLiquidity VenueKind = "concentrated-liquidity"
)

// Venue is one DEX on a chain.
type Venue struct {
	Name    string
	Kind    VenueKind
	Router  common.Address
	Factory common.Address // constant-product pool lookup
	Quoter  common.Address // concentrated-liquidity static quotes
	FeeBps  int64
}

// Token is a registry token entry. Decimals are required so prices can be
// normalized before cross-pair comparison.
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
}

// Chain holds the static per-chain venue and token data. Read-only after Load.
type Chain struct {
	ID            uint64
	Name          string
	NativeSymbol  string
	HTTPEndpoints []string
	WSEndpoints   []string
	Venues        []Venue
	tokens        map[string]Token
}

// Token resolves a token symbol, case-insensitively.
func (c *Chain) Token(symbol string) (Token, bool) {
	t, ok := c.tokens[strings.ToUpper(symbol)]
	return t, ok
}

// Venue returns the venue with the given name.
func (c *Chain) Venue(name string) (*Venue, bool) {
	for i := range c.Venues {
		if c.Venues[i].Name == name {
			return &c.Venues[i], true
		}
	}
	return nil, false
}

// VenueNames returns venue names in registration order. Detection tie-breaks
// rely on this order being stable.
func (c *Chain) VenueNames() []string {
	names := make([]string, len(c.Venues))
	for i, v := range c.Venues {
		names[i] = v.Name
	}
	return names
}

// Registry is the full multi-chain DEX registry.
type Registry struct {
	chains map[uint64]*Chain
}

// Chain returns the configuration for one chain id.
func (r *Registry) Chain(id uint64) (*Chain, bool) {
	c, ok := r.chains[id]
	return c, ok
}

// yaml document shapes; addresses arrive as hex strings and are validated in
// build().

type rawFile struct {
	Chains map[uint64]rawChain `yaml:"chains"`
}

type rawChain struct {
	Name   string              `yaml:"name"`
	Native string              `yaml:"native"`
	RPC    rawRPC              `yaml:"rpc"`
	Venues []rawVenue          `yaml:"venues"`
	Tokens map[string]rawToken `yaml:"tokens"`
}

type rawRPC struct {
	HTTP []string `yaml:"http"`
	WS   []string `yaml:"ws"`
}

type rawVenue struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	Router  string `yaml:"router"`
	Factory string `yaml:"factory"`
	Quoter  string `yaml:"quoter"`
	FeeBps  int64  `yaml:"fee_bps"`
}

type rawToken struct {
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
}

// Load reads and validates the registry file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Registry from raw yaml bytes.
func Parse(data []byte) (*Registry, error) {
	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse registry yaml: %w", err)
	}
	if len(raw.Chains) == 0 {
		return nil, fmt.Errorf("registry defines no chains")
	}

	reg := &Registry{chains: make(map[uint64]*Chain, len(raw.Chains))}
	for id, rc := range raw.Chains {
		chain, err := buildChain(id, rc)
		if err != nil {
			return nil, fmt.Errorf("chain %d: %w", id, err)
		}
		reg.chains[id] = chain
	}
	return reg, nil
}

func buildChain(id uint64, rc rawChain) (*Chain, error) {
	var errs []string

	chain := &Chain{
		ID:            id,
		Name:          rc.Name,
		NativeSymbol:  rc.Native,
		HTTPEndpoints: rc.RPC.HTTP,
		WSEndpoints:   rc.RPC.WS,
		tokens:        make(map[string]Token, len(rc.Tokens)),
	}

	if rc.Name == "" {
		errs = append(errs, "name must be specified")
	}
	if len(rc.Venues) == 0 {
		errs = append(errs, "at least one venue must be specified")
	}

	for _, rv := range rc.Venues {
		v, err := buildVenue(rv)
		if err != nil {
			errs = append(errs, fmt.Sprintf("venue %q: %v", rv.Name, err))
			continue
		}
		if _, dup := chain.Venue(v.Name); dup {
			errs = append(errs, fmt.Sprintf("venue %q: duplicate name", rv.Name))
			continue
		}
		chain.Venues = append(chain.Venues, v)
	}

	for sym, rt := range rc.Tokens {
		addr, err := parseAddress(rt.Address)
		if err != nil {
			errs = append(errs, fmt.Sprintf("token %q: %v", sym, err))
			continue
		}
		key := strings.ToUpper(sym)
		chain.tokens[key] = Token{Symbol: key, Address: addr, Decimals: rt.Decimals}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("registry validation failed: %s", strings.Join(errs, "; "))
	}
	return chain, nil
}

func buildVenue(rv rawVenue) (Venue, error) {
	v := Venue{Name: rv.Name, FeeBps: rv.FeeBps}
	if rv.Name == "" {
		return v, fmt.Errorf("name must be specified")
	}
	if rv.FeeBps < 0 || rv.FeeBps > 1000 {
		return v, fmt.Errorf("fee_bps %d out of range", rv.FeeBps)
	}

	switch VenueKind(rv.Kind) {
	case ConstantProduct:
		v.Kind = ConstantProduct
		factory, err := parseAddress(rv.Factory)
		if err != nil {
			return v, fmt.Errorf("factory: %v", err)
		}
		v.Factory = factory
	case ConcentratedLiquidity:
		v.Kind = ConcentratedLiquidity
		quoter, err := parseAddress(rv.Quoter)
		if err != nil {
			return v, fmt.Errorf("quoter: %v", err)
		}
		v.Quoter = quoter
	default:
		return v, fmt.Errorf("unknown kind %q", rv.Kind)
	}

	router, err := parseAddress(rv.Router)
	if err != nil {
		return v, fmt.Errorf("router: %v", err)
	}
	v.Router = router
	return v, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}
