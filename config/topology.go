package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ethereum/go-ethereum/common"
)

var ErrInvalidTopology = errors.New("invalid chains config")

type TrackerKind string

const (
	KindERC4626  TrackerKind = "erc4626"
	KindAMM      TrackerKind = "amm"
	KindOffchain TrackerKind = "offchain"
)

func (k TrackerKind) Valid() bool {
	switch k {
	case KindERC4626, KindAMM, KindOffchain:
		return true
	}
	return false
}

const (
	defaultMaxLogRange = 2_000
	defaultBlockTime   = 2 * time.Second
	defaultPPSDecimals = 18
)

// Topology is the chains, assets and integrations file.
type Topology struct {
	CanonicalChainID uint64              `yaml:"canonical_chain_id"`
	Assets           []AssetConfig       `yaml:"assets"`
	Chains           []ChainConfig       `yaml:"chains"`
	Integrations     []IntegrationConfig `yaml:"integrations"`
}

type AssetConfig struct {
	Symbol string `yaml:"symbol"`
	// Decimals of the share token, used for display.
	Decimals uint8 `yaml:"decimals"`
	// PPSDecimals is the scale S of roundPricePerShare.
	PPSDecimals uint8 `yaml:"pps_decimals"`
}

type ExplorerConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

type ChainConfig struct {
	ChainID           uint64         `yaml:"chain_id"`
	Name              string         `yaml:"name"`
	RPC               string         `yaml:"rpc"`
	FallbackRPC       string         `yaml:"fallback_rpc"`
	RequestsPerSecond float64        `yaml:"requests_per_second"`
	Burst             int            `yaml:"burst"`
	StartBlock        uint64         `yaml:"start_block"`
	BlockTime         time.Duration  `yaml:"block_time"`
	MaxLogRange       uint64         `yaml:"max_log_range"`
	Explorer          ExplorerConfig `yaml:"explorer"`
	// asset symbol -> vault share token
	Vaults map[string]string `yaml:"vaults"`
	// asset symbol -> OFT adapter
	BridgeAdapters map[string]string `yaml:"bridge_adapters"`
	Routers        []string          `yaml:"routers"`
}

type IntegrationConfig struct {
	Name      string              `yaml:"name"`
	Kind      TrackerKind         `yaml:"kind"`
	Asset     string              `yaml:"asset"`
	Contracts map[uint64][]string `yaml:"contracts"`
	Tolerance string              `yaml:"tolerance"`

	// amm
	Routers    map[uint64][]string `yaml:"routers"`
	TokenIndex int                 `yaml:"token_index"`

	// offchain
	Endpoint string   `yaml:"endpoint"`
	Markets  []string `yaml:"markets"`
	PageSize int      `yaml:"page_size"`
}

func LoadTopology(path string) (Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Topology{}, fmt.Errorf("failed to read chains config: %w", err)
	}
	return ParseTopology(data)
}

// ParseTopology decodes, defaults and validates a topology document.
func ParseTopology(data []byte) (Topology, error) {
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Topology{}, fmt.Errorf("failed to parse chains config: %w", err)
	}
	t.applyDefaults()
	if err := t.Validate(); err != nil {
		return Topology{}, err
	}
	return t, nil
}

func (t *Topology) applyDefaults() {
	for i := range t.Assets {
		if t.Assets[i].PPSDecimals == 0 {
			t.Assets[i].PPSDecimals = defaultPPSDecimals
		}
		if t.Assets[i].Decimals == 0 {
			t.Assets[i].Decimals = t.Assets[i].PPSDecimals
		}
	}
	for i := range t.Chains {
		c := &t.Chains[i]
		if c.MaxLogRange == 0 {
			c.MaxLogRange = defaultMaxLogRange
		}
		if c.BlockTime == 0 {
			c.BlockTime = defaultBlockTime
		}
		if c.Name == "" {
			c.Name = fmt.Sprintf("chain-%d", c.ChainID)
		}
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidTopology, fmt.Sprintf(format, args...))
}

func checkAddresses(where string, addrs ...string) error {
	for _, a := range addrs {
		if !common.IsHexAddress(a) {
			return invalid("%s: %q is not an address", where, a)
		}
	}
	return nil
}

func (t Topology) Validate() error {
	if len(t.Assets) == 0 {
		return invalid("no assets")
	}
	assets := make(map[string]struct{}, len(t.Assets))
	for _, a := range t.Assets {
		if a.Symbol == "" {
			return invalid("asset without symbol")
		}
		if _, dup := assets[a.Symbol]; dup {
			return invalid("duplicate asset %s", a.Symbol)
		}
		assets[a.Symbol] = struct{}{}
	}

	chains := make(map[uint64]struct{}, len(t.Chains))
	for _, c := range t.Chains {
		if c.ChainID == 0 {
			return invalid("chain %q has no chain_id", c.Name)
		}
		if _, dup := chains[c.ChainID]; dup {
			return invalid("duplicate chain_id %d", c.ChainID)
		}
		chains[c.ChainID] = struct{}{}
		if c.RPC == "" {
			return invalid("chain %d has no rpc", c.ChainID)
		}
		for symbol, addr := range c.Vaults {
			if _, ok := assets[symbol]; !ok {
				return invalid("chain %d: vault for unknown asset %s", c.ChainID, symbol)
			}
			if err := checkAddresses(fmt.Sprintf("chain %d vault %s", c.ChainID, symbol), addr); err != nil {
				return err
			}
		}
		for symbol, addr := range c.BridgeAdapters {
			if _, ok := assets[symbol]; !ok {
				return invalid("chain %d: bridge adapter for unknown asset %s", c.ChainID, symbol)
			}
			if err := checkAddresses(fmt.Sprintf("chain %d adapter %s", c.ChainID, symbol), addr); err != nil {
				return err
			}
		}
		if err := checkAddresses(fmt.Sprintf("chain %d routers", c.ChainID), c.Routers...); err != nil {
			return err
		}
	}
	if _, ok := chains[t.CanonicalChainID]; !ok {
		return invalid("canonical chain %d is not configured", t.CanonicalChainID)
	}
	canonical, _ := t.Chain(t.CanonicalChainID)
	for symbol := range assets {
		if _, ok := canonical.Vaults[symbol]; !ok {
			return invalid("asset %s has no vault on the canonical chain", symbol)
		}
	}

	names := make(map[string]struct{}, len(t.Integrations))
	for _, in := range t.Integrations {
		if in.Name == "" {
			return invalid("integration without name")
		}
		if _, dup := names[in.Name]; dup {
			return invalid("duplicate integration %s", in.Name)
		}
		names[in.Name] = struct{}{}
		if !in.Kind.Valid() {
			return invalid("integration %s: unknown kind %q", in.Name, in.Kind)
		}
		if _, ok := assets[in.Asset]; !ok {
			return invalid("integration %s: unknown asset %s", in.Name, in.Asset)
		}
		if in.Tolerance != "" {
			if _, err := decimal.NewFromString(in.Tolerance); err != nil {
				return invalid("integration %s: tolerance: %v", in.Name, err)
			}
		}
		for chainID, addrs := range in.Contracts {
			if _, ok := chains[chainID]; !ok {
				return invalid("integration %s: unknown chain %d", in.Name, chainID)
			}
			if err := checkAddresses("integration "+in.Name, addrs...); err != nil {
				return err
			}
		}
		for _, addrs := range in.Routers {
			if err := checkAddresses("integration "+in.Name+" routers", addrs...); err != nil {
				return err
			}
		}
		switch in.Kind {
		case KindAMM:
			if in.TokenIndex != 0 && in.TokenIndex != 1 {
				return invalid("integration %s: token_index must be 0 or 1", in.Name)
			}
		case KindOffchain:
			if in.Endpoint == "" {
				return invalid("integration %s: offchain integrations need an endpoint", in.Name)
			}
			if len(in.Markets) == 0 {
				return invalid("integration %s: offchain integrations need markets", in.Name)
			}
		}
	}
	return nil
}

func (t Topology) Chain(chainID uint64) (ChainConfig, bool) {
	for _, c := range t.Chains {
		if c.ChainID == chainID {
			return c, true
		}
	}
	return ChainConfig{}, false
}

func (t Topology) AssetSymbols() []string {
	out := make([]string, 0, len(t.Assets))
	for _, a := range t.Assets {
		out = append(out, a.Symbol)
	}
	return out
}

func (t Topology) Asset(symbol string) (AssetConfig, bool) {
	for _, a := range t.Assets {
		if a.Symbol == symbol {
			return a, true
		}
	}
	return AssetConfig{}, false
}

// OffchainProtocols names every integration whose positions live in deposit
// addresses.
func (t Topology) OffchainProtocols() []string {
	var out []string
	for _, in := range t.Integrations {
		if in.Kind == KindOffchain {
			out = append(out, in.Name)
		}
	}
	return out
}

// Addresses returns the watched vault and adapter contracts of c.
func (c ChainConfig) Addresses() []common.Address {
	var out []common.Address
	for _, a := range c.Vaults {
		out = append(out, common.HexToAddress(a))
	}
	for _, a := range c.BridgeAdapters {
		out = append(out, common.HexToAddress(a))
	}
	return out
}

func (in IntegrationConfig) ContractAddresses() map[uint64][]common.Address {
	out := make(map[uint64][]common.Address, len(in.Contracts))
	for chainID, addrs := range in.Contracts {
		for _, a := range addrs {
			out[chainID] = append(out[chainID], common.HexToAddress(a))
		}
	}
	return out
}

// RouterAddresses flattens the per-chain router lists of an AMM integration.
func (in IntegrationConfig) RouterAddresses() []common.Address {
	var out []common.Address
	for _, addrs := range in.Routers {
		for _, a := range addrs {
			out = append(out, common.HexToAddress(a))
		}
	}
	return out
}

// ToleranceOr returns the integration's tolerance, or def when unset.
func (in IntegrationConfig) ToleranceOr(def decimal.Decimal) decimal.Decimal {
	if in.Tolerance == "" {
		return def
	}
	d, err := decimal.NewFromString(in.Tolerance)
	if err != nil {
		return def
	}
	return d
}
