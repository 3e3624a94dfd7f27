package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"
)

const sampleTopology = `
canonical_chain_id: 1
assets:
  - symbol: xETH
    pps_decimals: 18
  - symbol: xBTC
    decimals: 8
    pps_decimals: 8
chains:
  - chain_id: 1
    name: ethereum
    rpc: https://eth.example
    fallback_rpc: https://eth-backup.example
    start_block: 100
    block_time: 12s
    vaults:
      xETH: "0x0000000000000000000000000000000000000001"
      xBTC: "0x0000000000000000000000000000000000000002"
    bridge_adapters:
      xETH: "0x0000000000000000000000000000000000000003"
    routers: ["0x0000000000000000000000000000000000000004"]
  - chain_id: 8453
    rpc: https://base.example
    vaults:
      xETH: "0x0000000000000000000000000000000000000011"
integrations:
  - name: morpho
    kind: erc4626
    asset: xETH
    tolerance: "0.001"
    contracts:
      8453: ["0x0000000000000000000000000000000000000021"]
  - name: aerodrome
    kind: amm
    asset: xETH
    token_index: 1
    contracts:
      8453: ["0x0000000000000000000000000000000000000022"]
    routers:
      8453: ["0x0000000000000000000000000000000000000023"]
  - name: royco
    kind: offchain
    asset: xETH
    endpoint: https://graph.example/royco
    markets: ["0xABC"]
    contracts:
      1: ["0x0000000000000000000000000000000000000001"]
`

func TestParseTopology(t *testing.T) {
	topo, err := ParseTopology([]byte(sampleTopology))
	require.NoError(t, err)

	require.Equal(t, uint64(1), topo.CanonicalChainID)
	require.Equal(t, []string{"xETH", "xBTC"}, topo.AssetSymbols())

	eth, ok := topo.Asset("xETH")
	require.True(t, ok)
	require.Equal(t, uint8(18), eth.Decimals)
	btc, _ := topo.Asset("xBTC")
	require.Equal(t, uint8(8), btc.Decimals)

	mainnet, ok := topo.Chain(1)
	require.True(t, ok)
	require.Equal(t, 12*time.Second, mainnet.BlockTime)
	require.Equal(t, uint64(defaultMaxLogRange), mainnet.MaxLogRange)
	require.Len(t, mainnet.Addresses(), 3)

	base, _ := topo.Chain(8453)
	require.Equal(t, "chain-8453", base.Name)
	require.Equal(t, defaultBlockTime, base.BlockTime)

	require.Equal(t, []string{"royco"}, topo.OffchainProtocols())

	amm := topo.Integrations[1]
	require.Equal(t, KindAMM, amm.Kind)
	require.Equal(t, []common.Address{common.HexToAddress("0x23")}, amm.RouterAddresses())
	require.Equal(t, map[uint64][]common.Address{8453: {common.HexToAddress("0x22")}}, amm.ContractAddresses())

	def := decimal.New(1, -4)
	require.True(t, topo.Integrations[0].ToleranceOr(def).Equal(decimal.RequireFromString("0.001")))
	require.True(t, amm.ToleranceOr(def).Equal(def))
}

func TestParseTopology_Invalid(t *testing.T) {
	base := func() Topology {
		topo, err := ParseTopology([]byte(sampleTopology))
		require.NoError(t, err)
		return topo
	}

	tests := []struct {
		name   string
		mutate func(*Topology)
	}{
		{"missing canonical chain", func(t *Topology) { t.CanonicalChainID = 10 }},
		{"duplicate chain id", func(t *Topology) { t.Chains[1].ChainID = 1 }},
		{"vault for unknown asset", func(t *Topology) {
			t.Chains[1].Vaults["xSOL"] = "0x0000000000000000000000000000000000000031"
		}},
		{"asset without canonical vault", func(t *Topology) { delete(t.Chains[0].Vaults, "xBTC") }},
		{"unknown tracker kind", func(t *Topology) { t.Integrations[0].Kind = "lending" }},
		{"integration on unknown chain", func(t *Topology) {
			t.Integrations[0].Contracts[10] = []string{"0x0000000000000000000000000000000000000041"}
		}},
		{"bad address", func(t *Topology) { t.Chains[0].Routers = []string{"router"} }},
		{"offchain without endpoint", func(t *Topology) { t.Integrations[2].Endpoint = "" }},
		{"amm token index", func(t *Topology) { t.Integrations[1].TokenIndex = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topo := base()
			tt.mutate(&topo)
			require.ErrorIs(t, topo.Validate(), ErrInvalidTopology)
		})
	}
}

func TestParseTopology_Malformed(t *testing.T) {
	_, err := ParseTopology([]byte("chains: [1, 2"))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInvalidTopology)
}
