package contracts

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
)

const erc20Transfer = `{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"}`

// StreamVaultMetaData covers the vault's share token, staking events and
// round pricing.
var StreamVaultMetaData = &bind.MetaData{
	ABI: `[
	{"anonymous":false,"inputs":[{"indexed":true,"name":"account","type":"address"},{"indexed":false,"name":"amount","type":"uint256"},{"indexed":false,"name":"round","type":"uint256"}],"name":"Stake","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"account","type":"address"},{"indexed":false,"name":"amount","type":"uint256"},{"indexed":false,"name":"round","type":"uint256"}],"name":"Unstake","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"account","type":"address"},{"indexed":false,"name":"share","type":"uint256"},{"indexed":false,"name":"round","type":"uint256"}],"name":"Redeem","type":"event"},
	` + erc20Transfer + `,
	{"inputs":[],"name":"round","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"round","type":"uint256"}],"name":"roundPricePerShare","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`,
}

// OFTMetaData covers the LayerZero OFT send and receive events.
var OFTMetaData = &bind.MetaData{
	ABI: `[
	{"anonymous":false,"inputs":[{"indexed":true,"name":"guid","type":"bytes32"},{"indexed":false,"name":"dstEid","type":"uint32"},{"indexed":true,"name":"fromAddress","type":"address"},{"indexed":false,"name":"amountSentLD","type":"uint256"},{"indexed":false,"name":"amountReceivedLD","type":"uint256"}],"name":"OFTSent","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"guid","type":"bytes32"},{"indexed":false,"name":"srcEid","type":"uint32"},{"indexed":true,"name":"toAddress","type":"address"},{"indexed":false,"name":"amountReceivedLD","type":"uint256"}],"name":"OFTReceived","type":"event"}
]`,
}

var ERC4626MetaData = &bind.MetaData{
	ABI: `[
	{"anonymous":false,"inputs":[{"indexed":true,"name":"sender","type":"address"},{"indexed":true,"name":"owner","type":"address"},{"indexed":false,"name":"assets","type":"uint256"},{"indexed":false,"name":"shares","type":"uint256"}],"name":"Deposit","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"sender","type":"address"},{"indexed":true,"name":"receiver","type":"address"},{"indexed":true,"name":"owner","type":"address"},{"indexed":false,"name":"assets","type":"uint256"},{"indexed":false,"name":"shares","type":"uint256"}],"name":"Withdraw","type":"event"},
	` + erc20Transfer + `,
	{"inputs":[{"name":"shares","type":"uint256"}],"name":"convertToAssets","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`,
}

var UniswapV2PairMetaData = &bind.MetaData{
	ABI: `[
	` + erc20Transfer + `,
	{"anonymous":false,"inputs":[{"indexed":true,"name":"sender","type":"address"},{"indexed":false,"name":"amount0","type":"uint256"},{"indexed":false,"name":"amount1","type":"uint256"}],"name":"Mint","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"sender","type":"address"},{"indexed":false,"name":"amount0","type":"uint256"},{"indexed":false,"name":"amount1","type":"uint256"},{"indexed":true,"name":"to","type":"address"}],"name":"Burn","type":"event"},
	{"inputs":[],"name":"getReserves","outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`,
}

var (
	StreamVaultABI   *abi.ABI
	OFTABI           *abi.ABI
	ERC4626ABI       *abi.ABI
	UniswapV2PairABI *abi.ABI
)

func init() {
	StreamVaultABI = mustABI(StreamVaultMetaData)
	OFTABI = mustABI(OFTMetaData)
	ERC4626ABI = mustABI(ERC4626MetaData)
	UniswapV2PairABI = mustABI(UniswapV2PairMetaData)
}

func mustABI(md *bind.MetaData) *abi.ABI {
	parsed, err := md.GetAbi()
	if err != nil {
		panic(err)
	}
	return parsed
}
