package contracts

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type VaultStake struct {
	Account common.Address
	Amount  *big.Int
	Round   *big.Int
}

type VaultUnstake struct {
	Account common.Address
	Amount  *big.Int
	Round   *big.Int
}

type VaultRedeem struct {
	Account common.Address
	Share   *big.Int
	Round   *big.Int
}

type ERC20Transfer struct {
	From  common.Address
	To    common.Address
	Value *big.Int
}

type OFTSent struct {
	Guid             [32]byte
	DstEid           uint32
	FromAddress      common.Address
	AmountSentLD     *big.Int
	AmountReceivedLD *big.Int
}

type OFTReceived struct {
	Guid             [32]byte
	SrcEid           uint32
	ToAddress        common.Address
	AmountReceivedLD *big.Int
}

type ERC4626Deposit struct {
	Sender common.Address
	Owner  common.Address
	Assets *big.Int
	Shares *big.Int
}

type ERC4626Withdraw struct {
	Sender   common.Address
	Receiver common.Address
	Owner    common.Address
	Assets   *big.Int
	Shares   *big.Int
}

type PairMint struct {
	Sender  common.Address
	Amount0 *big.Int
	Amount1 *big.Int
}

type PairBurn struct {
	Sender  common.Address
	Amount0 *big.Int
	Amount1 *big.Int
	To      common.Address
}
