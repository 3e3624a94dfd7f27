package classifier

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/wjorgensen/StreamDroplets/database/event"
	"github.com/wjorgensen/StreamDroplets/event/contracts"
)

var (
	stakeID       = contracts.EventID(contracts.StreamVaultABI, "Stake")
	unstakeID     = contracts.EventID(contracts.StreamVaultABI, "Unstake")
	redeemID      = contracts.EventID(contracts.StreamVaultABI, "Redeem")
	transferID    = contracts.EventID(contracts.StreamVaultABI, "Transfer")
	oftSentID     = contracts.EventID(contracts.OFTABI, "OFTSent")
	oftReceivedID = contracts.EventID(contracts.OFTABI, "OFTReceived")
)

// Decoder turns raw vault and bridge logs into chain events.
type Decoder struct {
	log log.Logger
}

func NewDecoder(log log.Logger) *Decoder {
	return &Decoder{log: log.New("module", "decoder")}
}

// Decode returns nil, nil for logs that are unrecognized or dropped by
// classification.
func (d *Decoder) Decode(book *AddressBook, chainID uint64, date time.Time, lg types.Log) (*event.ChainEvent, error) {
	if len(lg.Topics) == 0 {
		return nil, nil
	}
	asset, ok := book.AssetOf(lg.Address)
	if !ok {
		return nil, nil
	}

	ev := &event.ChainEvent{
		GUID:        uuid.New(),
		ChainID:     chainID,
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
		BlockNumber: lg.BlockNumber,
		EventDate:   date,
		Asset:       asset,
	}

	switch lg.Topics[0] {
	case stakeID:
		var stake contracts.VaultStake
		if err := contracts.UnpackLog(&stake, &lg, "Stake", contracts.StreamVaultABI); err != nil {
			return nil, decodeErr("Stake", lg, err)
		}
		ev.Kind = event.KindStake
		ev.Sender = stake.Account
		ev.Amount = stake.Amount
		ev.Round = roundOf(stake.Round)

	case unstakeID:
		var unstake contracts.VaultUnstake
		if err := contracts.UnpackLog(&unstake, &lg, "Unstake", contracts.StreamVaultABI); err != nil {
			return nil, decodeErr("Unstake", lg, err)
		}
		ev.Kind = event.KindUnstake
		ev.Sender = unstake.Account
		ev.Amount = new(big.Int).Neg(unstake.Amount)
		ev.Round = roundOf(unstake.Round)

	case redeemID:
		var redeem contracts.VaultRedeem
		if err := contracts.UnpackLog(&redeem, &lg, "Redeem", contracts.StreamVaultABI); err != nil {
			return nil, decodeErr("Redeem", lg, err)
		}
		ev.Kind = event.KindRedeem
		ev.Sender = redeem.Account
		ev.Amount = redeem.Share
		ev.Round = roundOf(redeem.Round)

	case transferID:
		if !book.IsVault(lg.Address) {
			return nil, nil
		}
		var transfer contracts.ERC20Transfer
		if err := contracts.UnpackLog(&transfer, &lg, "Transfer", contracts.StreamVaultABI); err != nil {
			return nil, decodeErr("Transfer", lg, err)
		}
		tag, drop := book.Classify(lg.Address, transfer.From, transfer.To)
		if drop {
			return nil, nil
		}
		ev.Kind = event.KindTransfer
		ev.Tag = tag
		ev.Sender = transfer.From
		ev.Receiver = transfer.To
		ev.Amount = transfer.Value

	case oftSentID:
		var sent contracts.OFTSent
		if err := contracts.UnpackLog(&sent, &lg, "OFTSent", contracts.OFTABI); err != nil {
			return nil, decodeErr("OFTSent", lg, err)
		}
		ev.Kind = event.KindBridgeSent
		ev.Sender = sent.FromAddress
		ev.Amount = new(big.Int).Neg(sent.AmountSentLD)
		ev.PeerChainID = d.peerChain(sent.DstEid, lg)

	case oftReceivedID:
		var received contracts.OFTReceived
		if err := contracts.UnpackLog(&received, &lg, "OFTReceived", contracts.OFTABI); err != nil {
			return nil, decodeErr("OFTReceived", lg, err)
		}
		ev.Kind = event.KindBridgeReceived
		ev.Receiver = received.ToAddress
		ev.Amount = received.AmountReceivedLD
		ev.PeerChainID = d.peerChain(received.SrcEid, lg)

	default:
		return nil, nil
	}
	return ev, nil
}

func (d *Decoder) peerChain(eid uint32, lg types.Log) uint64 {
	chainID, ok := EndpointChainID(eid)
	if !ok {
		d.log.Warn("unknown layerzero endpoint id", "eid", eid, "tx", lg.TxHash, "index", lg.Index)
		return 0
	}
	return chainID
}

func roundOf(n *big.Int) *uint64 {
	if n == nil || !n.IsUint64() {
		return nil
	}
	r := n.Uint64()
	return &r
}

func decodeErr(name string, lg types.Log, err error) error {
	return fmt.Errorf("failed to decode %s at %s:%d (%s): %w", name, lg.TxHash, lg.Index, lg.Address, err)
}
