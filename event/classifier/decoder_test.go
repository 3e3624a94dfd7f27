package classifier

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/wjorgensen/StreamDroplets/database/event"
	"github.com/wjorgensen/StreamDroplets/event/contracts"
)

var testDate = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func vaultLog(t *testing.T, emitter common.Address, name string, args ...interface{}) types.Log {
	t.Helper()
	lg, err := contracts.EncodeLog(contracts.StreamVaultABI, name, emitter, args...)
	require.NoError(t, err)
	lg.TxHash = common.HexToHash("0xfeed")
	lg.BlockNumber = 42
	lg.Index = 3
	return lg
}

func oftLog(t *testing.T, emitter common.Address, name string, args ...interface{}) types.Log {
	t.Helper()
	lg, err := contracts.EncodeLog(contracts.OFTABI, name, emitter, args...)
	require.NoError(t, err)
	lg.TxHash = common.HexToHash("0xbeef")
	lg.Index = 1
	return lg
}

func TestDecoder_Unstake(t *testing.T) {
	d := NewDecoder(log.New())
	ev, err := d.Decode(testBook(), 1, testDate, vaultLog(t, vaultX, "Unstake", alice, big.NewInt(1_000_000), big.NewInt(5)))
	require.NoError(t, err)
	require.NotNil(t, ev)
	require.Equal(t, event.KindUnstake, ev.Kind)
	require.Equal(t, "xETH", ev.Asset)
	require.Equal(t, alice, ev.Sender)
	require.Equal(t, "-1000000", ev.Amount.String())
	require.NotNil(t, ev.Round)
	require.Equal(t, uint64(5), *ev.Round)
	require.Equal(t, uint64(42), ev.BlockNumber)
	require.Equal(t, uint(3), ev.LogIndex)
}

func TestDecoder_StakeAndRedeem(t *testing.T) {
	d := NewDecoder(log.New())
	book := testBook()

	stake, err := d.Decode(book, 1, testDate, vaultLog(t, vaultX, "Stake", alice, big.NewInt(10), big.NewInt(2)))
	require.NoError(t, err)
	require.Equal(t, event.KindStake, stake.Kind)
	require.Equal(t, "10", stake.Amount.String())

	redeem, err := d.Decode(book, 1, testDate, vaultLog(t, vaultY, "Redeem", bob, big.NewInt(7), big.NewInt(2)))
	require.NoError(t, err)
	require.Equal(t, event.KindRedeem, redeem.Kind)
	require.Equal(t, "xBTC", redeem.Asset)
	require.Equal(t, "7", redeem.Amount.String())
}

func TestDecoder_TransferClassified(t *testing.T) {
	d := NewDecoder(log.New())
	ev, err := d.Decode(testBook(), 1, testDate, vaultLog(t, vaultX, "Transfer", alice, pool, big.NewInt(100)))
	require.NoError(t, err)
	require.Equal(t, event.KindTransfer, ev.Kind)
	require.Equal(t, event.TagPoolTo, ev.Tag)
	require.Equal(t, pool, ev.Receiver)
}

func TestDecoder_DropsMintTransfer(t *testing.T) {
	d := NewDecoder(log.New())
	ev, err := d.Decode(testBook(), 1, testDate, vaultLog(t, vaultX, "Transfer", common.Address{}, alice, big.NewInt(100)))
	require.NoError(t, err)
	require.Nil(t, ev)
}

func TestDecoder_UnknownEmitterOrTopic(t *testing.T) {
	d := NewDecoder(log.New())
	book := testBook()

	ev, err := d.Decode(book, 1, testDate, vaultLog(t, common.HexToAddress("0xdead"), "Stake", alice, big.NewInt(1), big.NewInt(1)))
	require.NoError(t, err)
	require.Nil(t, ev)

	ev, err = d.Decode(book, 1, testDate, types.Log{Address: vaultX, Topics: []common.Hash{common.HexToHash("0x1234")}})
	require.NoError(t, err)
	require.Nil(t, ev)
}

func TestDecoder_BridgeLegs(t *testing.T) {
	d := NewDecoder(log.New())
	book := testBook()

	sent, err := d.Decode(book, 1, testDate, oftLog(t, adapter, "OFTSent", [32]byte{9}, uint32(30184), alice, big.NewInt(500), big.NewInt(499)))
	require.NoError(t, err)
	require.Equal(t, event.KindBridgeSent, sent.Kind)
	require.Equal(t, uint64(8453), sent.PeerChainID)
	require.Equal(t, "-500", sent.Amount.String())
	require.Equal(t, alice, sent.Sender)

	received, err := d.Decode(book, 8453, testDate, oftLog(t, vaultX, "OFTReceived", [32]byte{9}, uint32(39999), bob, big.NewInt(499)))
	require.NoError(t, err)
	require.Equal(t, event.KindBridgeReceived, received.Kind)
	require.Equal(t, uint64(0), received.PeerChainID)
	require.Equal(t, bob, received.Receiver)
	require.Equal(t, "499", received.Amount.String())
}
