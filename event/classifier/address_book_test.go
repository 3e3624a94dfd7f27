package classifier

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wjorgensen/StreamDroplets/database/event"
)

var (
	vaultX      = common.HexToAddress("0x1001")
	vaultY      = common.HexToAddress("0x1002")
	router      = common.HexToAddress("0x2001")
	integration = common.HexToAddress("0x3001")
	pool        = common.HexToAddress("0x4001")
	adapter     = common.HexToAddress("0x5001")
	alice       = common.HexToAddress("0xa11ce")
	bob         = common.HexToAddress("0xb0b")
)

func testBook() *AddressBook {
	book := NewAddressBook()
	book.Vaults[vaultX] = "xETH"
	book.Vaults[vaultY] = "xBTC"
	book.Routers[router] = struct{}{}
	book.Integrations[integration] = "euler"
	book.Pools[pool] = "shadow"
	book.BridgeAdapters[adapter] = "xETH"
	return book
}

func TestAddressBook_Classify(t *testing.T) {
	book := testBook()
	tests := []struct {
		name     string
		from, to common.Address
		tag      event.Tag
		drop     bool
	}{
		{"mint", common.Address{}, alice, event.TagNone, true},
		{"burn", alice, common.Address{}, event.TagNone, true},
		{"to emitting vault", alice, vaultX, event.TagNone, true},
		{"from emitting vault", vaultX, alice, event.TagNone, true},
		{"router into other vault", router, vaultY, event.TagRouterDeposit, false},
		{"router to pool", router, pool, event.TagProtocolInternal, false},
		{"integration to adapter", integration, adapter, event.TagProtocolInternal, false},
		{"router to integration", router, integration, event.TagProtocolInternal, false},
		{"integration to router", integration, router, event.TagProtocolInternal, false},
		{"integration to pool", integration, pool, event.TagProtocolInternal, false},
		{"user to adapter", alice, adapter, event.TagBridgePoolTo, false},
		{"adapter to user", adapter, bob, event.TagBridgePoolFrom, false},
		{"user to router", alice, router, event.TagRouterTo, false},
		{"router to user", router, bob, event.TagRouterFrom, false},
		{"user to integration", alice, integration, event.TagIntegrationTo, false},
		{"integration to user", integration, bob, event.TagIntegrationFrom, false},
		{"user to pool", alice, pool, event.TagPoolTo, false},
		{"pool to user", pool, bob, event.TagPoolFrom, false},
		{"user to user", alice, bob, event.TagNone, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag, drop := book.Classify(vaultX, tt.from, tt.to)
			require.Equal(t, tt.drop, drop)
			require.Equal(t, tt.tag, tag)
		})
	}
}

func TestAddressBook_CloneIsIndependent(t *testing.T) {
	book := testBook()
	clone := book.Clone()
	clone.Integrations[alice] = "offchain"
	require.False(t, book.IsIntegration(alice))
	require.True(t, clone.IsIntegration(alice))
	require.True(t, clone.IsPool(pool))
}

func TestEndpointChainID(t *testing.T) {
	chainID, ok := EndpointChainID(30184)
	require.True(t, ok)
	require.Equal(t, uint64(8453), chainID)

	_, ok = EndpointChainID(40000)
	require.False(t, ok)
}
