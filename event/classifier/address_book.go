package classifier

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/wjorgensen/StreamDroplets/database/event"
)

// AddressBook is the preloaded table every transfer is classified against.
// It is rebuilt, never mutated, once the external deposit sync has run.
type AddressBook struct {
	// vault share token -> asset symbol
	Vaults map[common.Address]string
	// OFT adapter (lockbox) -> asset symbol
	BridgeAdapters map[common.Address]string
	Routers        map[common.Address]struct{}
	// integration contract or deposit-holding address -> protocol name
	Integrations map[common.Address]string
	// AMM pool -> protocol name
	Pools map[common.Address]string
}

func NewAddressBook() *AddressBook {
	return &AddressBook{
		Vaults:         make(map[common.Address]string),
		BridgeAdapters: make(map[common.Address]string),
		Routers:        make(map[common.Address]struct{}),
		Integrations:   make(map[common.Address]string),
		Pools:          make(map[common.Address]string),
	}
}

// Clone returns a deep copy that can be extended without touching b.
func (b *AddressBook) Clone() *AddressBook {
	c := NewAddressBook()
	for k, v := range b.Vaults {
		c.Vaults[k] = v
	}
	for k, v := range b.BridgeAdapters {
		c.BridgeAdapters[k] = v
	}
	for k := range b.Routers {
		c.Routers[k] = struct{}{}
	}
	for k, v := range b.Integrations {
		c.Integrations[k] = v
	}
	for k, v := range b.Pools {
		c.Pools[k] = v
	}
	return c
}

func (b *AddressBook) IsVault(addr common.Address) bool {
	_, ok := b.Vaults[addr]
	return ok
}

func (b *AddressBook) IsRouter(addr common.Address) bool {
	_, ok := b.Routers[addr]
	return ok
}

func (b *AddressBook) IsIntegration(addr common.Address) bool {
	_, ok := b.Integrations[addr]
	return ok
}

func (b *AddressBook) IsPool(addr common.Address) bool {
	_, ok := b.Pools[addr]
	return ok
}

func (b *AddressBook) IsBridgeAdapter(addr common.Address) bool {
	_, ok := b.BridgeAdapters[addr]
	return ok
}

// isCounterparty reports whether addr belongs to a protocol rather than a user.
func (b *AddressBook) isCounterparty(addr common.Address) bool {
	return b.IsVault(addr) || b.IsRouter(addr) || b.IsIntegration(addr) || b.IsPool(addr) || b.IsBridgeAdapter(addr)
}

// AssetOf resolves the asset for a log emitted by a vault or bridge adapter.
func (b *AddressBook) AssetOf(emitter common.Address) (string, bool) {
	if asset, ok := b.Vaults[emitter]; ok {
		return asset, true
	}
	asset, ok := b.BridgeAdapters[emitter]
	return asset, ok
}

// Classify tags a vault share transfer emitted by vault. drop is true for
// transfers that never reach the ledger: mint/burn legs and transfers to or
// from the emitting vault, which stake, unstake and redeem already cover.
// The first matching rule wins.
func (b *AddressBook) Classify(vault, from, to common.Address) (tag event.Tag, drop bool) {
	switch {
	case from == (common.Address{}) || to == (common.Address{}):
		return event.TagNone, true
	case from == vault || to == vault:
		return event.TagNone, true
	case b.IsRouter(from) && b.IsVault(to):
		return event.TagRouterDeposit, false
	// Ahead of the one-sided rules: router to integration, integration to
	// router and integration to pool have no user side to credit or debit.
	case b.isCounterparty(from) && b.isCounterparty(to):
		return event.TagProtocolInternal, false
	case b.IsBridgeAdapter(to):
		return event.TagBridgePoolTo, false
	case b.IsBridgeAdapter(from):
		return event.TagBridgePoolFrom, false
	case b.IsRouter(to):
		return event.TagRouterTo, false
	case b.IsRouter(from):
		return event.TagRouterFrom, false
	case b.IsIntegration(to):
		return event.TagIntegrationTo, false
	case b.IsIntegration(from):
		return event.TagIntegrationFrom, false
	case b.IsPool(to):
		return event.TagPoolTo, false
	case b.IsPool(from):
		return event.TagPoolFrom, false
	}
	return event.TagNone, false
}
