package classifier

import (
	"fmt"
	"sync/atomic"

	"github.com/wjorgensen/StreamDroplets/database/reference"
)

// Registry owns the current AddressBook: the static topology plus every
// deposit-holding address synced from off-chain protocols.
type Registry struct {
	static    *AddressBook
	deposits  reference.DepositReferenceView
	protocols []string

	book atomic.Pointer[AddressBook]
}

func NewRegistry(static *AddressBook, deposits reference.DepositReferenceView, offchainProtocols []string) *Registry {
	r := &Registry{static: static, deposits: deposits, protocols: offchainProtocols}
	r.book.Store(static.Clone())
	return r
}

func (r *Registry) Book() *AddressBook {
	return r.book.Load()
}

// Reload rebuilds the book from the reference table. It runs after each
// deposit sync and before a pass classifies any log.
func (r *Registry) Reload() (*AddressBook, error) {
	book := r.static.Clone()
	for _, protocol := range r.protocols {
		refs, err := r.deposits.DepositsForProtocol(protocol)
		if err != nil {
			return nil, fmt.Errorf("failed to load deposit addresses for %s: %w", protocol, err)
		}
		for _, ref := range refs {
			book.Integrations[ref.DepositAddress] = protocol
		}
	}
	r.book.Store(book)
	return book, nil
}
