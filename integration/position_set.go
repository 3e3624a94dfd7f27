package integration

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/wjorgensen/StreamDroplets/common/bigint"
	"github.com/wjorgensen/StreamDroplets/database/balance"
	"github.com/wjorgensen/StreamDroplets/database/event"
)

var ErrNegativePosition = errors.New("negative integration position")

type position struct {
	row        balance.IntegrationBalance
	start      *big.Int
	shares     *big.Int
	underlying *big.Int
	existed    bool
}

// PositionSet is the integration counterpart of the ledger working set,
// keyed by (address, protocol, contract, asset).
type PositionSet struct {
	committed map[balance.IntegrationKey]balance.IntegrationBalance
	entries   map[balance.IntegrationKey]*position
	order     []balance.IntegrationKey
}

func NewPositionSet(committed []balance.IntegrationBalance) *PositionSet {
	ps := &PositionSet{
		committed: make(map[balance.IntegrationKey]balance.IntegrationBalance, len(committed)),
		entries:   make(map[balance.IntegrationKey]*position),
	}
	for _, row := range committed {
		ps.committed[row.Key()] = row
	}
	return ps
}

func (ps *PositionSet) touch(key balance.IntegrationKey) *position {
	if p, ok := ps.entries[key]; ok {
		return p
	}
	p := &position{row: balance.IntegrationBalance{
		Address: key.Address, Protocol: key.Protocol, Contract: key.Contract, Asset: key.Asset,
	}}
	if row, ok := ps.committed[key]; ok && row.Shares != nil {
		p.row = row
		p.existed = true
	}
	p.start = bigint.Clone(p.row.Shares)
	p.shares = bigint.Clone(p.row.Shares)
	p.underlying = bigint.Clone(p.row.Underlying)
	ps.entries[key] = p
	ps.order = append(ps.order, key)
	return p
}

func (ps *PositionSet) Add(key balance.IntegrationKey, shares, underlying *big.Int) {
	p := ps.touch(key)
	if shares != nil {
		p.shares.Add(p.shares, shares)
	}
	if underlying != nil {
		p.underlying.Add(p.underlying, underlying)
	}
}

func (ps *PositionSet) Shares(key balance.IntegrationKey) *big.Int {
	return new(big.Int).Set(ps.touch(key).shares)
}

func (ps *PositionSet) Validate() error {
	var bad []string
	for _, key := range ps.order {
		if p := ps.entries[key]; p.shares.Sign() < 0 {
			bad = append(bad, fmt.Sprintf("%s/%s/%s=%s", key.Address.Hex(), key.Protocol, key.Contract.Hex(), p.shares))
		}
	}
	if len(bad) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNegativePosition, strings.Join(bad, ", "))
}

// Changes mirrors ledger.WorkingSet.Changes. Underlying values are clamped
// at zero; the next revaluation replaces them.
func (ps *PositionSet) Changes(now time.Time) ([]balance.IntegrationBalance, []balance.IntegrationKey) {
	var upserts []balance.IntegrationBalance
	var deletes []balance.IntegrationKey
	for _, key := range ps.order {
		p := ps.entries[key]
		switch {
		case p.shares.Sign() == 0:
			if p.existed {
				deletes = append(deletes, key)
			}
		case p.shares.Cmp(p.start) != 0:
			row := p.row
			row.Shares = new(big.Int).Set(p.shares)
			row.Underlying = new(big.Int).Set(p.underlying)
			if row.Underlying.Sign() < 0 {
				row.Underlying.SetInt64(0)
			}
			row.UpdatedAt = now
			upserts = append(upserts, row)
		}
	}
	return upserts, deletes
}

func accountKey(ev event.IntegrationEvent) balance.IntegrationKey {
	return balance.IntegrationKey{Address: ev.Account, Protocol: ev.Protocol, Contract: ev.Contract, Asset: ev.Asset}
}

func counterpartyKey(ev event.IntegrationEvent) balance.IntegrationKey {
	return balance.IntegrationKey{Address: ev.Counterparty, Protocol: ev.Protocol, Contract: ev.Contract, Asset: ev.Asset}
}

// FoldEvents applies events to ps once per (protocol, chain, tx, log).
// Swaps are recorded for reference only and move nothing.
func FoldEvents(ps *PositionSet, events []event.IntegrationEvent) {
	type seenKey struct {
		protocol string
		key      event.Key
	}
	seen := make(map[seenKey]struct{}, len(events))
	for _, ev := range events {
		k := seenKey{protocol: ev.Protocol, key: ev.Key()}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		switch ev.Kind {
		case event.PositionDeposit, event.PositionWithdraw:
			ps.Add(accountKey(ev), ev.SharesDelta, ev.UnderlyingDelta)
		case event.PositionTransfer:
			moved := bigint.Abs(ev.SharesDelta)
			value := bigint.Abs(ev.UnderlyingDelta)
			ps.Add(accountKey(ev), new(big.Int).Neg(moved), new(big.Int).Neg(value))
			ps.Add(counterpartyKey(ev), moved, value)
		}
	}
}

// TouchedKeys lists the position keys events can move.
func TouchedKeys(events []event.IntegrationEvent) []balance.IntegrationKey {
	seen := make(map[balance.IntegrationKey]struct{})
	var keys []balance.IntegrationKey
	add := func(k balance.IntegrationKey) {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for _, ev := range events {
		switch ev.Kind {
		case event.PositionDeposit, event.PositionWithdraw:
			add(accountKey(ev))
		case event.PositionTransfer:
			add(accountKey(ev))
			add(counterpartyKey(ev))
		}
	}
	return keys
}
