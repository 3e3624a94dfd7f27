package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/wjorgensen/StreamDroplets/database/balance"
)

var ErrNegativeBalance = errors.New("negative share balance")

type entry struct {
	row     balance.ShareBalance
	start   *big.Int
	value   *big.Int
	existed bool
}

// WorkingSet holds the day's share balances between fold and commit. It is
// seeded lazily from committed rows and never shared between runs.
type WorkingSet struct {
	committed map[balance.Key]balance.ShareBalance
	entries   map[balance.Key]*entry
	order     []balance.Key
}

// NewWorkingSet seeds a set from rows already loaded for the touched keys.
// Keys without a row start at zero.
func NewWorkingSet(committed []balance.ShareBalance) *WorkingSet {
	ws := &WorkingSet{
		committed: make(map[balance.Key]balance.ShareBalance, len(committed)),
		entries:   make(map[balance.Key]*entry),
	}
	for _, row := range committed {
		ws.committed[row.Key()] = row
	}
	return ws
}

func (ws *WorkingSet) touch(key balance.Key) *entry {
	if e, ok := ws.entries[key]; ok {
		return e
	}
	e := &entry{row: balance.ShareBalance{Address: key.Address, Asset: key.Asset, Underlying: new(big.Int)}}
	if row, ok := ws.committed[key]; ok && row.Shares != nil {
		e.row = row
		e.existed = true
		e.start = new(big.Int).Set(row.Shares)
	} else {
		e.start = new(big.Int)
	}
	e.value = new(big.Int).Set(e.start)
	ws.entries[key] = e
	ws.order = append(ws.order, key)
	return e
}

// Add applies a signed delta to key.
func (ws *WorkingSet) Add(key balance.Key, delta *big.Int) {
	e := ws.touch(key)
	e.value.Add(e.value, delta)
}

// Get returns the current value of key, zero if untouched and uncommitted.
func (ws *WorkingSet) Get(key balance.Key) *big.Int {
	return new(big.Int).Set(ws.touch(key).value)
}

// Keys returns the touched keys in first-touch order.
func (ws *WorkingSet) Keys() []balance.Key {
	return append([]balance.Key(nil), ws.order...)
}

type NegativeEntry struct {
	Key   balance.Key
	Value *big.Int
}

// NegativeBalanceError lists every key a fold drove below zero.
type NegativeBalanceError struct {
	Entries []NegativeEntry
}

func (e *NegativeBalanceError) Error() string {
	parts := make([]string, 0, len(e.Entries))
	for _, n := range e.Entries {
		parts = append(parts, fmt.Sprintf("%s/%s=%s", n.Key.Address.Hex(), n.Key.Asset, n.Value))
	}
	return fmt.Sprintf("%s: %s", ErrNegativeBalance, strings.Join(parts, ", "))
}

func (e *NegativeBalanceError) Is(target error) bool {
	return target == ErrNegativeBalance
}

// Validate fails when any touched key is below zero.
func (ws *WorkingSet) Validate() error {
	var negatives []NegativeEntry
	for _, key := range ws.order {
		e := ws.entries[key]
		if e.value.Sign() < 0 {
			negatives = append(negatives, NegativeEntry{Key: key, Value: new(big.Int).Set(e.value)})
		}
	}
	if len(negatives) == 0 {
		return nil
	}
	sort.Slice(negatives, func(i, j int) bool {
		a, b := negatives[i].Key, negatives[j].Key
		if a.Asset != b.Asset {
			return a.Asset < b.Asset
		}
		return a.Address.Hex() < b.Address.Hex()
	})
	return &NegativeBalanceError{Entries: negatives}
}

// Changes returns the rows to write. Keys that moved and stay positive are
// upserted, keys that had a row and reach zero are deleted, and keys that
// started and ended at zero produce nothing.
func (ws *WorkingSet) Changes(now time.Time) ([]balance.ShareBalance, []balance.Key) {
	var upserts []balance.ShareBalance
	var deletes []balance.Key
	for _, key := range ws.order {
		e := ws.entries[key]
		switch {
		case e.value.Sign() == 0:
			if e.existed {
				deletes = append(deletes, key)
			}
		case e.value.Cmp(e.start) != 0:
			row := e.row
			row.Shares = new(big.Int).Set(e.value)
			if row.Underlying == nil {
				row.Underlying = new(big.Int)
			}
			row.UpdatedAt = now
			upserts = append(upserts, row)
		}
	}
	return upserts, deletes
}
