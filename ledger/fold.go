package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/wjorgensen/StreamDroplets/database/balance"
	"github.com/wjorgensen/StreamDroplets/database/event"
)

// Converter turns an unstaked underlying amount into the shares it burned.
type Converter interface {
	SharesForUnstake(ctx context.Context, asset string, underlying *big.Int, round uint64) (*big.Int, error)
}

// Fold applies events to ws in the order given. Events sharing a
// (chain, tx, log) key are applied once.
func Fold(ctx context.Context, ws *WorkingSet, events []event.ChainEvent, conv Converter) error {
	seen := make(map[event.Key]struct{}, len(events))
	for _, ev := range events {
		if _, dup := seen[ev.Key()]; dup {
			continue
		}
		seen[ev.Key()] = struct{}{}
		if err := apply(ctx, ws, ev, conv); err != nil {
			return err
		}
	}
	return nil
}

func apply(ctx context.Context, ws *WorkingSet, ev event.ChainEvent, conv Converter) error {
	if ev.Amount == nil {
		return fmt.Errorf("event %s:%d has no amount", ev.TxHash, ev.LogIndex)
	}
	amount := new(big.Int).Abs(ev.Amount)
	sender := balance.Key{Address: ev.Sender, Asset: ev.Asset}
	receiver := balance.Key{Address: ev.Receiver, Asset: ev.Asset}

	switch ev.Kind {
	case event.KindStake:
		// shares are claimed later through redeem

	case event.KindRedeem:
		ws.Add(sender, amount)

	case event.KindUnstake:
		if ev.Round == nil {
			return fmt.Errorf("unstake %s:%d has no round", ev.TxHash, ev.LogIndex)
		}
		shares, err := conv.SharesForUnstake(ctx, ev.Asset, amount, *ev.Round)
		if err != nil {
			return fmt.Errorf("failed to convert unstake %s:%d: %w", ev.TxHash, ev.LogIndex, err)
		}
		ws.Add(sender, new(big.Int).Neg(shares))

	case event.KindTransfer:
		switch {
		case ev.Tag == event.TagNone:
			ws.Add(sender, new(big.Int).Neg(amount))
			ws.Add(receiver, amount)
		case ev.Tag.Outgoing():
			ws.Add(sender, new(big.Int).Neg(amount))
		case ev.Tag.Incoming():
			ws.Add(receiver, amount)
		}

	case event.KindBridgeSent:
		ws.Add(sender, new(big.Int).Neg(amount))

	case event.KindBridgeReceived:
		ws.Add(receiver, amount)

	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	return nil
}

// TouchedKeys lists the balance keys events can move, without duplicates.
func TouchedKeys(events []event.ChainEvent) []balance.Key {
	seen := make(map[balance.Key]struct{})
	var keys []balance.Key
	add := func(k balance.Key) {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for _, ev := range events {
		switch ev.Kind {
		case event.KindRedeem, event.KindUnstake, event.KindBridgeSent:
			add(balance.Key{Address: ev.Sender, Asset: ev.Asset})
		case event.KindBridgeReceived:
			add(balance.Key{Address: ev.Receiver, Asset: ev.Asset})
		case event.KindTransfer:
			if ev.Tag == event.TagNone || ev.Tag.Outgoing() {
				add(balance.Key{Address: ev.Sender, Asset: ev.Asset})
			}
			if ev.Tag == event.TagNone || ev.Tag.Incoming() {
				add(balance.Key{Address: ev.Receiver, Asset: ev.Asset})
			}
		}
	}
	return keys
}

// MaxRounds returns the highest round each asset's events reference.
func MaxRounds(events []event.ChainEvent) map[string]uint64 {
	rounds := make(map[string]uint64)
	for _, ev := range events {
		if ev.Round != nil && *ev.Round > rounds[ev.Asset] {
			rounds[ev.Asset] = *ev.Round
		}
	}
	return rounds
}
