package blocktime

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/wjorgensen/StreamDroplets/synchronizer/retry"
)

var (
	// ErrNotReached means the chain head is not yet past the target time.
	ErrNotReached = errors.New("chain has not reached target time")
	// ErrBeforeGenesis means the target time precedes the first block.
	ErrBeforeGenesis = errors.New("target time is before genesis")
)

const (
	defaultHeaderAttempts = 3
	initialStep           = 64
)

type HeaderSource interface {
	BlockHeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	LatestBlockHeader(ctx context.Context) (*types.Header, error)
}

// Lookup is a provider-side timestamp to block index.
type Lookup interface {
	BlockNoByTime(ctx context.Context, t time.Time) (uint64, error)
}

// Hint seeds the estimate with a block whose timestamp is already known,
// usually the chain's progress cursor.
type Hint struct {
	Block uint64
	Time  uint64
}

type Finder struct {
	log       log.Logger
	headers   HeaderSource
	lookup    Lookup
	blockTime time.Duration

	attempts int
	strategy retry.Strategy
}

// NewFinder builds a Finder. lookup may be nil.
func NewFinder(log log.Logger, headers HeaderSource, lookup Lookup, blockTime time.Duration) *Finder {
	if blockTime <= 0 {
		blockTime = 2 * time.Second
	}
	return &Finder{
		log:       log.New("module", "blocktime"),
		headers:   headers,
		lookup:    lookup,
		blockTime: blockTime,
		attempts:  defaultHeaderAttempts,
		strategy:  retry.Exponential(),
	}
}

// BlockAtOrBefore returns the highest block whose timestamp is <= t.
func (f *Finder) BlockAtOrBefore(ctx context.Context, t time.Time, hint *Hint) (uint64, error) {
	target := uint64(t.Unix())

	latest, err := f.latest(ctx)
	if err != nil {
		return 0, err
	}
	if latest.Time <= target {
		return 0, fmt.Errorf("%w: head %d at %d, target %d", ErrNotReached, latest.Number.Uint64(), latest.Time, target)
	}
	head := latest.Number.Uint64()
	if head == 0 {
		// only genesis exists and it is already past the target
		return 0, fmt.Errorf("%w: genesis at %d, target %d", ErrBeforeGenesis, latest.Time, target)
	}

	if f.lookup != nil {
		number, err := f.viaLookup(ctx, t, target, head)
		if err == nil {
			return number, nil
		}
		f.log.Warn("timestamp lookup failed, falling back to search", "target", target, "err", err)
	}
	return f.search(ctx, target, head, latest.Time, hint)
}

// viaLookup trusts the provider only if its answer brackets the target.
func (f *Finder) viaLookup(ctx context.Context, t time.Time, target, head uint64) (uint64, error) {
	number, err := f.lookup.BlockNoByTime(ctx, t)
	if err != nil {
		return 0, err
	}
	if number >= head {
		return 0, fmt.Errorf("lookup returned block %d at or past head %d", number, head)
	}
	at, err := f.timeOf(ctx, number)
	if err != nil {
		return 0, err
	}
	next, err := f.timeOf(ctx, number+1)
	if err != nil {
		return 0, err
	}
	if at > target || next <= target {
		return 0, fmt.Errorf("lookup block %d (time %d, next %d) does not bracket %d", number, at, next, target)
	}
	return number, nil
}

// search estimates from the anchor, brackets the target by doubling the
// step, then binary searches. Invariant: time(lo) <= target < time(hi).
func (f *Finder) search(ctx context.Context, target, head, headTime uint64, hint *Hint) (uint64, error) {
	anchorBlock, anchorTime := head, headTime
	if hint != nil && hint.Block < head && hint.Time > 0 {
		anchorBlock, anchorTime = hint.Block, hint.Time
	}

	secs := uint64(f.blockTime / time.Second)
	if secs == 0 {
		secs = 1
	}
	var estimate uint64
	if target >= anchorTime {
		estimate = anchorBlock + (target-anchorTime)/secs
		if estimate >= head {
			estimate = head - 1
		}
	} else {
		back := (anchorTime - target) / secs
		if back > anchorBlock {
			estimate = 0
		} else {
			estimate = anchorBlock - back
		}
	}

	estTime, err := f.timeOf(ctx, estimate)
	if err != nil {
		return 0, err
	}

	var lo, hi uint64
	step := uint64(initialStep)
	if estTime <= target {
		lo = estimate
		for {
			hi = lo + step
			if hi >= head {
				hi = head
				break
			}
			hiTime, err := f.timeOf(ctx, hi)
			if err != nil {
				return 0, err
			}
			if hiTime > target {
				break
			}
			lo = hi
			step *= 2
		}
	} else {
		hi = estimate
		for {
			if hi == 0 {
				return 0, ErrBeforeGenesis
			}
			if step > hi {
				lo = 0
			} else {
				lo = hi - step
			}
			loTime, err := f.timeOf(ctx, lo)
			if err != nil {
				return 0, err
			}
			if loTime <= target {
				break
			}
			if lo == 0 {
				return 0, ErrBeforeGenesis
			}
			hi = lo
			step *= 2
		}
	}

	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		midTime, err := f.timeOf(ctx, mid)
		if err != nil {
			return 0, err
		}
		if midTime <= target {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo, nil
}

func (f *Finder) latest(ctx context.Context) (*types.Header, error) {
	return retry.Do(ctx, f.attempts, f.strategy, func() (*types.Header, error) {
		return f.headers.LatestBlockHeader(ctx)
	})
}

func (f *Finder) timeOf(ctx context.Context, number uint64) (uint64, error) {
	header, err := retry.Do(ctx, f.attempts, f.strategy, func() (*types.Header, error) {
		return f.headers.BlockHeaderByNumber(ctx, new(big.Int).SetUint64(number))
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read header %d: %w", number, err)
	}
	return header.Time, nil
}
