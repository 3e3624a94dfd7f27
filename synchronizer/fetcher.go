package synchronizer

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Range is an inclusive block interval. A range with To < From is empty.
type Range struct {
	From uint64
	To   uint64
}

func (r Range) Empty() bool {
	return r.To < r.From
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d]", r.From, r.To)
}

// SplitRange cuts r into consecutive chunks of at most size blocks.
func SplitRange(r Range, size uint64) []Range {
	if r.Empty() {
		return nil
	}
	if size == 0 {
		return []Range{r}
	}
	var chunks []Range
	for from := r.From; from <= r.To; {
		to := from + size - 1
		if to > r.To || to < from {
			to = r.To
		}
		chunks = append(chunks, Range{From: from, To: to})
		if to == r.To {
			break
		}
		from = to + 1
	}
	return chunks
}

type LogFilterer interface {
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
}

// LogFetcher pulls logs for a range in provider-sized chunks with bounded
// concurrency and returns them as one ordered list.
type LogFetcher struct {
	client   LogFilterer
	maxRange uint64
	workers  int
}

func NewLogFetcher(client LogFilterer, maxRange uint64, workers int) *LogFetcher {
	if workers < 1 {
		workers = 1
	}
	return &LogFetcher{client: client, maxRange: maxRange, workers: workers}
}

// FetchLogs returns every non-removed log emitted by addresses within r,
// ordered by (block, index).
func (f *LogFetcher) FetchLogs(ctx context.Context, addresses []common.Address, topics [][]common.Hash, r Range) ([]types.Log, error) {
	if r.Empty() || len(addresses) == 0 {
		return nil, nil
	}
	chunks := SplitRange(r, f.maxRange)
	results := make([][]types.Log, len(chunks))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(f.workers)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		group.Go(func() error {
			logs, err := f.client.FilterLogs(gctx, ethereum.FilterQuery{
				FromBlock: new(big.Int).SetUint64(chunk.From),
				ToBlock:   new(big.Int).SetUint64(chunk.To),
				Addresses: addresses,
				Topics:    topics,
			})
			if err != nil {
				return fmt.Errorf("failed to fetch logs in %s: %w", chunk, err)
			}
			results[i] = logs
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var all []types.Log
	for _, logs := range results {
		for _, lg := range logs {
			if !lg.Removed {
				all = append(all, lg)
			}
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].BlockNumber != all[j].BlockNumber {
			return all[i].BlockNumber < all[j].BlockNumber
		}
		return all[i].Index < all[j].Index
	})
	return all, nil
}
