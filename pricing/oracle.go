package pricing

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/wjorgensen/StreamDroplets/database/reference"
	"github.com/wjorgensen/StreamDroplets/event/contracts"
)

var (
	ErrPriceUnavailable = errors.New("price per share unavailable")
	ErrUnknownAsset     = errors.New("unknown asset")
)

const (
	roundCacheSize = 4096
	roundCacheTTL  = 24 * time.Hour
)

// Asset is a vault as seen from the canonical valuation chain.
type Asset struct {
	Symbol      string
	Vault       common.Address
	PPSDecimals uint8
}

type Source string

const (
	SourceLive  Source = "live"
	SourceCache Source = "cache"
)

// Quote is the finalized price an asset is valued at.
type Quote struct {
	Asset         string
	PricePerShare *big.Int
	// Round is the finalized round PricePerShare belongs to.
	Round  uint64
	Source Source
}

type roundKey struct {
	asset string
	round uint64
}

// Oracle reads round prices from the canonical chain and keeps the last good
// price per asset in price_caches.
type Oracle struct {
	log    log.Logger
	caller contracts.ContractCaller
	assets map[string]Asset
	cache  reference.PriceCacheDB
	rounds *lru.LRU[roundKey, *big.Int]
}

func NewOracle(log log.Logger, caller contracts.ContractCaller, assets []Asset, cache reference.PriceCacheDB) *Oracle {
	byName := make(map[string]Asset, len(assets))
	for _, a := range assets {
		byName[a.Symbol] = a
	}
	return &Oracle{
		log:    log.New("module", "oracle"),
		caller: caller,
		assets: byName,
		cache:  cache,
		rounds: lru.NewLRU[roundKey, *big.Int](roundCacheSize, nil, roundCacheTTL),
	}
}

func (o *Oracle) asset(symbol string) (Asset, error) {
	a, ok := o.assets[symbol]
	if !ok {
		return Asset{}, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	return a, nil
}

func (o *Oracle) Scale(symbol string) (uint8, error) {
	a, err := o.asset(symbol)
	if err != nil {
		return 0, err
	}
	return a.PPSDecimals, nil
}

// CurrentRound reads round() at block. A nil block reads the head.
func (o *Oracle) CurrentRound(ctx context.Context, symbol string, block *big.Int) (uint64, error) {
	a, err := o.asset(symbol)
	if err != nil {
		return 0, err
	}
	round, err := contracts.CallBig(ctx, o.caller, contracts.StreamVaultABI, a.Vault, block, "round")
	if err != nil {
		return 0, fmt.Errorf("failed to read round for %s: %w", symbol, err)
	}
	return round.Uint64(), nil
}

// PricePerShare returns the finalized price of round. Finalized prices
// never change, so a head read is valid for any historical day.
func (o *Oracle) PricePerShare(ctx context.Context, symbol string, round uint64) (*big.Int, error) {
	key := roundKey{asset: symbol, round: round}
	if pps, ok := o.rounds.Get(key); ok {
		return pps, nil
	}
	a, err := o.asset(symbol)
	if err != nil {
		return nil, err
	}
	pps, err := contracts.CallBig(ctx, o.caller, contracts.StreamVaultABI, a.Vault, nil, "roundPricePerShare", new(big.Int).SetUint64(round))
	if err != nil {
		return nil, fmt.Errorf("failed to read price for %s round %d: %w", symbol, round, err)
	}
	if pps.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s round %d is not finalized", ErrPriceUnavailable, symbol, round)
	}
	o.rounds.Add(key, pps)
	return pps, nil
}

// SharesForUnstake converts an unstaked underlying amount into shares at
// the price of the round before the unstake round, the latest one that was
// final when the unstake happened.
func (o *Oracle) SharesForUnstake(ctx context.Context, symbol string, underlying *big.Int, round uint64) (*big.Int, error) {
	if round == 0 {
		return nil, fmt.Errorf("%w: unstake in round 0 of %s has no prior price", ErrPriceUnavailable, symbol)
	}
	scale, err := o.Scale(symbol)
	if err != nil {
		return nil, err
	}
	pps, err := o.PricePerShare(ctx, symbol, round-1)
	if err != nil {
		cached, cerr := o.cache.PriceCache(symbol)
		if cerr != nil || cached == nil || cached.Round != round-1 {
			return nil, err
		}
		o.log.Warn("using cached price for unstake conversion", "asset", symbol, "round", round-1, "err", err)
		pps = cached.PricePerShare
	}
	return SharesForUnderlying(underlying, pps, scale), nil
}

// Quote prices symbol at block. When the canonical chain cannot be read, the
// cached price is used unless it predates minRound - 1, the finalized round
// the day's events already depend on.
func (o *Oracle) Quote(ctx context.Context, symbol string, block uint64, minRound uint64) (Quote, error) {
	quote, liveErr := o.liveQuote(ctx, symbol, block)
	if liveErr == nil {
		return quote, nil
	}

	cached, err := o.cache.PriceCache(symbol)
	if err != nil {
		return Quote{}, errors.Join(liveErr, err)
	}
	if cached == nil {
		return Quote{}, fmt.Errorf("%w: %s has no cached price: %w", ErrPriceUnavailable, symbol, liveErr)
	}
	if cached.Round+1 < minRound {
		return Quote{}, fmt.Errorf("%w: cached %s price is for round %d but events reference round %d: %w",
			ErrPriceUnavailable, symbol, cached.Round, minRound, liveErr)
	}
	o.log.Warn("live price unavailable, using cached price", "asset", symbol, "round", cached.Round, "err", liveErr)
	return Quote{Asset: symbol, PricePerShare: cached.PricePerShare, Round: cached.Round, Source: SourceCache}, nil
}

func (o *Oracle) liveQuote(ctx context.Context, symbol string, block uint64) (Quote, error) {
	at := new(big.Int).SetUint64(block)
	round, err := o.CurrentRound(ctx, symbol, at)
	if err != nil {
		return Quote{}, err
	}
	if round == 0 {
		return Quote{}, fmt.Errorf("%w: %s has no finalized round at block %d", ErrPriceUnavailable, symbol, block)
	}
	pps, err := o.PricePerShare(ctx, symbol, round-1)
	if err != nil {
		return Quote{}, err
	}
	if err := o.cache.StorePriceCache(reference.PriceCache{
		Asset:         symbol,
		Round:         round - 1,
		PricePerShare: pps,
		BlockNumber:   block,
	}); err != nil {
		o.log.Error("failed to store price cache", "asset", symbol, "err", err)
	}
	return Quote{Asset: symbol, PricePerShare: pps, Round: round - 1, Source: SourceLive}, nil
}
