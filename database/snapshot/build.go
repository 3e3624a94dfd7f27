package snapshot

import (
	"math/big"
	"sort"
	"time"

	"github.com/wjorgensen/StreamDroplets/database/balance"
	"github.com/wjorgensen/StreamDroplets/database/utils"
)

// Valuation is the price an asset was last revalued at.
type Valuation struct {
	PricePerShare *big.Int
	Round         uint64
	Stale         bool
}

// Build materializes the snapshot rows for date from the committed balance
// tables. Every asset in assets gets a daily row, holders or not.
func Build(date time.Time, assets []string, valuations map[string]Valuation, shares []balance.ShareBalance, positions []balance.IntegrationBalance) ([]DailySnapshot, []UserDailySnapshot) {
	day := utils.Day(date)

	totals := make(map[string]*DailySnapshot, len(assets))
	for _, asset := range assets {
		totals[asset] = &DailySnapshot{
			Date:            day,
			Asset:           asset,
			TotalShares:     new(big.Int),
			TotalUnderlying: new(big.Int),
		}
	}

	users := make([]UserDailySnapshot, 0, len(shares)+len(positions))
	for _, b := range shares {
		if b.Shares == nil || b.Shares.Sign() == 0 {
			continue
		}
		underlying := valueOrZero(b.Underlying)
		total, ok := totals[b.Asset]
		if !ok {
			total = &DailySnapshot{Date: day, Asset: b.Asset, TotalShares: new(big.Int), TotalUnderlying: new(big.Int)}
			totals[b.Asset] = total
		}
		total.TotalShares.Add(total.TotalShares, b.Shares)
		total.TotalUnderlying.Add(total.TotalUnderlying, underlying)
		total.Holders++

		users = append(users, UserDailySnapshot{
			Date:       day,
			Address:    b.Address,
			Asset:      b.Asset,
			Shares:     new(big.Int).Set(b.Shares),
			Underlying: underlying,
		})
	}

	for _, p := range positions {
		if p.Shares == nil || p.Shares.Sign() == 0 {
			continue
		}
		users = append(users, UserDailySnapshot{
			Date:       day,
			Address:    p.Address,
			Asset:      p.Asset,
			Protocol:   p.Protocol,
			Contract:   p.Contract,
			Shares:     new(big.Int).Set(p.Shares),
			Underlying: valueOrZero(p.Underlying),
		})
	}

	daily := make([]DailySnapshot, 0, len(totals))
	for asset, total := range totals {
		if v, ok := valuations[asset]; ok {
			if v.PricePerShare != nil {
				total.PricePerShare = new(big.Int).Set(v.PricePerShare)
			}
			total.ValuationRound = v.Round
			total.Stale = v.Stale
		}
		daily = append(daily, *total)
	}
	sort.Slice(daily, func(i, j int) bool { return daily[i].Asset < daily[j].Asset })
	return daily, users
}

func valueOrZero(n *big.Int) *big.Int {
	if n == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(n)
}
