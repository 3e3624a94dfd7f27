package integration

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/wjorgensen/StreamDroplets/database/balance"
)

// WithinTolerance reports whether next differs from prev by at most tol,
// relative to prev. A zero prev is never within tolerance.
func WithinTolerance(prev, next *big.Int, tol decimal.Decimal) bool {
	if prev == nil || prev.Sign() == 0 || next == nil {
		return false
	}
	old := decimal.NewFromBigInt(prev, 0)
	diff := decimal.NewFromBigInt(next, 0).Sub(old).Abs()
	return diff.Div(old).LessThanOrEqual(tol)
}

// valuer computes the underlying value of one position. ok is false when
// the position cannot be priced this cycle.
type valuer func(row balance.IntegrationBalance) (value *big.Int, ok bool)

// revalue rewrites the underlying value of rows whose value moved beyond the
// tolerance or whose staleness changed.
func (b *base) revalue(rows []balance.IntegrationBalance, value valuer) error {
	var changed []balance.IntegrationBalance
	var stale, skipped int
	for _, row := range rows {
		next, ok := value(row)
		if !ok {
			if !row.ValuationStale {
				row.ValuationStale = true
				changed = append(changed, row)
			}
			stale++
			continue
		}
		if !row.ValuationStale && WithinTolerance(row.Underlying, next, b.cfg.Tolerance) {
			skipped++
			continue
		}
		row.Underlying = next
		row.ValuationStale = false
		changed = append(changed, row)
	}
	if len(changed) > 0 {
		if err := b.positions.UpdateIntegrationValuations(changed); err != nil {
			return fmt.Errorf("failed to update %s valuations: %w", b.cfg.Name, err)
		}
	}
	b.log.Info("positions revalued", "updated", len(changed), "skipped", skipped, "stale", stale)
	return nil
}
