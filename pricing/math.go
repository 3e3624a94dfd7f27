package pricing

import (
	"math/big"

	"github.com/wjorgensen/StreamDroplets/common/bigint"
)

// SharesForUnderlying returns floor(underlying * 10^scale / pps).
func SharesForUnderlying(underlying, pps *big.Int, scale uint8) *big.Int {
	return bigint.MulDiv(bigint.Abs(underlying), bigint.Pow10(scale), pps)
}

// UnderlyingForShares returns floor(shares * pps / 10^scale).
func UnderlyingForShares(shares, pps *big.Int, scale uint8) *big.Int {
	return bigint.MulDiv(bigint.Abs(shares), pps, bigint.Pow10(scale))
}
