package bigint

import "math/big"

var (
	Zero = big.NewInt(0)
	One  = big.NewInt(1)
)

// Clone returns a copy of n, treating nil as zero.
func Clone(n *big.Int) *big.Int {
	if n == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(n)
}

// Abs returns |n| as a new value.
func Abs(n *big.Int) *big.Int {
	if n == nil {
		return new(big.Int)
	}
	return new(big.Int).Abs(n)
}

func IsZero(n *big.Int) bool {
	return n == nil || n.Sign() == 0
}

// Pow10 returns 10^exp.
func Pow10(exp uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

// MulDiv returns floor(a * b / c) for non-negative operands. Go's Quo truncates
// toward zero, which is a floor for the non-negative case.
func MulDiv(a, b, c *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, c)
}

// Equal compares two possibly-nil values, treating nil as zero.
func Equal(a, b *big.Int) bool {
	if a == nil {
		a = Zero
	}
	if b == nil {
		b = Zero
	}
	return a.Cmp(b) == 0
}
