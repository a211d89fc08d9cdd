package math

import (
	"errors"

	"github.com/holiman/uint256"
)

// ErrMathOverflow covers every checked-arithmetic failure: overflow,
// underflow and division without a valid quotient.
var ErrMathOverflow = errors.New("math operation overflowed")

// CheckedAdd returns a + b or ErrMathOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow || !sum.IsUint64() {
		return 0, ErrMathOverflow
	}
	return sum.Uint64(), nil
}

// CheckedSub returns a - b or ErrMathOverflow when b > a.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrMathOverflow
	}
	return a - b, nil
}

// CheckedMul returns a * b or ErrMathOverflow.
// The product is formed in 256-bit space and must fit back into 64 bits.
func CheckedMul(a, b uint64) (uint64, error) {
	product, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow || !product.IsUint64() {
		return 0, ErrMathOverflow
	}
	return product.Uint64(), nil
}

// CheckedDiv returns a / b truncated toward zero, or ErrMathOverflow when b == 0.
func CheckedDiv(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, ErrMathOverflow
	}
	return a / b, nil
}

// MulDiv computes a * b / d. The intermediate product is checked against the
// 64-bit domain before dividing, so a product that only fits after division
// still fails.
func MulDiv(a, b, d uint64) (uint64, error) {
	product, err := CheckedMul(a, b)
	if err != nil {
		return 0, err
	}
	return CheckedDiv(product, d)
}

// CheckedAddInt64 returns a + b for signed timestamps/durations.
func CheckedAddInt64(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrMathOverflow
	}
	return sum, nil
}
