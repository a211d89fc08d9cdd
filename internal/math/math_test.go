package math_test

import (
	"errors"
	stdmath "math"
	"testing"

	fpmath "FlashLedger/internal/math"
)

func TestCheckedArithmetic(t *testing.T) {
	tests := []struct {
		name    string
		op      func(a, b uint64) (uint64, error)
		a, b    uint64
		want    uint64
		wantErr bool
	}{
		{name: "add", op: fpmath.CheckedAdd, a: 2, b: 3, want: 5},
		{name: "add max", op: fpmath.CheckedAdd, a: stdmath.MaxUint64 - 1, b: 1, want: stdmath.MaxUint64},
		{name: "add overflow", op: fpmath.CheckedAdd, a: stdmath.MaxUint64, b: 1, wantErr: true},
		{name: "sub", op: fpmath.CheckedSub, a: 10, b: 4, want: 6},
		{name: "sub to zero", op: fpmath.CheckedSub, a: 4, b: 4, want: 0},
		{name: "sub underflow", op: fpmath.CheckedSub, a: 3, b: 4, wantErr: true},
		{name: "mul", op: fpmath.CheckedMul, a: 1 << 31, b: 1 << 32, want: 1 << 63},
		{name: "mul by zero", op: fpmath.CheckedMul, a: stdmath.MaxUint64, b: 0, want: 0},
		{name: "mul overflow", op: fpmath.CheckedMul, a: 1 << 32, b: 1 << 32, wantErr: true},
		{name: "div truncates", op: fpmath.CheckedDiv, a: 7, b: 2, want: 3},
		{name: "div by zero", op: fpmath.CheckedDiv, a: 7, b: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.op(tt.a, tt.b)
			if tt.wantErr {
				if !errors.Is(err, fpmath.ErrMathOverflow) {
					t.Fatalf("expected ErrMathOverflow, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMulDiv_ChecksIntermediateProduct(t *testing.T) {
	// (2^63 * 4) / 100 would fit after division, but the product does not.
	if _, err := fpmath.MulDiv(1<<63, 4, 100); !errors.Is(err, fpmath.ErrMathOverflow) {
		t.Errorf("expected ErrMathOverflow, got %v", err)
	}

	got, err := fpmath.MulDiv(200, 150, 100)
	if err != nil || got != 300 {
		t.Errorf("MulDiv(200, 150, 100) = %d, %v; want 300", got, err)
	}
}

func TestCheckedAddInt64(t *testing.T) {
	got, err := fpmath.CheckedAddInt64(100, -30)
	if err != nil || got != 70 {
		t.Errorf("100 + -30 = %d, %v; want 70", got, err)
	}
	if _, err := fpmath.CheckedAddInt64(stdmath.MaxInt64, 1); !errors.Is(err, fpmath.ErrMathOverflow) {
		t.Errorf("max+1: expected ErrMathOverflow, got %v", err)
	}
	if _, err := fpmath.CheckedAddInt64(stdmath.MinInt64, -1); !errors.Is(err, fpmath.ErrMathOverflow) {
		t.Errorf("min-1: expected ErrMathOverflow, got %v", err)
	}
}

// ============================================================================
// Test: Settlement helpers
// ============================================================================

func TestComputeRequiredMargin(t *testing.T) {
	got, err := fpmath.ComputeRequiredMargin(200, 150)
	if err != nil || got != 300 {
		t.Errorf("margin(200, 150) = %d, %v; want 300", got, err)
	}

	// 33 * 150 / 100 = 49.5 -> 49
	got, err = fpmath.ComputeRequiredMargin(33, 150)
	if err != nil || got != 49 {
		t.Errorf("margin(33, 150) = %d, %v; want 49", got, err)
	}
}

func TestSplitPenalty_Example(t *testing.T) {
	split, err := fpmath.SplitPenalty(100, 5)
	if err != nil {
		t.Fatalf("SplitPenalty: %v", err)
	}
	want := fpmath.PenaltySplit{Penalty: 5, LiquidatorReward: 2, LiquidityPoolBonus: 3}
	if split != want {
		t.Errorf("split = %+v, want %+v", split, want)
	}
}

func TestSplitPenalty_AlwaysSumsToPenalty(t *testing.T) {
	for amount := uint64(0); amount < 500; amount += 7 {
		for rate := uint64(0); rate <= 100; rate += 3 {
			split, err := fpmath.SplitPenalty(amount, rate)
			if err != nil {
				t.Fatalf("SplitPenalty(%d, %d): %v", amount, rate, err)
			}
			if split.Penalty != amount*rate/100 {
				t.Errorf("(%d, %d): penalty %d", amount, rate, split.Penalty)
			}
			if split.LiquidatorReward != split.Penalty/2 {
				t.Errorf("(%d, %d): reward %d of penalty %d", amount, rate, split.LiquidatorReward, split.Penalty)
			}
			if split.LiquidatorReward+split.LiquidityPoolBonus != split.Penalty {
				t.Errorf("(%d, %d): %+v does not sum to penalty", amount, rate, split)
			}
		}
	}
}

func TestAggregateTrades(t *testing.T) {
	total, err := fpmath.AggregateTrades([]fpmath.Trade{
		{Leverage: 2, Amount: 10},
		{Leverage: 5, Amount: 3},
		{Leverage: 1, Amount: 0},
	})
	if err != nil || total != 35 {
		t.Errorf("total = %d, %v; want 35", total, err)
	}

	total, err = fpmath.AggregateTrades(nil)
	if err != nil || total != 0 {
		t.Errorf("empty total = %d, %v; want 0", total, err)
	}
}

func TestAggregateTrades_Overflow(t *testing.T) {
	if _, err := fpmath.AggregateTrades([]fpmath.Trade{{Leverage: 1 << 32, Amount: 1 << 32}}); !errors.Is(err, fpmath.ErrMathOverflow) {
		t.Errorf("product overflow: got %v", err)
	}

	// Each product fits; the running sum does not.
	_, err := fpmath.AggregateTrades([]fpmath.Trade{
		{Leverage: 1, Amount: stdmath.MaxUint64},
		{Leverage: 1, Amount: 1},
	})
	if !errors.Is(err, fpmath.ErrMathOverflow) {
		t.Errorf("sum overflow: got %v", err)
	}
}

func TestComputeFundingFee(t *testing.T) {
	fee, err := fpmath.ComputeFundingFee(1_000, 0)
	if err != nil || fee != 0 {
		t.Errorf("zero rate fee = %d, %v", fee, err)
	}
	if _, err := fpmath.ComputeFundingFee(stdmath.MaxUint64, 2); !errors.Is(err, fpmath.ErrMathOverflow) {
		t.Errorf("expected ErrMathOverflow, got %v", err)
	}
}
