package math

// PercentDenominator is the divisor for percentage-denominated rates
// (maintenance margin, liquidation penalty).
const PercentDenominator = 100

// Trade is a single (leverage, amount) leg of a batch.
type Trade struct {
	Leverage uint64 `json:"leverage"`
	Amount   uint64 `json:"amount"`
}

// ComputePositionValue returns amount * leverage, the notional added by one trade.
func ComputePositionValue(leverage, amount uint64) (uint64, error) {
	return CheckedMul(amount, leverage)
}

// AggregateTrades returns Σ amount_i * leverage_i with every multiply and every
// partial sum checked. An empty batch aggregates to zero.
func AggregateTrades(trades []Trade) (uint64, error) {
	var total uint64
	for _, t := range trades {
		value, err := ComputePositionValue(t.Leverage, t.Amount)
		if err != nil {
			return 0, err
		}
		total, err = CheckedAdd(total, value)
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}

// ComputeFundingFee returns openPosition * feeRate. No normalization is applied:
// the rate is a pre-scaled integer by deployment convention.
func ComputeFundingFee(openPosition, feeRate uint64) (uint64, error) {
	return CheckedMul(openPosition, feeRate)
}

// ComputeRequiredMargin returns openPosition * maintenanceMargin / 100,
// truncated toward zero.
func ComputeRequiredMargin(openPosition, maintenanceMargin uint64) (uint64, error) {
	return MulDiv(openPosition, maintenanceMargin, PercentDenominator)
}

// PenaltySplit is the division of a liquidation penalty.
type PenaltySplit struct {
	Penalty            uint64 `json:"penalty"`
	LiquidatorReward   uint64 `json:"liquidator_reward"`
	LiquidityPoolBonus uint64 `json:"liquidity_pool_bonus"`
}

// SplitPenalty computes penalty = amount * rate / 100, gives the liquidator
// floor(penalty / 2) and the pool the remainder, so reward + bonus == penalty.
func SplitPenalty(liquidationAmount, penaltyRate uint64) (PenaltySplit, error) {
	penalty, err := MulDiv(liquidationAmount, penaltyRate, PercentDenominator)
	if err != nil {
		return PenaltySplit{}, err
	}
	reward, err := CheckedDiv(penalty, 2)
	if err != nil {
		return PenaltySplit{}, err
	}
	bonus, err := CheckedSub(penalty, reward)
	if err != nil {
		return PenaltySplit{}, err
	}
	return PenaltySplit{
		Penalty:            penalty,
		LiquidatorReward:   reward,
		LiquidityPoolBonus: bonus,
	}, nil
}
