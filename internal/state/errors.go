package state

import (
	"errors"

	fpmath "FlashLedger/internal/math"
)

// Ledger error taxonomy. Every error aborts the current command with no state
// change and is returned to the caller as-is.
var (
	ErrMathOverflow             = fpmath.ErrMathOverflow
	ErrUnauthorized             = errors.New("unauthorized operation")
	ErrStakeTimeLock            = errors.New("stake duration has not been met")
	ErrInsufficientFundsForFee  = errors.New("insufficient staked funds for execution fee")
	ErrMarginSufficient         = errors.New("margin is sufficient; liquidation not allowed")
	ErrInvalidLiquidationAmount = errors.New("invalid liquidation amount")
	ErrInsufficientLiquidity    = errors.New("insufficient liquidity for hedging")
	ErrCapacityExceeded         = errors.New("bounded collection capacity exceeded")

	ErrNotInitialized     = errors.New("global ledger not initialized")
	ErrAlreadyInitialized = errors.New("global ledger already initialized")
	ErrAccountNotFound    = errors.New("trader account not found")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrTransferFailed     = errors.New("custody transfer failed")
	ErrInvalidLayout      = errors.New("invalid record layout")
	ErrDedupUnavailable   = errors.New("idempotency lookup unavailable")
)

// Retryable reports whether err is a transient failure after which the same
// command may be submitted again unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransferFailed) || errors.Is(err, ErrDedupUnavailable)
}

// Reason returns a short, stable label for an error, used as a metrics label
// and in rejection logs.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMathOverflow):
		return "math_overflow"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrStakeTimeLock):
		return "stake_time_lock"
	case errors.Is(err, ErrInsufficientFundsForFee):
		return "insufficient_funds_for_fee"
	case errors.Is(err, ErrMarginSufficient):
		return "margin_sufficient"
	case errors.Is(err, ErrInvalidLiquidationAmount):
		return "invalid_liquidation_amount"
	case errors.Is(err, ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, ErrAlreadyInitialized):
		return "already_initialized"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrInvalidLayout):
		return "invalid_layout"
	case errors.Is(err, ErrDedupUnavailable):
		return "dedup_unavailable"
	default:
		return "internal"
	}
}
