package server

import (
	"context"
	"errors"

	"FlashLedger/internal/state"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code maps a ledger error to a gRPC code.
func Code(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, state.ErrUnauthorized):
		return codes.PermissionDenied
	case errors.Is(err, state.ErrStakeTimeLock),
		errors.Is(err, state.ErrInsufficientFundsForFee),
		errors.Is(err, state.ErrMarginSufficient),
		errors.Is(err, state.ErrInsufficientLiquidity),
		errors.Is(err, state.ErrNotInitialized):
		return codes.FailedPrecondition
	case errors.Is(err, state.ErrInvalidLiquidationAmount),
		errors.Is(err, state.ErrInvalidAmount),
		errors.Is(err, state.ErrInvalidLayout):
		return codes.InvalidArgument
	case errors.Is(err, state.ErrAccountNotFound):
		return codes.NotFound
	case errors.Is(err, state.ErrCapacityExceeded):
		return codes.ResourceExhausted
	case errors.Is(err, state.ErrMathOverflow):
		return codes.OutOfRange
	case errors.Is(err, state.ErrAlreadyInitialized):
		return codes.AlreadyExists
	case state.Retryable(err):
		return codes.Unavailable
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	}
	if s, ok := status.FromError(err); ok {
		return s.Code()
	}
	return codes.Internal
}

// toStatus converts err to a gRPC status error. The message carries the
// stable reason label so clients can branch without parsing text.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Errorf(Code(err), "%s: %v", state.Reason(err), err)
}
