package ledger

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapErrorKeepsSentinel(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		wrapped  error
		expected string
		sentinel error
	}{
		{
			name:     "balance check",
			wrapped:  WrapError("store", errorSubjectBalance, "update", ErrInsufficientFunds),
			expected: "store.balance.update: insufficient funds",
			sentinel: ErrInsufficientFunds,
		},
		{
			name:     "order transition",
			wrapped:  WrapError(errorOperationService, errorSubjectOrder, errorCodeInvalidTransition, fmt.Errorf("%w: Completed -> Pending", ErrInvalidOrderTransition)),
			expected: "service.order.invalid_transition: invalid order transition: Completed -> Pending",
			sentinel: ErrInvalidOrderTransition,
		},
		{
			name:     "lost race",
			wrapped:  WrapError("store", "order", "update_status", ErrConcurrencyConflict),
			expected: "store.order.update_status: concurrency conflict",
			sentinel: ErrConcurrencyConflict,
		},
	}
	for _, testCase := range testCases {
		if testCase.wrapped.Error() != testCase.expected {
			test.Fatalf("%s: expected %q, got %q", testCase.name, testCase.expected, testCase.wrapped.Error())
		}
		if !errors.Is(testCase.wrapped, testCase.sentinel) {
			test.Fatalf("%s: expected errors.Is to reach %v", testCase.name, testCase.sentinel)
		}
		var operationError OperationError
		if !errors.As(testCase.wrapped, &operationError) {
			test.Fatalf("%s: expected OperationError, got %T", testCase.name, testCase.wrapped)
		}
		if operationError.Code() == "" {
			test.Fatalf("%s: expected a stable code", testCase.name)
		}
	}
}

func TestWrapErrorNilAndValidation(test *testing.T) {
	test.Parallel()
	if WrapError("store", errorSubjectBalance, "update", nil) != nil {
		test.Fatalf("wrapping nil must stay nil")
	}
	if !IsValidationError(WrapError(errorOperationService, "funding", "validate", ErrInvalidDepositorName)) {
		test.Fatalf("wrapped validation errors stay validation errors")
	}
	if IsValidationError(WrapError("store", errorSubjectBalance, "update", ErrInsufficientFunds)) {
		test.Fatalf("insufficient funds is a business error")
	}
}
