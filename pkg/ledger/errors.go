package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrAccountNotFound         = errors.New("account not found")
	ErrOrderNotFound           = errors.New("order not found")
	ErrFundingRequestNotFound  = errors.New("funding request not found")
	ErrFundingRequestClosed    = errors.New("funding request closed")
	ErrConcurrencyConflict     = errors.New("concurrency conflict")
	ErrLedgerMismatch          = errors.New("ledger mismatch")
	ErrInvalidAccountID        = errors.New("invalid account id")
	ErrInvalidUserID           = errors.New("invalid user id")
	ErrInvalidServiceID        = errors.New("invalid service id")
	ErrInvalidEntryID          = errors.New("invalid entry id")
	ErrInvalidOrderID          = errors.New("invalid order id")
	ErrInvalidFundingRequestID = errors.New("invalid funding request id")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidDelta            = errors.New("invalid delta")
	ErrInvalidQuantity         = errors.New("invalid quantity")
	ErrInvalidDepositorName    = errors.New("invalid depositor name")
	ErrInvalidLink             = errors.New("invalid link")
	ErrInvalidEntryType        = errors.New("invalid entry type")
	ErrInvalidEntryRelation    = errors.New("invalid entry relation")
	ErrInvalidOrderStatus      = errors.New("invalid order status")
	ErrInvalidOrderTransition  = errors.New("invalid order transition")
	ErrInvalidFundingStatus    = errors.New("invalid funding request status")
	ErrInvalidMetadataJSON     = errors.New("invalid metadata json")
	ErrInvalidServiceConfig    = errors.New("invalid service config")
	ErrInvalidBalance          = errors.New("invalid balance")
	ErrInvalidListLimit        = errors.New("invalid list limit")
)

var validationErrors = []error{
	ErrInvalidAccountID,
	ErrInvalidUserID,
	ErrInvalidServiceID,
	ErrInvalidEntryID,
	ErrInvalidOrderID,
	ErrInvalidFundingRequestID,
	ErrInvalidAmount,
	ErrInvalidDelta,
	ErrInvalidQuantity,
	ErrInvalidDepositorName,
	ErrInvalidLink,
	ErrInvalidEntryType,
	ErrInvalidEntryRelation,
	ErrInvalidOrderStatus,
	ErrInvalidFundingStatus,
	ErrInvalidMetadataJSON,
	ErrInvalidListLimit,
}

// IsValidationError reports whether err was rejected before any mutation because of malformed input.
func IsValidationError(err error) bool {
	for _, candidate := range validationErrors {
		if errors.Is(err, candidate) {
			return true
		}
	}
	return false
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
