package ledger

import (
	"context"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation        string
	AccountID        AccountID
	Amount           Points
	EntryType        EntryType
	OrderID          OrderID
	FundingRequestID FundingRequestID
	Status           string
	Error            error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
// The option may be given several times; every logger receives every entry.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		if logger != nil {
			service.loggers = append(service.loggers, logger)
		}
	}
}

// WithMatchingWindow overrides how long a pending funding request stays eligible for reconciliation.
func WithMatchingWindow(window time.Duration) ServiceOption {
	return func(service *Service) {
		service.matchingWindow = window
	}
}
