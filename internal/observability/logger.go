package observability

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/pointsledger/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const operationLogMessage = "ledger operation"

// ZapOperationLogger writes every ledger operation as one structured log line.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wraps logger; a nil logger discards output.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger}
}

func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.AccountID.String() != "" {
		fields = append(fields, zap.String("account_id", entry.AccountID.String()))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount", entry.Amount.Int64()))
	}
	if entry.EntryType != "" {
		fields = append(fields, zap.String("entry_type", entry.EntryType.String()))
	}
	if entry.OrderID > 0 {
		fields = append(fields, zap.Int64("order_id", entry.OrderID.Int64()))
	}
	if entry.FundingRequestID > 0 {
		fields = append(fields, zap.Int64("funding_request_id", entry.FundingRequestID.Int64()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
	}
	operationLogger.logger.Log(levelFor(entry), operationLogMessage, fields...)
}

// levelFor keeps rejected requests and lost races at warn so error level stays reserved for storage failures.
func levelFor(entry ledger.OperationLog) zapcore.Level {
	err := entry.Error
	switch {
	case err == nil && entry.Status == ledger.OperationStatusAlreadyHandled:
		return zapcore.WarnLevel
	case err == nil:
		return zapcore.InfoLevel
	case ledger.IsValidationError(err),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, ledger.ErrOrderNotFound),
		errors.Is(err, ledger.ErrFundingRequestNotFound),
		errors.Is(err, ledger.ErrFundingRequestClosed),
		errors.Is(err, ledger.ErrInvalidOrderTransition):
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
