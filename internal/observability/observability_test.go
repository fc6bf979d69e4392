package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/pointsledger/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func mustAccountID(test *testing.T, raw string) ledger.AccountID {
	test.Helper()
	accountID, err := ledger.NewAccountID(raw)
	require.NoError(test, err)
	return accountID
}

func TestZapOperationLoggerLevels(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name          string
		entry         ledger.OperationLog
		expectedLevel zapcore.Level
	}{
		{
			name:          "success",
			entry:         ledger.OperationLog{Operation: "place_order", Status: "ok", Amount: -4000, OrderID: 7},
			expectedLevel: zapcore.InfoLevel,
		},
		{
			name:          "insufficient funds",
			entry:         ledger.OperationLog{Operation: "place_order", Status: "error", Error: ledger.ErrInsufficientFunds},
			expectedLevel: zapcore.WarnLevel,
		},
		{
			name:          "validation",
			entry:         ledger.OperationLog{Operation: "adjust_balance", Status: "error", Error: ledger.ErrInvalidDelta},
			expectedLevel: zapcore.WarnLevel,
		},
		{
			name:          "lost race",
			entry:         ledger.OperationLog{Operation: "advance_order", Status: ledger.OperationStatusAlreadyHandled, OrderID: 9},
			expectedLevel: zapcore.WarnLevel,
		},
		{
			name:          "storage",
			entry:         ledger.OperationLog{Operation: "reconcile", Status: "error", Error: errors.New("connection reset")},
			expectedLevel: zapcore.ErrorLevel,
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			core, recorded := observer.New(zapcore.DebugLevel)
			operationLogger := NewZapOperationLogger(zap.New(core))
			testCase.entry.AccountID = mustAccountID(test, "acct-1")
			operationLogger.LogOperation(context.Background(), testCase.entry)

			entries := recorded.All()
			require.Len(test, entries, 1)
			require.Equal(test, testCase.expectedLevel, entries[0].Level)
			fields := entries[0].ContextMap()
			require.Equal(test, testCase.entry.Operation, fields["operation"])
			require.Equal(test, "acct-1", fields["account_id"])
		})
	}
}

func TestZapOperationLoggerOmitsEmptyFields(test *testing.T) {
	test.Parallel()
	core, recorded := observer.New(zapcore.DebugLevel)
	NewZapOperationLogger(zap.New(core)).LogOperation(context.Background(), ledger.OperationLog{
		Operation:        "reconcile",
		Status:           "credited",
		Amount:           50000,
		EntryType:        ledger.EntryFundingCredit,
		FundingRequestID: 12,
	})
	fields := recorded.All()[0].ContextMap()
	require.NotContains(test, fields, "order_id")
	require.NotContains(test, fields, "account_id")
	require.Equal(test, int64(12), fields["funding_request_id"])
	require.Equal(test, "funding_credit", fields["entry_type"])
}

func TestMetricsCountOperationsAndPoints(test *testing.T) {
	test.Parallel()
	metrics := NewMetrics(prometheus.NewRegistry())
	ctx := context.Background()

	metrics.LogOperation(ctx, ledger.OperationLog{Operation: "reconcile", Status: "credited", Amount: 10000, EntryType: ledger.EntryFundingCredit})
	metrics.LogOperation(ctx, ledger.OperationLog{Operation: "reconcile", Status: "no_match", Amount: 49000, EntryType: ledger.EntryFundingCredit})
	metrics.LogOperation(ctx, ledger.OperationLog{Operation: "place_order", Status: "ok", Amount: -4000, EntryType: ledger.EntryOrderPayment})
	metrics.LogOperation(ctx, ledger.OperationLog{Operation: "place_order", Status: "error", Amount: -1, EntryType: ledger.EntryOrderPayment, Error: ledger.ErrInsufficientFunds})

	require.Equal(test, float64(1), testutil.ToFloat64(metrics.operations.WithLabelValues("reconcile", "credited")))
	require.Equal(test, float64(1), testutil.ToFloat64(metrics.operations.WithLabelValues("reconcile", "no_match")))
	require.Equal(test, float64(1), testutil.ToFloat64(metrics.operations.WithLabelValues("place_order", "error")))
	require.Equal(test, float64(10000), testutil.ToFloat64(metrics.pointsMoved.WithLabelValues("funding_credit", directionCredit)))
	require.Equal(test, float64(4000), testutil.ToFloat64(metrics.pointsMoved.WithLabelValues("order_payment", directionDebit)))
}

func TestMetricsObserveHTTP(test *testing.T) {
	test.Parallel()
	metrics := NewMetrics(prometheus.NewRegistry())
	metrics.ObserveHTTP("POST", "/api/orders", 201, 15*time.Millisecond)
	metrics.ObserveHTTP("POST", "/api/orders", 409, 3*time.Millisecond)

	require.Equal(test, float64(1), testutil.ToFloat64(metrics.httpRequests.WithLabelValues("POST", "/api/orders", "201")))
	require.Equal(test, 1, testutil.CollectAndCount(metrics.httpLatency))
}
