package pgstore

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/pointsledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/pointsledger/pkg/ledger"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testDatabaseURLEnv = "POINTSD_TEST_DATABASE_URL"

func newTestService(test *testing.T) (*ledger.Service, *Store) {
	test.Helper()
	databaseURL := os.Getenv(testDatabaseURLEnv)
	if databaseURL == "" {
		test.Skipf("%s not set; skipping postgres integration test", testDatabaseURLEnv)
	}
	ctx := context.Background()

	gormDB, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(test, err)
	require.NoError(test, gormstore.AutoMigrate(gormDB))
	require.NoError(test, gormDB.Exec("truncate table ledger_entries, orders, funding_requests, accounts restart identity").Error)
	sqlDB, err := gormDB.DB()
	require.NoError(test, err)
	require.NoError(test, sqlDB.Close())

	pool, err := pgxpool.New(ctx, databaseURL)
	require.NoError(test, err)
	test.Cleanup(pool.Close)

	store := New(pool)
	service, err := ledger.NewService(store, func() int64 { return time.Now().UTC().Unix() })
	require.NoError(test, err)
	return service, store
}

func TestPostgresFundingOrderRoundTrip(test *testing.T) {
	service, _ := newTestService(test)
	ctx := context.Background()

	userID, err := ledger.NewUserID("pg-user-lee")
	require.NoError(test, err)
	account, err := service.OpenAccount(ctx, userID)
	require.NoError(test, err)
	again, err := service.OpenAccount(ctx, userID)
	require.NoError(test, err)
	require.Equal(test, account.AccountID, again.AccountID)

	amount, err := ledger.NewPositivePoints(10000)
	require.NoError(test, err)
	depositorName, err := ledger.NewDepositorName("Lee")
	require.NoError(test, err)
	request, err := service.CreateFundingRequest(ctx, account.AccountID, amount, depositorName)
	require.NoError(test, err)

	notification := ledger.DepositNotification{
		From: "+15550100",
		Body: strings.Join([]string{"[Bank Alert]", "Deposit", "10/14 09:12", "Lee", "Checking", "10,000"}, "\n"),
	}
	result, err := service.Reconcile(ctx, notification)
	require.NoError(test, err)
	require.Equal(test, ledger.ReconciliationCredited, result.Status)
	require.Equal(test, request.FundingRequestID, result.FundingRequestID)

	replay, err := service.Reconcile(ctx, notification)
	require.NoError(test, err)
	require.Equal(test, ledger.ReconciliationNoMatch, replay.Status)

	serviceID, err := ledger.NewServiceID("likes-basic")
	require.NoError(test, err)
	unitPrice, err := ledger.NewPositivePoints(4000)
	require.NoError(test, err)
	receipt, err := service.PlaceOrder(ctx, ledger.OrderRequest{
		AccountID: account.AccountID,
		ServiceID: serviceID,
		Quantity:  1,
		UnitPrice: unitPrice,
		Link:      "https://example.com/post/1",
	})
	require.NoError(test, err)
	require.Equal(test, ledger.Points(6000), receipt.NewBalance)

	entries, err := service.ListEntries(ctx, account.AccountID, 0, 10)
	require.NoError(test, err)
	require.Len(test, entries, 2)
	require.Equal(test, ledger.EntryOrderPayment, entries[0].Type)
	require.Equal(test, ledger.EntryFundingCredit, entries[1].Type)

	report, err := service.VerifyAccount(ctx, account.AccountID)
	require.NoError(test, err)
	require.True(test, report.Consistent)
}

func TestPostgresConcurrentOrders(test *testing.T) {
	service, _ := newTestService(test)
	ctx := context.Background()

	userID, err := ledger.NewUserID("pg-user-race")
	require.NoError(test, err)
	account, err := service.OpenAccount(ctx, userID)
	require.NoError(test, err)
	_, err = service.AdjustBalance(ctx, account.AccountID, ledger.Points(5000), "seed")
	require.NoError(test, err)

	serviceID, err := ledger.NewServiceID("views-basic")
	require.NoError(test, err)
	unitPrice, err := ledger.NewPositivePoints(4000)
	require.NoError(test, err)

	const attempts = 8
	results := make(chan error, attempts)
	var waitGroup sync.WaitGroup
	for index := 0; index < attempts; index++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, err := service.PlaceOrder(ctx, ledger.OrderRequest{
				AccountID: account.AccountID,
				ServiceID: serviceID,
				Quantity:  1,
				UnitPrice: unitPrice,
			})
			results <- err
		}()
	}
	waitGroup.Wait()
	close(results)

	successes := 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ledger.ErrInsufficientFunds):
		default:
			test.Fatalf("unexpected order error: %v", err)
		}
	}
	require.Equal(test, 1, successes)

	report, err := service.VerifyAccount(ctx, account.AccountID)
	require.NoError(test, err)
	require.Equal(test, ledger.Points(1000), report.Balance)
	require.True(test, report.Consistent)
}

func TestPostgresMissingRowsMapToNotFound(test *testing.T) {
	service, store := newTestService(test)
	ctx := context.Background()

	missing, err := ledger.NewAccountID("00000000-0000-0000-0000-000000000000")
	require.NoError(test, err)
	_, err = service.GetAccount(ctx, missing)
	require.ErrorIs(test, err, ledger.ErrAccountNotFound)
	_, err = store.GetOrder(ctx, ledger.OrderID(1))
	require.ErrorIs(test, err, ledger.ErrOrderNotFound)
	_, found, err := store.FindPendingFundingRequest(ctx, ledger.FundingMatchQuery{
		Amount:        ledger.PositivePoints(1),
		DepositorName: mustDepositorName(test, "Nobody"),
	})
	require.NoError(test, err)
	require.False(test, found)
}

func mustDepositorName(test *testing.T, raw string) ledger.DepositorName {
	test.Helper()
	name, err := ledger.NewDepositorName(raw)
	require.NoError(test, err)
	return name
}
