package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func mustCreateFundingRequest(test *testing.T, service *Service, accountID AccountID, amount int64, name string) FundingRequest {
	test.Helper()
	request, err := service.CreateFundingRequest(context.Background(), accountID, mustPositivePoints(test, amount), mustDepositorName(test, name))
	if err != nil {
		test.Fatalf("create funding request: %v", err)
	}
	return request
}

func notification(name string, amount string) DepositNotification {
	return DepositNotification{
		From:       "+15550100",
		Body:       depositBody(name, amount),
		ReceivedAt: time.Date(2025, 10, 14, 9, 12, 0, 0, time.UTC),
	}
}

func TestReconcileCreditsMatchingRequest(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	account := store.seedAccount(test, "user-lee", 0)
	service, clock := mustNewService(test, store)
	request := mustCreateFundingRequest(test, service, account.AccountID, 30000, "Lee Minsu")

	clock.now += 600
	result, err := service.Reconcile(context.Background(), notification("Lee Minsu", "30,000"))
	if err != nil {
		test.Fatalf("reconcile: %v", err)
	}
	if result.Status != ReconciliationCredited || result.FundingRequestID != request.FundingRequestID || result.NewBalance != 30000 {
		test.Fatalf("unexpected result: %+v", result)
	}
	if result.Entry.Type != EntryFundingCredit || result.Entry.RelatedFundingRequestID == nil || *result.Entry.RelatedFundingRequestID != request.FundingRequestID {
		test.Fatalf("unexpected entry: %+v", result.Entry)
	}

	stored, err := service.GetFundingRequest(context.Background(), request.FundingRequestID)
	if err != nil {
		test.Fatalf("get funding request: %v", err)
	}
	if stored.Status != FundingStatusCompleted || stored.ConfirmedUnixUTC != clock.now {
		test.Fatalf("unexpected stored request: %+v", stored)
	}
	var trace map[string]string
	if err := json.Unmarshal([]byte(stored.MatchedNotification), &trace); err != nil {
		test.Fatalf("matched notification is not json: %v", err)
	}
	if trace["from"] != "+15550100" || trace["received_at"] != "2025-10-14T09:12:00Z" {
		test.Fatalf("unexpected trace: %v", trace)
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(result.Entry.Metadata.String()), &metadata); err != nil {
		test.Fatalf("metadata: %v", err)
	}
	if metadata["sender"] != "+15550100" || metadata["depositor_name"] != "Lee Minsu" {
		test.Fatalf("unexpected metadata: %v", metadata)
	}
}

func TestReconcileReplayCreditsOnce(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	account := store.seedAccount(test, "user-replay", 0)
	service, _ := mustNewService(test, store)
	mustCreateFundingRequest(test, service, account.AccountID, 10000, "Kim Jisoo")

	first, err := service.Reconcile(context.Background(), notification("Kim Jisoo", "10,000"))
	if err != nil || first.Status != ReconciliationCredited {
		test.Fatalf("first delivery: %+v (%v)", first, err)
	}
	second, err := service.Reconcile(context.Background(), notification("Kim Jisoo", "10,000"))
	if err != nil {
		test.Fatalf("second delivery: %v", err)
	}
	if second.Status != ReconciliationNoMatch {
		test.Fatalf("expected no_match on replay, got %s", second.Status)
	}
	if store.mustAccount(test, account.AccountID).Balance != 10000 {
		test.Fatalf("replay credited twice: %d", store.mustAccount(test, account.AccountID).Balance)
	}
}

func TestReconcileNoMatchCases(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	account := store.seedAccount(test, "user-kim", 0)
	service, _ := mustNewService(test, store)
	mustCreateFundingRequest(test, service, account.AccountID, 50000, "Kim Jisoo")

	testCases := []struct {
		name   string
		amount string
		sender string
	}{
		{name: "short amount", amount: "49,000", sender: "Kim Jisoo"},
		{name: "wrong name", amount: "50,000", sender: "Kim Jisu"},
		{name: "name differs by case", amount: "50,000", sender: "kim jisoo"},
	}
	for _, testCase := range testCases {
		result, err := service.Reconcile(context.Background(), notification(testCase.sender, testCase.amount))
		if err != nil {
			test.Fatalf("%s: %v", testCase.name, err)
		}
		if result.Status != ReconciliationNoMatch {
			test.Fatalf("%s: expected no_match, got %s", testCase.name, result.Status)
		}
	}
	if store.mustAccount(test, account.AccountID).Balance != 0 {
		test.Fatalf("unmatched deposits credited the account")
	}
}

func TestReconcileIgnoresUnrelatedNotifications(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service, _ := mustNewService(test, store)

	bodies := []string{
		"",
		"Your verification code is 123456",
		"[Bank Alert]\nDeposit received\n10/14 09:12\nLee Minsu\nChecking ***-123\nthirty thousand",
		"[Bank Alert]\nDeposit received\n10/14 09:12\nLee Minsu\nChecking ***-123\n-500",
	}
	for _, body := range bodies {
		result, err := service.Reconcile(context.Background(), DepositNotification{From: "x", Body: body})
		if err != nil {
			test.Fatalf("body %q: %v", body, err)
		}
		if result.Status != ReconciliationIgnored {
			test.Fatalf("body %q: expected ignored, got %s", body, result.Status)
		}
	}
}

func TestReconcilePrefersNewestRequest(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	first := store.seedAccount(test, "user-first", 0)
	second := store.seedAccount(test, "user-second", 0)
	service, clock := mustNewService(test, store)
	older := mustCreateFundingRequest(test, service, first.AccountID, 7000, "Park Minji")
	clock.now += 30
	newer := mustCreateFundingRequest(test, service, second.AccountID, 7000, "Park Minji")

	result, err := service.Reconcile(context.Background(), notification("Park Minji", "7,000"))
	if err != nil {
		test.Fatalf("reconcile: %v", err)
	}
	if result.FundingRequestID != newer.FundingRequestID || result.AccountID != second.AccountID {
		test.Fatalf("expected newest request %d, got %+v", newer.FundingRequestID, result)
	}
	result, err = service.Reconcile(context.Background(), notification("Park Minji", "7,000"))
	if err != nil {
		test.Fatalf("reconcile duplicate: %v", err)
	}
	if result.FundingRequestID != older.FundingRequestID {
		test.Fatalf("expected older request on second deposit, got %+v", result)
	}
}

func TestReconcileSkipsRequestsOutsideWindow(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	account := store.seedAccount(test, "user-late", 0)
	service, clock := mustNewService(test, store, WithMatchingWindow(time.Hour))
	request := mustCreateFundingRequest(test, service, account.AccountID, 9000, "Choi Yuna")

	clock.now += int64(time.Hour/time.Second) + 1
	result, err := service.Reconcile(context.Background(), notification("Choi Yuna", "9,000"))
	if err != nil {
		test.Fatalf("reconcile: %v", err)
	}
	if result.Status != ReconciliationNoMatch {
		test.Fatalf("expected no_match, got %s", result.Status)
	}
	stored, err := service.GetFundingRequest(context.Background(), request.FundingRequestID)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if stored.Status != FundingStatusPending || !stored.Expired(clock.now, service.MatchingWindow()) {
		test.Fatalf("expected pending expired request, got %+v", stored)
	}
}

// claimLostStore reports the funding request as pending but loses the conditional update, as a
// concurrent delivery would.
type claimLostStore struct {
	*stubStore
}

func (store claimLostStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return store.stubStore.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		return fn(ctx, store)
	})
}

func (store claimLostStore) UpdateFundingRequestStatus(ctx context.Context, transition FundingTransition) error {
	return ErrFundingRequestClosed
}

func TestReconcileReportsAlreadyHandledWhenClaimIsLost(test *testing.T) {
	test.Parallel()
	base := newStubStore()
	account := base.seedAccount(test, "user-race", 0)
	setup, _ := mustNewService(test, base)
	mustCreateFundingRequest(test, setup, account.AccountID, 4000, "Jung Hoseok")

	service, _ := mustNewService(test, claimLostStore{stubStore: base})
	result, err := service.Reconcile(context.Background(), notification("Jung Hoseok", "4,000"))
	if err != nil {
		test.Fatalf("reconcile: %v", err)
	}
	if result.Status != ReconciliationAlreadyHandled {
		test.Fatalf("expected already_handled, got %s", result.Status)
	}
	if base.mustAccount(test, account.AccountID).Balance != 0 {
		test.Fatalf("lost claim credited the account")
	}
}

func TestReconcileRollsBackClaimWhenCreditFails(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	account := store.seedAccount(test, "user-credit-fails", 0)
	service, _ := mustNewService(test, store)
	request := mustCreateFundingRequest(test, service, account.AccountID, 2500, "Han Jimin")
	storageFailure := errors.New("connection reset")
	store.insertEntryErr = storageFailure

	if _, err := service.Reconcile(context.Background(), notification("Han Jimin", "2,500")); !errors.Is(err, storageFailure) {
		test.Fatalf("expected storage failure, got %v", err)
	}
	stored, err := service.GetFundingRequest(context.Background(), request.FundingRequestID)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if stored.Status != FundingStatusPending {
		test.Fatalf("request must stay pending when the credit fails, got %s", stored.Status)
	}

	store.insertEntryErr = nil
	result, err := service.Reconcile(context.Background(), notification("Han Jimin", "2,500"))
	if err != nil || result.Status != ReconciliationCredited {
		test.Fatalf("redelivery should credit: %+v (%v)", result, err)
	}
}
