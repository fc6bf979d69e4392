package ledger

import (
	"context"
	"fmt"
	"sort"
	"testing"
)

// stubStore is an in-memory Store. WithTx restores the previous state when fn fails.
type stubStore struct {
	accounts         map[AccountID]Account
	accountsByUser   map[UserID]AccountID
	entries          []Entry
	orders           map[OrderID]Order
	fundingRequests  map[FundingRequestID]FundingRequest
	nextAccount      int
	nextEntryID      int64
	nextOrderID      int64
	nextFundingID    int64
	insertEntryErr   error
	insertOrderErr   error
	balanceUpdateErr error
}

func newStubStore() *stubStore {
	return &stubStore{
		accounts:        map[AccountID]Account{},
		accountsByUser:  map[UserID]AccountID{},
		orders:          map[OrderID]Order{},
		fundingRequests: map[FundingRequestID]FundingRequest{},
	}
}

type stubSnapshot struct {
	accounts        map[AccountID]Account
	accountsByUser  map[UserID]AccountID
	entries         []Entry
	orders          map[OrderID]Order
	fundingRequests map[FundingRequestID]FundingRequest
}

func (store *stubStore) snapshot() stubSnapshot {
	copied := stubSnapshot{
		accounts:        map[AccountID]Account{},
		accountsByUser:  map[UserID]AccountID{},
		entries:         append([]Entry(nil), store.entries...),
		orders:          map[OrderID]Order{},
		fundingRequests: map[FundingRequestID]FundingRequest{},
	}
	for key, value := range store.accounts {
		copied.accounts[key] = value
	}
	for key, value := range store.accountsByUser {
		copied.accountsByUser[key] = value
	}
	for key, value := range store.orders {
		copied.orders[key] = value
	}
	for key, value := range store.fundingRequests {
		copied.fundingRequests[key] = value
	}
	return copied
}

func (store *stubStore) restore(snapshot stubSnapshot) {
	store.accounts = snapshot.accounts
	store.accountsByUser = snapshot.accountsByUser
	store.entries = snapshot.entries
	store.orders = snapshot.orders
	store.fundingRequests = snapshot.fundingRequests
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	saved := store.snapshot()
	if err := fn(ctx, store); err != nil {
		store.restore(saved)
		return err
	}
	return nil
}

func (store *stubStore) GetOrCreateAccount(ctx context.Context, userID UserID) (Account, error) {
	if accountID, ok := store.accountsByUser[userID]; ok {
		return store.accounts[accountID], nil
	}
	store.nextAccount++
	account := Account{
		AccountID:      AccountID{value: fmt.Sprintf("acct-%d", store.nextAccount)},
		UserID:         userID,
		CreatedUnixUTC: 100,
	}
	store.accounts[account.AccountID] = account
	store.accountsByUser[userID] = account.AccountID
	return account, nil
}

func (store *stubStore) GetAccount(ctx context.Context, accountID AccountID) (Account, error) {
	account, ok := store.accounts[accountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (store *stubStore) LockAccount(ctx context.Context, accountID AccountID) (Account, error) {
	return store.GetAccount(ctx, accountID)
}

func (store *stubStore) UpdateAccountBalance(ctx context.Context, accountID AccountID, from Points, to Points) error {
	if store.balanceUpdateErr != nil {
		return store.balanceUpdateErr
	}
	account, ok := store.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	if account.Balance != from {
		return ErrConcurrencyConflict
	}
	if to < 0 {
		return ErrInsufficientFunds
	}
	account.Balance = to
	store.accounts[accountID] = account
	return nil
}

func (store *stubStore) InsertEntry(ctx context.Context, input EntryInput) (Entry, error) {
	if store.insertEntryErr != nil {
		return Entry{}, store.insertEntryErr
	}
	for _, existing := range store.entries {
		if input.RelatedFundingRequestID != nil && existing.RelatedFundingRequestID != nil && *existing.RelatedFundingRequestID == *input.RelatedFundingRequestID {
			return Entry{}, ErrFundingRequestClosed
		}
		if input.RelatedOrderID != nil && existing.RelatedOrderID != nil && *existing.RelatedOrderID == *input.RelatedOrderID {
			return Entry{}, ErrConcurrencyConflict
		}
	}
	store.nextEntryID++
	entry := Entry{
		EntryID:                 EntryID(store.nextEntryID),
		AccountID:               input.AccountID,
		Type:                    input.Type,
		Delta:                   input.Delta,
		RelatedOrderID:          input.RelatedOrderID,
		RelatedFundingRequestID: input.RelatedFundingRequestID,
		BalanceAfter:            input.BalanceAfter,
		Metadata:                input.Metadata,
		CreatedUnixUTC:          input.CreatedUnixUTC,
	}
	store.entries = append(store.entries, entry)
	return entry, nil
}

func (store *stubStore) ListEntries(ctx context.Context, accountID AccountID, beforeEntryID EntryID, limit int) ([]Entry, error) {
	listed := []Entry{}
	for index := len(store.entries) - 1; index >= 0 && len(listed) < limit; index-- {
		entry := store.entries[index]
		if entry.AccountID != accountID {
			continue
		}
		if beforeEntryID > 0 && entry.EntryID >= beforeEntryID {
			continue
		}
		listed = append(listed, entry)
	}
	return listed, nil
}

func (store *stubStore) SumEntryDeltas(ctx context.Context, accountID AccountID) (Points, error) {
	var sum Points
	for _, entry := range store.entries {
		if entry.AccountID == accountID {
			sum += entry.Delta
		}
	}
	return sum, nil
}

func (store *stubStore) InsertOrder(ctx context.Context, input OrderInput) (Order, error) {
	if store.insertOrderErr != nil {
		return Order{}, store.insertOrderErr
	}
	store.nextOrderID++
	order := Order{
		OrderID:        OrderID(store.nextOrderID),
		AccountID:      input.AccountID,
		ServiceID:      input.ServiceID,
		Quantity:       input.Quantity,
		UnitPrice:      input.UnitPrice,
		TotalPrice:     input.TotalPrice,
		Status:         OrderStatusPending,
		Link:           input.Link,
		CreatedUnixUTC: input.CreatedUnixUTC,
		UpdatedUnixUTC: input.CreatedUnixUTC,
	}
	store.orders[order.OrderID] = order
	return order, nil
}

func (store *stubStore) GetOrder(ctx context.Context, orderID OrderID) (Order, error) {
	order, ok := store.orders[orderID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (store *stubStore) ListOrders(ctx context.Context, accountID AccountID, limit int) ([]Order, error) {
	listed := []Order{}
	for _, order := range store.orders {
		if order.AccountID == accountID {
			listed = append(listed, order)
		}
	}
	sort.Slice(listed, func(left, right int) bool { return listed[left].OrderID > listed[right].OrderID })
	if len(listed) > limit {
		listed = listed[:limit]
	}
	return listed, nil
}

func (store *stubStore) UpdateOrderStatus(ctx context.Context, transition OrderTransition) error {
	order, ok := store.orders[transition.OrderID]
	if !ok {
		return ErrOrderNotFound
	}
	if order.Status != transition.From {
		return ErrConcurrencyConflict
	}
	order.Status = transition.To
	order.ProcessedQuantity = transition.ProcessedQuantity
	order.UpdatedUnixUTC = transition.UpdatedUnixUTC
	store.orders[order.OrderID] = order
	return nil
}

func (store *stubStore) InsertFundingRequest(ctx context.Context, input FundingRequestInput) (FundingRequest, error) {
	store.nextFundingID++
	request := FundingRequest{
		FundingRequestID: FundingRequestID(store.nextFundingID),
		AccountID:        input.AccountID,
		Amount:           input.Amount,
		DepositorName:    input.DepositorName,
		Status:           FundingStatusPending,
		RequestedUnixUTC: input.RequestedUnixUTC,
	}
	store.fundingRequests[request.FundingRequestID] = request
	return request, nil
}

func (store *stubStore) GetFundingRequest(ctx context.Context, requestID FundingRequestID) (FundingRequest, error) {
	request, ok := store.fundingRequests[requestID]
	if !ok {
		return FundingRequest{}, ErrFundingRequestNotFound
	}
	return request, nil
}

func (store *stubStore) ListFundingRequests(ctx context.Context, accountID AccountID, limit int) ([]FundingRequest, error) {
	listed := []FundingRequest{}
	for _, request := range store.fundingRequests {
		if request.AccountID == accountID {
			listed = append(listed, request)
		}
	}
	sort.Slice(listed, func(left, right int) bool { return listed[left].FundingRequestID > listed[right].FundingRequestID })
	if len(listed) > limit {
		listed = listed[:limit]
	}
	return listed, nil
}

func (store *stubStore) FindPendingFundingRequest(ctx context.Context, query FundingMatchQuery) (FundingRequest, bool, error) {
	var (
		best  FundingRequest
		found bool
	)
	for _, request := range store.fundingRequests {
		if request.Status != FundingStatusPending || request.Amount != query.Amount || request.DepositorName != query.DepositorName {
			continue
		}
		if request.RequestedUnixUTC < query.RequestedSinceUnixUTC {
			continue
		}
		newer := request.RequestedUnixUTC > best.RequestedUnixUTC ||
			(request.RequestedUnixUTC == best.RequestedUnixUTC && request.FundingRequestID > best.FundingRequestID)
		if !found || newer {
			best = request
			found = true
		}
	}
	return best, found, nil
}

func (store *stubStore) UpdateFundingRequestStatus(ctx context.Context, transition FundingTransition) error {
	request, ok := store.fundingRequests[transition.FundingRequestID]
	if !ok {
		return ErrFundingRequestNotFound
	}
	if request.Status != transition.From {
		return ErrFundingRequestClosed
	}
	request.Status = transition.To
	request.ConfirmedUnixUTC = transition.ConfirmedUnixUTC
	request.MatchedNotification = transition.MatchedNotification
	store.fundingRequests[request.FundingRequestID] = request
	return nil
}

func (store *stubStore) mustAccount(test *testing.T, accountID AccountID) Account {
	test.Helper()
	account, ok := store.accounts[accountID]
	if !ok {
		test.Fatalf("account %s not found", accountID.String())
	}
	return account
}

// seedAccount registers an account with the given balance and a matching admin entry.
func (store *stubStore) seedAccount(test *testing.T, rawUserID string, balance int64) Account {
	test.Helper()
	account, err := store.GetOrCreateAccount(context.Background(), mustUserID(test, rawUserID))
	if err != nil {
		test.Fatalf("seed account: %v", err)
	}
	if balance == 0 {
		return account
	}
	account.Balance = Points(balance)
	store.accounts[account.AccountID] = account
	store.nextEntryID++
	store.entries = append(store.entries, Entry{
		EntryID:        EntryID(store.nextEntryID),
		AccountID:      account.AccountID,
		Type:           EntryAdminAdjustment,
		Delta:          Points(balance),
		BalanceAfter:   Points(balance),
		CreatedUnixUTC: 100,
	})
	return account
}

type testClock struct {
	now int64
}

func (clock *testClock) Now() int64 {
	return clock.now
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) (*Service, *testClock) {
	test.Helper()
	clock := &testClock{now: 1_000_000}
	service, err := NewService(store, clock.Now, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service, clock
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	value, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return value
}

func mustServiceID(test *testing.T, raw string) ServiceID {
	test.Helper()
	value, err := NewServiceID(raw)
	if err != nil {
		test.Fatalf("service id: %v", err)
	}
	return value
}

func mustPositivePoints(test *testing.T, raw int64) PositivePoints {
	test.Helper()
	value, err := NewPositivePoints(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return value
}

func mustDepositorName(test *testing.T, raw string) DepositorName {
	test.Helper()
	value, err := NewDepositorName(raw)
	if err != nil {
		test.Fatalf("depositor name: %v", err)
	}
	return value
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	value, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	return value
}

// depositBody renders a notification with the depositor name on line 3 and the amount on line 5.
func depositBody(name string, amount string) string {
	return "[Bank Alert]\nDeposit received\n10/14 09:12\n" + name + "\nChecking ***-123\n" + amount
}
