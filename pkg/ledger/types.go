package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// Points is a signed integer amount of prepaid points.
type Points int64

// Int64 returns the raw value.
func (points Points) Int64() int64 {
	return int64(points)
}

// Negated returns the additive inverse.
func (points Points) Negated() Points {
	return -points
}

// PositivePoints is a strictly positive amount of points.
type PositivePoints int64

// NewPositivePoints validates an amount and ensures it is strictly positive.
func NewPositivePoints(raw int64) (PositivePoints, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return PositivePoints(raw), nil
}

// Int64 returns the raw value.
func (points PositivePoints) Int64() int64 {
	return int64(points)
}

// ToPoints converts to a signed amount.
func (points PositivePoints) ToPoints() Points {
	return Points(points)
}

// NewDelta validates a signed balance change; zero is rejected because it would record nothing.
func NewDelta(raw int64) (Points, error) {
	if raw == 0 {
		return 0, fmt.Errorf("%w: must not be zero", ErrInvalidDelta)
	}
	return Points(raw), nil
}

// AccountID identifies an account.
type AccountID struct {
	value string
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// UserID identifies the external user an account belongs to.
type UserID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// ServiceID identifies a catalog service.
type ServiceID struct {
	value string
}

// NewServiceID validates and normalizes a service id.
func NewServiceID(raw string) (ServiceID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ServiceID{}, fmt.Errorf("%w: empty value", ErrInvalidServiceID)
	}
	return ServiceID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ServiceID) String() string {
	return id.value
}

// EntryID is the sequence number of a ledger entry.
type EntryID int64

// NewEntryID validates an entry id.
func NewEntryID(raw int64) (EntryID, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be positive", ErrInvalidEntryID)
	}
	return EntryID(raw), nil
}

// Int64 returns the raw value.
func (id EntryID) Int64() int64 {
	return int64(id)
}

// OrderID identifies an order.
type OrderID int64

// NewOrderID validates an order id.
func NewOrderID(raw int64) (OrderID, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be positive", ErrInvalidOrderID)
	}
	return OrderID(raw), nil
}

// Int64 returns the raw value.
func (id OrderID) Int64() int64 {
	return int64(id)
}

// FundingRequestID identifies a funding request.
type FundingRequestID int64

// NewFundingRequestID validates a funding request id.
func NewFundingRequestID(raw int64) (FundingRequestID, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be positive", ErrInvalidFundingRequestID)
	}
	return FundingRequestID(raw), nil
}

// Int64 returns the raw value.
func (id FundingRequestID) Int64() int64 {
	return int64(id)
}

// DepositorName is the sender name printed on a bank transfer.
type DepositorName struct {
	value string
}

// NewDepositorName validates and normalizes a depositor name. Matching is exact on the trimmed value.
func NewDepositorName(raw string) (DepositorName, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DepositorName{}, fmt.Errorf("%w: empty value", ErrInvalidDepositorName)
	}
	if utf8.RuneCountInString(trimmed) > maxDepositorNameLength {
		return DepositorName{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidDepositorName, maxDepositorNameLength)
	}
	return DepositorName{value: trimmed}, nil
}

// String returns the normalized name.
func (name DepositorName) String() string {
	return name.value
}

// MetadataJSON stores arbitrary entry metadata.
type MetadataJSON struct {
	value string
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

func newMetadataFromFields(fields map[string]string) (MetadataJSON, error) {
	if len(fields) == 0 {
		return NewMetadataJSON("")
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		return MetadataJSON{}, fmt.Errorf("%w: %v", ErrInvalidMetadataJSON, err)
	}
	return NewMetadataJSON(string(encoded))
}

// EntryType enumerates ledger entry kinds.
type EntryType string

const (
	EntryOrderPayment    EntryType = "order_payment"
	EntryFundingCredit   EntryType = "funding_credit"
	EntryAdminAdjustment EntryType = "admin_adjustment"
)

// ParseEntryType validates a stored entry type.
func ParseEntryType(raw string) (EntryType, error) {
	entryType := EntryType(strings.TrimSpace(raw))
	switch entryType {
	case EntryOrderPayment, EntryFundingCredit, EntryAdminAdjustment:
		return entryType, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryType, raw)
	}
}

// String returns the stored representation.
func (entryType EntryType) String() string {
	return string(entryType)
}

// OrderStatus defines the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "Pending"
	OrderStatusProcessing OrderStatus = "Processing"
	OrderStatusCompleted  OrderStatus = "Completed"
	OrderStatusPartial    OrderStatus = "Partial"
	OrderStatusCancelled  OrderStatus = "Cancelled"
	OrderStatusRefunded   OrderStatus = "Refunded"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCompleted, OrderStatusPartial, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusProcessing, OrderStatusCompleted, OrderStatusPartial, OrderStatusCancelled},
	OrderStatusPartial:    {OrderStatusRefunded},
	OrderStatusCompleted:  {OrderStatusRefunded},
	OrderStatusCancelled:  {OrderStatusRefunded},
}

// ParseOrderStatus validates an order status.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.TrimSpace(raw))
	if _, known := orderTransitions[status]; known || status == OrderStatusRefunded {
		return status, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOrderStatus, raw)
}

// String returns the stored representation.
func (status OrderStatus) String() string {
	return string(status)
}

// CanAdvanceTo reports whether the status-sync collaborator may move an order from status to next.
func (status OrderStatus) CanAdvanceTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// FundingRequestStatus defines the funding request lifecycle. Transitions only move forward.
type FundingRequestStatus string

const (
	FundingStatusPending   FundingRequestStatus = "pending"
	FundingStatusCompleted FundingRequestStatus = "completed"
	FundingStatusFailed    FundingRequestStatus = "failed"
)

// ParseFundingRequestStatus validates a funding request status.
func ParseFundingRequestStatus(raw string) (FundingRequestStatus, error) {
	status := FundingRequestStatus(strings.TrimSpace(raw))
	switch status {
	case FundingStatusPending, FundingStatusCompleted, FundingStatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFundingStatus, raw)
	}
}

// String returns the stored representation.
func (status FundingRequestStatus) String() string {
	return string(status)
}

// Account is an internal prepaid balance holder tied to one user.
type Account struct {
	AccountID      AccountID
	UserID         UserID
	Balance        Points
	CreatedUnixUTC int64
}

// A single immutable line in the ledger.
type Entry struct {
	EntryID                 EntryID
	AccountID               AccountID
	Type                    EntryType
	Delta                   Points
	RelatedOrderID          *OrderID
	RelatedFundingRequestID *FundingRequestID
	BalanceAfter            Points
	Metadata                MetadataJSON
	CreatedUnixUTC          int64
}

// EntryInput is an entry that has not been persisted yet.
type EntryInput struct {
	AccountID               AccountID
	Type                    EntryType
	Delta                   Points
	RelatedOrderID          *OrderID
	RelatedFundingRequestID *FundingRequestID
	BalanceAfter            Points
	Metadata                MetadataJSON
	CreatedUnixUTC          int64
}

// Order is a purchase of a catalog service paid from the account balance.
type Order struct {
	OrderID           OrderID
	AccountID         AccountID
	ServiceID         ServiceID
	Quantity          int64
	UnitPrice         PositivePoints
	TotalPrice        PositivePoints
	Status            OrderStatus
	ProcessedQuantity int64
	Link              string
	CreatedUnixUTC    int64
	UpdatedUnixUTC    int64
}

// OrderInput is an order that has not been persisted yet.
type OrderInput struct {
	AccountID      AccountID
	ServiceID      ServiceID
	Quantity       int64
	UnitPrice      PositivePoints
	TotalPrice     PositivePoints
	Link           string
	CreatedUnixUTC int64
}

// OrderTransition is a conditional status change applied only while the order is still in From.
type OrderTransition struct {
	OrderID           OrderID
	From              OrderStatus
	To                OrderStatus
	ProcessedQuantity int64
	UpdatedUnixUTC    int64
}

// FundingRequest is a user-declared intent to deposit funds.
type FundingRequest struct {
	FundingRequestID    FundingRequestID
	AccountID           AccountID
	Amount              PositivePoints
	DepositorName       DepositorName
	Status              FundingRequestStatus
	RequestedUnixUTC    int64
	ConfirmedUnixUTC    int64
	MatchedNotification string
}

// Expired reports whether a pending request has left the matching window. Expired requests are kept.
func (request FundingRequest) Expired(nowUnixUTC int64, window time.Duration) bool {
	if request.Status != FundingStatusPending {
		return false
	}
	return request.RequestedUnixUTC < nowUnixUTC-int64(window/time.Second)
}

// FundingRequestInput is a funding request that has not been persisted yet.
type FundingRequestInput struct {
	AccountID        AccountID
	Amount           PositivePoints
	DepositorName    DepositorName
	RequestedUnixUTC int64
}

// FundingMatchQuery selects the newest pending request for an exact amount and name.
type FundingMatchQuery struct {
	Amount                PositivePoints
	DepositorName         DepositorName
	RequestedSinceUnixUTC int64
}

// FundingTransition is a conditional status change applied only while the request is still in From.
type FundingTransition struct {
	FundingRequestID    FundingRequestID
	From                FundingRequestStatus
	To                  FundingRequestStatus
	ConfirmedUnixUTC    int64
	MatchedNotification string
}

// DepositNotification is a transient inbound bank-deposit event.
type DepositNotification struct {
	From       string
	Body       string
	ReceivedAt time.Time
}

// Store is the persistence contract used by Service.
// Every method on a txStore handed to WithTx runs inside the same transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetOrCreateAccount(ctx context.Context, userID UserID) (Account, error)
	GetAccount(ctx context.Context, accountID AccountID) (Account, error)
	LockAccount(ctx context.Context, accountID AccountID) (Account, error)
	// UpdateAccountBalance sets balance to `to` only while it still equals `from`, else ErrConcurrencyConflict.
	// Callers hold LockAccount in the same transaction, so a conflict means an out-of-band writer.
	UpdateAccountBalance(ctx context.Context, accountID AccountID, from Points, to Points) error
	InsertEntry(ctx context.Context, entry EntryInput) (Entry, error)
	ListEntries(ctx context.Context, accountID AccountID, beforeEntryID EntryID, limit int) ([]Entry, error)
	SumEntryDeltas(ctx context.Context, accountID AccountID) (Points, error)
	InsertOrder(ctx context.Context, order OrderInput) (Order, error)
	GetOrder(ctx context.Context, orderID OrderID) (Order, error)
	ListOrders(ctx context.Context, accountID AccountID, limit int) ([]Order, error)
	UpdateOrderStatus(ctx context.Context, transition OrderTransition) error
	InsertFundingRequest(ctx context.Context, request FundingRequestInput) (FundingRequest, error)
	GetFundingRequest(ctx context.Context, requestID FundingRequestID) (FundingRequest, error)
	ListFundingRequests(ctx context.Context, accountID AccountID, limit int) ([]FundingRequest, error)
	FindPendingFundingRequest(ctx context.Context, query FundingMatchQuery) (FundingRequest, bool, error)
	UpdateFundingRequestStatus(ctx context.Context, transition FundingTransition) error
}

func addPoints(balance Points, delta Points) (Points, error) {
	if delta > 0 && balance > math.MaxInt64-delta {
		return 0, WrapError(errorOperationService, errorSubjectBalance, errorCodeOverflow, ErrInvalidBalance)
	}
	if delta < 0 && balance < math.MinInt64-delta {
		return 0, WrapError(errorOperationService, errorSubjectBalance, errorCodeOverflow, ErrInvalidBalance)
	}
	return balance + delta, nil
}

func multiplyPrice(unitPrice PositivePoints, quantity int64) (PositivePoints, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidQuantity)
	}
	if unitPrice.Int64() > math.MaxInt64/quantity {
		return 0, WrapError(errorOperationService, errorSubjectOrder, errorCodeOverflow, ErrInvalidAmount)
	}
	return NewPositivePoints(unitPrice.Int64() * quantity)
}
