package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/pointsledger/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMetadataJSON         = "{}"
	fundingRequestConstraintTag = "funding_request"
	pgUniqueViolationCode       = "23505"
	pgCheckViolationCode        = "23514"
	sqliteConstraintCode        = 19
	sqliteUniqueMessage         = "UNIQUE constraint failed"
	sqliteCheckMessage          = "CHECK constraint failed"
	errorOperationStore         = "store"
	errorSubjectAccount         = "account"
	errorSubjectBalance         = "balance"
	errorSubjectEntry           = "entry"
	errorSubjectOrder           = "order"
	errorSubjectFundingRequest  = "funding_request"
	errorCodeCreate             = "create"
	errorCodeDuplicate          = "duplicate"
	errorCodeGet                = "get"
	errorCodeInsert             = "insert"
	errorCodeInvalid            = "invalid"
	errorCodeList               = "list"
	errorCodeLock               = "lock"
	errorCodeLookup             = "lookup"
	errorCodeMatch              = "match"
	errorCodeSum                = "sum"
	errorCodeUpdate             = "update"
	errorCodeUpdateStatus       = "update_status"
)

// Store implements ledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetOrCreateAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, error) {
	now := time.Now().UTC()
	candidate := Account{UserID: userID.String(), CreatedAt: now, UpdatedAt: now}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&candidate).Error
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	var model Account
	err = store.db.WithContext(ctx).Where("user_id = ?", userID.String()).Take(&model).Error
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return mapAccount(model)
}

func (store *Store) GetAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).Where("account_id = ?", accountID.String()).Take(&model).Error
	if err != nil {
		return ledger.Account{}, wrapLookupError(errorSubjectAccount, errorCodeGet, err, ledger.ErrAccountNotFound)
	}
	return mapAccount(model)
}

// LockAccount reads the account row with FOR UPDATE; SQLite ignores the clause and serializes writers instead.
func (store *Store) LockAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ?", accountID.String()).
		Take(&model).Error
	if err != nil {
		return ledger.Account{}, wrapLookupError(errorSubjectAccount, errorCodeLock, err, ledger.ErrAccountNotFound)
	}
	return mapAccount(model)
}

func (store *Store) UpdateAccountBalance(ctx context.Context, accountID ledger.AccountID, from ledger.Points, to ledger.Points) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ? AND balance = ?", accountID.String(), from.Int64()).
		Updates(map[string]interface{}{
			"balance":    to.Int64(),
			"updated_at": time.Now().UTC(),
		})
	if isCheckViolation(result.Error) {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, ledger.ErrInsufficientFunds)
	}
	if result.Error != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, ledger.ErrConcurrencyConflict)
	}
	return nil
}

func (store *Store) InsertEntry(ctx context.Context, entryInput ledger.EntryInput) (ledger.Entry, error) {
	model := LedgerEntry{
		AccountID:    entryInput.AccountID.String(),
		Type:         entryInput.Type.String(),
		Delta:        entryInput.Delta.Int64(),
		BalanceAfter: entryInput.BalanceAfter.Int64(),
		Metadata:     datatypesJSON(entryInput.Metadata.String()),
		CreatedAt:    unixToTime(entryInput.CreatedUnixUTC),
	}
	if entryInput.RelatedOrderID != nil {
		value := entryInput.RelatedOrderID.Int64()
		model.RelatedOrderID = &value
	}
	if entryInput.RelatedFundingRequestID != nil {
		value := entryInput.RelatedFundingRequestID.Int64()
		model.RelatedFundingRequestID = &value
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if target, duplicate := uniqueViolationTarget(err); duplicate {
		if strings.Contains(target, fundingRequestConstraintTag) {
			return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrFundingRequestClosed)
		}
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrConcurrencyConflict)
	}
	if err != nil {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	entry, err := mapLedgerEntry(model)
	if err != nil {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entry, nil
}

func (store *Store) ListEntries(ctx context.Context, accountID ledger.AccountID, beforeEntryID ledger.EntryID, limit int) ([]ledger.Entry, error) {
	query := store.db.WithContext(ctx).Where("account_id = ?", accountID.String())
	if beforeEntryID > 0 {
		query = query.Where("entry_id < ?", beforeEntryID.Int64())
	}
	var rows []LedgerEntry
	if err := query.Order("entry_id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *Store) SumEntryDeltas(ctx context.Context, accountID ledger.AccountID) (ledger.Points, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Select("coalesce(sum(delta),0) as total").
		Where("account_id = ?", accountID.String()).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSum, err)
	}
	return ledger.Points(sum.Total), nil
}

func (store *Store) InsertOrder(ctx context.Context, orderInput ledger.OrderInput) (ledger.Order, error) {
	createdAt := unixToTime(orderInput.CreatedUnixUTC)
	model := Order{
		AccountID:  orderInput.AccountID.String(),
		ServiceID:  orderInput.ServiceID.String(),
		Quantity:   orderInput.Quantity,
		UnitPrice:  orderInput.UnitPrice.Int64(),
		TotalPrice: orderInput.TotalPrice.Int64(),
		Status:     ledger.OrderStatusPending.String(),
		Link:       orderInput.Link,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return ledger.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInsert, err)
	}
	order, err := mapOrder(model)
	if err != nil {
		return ledger.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	return order, nil
}

func (store *Store) GetOrder(ctx context.Context, orderID ledger.OrderID) (ledger.Order, error) {
	var model Order
	err := store.db.WithContext(ctx).Where("order_id = ?", orderID.Int64()).Take(&model).Error
	if err != nil {
		return ledger.Order{}, wrapLookupError(errorSubjectOrder, errorCodeGet, err, ledger.ErrOrderNotFound)
	}
	order, err := mapOrder(model)
	if err != nil {
		return ledger.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	return order, nil
}

func (store *Store) ListOrders(ctx context.Context, accountID ledger.AccountID, limit int) ([]ledger.Order, error) {
	var rows []Order
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID.String()).
		Order("order_id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectOrder, errorCodeList, err)
	}
	orders := make([]ledger.Order, 0, len(rows))
	for _, row := range rows {
		order, err := mapOrder(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (store *Store) UpdateOrderStatus(ctx context.Context, transition ledger.OrderTransition) error {
	result := store.db.WithContext(ctx).
		Model(&Order{}).
		Where("order_id = ? AND status = ?", transition.OrderID.Int64(), transition.From.String()).
		Updates(map[string]interface{}{
			"status":             transition.To.String(),
			"processed_quantity": transition.ProcessedQuantity,
			"updated_at":         unixToTime(transition.UpdatedUnixUTC),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdateStatus, ledger.ErrConcurrencyConflict)
	}
	return nil
}

func (store *Store) InsertFundingRequest(ctx context.Context, requestInput ledger.FundingRequestInput) (ledger.FundingRequest, error) {
	model := FundingRequest{
		AccountID:       requestInput.AccountID.String(),
		RequestedAmount: requestInput.Amount.Int64(),
		DepositorName:   requestInput.DepositorName.String(),
		Status:          ledger.FundingStatusPending.String(),
		RequestedAt:     unixToTime(requestInput.RequestedUnixUTC),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return ledger.FundingRequest{}, wrapStoreError(errorSubjectFundingRequest, errorCodeInsert, err)
	}
	request, err := mapFundingRequest(model)
	if err != nil {
		return ledger.FundingRequest{}, wrapStoreError(errorSubjectFundingRequest, errorCodeInvalid, err)
	}
	return request, nil
}

func (store *Store) GetFundingRequest(ctx context.Context, requestID ledger.FundingRequestID) (ledger.FundingRequest, error) {
	var model FundingRequest
	err := store.db.WithContext(ctx).Where("funding_request_id = ?", requestID.Int64()).Take(&model).Error
	if err != nil {
		return ledger.FundingRequest{}, wrapLookupError(errorSubjectFundingRequest, errorCodeGet, err, ledger.ErrFundingRequestNotFound)
	}
	request, err := mapFundingRequest(model)
	if err != nil {
		return ledger.FundingRequest{}, wrapStoreError(errorSubjectFundingRequest, errorCodeInvalid, err)
	}
	return request, nil
}

func (store *Store) ListFundingRequests(ctx context.Context, accountID ledger.AccountID, limit int) ([]ledger.FundingRequest, error) {
	var rows []FundingRequest
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID.String()).
		Order("funding_request_id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectFundingRequest, errorCodeList, err)
	}
	requests := make([]ledger.FundingRequest, 0, len(rows))
	for _, row := range rows {
		request, err := mapFundingRequest(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectFundingRequest, errorCodeInvalid, err)
		}
		requests = append(requests, request)
	}
	return requests, nil
}

// FindPendingFundingRequest returns the most recently requested pending match, ties broken by id.
func (store *Store) FindPendingFundingRequest(ctx context.Context, query ledger.FundingMatchQuery) (ledger.FundingRequest, bool, error) {
	var rows []FundingRequest
	err := store.db.WithContext(ctx).
		Where("status = ? AND requested_amount = ? AND depositor_name = ? AND requested_at >= ?",
			ledger.FundingStatusPending.String(),
			query.Amount.Int64(),
			query.DepositorName.String(),
			unixToTime(query.RequestedSinceUnixUTC),
		).
		Order("requested_at DESC").
		Order("funding_request_id DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return ledger.FundingRequest{}, false, wrapStoreError(errorSubjectFundingRequest, errorCodeMatch, err)
	}
	if len(rows) == 0 {
		return ledger.FundingRequest{}, false, nil
	}
	request, err := mapFundingRequest(rows[0])
	if err != nil {
		return ledger.FundingRequest{}, false, wrapStoreError(errorSubjectFundingRequest, errorCodeInvalid, err)
	}
	return request, true, nil
}

func (store *Store) UpdateFundingRequestStatus(ctx context.Context, transition ledger.FundingTransition) error {
	updates := map[string]interface{}{"status": transition.To.String()}
	if transition.ConfirmedUnixUTC > 0 {
		updates["confirmed_at"] = unixToTime(transition.ConfirmedUnixUTC)
	}
	if transition.MatchedNotification != "" {
		updates["matched_notification"] = transition.MatchedNotification
	}
	result := store.db.WithContext(ctx).
		Model(&FundingRequest{}).
		Where("funding_request_id = ? AND status = ?", transition.FundingRequestID.Int64(), transition.From.String()).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectFundingRequest, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectFundingRequest, errorCodeUpdateStatus, ledger.ErrFundingRequestClosed)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func wrapLookupError(subject string, code string, err error, notFound error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wrapStoreError(subject, code, notFound)
	}
	return wrapStoreError(subject, code, err)
}

type sqlSum struct {
	Total int64
}

func mapAccount(model Account) (ledger.Account, error) {
	accountID, err := ledger.NewAccountID(model.AccountID)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	userID, err := ledger.NewUserID(model.UserID)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	if model.Balance < 0 {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, ledger.ErrInvalidBalance)
	}
	return ledger.Account{
		AccountID:      accountID,
		UserID:         userID,
		Balance:        ledger.Points(model.Balance),
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}, nil
}

func mapLedgerEntry(row LedgerEntry) (ledger.Entry, error) {
	entryID, err := ledger.NewEntryID(row.EntryID)
	if err != nil {
		return ledger.Entry{}, err
	}
	accountID, err := ledger.NewAccountID(row.AccountID)
	if err != nil {
		return ledger.Entry{}, err
	}
	entryType, err := ledger.ParseEntryType(row.Type)
	if err != nil {
		return ledger.Entry{}, err
	}
	delta, err := ledger.NewDelta(row.Delta)
	if err != nil {
		return ledger.Entry{}, err
	}
	metadata, err := ledger.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return ledger.Entry{}, err
	}
	entry := ledger.Entry{
		EntryID:        entryID,
		AccountID:      accountID,
		Type:           entryType,
		Delta:          delta,
		BalanceAfter:   ledger.Points(row.BalanceAfter),
		Metadata:       metadata,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}
	if row.RelatedOrderID != nil {
		orderID, err := ledger.NewOrderID(*row.RelatedOrderID)
		if err != nil {
			return ledger.Entry{}, err
		}
		entry.RelatedOrderID = &orderID
	}
	if row.RelatedFundingRequestID != nil {
		requestID, err := ledger.NewFundingRequestID(*row.RelatedFundingRequestID)
		if err != nil {
			return ledger.Entry{}, err
		}
		entry.RelatedFundingRequestID = &requestID
	}
	return entry, nil
}

func mapOrder(row Order) (ledger.Order, error) {
	orderID, err := ledger.NewOrderID(row.OrderID)
	if err != nil {
		return ledger.Order{}, err
	}
	accountID, err := ledger.NewAccountID(row.AccountID)
	if err != nil {
		return ledger.Order{}, err
	}
	serviceID, err := ledger.NewServiceID(row.ServiceID)
	if err != nil {
		return ledger.Order{}, err
	}
	unitPrice, err := ledger.NewPositivePoints(row.UnitPrice)
	if err != nil {
		return ledger.Order{}, err
	}
	totalPrice, err := ledger.NewPositivePoints(row.TotalPrice)
	if err != nil {
		return ledger.Order{}, err
	}
	status, err := ledger.ParseOrderStatus(row.Status)
	if err != nil {
		return ledger.Order{}, err
	}
	return ledger.Order{
		OrderID:           orderID,
		AccountID:         accountID,
		ServiceID:         serviceID,
		Quantity:          row.Quantity,
		UnitPrice:         unitPrice,
		TotalPrice:        totalPrice,
		Status:            status,
		ProcessedQuantity: row.ProcessedQuantity,
		Link:              row.Link,
		CreatedUnixUTC:    row.CreatedAt.Unix(),
		UpdatedUnixUTC:    row.UpdatedAt.Unix(),
	}, nil
}

func mapFundingRequest(row FundingRequest) (ledger.FundingRequest, error) {
	requestID, err := ledger.NewFundingRequestID(row.FundingRequestID)
	if err != nil {
		return ledger.FundingRequest{}, err
	}
	accountID, err := ledger.NewAccountID(row.AccountID)
	if err != nil {
		return ledger.FundingRequest{}, err
	}
	amount, err := ledger.NewPositivePoints(row.RequestedAmount)
	if err != nil {
		return ledger.FundingRequest{}, err
	}
	depositorName, err := ledger.NewDepositorName(row.DepositorName)
	if err != nil {
		return ledger.FundingRequest{}, err
	}
	status, err := ledger.ParseFundingRequestStatus(row.Status)
	if err != nil {
		return ledger.FundingRequest{}, err
	}
	request := ledger.FundingRequest{
		FundingRequestID: requestID,
		AccountID:        accountID,
		Amount:           amount,
		DepositorName:    depositorName,
		Status:           status,
		RequestedUnixUTC: row.RequestedAt.Unix(),
		ConfirmedUnixUTC: timeOrZero(row.ConfirmedAt),
	}
	if row.MatchedNotification != nil {
		request.MatchedNotification = *row.MatchedNotification
	}
	return request, nil
}

func unixToTime(unixUTC int64) time.Time {
	if unixUTC == 0 {
		return time.Now().UTC()
	}
	return time.Unix(unixUTC, 0).UTC()
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

// uniqueViolationTarget reports a unique-constraint failure and the constraint (Postgres) or
// message (SQLite) naming the violated index.
func uniqueViolationTarget(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName, pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Error(), isSQLiteConstraint(sqliteErr, sqliteUniqueMessage)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return err.Error(), true
	}
	return "", false
}

func isCheckViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrCheckConstraintViolated) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgCheckViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return isSQLiteConstraint(sqliteErr, sqliteCheckMessage)
	}
	return false
}

func isSQLiteConstraint(sqliteErr *gosqlite.Error, message string) bool {
	return sqliteErr.Code()&0xFF == sqliteConstraintCode && strings.Contains(sqliteErr.Error(), message)
}
