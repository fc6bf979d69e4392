package pgstore

import (
	"context"
	"errors"
	"strings"

	"github.com/MarkoPoloResearchLab/pointsledger/pkg/ledger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	fundingRequestConstraintTag = "funding_request"
	pgUniqueViolationCode       = "23505"
	pgCheckViolationCode        = "23514"
	errorOperationStore         = "store"
	errorSubjectAccount         = "account"
	errorSubjectBalance         = "balance"
	errorSubjectEntry           = "entry"
	errorSubjectOrder           = "order"
	errorSubjectFundingRequest  = "funding_request"
	errorSubjectTransaction     = "transaction"
	errorCodeBegin              = "begin"
	errorCodeCommit             = "commit"
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

	sqlInsertAccount = `
		insert into accounts(account_id, user_id, balance, created_at, updated_at)
		values ($1, $2, 0, now(), now())
		on conflict (user_id) do nothing
	`

	sqlSelectAccountColumns = `
		select account_id::text, user_id, balance, extract(epoch from created_at)::bigint
		from accounts
	`

	sqlSelectAccountByUser = sqlSelectAccountColumns + `where user_id = $1`

	sqlSelectAccount = sqlSelectAccountColumns + `where account_id = $1`

	sqlLockAccount = sqlSelectAccount + ` for update`

	sqlUpdateAccountBalance = `
		update accounts
		set balance = $3, updated_at = now()
		where account_id = $1 and balance = $2
	`

	sqlInsertEntry = `
		insert into ledger_entries(
			account_id, type, delta, related_order_id, related_funding_request_id, balance_after, metadata, created_at
		)
		values(
			$1, $2, $3, $4, $5, $6,
			coalesce(nullif($7,''),'{}')::jsonb,
			to_timestamp($8::bigint)
		)
		returning entry_id
	`

	sqlListEntries = `
		select
			entry_id,
			account_id::text,
			type::text,
			delta,
			related_order_id,
			related_funding_request_id,
			balance_after,
			coalesce(metadata::text,'{}'),
			extract(epoch from created_at)::bigint
		from ledger_entries
		where account_id = $1 and ($2::bigint = 0 or entry_id < $2::bigint)
		order by entry_id desc
		limit $3
	`

	sqlSumEntryDeltas = `
		select coalesce(sum(delta),0)::bigint from ledger_entries where account_id = $1
	`

	sqlInsertOrder = `
		insert into orders(
			account_id, service_id, quantity, unit_price, total_price, status, processed_quantity, link, created_at, updated_at
		)
		values($1, $2, $3, $4, $5, $6, 0, $7, to_timestamp($8::bigint), to_timestamp($8::bigint))
		returning order_id
	`

	sqlSelectOrderColumns = `
		select
			order_id,
			account_id::text,
			service_id,
			quantity,
			unit_price,
			total_price,
			status::text,
			processed_quantity,
			link,
			extract(epoch from created_at)::bigint,
			extract(epoch from updated_at)::bigint
		from orders
	`

	sqlSelectOrder = sqlSelectOrderColumns + `where order_id = $1`

	sqlListOrders = sqlSelectOrderColumns + `where account_id = $1 order by order_id desc limit $2`

	sqlUpdateOrderStatus = `
		update orders
		set status = $3, processed_quantity = $4, updated_at = to_timestamp($5::bigint)
		where order_id = $1 and status = $2
	`

	sqlInsertFundingRequest = `
		insert into funding_requests(account_id, requested_amount, depositor_name, status, requested_at)
		values($1, $2, $3, $4, to_timestamp($5::bigint))
		returning funding_request_id
	`

	sqlSelectFundingColumns = `
		select
			funding_request_id,
			account_id::text,
			requested_amount,
			depositor_name,
			status::text,
			extract(epoch from requested_at)::bigint,
			coalesce(extract(epoch from confirmed_at)::bigint, 0),
			coalesce(matched_notification, '')
		from funding_requests
	`

	sqlSelectFundingRequest = sqlSelectFundingColumns + `where funding_request_id = $1`

	sqlListFundingRequests = sqlSelectFundingColumns + `where account_id = $1 order by funding_request_id desc limit $2`

	sqlFindPendingFundingRequest = sqlSelectFundingColumns + `
		where status = $1 and requested_amount = $2 and depositor_name = $3 and requested_at >= to_timestamp($4::bigint)
		order by requested_at desc, funding_request_id desc
		limit 1
	`

	sqlUpdateFundingRequestStatus = `
		update funding_requests
		set
			status = $3,
			confirmed_at = coalesce(to_timestamp(nullif($4::bigint, 0)), confirmed_at),
			matched_notification = coalesce(nullif($5, ''), matched_notification)
		where funding_request_id = $1 and status = $2
	`
)

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements ledger.Store using a pgx connection pool (autocommit).
type Store struct {
	queries
	pool *pgxpool.Pool
}

// TxStore implements ledger.Store for an active transaction.
type TxStore struct {
	queries
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
// The schema is owned by gormstore.AutoMigrate; this store only issues queries against it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{db: pool}, pool: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{queries: queries{db: tx}, tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, store)
}

type queries struct {
	db querier
}

func (store queries) GetOrCreateAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, error) {
	if _, err := store.db.Exec(ctx, sqlInsertAccount, uuid.NewString(), userID.String()); err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	account, err := scanAccount(store.db.QueryRow(ctx, sqlSelectAccountByUser, userID.String()))
	if err != nil {
		return ledger.Account{}, wrapLookupError(errorSubjectAccount, errorCodeLookup, err, ledger.ErrAccountNotFound)
	}
	return account, nil
}

func (store queries) GetAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	account, err := scanAccount(store.db.QueryRow(ctx, sqlSelectAccount, accountID.String()))
	if err != nil {
		return ledger.Account{}, wrapLookupError(errorSubjectAccount, errorCodeGet, err, ledger.ErrAccountNotFound)
	}
	return account, nil
}

func (store queries) LockAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	account, err := scanAccount(store.db.QueryRow(ctx, sqlLockAccount, accountID.String()))
	if err != nil {
		return ledger.Account{}, wrapLookupError(errorSubjectAccount, errorCodeLock, err, ledger.ErrAccountNotFound)
	}
	return account, nil
}

func (store queries) UpdateAccountBalance(ctx context.Context, accountID ledger.AccountID, from ledger.Points, to ledger.Points) error {
	tag, err := store.db.Exec(ctx, sqlUpdateAccountBalance, accountID.String(), from.Int64(), to.Int64())
	if isCheckViolation(err) {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, ledger.ErrInsufficientFunds)
	}
	if err != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, ledger.ErrConcurrencyConflict)
	}
	return nil
}

func (store queries) InsertEntry(ctx context.Context, entryInput ledger.EntryInput) (ledger.Entry, error) {
	var relatedOrderID, relatedFundingRequestID *int64
	if entryInput.RelatedOrderID != nil {
		value := entryInput.RelatedOrderID.Int64()
		relatedOrderID = &value
	}
	if entryInput.RelatedFundingRequestID != nil {
		value := entryInput.RelatedFundingRequestID.Int64()
		relatedFundingRequestID = &value
	}
	var entryIDValue int64
	err := store.db.QueryRow(ctx, sqlInsertEntry,
		entryInput.AccountID.String(),
		entryInput.Type.String(),
		entryInput.Delta.Int64(),
		relatedOrderID,
		relatedFundingRequestID,
		entryInput.BalanceAfter.Int64(),
		entryInput.Metadata.String(),
		entryInput.CreatedUnixUTC,
	).Scan(&entryIDValue)
	if constraint, duplicate := uniqueViolationConstraint(err); duplicate {
		if strings.Contains(constraint, fundingRequestConstraintTag) {
			return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrFundingRequestClosed)
		}
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrConcurrencyConflict)
	}
	if err != nil {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	entryID, err := ledger.NewEntryID(entryIDValue)
	if err != nil {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return ledger.Entry{
		EntryID:                 entryID,
		AccountID:               entryInput.AccountID,
		Type:                    entryInput.Type,
		Delta:                   entryInput.Delta,
		RelatedOrderID:          entryInput.RelatedOrderID,
		RelatedFundingRequestID: entryInput.RelatedFundingRequestID,
		BalanceAfter:            entryInput.BalanceAfter,
		Metadata:                entryInput.Metadata,
		CreatedUnixUTC:          entryInput.CreatedUnixUTC,
	}, nil
}

func (store queries) ListEntries(ctx context.Context, accountID ledger.AccountID, beforeEntryID ledger.EntryID, limit int) ([]ledger.Entry, error) {
	rows, err := store.db.Query(ctx, sqlListEntries, accountID.String(), beforeEntryID.Int64(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entries, nil
}

func (store queries) SumEntryDeltas(ctx context.Context, accountID ledger.AccountID) (ledger.Points, error) {
	var sum int64
	if err := store.db.QueryRow(ctx, sqlSumEntryDeltas, accountID.String()).Scan(&sum); err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSum, err)
	}
	return ledger.Points(sum), nil
}

func (store queries) InsertOrder(ctx context.Context, orderInput ledger.OrderInput) (ledger.Order, error) {
	var orderIDValue int64
	err := store.db.QueryRow(ctx, sqlInsertOrder,
		orderInput.AccountID.String(),
		orderInput.ServiceID.String(),
		orderInput.Quantity,
		orderInput.UnitPrice.Int64(),
		orderInput.TotalPrice.Int64(),
		ledger.OrderStatusPending.String(),
		orderInput.Link,
		orderInput.CreatedUnixUTC,
	).Scan(&orderIDValue)
	if err != nil {
		return ledger.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInsert, err)
	}
	orderID, err := ledger.NewOrderID(orderIDValue)
	if err != nil {
		return ledger.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	return ledger.Order{
		OrderID:        orderID,
		AccountID:      orderInput.AccountID,
		ServiceID:      orderInput.ServiceID,
		Quantity:       orderInput.Quantity,
		UnitPrice:      orderInput.UnitPrice,
		TotalPrice:     orderInput.TotalPrice,
		Status:         ledger.OrderStatusPending,
		Link:           orderInput.Link,
		CreatedUnixUTC: orderInput.CreatedUnixUTC,
		UpdatedUnixUTC: orderInput.CreatedUnixUTC,
	}, nil
}

func (store queries) GetOrder(ctx context.Context, orderID ledger.OrderID) (ledger.Order, error) {
	order, err := scanOrder(store.db.QueryRow(ctx, sqlSelectOrder, orderID.Int64()))
	if err != nil {
		return ledger.Order{}, wrapLookupError(errorSubjectOrder, errorCodeGet, err, ledger.ErrOrderNotFound)
	}
	return order, nil
}

func (store queries) ListOrders(ctx context.Context, accountID ledger.AccountID, limit int) ([]ledger.Order, error) {
	rows, err := store.db.Query(ctx, sqlListOrders, accountID.String(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectOrder, errorCodeList, err)
	}
	defer rows.Close()
	orders := make([]ledger.Order, 0, limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectOrder, errorCodeList, err)
	}
	return orders, nil
}

func (store queries) UpdateOrderStatus(ctx context.Context, transition ledger.OrderTransition) error {
	tag, err := store.db.Exec(ctx, sqlUpdateOrderStatus,
		transition.OrderID.Int64(),
		transition.From.String(),
		transition.To.String(),
		transition.ProcessedQuantity,
		transition.UpdatedUnixUTC,
	)
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdateStatus, ledger.ErrConcurrencyConflict)
	}
	return nil
}

func (store queries) InsertFundingRequest(ctx context.Context, requestInput ledger.FundingRequestInput) (ledger.FundingRequest, error) {
	var requestIDValue int64
	err := store.db.QueryRow(ctx, sqlInsertFundingRequest,
		requestInput.AccountID.String(),
		requestInput.Amount.Int64(),
		requestInput.DepositorName.String(),
		ledger.FundingStatusPending.String(),
		requestInput.RequestedUnixUTC,
	).Scan(&requestIDValue)
	if err != nil {
		return ledger.FundingRequest{}, wrapStoreError(errorSubjectFundingRequest, errorCodeInsert, err)
	}
	requestID, err := ledger.NewFundingRequestID(requestIDValue)
	if err != nil {
		return ledger.FundingRequest{}, wrapStoreError(errorSubjectFundingRequest, errorCodeInvalid, err)
	}
	return ledger.FundingRequest{
		FundingRequestID: requestID,
		AccountID:        requestInput.AccountID,
		Amount:           requestInput.Amount,
		DepositorName:    requestInput.DepositorName,
		Status:           ledger.FundingStatusPending,
		RequestedUnixUTC: requestInput.RequestedUnixUTC,
	}, nil
}

func (store queries) GetFundingRequest(ctx context.Context, requestID ledger.FundingRequestID) (ledger.FundingRequest, error) {
	request, err := scanFundingRequest(store.db.QueryRow(ctx, sqlSelectFundingRequest, requestID.Int64()))
	if err != nil {
		return ledger.FundingRequest{}, wrapLookupError(errorSubjectFundingRequest, errorCodeGet, err, ledger.ErrFundingRequestNotFound)
	}
	return request, nil
}

func (store queries) ListFundingRequests(ctx context.Context, accountID ledger.AccountID, limit int) ([]ledger.FundingRequest, error) {
	rows, err := store.db.Query(ctx, sqlListFundingRequests, accountID.String(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectFundingRequest, errorCodeList, err)
	}
	defer rows.Close()
	requests := make([]ledger.FundingRequest, 0, limit)
	for rows.Next() {
		request, err := scanFundingRequest(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectFundingRequest, errorCodeInvalid, err)
		}
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectFundingRequest, errorCodeList, err)
	}
	return requests, nil
}

func (store queries) FindPendingFundingRequest(ctx context.Context, query ledger.FundingMatchQuery) (ledger.FundingRequest, bool, error) {
	request, err := scanFundingRequest(store.db.QueryRow(ctx, sqlFindPendingFundingRequest,
		ledger.FundingStatusPending.String(),
		query.Amount.Int64(),
		query.DepositorName.String(),
		query.RequestedSinceUnixUTC,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.FundingRequest{}, false, nil
	}
	if err != nil {
		return ledger.FundingRequest{}, false, wrapStoreError(errorSubjectFundingRequest, errorCodeMatch, err)
	}
	return request, true, nil
}

func (store queries) UpdateFundingRequestStatus(ctx context.Context, transition ledger.FundingTransition) error {
	tag, err := store.db.Exec(ctx, sqlUpdateFundingRequestStatus,
		transition.FundingRequestID.Int64(),
		transition.From.String(),
		transition.To.String(),
		transition.ConfirmedUnixUTC,
		transition.MatchedNotification,
	)
	if err != nil {
		return wrapStoreError(errorSubjectFundingRequest, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectFundingRequest, errorCodeUpdateStatus, ledger.ErrFundingRequestClosed)
	}
	return nil
}

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var (
		accountIDValue   string
		userIDValue      string
		balanceValue     int64
		createdAtUnixUTC int64
	)
	if err := row.Scan(&accountIDValue, &userIDValue, &balanceValue, &createdAtUnixUTC); err != nil {
		return ledger.Account{}, err
	}
	accountID, err := ledger.NewAccountID(accountIDValue)
	if err != nil {
		return ledger.Account{}, err
	}
	userID, err := ledger.NewUserID(userIDValue)
	if err != nil {
		return ledger.Account{}, err
	}
	if balanceValue < 0 {
		return ledger.Account{}, ledger.ErrInvalidBalance
	}
	return ledger.Account{
		AccountID:      accountID,
		UserID:         userID,
		Balance:        ledger.Points(balanceValue),
		CreatedUnixUTC: createdAtUnixUTC,
	}, nil
}

func scanEntries(rows pgx.Rows) ([]ledger.Entry, error) {
	entries := make([]ledger.Entry, 0, 32)
	for rows.Next() {
		var (
			entryIDValue            int64
			accountIDValue          string
			entryTypeValue          string
			deltaValue              int64
			relatedOrderID          *int64
			relatedFundingRequestID *int64
			balanceAfterValue       int64
			metadataValue           string
			createdAtUnixUTC        int64
		)
		if err := rows.Scan(
			&entryIDValue,
			&accountIDValue,
			&entryTypeValue,
			&deltaValue,
			&relatedOrderID,
			&relatedFundingRequestID,
			&balanceAfterValue,
			&metadataValue,
			&createdAtUnixUTC,
		); err != nil {
			return nil, err
		}
		entryID, err := ledger.NewEntryID(entryIDValue)
		if err != nil {
			return nil, err
		}
		accountID, err := ledger.NewAccountID(accountIDValue)
		if err != nil {
			return nil, err
		}
		entryType, err := ledger.ParseEntryType(entryTypeValue)
		if err != nil {
			return nil, err
		}
		delta, err := ledger.NewDelta(deltaValue)
		if err != nil {
			return nil, err
		}
		metadata, err := ledger.NewMetadataJSON(metadataValue)
		if err != nil {
			return nil, err
		}
		entry := ledger.Entry{
			EntryID:        entryID,
			AccountID:      accountID,
			Type:           entryType,
			Delta:          delta,
			BalanceAfter:   ledger.Points(balanceAfterValue),
			Metadata:       metadata,
			CreatedUnixUTC: createdAtUnixUTC,
		}
		if relatedOrderID != nil {
			orderID, err := ledger.NewOrderID(*relatedOrderID)
			if err != nil {
				return nil, err
			}
			entry.RelatedOrderID = &orderID
		}
		if relatedFundingRequestID != nil {
			requestID, err := ledger.NewFundingRequestID(*relatedFundingRequestID)
			if err != nil {
				return nil, err
			}
			entry.RelatedFundingRequestID = &requestID
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanOrder(row pgx.Row) (ledger.Order, error) {
	var (
		orderIDValue      int64
		accountIDValue    string
		serviceIDValue    string
		quantity          int64
		unitPriceValue    int64
		totalPriceValue   int64
		statusValue       string
		processedQuantity int64
		link              string
		createdAtUnixUTC  int64
		updatedAtUnixUTC  int64
	)
	if err := row.Scan(
		&orderIDValue,
		&accountIDValue,
		&serviceIDValue,
		&quantity,
		&unitPriceValue,
		&totalPriceValue,
		&statusValue,
		&processedQuantity,
		&link,
		&createdAtUnixUTC,
		&updatedAtUnixUTC,
	); err != nil {
		return ledger.Order{}, err
	}
	orderID, err := ledger.NewOrderID(orderIDValue)
	if err != nil {
		return ledger.Order{}, err
	}
	accountID, err := ledger.NewAccountID(accountIDValue)
	if err != nil {
		return ledger.Order{}, err
	}
	serviceID, err := ledger.NewServiceID(serviceIDValue)
	if err != nil {
		return ledger.Order{}, err
	}
	unitPrice, err := ledger.NewPositivePoints(unitPriceValue)
	if err != nil {
		return ledger.Order{}, err
	}
	totalPrice, err := ledger.NewPositivePoints(totalPriceValue)
	if err != nil {
		return ledger.Order{}, err
	}
	status, err := ledger.ParseOrderStatus(statusValue)
	if err != nil {
		return ledger.Order{}, err
	}
	return ledger.Order{
		OrderID:           orderID,
		AccountID:         accountID,
		ServiceID:         serviceID,
		Quantity:          quantity,
		UnitPrice:         unitPrice,
		TotalPrice:        totalPrice,
		Status:            status,
		ProcessedQuantity: processedQuantity,
		Link:              link,
		CreatedUnixUTC:    createdAtUnixUTC,
		UpdatedUnixUTC:    updatedAtUnixUTC,
	}, nil
}

func scanFundingRequest(row pgx.Row) (ledger.FundingRequest, error) {
	var (
		requestIDValue      int64
		accountIDValue      string
		amountValue         int64
		depositorNameValue  string
		statusValue         string
		requestedAtUnixUTC  int64
		confirmedAtUnixUTC  int64
		matchedNotification string
	)
	if err := row.Scan(
		&requestIDValue,
		&accountIDValue,
		&amountValue,
		&depositorNameValue,
		&statusValue,
		&requestedAtUnixUTC,
		&confirmedAtUnixUTC,
		&matchedNotification,
	); err != nil {
		return ledger.FundingRequest{}, err
	}
	requestID, err := ledger.NewFundingRequestID(requestIDValue)
	if err != nil {
		return ledger.FundingRequest{}, err
	}
	accountID, err := ledger.NewAccountID(accountIDValue)
	if err != nil {
		return ledger.FundingRequest{}, err
	}
	amount, err := ledger.NewPositivePoints(amountValue)
	if err != nil {
		return ledger.FundingRequest{}, err
	}
	depositorName, err := ledger.NewDepositorName(depositorNameValue)
	if err != nil {
		return ledger.FundingRequest{}, err
	}
	status, err := ledger.ParseFundingRequestStatus(statusValue)
	if err != nil {
		return ledger.FundingRequest{}, err
	}
	return ledger.FundingRequest{
		FundingRequestID:    requestID,
		AccountID:           accountID,
		Amount:              amount,
		DepositorName:       depositorName,
		Status:              status,
		RequestedUnixUTC:    requestedAtUnixUTC,
		ConfirmedUnixUTC:    confirmedAtUnixUTC,
		MatchedNotification: matchedNotification,
	}, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func wrapLookupError(subject string, code string, err error, notFound error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return wrapStoreError(subject, code, notFound)
	}
	return wrapStoreError(subject, code, err)
}

func uniqueViolationConstraint(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgCheckViolationCode
	}
	return false
}
