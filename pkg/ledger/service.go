package ledger

import (
	"context"
	"fmt"
	"time"
)

// Service contains the domain logic over a Store.
type Service struct {
	store          Store
	nowFn          func() int64
	loggers        []OperationLogger
	matchingWindow time.Duration
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, matchingWindow: DefaultMatchingWindow}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.matchingWindow < time.Second {
		return nil, fmt.Errorf("%w: matching window must be at least one second", ErrInvalidServiceConfig)
	}
	return service, nil
}

// MatchingWindow returns how long pending funding requests remain eligible for reconciliation.
func (service *Service) MatchingWindow() time.Duration {
	return service.matchingWindow
}

// Mutation describes one balance change recorded by the ledger primitive.
type Mutation struct {
	AccountID               AccountID
	Delta                   Points
	Type                    EntryType
	RelatedOrderID          *OrderID
	RelatedFundingRequestID *FundingRequestID
	Metadata                MetadataJSON
}

func (mutation Mutation) validate() error {
	if mutation.AccountID.String() == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if mutation.Delta == 0 {
		return fmt.Errorf("%w: must not be zero", ErrInvalidDelta)
	}
	if _, err := ParseEntryType(mutation.Type.String()); err != nil {
		return err
	}
	hasOrder := mutation.RelatedOrderID != nil
	hasFunding := mutation.RelatedFundingRequestID != nil
	switch mutation.Type {
	case EntryOrderPayment:
		if !hasOrder || hasFunding || mutation.Delta > 0 {
			return fmt.Errorf("%w: order payment must be a debit tied to an order", ErrInvalidEntryRelation)
		}
	case EntryFundingCredit:
		if !hasFunding || hasOrder || mutation.Delta < 0 {
			return fmt.Errorf("%w: funding credit must be a credit tied to a funding request", ErrInvalidEntryRelation)
		}
	case EntryAdminAdjustment:
		if hasOrder || hasFunding {
			return fmt.Errorf("%w: admin adjustment has no related entity", ErrInvalidEntryRelation)
		}
	}
	return nil
}

// OpenAccount returns the account registered for userID, creating it with a zero balance on first use.
func (service *Service) OpenAccount(ctx context.Context, userID UserID) (Account, error) {
	account, operationError := service.store.GetOrCreateAccount(ctx, userID)
	service.logOperation(ctx, OperationLog{
		Operation: operationOpenAccount,
		AccountID: account.AccountID,
		Error:     operationError,
	})
	return account, operationError
}

// GetAccount returns the account with its current balance.
func (service *Service) GetAccount(ctx context.Context, accountID AccountID) (Account, error) {
	return service.store.GetAccount(ctx, accountID)
}

// ApplyLedgerMutation changes the balance and appends the matching audit entry in one transaction.
func (service *Service) ApplyLedgerMutation(ctx context.Context, mutation Mutation) (Entry, error) {
	var entry Entry
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		appliedEntry, err := service.applyMutation(ctx, transactionStore, mutation)
		if err != nil {
			return err
		}
		entry = appliedEntry
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationMutation,
		AccountID: mutation.AccountID,
		Amount:    mutation.Delta,
		EntryType: mutation.Type,
		Error:     operationError,
	})
	if operationError != nil {
		return Entry{}, operationError
	}
	return entry, nil
}

// applyMutation is the ledger primitive. It must run on a transaction-scoped store:
// the account row stays locked from the balance read until commit.
func (service *Service) applyMutation(ctx context.Context, transactionStore Store, mutation Mutation) (Entry, error) {
	if err := mutation.validate(); err != nil {
		return Entry{}, err
	}
	account, err := transactionStore.LockAccount(ctx, mutation.AccountID)
	if err != nil {
		return Entry{}, err
	}
	newBalance, err := addPoints(account.Balance, mutation.Delta)
	if err != nil {
		return Entry{}, err
	}
	if newBalance < 0 {
		return Entry{}, ErrInsufficientFunds
	}
	if err := transactionStore.UpdateAccountBalance(ctx, account.AccountID, account.Balance, newBalance); err != nil {
		return Entry{}, err
	}
	return transactionStore.InsertEntry(ctx, EntryInput{
		AccountID:               account.AccountID,
		Type:                    mutation.Type,
		Delta:                   mutation.Delta,
		RelatedOrderID:          mutation.RelatedOrderID,
		RelatedFundingRequestID: mutation.RelatedFundingRequestID,
		BalanceAfter:            newBalance,
		Metadata:                mutation.Metadata,
		CreatedUnixUTC:          service.nowFn(),
	})
}

// ListEntries lists ledger entries for an account, newest first. A zero beforeEntryID starts at the newest entry.
func (service *Service) ListEntries(ctx context.Context, accountID AccountID, beforeEntryID EntryID, limit int) ([]Entry, error) {
	normalizedLimit, err := NormalizeListLimit(limit)
	if err != nil {
		return nil, err
	}
	if _, err := service.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return service.store.ListEntries(ctx, accountID, beforeEntryID, normalizedLimit)
}

// AuditReport compares the stored balance with the sum of the account's entries.
type AuditReport struct {
	AccountID  AccountID
	Balance    Points
	LedgerSum  Points
	Consistent bool
}

// VerifyAccount checks that the balance equals the sum of all entry deltas.
// A divergence is returned as ErrLedgerMismatch together with the report.
func (service *Service) VerifyAccount(ctx context.Context, accountID AccountID) (AuditReport, error) {
	var report AuditReport
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		ledgerSum, err := transactionStore.SumEntryDeltas(ctx, accountID)
		if err != nil {
			return err
		}
		report = AuditReport{
			AccountID:  account.AccountID,
			Balance:    account.Balance,
			LedgerSum:  ledgerSum,
			Consistent: account.Balance == ledgerSum,
		}
		return nil
	})
	if operationError == nil && !report.Consistent {
		operationError = WrapError(errorOperationService, errorSubjectBalance, errorCodeLedgerMismatch, ErrLedgerMismatch)
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationVerifyAccount,
		AccountID: accountID,
		Amount:    report.Balance,
		Error:     operationError,
	})
	return report, operationError
}

// NormalizeListLimit applies the default page size and rejects limits above MaxListLimit.
func NormalizeListLimit(limit int) (int, error) {
	if limit <= 0 {
		return DefaultListLimit, nil
	}
	if limit > MaxListLimit {
		return 0, fmt.Errorf("%w: %d > %d", ErrInvalidListLimit, limit, MaxListLimit)
	}
	return limit, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if len(service.loggers) == 0 {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	for _, logger := range service.loggers {
		logger.LogOperation(ctx, entry)
	}
}
