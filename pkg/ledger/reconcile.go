package ledger

import (
	"context"
	"time"
)

// ReconciliationStatus describes what a deposit notification did.
type ReconciliationStatus string

const (
	// ReconciliationIgnored: the body did not follow the deposit layout.
	ReconciliationIgnored ReconciliationStatus = "ignored"
	// ReconciliationNoMatch: no pending request with that amount and name inside the window.
	ReconciliationNoMatch ReconciliationStatus = "no_match"
	// ReconciliationCredited: a request was completed and its amount credited.
	ReconciliationCredited ReconciliationStatus = "credited"
	// ReconciliationAlreadyHandled: a concurrent delivery claimed the same request first.
	ReconciliationAlreadyHandled ReconciliationStatus = OperationStatusAlreadyHandled
)

// String returns the status label.
func (status ReconciliationStatus) String() string {
	return string(status)
}

// ReconciliationResult is the outcome of processing one deposit notification.
type ReconciliationResult struct {
	Status           ReconciliationStatus
	FundingRequestID FundingRequestID
	AccountID        AccountID
	Amount           PositivePoints
	DepositorName    DepositorName
	Entry            Entry
	NewBalance       Points
}

// Reconcile matches a deposit notification to the newest pending funding request with the same
// amount and depositor name requested inside the matching window, completes it and credits the
// account in one transaction.
//
// Unparseable bodies and unmatched deposits succeed without effect. The pending->completed update
// re-checks the status, so a redelivered notification never credits the same request twice; it can
// still complete a second, distinct pending request sharing amount and name, because name+amount is
// the only key the bank notification carries.
func (service *Service) Reconcile(ctx context.Context, notification DepositNotification) (ReconciliationResult, error) {
	parsed, ok := ParseDepositNotification(notification.Body)
	if !ok {
		result := ReconciliationResult{Status: ReconciliationIgnored}
		service.logReconciliation(ctx, result, nil)
		return result, nil
	}
	result := ReconciliationResult{
		Status:        ReconciliationNoMatch,
		Amount:        parsed.Amount,
		DepositorName: parsed.DepositorName,
	}
	trace, err := encodeNotificationTrace(notification)
	if err != nil {
		service.logReconciliation(ctx, result, err)
		return ReconciliationResult{}, err
	}
	metadata, err := newMetadataFromFields(map[string]string{
		metadataKeySender:        notification.From,
		metadataKeyDepositorName: parsed.DepositorName.String(),
	})
	if err != nil {
		service.logReconciliation(ctx, result, err)
		return ReconciliationResult{}, err
	}

	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		nowUnixUTC := service.nowFn()
		candidate, found, err := transactionStore.FindPendingFundingRequest(ctx, FundingMatchQuery{
			Amount:                parsed.Amount,
			DepositorName:         parsed.DepositorName,
			RequestedSinceUnixUTC: nowUnixUTC - int64(service.matchingWindow/time.Second),
		})
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		result.FundingRequestID = candidate.FundingRequestID
		result.AccountID = candidate.AccountID
		if err := transactionStore.UpdateFundingRequestStatus(ctx, FundingTransition{
			FundingRequestID:    candidate.FundingRequestID,
			From:                FundingStatusPending,
			To:                  FundingStatusCompleted,
			ConfirmedUnixUTC:    nowUnixUTC,
			MatchedNotification: trace,
		}); err != nil {
			return err
		}
		requestID := candidate.FundingRequestID
		entry, err := service.applyMutation(ctx, transactionStore, Mutation{
			AccountID:               candidate.AccountID,
			Delta:                   candidate.Amount.ToPoints(),
			Type:                    EntryFundingCredit,
			RelatedFundingRequestID: &requestID,
			Metadata:                metadata,
		})
		if err != nil {
			return err
		}
		result.Status = ReconciliationCredited
		result.Entry = entry
		result.NewBalance = entry.BalanceAfter
		return nil
	})
	if isFundingClaimLost(operationError) {
		result.Status = ReconciliationAlreadyHandled
		operationError = nil
	}
	service.logReconciliation(ctx, result, operationError)
	if operationError != nil {
		return ReconciliationResult{}, operationError
	}
	return result, nil
}

func (service *Service) logReconciliation(ctx context.Context, result ReconciliationResult, err error) {
	entry := OperationLog{
		Operation:        operationReconcile,
		AccountID:        result.AccountID,
		Amount:           result.Amount.ToPoints(),
		EntryType:        EntryFundingCredit,
		FundingRequestID: result.FundingRequestID,
		Error:            err,
	}
	if err == nil {
		entry.Status = result.Status.String()
	}
	service.logOperation(ctx, entry)
}
