package ledger

import (
	"context"
	"errors"
	"fmt"
)

// CreateFundingRequest records a pending intent to deposit amount under depositorName.
// Identical pending requests are allowed; reconciliation resolves them newest first.
func (service *Service) CreateFundingRequest(ctx context.Context, accountID AccountID, amount PositivePoints, depositorName DepositorName) (FundingRequest, error) {
	var request FundingRequest
	operationError := validateFundingInput(accountID, amount, depositorName)
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			account, err := transactionStore.GetAccount(ctx, accountID)
			if err != nil {
				return err
			}
			created, err := transactionStore.InsertFundingRequest(ctx, FundingRequestInput{
				AccountID:        account.AccountID,
				Amount:           amount,
				DepositorName:    depositorName,
				RequestedUnixUTC: service.nowFn(),
			})
			if err != nil {
				return err
			}
			request = created
			return nil
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation:        operationCreateFunding,
		AccountID:        accountID,
		Amount:           amount.ToPoints(),
		FundingRequestID: request.FundingRequestID,
		Error:            operationError,
	})
	if operationError != nil {
		return FundingRequest{}, operationError
	}
	return request, nil
}

func validateFundingInput(accountID AccountID, amount PositivePoints, depositorName DepositorName) error {
	if accountID.String() == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if depositorName.String() == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidDepositorName)
	}
	return nil
}

// GetFundingRequest returns a single funding request.
func (service *Service) GetFundingRequest(ctx context.Context, requestID FundingRequestID) (FundingRequest, error) {
	return service.store.GetFundingRequest(ctx, requestID)
}

// ListFundingRequests lists an account's funding requests, newest first.
func (service *Service) ListFundingRequests(ctx context.Context, accountID AccountID, limit int) ([]FundingRequest, error) {
	normalizedLimit, err := NormalizeListLimit(limit)
	if err != nil {
		return nil, err
	}
	if _, err := service.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return service.store.ListFundingRequests(ctx, accountID, normalizedLimit)
}

// FailFundingRequest closes a pending request without crediting it (manual resolution).
// A request that is no longer pending yields ErrFundingRequestClosed.
func (service *Service) FailFundingRequest(ctx context.Context, requestID FundingRequestID) (FundingRequest, error) {
	var failed FundingRequest
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		request, err := transactionStore.GetFundingRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := transactionStore.UpdateFundingRequestStatus(ctx, FundingTransition{
			FundingRequestID: request.FundingRequestID,
			From:             FundingStatusPending,
			To:               FundingStatusFailed,
		}); err != nil {
			return err
		}
		request.Status = FundingStatusFailed
		failed = request
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:        operationFailFunding,
		AccountID:        failed.AccountID,
		FundingRequestID: requestID,
		Error:            operationError,
	})
	if operationError != nil {
		return FundingRequest{}, operationError
	}
	return failed, nil
}

func isFundingClaimLost(err error) bool {
	return errors.Is(err, ErrFundingRequestClosed)
}
