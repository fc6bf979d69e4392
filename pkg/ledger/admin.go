package ledger

import (
	"context"
	"strings"
)

// AdjustBalance applies a manual correction through the ledger primitive. No magnitude cap applies;
// a debit still cannot take the balance below zero.
func (service *Service) AdjustBalance(ctx context.Context, accountID AccountID, delta Points, reason string) (Entry, error) {
	var entry Entry
	fields := map[string]string{}
	if trimmedReason := strings.TrimSpace(reason); trimmedReason != "" {
		fields[metadataKeyReason] = trimmedReason
	}
	metadata, operationError := newMetadataFromFields(fields)
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			appliedEntry, err := service.applyMutation(ctx, transactionStore, Mutation{
				AccountID: accountID,
				Delta:     delta,
				Type:      EntryAdminAdjustment,
				Metadata:  metadata,
			})
			if err != nil {
				return err
			}
			entry = appliedEntry
			return nil
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationAdjustBalance,
		AccountID: accountID,
		Amount:    delta,
		EntryType: EntryAdminAdjustment,
		Error:     operationError,
	})
	if operationError != nil {
		return Entry{}, operationError
	}
	return entry, nil
}
