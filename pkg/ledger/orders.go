package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// OrderRequest asks to buy quantity units of a service at a unit price already resolved by the catalog.
// Price resolution happens before PlaceOrder so no catalog I/O runs inside the monetary transaction.
type OrderRequest struct {
	AccountID AccountID
	ServiceID ServiceID
	Quantity  int64
	UnitPrice PositivePoints
	Link      string
}

// OrderReceipt is the result of a successful order placement.
type OrderReceipt struct {
	Order      Order
	Entry      Entry
	NewBalance Points
}

func (request OrderRequest) validate() (PositivePoints, error) {
	if request.AccountID.String() == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if request.ServiceID.String() == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidServiceID)
	}
	if request.UnitPrice <= 0 {
		return 0, fmt.Errorf("%w: unit price must be greater than zero", ErrInvalidAmount)
	}
	if utf8.RuneCountInString(request.Link) > maxLinkLength {
		return 0, fmt.Errorf("%w: longer than %d characters", ErrInvalidLink, maxLinkLength)
	}
	return multiplyPrice(request.UnitPrice, request.Quantity)
}

// PlaceOrder debits the order total and records a Pending order. Either both the order and its
// order_payment entry are committed, or neither is.
func (service *Service) PlaceOrder(ctx context.Context, request OrderRequest) (OrderReceipt, error) {
	var receipt OrderReceipt
	totalPrice, operationError := request.validate()
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			account, err := transactionStore.LockAccount(ctx, request.AccountID)
			if err != nil {
				return err
			}
			if account.Balance < totalPrice.ToPoints() {
				return ErrInsufficientFunds
			}
			order, err := transactionStore.InsertOrder(ctx, OrderInput{
				AccountID:      account.AccountID,
				ServiceID:      request.ServiceID,
				Quantity:       request.Quantity,
				UnitPrice:      request.UnitPrice,
				TotalPrice:     totalPrice,
				Link:           strings.TrimSpace(request.Link),
				CreatedUnixUTC: service.nowFn(),
			})
			if err != nil {
				return err
			}
			metadata, err := newMetadataFromFields(map[string]string{metadataKeyServiceID: request.ServiceID.String()})
			if err != nil {
				return err
			}
			orderID := order.OrderID
			entry, err := service.applyMutation(ctx, transactionStore, Mutation{
				AccountID:      account.AccountID,
				Delta:          totalPrice.ToPoints().Negated(),
				Type:           EntryOrderPayment,
				RelatedOrderID: &orderID,
				Metadata:       metadata,
			})
			if err != nil {
				return err
			}
			receipt = OrderReceipt{Order: order, Entry: entry, NewBalance: entry.BalanceAfter}
			return nil
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationPlaceOrder,
		AccountID: request.AccountID,
		Amount:    totalPrice.ToPoints().Negated(),
		EntryType: EntryOrderPayment,
		OrderID:   receipt.Order.OrderID,
		Error:     operationError,
	})
	if operationError != nil {
		return OrderReceipt{}, operationError
	}
	return receipt, nil
}

// GetOrder returns a single order.
func (service *Service) GetOrder(ctx context.Context, orderID OrderID) (Order, error) {
	return service.store.GetOrder(ctx, orderID)
}

// ListOrders lists an account's orders, newest first.
func (service *Service) ListOrders(ctx context.Context, accountID AccountID, limit int) ([]Order, error) {
	normalizedLimit, err := NormalizeListLimit(limit)
	if err != nil {
		return nil, err
	}
	if _, err := service.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return service.store.ListOrders(ctx, accountID, normalizedLimit)
}

// AdvanceOrder records a status reported by the external fulfilment collaborator.
// It never touches the balance.
func (service *Service) AdvanceOrder(ctx context.Context, orderID OrderID, next OrderStatus, processedQuantity int64) (Order, error) {
	var advanced Order
	alreadyHandled := false
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		order, err := transactionStore.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !order.Status.CanAdvanceTo(next) {
			return WrapError(errorOperationService, errorSubjectOrder, errorCodeInvalidTransition,
				fmt.Errorf("%w: %s -> %s", ErrInvalidOrderTransition, order.Status, next))
		}
		if processedQuantity < 0 || processedQuantity > order.Quantity {
			return fmt.Errorf("%w: processed quantity must be within 0..%d", ErrInvalidQuantity, order.Quantity)
		}
		nowUnixUTC := service.nowFn()
		err = transactionStore.UpdateOrderStatus(ctx, OrderTransition{
			OrderID:           order.OrderID,
			From:              order.Status,
			To:                next,
			ProcessedQuantity: processedQuantity,
			UpdatedUnixUTC:    nowUnixUTC,
		})
		if errors.Is(err, ErrConcurrencyConflict) {
			// Another status delivery committed first; report the order as it now stands.
			current, readErr := transactionStore.GetOrder(ctx, orderID)
			if readErr != nil {
				return readErr
			}
			advanced = current
			alreadyHandled = true
			return nil
		}
		if err != nil {
			return err
		}
		order.Status = next
		order.ProcessedQuantity = processedQuantity
		order.UpdatedUnixUTC = nowUnixUTC
		advanced = order
		return nil
	})
	entry := OperationLog{
		Operation: operationAdvanceOrder,
		AccountID: advanced.AccountID,
		OrderID:   orderID,
		Error:     operationError,
	}
	if alreadyHandled && operationError == nil {
		entry.Status = OperationStatusAlreadyHandled
	}
	service.logOperation(ctx, entry)
	if operationError != nil {
		return Order{}, operationError
	}
	return advanced, nil
}
