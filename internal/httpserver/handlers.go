package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/pointsledger/pkg/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	pathParamID      = "id"
	queryParamBefore = "before"
	queryParamLimit  = "limit"
)

// Handler adapts HTTP requests to ledger.Service calls.
type Handler struct {
	service *ledger.Service
	logger  *zap.Logger
	cfg     Config
	nowFn   func() int64
}

// NewHandler wires a Handler. now drives the expired flag on funding requests.
func NewHandler(service *ledger.Service, logger *zap.Logger, cfg Config, now func() int64) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = func() int64 { return time.Now().UTC().Unix() }
	}
	return &Handler{service: service, logger: logger, cfg: cfg, nowFn: now}
}

func (handler *Handler) handleOpenAccount(ctx *gin.Context) {
	var request openAccountRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	userID, err := ledger.NewUserID(request.UserID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	account, err := handler.service.OpenAccount(ctx.Request.Context(), userID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"account": newAccountPayload(account)})
}

func (handler *Handler) handleGetAccount(ctx *gin.Context) {
	accountID, err := ledger.NewAccountID(ctx.Param(pathParamID))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	account, err := handler.service.GetAccount(ctx.Request.Context(), accountID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"account": newAccountPayload(account)})
}

func (handler *Handler) handleListEntries(ctx *gin.Context) {
	accountID, err := ledger.NewAccountID(ctx.Param(pathParamID))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	beforeEntryID, err := parseBeforeEntryID(ctx.Query(queryParamBefore))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	limit, err := handler.parseLimit(ctx.Query(queryParamLimit))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	entries, err := handler.service.ListEntries(ctx.Request.Context(), accountID, beforeEntryID, limit)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	payload := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, newEntryPayload(entry))
	}
	response := gin.H{"entries": payload}
	if len(entries) == limit {
		response["next_before"] = entries[len(entries)-1].EntryID.Int64()
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *Handler) handleAudit(ctx *gin.Context) {
	accountID, err := ledger.NewAccountID(ctx.Param(pathParamID))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	report, err := handler.service.VerifyAccount(ctx.Request.Context(), accountID)
	if err != nil && !errors.Is(err, ledger.ErrLedgerMismatch) {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"audit": auditPayload{
		AccountID:  report.AccountID.String(),
		Balance:    report.Balance.Int64(),
		LedgerSum:  report.LedgerSum.Int64(),
		Consistent: report.Consistent,
	}})
}

func (handler *Handler) handleListOrders(ctx *gin.Context) {
	accountID, err := ledger.NewAccountID(ctx.Param(pathParamID))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	limit, err := handler.parseLimit(ctx.Query(queryParamLimit))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	orders, err := handler.service.ListOrders(ctx.Request.Context(), accountID, limit)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	payload := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		payload = append(payload, newOrderPayload(order))
	}
	ctx.JSON(http.StatusOK, gin.H{"orders": payload})
}

func (handler *Handler) handleListFundingRequests(ctx *gin.Context) {
	accountID, err := ledger.NewAccountID(ctx.Param(pathParamID))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	limit, err := handler.parseLimit(ctx.Query(queryParamLimit))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requests, err := handler.service.ListFundingRequests(ctx.Request.Context(), accountID, limit)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	payload := make([]fundingRequestPayload, 0, len(requests))
	for _, request := range requests {
		payload = append(payload, handler.newFundingRequestPayload(request))
	}
	ctx.JSON(http.StatusOK, gin.H{"funding_requests": payload})
}

func (handler *Handler) handlePlaceOrder(ctx *gin.Context) {
	var request placeOrderRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	orderRequest, err := request.toOrderRequest()
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	receipt, err := handler.service.PlaceOrder(ctx.Request.Context(), orderRequest)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"order_id":    receipt.Order.OrderID.Int64(),
		"new_balance": receipt.NewBalance.Int64(),
		"order":       newOrderPayload(receipt.Order),
		"entry":       newEntryPayload(receipt.Entry),
	})
}

func (handler *Handler) handleGetOrder(ctx *gin.Context) {
	orderID, err := parseOrderID(ctx.Param(pathParamID))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	order, err := handler.service.GetOrder(ctx.Request.Context(), orderID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": newOrderPayload(order)})
}

func (handler *Handler) handleCreateFundingRequest(ctx *gin.Context) {
	var request createFundingRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	accountID, err := ledger.NewAccountID(request.AccountID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	amount, err := ledger.NewPositivePoints(request.Amount)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	depositorName, err := ledger.NewDepositorName(request.DepositorName)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	created, err := handler.service.CreateFundingRequest(ctx.Request.Context(), accountID, amount, depositorName)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"funding_request_id": created.FundingRequestID.Int64(),
		"funding_request":    handler.newFundingRequestPayload(created),
	})
}

func (handler *Handler) handleGetFundingRequest(ctx *gin.Context) {
	requestID, err := parseFundingRequestID(ctx.Param(pathParamID))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	request, err := handler.service.GetFundingRequest(ctx.Request.Context(), requestID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"funding_request": handler.newFundingRequestPayload(request)})
}

func (handler *Handler) handleDepositNotification(ctx *gin.Context) {
	var request depositNotificationRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	notification := ledger.DepositNotification{From: request.From, Body: request.Body}
	if trimmed := strings.TrimSpace(request.ReceivedAt); trimmed != "" {
		receivedAt, err := time.Parse(time.RFC3339, trimmed)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "receivedAt must be ISO-8601"))
			return
		}
		notification.ReceivedAt = receivedAt
	}
	result, err := handler.service.Reconcile(ctx.Request.Context(), notification)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	response := gin.H{"status": result.Status.String()}
	if result.Status == ledger.ReconciliationCredited {
		response["funding_request_id"] = result.FundingRequestID.Int64()
		response["account_id"] = result.AccountID.String()
		response["new_balance"] = result.NewBalance.Int64()
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *Handler) handleAdjustBalance(ctx *gin.Context) {
	accountID, err := ledger.NewAccountID(ctx.Param(pathParamID))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	var request adjustmentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	delta, err := ledger.NewDelta(request.Delta)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	entry, err := handler.service.AdjustBalance(ctx.Request.Context(), accountID, delta, request.Reason)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	handler.logger.Info("admin adjustment applied",
		zap.String("admin", adminSubject(ctx)),
		zap.String("account_id", accountID.String()),
		zap.Int64("delta", delta.Int64()),
	)
	ctx.JSON(http.StatusOK, gin.H{
		"new_balance": entry.BalanceAfter.Int64(),
		"entry":       newEntryPayload(entry),
	})
}

func (handler *Handler) handleFailFundingRequest(ctx *gin.Context) {
	requestID, err := parseFundingRequestID(ctx.Param(pathParamID))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	failed, err := handler.service.FailFundingRequest(ctx.Request.Context(), requestID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"funding_request": handler.newFundingRequestPayload(failed)})
}

func (handler *Handler) handleAdvanceOrder(ctx *gin.Context) {
	orderID, err := parseOrderID(ctx.Param(pathParamID))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	var request advanceOrderRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	status, err := ledger.ParseOrderStatus(request.Status)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	order, err := handler.service.AdvanceOrder(ctx.Request.Context(), orderID, status, request.ProcessedQuantity)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": newOrderPayload(order)})
}

func (handler *Handler) writeError(ctx *gin.Context, err error) {
	statusCode, code, message := describeError(err)
	if statusCode >= http.StatusInternalServerError {
		handler.logger.Error("request failed",
			zap.String("route", ctx.FullPath()),
			zap.Error(err),
		)
	}
	ctx.JSON(statusCode, errorResponse(code, message))
}

func (handler *Handler) parseLimit(raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return handler.cfg.DefaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("%w: %q", ledger.ErrInvalidListLimit, raw)
	}
	return limit, nil
}

func parseBeforeEntryID(raw string) (ledger.EntryID, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ledger.ErrInvalidEntryID, raw)
	}
	return ledger.NewEntryID(value)
}

func parseOrderID(raw string) (ledger.OrderID, error) {
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ledger.ErrInvalidOrderID, raw)
	}
	return ledger.NewOrderID(value)
}

func parseFundingRequestID(raw string) (ledger.FundingRequestID, error) {
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ledger.ErrInvalidFundingRequestID, raw)
	}
	return ledger.NewFundingRequestID(value)
}

type openAccountRequest struct {
	UserID string `json:"user_id"`
}

type placeOrderRequest struct {
	AccountID  string `json:"account_id"`
	ServiceID  string `json:"service_id"`
	Quantity   int64  `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	TotalPrice int64  `json:"total_price"`
	Link       string `json:"link"`
}

// toOrderRequest resolves the unit price from unit_price, or from a total_price that divides evenly by quantity.
func (request placeOrderRequest) toOrderRequest() (ledger.OrderRequest, error) {
	accountID, err := ledger.NewAccountID(request.AccountID)
	if err != nil {
		return ledger.OrderRequest{}, err
	}
	serviceID, err := ledger.NewServiceID(request.ServiceID)
	if err != nil {
		return ledger.OrderRequest{}, err
	}
	if request.Quantity <= 0 {
		return ledger.OrderRequest{}, fmt.Errorf("%w: must be greater than zero", ledger.ErrInvalidQuantity)
	}
	var rawUnitPrice int64
	switch {
	case request.UnitPrice > 0:
		if request.TotalPrice > 0 && (request.TotalPrice%request.Quantity != 0 || request.TotalPrice/request.Quantity != request.UnitPrice) {
			return ledger.OrderRequest{}, fmt.Errorf("%w: total_price does not equal unit_price x quantity", ledger.ErrInvalidAmount)
		}
		rawUnitPrice = request.UnitPrice
	case request.TotalPrice > 0:
		if request.TotalPrice%request.Quantity != 0 {
			return ledger.OrderRequest{}, fmt.Errorf("%w: total_price is not divisible by quantity", ledger.ErrInvalidAmount)
		}
		rawUnitPrice = request.TotalPrice / request.Quantity
	default:
		return ledger.OrderRequest{}, fmt.Errorf("%w: unit_price or total_price is required", ledger.ErrInvalidAmount)
	}
	unitPrice, err := ledger.NewPositivePoints(rawUnitPrice)
	if err != nil {
		return ledger.OrderRequest{}, err
	}
	return ledger.OrderRequest{
		AccountID: accountID,
		ServiceID: serviceID,
		Quantity:  request.Quantity,
		UnitPrice: unitPrice,
		Link:      request.Link,
	}, nil
}

type createFundingRequest struct {
	AccountID     string `json:"account_id"`
	Amount        int64  `json:"amount"`
	DepositorName string `json:"depositor_name"`
}

type depositNotificationRequest struct {
	From       string `json:"from"`
	Body       string `json:"body"`
	ReceivedAt string `json:"receivedAt"`
}

type adjustmentRequest struct {
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
}

type advanceOrderRequest struct {
	Status            string `json:"status"`
	ProcessedQuantity int64  `json:"processed_quantity"`
}

type accountPayload struct {
	AccountID      string `json:"account_id"`
	UserID         string `json:"user_id"`
	Balance        int64  `json:"balance"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

func newAccountPayload(account ledger.Account) accountPayload {
	return accountPayload{
		AccountID:      account.AccountID.String(),
		UserID:         account.UserID.String(),
		Balance:        account.Balance.Int64(),
		CreatedUnixUTC: account.CreatedUnixUTC,
	}
}

type entryPayload struct {
	EntryID                 int64           `json:"entry_id"`
	AccountID               string          `json:"account_id"`
	Type                    string          `json:"type"`
	Delta                   int64           `json:"delta"`
	RelatedOrderID          *int64          `json:"related_order_id,omitempty"`
	RelatedFundingRequestID *int64          `json:"related_funding_request_id,omitempty"`
	BalanceAfter            int64           `json:"balance_after"`
	Metadata                json.RawMessage `json:"metadata"`
	CreatedUnixUTC          int64           `json:"created_unix_utc"`
}

func newEntryPayload(entry ledger.Entry) entryPayload {
	payload := entryPayload{
		EntryID:        entry.EntryID.Int64(),
		AccountID:      entry.AccountID.String(),
		Type:           entry.Type.String(),
		Delta:          entry.Delta.Int64(),
		BalanceAfter:   entry.BalanceAfter.Int64(),
		Metadata:       json.RawMessage(entry.Metadata.String()),
		CreatedUnixUTC: entry.CreatedUnixUTC,
	}
	if entry.RelatedOrderID != nil {
		value := entry.RelatedOrderID.Int64()
		payload.RelatedOrderID = &value
	}
	if entry.RelatedFundingRequestID != nil {
		value := entry.RelatedFundingRequestID.Int64()
		payload.RelatedFundingRequestID = &value
	}
	return payload
}

type orderPayload struct {
	OrderID           int64  `json:"order_id"`
	AccountID         string `json:"account_id"`
	ServiceID         string `json:"service_id"`
	Quantity          int64  `json:"quantity"`
	UnitPrice         int64  `json:"unit_price"`
	TotalPrice        int64  `json:"total_price"`
	Status            string `json:"status"`
	ProcessedQuantity int64  `json:"processed_quantity"`
	Link              string `json:"link"`
	CreatedUnixUTC    int64  `json:"created_unix_utc"`
	UpdatedUnixUTC    int64  `json:"updated_unix_utc"`
}

func newOrderPayload(order ledger.Order) orderPayload {
	return orderPayload{
		OrderID:           order.OrderID.Int64(),
		AccountID:         order.AccountID.String(),
		ServiceID:         order.ServiceID.String(),
		Quantity:          order.Quantity,
		UnitPrice:         order.UnitPrice.Int64(),
		TotalPrice:        order.TotalPrice.Int64(),
		Status:            order.Status.String(),
		ProcessedQuantity: order.ProcessedQuantity,
		Link:              order.Link,
		CreatedUnixUTC:    order.CreatedUnixUTC,
		UpdatedUnixUTC:    order.UpdatedUnixUTC,
	}
}

type fundingRequestPayload struct {
	FundingRequestID int64  `json:"funding_request_id"`
	AccountID        string `json:"account_id"`
	Amount           int64  `json:"amount"`
	DepositorName    string `json:"depositor_name"`
	Status           string `json:"status"`
	Expired          bool   `json:"expired"`
	RequestedUnixUTC int64  `json:"requested_unix_utc"`
	ConfirmedUnixUTC int64  `json:"confirmed_unix_utc,omitempty"`
}

func (handler *Handler) newFundingRequestPayload(request ledger.FundingRequest) fundingRequestPayload {
	return fundingRequestPayload{
		FundingRequestID: request.FundingRequestID.Int64(),
		AccountID:        request.AccountID.String(),
		Amount:           request.Amount.Int64(),
		DepositorName:    request.DepositorName.String(),
		Status:           request.Status.String(),
		Expired:          request.Expired(handler.nowFn(), handler.service.MatchingWindow()),
		RequestedUnixUTC: request.RequestedUnixUTC,
		ConfirmedUnixUTC: request.ConfirmedUnixUTC,
	}
}

type auditPayload struct {
	AccountID  string `json:"account_id"`
	Balance    int64  `json:"balance"`
	LedgerSum  int64  `json:"ledger_sum"`
	Consistent bool   `json:"consistent"`
}
