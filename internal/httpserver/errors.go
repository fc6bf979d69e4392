package httpserver

import (
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/pointsledger/pkg/ledger"
	"github.com/gin-gonic/gin"
)

const (
	codeInvalidPayload   = "invalid_payload"
	codeUnauthorized     = "unauthorized"
	codeForbidden        = "forbidden"
	codeStorageFailure   = "storage_failure"
	codeValidationFailed = "invalid_request"
)

type errorMapping struct {
	target     error
	statusCode int
	code       string
}

// errorMappings is ordered: the first matching target wins.
var errorMappings = []errorMapping{
	{target: ledger.ErrInsufficientFunds, statusCode: http.StatusConflict, code: "insufficient_funds"},
	{target: ledger.ErrAccountNotFound, statusCode: http.StatusNotFound, code: "account_not_found"},
	{target: ledger.ErrOrderNotFound, statusCode: http.StatusNotFound, code: "order_not_found"},
	{target: ledger.ErrFundingRequestNotFound, statusCode: http.StatusNotFound, code: "funding_request_not_found"},
	{target: ledger.ErrFundingRequestClosed, statusCode: http.StatusConflict, code: "funding_request_closed"},
	{target: ledger.ErrInvalidOrderTransition, statusCode: http.StatusConflict, code: "invalid_order_transition"},
	{target: ledger.ErrConcurrencyConflict, statusCode: http.StatusConflict, code: "concurrency_conflict"},
	{target: ledger.ErrInvalidAccountID, statusCode: http.StatusBadRequest, code: "invalid_account_id"},
	{target: ledger.ErrInvalidUserID, statusCode: http.StatusBadRequest, code: "invalid_user_id"},
	{target: ledger.ErrInvalidServiceID, statusCode: http.StatusBadRequest, code: "invalid_service_id"},
	{target: ledger.ErrInvalidEntryID, statusCode: http.StatusBadRequest, code: "invalid_entry_id"},
	{target: ledger.ErrInvalidOrderID, statusCode: http.StatusBadRequest, code: "invalid_order_id"},
	{target: ledger.ErrInvalidFundingRequestID, statusCode: http.StatusBadRequest, code: "invalid_funding_request_id"},
	{target: ledger.ErrInvalidAmount, statusCode: http.StatusBadRequest, code: "invalid_amount"},
	{target: ledger.ErrInvalidDelta, statusCode: http.StatusBadRequest, code: "invalid_delta"},
	{target: ledger.ErrInvalidQuantity, statusCode: http.StatusBadRequest, code: "invalid_quantity"},
	{target: ledger.ErrInvalidDepositorName, statusCode: http.StatusBadRequest, code: "invalid_depositor_name"},
	{target: ledger.ErrInvalidLink, statusCode: http.StatusBadRequest, code: "invalid_link"},
	{target: ledger.ErrInvalidOrderStatus, statusCode: http.StatusBadRequest, code: "invalid_order_status"},
	{target: ledger.ErrInvalidListLimit, statusCode: http.StatusBadRequest, code: "invalid_list_limit"},
}

// describeError maps a service error to an HTTP status, a stable code and a client-safe message.
func describeError(err error) (int, string, string) {
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			return mapping.statusCode, mapping.code, mapping.target.Error()
		}
	}
	if ledger.IsValidationError(err) {
		return http.StatusBadRequest, codeValidationFailed, "request rejected"
	}
	return http.StatusInternalServerError, codeStorageFailure, "internal error"
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
