package ledger

import "time"

// OperationStatusAlreadyHandled marks an operation whose conditional update lost to a concurrent writer.
const OperationStatusAlreadyHandled = "already_handled"

const (
	operationOpenAccount       = "open_account"
	operationMutation          = "mutation"
	operationPlaceOrder        = "place_order"
	operationAdvanceOrder      = "advance_order"
	operationCreateFunding     = "create_funding_request"
	operationFailFunding       = "fail_funding_request"
	operationReconcile         = "reconcile"
	operationAdjustBalance     = "adjust_balance"
	operationVerifyAccount     = "verify_account"
	operationStatusOK          = "ok"
	operationStatusError       = "error"
	metadataKeyReason          = "reason"
	metadataKeyServiceID       = "service_id"
	metadataKeySender          = "sender"
	metadataKeyDepositorName   = "depositor_name"
	errorOperationService      = "service"
	errorSubjectBalance        = "balance"
	errorSubjectOrder          = "order"
	errorSubjectNotification   = "notification"
	errorCodeOverflow          = "overflow"
	errorCodeInvalidTransition = "invalid_transition"
	errorCodeEncode            = "encode"
	errorCodeLedgerMismatch    = "ledger_mismatch"
	minimumNotificationLines   = 6
	depositorNameLineIndex     = 3
	depositAmountLineIndex     = 5
	thousandsSeparator         = ","
	maxDepositorNameLength     = 64
	maxLinkLength              = 2048
	DefaultMatchingWindow      = 72 * time.Hour
	DefaultListLimit           = 50
	MaxListLimit               = 200
)
