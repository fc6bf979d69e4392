package ledger

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ParsedDeposit is the amount and sender extracted from a deposit notification body.
type ParsedDeposit struct {
	Amount        PositivePoints
	DepositorName DepositorName
}

// ParseDepositNotification extracts the depositor name (line 3) and amount (line 5) from the
// non-blank lines of a bank notification body. It reports false for bodies that do not follow
// the layout; those are unrelated notifications, not errors.
func ParseDepositNotification(body string) (ParsedDeposit, bool) {
	lines := nonBlankLines(body)
	if len(lines) < minimumNotificationLines {
		return ParsedDeposit{}, false
	}
	depositorName, err := NewDepositorName(lines[depositorNameLineIndex])
	if err != nil {
		return ParsedDeposit{}, false
	}
	amountText := strings.ReplaceAll(lines[depositAmountLineIndex], thousandsSeparator, "")
	rawAmount, err := strconv.ParseInt(strings.TrimSpace(amountText), 10, 64)
	if err != nil {
		return ParsedDeposit{}, false
	}
	amount, err := NewPositivePoints(rawAmount)
	if err != nil {
		return ParsedDeposit{}, false
	}
	return ParsedDeposit{Amount: amount, DepositorName: depositorName}, true
}

func nonBlankLines(body string) []string {
	rawLines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(rawLines))
	for _, rawLine := range rawLines {
		trimmed := strings.TrimSpace(rawLine)
		if trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}

type notificationTrace struct {
	From       string `json:"from"`
	Body       string `json:"body"`
	ReceivedAt string `json:"received_at,omitempty"`
}

// encodeNotificationTrace keeps the raw payload that completed a funding request.
func encodeNotificationTrace(notification DepositNotification) (string, error) {
	trace := notificationTrace{From: notification.From, Body: notification.Body}
	if !notification.ReceivedAt.IsZero() {
		trace.ReceivedAt = notification.ReceivedAt.UTC().Format(time.RFC3339)
	}
	encoded, err := json.Marshal(trace)
	if err != nil {
		return "", WrapError(errorOperationService, errorSubjectNotification, errorCodeEncode, err)
	}
	return string(encoded), nil
}
