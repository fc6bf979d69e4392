package gormstore

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table.
type Account struct {
	AccountID string    `gorm:"size:36;primaryKey"`
	UserID    string    `gorm:"size:128;not null;uniqueIndex:uniq_accounts_user"`
	Balance   int64     `gorm:"not null;default:0;check:chk_accounts_balance_non_negative,balance >= 0"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// LedgerEntry mirrors the append-only ledger_entries table.
// The unique indexes on the related ids make a second debit for one order, or a second
// credit for one funding request, fail at the database as well.
type LedgerEntry struct {
	EntryID                 int64          `gorm:"primaryKey;autoIncrement"`
	AccountID               string         `gorm:"size:36;not null;index:idx_ledger_entries_account"`
	Type                    string         `gorm:"size:32;not null"`
	Delta                   int64          `gorm:"not null"`
	RelatedOrderID          *int64         `gorm:"uniqueIndex:uniq_ledger_entries_order"`
	RelatedFundingRequestID *int64         `gorm:"uniqueIndex:uniq_ledger_entries_funding_request"`
	BalanceAfter            int64          `gorm:"not null"`
	Metadata                datatypes.JSON `gorm:"not null"`
	CreatedAt               time.Time      `gorm:"not null"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

// Order mirrors the orders table.
type Order struct {
	OrderID           int64     `gorm:"primaryKey;autoIncrement"`
	AccountID         string    `gorm:"size:36;not null;index:idx_orders_account"`
	ServiceID         string    `gorm:"size:128;not null"`
	Quantity          int64     `gorm:"not null"`
	UnitPrice         int64     `gorm:"not null"`
	TotalPrice        int64     `gorm:"not null"`
	Status            string    `gorm:"size:16;not null"`
	ProcessedQuantity int64     `gorm:"not null"`
	Link              string    `gorm:"type:text;not null"`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

func (Order) TableName() string { return "orders" }

// FundingRequest mirrors the funding_requests table.
type FundingRequest struct {
	FundingRequestID    int64      `gorm:"primaryKey;autoIncrement"`
	AccountID           string     `gorm:"size:36;not null;index:idx_funding_requests_account"`
	RequestedAmount     int64      `gorm:"not null;index:idx_funding_requests_match,priority:2"`
	DepositorName       string     `gorm:"size:64;not null;index:idx_funding_requests_match,priority:3"`
	Status              string     `gorm:"size:16;not null;index:idx_funding_requests_match,priority:1"`
	RequestedAt         time.Time  `gorm:"not null;index:idx_funding_requests_match,priority:4"`
	ConfirmedAt         *time.Time `gorm:""`
	MatchedNotification *string    `gorm:"type:text"`
}

func (FundingRequest) TableName() string { return "funding_requests" }

// AutoMigrate creates or updates every table the store uses.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Account{}, &LedgerEntry{}, &Order{}, &FundingRequest{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
