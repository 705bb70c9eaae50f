package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeTradeCreated   = "TRADE_CREATED"
	EventTypeTradeReviewed  = "TRADE_REVIEWED"
	EventTypeTradeSold      = "TRADE_SOLD"
	EventTypeWalletRequest  = "WALLET_REQUESTED"
	EventTypeWalletReviewed = "WALLET_REVIEWED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event ID
func NewBaseEvent(eventType string, at time.Time) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: at,
	}
}

// TradeCreatedEvent published when a vendor reserves stock
type TradeCreatedEvent struct {
	BaseEvent
	TradeID         string          `json:"trade_id"`
	ProductID       string          `json:"product_id"`
	VendorID        string          `json:"vendor_id"`
	Quantity        int             `json:"quantity"`
	TotalAmountPaid decimal.Decimal `json:"total_amount_paid"`
	PaidFromWallet  bool            `json:"paid_from_wallet"`
}

// TradeReviewedEvent published when an admin approves or rejects a trade
type TradeReviewedEvent struct {
	BaseEvent
	TradeID   string `json:"trade_id"`
	ProductID string `json:"product_id"`
	VendorID  string `json:"vendor_id"`
	Decision  string `json:"decision"`
	Comment   string `json:"comment,omitempty"`
	Restocked int    `json:"restocked"`
}

// TradeSoldEvent published when a vendor sells a holding
type TradeSoldEvent struct {
	BaseEvent
	TradeID   string          `json:"trade_id"`
	VendorID  string          `json:"vendor_id"`
	WalletID  string          `json:"wallet_id"`
	SalePrice decimal.Decimal `json:"sale_price"`
	Credited  decimal.Decimal `json:"credited"`
}

// WalletRequestedEvent published when a deposit or withdrawal awaits review
type WalletRequestedEvent struct {
	BaseEvent
	TransID         int64           `json:"trans_id"`
	WalletID        string          `json:"wallet_id"`
	OwnerID         string          `json:"owner_id"`
	TransactionType string          `json:"transaction_type"`
	Amount          decimal.Decimal `json:"amount"`
}

// WalletReviewedEvent published when a wallet transaction is settled
type WalletReviewedEvent struct {
	BaseEvent
	TransID         int64            `json:"trans_id"`
	WalletID        string           `json:"wallet_id"`
	OwnerID         string           `json:"owner_id"`
	TransactionType string           `json:"transaction_type"`
	Decision        string           `json:"decision"`
	Amount          decimal.Decimal  `json:"amount"`
	BalanceAfter    *decimal.Decimal `json:"balance_after,omitempty"`
	Comment         string           `json:"comment,omitempty"`
}
