package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Caller roles
const (
	RoleVendor = "vendor"
	RoleAdmin  = "admin"
)

// Stock statuses
const (
	StockAvailable  = "available"
	StockLow        = "low"
	StockOutOfStock = "out_of_stock"
)

// StockStatusFor derives stock_status from available_stock.
func StockStatusFor(available, lowThreshold int) string {
	switch {
	case available <= 0:
		return StockOutOfStock
	case available < lowThreshold:
		return StockLow
	default:
		return StockAvailable
	}
}

// Product represents a tradable paper product
type Product struct {
	ProductID      string          `db:"product_id" json:"product_id"`
	PaperType      string          `db:"paper_type" json:"paper_type"`
	Size           string          `db:"size" json:"size"`
	GSM            int             `db:"gsm" json:"gsm"`
	PricePerSlot   decimal.Decimal `db:"price_per_slot" json:"price_per_slot"`
	SellingPrice   decimal.Decimal `db:"selling_price" json:"selling_price"`
	AvailableStock int             `db:"available_stock" json:"available_stock"`
	StockStatus    string          `db:"stock_status" json:"stock_status"`
	ImageURL       *string         `db:"product_image_url" json:"image_url,omitempty"`
	LastUpdated    time.Time       `db:"last_updated" json:"last_updated"`
}

// Approval statuses shared by trades and wallet transactions
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// Trade represents a vendor's purchase of product stock
type Trade struct {
	TradeID         string           `db:"trade_id" json:"trade_id"`
	ProductID       string           `db:"product_id" json:"product_id"`
	VendorID        string           `db:"vendor_id" json:"vendor_id"`
	NoOfStockBought int              `db:"no_of_stock_bought" json:"no_of_stock_bought"`
	PurchasePrice   decimal.Decimal  `db:"purchase_price" json:"purchase_price"`
	TotalAmountPaid decimal.Decimal  `db:"total_amount_paid" json:"total_amount_paid"`
	TransactionID   *string          `db:"transaction_id" json:"transaction_id,omitempty"`
	PaymentProofURL *string          `db:"payment_proof_url" json:"payment_proof_url,omitempty"`
	IsApproved      string           `db:"is_approved" json:"is_approved"`
	Comment         *string          `db:"comment" json:"comment,omitempty"`
	PurchaseDate    time.Time        `db:"purchase_date" json:"purchase_date"`
	ReviewedAt      *time.Time       `db:"reviewed_at" json:"reviewed_at,omitempty"`
	IsSold          bool             `db:"is_sold" json:"is_sold"`
	SalePrice       *decimal.Decimal `db:"sale_price" json:"sale_price,omitempty"`
	SaleDate        *time.Time       `db:"sale_date" json:"sale_date,omitempty"`
}

// State returns the trade's position in the approval state machine.
func (t *Trade) State() TradeState {
	if t.IsSold {
		return TradeSold
	}
	return TradeState(t.IsApproved)
}

// SellableAt returns the earliest instant the trade may be sold.
func (t *Trade) SellableAt(lock time.Duration) time.Time {
	return t.PurchaseDate.Add(lock)
}

// TradeView is a trade joined with product display fields
type TradeView struct {
	Trade
	PaperType           string          `db:"paper_type" json:"paper_type"`
	ProductImageURL     *string         `db:"product_image_url" json:"product_image_url,omitempty"`
	CurrentSellingPrice decimal.Decimal `db:"current_selling_price" json:"current_selling_price"`
}

// Wallet holds a vendor's digital balance
type Wallet struct {
	WalletID     string          `db:"wallet_id" json:"wallet_id"`
	OwnerID      string          `db:"owner_id" json:"owner_id"`
	Role         string          `db:"role" json:"role"`
	DigitalMoney decimal.Decimal `db:"digital_money" json:"digital_money"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// Wallet transaction types
const (
	TxnDeposit    = "deposit"
	TxnWithdrawal = "withdrawal"
	TxnPurchase   = "purchase"
	TxnSale       = "sale"
	TxnRefund     = "refund"
)

// BankDetails is the payout destination captured when a withdrawal is requested
type BankDetails struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	IFSCCode      string `json:"ifsc_code"`
}

// WalletTransaction is one entry of a wallet's log
type WalletTransaction struct {
	TransID          int64            `db:"trans_id" json:"trans_id"`
	WalletID         string           `db:"wallet_id" json:"wallet_id"`
	TransactionType  string           `db:"transaction_type" json:"transaction_type"`
	Amount           decimal.Decimal  `db:"amount" json:"amount"`
	Description      string           `db:"description" json:"description"`
	UPITransactionID *string          `db:"upi_transaction_id" json:"upi_transaction_id,omitempty"`
	PaymentProofURL  *string          `db:"payment_proof_url" json:"payment_proof_url,omitempty"`
	BankDetails      *json.RawMessage `db:"bank_details" json:"bank_details,omitempty"`
	Status           string           `db:"status" json:"status"`
	TradeID          *string          `db:"trade_id" json:"trade_id,omitempty"`
	BalanceAfter     *decimal.Decimal `db:"balance_after" json:"balance_after,omitempty"`
	Comment          *string          `db:"comment" json:"comment,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	ReviewedAt       *time.Time       `db:"reviewed_at" json:"reviewed_at,omitempty"`
}

// Resume task statuses
const (
	TaskNotAssigned = "not assigned"
)

// Resume is an uploaded resume awaiting assignment
type Resume struct {
	ResumeID   string    `db:"resume_id" json:"resume_id"`
	TaskID     string    `db:"task_id" json:"task_id"`
	ResumeURL  string    `db:"resume_url" json:"resume_url"`
	TaskStatus string    `db:"task_status" json:"task_status"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// DashboardStats are advisory counters for the admin dashboard
type DashboardStats struct {
	AvailableProducts      int `db:"available_products" json:"available_products"`
	PendingTradeApprovals  int `db:"pending_trade_approvals" json:"pending_trade_approvals"`
	PendingWalletApprovals int `db:"pending_wallet_approvals" json:"pending_wallet_approvals"`
	UploadedResumes        int `db:"uploaded_resumes" json:"uploaded_resumes"`
	UnassignedResumes      int `db:"unassigned_resumes" json:"unassigned_resumes"`
}
