package store

import (
	"context"
	"time"

	"trade-ledger/internal/models"

	"github.com/shopspring/decimal"
)

// LedgerTx is everything a ledger operation may do inside one transaction.
// *Tx implements it against Postgres.
type LedgerTx interface {
	NextID(ctx context.Context, seq Sequence) (string, error)
	NextIDs(ctx context.Context, seq Sequence, n int) ([]string, error)

	InsertProduct(ctx context.Context, p *models.Product) error
	GetProductForUpdate(ctx context.Context, productID string) (*models.Product, error)
	UpdateProduct(ctx context.Context, p *models.Product) error
	DecrementStock(ctx context.Context, productID string, quantity, lowThreshold int) (*models.Product, error)
	IncrementStock(ctx context.Context, productID string, quantity, lowThreshold int) (*models.Product, error)
	CountTradesForProduct(ctx context.Context, productID string) (int, error)
	DeleteProduct(ctx context.Context, productID string) error

	InsertTrade(ctx context.Context, t *models.Trade) error
	GetTradeForUpdate(ctx context.Context, tradeID string) (*models.Trade, error)
	AttachTradeProof(ctx context.Context, tradeID, transactionID, proofURL string) error
	ReviewTrade(ctx context.Context, tradeID string, decision models.Decision, comment *string, at time.Time) error
	MarkTradeSold(ctx context.Context, tradeID string, salePrice decimal.Decimal, at time.Time) error

	GetWalletByOwner(ctx context.Context, ownerID, role string) (*models.Wallet, error)
	GetWalletForUpdate(ctx context.Context, walletID string) (*models.Wallet, error)
	InsertWallet(ctx context.Context, w *models.Wallet) error
	AdjustBalance(ctx context.Context, walletID string, delta decimal.Decimal) (decimal.Decimal, error)
	InsertWalletTransaction(ctx context.Context, t *models.WalletTransaction) error
	GetWalletTransactionForUpdate(ctx context.Context, transID int64) (*models.WalletTransaction, error)
	HasPendingWithdrawal(ctx context.Context, walletID string) (bool, error)
	SettleWalletTransaction(ctx context.Context, transID int64, decision models.Decision, comment *string, balanceAfter *decimal.Decimal, at time.Time) error

	InsertResume(ctx context.Context, r *models.Resume) error
}

var _ LedgerTx = (*Tx)(nil)
