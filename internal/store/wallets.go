package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"trade-ledger/internal/models"

	"github.com/shopspring/decimal"
)

const walletColumns = `wallet_id, owner_id, role, digital_money, created_at, updated_at`

const walletTxnColumns = `trans_id, wallet_id, transaction_type, amount, description, upi_transaction_id,
	payment_proof_url, bank_details, status, trade_id, balance_after, comment, created_at, reviewed_at`

// GetWalletByOwner returns nil, nil when the owner has no wallet yet
func (t *Tx) GetWalletByOwner(ctx context.Context, ownerID, role string) (*models.Wallet, error) {
	var w models.Wallet
	err := t.tx.GetContext(ctx, &w,
		"SELECT "+walletColumns+" FROM wallet WHERE owner_id = $1 AND role = $2", ownerID, role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWalletForUpdate reads a wallet and holds its row lock
func (t *Tx) GetWalletForUpdate(ctx context.Context, walletID string) (*models.Wallet, error) {
	var w models.Wallet
	err := t.tx.GetContext(ctx, &w,
		"SELECT "+walletColumns+" FROM wallet WHERE wallet_id = $1 FOR UPDATE", walletID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: wallet %s", models.ErrNotFound, walletID)
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// InsertWallet inserts a wallet whose ID has already been allocated
func (t *Tx) InsertWallet(ctx context.Context, w *models.Wallet) error {
	query := `
		INSERT INTO wallet (wallet_id, owner_id, role, digital_money)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`

	return t.tx.QueryRowxContext(ctx, query, w.WalletID, w.OwnerID, w.Role, w.DigitalMoney).
		Scan(&w.CreatedAt, &w.UpdatedAt)
}

// AdjustBalance adds delta to the wallet and returns the new balance. A debit
// that would overdraw the wallet updates nothing and fails.
func (t *Tx) AdjustBalance(ctx context.Context, walletID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := t.tx.GetContext(ctx, &balance, `
		UPDATE wallet SET digital_money = digital_money + $1, updated_at = NOW()
		WHERE wallet_id = $2 AND digital_money + $1 >= 0
		RETURNING digital_money`, delta, walletID)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := t.tx.GetContext(ctx, &exists,
			"SELECT EXISTS(SELECT 1 FROM wallet WHERE wallet_id = $1)", walletID); err != nil {
			return decimal.Zero, err
		}
		if !exists {
			return decimal.Zero, fmt.Errorf("%w: wallet %s", models.ErrNotFound, walletID)
		}
		return decimal.Zero, fmt.Errorf("%w: wallet %s cannot cover %s", models.ErrInsufficientFunds, walletID, delta.Neg())
	}
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// InsertWalletTransaction inserts a log entry and fills in its generated ID
func (t *Tx) InsertWalletTransaction(ctx context.Context, wt *models.WalletTransaction) error {
	query := `
		INSERT INTO wallet_transaction (wallet_id, transaction_type, amount, description,
			upi_transaction_id, payment_proof_url, bank_details, status, trade_id, balance_after,
			created_at, reviewed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING trans_id`

	return t.tx.GetContext(ctx, &wt.TransID, query,
		wt.WalletID, wt.TransactionType, wt.Amount, wt.Description,
		wt.UPITransactionID, wt.PaymentProofURL, wt.BankDetails, wt.Status, wt.TradeID, wt.BalanceAfter,
		wt.CreatedAt, wt.ReviewedAt)
}

// GetWalletTransactionForUpdate reads one log entry and holds its row lock
func (t *Tx) GetWalletTransactionForUpdate(ctx context.Context, transID int64) (*models.WalletTransaction, error) {
	var wt models.WalletTransaction
	err := t.tx.GetContext(ctx, &wt,
		"SELECT "+walletTxnColumns+" FROM wallet_transaction WHERE trans_id = $1 FOR UPDATE", transID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: wallet transaction %d", models.ErrNotFound, transID)
	}
	if err != nil {
		return nil, err
	}
	return &wt, nil
}

// HasPendingWithdrawal reports whether the wallet has a withdrawal awaiting review
func (t *Tx) HasPendingWithdrawal(ctx context.Context, walletID string) (bool, error) {
	return hasPendingWithdrawal(ctx, t.tx, walletID)
}

// SettleWalletTransaction moves a pending entry to its reviewed status.
// Zero rows updated means another reviewer settled it first.
func (t *Tx) SettleWalletTransaction(ctx context.Context, transID int64, decision models.Decision, comment *string, balanceAfter *decimal.Decimal, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE wallet_transaction
		SET status = $1, comment = $2, balance_after = $3, reviewed_at = $4
		WHERE trans_id = $5 AND status = 'pending'`,
		string(decision), comment, balanceAfter, at, transID)
	if err != nil {
		return err
	}
	return expectOne(res, fmt.Errorf("%w: wallet transaction %d", models.ErrAlreadyReviewed, transID))
}

// HasPendingWithdrawal reports whether the wallet has a withdrawal awaiting review
func (s *Store) HasPendingWithdrawal(ctx context.Context, walletID string) (bool, error) {
	return hasPendingWithdrawal(ctx, s.db, walletID)
}

// ListWalletTransactions returns a wallet's log, newest first
func (s *Store) ListWalletTransactions(ctx context.Context, walletID string) ([]models.WalletTransaction, error) {
	txns := []models.WalletTransaction{}
	err := s.db.SelectContext(ctx, &txns,
		"SELECT "+walletTxnColumns+" FROM wallet_transaction WHERE wallet_id = $1 ORDER BY created_at DESC, trans_id DESC",
		walletID)
	return txns, err
}

// ListPendingWalletTransactions returns deposits and withdrawals awaiting review, oldest first
func (s *Store) ListPendingWalletTransactions(ctx context.Context) ([]models.WalletTransaction, error) {
	txns := []models.WalletTransaction{}
	err := s.db.SelectContext(ctx, &txns,
		"SELECT "+walletTxnColumns+" FROM wallet_transaction WHERE status = 'pending' ORDER BY created_at, trans_id")
	return txns, err
}

type getter interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func hasPendingWithdrawal(ctx context.Context, q getter, walletID string) (bool, error) {
	var exists bool
	err := q.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM wallet_transaction
			WHERE wallet_id = $1 AND transaction_type = 'withdrawal' AND status = 'pending'
		)`, walletID)
	return exists, err
}
