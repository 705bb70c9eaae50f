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

const tradeColumns = `trade_id, product_id, vendor_id, no_of_stock_bought, purchase_price,
	total_amount_paid, transaction_id, payment_proof_url, is_approved, comment, purchase_date,
	reviewed_at, is_sold, sale_price, sale_date`

const tradeViewColumns = `t.trade_id, t.product_id, t.vendor_id, t.no_of_stock_bought, t.purchase_price,
	t.total_amount_paid, t.transaction_id, t.payment_proof_url, t.is_approved, t.comment, t.purchase_date,
	t.reviewed_at, t.is_sold, t.sale_price, t.sale_date,
	p.paper_type, p.product_image_url, p.selling_price AS current_selling_price`

// TradeFilter selects one of the vendor or admin trade listings
type TradeFilter string

const (
	TradesActive   TradeFilter = "active"
	TradesSold     TradeFilter = "sold"
	TradesRejected TradeFilter = "rejected"
	TradesPending  TradeFilter = "pending"
	TradesHistory  TradeFilter = "history"
)

var tradeFilterClauses = map[TradeFilter]string{
	TradesActive:   "t.is_approved = 'approved' AND t.is_sold = FALSE",
	TradesSold:     "t.is_sold = TRUE",
	TradesRejected: "t.is_approved = 'rejected'",
	TradesPending:  "t.is_approved = 'pending'",
	TradesHistory:  "TRUE",
}

// InsertTrade inserts a trade whose ID has already been allocated
func (t *Tx) InsertTrade(ctx context.Context, tr *models.Trade) error {
	query := `
		INSERT INTO trading (trade_id, product_id, vendor_id, no_of_stock_bought, purchase_price,
			total_amount_paid, transaction_id, payment_proof_url, is_approved, purchase_date, reviewed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := t.tx.ExecContext(ctx, query,
		tr.TradeID, tr.ProductID, tr.VendorID, tr.NoOfStockBought, tr.PurchasePrice,
		tr.TotalAmountPaid, tr.TransactionID, tr.PaymentProofURL, tr.IsApproved, tr.PurchaseDate, tr.ReviewedAt)
	return err
}

// GetTradeForUpdate reads a trade and holds its row lock
func (t *Tx) GetTradeForUpdate(ctx context.Context, tradeID string) (*models.Trade, error) {
	var tr models.Trade
	err := t.tx.GetContext(ctx, &tr,
		"SELECT "+tradeColumns+" FROM trading WHERE trade_id = $1 FOR UPDATE", tradeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: trade %s", models.ErrNotFound, tradeID)
	}
	if err != nil {
		return nil, err
	}
	return &tr, nil
}

// AttachTradeProof records the payment reference of a pending trade.
// A proof is attached once; a trade that already carries one is left untouched.
func (t *Tx) AttachTradeProof(ctx context.Context, tradeID, transactionID, proofURL string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE trading SET transaction_id = $1, payment_proof_url = $2
		WHERE trade_id = $3 AND is_approved = 'pending' AND payment_proof_url IS NULL`,
		transactionID, proofURL, tradeID)
	if err != nil {
		return err
	}
	return expectOne(res, fmt.Errorf("%w: payment proof already submitted for trade %s", models.ErrDuplicateRequest, tradeID))
}

// ReviewTrade settles a pending trade. Only a row still pending is touched;
// a concurrent reviewer that got there first leaves zero rows to update.
func (t *Tx) ReviewTrade(ctx context.Context, tradeID string, decision models.Decision, comment *string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE trading SET is_approved = $1, comment = $2, reviewed_at = $3
		WHERE trade_id = $4 AND is_approved = 'pending' AND is_sold = FALSE`,
		string(decision), comment, at, tradeID)
	if err != nil {
		return err
	}
	return expectOne(res, fmt.Errorf("%w: trade %s", models.ErrAlreadyReviewed, tradeID))
}

// MarkTradeSold moves an approved trade to its terminal sold state
func (t *Tx) MarkTradeSold(ctx context.Context, tradeID string, salePrice decimal.Decimal, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE trading SET is_sold = TRUE, sale_price = $1, sale_date = $2
		WHERE trade_id = $3 AND is_approved = 'approved' AND is_sold = FALSE`,
		salePrice, at, tradeID)
	if err != nil {
		return err
	}
	return expectOne(res, fmt.Errorf("%w: trade %s cannot be sold", models.ErrInvalidTransition, tradeID))
}

// GetTrade retrieves a trade with its product display fields
func (s *Store) GetTrade(ctx context.Context, tradeID string) (*models.TradeView, error) {
	var tv models.TradeView
	err := s.db.GetContext(ctx, &tv, `
		SELECT `+tradeViewColumns+`
		FROM trading t JOIN product p ON p.product_id = t.product_id
		WHERE t.trade_id = $1`, tradeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: trade %s", models.ErrNotFound, tradeID)
	}
	if err != nil {
		return nil, err
	}
	return &tv, nil
}

// ListTrades returns trades matching filter, limited to vendorID when it is non-empty
func (s *Store) ListTrades(ctx context.Context, vendorID string, filter TradeFilter) ([]models.TradeView, error) {
	clause, ok := tradeFilterClauses[filter]
	if !ok {
		return nil, fmt.Errorf("%w: unknown trade filter %q", models.ErrValidation, filter)
	}

	query := `
		SELECT ` + tradeViewColumns + `
		FROM trading t JOIN product p ON p.product_id = t.product_id
		WHERE ` + clause
	args := []interface{}{}
	if vendorID != "" {
		query += " AND t.vendor_id = $1"
		args = append(args, vendorID)
	}
	query += " ORDER BY t.purchase_date DESC"

	trades := []models.TradeView{}
	err := s.db.SelectContext(ctx, &trades, query, args...)
	return trades, err
}

func expectOne(res sql.Result, zero error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return zero
	}
	return nil
}
