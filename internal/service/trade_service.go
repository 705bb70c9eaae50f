package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"trade-ledger/internal/models"
	"trade-ledger/internal/storage"
	"trade-ledger/internal/store"
	"trade-ledger/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TradeService runs the purchase, review and sell lifecycle of trades
type TradeService struct {
	repo      Repository
	publisher Publisher
	cache     Cache
	objects   ObjectStore
	rules     Rules
	now       func() time.Time
	logger    *zap.Logger
}

// NewTradeService creates a new trade service
func NewTradeService(repo Repository, publisher Publisher, cache Cache, objects ObjectStore, rules Rules) *TradeService {
	return &TradeService{
		repo:      repo,
		publisher: publisher,
		cache:     cache,
		objects:   objects,
		rules:     rules,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// PurchaseRequest is a vendor's request to buy stock of one product
type PurchaseRequest struct {
	VendorID  string `json:"-"`
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

func (r *PurchaseRequest) validate() error {
	if r.VendorID == "" || r.ProductID == "" {
		return validationf("vendor and product are required")
	}
	if r.Quantity <= 0 {
		return validationf("quantity must be positive")
	}
	return nil
}

// PurchaseSummary is what a vendor needs to complete payment
type PurchaseSummary struct {
	TradeID       string          `json:"trade_id"`
	ProductID     string          `json:"product_id"`
	Quantity      int             `json:"quantity"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Status        string          `json:"status"`
}

// SaleSummary describes a completed sell-back
type SaleSummary struct {
	TradeID   string          `json:"trade_id"`
	Quantity  int             `json:"quantity"`
	SalePrice decimal.Decimal `json:"sale_price"`
	Credited  decimal.Decimal `json:"credited"`
	WalletID  string          `json:"wallet_id"`
	Balance   decimal.Decimal `json:"balance"`
}

func purchaseFailureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, models.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrTransient):
		return "transient"
	default:
		return "db_error"
	}
}

// InitiatePurchase reserves stock and records a pending trade in one
// transaction. Stock leaves the product now, not at approval, and comes back
// only if the trade is rejected.
func (s *TradeService) InitiatePurchase(ctx context.Context, req PurchaseRequest) (*PurchaseSummary, error) {
	ctx, span := util.StartSpan(ctx, "TradeService.InitiatePurchase")
	defer span.End()

	if err := req.validate(); err != nil {
		return nil, err
	}

	now := s.now()
	var trade *models.Trade
	err := s.repo.InTx(ctx, func(tx store.LedgerTx) error {
		// Locks: trading table (id allocation), then the product row. Reviews
		// and sales also go trading before product, through the trade row.
		// DeleteProduct locks the product row first and its foreign key check
		// then waits on trading, so the two can deadlock; Postgres aborts one
		// and it surfaces as ErrTransient.
		tradeID, err := tx.NextID(ctx, store.TradeSeq)
		if err != nil {
			return err
		}

		product, err := tx.DecrementStock(ctx, req.ProductID, req.Quantity, s.rules.LowStockThreshold)
		if err != nil {
			return err
		}

		trade = &models.Trade{
			TradeID:         tradeID,
			ProductID:       product.ProductID,
			VendorID:        req.VendorID,
			NoOfStockBought: req.Quantity,
			PurchasePrice:   product.PricePerSlot,
			TotalAmountPaid: product.PricePerSlot.Mul(decimal.NewFromInt(int64(req.Quantity))),
			IsApproved:      models.ApprovalPending,
			PurchaseDate:    now,
		}
		return tx.InsertTrade(ctx, trade)
	})
	if err != nil {
		util.PurchasesFailedTotal.WithLabelValues(purchaseFailureReason(err)).Inc()
		util.RecordError(span, err)
		return nil, err
	}

	util.TradesCreatedTotal.WithLabelValues("proof").Inc()
	s.logger.Info("Trade created",
		zap.String("trade_id", trade.TradeID),
		zap.String("product_id", trade.ProductID),
		zap.String("vendor_id", trade.VendorID),
		zap.Int("quantity", trade.NoOfStockBought))

	s.afterTradeCreated(ctx, trade, false)

	return &PurchaseSummary{
		TradeID:       trade.TradeID,
		ProductID:     trade.ProductID,
		Quantity:      trade.NoOfStockBought,
		PurchasePrice: trade.PurchasePrice,
		TotalAmount:   trade.TotalAmountPaid,
		Status:        trade.IsApproved,
	}, nil
}

// PurchaseWithWallet buys stock paid from the vendor's wallet. Stock, balance,
// the trade and its purchase entry commit together; no review is needed.
func (s *TradeService) PurchaseWithWallet(ctx context.Context, req PurchaseRequest) (*PurchaseSummary, error) {
	ctx, span := util.StartSpan(ctx, "TradeService.PurchaseWithWallet")
	defer span.End()

	if err := req.validate(); err != nil {
		return nil, err
	}

	now := s.now()
	var trade *models.Trade
	err := s.repo.InTx(ctx, func(tx store.LedgerTx) error {
		tradeID, err := tx.NextID(ctx, store.TradeSeq)
		if err != nil {
			return err
		}

		product, err := tx.DecrementStock(ctx, req.ProductID, req.Quantity, s.rules.LowStockThreshold)
		if err != nil {
			return err
		}
		total := product.PricePerSlot.Mul(decimal.NewFromInt(int64(req.Quantity)))

		wallet, err := getOrCreateWallet(ctx, tx, req.VendorID, models.RoleVendor)
		if err != nil {
			return err
		}
		wallet, err = tx.GetWalletForUpdate(ctx, wallet.WalletID)
		if err != nil {
			return err
		}
		if wallet.DigitalMoney.LessThan(total) {
			return fmt.Errorf("%w: balance %s, required %s", models.ErrInsufficientFunds, wallet.DigitalMoney, total)
		}

		trade = &models.Trade{
			TradeID:         tradeID,
			ProductID:       product.ProductID,
			VendorID:        req.VendorID,
			NoOfStockBought: req.Quantity,
			PurchasePrice:   product.PricePerSlot,
			TotalAmountPaid: total,
			IsApproved:      models.ApprovalApproved,
			PurchaseDate:    now,
			ReviewedAt:      &now,
		}
		if err := tx.InsertTrade(ctx, trade); err != nil {
			return err
		}

		balance, err := tx.AdjustBalance(ctx, wallet.WalletID, total.Neg())
		if err != nil {
			return err
		}

		return tx.InsertWalletTransaction(ctx, &models.WalletTransaction{
			WalletID:        wallet.WalletID,
			TransactionType: models.TxnPurchase,
			Amount:          total,
			Description:     fmt.Sprintf("Purchase of %d units of %s (trade %s)", req.Quantity, product.PaperType, tradeID),
			Status:          models.ApprovalApproved,
			TradeID:         &tradeID,
			BalanceAfter:    &balance,
			CreatedAt:       now,
			ReviewedAt:      &now,
		})
	})
	if err != nil {
		util.PurchasesFailedTotal.WithLabelValues(purchaseFailureReason(err)).Inc()
		util.RecordError(span, err)
		return nil, err
	}

	util.TradesCreatedTotal.WithLabelValues("wallet").Inc()
	s.logger.Info("Trade paid from wallet",
		zap.String("trade_id", trade.TradeID),
		zap.String("vendor_id", trade.VendorID),
		zap.String("total", trade.TotalAmountPaid.String()))

	invalidateBalance(ctx, s.cache, s.logger, req.VendorID, models.RoleVendor)
	s.afterTradeCreated(ctx, trade, true)

	return &PurchaseSummary{
		TradeID:       trade.TradeID,
		ProductID:     trade.ProductID,
		Quantity:      trade.NoOfStockBought,
		PurchasePrice: trade.PurchasePrice,
		TotalAmount:   trade.TotalAmountPaid,
		Status:        trade.IsApproved,
	}, nil
}

func (s *TradeService) afterTradeCreated(ctx context.Context, trade *models.Trade, fromWallet bool) {
	invalidateStats(ctx, s.cache, s.logger)

	event := &models.TradeCreatedEvent{
		BaseEvent:       models.NewBaseEvent(models.EventTypeTradeCreated, s.now()),
		TradeID:         trade.TradeID,
		ProductID:       trade.ProductID,
		VendorID:        trade.VendorID,
		Quantity:        trade.NoOfStockBought,
		TotalAmountPaid: trade.TotalAmountPaid,
		PaidFromWallet:  fromWallet,
	}
	if err := s.publisher.PublishTradeCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish TradeCreated event", zap.Error(err))
	}
}

// SubmitProof attaches the external payment reference and screenshot to a
// pending trade. The same payment reference cannot be claimed twice.
func (s *TradeService) SubmitProof(ctx context.Context, vendorID, tradeID, transactionID string, proof *File) (*models.Trade, error) {
	ctx, span := util.StartSpan(ctx, "TradeService.SubmitProof")
	defer span.End()

	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" || proof == nil {
		return nil, validationf("transaction id and payment screenshot are required")
	}

	idemKey := "trade-proof:" + transactionID
	claimed, err := s.cache.ClaimIdempotencyKey(ctx, idemKey, s.rules.IdempotencyTTL)
	if err != nil {
		s.logger.Warn("Idempotency check unavailable", zap.Error(err))
		claimed = true
	}
	if !claimed {
		return nil, fmt.Errorf("%w: payment reference %s was already submitted", models.ErrDuplicateRequest, transactionID)
	}

	now := s.now()
	var trade *models.Trade
	var uploads []upload
	err = s.repo.InTx(ctx, func(tx store.LedgerTx) error {
		t, err := tx.GetTradeForUpdate(ctx, tradeID)
		if err != nil {
			return err
		}
		if t.VendorID != vendorID {
			return fmt.Errorf("%w: trade %s belongs to another vendor", models.ErrForbidden, tradeID)
		}
		if t.State() != models.TradePending {
			return fmt.Errorf("%w: trade %s is %s", models.ErrAlreadyReviewed, tradeID, t.State())
		}
		if t.PaymentProofURL != nil {
			return fmt.Errorf("%w: payment proof already submitted for trade %s", models.ErrDuplicateRequest, tradeID)
		}

		key := storage.ObjectKey(storage.FolderTradeProofs, fmt.Sprintf("%s_%d", tradeID, now.UnixMilli()), proof.Name)
		url := s.objects.URL(key)
		if err := tx.AttachTradeProof(ctx, tradeID, transactionID, url); err != nil {
			return err
		}

		t.TransactionID = &transactionID
		t.PaymentProofURL = &url
		trade = t
		uploads = []upload{{key: key, file: proof}}
		return nil
	})
	if err != nil {
		if relErr := s.cache.ReleaseIdempotencyKey(ctx, idemKey); relErr != nil {
			s.logger.Warn("Failed to release idempotency key", zap.String("key", idemKey), zap.Error(relErr))
		}
		util.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("Payment proof submitted", zap.String("trade_id", tradeID))

	if err := storeAfterCommit(ctx, s.objects, s.logger, uploads); err != nil {
		return trade, err
	}
	return trade, nil
}

// ReviewTrade approves or rejects a pending trade. Rejection requires a
// comment and returns the reserved units to the product in the same
// transaction.
func (s *TradeService) ReviewTrade(ctx context.Context, tradeID string, decision models.Decision, comment string) (*models.Trade, error) {
	ctx, span := util.StartSpan(ctx, "TradeService.ReviewTrade")
	defer span.End()

	if !decision.Valid() {
		return nil, validationf("unknown decision %q", decision)
	}
	note, err := requireComment(decision, comment)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var trade *models.Trade
	restocked := 0
	err = s.repo.InTx(ctx, func(tx store.LedgerTx) error {
		t, err := tx.GetTradeForUpdate(ctx, tradeID)
		if err != nil {
			return err
		}
		if t.State() != models.TradePending {
			return fmt.Errorf("%w: trade %s is %s", models.ErrAlreadyReviewed, tradeID, t.State())
		}
		if err := models.CheckTransition(t.State(), models.TradeState(decision)); err != nil {
			return err
		}

		if err := tx.ReviewTrade(ctx, tradeID, decision, note, now); err != nil {
			return err
		}

		if decision == models.DecisionReject {
			if _, err := tx.IncrementStock(ctx, t.ProductID, t.NoOfStockBought, s.rules.LowStockThreshold); err != nil {
				return fmt.Errorf("failed to restock %s: %w", t.ProductID, err)
			}
			restocked = t.NoOfStockBought
		}

		t.IsApproved = string(decision)
		t.Comment = note
		t.ReviewedAt = &now
		trade = t
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	util.TradesReviewedTotal.WithLabelValues(string(decision)).Inc()
	s.logger.Info("Trade reviewed",
		zap.String("trade_id", tradeID),
		zap.String("decision", string(decision)),
		zap.Int("restocked", restocked))

	invalidateStats(ctx, s.cache, s.logger)

	event := &models.TradeReviewedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeTradeReviewed, now),
		TradeID:   trade.TradeID,
		ProductID: trade.ProductID,
		VendorID:  trade.VendorID,
		Decision:  string(decision),
		Comment:   commentValue(note),
		Restocked: restocked,
	}
	if err := s.publisher.PublishTradeReviewed(ctx, event); err != nil {
		s.logger.Error("Failed to publish TradeReviewed event", zap.Error(err))
	}

	return trade, nil
}

// SellTrade sells an approved holding back at the product's current selling
// price once the lock window has passed, crediting the vendor's wallet in the
// same transaction.
func (s *TradeService) SellTrade(ctx context.Context, vendorID, tradeID string) (*SaleSummary, error) {
	ctx, span := util.StartSpan(ctx, "TradeService.SellTrade")
	defer span.End()

	now := s.now()
	var sale *SaleSummary
	err := s.repo.InTx(ctx, func(tx store.LedgerTx) error {
		t, err := tx.GetTradeForUpdate(ctx, tradeID)
		if err != nil {
			return err
		}
		if t.VendorID != vendorID {
			return fmt.Errorf("%w: trade %s belongs to another vendor", models.ErrForbidden, tradeID)
		}
		if err := models.CheckTransition(t.State(), models.TradeSold); err != nil {
			return err
		}
		if sellable := t.SellableAt(s.rules.SellLock); now.Before(sellable) {
			return fmt.Errorf("%w: trade %s can be sold from %s", models.ErrLocked, tradeID, sellable.Format(time.RFC3339))
		}

		product, err := tx.GetProductForUpdate(ctx, t.ProductID)
		if err != nil {
			return err
		}
		salePrice := product.SellingPrice
		credit := salePrice.Mul(decimal.NewFromInt(int64(t.NoOfStockBought)))

		if err := tx.MarkTradeSold(ctx, tradeID, salePrice, now); err != nil {
			return err
		}

		wallet, err := getOrCreateWallet(ctx, tx, vendorID, models.RoleVendor)
		if err != nil {
			return err
		}
		if _, err := tx.GetWalletForUpdate(ctx, wallet.WalletID); err != nil {
			return err
		}
		balance, err := tx.AdjustBalance(ctx, wallet.WalletID, credit)
		if err != nil {
			return err
		}

		if err := tx.InsertWalletTransaction(ctx, &models.WalletTransaction{
			WalletID:        wallet.WalletID,
			TransactionType: models.TxnSale,
			Amount:          credit,
			Description:     fmt.Sprintf("Sale of %d units of %s (trade %s)", t.NoOfStockBought, product.PaperType, tradeID),
			Status:          models.ApprovalApproved,
			TradeID:         &tradeID,
			BalanceAfter:    &balance,
			CreatedAt:       now,
			ReviewedAt:      &now,
		}); err != nil {
			return err
		}

		sale = &SaleSummary{
			TradeID:   tradeID,
			Quantity:  t.NoOfStockBought,
			SalePrice: salePrice,
			Credited:  credit,
			WalletID:  wallet.WalletID,
			Balance:   balance,
		}
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	util.TradesSoldTotal.Inc()
	s.logger.Info("Trade sold",
		zap.String("trade_id", tradeID),
		zap.String("sale_price", sale.SalePrice.String()),
		zap.String("credited", sale.Credited.String()))

	invalidateBalance(ctx, s.cache, s.logger, vendorID, models.RoleVendor)

	event := &models.TradeSoldEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeTradeSold, now),
		TradeID:   tradeID,
		VendorID:  vendorID,
		WalletID:  sale.WalletID,
		SalePrice: sale.SalePrice,
		Credited:  sale.Credited,
	}
	if err := s.publisher.PublishTradeSold(ctx, event); err != nil {
		s.logger.Error("Failed to publish TradeSold event", zap.Error(err))
	}

	return sale, nil
}

// GetTrade returns one trade. A non-empty vendorID restricts it to that vendor's trades.
func (s *TradeService) GetTrade(ctx context.Context, vendorID, tradeID string) (*models.TradeView, error) {
	tv, err := s.repo.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if vendorID != "" && tv.VendorID != vendorID {
		return nil, fmt.Errorf("%w: trade %s belongs to another vendor", models.ErrForbidden, tradeID)
	}
	return tv, nil
}

// ListTrades lists a vendor's trades, or everyone's when vendorID is empty
func (s *TradeService) ListTrades(ctx context.Context, vendorID string, filter store.TradeFilter) ([]models.TradeView, error) {
	return s.repo.ListTrades(ctx, vendorID, filter)
}
