package service

import (
	"context"
	"encoding/json"
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

// WalletService owns every mutation of wallet balances
type WalletService struct {
	repo      Repository
	publisher Publisher
	cache     Cache
	objects   ObjectStore
	rules     Rules
	now       func() time.Time
	logger    *zap.Logger
}

// NewWalletService creates a new wallet service
func NewWalletService(repo Repository, publisher Publisher, cache Cache, objects ObjectStore, rules Rules) *WalletService {
	return &WalletService{
		repo:      repo,
		publisher: publisher,
		cache:     cache,
		objects:   objects,
		rules:     rules,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// WalletSummary is a wallet plus whether a withdrawal awaits review
type WalletSummary struct {
	models.Wallet
	HasPendingWithdrawal bool `json:"has_pending_withdrawal"`
}

// DepositRequest is a vendor's claim to have paid money in
type DepositRequest struct {
	OwnerID          string          `json:"-"`
	Amount           decimal.Decimal `json:"amount"`
	UPITransactionID string          `json:"transaction_id" binding:"required"`
}

// WithdrawalRequest asks for money to be paid out
type WithdrawalRequest struct {
	OwnerID string              `json:"-"`
	Amount  decimal.Decimal     `json:"amount"`
	Bank    *models.BankDetails `json:"bank_details,omitempty"`
}

// GetOrCreateWallet returns the owner's wallet, creating an empty one on first access
func (s *WalletService) GetOrCreateWallet(ctx context.Context, ownerID, role string) (*models.Wallet, error) {
	ctx, span := util.StartSpan(ctx, "WalletService.GetOrCreateWallet")
	defer span.End()

	if ownerID == "" || role == "" {
		return nil, validationf("owner and role are required")
	}

	var wallet *models.Wallet
	err := s.repo.InTx(ctx, func(tx store.LedgerTx) error {
		var err error
		wallet, err = getOrCreateWallet(ctx, tx, ownerID, role)
		return err
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return wallet, nil
}

// GetWallet returns the wallet with its pending-withdrawal flag and refreshes the balance cache
func (s *WalletService) GetWallet(ctx context.Context, ownerID, role string) (*WalletSummary, error) {
	wallet, err := s.GetOrCreateWallet(ctx, ownerID, role)
	if err != nil {
		return nil, err
	}

	pending, err := s.repo.HasPendingWithdrawal(ctx, wallet.WalletID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetBalance(ctx, ownerID, role, wallet.DigitalMoney); err != nil {
		s.logger.Warn("Failed to cache balance", zap.Error(err))
	}
	return &WalletSummary{Wallet: *wallet, HasPendingWithdrawal: pending}, nil
}

// GetBalance returns the owner's balance, served from cache when possible
func (s *WalletService) GetBalance(ctx context.Context, ownerID, role string) (decimal.Decimal, error) {
	balance, ok, err := s.cache.GetBalance(ctx, ownerID, role)
	if err != nil {
		s.logger.Warn("Balance cache read failed", zap.Error(err))
	}
	if ok {
		return balance, nil
	}

	wallet, err := s.GetOrCreateWallet(ctx, ownerID, role)
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.cache.SetBalance(ctx, ownerID, role, wallet.DigitalMoney); err != nil {
		s.logger.Warn("Failed to cache balance", zap.Error(err))
	}
	return wallet.DigitalMoney, nil
}

// RequestDeposit records a pending deposit with its payment proof. The balance
// is untouched until an admin approves it.
func (s *WalletService) RequestDeposit(ctx context.Context, req DepositRequest, proof *File) (*models.WalletTransaction, error) {
	ctx, span := util.StartSpan(ctx, "WalletService.RequestDeposit")
	defer span.End()

	upiID := strings.TrimSpace(req.UPITransactionID)
	if req.OwnerID == "" || upiID == "" || proof == nil {
		return nil, validationf("amount, transaction id and a payment screenshot are required")
	}
	if !req.Amount.IsPositive() {
		return nil, validationf("a valid, positive amount is required")
	}

	idemKey := "deposit:" + upiID
	claimed, err := s.cache.ClaimIdempotencyKey(ctx, idemKey, s.rules.IdempotencyTTL)
	if err != nil {
		s.logger.Warn("Idempotency check unavailable", zap.Error(err))
		claimed = true
	}
	if !claimed {
		return nil, fmt.Errorf("%w: payment reference %s was already submitted", models.ErrDuplicateRequest, upiID)
	}

	now := s.now()
	var wallet *models.Wallet
	var txn *models.WalletTransaction
	var uploads []upload
	err = s.repo.InTx(ctx, func(tx store.LedgerTx) error {
		var err error
		wallet, err = getOrCreateWallet(ctx, tx, req.OwnerID, models.RoleVendor)
		if err != nil {
			return err
		}

		key := storage.ObjectKey(storage.FolderDeposits, fmt.Sprintf("DEP_%s_%d", req.OwnerID, now.UnixMilli()), proof.Name)
		url := s.objects.URL(key)
		txn = &models.WalletTransaction{
			WalletID:         wallet.WalletID,
			TransactionType:  models.TxnDeposit,
			Amount:           req.Amount,
			Description:      fmt.Sprintf("Deposit request for %s", req.Amount.StringFixed(2)),
			UPITransactionID: &upiID,
			PaymentProofURL:  &url,
			Status:           models.ApprovalPending,
			CreatedAt:        now,
		}
		uploads = []upload{{key: key, file: proof}}
		return tx.InsertWalletTransaction(ctx, txn)
	})
	if err != nil {
		if relErr := s.cache.ReleaseIdempotencyKey(ctx, idemKey); relErr != nil {
			s.logger.Warn("Failed to release idempotency key", zap.String("key", idemKey), zap.Error(relErr))
		}
		util.RecordError(span, err)
		return nil, err
	}

	s.afterRequest(ctx, wallet, txn)

	if err := storeAfterCommit(ctx, s.objects, s.logger, uploads); err != nil {
		return txn, err
	}
	return txn, nil
}

// RequestWithdrawal records a pending withdrawal. The amount must be covered
// by the current balance and only one withdrawal may be pending per wallet.
func (s *WalletService) RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (*models.WalletTransaction, error) {
	ctx, span := util.StartSpan(ctx, "WalletService.RequestWithdrawal")
	defer span.End()

	if req.OwnerID == "" {
		return nil, validationf("owner is required")
	}
	if !req.Amount.IsPositive() {
		return nil, validationf("a valid, positive withdrawal amount is required")
	}

	var bank *json.RawMessage
	description := fmt.Sprintf("Withdrawal request for %s to registered bank account", req.Amount.StringFixed(2))
	if req.Bank != nil {
		if req.Bank.BankName == "" || req.Bank.AccountNumber == "" || req.Bank.IFSCCode == "" {
			return nil, validationf("bank name, account number and IFSC code are required")
		}
		raw, err := json.Marshal(req.Bank)
		if err != nil {
			return nil, err
		}
		msg := json.RawMessage(raw)
		bank = &msg
		description = fmt.Sprintf("Withdrawal request for %s to %s", req.Amount.StringFixed(2), req.Bank.BankName)
	}

	now := s.now()
	var wallet *models.Wallet
	var txn *models.WalletTransaction
	err := s.repo.InTx(ctx, func(tx store.LedgerTx) error {
		w, err := getOrCreateWallet(ctx, tx, req.OwnerID, models.RoleVendor)
		if err != nil {
			return err
		}
		wallet, err = tx.GetWalletForUpdate(ctx, w.WalletID)
		if err != nil {
			return err
		}

		pending, err := tx.HasPendingWithdrawal(ctx, wallet.WalletID)
		if err != nil {
			return err
		}
		if pending {
			return fmt.Errorf("%w: a withdrawal is already pending for wallet %s", models.ErrDuplicateRequest, wallet.WalletID)
		}
		if wallet.DigitalMoney.LessThan(req.Amount) {
			return fmt.Errorf("%w: balance %s, requested %s", models.ErrInsufficientFunds, wallet.DigitalMoney, req.Amount)
		}

		txn = &models.WalletTransaction{
			WalletID:        wallet.WalletID,
			TransactionType: models.TxnWithdrawal,
			Amount:          req.Amount,
			Description:     description,
			BankDetails:     bank,
			Status:          models.ApprovalPending,
			CreatedAt:       now,
		}
		return tx.InsertWalletTransaction(ctx, txn)
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.afterRequest(ctx, wallet, txn)
	return txn, nil
}

func (s *WalletService) afterRequest(ctx context.Context, wallet *models.Wallet, txn *models.WalletTransaction) {
	util.WalletRequestsTotal.WithLabelValues(txn.TransactionType).Inc()
	s.logger.Info("Wallet request submitted",
		zap.Int64("trans_id", txn.TransID),
		zap.String("wallet_id", wallet.WalletID),
		zap.String("type", txn.TransactionType),
		zap.String("amount", txn.Amount.String()))

	invalidateStats(ctx, s.cache, s.logger)

	event := &models.WalletRequestedEvent{
		BaseEvent:       models.NewBaseEvent(models.EventTypeWalletRequest, txn.CreatedAt),
		TransID:         txn.TransID,
		WalletID:        wallet.WalletID,
		OwnerID:         wallet.OwnerID,
		TransactionType: txn.TransactionType,
		Amount:          txn.Amount,
	}
	if err := s.publisher.PublishWalletRequested(ctx, event); err != nil {
		s.logger.Error("Failed to publish WalletRequested event", zap.Error(err))
	}
}

// ReviewTransaction settles a pending deposit or withdrawal. Approval moves
// the balance and flips the status in one transaction. The entry row is
// locked before the wallet row, so a concurrent reviewer waits and then sees
// the settled status (ErrAlreadyReviewed); the balance moves once. An
// approved withdrawal the balance can no longer cover fails with
// ErrInsufficientFunds and stays pending.
func (s *WalletService) ReviewTransaction(ctx context.Context, transID int64, decision models.Decision, comment string) (*models.WalletTransaction, error) {
	ctx, span := util.StartSpan(ctx, "WalletService.ReviewTransaction")
	defer span.End()

	if !decision.Valid() {
		return nil, validationf("unknown decision %q", decision)
	}
	note, err := requireComment(decision, comment)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var txn *models.WalletTransaction
	var wallet *models.Wallet
	err = s.repo.InTx(ctx, func(tx store.LedgerTx) error {
		t, err := tx.GetWalletTransactionForUpdate(ctx, transID)
		if err != nil {
			return err
		}
		if t.Status != models.ApprovalPending {
			return fmt.Errorf("%w: wallet transaction %d is %s", models.ErrAlreadyReviewed, transID, t.Status)
		}
		if t.TransactionType != models.TxnDeposit && t.TransactionType != models.TxnWithdrawal {
			return fmt.Errorf("%w: %s entries are not reviewable", models.ErrInvalidTransition, t.TransactionType)
		}

		wallet, err = tx.GetWalletForUpdate(ctx, t.WalletID)
		if err != nil {
			return err
		}

		var balanceAfter *decimal.Decimal
		var delta decimal.Decimal
		if decision == models.DecisionApprove {
			delta = t.Amount
			if t.TransactionType == models.TxnWithdrawal {
				if wallet.DigitalMoney.LessThan(t.Amount) {
					return fmt.Errorf("%w: balance %s no longer covers withdrawal of %s",
						models.ErrInsufficientFunds, wallet.DigitalMoney, t.Amount)
				}
				delta = t.Amount.Neg()
			}
			after := wallet.DigitalMoney.Add(delta)
			balanceAfter = &after
		}

		if err := tx.SettleWalletTransaction(ctx, transID, decision, note, balanceAfter, now); err != nil {
			return err
		}

		if balanceAfter != nil {
			balance, err := tx.AdjustBalance(ctx, wallet.WalletID, delta)
			if err != nil {
				return err
			}
			wallet.DigitalMoney = balance
		}

		t.Status = string(decision)
		t.Comment = note
		t.BalanceAfter = balanceAfter
		t.ReviewedAt = &now
		txn = t
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	util.SettlementsTotal.WithLabelValues(txn.TransactionType, string(decision)).Inc()
	s.logger.Info("Wallet transaction reviewed",
		zap.Int64("trans_id", transID),
		zap.String("wallet_id", wallet.WalletID),
		zap.String("decision", string(decision)),
		zap.String("balance", wallet.DigitalMoney.String()))

	invalidateBalance(ctx, s.cache, s.logger, wallet.OwnerID, wallet.Role)
	invalidateStats(ctx, s.cache, s.logger)

	event := &models.WalletReviewedEvent{
		BaseEvent:       models.NewBaseEvent(models.EventTypeWalletReviewed, now),
		TransID:         transID,
		WalletID:        wallet.WalletID,
		OwnerID:         wallet.OwnerID,
		TransactionType: txn.TransactionType,
		Decision:        string(decision),
		Amount:          txn.Amount,
		BalanceAfter:    txn.BalanceAfter,
		Comment:         commentValue(note),
	}
	if err := s.publisher.PublishWalletReviewed(ctx, event); err != nil {
		s.logger.Error("Failed to publish WalletReviewed event", zap.Error(err))
	}

	return txn, nil
}

// ListTransactions returns the owner's wallet log, newest first
func (s *WalletService) ListTransactions(ctx context.Context, ownerID, role string) ([]models.WalletTransaction, error) {
	wallet, err := s.GetOrCreateWallet(ctx, ownerID, role)
	if err != nil {
		return nil, err
	}
	return s.repo.ListWalletTransactions(ctx, wallet.WalletID)
}

// ListPendingTransactions returns the admin review queue
func (s *WalletService) ListPendingTransactions(ctx context.Context) ([]models.WalletTransaction, error) {
	return s.repo.ListPendingWalletTransactions(ctx)
}
