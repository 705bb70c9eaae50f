package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trade-ledger/internal/models"
	"trade-ledger/internal/store"
	"trade-ledger/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Repository is the persistence the ledger services run against.
// *store.Store implements it.
type Repository interface {
	InTx(ctx context.Context, fn func(tx store.LedgerTx) error) error

	GetProduct(ctx context.Context, productID string) (*models.Product, error)
	ListProducts(ctx context.Context, inStockOnly bool) ([]models.Product, error)
	GetTrade(ctx context.Context, tradeID string) (*models.TradeView, error)
	ListTrades(ctx context.Context, vendorID string, filter store.TradeFilter) ([]models.TradeView, error)
	HasPendingWithdrawal(ctx context.Context, walletID string) (bool, error)
	ListWalletTransactions(ctx context.Context, walletID string) ([]models.WalletTransaction, error)
	ListPendingWalletTransactions(ctx context.Context) ([]models.WalletTransaction, error)
	ListResumes(ctx context.Context) ([]models.Resume, error)
	DashboardStats(ctx context.Context) (*models.DashboardStats, error)
}

// Publisher emits ledger events after commit. *broker.EventPublisher implements it.
type Publisher interface {
	PublishTradeCreated(ctx context.Context, event *models.TradeCreatedEvent) error
	PublishTradeReviewed(ctx context.Context, event *models.TradeReviewedEvent) error
	PublishTradeSold(ctx context.Context, event *models.TradeSoldEvent) error
	PublishWalletRequested(ctx context.Context, event *models.WalletRequestedEvent) error
	PublishWalletReviewed(ctx context.Context, event *models.WalletReviewedEvent) error
}

// Cache holds advisory copies of ledger reads. *redisclient.Client implements it.
type Cache interface {
	GetBalance(ctx context.Context, ownerID, role string) (decimal.Decimal, bool, error)
	SetBalance(ctx context.Context, ownerID, role string, balance decimal.Decimal) error
	InvalidateBalance(ctx context.Context, ownerID, role string) error
	GetStats(ctx context.Context) (*models.DashboardStats, bool, error)
	SetStats(ctx context.Context, stats *models.DashboardStats) error
	InvalidateStats(ctx context.Context) error
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

// ObjectStore keeps uploaded files. *storage.S3Store implements it.
type ObjectStore interface {
	URL(key string) string
	Store(ctx context.Context, body []byte, key, contentType string) (string, error)
	Delete(ctx context.Context, publicURL string) error
}

// Rules are the business constants the ledger enforces
type Rules struct {
	LowStockThreshold int
	SellLock          time.Duration
	IdempotencyTTL    time.Duration
}

// DefaultRules returns the production defaults
func DefaultRules() Rules {
	return Rules{
		LowStockThreshold: 10,
		SellLock:          8 * 24 * time.Hour,
		IdempotencyTTL:    24 * time.Hour,
	}
}

// File is an upload already read into memory by the transport layer
type File struct {
	Name        string
	ContentType string
	Body        []byte
}

// StorageError reports an object storage failure that happened after the
// database commit. The ledger rows stay as written.
type StorageError struct {
	Keys      []string
	Committed bool
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("data saved, file storage failed for %s: %v", strings.Join(e.Keys, ", "), e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{models.ErrStorage, e.Err}
}

// upload is one file to push once the owning transaction commits
type upload struct {
	key  string
	file *File
}

// storeAfterCommit uploads files in order and reports every failed key.
func storeAfterCommit(ctx context.Context, objects ObjectStore, logger *zap.Logger, uploads []upload) error {
	var failed []string
	var firstErr error
	for _, u := range uploads {
		if _, err := objects.Store(ctx, u.file.Body, u.key, u.file.ContentType); err != nil {
			util.StorageFailuresTotal.WithLabelValues("store").Inc()
			logger.Error("File upload failed after commit", zap.String("key", u.key), zap.Error(err))
			failed = append(failed, u.key)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if len(failed) > 0 {
		return &StorageError{Keys: failed, Committed: true, Err: firstErr}
	}
	return nil
}

// getOrCreateWallet returns the owner's wallet, allocating a zero-balance one
// under the wallet table lock when none exists.
func getOrCreateWallet(ctx context.Context, tx store.LedgerTx, ownerID, role string) (*models.Wallet, error) {
	w, err := tx.GetWalletByOwner(ctx, ownerID, role)
	if err != nil || w != nil {
		return w, err
	}

	walletID, err := tx.NextID(ctx, store.WalletSeq)
	if err != nil {
		return nil, err
	}

	// Another request may have created it while we waited for the lock.
	w, err = tx.GetWalletByOwner(ctx, ownerID, role)
	if err != nil || w != nil {
		return w, err
	}

	w = &models.Wallet{
		WalletID:     walletID,
		OwnerID:      ownerID,
		Role:         role,
		DigitalMoney: decimal.Zero,
	}
	if err := tx.InsertWallet(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return w, nil
}

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{models.ErrValidation}, args...)...)
}

func requireComment(decision models.Decision, comment string) (*string, error) {
	comment = strings.TrimSpace(comment)
	if decision == models.DecisionReject && comment == "" {
		return nil, validationf("a comment is required when rejecting")
	}
	if comment == "" {
		return nil, nil
	}
	return &comment, nil
}

func commentValue(c *string) string {
	if c == nil {
		return ""
	}
	return *c
}

func invalidateStats(ctx context.Context, cache Cache, logger *zap.Logger) {
	if err := cache.InvalidateStats(ctx); err != nil {
		logger.Warn("Failed to invalidate stats cache", zap.Error(err))
	}
}

func invalidateBalance(ctx context.Context, cache Cache, logger *zap.Logger, ownerID, role string) {
	if err := cache.InvalidateBalance(ctx, ownerID, role); err != nil {
		logger.Warn("Failed to invalidate balance cache",
			zap.String("owner_id", ownerID), zap.Error(err))
	}
}
