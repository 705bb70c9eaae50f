package service

import (
	"context"
	"fmt"

	"trade-ledger/internal/models"
	"trade-ledger/internal/util"

	"go.uber.org/zap"
)

// Notifier delivers a message to a ledger participant
type Notifier interface {
	Notify(ctx context.Context, recipientID, subject, body string) error
}

// LogNotifier writes notices to the log. It stands in until a mail or
// push channel is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: util.GetLogger()}
}

// Notify logs the notice
func (n *LogNotifier) Notify(ctx context.Context, recipientID, subject, body string) error {
	n.logger.Info("Notification",
		zap.String("recipient", recipientID),
		zap.String("subject", subject),
		zap.String("body", body))
	return nil
}

// NotificationService reacts to committed ledger events: it refreshes the
// advisory caches and tells vendors about review outcomes. Each event is
// handled once per idempotency window.
type NotificationService struct {
	cache    Cache
	notifier Notifier
	rules    Rules
	logger   *zap.Logger
}

// NewNotificationService creates a new notification service
func NewNotificationService(cache Cache, notifier Notifier, rules Rules) *NotificationService {
	return &NotificationService{
		cache:    cache,
		notifier: notifier,
		rules:    rules,
		logger:   util.GetLogger(),
	}
}

// claim reports whether this consumer is the first to see the event
func (ns *NotificationService) claim(ctx context.Context, event models.BaseEvent) bool {
	first, err := ns.cache.ClaimIdempotencyKey(ctx, "event:"+event.EventID, ns.rules.IdempotencyTTL)
	if err != nil {
		ns.logger.Warn("Event dedup unavailable", zap.String("event_id", event.EventID), zap.Error(err))
		return true
	}
	if !first {
		ns.logger.Info("Event already processed", zap.String("event_id", event.EventID))
	}
	return first
}

// HandleAny drops the cached dashboard counters on every ledger event
func (ns *NotificationService) HandleAny(ctx context.Context, event models.BaseEvent) error {
	invalidateStats(ctx, ns.cache, ns.logger)
	return nil
}

// HandleTradeReviewed tells the vendor how their purchase was reviewed
func (ns *NotificationService) HandleTradeReviewed(ctx context.Context, event *models.TradeReviewedEvent) error {
	ctx, span := util.StartSpan(ctx, "NotificationService.HandleTradeReviewed")
	defer span.End()

	if !ns.claim(ctx, event.BaseEvent) {
		return nil
	}

	subject := fmt.Sprintf("Trade %s approved", event.TradeID)
	body := "Your purchase was approved and is now held in your portfolio."
	if event.Decision == string(models.DecisionReject) {
		subject = fmt.Sprintf("Trade %s rejected", event.TradeID)
		body = fmt.Sprintf("Your purchase was rejected: %s. %d units were returned to stock.", event.Comment, event.Restocked)
	}
	return ns.send(ctx, event.BaseEvent, event.VendorID, subject, body)
}

// HandleTradeSold confirms a sale and drops the vendor's cached balance
func (ns *NotificationService) HandleTradeSold(ctx context.Context, event *models.TradeSoldEvent) error {
	ctx, span := util.StartSpan(ctx, "NotificationService.HandleTradeSold")
	defer span.End()

	if !ns.claim(ctx, event.BaseEvent) {
		return nil
	}

	invalidateBalance(ctx, ns.cache, ns.logger, event.VendorID, models.RoleVendor)
	subject := fmt.Sprintf("Trade %s sold", event.TradeID)
	body := fmt.Sprintf("%s was credited to wallet %s.", event.Credited.StringFixed(2), event.WalletID)
	return ns.send(ctx, event.BaseEvent, event.VendorID, subject, body)
}

// HandleWalletReviewed tells the owner how a deposit or withdrawal was settled
func (ns *NotificationService) HandleWalletReviewed(ctx context.Context, event *models.WalletReviewedEvent) error {
	ctx, span := util.StartSpan(ctx, "NotificationService.HandleWalletReviewed")
	defer span.End()

	if !ns.claim(ctx, event.BaseEvent) {
		return nil
	}

	invalidateBalance(ctx, ns.cache, ns.logger, event.OwnerID, models.RoleVendor)

	subject := fmt.Sprintf("Your %s of %s was %s", event.TransactionType, event.Amount.StringFixed(2), event.Decision)
	body := "No change was made to your balance."
	if event.BalanceAfter != nil {
		body = fmt.Sprintf("Your balance is now %s.", event.BalanceAfter.StringFixed(2))
	}
	if event.Comment != "" {
		body += " Reviewer note: " + event.Comment
	}
	return ns.send(ctx, event.BaseEvent, event.OwnerID, subject, body)
}

// send delivers the notice and gives the claim back on failure so a redelivery retries it
func (ns *NotificationService) send(ctx context.Context, event models.BaseEvent, recipientID, subject, body string) error {
	if err := ns.notifier.Notify(ctx, recipientID, subject, body); err != nil {
		if relErr := ns.cache.ReleaseIdempotencyKey(ctx, "event:"+event.EventID); relErr != nil {
			ns.logger.Warn("Failed to release event claim", zap.String("event_id", event.EventID), zap.Error(relErr))
		}
		return fmt.Errorf("failed to notify %s: %w", recipientID, err)
	}
	return nil
}
