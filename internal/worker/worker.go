package worker

import (
	"context"

	"trade-ledger/internal/broker"
	"trade-ledger/internal/service"
	"trade-ledger/internal/util"

	"go.uber.org/zap"
)

// MessageSource is the part of broker.Consumer the worker drives
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// LedgerWorker consumes ledger events in the background
type LedgerWorker struct {
	source        MessageSource
	eventHandler  *broker.EventHandler
	notifications *service.NotificationService
	logger        *zap.Logger
}

// NewLedgerWorker creates a new ledger worker
func NewLedgerWorker(
	source MessageSource,
	notifications *service.NotificationService,
) *LedgerWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnAny(notifications.HandleAny)
	eventHandler.OnTradeReviewed(notifications.HandleTradeReviewed)
	eventHandler.OnTradeSold(notifications.HandleTradeSold)
	eventHandler.OnWalletReviewed(notifications.HandleWalletReviewed)

	return &LedgerWorker{
		source:        source,
		eventHandler:  eventHandler,
		notifications: notifications,
		logger:        util.GetLogger(),
	}
}

// Handler returns the message router, for callers that feed messages directly
func (w *LedgerWorker) Handler() *broker.EventHandler {
	return w.eventHandler
}

// Start blocks consuming events until ctx is done
func (w *LedgerWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting ledger worker...")
	return w.source.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *LedgerWorker) Stop() error {
	w.logger.Info("Stopping ledger worker...")
	return w.source.Close()
}
