package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"trade-ledger/internal/models"
	"trade-ledger/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventWriter is the part of Producer the publisher needs
type EventWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing ledger events
type EventPublisher struct {
	producer EventWriter
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer EventWriter) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishTradeCreated publishes TradeCreated event
func (ep *EventPublisher) PublishTradeCreated(ctx context.Context, event *models.TradeCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, "trade-"+event.TradeID, event)
}

// PublishTradeReviewed publishes TradeReviewed event
func (ep *EventPublisher) PublishTradeReviewed(ctx context.Context, event *models.TradeReviewedEvent) error {
	return ep.producer.PublishEvent(ctx, "trade-"+event.TradeID, event)
}

// PublishTradeSold publishes TradeSold event
func (ep *EventPublisher) PublishTradeSold(ctx context.Context, event *models.TradeSoldEvent) error {
	return ep.producer.PublishEvent(ctx, "trade-"+event.TradeID, event)
}

// PublishWalletRequested publishes WalletRequested event
func (ep *EventPublisher) PublishWalletRequested(ctx context.Context, event *models.WalletRequestedEvent) error {
	return ep.producer.PublishEvent(ctx, "wallet-"+event.WalletID, event)
}

// PublishWalletReviewed publishes WalletReviewed event
func (ep *EventPublisher) PublishWalletReviewed(ctx context.Context, event *models.WalletReviewedEvent) error {
	return ep.producer.PublishEvent(ctx, "wallet-"+event.WalletID, event)
}

// EventHandler handles incoming ledger events
type EventHandler struct {
	onTradeReviewed  func(context.Context, *models.TradeReviewedEvent) error
	onTradeSold      func(context.Context, *models.TradeSoldEvent) error
	onWalletReviewed func(context.Context, *models.WalletReviewedEvent) error
	onAny            func(context.Context, models.BaseEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnTradeReviewed registers a handler for TradeReviewed events
func (eh *EventHandler) OnTradeReviewed(handler func(context.Context, *models.TradeReviewedEvent) error) {
	eh.onTradeReviewed = handler
}

// OnTradeSold registers a handler for TradeSold events
func (eh *EventHandler) OnTradeSold(handler func(context.Context, *models.TradeSoldEvent) error) {
	eh.onTradeSold = handler
}

// OnWalletReviewed registers a handler for WalletReviewed events
func (eh *EventHandler) OnWalletReviewed(handler func(context.Context, *models.WalletReviewedEvent) error) {
	eh.onWalletReviewed = handler
}

// OnAny registers a handler run for every event before the typed handler
func (eh *EventHandler) OnAny(handler func(context.Context, models.BaseEvent) error) {
	eh.onAny = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	util.GetLogger().Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	if eh.onAny != nil {
		if err := eh.onAny(ctx, baseEvent); err != nil {
			return err
		}
	}

	switch baseEvent.EventType {
	case models.EventTypeTradeReviewed:
		if eh.onTradeReviewed != nil {
			var event models.TradeReviewedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal TradeReviewed event: %w", err)
			}
			return eh.onTradeReviewed(ctx, &event)
		}

	case models.EventTypeTradeSold:
		if eh.onTradeSold != nil {
			var event models.TradeSoldEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal TradeSold event: %w", err)
			}
			return eh.onTradeSold(ctx, &event)
		}

	case models.EventTypeWalletReviewed:
		if eh.onWalletReviewed != nil {
			var event models.WalletReviewedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal WalletReviewed event: %w", err)
			}
			return eh.onWalletReviewed(ctx, &event)
		}

	case models.EventTypeTradeCreated, models.EventTypeWalletRequest:
		// only onAny cares about these

	default:
		util.GetLogger().Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
