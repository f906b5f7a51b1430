// Package pubsub defines the event publication and subscription contracts
// the matching engine, aggregators, and price views depend on. The concrete
// transport is polymorphic: NATS for distributed runs, an in-memory hub for
// single-process runs and tests, and a no-op manager for components that
// do not care about subscriptions.
package pubsub

import (
	"context"
	"time"

	"StockMesh/internal/event"

	"github.com/rs/zerolog"
)

// TradeEventPublisher broadcasts trade events for a ticker symbol. Routing
// is by topic "{symbol}-{EventTypeName}".
type TradeEventPublisher interface {
	Publish(ctx context.Context, tickerSymbol string, ev event.TradeEvent) error
}

// TradeSubscribeAck confirms a trade event subscription.
type TradeSubscribeAck struct {
	TickerSymbol string
	Events       []event.TradeEventType
}

// TradeUnsubscribeAck confirms a trade event unsubscription.
type TradeUnsubscribeAck struct {
	TickerSymbol string
	Events       []event.TradeEventType
}

// TradeEventSubscriptionManager manages typed trade event subscriptions.
// Subscribe and Unsubscribe are idempotent, acknowledgment-bearing, and can
// fail; callers retry with backoff (see Retry).
type TradeEventSubscriptionManager interface {
	Subscribe(ctx context.Context, tickerSymbol string, types []event.TradeEventType, sub chan<- event.TradeEvent) (TradeSubscribeAck, error)
	Unsubscribe(ctx context.Context, tickerSymbol string, types []event.TradeEventType, sub chan<- event.TradeEvent) (TradeUnsubscribeAck, error)
}

// SubscribeAck confirms a price or volume topic subscription.
type SubscribeAck struct {
	Topic string
}

// PriceUpdateBus carries the aggregators' published price and volume
// updates to their replicated views and feeds.
type PriceUpdateBus interface {
	PublishPrice(ctx context.Context, update event.PriceChanged) error
	PublishVolume(ctx context.Context, update event.VolumeChanged) error

	SubscribePrices(ctx context.Context, tickerSymbol string, sub chan<- event.PriceChanged) (SubscribeAck, error)
	UnsubscribePrices(ctx context.Context, tickerSymbol string, sub chan<- event.PriceChanged) error

	SubscribeVolumes(ctx context.Context, tickerSymbol string, sub chan<- event.VolumeChanged) (SubscribeAck, error)
	UnsubscribeVolumes(ctx context.Context, tickerSymbol string, sub chan<- event.VolumeChanged) error
}

// RetryInterval is the fixed backoff between subscription attempts.
const RetryInterval = 5 * time.Second

// Retry runs op until it succeeds, waiting RetryInterval between attempts.
// It retries indefinitely; the only way out without success is context
// cancellation.
func Retry(ctx context.Context, log zerolog.Logger, what string, op func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		log.Warn().Err(err).Int("attempt", attempt).Msgf("%s failed, retrying in %s", what, RetryInterval)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(RetryInterval):
		}
	}
}
