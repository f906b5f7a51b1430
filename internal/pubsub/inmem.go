package pubsub

import (
	"context"
	"sync"

	"StockMesh/internal/event"

	"github.com/rs/zerolog"
)

// InMemoryBus is a process-local topic hub. It implements
// TradeEventPublisher, TradeEventSubscriptionManager, and PriceUpdateBus,
// which makes it a drop-in transport for single-node runs and tests.
//
// Delivery is non-blocking: a subscriber whose channel is full loses the
// message rather than stalling the publisher. Slow consumers are expected
// to size their channels accordingly.
type InMemoryBus struct {
	mu      sync.RWMutex
	trades  map[string]map[chan<- event.TradeEvent]struct{}
	prices  map[string]map[chan<- event.PriceChanged]struct{}
	volumes map[string]map[chan<- event.VolumeChanged]struct{}
	log     zerolog.Logger
}

// NewInMemoryBus returns an empty hub.
func NewInMemoryBus(log zerolog.Logger) *InMemoryBus {
	return &InMemoryBus{
		trades:  make(map[string]map[chan<- event.TradeEvent]struct{}),
		prices:  make(map[string]map[chan<- event.PriceChanged]struct{}),
		volumes: make(map[string]map[chan<- event.VolumeChanged]struct{}),
		log:     log.With().Str("component", "inmem-bus").Logger(),
	}
}

// Publish fans ev out to every subscriber of its "{symbol}-{type}" topic.
func (b *InMemoryBus) Publish(_ context.Context, tickerSymbol string, ev event.TradeEvent) error {
	topic := event.TradeTopic(tickerSymbol, ev.Type())

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.trades[topic] {
		select {
		case sub <- ev:
		default:
			b.log.Warn().Str("topic", topic).Msg("subscriber channel full, dropping trade event")
		}
	}
	return nil
}

// Subscribe registers sub for the given event types of tickerSymbol.
func (b *InMemoryBus) Subscribe(_ context.Context, tickerSymbol string, types []event.TradeEventType, sub chan<- event.TradeEvent) (TradeSubscribeAck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		topic := event.TradeTopic(tickerSymbol, t)
		set, ok := b.trades[topic]
		if !ok {
			set = make(map[chan<- event.TradeEvent]struct{})
			b.trades[topic] = set
		}
		set[sub] = struct{}{}
	}
	return TradeSubscribeAck{TickerSymbol: tickerSymbol, Events: types}, nil
}

// Unsubscribe removes sub from the given event types of tickerSymbol. It is
// a no-op for topics sub was never registered on.
func (b *InMemoryBus) Unsubscribe(_ context.Context, tickerSymbol string, types []event.TradeEventType, sub chan<- event.TradeEvent) (TradeUnsubscribeAck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		topic := event.TradeTopic(tickerSymbol, t)
		if set, ok := b.trades[topic]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(b.trades, topic)
			}
		}
	}
	return TradeUnsubscribeAck{TickerSymbol: tickerSymbol, Events: types}, nil
}

// PublishPrice fans update out on its "{symbol}-price" topic.
func (b *InMemoryBus) PublishPrice(_ context.Context, update event.PriceChanged) error {
	topic := event.PriceUpdateTopic(update.StockID())

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.prices[topic] {
		select {
		case sub <- update:
		default:
			b.log.Warn().Str("topic", topic).Msg("subscriber channel full, dropping price update")
		}
	}
	return nil
}

// PublishVolume fans update out on its "{symbol}-update" topic.
func (b *InMemoryBus) PublishVolume(_ context.Context, update event.VolumeChanged) error {
	topic := event.VolumeUpdateTopic(update.StockID())

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.volumes[topic] {
		select {
		case sub <- update:
		default:
			b.log.Warn().Str("topic", topic).Msg("subscriber channel full, dropping volume update")
		}
	}
	return nil
}

// SubscribePrices registers sub for tickerSymbol's price updates.
func (b *InMemoryBus) SubscribePrices(_ context.Context, tickerSymbol string, sub chan<- event.PriceChanged) (SubscribeAck, error) {
	topic := event.PriceUpdateTopic(tickerSymbol)

	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.prices[topic]
	if !ok {
		set = make(map[chan<- event.PriceChanged]struct{})
		b.prices[topic] = set
	}
	set[sub] = struct{}{}
	return SubscribeAck{Topic: topic}, nil
}

// UnsubscribePrices removes sub from tickerSymbol's price topic.
func (b *InMemoryBus) UnsubscribePrices(_ context.Context, tickerSymbol string, sub chan<- event.PriceChanged) error {
	topic := event.PriceUpdateTopic(tickerSymbol)

	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.prices[topic]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.prices, topic)
		}
	}
	return nil
}

// SubscribeVolumes registers sub for tickerSymbol's volume updates.
func (b *InMemoryBus) SubscribeVolumes(_ context.Context, tickerSymbol string, sub chan<- event.VolumeChanged) (SubscribeAck, error) {
	topic := event.VolumeUpdateTopic(tickerSymbol)

	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.volumes[topic]
	if !ok {
		set = make(map[chan<- event.VolumeChanged]struct{})
		b.volumes[topic] = set
	}
	set[sub] = struct{}{}
	return SubscribeAck{Topic: topic}, nil
}

// UnsubscribeVolumes removes sub from tickerSymbol's volume topic.
func (b *InMemoryBus) UnsubscribeVolumes(_ context.Context, tickerSymbol string, sub chan<- event.VolumeChanged) error {
	topic := event.VolumeUpdateTopic(tickerSymbol)

	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.volumes[topic]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.volumes, topic)
		}
	}
	return nil
}
