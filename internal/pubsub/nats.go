package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"StockMesh/internal/event"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// ConnectNATS establishes a NATS connection with infinite reconnects.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

// NATSBus routes trade events and price/volume updates over core NATS
// subjects. Topic names double as subject names: "{symbol}-{EventTypeName}"
// for trades, "{symbol}-price" and "{symbol}-update" for the aggregate
// feeds. Trade payloads use the event codec envelope; price and volume
// updates are plain JSON.
type NATSBus struct {
	nc  *nats.Conn
	log zerolog.Logger

	mu   sync.Mutex
	subs map[subKey]*nats.Subscription
}

type subKey struct {
	topic string
	dest  any
}

// NewNATSBus wraps an established connection.
func NewNATSBus(nc *nats.Conn, log zerolog.Logger) *NATSBus {
	return &NATSBus{
		nc:   nc,
		log:  log.With().Str("component", "nats-bus").Logger(),
		subs: make(map[subKey]*nats.Subscription),
	}
}

// Publish broadcasts ev on its "{symbol}-{type}" subject.
func (b *NATSBus) Publish(_ context.Context, tickerSymbol string, ev event.TradeEvent) error {
	data, err := event.Encode(ev)
	if err != nil {
		return fmt.Errorf("encode trade event: %w", err)
	}
	topic := event.TradeTopic(tickerSymbol, ev.Type())
	if err := b.nc.Publish(topic, data); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers sub for the given event types of tickerSymbol. Each
// type gets its own subject subscription; undecodable payloads are logged
// and dropped, as are messages a full subscriber channel cannot take.
func (b *NATSBus) Subscribe(_ context.Context, tickerSymbol string, types []event.TradeEventType, sub chan<- event.TradeEvent) (TradeSubscribeAck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		topic := event.TradeTopic(tickerSymbol, t)
		key := subKey{topic: topic, dest: sub}
		if _, ok := b.subs[key]; ok {
			continue
		}
		s, err := b.nc.Subscribe(topic, func(msg *nats.Msg) {
			ev, err := event.Decode(msg.Data)
			if err != nil {
				b.log.Error().Err(err).Str("topic", msg.Subject).Msg("dropping undecodable trade event")
				return
			}
			select {
			case sub <- ev:
			default:
				b.log.Warn().Str("topic", msg.Subject).Msg("subscriber channel full, dropping trade event")
			}
		})
		if err != nil {
			return TradeSubscribeAck{}, fmt.Errorf("subscribe %s: %w", topic, err)
		}
		b.subs[key] = s
	}
	return TradeSubscribeAck{TickerSymbol: tickerSymbol, Events: types}, nil
}

// Unsubscribe drains the subject subscriptions backing sub for the given
// event types. Unknown subscriptions are ignored.
func (b *NATSBus) Unsubscribe(_ context.Context, tickerSymbol string, types []event.TradeEventType, sub chan<- event.TradeEvent) (TradeUnsubscribeAck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		topic := event.TradeTopic(tickerSymbol, t)
		key := subKey{topic: topic, dest: sub}
		if s, ok := b.subs[key]; ok {
			if err := s.Unsubscribe(); err != nil {
				return TradeUnsubscribeAck{}, fmt.Errorf("unsubscribe %s: %w", topic, err)
			}
			delete(b.subs, key)
		}
	}
	return TradeUnsubscribeAck{TickerSymbol: tickerSymbol, Events: types}, nil
}

// PublishPrice broadcasts update on its "{symbol}-price" subject.
func (b *NATSBus) PublishPrice(_ context.Context, update event.PriceChanged) error {
	topic := event.PriceUpdateTopic(update.StockID())
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("encode price update: %w", err)
	}
	if err := b.nc.Publish(topic, data); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishVolume broadcasts update on its "{symbol}-update" subject.
func (b *NATSBus) PublishVolume(_ context.Context, update event.VolumeChanged) error {
	topic := event.VolumeUpdateTopic(update.StockID())
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("encode volume update: %w", err)
	}
	if err := b.nc.Publish(topic, data); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// SubscribePrices registers sub for tickerSymbol's price updates.
func (b *NATSBus) SubscribePrices(_ context.Context, tickerSymbol string, sub chan<- event.PriceChanged) (SubscribeAck, error) {
	topic := event.PriceUpdateTopic(tickerSymbol)

	b.mu.Lock()
	defer b.mu.Unlock()
	key := subKey{topic: topic, dest: sub}
	if _, ok := b.subs[key]; ok {
		return SubscribeAck{Topic: topic}, nil
	}
	s, err := b.nc.Subscribe(topic, func(msg *nats.Msg) {
		var update event.PriceChanged
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			b.log.Error().Err(err).Str("topic", msg.Subject).Msg("dropping undecodable price update")
			return
		}
		select {
		case sub <- update:
		default:
			b.log.Warn().Str("topic", msg.Subject).Msg("subscriber channel full, dropping price update")
		}
	})
	if err != nil {
		return SubscribeAck{}, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	b.subs[key] = s
	return SubscribeAck{Topic: topic}, nil
}

// UnsubscribePrices drains sub's subscription on tickerSymbol's price topic.
func (b *NATSBus) UnsubscribePrices(_ context.Context, tickerSymbol string, sub chan<- event.PriceChanged) error {
	return b.drop(event.PriceUpdateTopic(tickerSymbol), sub)
}

// SubscribeVolumes registers sub for tickerSymbol's volume updates.
func (b *NATSBus) SubscribeVolumes(_ context.Context, tickerSymbol string, sub chan<- event.VolumeChanged) (SubscribeAck, error) {
	topic := event.VolumeUpdateTopic(tickerSymbol)

	b.mu.Lock()
	defer b.mu.Unlock()
	key := subKey{topic: topic, dest: sub}
	if _, ok := b.subs[key]; ok {
		return SubscribeAck{Topic: topic}, nil
	}
	s, err := b.nc.Subscribe(topic, func(msg *nats.Msg) {
		var update event.VolumeChanged
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			b.log.Error().Err(err).Str("topic", msg.Subject).Msg("dropping undecodable volume update")
			return
		}
		select {
		case sub <- update:
		default:
			b.log.Warn().Str("topic", msg.Subject).Msg("subscriber channel full, dropping volume update")
		}
	})
	if err != nil {
		return SubscribeAck{}, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	b.subs[key] = s
	return SubscribeAck{Topic: topic}, nil
}

// UnsubscribeVolumes drains sub's subscription on tickerSymbol's volume topic.
func (b *NATSBus) UnsubscribeVolumes(_ context.Context, tickerSymbol string, sub chan<- event.VolumeChanged) error {
	return b.drop(event.VolumeUpdateTopic(tickerSymbol), sub)
}

func (b *NATSBus) drop(topic string, dest any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := subKey{topic: topic, dest: dest}
	if s, ok := b.subs[key]; ok {
		if err := s.Unsubscribe(); err != nil {
			return fmt.Errorf("unsubscribe %s: %w", topic, err)
		}
		delete(b.subs, key)
	}
	return nil
}

// Close drains every live subscription.
func (b *NATSBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, s := range b.subs {
		if err := s.Unsubscribe(); err != nil {
			b.log.Warn().Err(err).Str("topic", key.topic).Msg("unsubscribe on close")
		}
		delete(b.subs, key)
	}
}
