package pubsub

import (
	"context"

	"StockMesh/internal/event"
)

// NoOpPublisher swallows every event. Useful in tests that exercise
// persistence without a live transport.
type NoOpPublisher struct{}

func (NoOpPublisher) Publish(context.Context, string, event.TradeEvent) error { return nil }
