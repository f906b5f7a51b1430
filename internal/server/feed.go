package server

import (
	"context"
	"net/http"
	"sync"

	"StockMesh/internal/event"
	"StockMesh/internal/pubsub"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// feedMessage is the websocket frame: a type discriminator plus payload.
type feedMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type feedClient struct {
	ch chan feedMessage
}

// FeedHub streams live price and volume updates for every traded symbol to
// websocket clients. It subscribes once per symbol on the update bus and
// fans frames out; a client too slow to keep up loses frames rather than
// stalling the hub.
type FeedHub struct {
	bus      pubsub.PriceUpdateBus
	symbols  []string
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu      sync.Mutex
	clients map[*feedClient]struct{}

	prices  chan event.PriceChanged
	volumes chan event.VolumeChanged
}

// NewFeedHub builds an unstarted hub.
func NewFeedHub(bus pubsub.PriceUpdateBus, symbols []string, log zerolog.Logger) *FeedHub {
	return &FeedHub{
		bus:      bus,
		symbols:  symbols,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		log:      log.With().Str("component", "feed-hub").Logger(),
		clients:  make(map[*feedClient]struct{}),
		prices:   make(chan event.PriceChanged, 256),
		volumes:  make(chan event.VolumeChanged, 256),
	}
}

// Run subscribes to every symbol's update topics and pumps frames to
// clients until ctx is cancelled.
func (h *FeedHub) Run(ctx context.Context) error {
	for _, sym := range h.symbols {
		sym := sym
		err := pubsub.Retry(ctx, h.log, "feed price subscribe", func(ctx context.Context) error {
			_, err := h.bus.SubscribePrices(ctx, sym, h.prices)
			return err
		})
		if err != nil {
			return err
		}
		err = pubsub.Retry(ctx, h.log, "feed volume subscribe", func(ctx context.Context) error {
			_, err := h.bus.SubscribeVolumes(ctx, sym, h.volumes)
			return err
		})
		if err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case update := <-h.prices:
			h.broadcast(feedMessage{Type: "price", Data: update})
		case update := <-h.volumes:
			h.broadcast(feedMessage{Type: "volume", Data: update})
		}
	}
}

func (h *FeedHub) broadcast(msg feedMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.ch <- msg:
		default:
			// Slow consumer: drop the frame, keep the connection.
		}
	}
}

func (h *FeedHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.ch)
		delete(h.clients, c)
	}
}

// ServeWS upgrades the connection and streams frames until the client
// disconnects or the hub shuts down.
func (h *FeedHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	client := &feedClient{ch: make(chan feedMessage, 64)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
	}()

	for msg := range client.ch {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
