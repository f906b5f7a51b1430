package books

import (
	"context"
	"fmt"

	"StockMesh/internal/clock"
	"StockMesh/internal/event"
	"StockMesh/internal/observability"
	"StockMesh/internal/pubsub"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownSymbol reports an order or query routed to a symbol no book
// worker serves.
type ErrUnknownSymbol struct {
	Symbol string
}

func (e ErrUnknownSymbol) Error() string {
	return fmt.Sprintf("books: no order book for symbol %q", e.Symbol)
}

// BookService shards one BookWorker per ticker symbol and routes commands
// to them. The worker set is fixed at construction; an unknown symbol is a
// routing error, never a crash.
type BookService struct {
	workers map[string]*BookWorker
	log     zerolog.Logger
}

// NewBookService builds one worker per symbol.
func NewBookService(symbols []string, store bookStore, pub pubsub.TradeEventPublisher, clk clock.Clock, log zerolog.Logger, metrics *observability.Metrics) *BookService {
	workers := make(map[string]*BookWorker, len(symbols))
	for _, sym := range symbols {
		workers[sym] = NewBookWorker(sym, store, pub, clk, log, metrics)
	}
	return &BookService{
		workers: workers,
		log:     log.With().Str("component", "book-service").Logger(),
	}
}

// Run starts every worker and blocks until the first failure or ctx
// cancellation.
func (s *BookService) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range s.workers {
		w := w
		g.Go(func() error { return w.Run(ctx) })
	}
	return g.Wait()
}

// Worker returns the book worker for symbol.
func (s *BookService) Worker(symbol string) (*BookWorker, error) {
	w, ok := s.workers[symbol]
	if !ok {
		return nil, ErrUnknownSymbol{Symbol: symbol}
	}
	return w, nil
}

// Symbols lists the symbols this service trades.
func (s *BookService) Symbols() []string {
	out := make([]string, 0, len(s.workers))
	for sym := range s.workers {
		out = append(out, sym)
	}
	return out
}

// PlaceAsk routes a sell order to its book.
func (s *BookService) PlaceAsk(ctx context.Context, ask event.Ask) (*OrderConfirmed, error) {
	w, err := s.Worker(ask.Symbol)
	if err != nil {
		return nil, err
	}
	return w.PlaceAsk(ctx, ask)
}

// PlaceBid routes a buy order to its book.
func (s *BookService) PlaceBid(ctx context.Context, bid event.Bid) (*OrderConfirmed, error) {
	w, err := s.Worker(bid.Symbol)
	if err != nil {
		return nil, err
	}
	return w.PlaceBid(ctx, bid)
}

// Snapshot routes a book state query.
func (s *BookService) Snapshot(ctx context.Context, symbol string) (event.OrderbookSnapshot, error) {
	w, err := s.Worker(symbol)
	if err != nil {
		return event.OrderbookSnapshot{}, err
	}
	return w.Snapshot(ctx)
}
