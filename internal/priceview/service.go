package priceview

import (
	"context"
	"fmt"

	"StockMesh/internal/clock"
	"StockMesh/internal/event"
	"StockMesh/internal/observability"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Service runs one view worker per symbol and routes queries.
type Service struct {
	workers map[string]*Worker
	log     zerolog.Logger
}

// NewService builds one view per symbol.
func NewService(symbols []string, resolve ResolveFunc, bus priceBus, clk clock.Clock, log zerolog.Logger, metrics *observability.Metrics) *Service {
	workers := make(map[string]*Worker, len(symbols))
	for _, sym := range symbols {
		workers[sym] = NewWorker(sym, resolve, bus, clk, log, metrics)
	}
	return &Service{
		workers: workers,
		log:     log.With().Str("component", "priceview-service").Logger(),
	}
}

// Run starts every view and blocks until the first failure or ctx
// cancellation.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range s.workers {
		w := w
		g.Go(func() error { return w.Run(ctx) })
	}
	return g.Wait()
}

func (s *Service) worker(symbol string) (*Worker, error) {
	w, ok := s.workers[symbol]
	if !ok {
		return nil, fmt.Errorf("priceview: no view for symbol %q", symbol)
	}
	return w, nil
}

// GetPriceHistory routes a history query to symbol's view.
func (s *Service) GetPriceHistory(ctx context.Context, symbol string) ([]event.PriceChanged, error) {
	w, err := s.worker(symbol)
	if err != nil {
		return nil, err
	}
	return w.GetPriceHistory(ctx)
}

// GetLatestPrice routes a latest-price query to symbol's view.
func (s *Service) GetLatestPrice(ctx context.Context, symbol string) (event.PriceChanged, bool, error) {
	w, err := s.worker(symbol)
	if err != nil {
		return event.PriceChanged{}, false, err
	}
	return w.GetLatestPrice(ctx)
}
