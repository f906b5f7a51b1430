package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"StockMesh/internal/clock"
	"StockMesh/internal/event"
	"StockMesh/internal/journal"
	"StockMesh/internal/observability"
	"StockMesh/internal/pubsub"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// RestartBackoff is the pause before a failed worker is restarted.
const RestartBackoff = 5 * time.Second

// Handle is a live reference to one symbol's aggregator. Done is closed
// when the underlying worker stops; holders must then re-resolve.
type Handle struct {
	worker *Worker
	done   chan struct{}
}

// FetchPriceAndVolume forwards the query to the worker.
func (h *Handle) FetchPriceAndVolume(ctx context.Context) (event.PriceAndVolumeSnapshot, error) {
	return h.worker.FetchPriceAndVolume(ctx)
}

// Ping forwards a liveness nudge to the worker.
func (h *Handle) Ping(ctx context.Context) error {
	return h.worker.Ping(ctx)
}

// Done is closed when the worker behind this handle has terminated.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Service supervises one aggregation worker per symbol. A worker that
// fails — an unexpected end of its tagged stream included — is restarted
// after RestartBackoff, resuming from its last persisted checkpoint.
type Service struct {
	symbols []string
	store   aggStore
	bus     pubsub.PriceUpdateBus
	clk     clock.Clock
	log     zerolog.Logger
	metrics *observability.Metrics

	publishInterval time.Duration

	mu      sync.RWMutex
	handles map[string]*Handle
}

// NewService builds a supervisor for the given symbols.
func NewService(symbols []string, store aggStore, bus pubsub.PriceUpdateBus, clk clock.Clock, log zerolog.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		symbols:         symbols,
		store:           store,
		bus:             bus,
		clk:             clk,
		log:             log.With().Str("component", "aggregator-service").Logger(),
		metrics:         metrics,
		publishInterval: PublishInterval,
		handles:         make(map[string]*Handle),
	}
}

// SetPublishInterval overrides the publish cadence for all workers,
// including ones created on restart.
func (s *Service) SetPublishInterval(d time.Duration) { s.publishInterval = d }

// Run supervises every worker until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, sym := range s.symbols {
		sym := sym
		g.Go(func() error { return s.supervise(ctx, sym) })
	}
	return g.Wait()
}

func (s *Service) supervise(ctx context.Context, symbol string) error {
	for {
		worker := NewWorker(symbol, s.store, s.bus, s.clk, s.log, s.metrics)
		worker.SetPublishInterval(s.publishInterval)
		handle := &Handle{worker: worker, done: make(chan struct{})}

		s.mu.Lock()
		s.handles[symbol] = handle
		s.mu.Unlock()

		err := worker.Run(ctx)
		close(handle.done)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if errors.Is(err, journal.ErrUnexpectedEndOfStream) {
			s.log.Error().Str("symbol", symbol).Msg("tagged stream ended unexpectedly, restarting aggregator")
		} else {
			s.log.Error().Err(err).Str("symbol", symbol).Msg("aggregator failed, restarting")
		}
		if s.metrics != nil {
			s.metrics.StreamRestarts.WithLabelValues(symbol).Inc()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(RestartBackoff):
		}
	}
}

// Resolve returns the live handle for symbol. The handle goes stale when
// its worker terminates; watch Done and re-resolve.
func (s *Service) Resolve(_ context.Context, symbol string) (*Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handles[symbol]
	if !ok {
		return nil, fmt.Errorf("aggregator: no worker for symbol %q", symbol)
	}
	return h, nil
}
