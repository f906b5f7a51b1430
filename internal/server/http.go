// Package server exposes StockMesh over HTTP and gRPC: a JSON API for
// placing orders and querying books, prices, and views; a websocket feed
// of live price and volume updates; and a gRPC endpoint carrying health
// and reflection for probes and debugging tools.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"StockMesh/internal/aggregator"
	"StockMesh/internal/books"
	"StockMesh/internal/clock"
	"StockMesh/internal/event"
	"StockMesh/internal/observability"
	"StockMesh/internal/priceview"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// HTTPServer serves the JSON query and order API.
type HTTPServer struct {
	addr    string
	books   *books.BookService
	aggs    *aggregator.Service
	views   *priceview.Service
	feed    *FeedHub
	health  *observability.HealthChecker
	clk     clock.Clock
	ids     clock.OrderIDGenerator
	log     zerolog.Logger
	metrics *observability.Metrics

	srv *http.Server
}

// NewHTTPServer wires the API over the running services. feed may be nil
// to disable the websocket endpoint; metrics may be nil.
func NewHTTPServer(addr string, bookSvc *books.BookService, aggSvc *aggregator.Service, viewSvc *priceview.Service, feed *FeedHub, health *observability.HealthChecker, clk clock.Clock, ids clock.OrderIDGenerator, log zerolog.Logger, metrics *observability.Metrics) *HTTPServer {
	s := &HTTPServer{
		addr:    addr,
		books:   bookSvc,
		aggs:    aggSvc,
		views:   viewSvc,
		feed:    feed,
		health:  health,
		clk:     clk,
		ids:     ids,
		log:     log.With().Str("component", "http-server").Logger(),
		metrics: metrics,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/orders/ask", s.instrument("place_ask", s.handlePlaceAsk))
	mux.HandleFunc("POST /api/orders/bid", s.instrument("place_bid", s.handlePlaceBid))
	mux.HandleFunc("GET /api/books/{symbol}", s.instrument("book_snapshot", s.handleBookSnapshot))
	mux.HandleFunc("GET /api/prices/{symbol}", s.instrument("price_and_volume", s.handlePriceAndVolume))
	mux.HandleFunc("GET /api/prices/{symbol}/history", s.instrument("price_history", s.handlePriceHistory))
	mux.HandleFunc("GET /api/prices/{symbol}/latest", s.instrument("latest_price", s.handleLatestPrice))
	mux.HandleFunc("GET /api/ping/{symbol}", s.instrument("ping", s.handlePing))
	mux.HandleFunc("GET /healthz", health.LivenessHandler)
	mux.HandleFunc("GET /readyz", health.ReadinessHandler)
	if feed != nil {
		mux.HandleFunc("GET /ws/feed", feed.ServeWS)
	}

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the route table for embedding and tests.
func (s *HTTPServer) Handler() http.Handler { return s.srv.Handler }

// Run serves until ctx is cancelled, then drains with a bounded shutdown.
func (s *HTTPServer) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.log.Info().Str("addr", s.addr).Msg("HTTP server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

type orderRequest struct {
	Symbol   string          `json:"symbol"`
	OrderID  string          `json:"order_id,omitempty"`
	Price    decimal.Decimal `json:"price"`
	Quantity float64         `json:"quantity"`
}

func (r orderRequest) validate() error {
	if r.Symbol == "" {
		return errors.New("symbol is required")
	}
	if r.Price.Sign() <= 0 {
		return errors.New("price must be positive")
	}
	if r.Quantity <= 0 {
		return errors.New("quantity must be positive")
	}
	return nil
}

func (s *HTTPServer) handlePlaceAsk(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.OrderID == "" {
		req.OrderID = s.ids.NextID()
	}

	ask := event.Ask{
		Symbol:     req.Symbol,
		OrderID:    req.OrderID,
		AskPrice:   req.Price,
		Quantity:   req.Quantity,
		TimeIssued: s.clk.Now(),
	}
	conf, err := s.books.PlaceAsk(r.Context(), ask)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, conf)
}

func (s *HTTPServer) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.OrderID == "" {
		req.OrderID = s.ids.NextID()
	}

	bid := event.Bid{
		Symbol:     req.Symbol,
		OrderID:    req.OrderID,
		BidPrice:   req.Price,
		Quantity:   req.Quantity,
		TimeIssued: s.clk.Now(),
	}
	conf, err := s.books.PlaceBid(r.Context(), bid)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, conf)
}

func (s *HTTPServer) handleBookSnapshot(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	snap, err := s.books.Snapshot(r.Context(), symbol)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handlePriceAndVolume(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	h, err := s.aggs.Resolve(r.Context(), symbol)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	snap, err := h.FetchPriceAndVolume(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	history, err := s.views.GetPriceHistory(r.Context(), symbol)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":  symbol,
		"updates": history,
	})
}

func (s *HTTPServer) handleLatestPrice(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	update, ok, err := s.views.GetLatestPrice(r.Context(), symbol)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("no price data yet for %s", symbol))
		return
	}
	s.writeJSON(w, http.StatusOK, update)
}

func (s *HTTPServer) handlePing(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	h, err := s.aggs.Resolve(r.Context(), symbol)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if err := h.Ping(r.Context()); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"alive":  true,
	})
}

// instrument wraps a handler with request counting and latency metrics.
func (s *HTTPServer) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		if s.metrics != nil {
			s.metrics.QueryRequests.WithLabelValues(endpoint, fmt.Sprintf("%d", rec.status)).Inc()
			s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	var unknown books.ErrUnknownSymbol
	switch {
	case errors.As(err, &unknown):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusGatewayTimeout, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, err error) {
	s.log.Debug().Err(err).Int("status", status).Msg("request failed")
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("encode response")
	}
}
