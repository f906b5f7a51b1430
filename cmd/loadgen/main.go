// Command loadgen drives a running StockMesh node with randomized bid and
// ask traffic, one trader pair per symbol. Prices random-walk around a
// midpoint so books keep crossing and matches keep flowing.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"StockMesh/internal/observability"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type orderRequest struct {
	Symbol   string          `json:"symbol"`
	OrderID  string          `json:"order_id"`
	Price    decimal.Decimal `json:"price"`
	Quantity float64         `json:"quantity"`
}

type trader struct {
	baseURL  string
	symbol   string
	side     string // "ask" or "bid"
	mid      float64
	interval time.Duration
	client   *http.Client
	rng      *rand.Rand
	log      zerolog.Logger
}

func (t *trader) run(ctx context.Context) error {
	for {
		// Jitter keeps the two sides of a book out of lockstep.
		wait := t.interval/2 + time.Duration(t.rng.Int63n(int64(t.interval)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		// Walk within ±10% of the midpoint; askers shade low and bidders
		// shade high so the spread crosses often.
		drift := t.mid * 0.1 * (t.rng.Float64()*2 - 1)
		price := t.mid + drift
		if t.side == "ask" {
			price -= t.mid * 0.02
		} else {
			price += t.mid * 0.02
		}
		qty := float64(t.rng.Intn(20) + 1)

		if err := t.place(ctx, price, qty); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.log.Warn().Err(err).Msg("order failed")
		}
	}
}

func (t *trader) place(ctx context.Context, price, qty float64) error {
	body, err := json.Marshal(orderRequest{
		Symbol:   t.symbol,
		OrderID:  uuid.NewString(),
		Price:    decimal.NewFromFloat(price).Round(2),
		Quantity: qty,
	})
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	url := fmt.Sprintf("%s/api/orders/%s", t.baseURL, t.side)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post order: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("post order: status %d", resp.StatusCode)
	}
	t.log.Debug().Float64("price", price).Float64("qty", qty).Msg("order placed")
	return nil
}

func main() {
	log := observability.NewLogger("loadgen")

	baseURL := envOrDefault("LOADGEN_TARGET", "http://localhost:8080")
	symbols := strings.Split(envOrDefault("LOADGEN_SYMBOLS", "MSFT,AAPL,GOOG,AMZN,FB"), ",")
	interval := envDurationOrDefault("LOADGEN_INTERVAL", 500*time.Millisecond)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := &http.Client{Timeout: 10 * time.Second}
	mids := map[string]float64{
		"MSFT": 105, "AAPL": 210, "GOOG": 1310, "AMZN": 1790, "FB": 170,
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		mid, ok := mids[sym]
		if !ok {
			mid = 100
		}
		for _, side := range []string{"ask", "bid"} {
			t := &trader{
				baseURL:  baseURL,
				symbol:   sym,
				side:     side,
				mid:      mid,
				interval: interval,
				client:   client,
				rng:      rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(len(sym)+len(side)))),
				log:      log.With().Str("symbol", sym).Str("side", side).Logger(),
			}
			g.Go(func() error { return t.run(ctx) })
		}
	}

	log.Info().Str("target", baseURL).Strs("symbols", symbols).Msg("load generator running")
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("load generator stopped")
		os.Exit(1)
	}
	log.Info().Msg("load generator stopped")
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultVal
}
