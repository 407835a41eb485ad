// Package marketdata obtiene snapshots de mercado: cliente HTTP con rate limiting,
// proveedor de fixtures para -dry-run y decorador con cache.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
)

const (
	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Config parametriza el cliente HTTP.
type Config struct {
	BaseURL       string
	APIKey        string
	RatePerSec    float64 // espaciado mínimo entre requests
	Burst         int
	MaxConcurrent int64 // requests en vuelo
	Timeout       time.Duration
}

// Client es el cliente HTTP del proveedor de datos con rate limiting, límite de
// concurrencia y retries. Cuando el presupuesto se agota, bloquea en vez de fallar.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	retry   time.Duration
}

// NewClient crea un Client. Valores no positivos se sustituyen por defaults razonables.
func NewClient(cfg Config) *Client {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		retry:   baseRetryWait,
	}
}

// Snapshot devuelve el snapshot del símbolo. Cualquier fallo envuelve
// domain.ErrDataUnavailable para que el ciclo lo aísle por símbolo.
func (c *Client) Snapshot(ctx context.Context, symbol string) (domain.MarketSnapshot, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("marketdata.Snapshot: %s: %w: %w", symbol, domain.ErrDataUnavailable, err)
	}
	defer c.sem.Release(1)

	var snap domain.MarketSnapshot
	endpoint := fmt.Sprintf("%s/v1/snapshot/%s", c.baseURL, url.PathEscape(symbol))
	if err := c.get(ctx, endpoint, &snap); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("marketdata.Snapshot: %s: %w: %w", symbol, domain.ErrDataUnavailable, err)
	}
	if snap.Symbol == "" {
		snap.Symbol = symbol
	}
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = time.Now().UTC()
	}
	if err := snap.Validate(); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("marketdata.Snapshot: %w: %w", domain.ErrDataUnavailable, err)
	}
	return snap, nil
}

// get hace un GET con rate limiting y retries.
func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	return c.doWithRetry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}
		return c.http.Do(req)
	}, out)
}

// errNotFound no se reintenta: el símbolo no existe en el proveedor.
var errNotFound = errors.New("symbol not found")

// doWithRetry ejecuta la función con backoff exponencial.
func (c *Client) doWithRetry(ctx context.Context, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("rate limited by market data API", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return errNotFound
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.retry
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
