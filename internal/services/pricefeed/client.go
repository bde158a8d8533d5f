package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"pricepulse/internal/config"
	"pricepulse/internal/metrics"
	"pricepulse/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// pairResponse mirrors the DexScreener pair lookup/search payload
type pairResponse struct {
	Pairs []pairData `json:"pairs"`
}

type pairData struct {
	PairAddress string `json:"pairAddress"`
	BaseToken   struct {
		Address string `json:"address"`
		Name    string `json:"name"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	PriceUsd    string `json:"priceUsd"`
	PriceChange struct {
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
	Volume struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	Liquidity struct {
		Usd float64 `json:"usd"`
	} `json:"liquidity"`
}

// Client fetches pair prices from the upstream provider. A single global
// rate limiter protects the shared upstream quota; a TTL cache keyed by the
// exact request signature collapses duplicate requests, and an in-flight map
// guarantees at most one concurrent upstream call per key.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *requestCache
	logger     *logrus.Logger
	timeout    time.Duration
	priceTTL   time.Duration
	batchTTL   time.Duration

	inflightMu sync.Mutex
	inflight   map[string]chan struct{}
}

// NewClient creates an upstream price client from configuration
func NewClient(cfg config.UpstreamConfig, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		limiter:  rate.NewLimiter(rate.Every(cfg.MinFetchInterval), 1),
		cache:    newRequestCache(nil),
		logger:   logger,
		timeout:  cfg.RequestTimeout,
		priceTTL: cfg.PriceTTL,
		batchTTL: cfg.BatchTTL,
		inflight: make(map[string]chan struct{}),
	}
}

// FetchPrice fetches the current price for one pair address
func (c *Client) FetchPrice(ctx context.Context, identifier string) (*models.PriceSnapshot, error) {
	identifier = models.NormalizeIdentifier(identifier)
	key := "pair:" + identifier

	v, err := c.fetch(ctx, key, "price", c.priceTTL, func(ctx context.Context) (interface{}, error) {
		return c.fetchPairUpstream(ctx, identifier)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.PriceSnapshot), nil
}

// FetchBatch fetches a list of pairs matching a search query, used by the
// trending cache
func (c *Client) FetchBatch(ctx context.Context, query string) ([]models.TrendingPair, error) {
	key := "batch:" + strings.ToLower(query)

	v, err := c.fetch(ctx, key, "batch", c.batchTTL, func(ctx context.Context) (interface{}, error) {
		return c.fetchBatchUpstream(ctx, query)
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.TrendingPair), nil
}

// fetch runs the cache-then-limiter-then-network sequence for one request
// signature. Concurrent callers for the same key wait on the leader and read
// its cached result.
func (c *Client) fetch(ctx context.Context, key, kind string, ttl time.Duration, do func(context.Context) (interface{}, error)) (interface{}, error) {
	if v, ok := c.cache.get(key); ok {
		metrics.RecordCacheAccess(kind, true)
		return v, nil
	}
	metrics.RecordCacheAccess(kind, false)

	done, leader := c.join(key)
	if !leader {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if v, ok := c.cache.get(key); ok {
			return v, nil
		}
		return nil, fmt.Errorf("upstream fetch failed for %s", key)
	}
	defer c.leave(key)

	// The only legitimate blocking point: wait for the shared upstream quota
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	start := time.Now()
	v, err := do(ctx)
	elapsed := time.Since(start)
	metrics.UpstreamFetchLatency.WithLabelValues(kind).Observe(float64(elapsed.Milliseconds()))

	if err != nil {
		outcome := "error"
		if errors.Is(err, models.ErrUpstreamTimeout) {
			outcome = "timeout"
		}
		metrics.UpstreamFetches.WithLabelValues(kind, outcome).Inc()
		return nil, err
	}

	metrics.UpstreamFetches.WithLabelValues(kind, "success").Inc()
	c.cache.set(key, v, ttl)
	return v, nil
}

func (c *Client) join(key string) (chan struct{}, bool) {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()

	if ch, ok := c.inflight[key]; ok {
		return ch, false
	}
	ch := make(chan struct{})
	c.inflight[key] = ch
	return ch, true
}

func (c *Client) leave(key string) {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()

	if ch, ok := c.inflight[key]; ok {
		close(ch)
		delete(c.inflight, key)
	}
}

func (c *Client) fetchPairUpstream(ctx context.Context, identifier string) (*models.PriceSnapshot, error) {
	endpoint := fmt.Sprintf("%s/latest/dex/pairs/ethereum/%s", c.baseURL, identifier)

	var resp pairResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	if len(resp.Pairs) == 0 {
		return nil, fmt.Errorf("upstream returned no pair for %s", identifier)
	}

	pair := resp.Pairs[0]
	if pair.PriceUsd == "" {
		return nil, fmt.Errorf("upstream pair %s has no price", identifier)
	}
	if pair.PairAddress != "" && models.NormalizeIdentifier(pair.PairAddress) != identifier {
		return nil, fmt.Errorf("upstream pair address mismatch: requested %s, got %s", identifier, pair.PairAddress)
	}

	price, err := decimal.NewFromString(pair.PriceUsd)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream price %q for %s: %w", pair.PriceUsd, identifier, err)
	}

	return &models.PriceSnapshot{
		PairAddress:    identifier,
		PriceUsd:       price,
		PriceChange24h: pair.PriceChange.H24,
		FetchedAt:      time.Now(),
	}, nil
}

func (c *Client) fetchBatchUpstream(ctx context.Context, query string) ([]models.TrendingPair, error) {
	endpoint := fmt.Sprintf("%s/latest/dex/search?q=%s", c.baseURL, url.QueryEscape(query))

	var resp pairResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	pairs := make([]models.TrendingPair, 0, len(resp.Pairs))
	for _, p := range resp.Pairs {
		// Skip malformed records instead of propagating empty prices
		if p.PairAddress == "" || p.PriceUsd == "" {
			continue
		}
		pairs = append(pairs, models.TrendingPair{
			PairAddress:    models.NormalizeIdentifier(p.PairAddress),
			BaseSymbol:     p.BaseToken.Symbol,
			BaseName:       p.BaseToken.Name,
			PriceUsd:       p.PriceUsd,
			PriceChange24h: p.PriceChange.H24,
			Volume24h:      p.Volume.H24,
			LiquidityUsd:   p.Liquidity.Usd,
		})
	}

	if len(pairs) == 0 {
		return nil, fmt.Errorf("upstream search %q returned no usable pairs", query)
	}

	return pairs, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", models.ErrUpstreamTimeout, endpoint)
		}
		return fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read upstream response: %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse upstream response: %w", err)
	}

	return nil
}
