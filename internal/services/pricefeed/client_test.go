package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pricepulse/internal/config"
	"pricepulse/internal/models"

	"github.com/sirupsen/logrus"
)

const testPair = "0x88e6a0c2ddd26feeb64f039a2c41296fcb3f5640"

func testConfig(baseURL string) config.UpstreamConfig {
	return config.UpstreamConfig{
		BaseURL:          baseURL,
		MinFetchInterval: time.Millisecond,
		RequestTimeout:   2 * time.Second,
		PriceTTL:         time.Second,
		BatchTTL:         20 * time.Second,
	}
}

func pairBody(address, price string) string {
	return fmt.Sprintf(`{"pairs":[{"pairAddress":"%s","baseToken":{"symbol":"PEPE","name":"Pepe"},"priceUsd":"%s","priceChange":{"h24":4.2},"volume":{"h24":1000},"liquidity":{"usd":50000}}]}`, address, price)
}

func TestFetchPrice(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		fmt.Fprint(w, pairBody(testPair, "1.2345"))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), logrus.New())

	snap, err := client.FetchPrice(context.Background(), testPair)
	if err != nil {
		t.Fatalf("FetchPrice failed: %v", err)
	}
	if snap.PriceUsd.String() != "1.2345" {
		t.Errorf("price = %s, want 1.2345", snap.PriceUsd)
	}
	if snap.PriceChange24h != 4.2 {
		t.Errorf("change24h = %v, want 4.2", snap.PriceChange24h)
	}

	// Second call within the price TTL must be served from cache
	if _, err := client.FetchPrice(context.Background(), testPair); err != nil {
		t.Fatalf("cached FetchPrice failed: %v", err)
	}
	if n := atomic.LoadInt64(&calls); n != 1 {
		t.Errorf("upstream called %d times, want 1", n)
	}
}

func TestFetchPriceCaseInsensitiveCacheKey(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		fmt.Fprint(w, pairBody(testPair, "1.0"))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), logrus.New())

	if _, err := client.FetchPrice(context.Background(), testPair); err != nil {
		t.Fatalf("FetchPrice failed: %v", err)
	}
	upper := "0x88E6A0C2DDD26FEEB64F039A2C41296FCB3F5640"
	if _, err := client.FetchPrice(context.Background(), upper); err != nil {
		t.Fatalf("FetchPrice failed: %v", err)
	}
	if n := atomic.LoadInt64(&calls); n != 1 {
		t.Errorf("upstream called %d times, want 1 (case variants share a key)", n)
	}
}

func TestFetchPriceValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no pairs", `{"pairs":[]}`},
		{"missing price", fmt.Sprintf(`{"pairs":[{"pairAddress":"%s","priceUsd":""}]}`, testPair)},
		{"address mismatch", pairBody("0x0000000000000000000000000000000000000001", "1.0")},
		{"garbage price", pairBody(testPair, "not-a-number")},
		{"not json", `<html>rate limited</html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			client := NewClient(testConfig(srv.URL), logrus.New())
			if _, err := client.FetchPrice(context.Background(), testPair); err == nil {
				t.Error("expected a validation error, got nil")
			}
		})
	}
}

func TestFetchPriceTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		fmt.Fprint(w, pairBody(testPair, "1.0"))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RequestTimeout = 50 * time.Millisecond
	client := NewClient(cfg, logrus.New())

	_, err := client.FetchPrice(context.Background(), testPair)
	if !errors.Is(err, models.ErrUpstreamTimeout) {
		t.Errorf("expected ErrUpstreamTimeout, got %v", err)
	}
}

func TestFetchPriceUpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), logrus.New())
	if _, err := client.FetchPrice(context.Background(), testPair); err == nil {
		t.Error("expected an error for non-200 upstream status")
	}
}

func TestConcurrentFetchesCollapse(t *testing.T) {
	var calls int64
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		<-release
		fmt.Fprint(w, pairBody(testPair, "1.0"))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), logrus.New())

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.FetchPrice(context.Background(), testPair)
		}(i)
	}

	// Let the goroutines pile up behind the in-flight leader, then release
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("fetch %d failed: %v", i, err)
		}
	}
	if n := atomic.LoadInt64(&calls); n != 1 {
		t.Errorf("upstream called %d times for one key, want 1", n)
	}
}

func TestFetchBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "WETH USDC" {
			t.Errorf("query = %q, want %q", got, "WETH USDC")
		}
		fmt.Fprint(w, `{"pairs":[
			{"pairAddress":"0x88e6a0c2ddd26feeb64f039a2c41296fcb3f5640","baseToken":{"symbol":"WETH"},"priceUsd":"3100.50","priceChange":{"h24":-1.1},"volume":{"h24":9},"liquidity":{"usd":8}},
			{"pairAddress":"","baseToken":{"symbol":"BAD"},"priceUsd":"1"},
			{"pairAddress":"0x0000000000000000000000000000000000000002","baseToken":{"symbol":"NOPRICE"},"priceUsd":""}
		]}`)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), logrus.New())
	pairs, err := client.FetchBatch(context.Background(), "WETH USDC")
	if err != nil {
		t.Fatalf("FetchBatch failed: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("got %d pairs, want 1 (malformed records skipped)", len(pairs))
	}
	if pairs[0].BaseSymbol != "WETH" || pairs[0].PriceUsd != "3100.50" {
		t.Errorf("unexpected pair: %+v", pairs[0])
	}
}

func TestRateLimiterSpacing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pairBody(r.URL.Path[len(r.URL.Path)-42:], "1.0"))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MinFetchInterval = 80 * time.Millisecond
	client := NewClient(cfg, logrus.New())

	other := "0x0000000000000000000000000000000000000003"
	start := time.Now()
	if _, err := client.FetchPrice(context.Background(), testPair); err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}
	if _, err := client.FetchPrice(context.Background(), other); err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("two uncached fetches completed in %v, want >= 80ms spacing", elapsed)
	}
}
