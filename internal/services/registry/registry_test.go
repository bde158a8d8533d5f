package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"pricepulse/internal/config"
	"pricepulse/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	pairA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	pairB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	pairC = "0xcccccccccccccccccccccccccccccccccccccccc"
)

// scriptedFetcher returns a fixed sequence of prices (or errors) per
// identifier, in order, repeating the last element once exhausted
type scriptedFetcher struct {
	mu      sync.Mutex
	scripts map[string][]fetchResult
	calls   map[string]int
}

type fetchResult struct {
	price string
	err   error
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		scripts: make(map[string][]fetchResult),
		calls:   make(map[string]int),
	}
}

func (f *scriptedFetcher) script(identifier string, results ...fetchResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[identifier] = results
}

func (f *scriptedFetcher) FetchPrice(ctx context.Context, identifier string) (*models.PriceSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	script := f.scripts[identifier]
	idx := f.calls[identifier]
	f.calls[identifier]++
	if len(script) == 0 {
		return nil, fmt.Errorf("no script for %s", identifier)
	}
	if idx >= len(script) {
		idx = len(script) - 1
	}
	res := script[idx]
	if res.err != nil {
		return nil, res.err
	}
	return &models.PriceSnapshot{
		PairAddress: identifier,
		PriceUsd:    decimal.RequireFromString(res.price),
		FetchedAt:   time.Now(),
	}, nil
}

func newTestRegistry(fetcher PriceFetcher) *Registry {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return New(config.RegistryConfig{
		PollInterval:         time.Hour, // ticks driven manually via pollOnce
		MaxConsecutiveErrors: 5,
	}, fetcher, logger)
}

func (r *Registry) subFor(identifier string) *subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[identifier]
}

func waitClosed(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestPollLoopLivenessTracksSubscribers(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.script(pairA, fetchResult{price: "1.0"})

	r := newTestRegistry(fetcher)
	defer r.Close()

	chans := make([]chan models.PriceUpdate, 3)
	for i := range chans {
		chans[i] = make(chan models.PriceUpdate, 8)
		created, err := r.Subscribe(pairA, fmt.Sprintf("client-%d", i), chans[i])
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		if want := i == 0; created != want {
			t.Errorf("Subscribe %d: created = %v, want %v", i, created, want)
		}
	}

	sub := r.subFor(pairA)
	if sub == nil {
		t.Fatal("subscription missing after subscribes")
	}
	if got := r.Stats().SubscriptionCount; got != 1 {
		t.Fatalf("subscription count = %d, want 1", got)
	}

	// Unsubscribe all but one: loop stays alive
	r.Unsubscribe(pairA, "client-0")
	r.Unsubscribe(pairA, "client-1")
	select {
	case <-sub.done:
		t.Fatal("poll loop stopped while a subscriber remains")
	case <-time.After(50 * time.Millisecond):
	}

	// Last one out: loop must stop and the entry must vanish
	if remaining := r.Unsubscribe(pairA, "client-2"); remaining {
		t.Error("Unsubscribe of last client reported remaining subscribers")
	}
	waitClosed(t, sub.done, "poll loop stop")
	if got := r.Stats().SubscriptionCount; got != 0 {
		t.Errorf("subscription count = %d after full unsubscribe, want 0", got)
	}
}

func TestConcurrentSubscribesShareOneLoop(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.script(pairA, fetchResult{price: "1.0"})

	r := newTestRegistry(fetcher)
	defer r.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch := make(chan models.PriceUpdate, 1)
			if _, err := r.Subscribe(pairA, fmt.Sprintf("client-%d", i), ch); err != nil {
				t.Errorf("Subscribe failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	stats := r.Stats()
	if stats.SubscriptionCount != 1 {
		t.Errorf("subscription count = %d, want 1", stats.SubscriptionCount)
	}
	if stats.TotalClientCount != 20 {
		t.Errorf("client count = %d, want 20", stats.TotalClientCount)
	}
}

func TestChangeOnlyEmission(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.script(pairA,
		fetchResult{price: "1.00"},
		fetchResult{price: "1.00"},
		fetchResult{price: "1.00"},
		fetchResult{price: "1.05"},
	)

	r := newTestRegistry(fetcher)
	defer r.Close()

	ch := make(chan models.PriceUpdate, 8)
	if _, err := r.Subscribe(pairA, "client-a", ch); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	sub := r.subFor(pairA)

	for i := 0; i < 4; i++ {
		r.pollOnce(context.Background(), sub)
	}

	if got := len(ch); got != 2 {
		t.Fatalf("received %d updates, want exactly 2", got)
	}

	first := <-ch
	if first.PriceUsd != "1.00" || first.Change != models.ChangeUnchanged {
		t.Errorf("first update = %+v, want price 1.00 with change unchanged", first)
	}
	second := <-ch
	if second.PriceUsd != "1.05" || second.Change != models.ChangeIncrease {
		t.Errorf("second update = %+v, want price 1.05 with change increase", second)
	}
}

func TestChangeClassification(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.script(pairA,
		fetchResult{price: "1.2345"},
		fetchResult{price: "1.3000"},
		fetchResult{price: "0.9000"},
	)

	r := newTestRegistry(fetcher)
	defer r.Close()

	ch := make(chan models.PriceUpdate, 8)
	r.Subscribe(pairA, "client-a", ch)
	sub := r.subFor(pairA)

	r.pollOnce(context.Background(), sub)
	r.pollOnce(context.Background(), sub)
	r.pollOnce(context.Background(), sub)

	want := []models.ChangeDirection{models.ChangeUnchanged, models.ChangeIncrease, models.ChangeDecrease}
	for i, dir := range want {
		update := <-ch
		if update.Change != dir {
			t.Errorf("update %d: change = %s, want %s", i, update.Change, dir)
		}
	}
}

func TestErrorThresholdEviction(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.script(pairA, fetchResult{err: fmt.Errorf("upstream down")})

	r := newTestRegistry(fetcher)
	defer r.Close()

	ch := make(chan models.PriceUpdate, 8)
	r.Subscribe(pairA, "client-a", ch)
	sub := r.subFor(pairA)

	for i := 0; i < 4; i++ {
		r.pollOnce(context.Background(), sub)
		if got := r.Stats().SubscriptionCount; got != 1 {
			t.Fatalf("evicted after %d errors, want eviction only at 5", i+1)
		}
	}

	r.pollOnce(context.Background(), sub)
	if got := r.Stats().SubscriptionCount; got != 0 {
		t.Errorf("subscription count = %d after 5 consecutive errors, want 0", got)
	}
	waitClosed(t, sub.done, "poll loop stop after eviction")
	// Silent degrade: no event was delivered
	if got := len(ch); got != 0 {
		t.Errorf("received %d events during eviction, want 0", got)
	}
}

func TestErrorCounterResetsOnSuccess(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.script(pairA,
		fetchResult{err: fmt.Errorf("flaky")},
		fetchResult{err: fmt.Errorf("flaky")},
		fetchResult{price: "2.00"},
		fetchResult{err: fmt.Errorf("flaky")},
	)

	r := newTestRegistry(fetcher)
	defer r.Close()

	ch := make(chan models.PriceUpdate, 8)
	r.Subscribe(pairA, "client-a", ch)
	sub := r.subFor(pairA)

	for i := 0; i < 4; i++ {
		r.pollOnce(context.Background(), sub)
	}

	stats := r.Stats()
	if stats.SubscriptionCount != 1 {
		t.Fatal("subscription evicted despite intermittent success")
	}
	if got := stats.Subscriptions[0].ConsecutiveErrors; got != 1 {
		t.Errorf("consecutive errors = %d, want 1 (reset by success)", got)
	}
}

func TestUnsubscribeUnknownIsNoop(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.script(pairA, fetchResult{price: "1.0"})

	r := newTestRegistry(fetcher)
	defer r.Close()

	if r.Unsubscribe(pairA, "nobody") {
		t.Error("Unsubscribe of unknown identifier returned true")
	}

	ch := make(chan models.PriceUpdate, 8)
	r.Subscribe(pairA, "client-a", ch)

	if r.Unsubscribe(pairA, "someone-else") {
		t.Error("Unsubscribe of client not subscribed returned true")
	}
	if got := r.Stats().TotalClientCount; got != 1 {
		t.Errorf("client count = %d after no-op unsubscribe, want 1", got)
	}
}

func TestResubscribeReplacesChannel(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.script(pairA, fetchResult{price: "1.0"})

	r := newTestRegistry(fetcher)
	defer r.Close()

	stale := make(chan models.PriceUpdate, 8)
	fresh := make(chan models.PriceUpdate, 8)
	r.Subscribe(pairA, "client-a", stale)
	r.Subscribe(pairA, "client-a", fresh)

	if got := r.Stats().TotalClientCount; got != 1 {
		t.Fatalf("client count = %d after re-subscribe, want 1", got)
	}

	r.pollOnce(context.Background(), r.subFor(pairA))
	if len(stale) != 0 {
		t.Error("replaced channel still received an update")
	}
	if len(fresh) != 1 {
		t.Error("replacement channel received no update")
	}
}

func TestNoDeliveryAfterUnsubscribe(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.script(pairA,
		fetchResult{price: "1.00"},
		fetchResult{price: "2.00"},
	)

	r := newTestRegistry(fetcher)
	defer r.Close()

	chA := make(chan models.PriceUpdate, 8)
	chB := make(chan models.PriceUpdate, 8)
	r.Subscribe(pairA, "client-a", chA)
	r.Subscribe(pairA, "client-b", chB)
	sub := r.subFor(pairA)

	r.pollOnce(context.Background(), sub)
	<-chA
	<-chB

	r.Unsubscribe(pairA, "client-a")
	r.pollOnce(context.Background(), sub)

	if len(chA) != 0 {
		t.Error("unsubscribed client received an update")
	}
	if len(chB) != 1 {
		t.Error("remaining client missed an update")
	}
}

func TestSlowSubscriberDropped(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.script(pairA,
		fetchResult{price: "1.00"},
		fetchResult{price: "2.00"},
	)

	r := newTestRegistry(fetcher)
	defer r.Close()

	full := make(chan models.PriceUpdate) // unbuffered, nobody reading
	healthy := make(chan models.PriceUpdate, 8)
	r.Subscribe(pairA, "client-slow", full)
	r.Subscribe(pairA, "client-ok", healthy)
	sub := r.subFor(pairA)

	r.pollOnce(context.Background(), sub)

	stats := r.Stats()
	if stats.SubscriptionCount != 1 {
		t.Fatal("whole subscription removed instead of just the slow client")
	}
	if stats.TotalClientCount != 1 {
		t.Errorf("client count = %d, want 1 after slow client dropped", stats.TotalClientCount)
	}
	if len(healthy) != 1 {
		t.Error("healthy client missed the update")
	}

	// If the last remaining subscriber is also dropped, the subscription goes
	r.Unsubscribe(pairA, "client-ok")
	if got := r.Stats().SubscriptionCount; got != 0 {
		t.Errorf("subscription count = %d, want 0", got)
	}
}

func TestInvalidIdentifierRejected(t *testing.T) {
	r := newTestRegistry(newScriptedFetcher())
	defer r.Close()

	ch := make(chan models.PriceUpdate, 1)
	for _, id := range []string{"", "0x123", "WETHUSDC", "0xzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz"} {
		if _, err := r.Subscribe(id, "client-a", ch); err != models.ErrInvalidIdentifier {
			t.Errorf("Subscribe(%q): err = %v, want ErrInvalidIdentifier", id, err)
		}
	}
	if got := r.Stats().SubscriptionCount; got != 0 {
		t.Errorf("invalid subscribe left %d subscriptions behind", got)
	}
}

func TestResubscribeAfterRemovalStartsFresh(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.script(pairA,
		fetchResult{price: "5.00"},
		fetchResult{price: "5.00"},
	)

	r := newTestRegistry(fetcher)
	defer r.Close()

	ch := make(chan models.PriceUpdate, 8)
	r.Subscribe(pairA, "client-a", ch)
	first := r.subFor(pairA)
	r.pollOnce(context.Background(), first)
	<-ch

	r.Unsubscribe(pairA, "client-a")
	waitClosed(t, first.done, "first poll loop stop")

	// No zombie lastPrice: a fresh subscribe must emit a first observation
	// even for the same price value
	r.Subscribe(pairA, "client-a", ch)
	second := r.subFor(pairA)
	if second == first {
		t.Fatal("re-subscribe reused the removed subscription object")
	}
	r.pollOnce(context.Background(), second)

	select {
	case update := <-ch:
		if update.Change != models.ChangeUnchanged {
			t.Errorf("first observation after re-subscribe: change = %s, want unchanged", update.Change)
		}
	default:
		t.Error("no first observation emitted after re-subscribe")
	}
}

func TestStaleTickAfterRemovalIsIgnored(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.script(pairA, fetchResult{price: "1.00"}, fetchResult{price: "9.99"})

	r := newTestRegistry(fetcher)
	defer r.Close()

	ch := make(chan models.PriceUpdate, 8)
	r.Subscribe(pairA, "client-a", ch)
	old := r.subFor(pairA)
	r.Unsubscribe(pairA, "client-a")

	// A tick that raced with removal must not deliver or resurrect anything
	r.pollOnce(context.Background(), old)
	if len(ch) != 0 {
		t.Error("ghost tick delivered an update after removal")
	}
	if got := r.Stats().SubscriptionCount; got != 0 {
		t.Errorf("ghost tick resurrected the subscription (count = %d)", got)
	}
}

func TestTickerDrivenDelivery(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.script(pairB, fetchResult{price: "0.5"})

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	r := New(config.RegistryConfig{
		PollInterval:         10 * time.Millisecond,
		MaxConsecutiveErrors: 5,
	}, fetcher, logger)
	defer r.Close()

	ch := make(chan models.PriceUpdate, 8)
	r.Subscribe(pairB, "client-a", ch)

	select {
	case update := <-ch:
		if update.Identifier != pairB || update.PriceUsd != "0.5" {
			t.Errorf("unexpected update %+v", update)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update delivered by the poll loop")
	}
}
