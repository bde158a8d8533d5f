package registry

import (
	"context"
	"sync"
	"time"

	"pricepulse/internal/config"
	"pricepulse/internal/metrics"
	"pricepulse/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// PriceFetcher is the upstream dependency the registry polls against
type PriceFetcher interface {
	FetchPrice(ctx context.Context, identifier string) (*models.PriceSnapshot, error)
}

// Registry owns one subscription per distinct pair identifier. It starts a
// poll loop when the first client subscribes to an identifier, stops it the
// moment the last one leaves, and posts change events to each subscriber's
// channel.
//
// The mutex guards the subscription map and every subscriber map. Event
// delivery happens under the lock with non-blocking sends, so removal of a
// subscriber and the next tick's notification pass are mutually exclusive: a
// client that unsubscribed never receives a later event.
type Registry struct {
	fetcher      PriceFetcher
	logger       *logrus.Logger
	pollInterval time.Duration
	maxErrors    int
	nowFunc      func() time.Time

	mu   sync.Mutex
	subs map[string]*subscription

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

// subscription tracks every client interested in one identifier plus the
// state of its fetch cycle. Owned exclusively by the registry.
type subscription struct {
	identifier        string
	subscribers       map[string]chan<- models.PriceUpdate
	lastPrice         *decimal.Decimal
	lastFetchAt       time.Time
	consecutiveErrors int
	totalFetches      uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a registry with injected dependencies
func New(cfg config.RegistryConfig, fetcher PriceFetcher, logger *logrus.Logger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		fetcher:      fetcher,
		logger:       logger,
		pollInterval: cfg.PollInterval,
		maxErrors:    cfg.MaxConsecutiveErrors,
		nowFunc:      time.Now,
		subs:         make(map[string]*subscription),
		rootCtx:      ctx,
		rootCancel:   cancel,
	}
}

// Subscribe registers ch to receive updates for identifier. Re-subscribing
// the same client replaces its channel without growing the subscriber count.
// Returns whether a new subscription (and poll loop) was created.
func (r *Registry) Subscribe(identifier, clientID string, ch chan<- models.PriceUpdate) (bool, error) {
	if !models.ValidIdentifier(identifier) {
		return false, models.ErrInvalidIdentifier
	}
	identifier = models.NormalizeIdentifier(identifier)

	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[identifier]
	created := false
	if !ok {
		loopCtx, cancel := context.WithCancel(r.rootCtx)
		sub = &subscription{
			identifier:  identifier,
			subscribers: make(map[string]chan<- models.PriceUpdate),
			cancel:      cancel,
			done:        make(chan struct{}),
		}
		r.subs[identifier] = sub
		go r.pollLoop(loopCtx, sub)
		created = true

		metrics.SubscriptionsTotal.Inc()
		metrics.ActiveSubscriptions.Set(float64(len(r.subs)))
		r.logger.WithField("identifier", identifier).Info("Subscription created, poll loop started")
	}

	if _, exists := sub.subscribers[clientID]; !exists {
		metrics.ActiveSubscribers.Inc()
	}
	sub.subscribers[clientID] = ch

	return created, nil
}

// Unsubscribe removes clientID from identifier's subscription. Unknown
// client or identifier is a no-op returning false. When the last subscriber
// leaves, the poll loop is cancelled and the subscription is deleted; a later
// re-subscribe starts completely fresh.
func (r *Registry) Unsubscribe(identifier, clientID string) bool {
	identifier = models.NormalizeIdentifier(identifier)

	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[identifier]
	if !ok {
		r.logger.WithField("identifier", identifier).Debug("Unsubscribe for unknown identifier")
		return false
	}
	if _, ok := sub.subscribers[clientID]; !ok {
		r.logger.WithFields(logrus.Fields{
			"identifier": identifier,
			"client_id":  clientID,
		}).Debug("Unsubscribe for client not subscribed")
		return false
	}

	delete(sub.subscribers, clientID)
	metrics.ActiveSubscribers.Dec()

	if len(sub.subscribers) == 0 {
		r.removeLocked(sub)
		return false
	}
	return true
}

// removeLocked cancels the poll loop and discards the subscription. Caller
// holds r.mu. The loop may still be mid-fetch; its tick re-checks identity
// under the lock before touching anything, so cancellation is effective the
// moment this returns.
func (r *Registry) removeLocked(sub *subscription) {
	sub.cancel()
	delete(r.subs, sub.identifier)
	metrics.ActiveSubscriptions.Set(float64(len(r.subs)))
	r.logger.WithField("identifier", sub.identifier).Info("Subscription removed, poll loop stopped")
}

// Close cancels every poll loop. Used on shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rootCancel()
	for id := range r.subs {
		delete(r.subs, id)
	}
	metrics.ActiveSubscriptions.Set(0)
}

func (r *Registry) pollLoop(ctx context.Context, sub *subscription) {
	defer close(sub.done)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollOnce(ctx, sub)
		}
	}
}

// pollOnce runs one fetch-and-diff tick for sub. The fetch happens outside
// the lock; all state mutation and delivery happen inside it.
func (r *Registry) pollOnce(ctx context.Context, sub *subscription) {
	snap, err := r.fetcher.FetchPrice(ctx, sub.identifier)

	r.mu.Lock()
	defer r.mu.Unlock()

	// Removed or replaced while the fetch was in flight
	if r.subs[sub.identifier] != sub {
		return
	}

	sub.totalFetches++
	sub.lastFetchAt = r.nowFunc()

	if err != nil {
		sub.consecutiveErrors++
		r.logger.WithError(err).WithFields(logrus.Fields{
			"identifier":         sub.identifier,
			"consecutive_errors": sub.consecutiveErrors,
		}).Warn("Price fetch failed")

		if sub.consecutiveErrors >= r.maxErrors {
			// Silent degrade: subscribers are not notified, a re-subscribe
			// simply starts a fresh cycle
			r.logger.WithField("identifier", sub.identifier).Error("Error threshold reached, evicting subscription")
			metrics.ActiveSubscribers.Sub(float64(len(sub.subscribers)))
			metrics.SubscriptionEvictions.Inc()
			r.removeLocked(sub)
		}
		return
	}

	sub.consecutiveErrors = 0

	price := snap.PriceUsd
	if sub.lastPrice != nil && price.Equal(*sub.lastPrice) {
		return
	}

	change := models.Classify(sub.lastPrice, price)
	sub.lastPrice = &price

	update := models.PriceUpdate{
		Identifier:     sub.identifier,
		PriceUsd:       price.String(),
		PriceChange24h: snap.PriceChange24h,
		Timestamp:      r.nowFunc().UnixMilli(),
		Change:         change,
	}

	for clientID, ch := range sub.subscribers {
		select {
		case ch <- update:
			metrics.PriceUpdatesEmitted.Inc()
		default:
			// A full channel means a dead or hopelessly slow consumer; drop
			// only that registration, never the whole subscription
			delete(sub.subscribers, clientID)
			metrics.ActiveSubscribers.Dec()
			metrics.SlowSubscribersDropped.Inc()
			r.logger.WithFields(logrus.Fields{
				"identifier": sub.identifier,
				"client_id":  clientID,
			}).Warn("Dropping unresponsive subscriber")
		}
	}

	if len(sub.subscribers) == 0 {
		r.removeLocked(sub)
	}
}
