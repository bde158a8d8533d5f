package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Subscription metrics
	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricepulse_active_subscriptions",
			Help: "Number of pair identifiers with a running poll loop",
		},
	)

	ActiveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricepulse_active_subscribers",
			Help: "Total client registrations across all subscriptions",
		},
	)

	SubscriptionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricepulse_subscriptions_total",
			Help: "Total subscriptions created",
		},
	)

	SubscriptionEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricepulse_subscription_evictions_total",
			Help: "Subscriptions removed after hitting the consecutive error threshold",
		},
	)

	PriceUpdatesEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricepulse_price_updates_emitted_total",
			Help: "Price change events fanned out to subscribers",
		},
	)

	SlowSubscribersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricepulse_slow_subscribers_dropped_total",
			Help: "Subscriber registrations removed because their channel was full or closed",
		},
	)

	// Upstream metrics
	UpstreamFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricepulse_upstream_fetches_total",
			Help: "Upstream HTTP fetches by kind and outcome",
		},
		[]string{"kind", "outcome"}, // kind: price|batch, outcome: success|error|timeout
	)

	UpstreamFetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricepulse_upstream_fetch_latency_ms",
			Help:    "Upstream fetch latency in milliseconds",
			Buckets: []float64{5, 10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"kind"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricepulse_cache_hits_total",
			Help: "Cache hits by cache name",
		},
		[]string{"cache"}, // price, batch, trending
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricepulse_cache_misses_total",
			Help: "Cache misses by cache name",
		},
		[]string{"cache"},
	)

	TrendingRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricepulse_trending_refreshes_total",
			Help: "Trending list refreshes by trigger",
		},
		[]string{"trigger"}, // ttl, force, admin
	)

	// Gateway metrics
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricepulse_connected_clients",
			Help: "Number of live WebSocket connections",
		},
	)

	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricepulse_connections_rejected_total",
			Help: "Connections rejected by reason",
		},
		[]string{"reason"}, // rate_limited
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricepulse_messages_sent_total",
			Help: "Server events written to clients by event type",
		},
		[]string{"event"},
	)
)

// RecordCacheAccess records a cache hit or miss for the named cache
func RecordCacheAccess(cache string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(cache).Inc()
	} else {
		CacheMisses.WithLabelValues(cache).Inc()
	}
}
