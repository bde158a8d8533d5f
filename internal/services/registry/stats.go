package registry

import (
	"sort"
	"time"
)

// SubscriptionStat is a read-only view of one subscription's state
type SubscriptionStat struct {
	Identifier        string    `json:"identifier"`
	Subscribers       int       `json:"subscribers"`
	LastPrice         string    `json:"last_price,omitempty"`
	LastFetchAt       time.Time `json:"last_fetch_at,omitempty"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	TotalFetches      uint64    `json:"total_fetches"`
}

// Stats is an observability snapshot of the whole registry
type Stats struct {
	SubscriptionCount int                `json:"subscription_count"`
	TotalClientCount  int                `json:"total_client_count"`
	Subscriptions     []SubscriptionStat `json:"subscriptions"`
}

// Stats returns a consistent snapshot of all subscriptions
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{
		Subscriptions: make([]SubscriptionStat, 0, len(r.subs)),
	}
	for _, sub := range r.subs {
		stat := SubscriptionStat{
			Identifier:        sub.identifier,
			Subscribers:       len(sub.subscribers),
			LastFetchAt:       sub.lastFetchAt,
			ConsecutiveErrors: sub.consecutiveErrors,
			TotalFetches:      sub.totalFetches,
		}
		if sub.lastPrice != nil {
			stat.LastPrice = sub.lastPrice.String()
		}
		stats.Subscriptions = append(stats.Subscriptions, stat)
		stats.TotalClientCount += len(sub.subscribers)
	}
	stats.SubscriptionCount = len(r.subs)

	sort.Slice(stats.Subscriptions, func(i, j int) bool {
		return stats.Subscriptions[i].Identifier < stats.Subscriptions[j].Identifier
	})

	return stats
}
