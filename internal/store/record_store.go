package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pricepulse/internal/config"
	"pricepulse/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// PortfolioRecord is a client-maintained holdings document keyed by wallet
type PortfolioRecord struct {
	Wallet    string          `json:"wallet"`
	Holdings  json.RawMessage `json:"holdings"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ActivityEntry is one append-only activity event for a wallet
type ActivityEntry struct {
	Wallet    string          `json:"wallet"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// RecordStore persists portfolio and activity records in Redis
type RecordStore struct {
	client    *redis.Client
	logger    *logrus.Logger
	keyPrefix string
}

// NewRecordStore connects to Redis and verifies the connection
func NewRecordStore(cfg config.RedisConfig, logger *logrus.Logger) (*RecordStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.WithField("addr", cfg.Addr()).Info("Connected to Redis")
	return &RecordStore{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

func (s *RecordStore) portfolioKey(wallet string) string {
	return fmt.Sprintf("%s:portfolio:%s", s.keyPrefix, wallet)
}

func (s *RecordStore) activityKey(wallet string) string {
	return fmt.Sprintf("%s:activity:%s", s.keyPrefix, wallet)
}

// GetPortfolio returns the stored portfolio for a wallet, or nil if none exists
func (s *RecordStore) GetPortfolio(ctx context.Context, wallet string) (*PortfolioRecord, error) {
	data, err := s.client.Get(ctx, s.portfolioKey(wallet)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	var record PortfolioRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("corrupt portfolio record for %s: %w", wallet, err)
	}
	return &record, nil
}

// PutPortfolio stores a portfolio document, replacing any previous one
func (s *RecordStore) PutPortfolio(ctx context.Context, record *PortfolioRecord) error {
	record.UpdatedAt = time.Now()
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal portfolio: %w", err)
	}
	if err := s.client.Set(ctx, s.portfolioKey(record.Wallet), data, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

// AppendActivity pushes one activity entry onto the wallet's history
func (s *RecordStore) AppendActivity(ctx context.Context, entry *ActivityEntry) error {
	entry.Timestamp = time.Now()
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal activity entry: %w", err)
	}
	if err := s.client.RPush(ctx, s.activityKey(entry.Wallet), data).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

// ListActivity returns up to limit most recent activity entries, newest first
func (s *RecordStore) ListActivity(ctx context.Context, wallet string, limit int) ([]ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	raw, err := s.client.LRange(ctx, s.activityKey(wallet), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	entries := make([]ActivityEntry, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var entry ActivityEntry
		if err := json.Unmarshal([]byte(raw[i]), &entry); err != nil {
			s.logger.WithError(err).Warn("Skipping corrupt activity entry")
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Ping reports whether the store is reachable
func (s *RecordStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection
func (s *RecordStore) Close() error {
	return s.client.Close()
}
