package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/andresuchdata/shopledger/internal/domain"
	"github.com/redis/go-redis/v9"
)

const vendorSummaryKeyPrefix = "analytics:vendors"

type AnalyticsCache interface {
	GetVendorSummaries(ctx context.Context, filter domain.AnalyticsFilter) ([]domain.VendorSummary, bool, error)
	SetVendorSummaries(ctx context.Context, filter domain.AnalyticsFilter, summaries []domain.VendorSummary) error
	InvalidateAll(ctx context.Context) error
}

type redisAnalyticsCache struct {
	client *redis.Client
	ttl    time.Duration
}

type noopAnalyticsCache struct{}

// NewAnalyticsCache returns the no-op cache when client is nil.
func NewAnalyticsCache(client *redis.Client, ttlSeconds int) AnalyticsCache {
	if client == nil {
		return &noopAnalyticsCache{}
	}
	return &redisAnalyticsCache{client: client, ttl: ttlOrDefault(ttlSeconds)}
}

func NewNoopAnalyticsCache() AnalyticsCache {
	return &noopAnalyticsCache{}
}

func (c *redisAnalyticsCache) GetVendorSummaries(ctx context.Context, filter domain.AnalyticsFilter) ([]domain.VendorSummary, bool, error) {
	payload, err := c.client.Get(ctx, buildVendorSummaryKey(filter)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var summaries []domain.VendorSummary
	if err := json.Unmarshal(payload, &summaries); err != nil {
		return nil, false, fmt.Errorf("decode vendor summary cache: %w", err)
	}
	return summaries, true, nil
}

func (c *redisAnalyticsCache) SetVendorSummaries(ctx context.Context, filter domain.AnalyticsFilter, summaries []domain.VendorSummary) error {
	payload, err := json.Marshal(summaries)
	if err != nil {
		return fmt.Errorf("encode vendor summary cache: %w", err)
	}

	if err := c.client.Set(ctx, buildVendorSummaryKey(filter), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *redisAnalyticsCache) InvalidateAll(ctx context.Context) error {
	return deleteKeysWithPrefix(ctx, c.client, vendorSummaryKeyPrefix, scanBatchSize)
}

func (n *noopAnalyticsCache) GetVendorSummaries(ctx context.Context, filter domain.AnalyticsFilter) ([]domain.VendorSummary, bool, error) {
	return nil, false, nil
}

func (n *noopAnalyticsCache) SetVendorSummaries(ctx context.Context, filter domain.AnalyticsFilter, summaries []domain.VendorSummary) error {
	return nil
}

func (n *noopAnalyticsCache) InvalidateAll(ctx context.Context) error {
	return nil
}

func buildVendorSummaryKey(filter domain.AnalyticsFilter) string {
	if filter.IsZero() {
		return vendorSummaryKeyPrefix + ":default"
	}

	var parts []string
	if filter.Status != "" {
		parts = append(parts, "status="+strings.ToLower(string(filter.Status)))
	}
	if filter.From != "" {
		parts = append(parts, "from="+filter.From)
	}
	if filter.To != "" {
		parts = append(parts, "to="+filter.To)
	}

	raw := strings.Join(parts, "|")
	hash := sha1.Sum([]byte(raw))
	return fmt.Sprintf("%s:%s", vendorSummaryKeyPrefix, hex.EncodeToString(hash[:]))
}
