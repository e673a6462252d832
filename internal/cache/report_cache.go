package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andresuchdata/shopledger/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	latestReportKey   = "reports:validation:latest"
	runStateKeyPrefix = "reports:run"
)

// ReportCache keeps the most recent validation report and the last finished
// state of each run kind, so dashboards can show them after a restart.
type ReportCache interface {
	GetLatestReport(ctx context.Context) (*domain.ValidationReport, bool, error)
	SetLatestReport(ctx context.Context, report *domain.ValidationReport) error
	GetRunState(ctx context.Context, kind string) (*CachedRunState, bool, error)
	SetRunState(ctx context.Context, kind string, state domain.RunState) error
}

// CachedRunState is a finished RunState with its result kept as raw JSON,
// since the result type depends on the run kind.
type CachedRunState struct {
	Status      domain.RunStatus `json:"status"`
	Progress    float64          `json:"progress"`
	CurrentStep string           `json:"currentStep"`
	Result      json.RawMessage  `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	StartTime   *time.Time       `json:"startTime,omitempty"`
	EndTime     *time.Time       `json:"endTime,omitempty"`
}

type redisReportCache struct {
	client *redis.Client
	ttl    time.Duration
}

type noopReportCache struct{}

// NewReportCache returns the no-op cache when client is nil.
func NewReportCache(client *redis.Client, ttlSeconds int) ReportCache {
	if client == nil {
		return &noopReportCache{}
	}
	return &redisReportCache{client: client, ttl: ttlOrDefault(ttlSeconds)}
}

func NewNoopReportCache() ReportCache {
	return &noopReportCache{}
}

func runStateKey(kind string) string {
	return fmt.Sprintf("%s:%s", runStateKeyPrefix, kind)
}

func (c *redisReportCache) GetLatestReport(ctx context.Context) (*domain.ValidationReport, bool, error) {
	var report domain.ValidationReport
	ok, err := c.get(ctx, latestReportKey, &report)
	if !ok || err != nil {
		return nil, false, err
	}
	return &report, true, nil
}

func (c *redisReportCache) SetLatestReport(ctx context.Context, report *domain.ValidationReport) error {
	return c.set(ctx, latestReportKey, report)
}

func (c *redisReportCache) GetRunState(ctx context.Context, kind string) (*CachedRunState, bool, error) {
	var state CachedRunState
	ok, err := c.get(ctx, runStateKey(kind), &state)
	if !ok || err != nil {
		return nil, false, err
	}
	return &state, true, nil
}

func (c *redisReportCache) SetRunState(ctx context.Context, kind string, state domain.RunState) error {
	return c.set(ctx, runStateKey(kind), state)
}

func (c *redisReportCache) get(ctx context.Context, key string, out any) (bool, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return false, fmt.Errorf("decode %s cache: %w", key, err)
	}
	return true, nil
}

func (c *redisReportCache) set(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s cache: %w", key, err)
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (n *noopReportCache) GetLatestReport(ctx context.Context) (*domain.ValidationReport, bool, error) {
	return nil, false, nil
}

func (n *noopReportCache) SetLatestReport(ctx context.Context, report *domain.ValidationReport) error {
	return nil
}

func (n *noopReportCache) GetRunState(ctx context.Context, kind string) (*CachedRunState, bool, error) {
	return nil, false, nil
}

func (n *noopReportCache) SetRunState(ctx context.Context, kind string, state domain.RunState) error {
	return nil
}
