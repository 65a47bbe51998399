package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/qosmap/ppsprobe/pkg/guuid"
)

const (
	reportKeyPrefix = "pps-probe:report:"
	recentSetKey    = "pps-probe:reports:recent"
)

// RedisStore is a Store backed by Redis, for a pps-probe server deployed
// as multiple replicas behind the same admin API that need a shared view
// of recent reports.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// RedisStoreConfig configures a RedisStore.
type RedisStoreConfig struct {
	Client *redis.Client
	Logger *zap.Logger
	// TTL bounds how long a report is retained. Zero disables expiry.
	TTL time.Duration
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("report: redis client is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &RedisStore{client: cfg.Client, logger: cfg.Logger, ttl: cfg.TTL}, nil
}

func (s *RedisStore) Put(ctx context.Context, r StoredReport) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("report: marshal: %w", err)
	}

	key := reportKeyPrefix + r.FlowID.String()
	score := float64(r.RecordedAt.UnixNano())

	pipe := s.client.Pipeline()
	pipe.Set(ctx, key, data, s.ttl)
	pipe.ZAdd(ctx, recentSetKey, redis.Z{Score: score, Member: r.FlowID.String()})
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("failed to store report in redis",
			zap.String("flow_id", r.FlowID.String()), zap.Error(err))
		return fmt.Errorf("report: put: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id guuid.GUUID) (*StoredReport, error) {
	data, err := s.client.Get(ctx, reportKeyPrefix+id.String()).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("report: no report stored for flow %s", id)
		}
		return nil, fmt.Errorf("report: get: %w", err)
	}
	var r StoredReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("report: unmarshal: %w", err)
	}
	return &r, nil
}

// List returns up to limit reports, most recently recorded first, using the
// recentSetKey sorted set as an index so a List does not require scanning
// the whole keyspace.
func (s *RedisStore) List(ctx context.Context, limit int) ([]*StoredReport, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, recentSetKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("report: list: %w", err)
	}

	out := make([]*StoredReport, 0, len(ids))
	for _, idStr := range ids {
		id, err := guuid.FromString(idStr)
		if err != nil {
			s.logger.Warn("invalid flow id in recent-reports index", zap.String("id", idStr))
			continue
		}
		r, err := s.Get(ctx, id)
		if err != nil {
			// Expired via TTL but the index entry lingers; drop it.
			s.client.ZRem(ctx, recentSetKey, idStr)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
