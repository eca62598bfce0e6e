package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/open-builders/knock-backend/internal/metrics"
)

// Producer appends messages to partition streams.
type Producer struct {
	rdb         *redis.Client
	keys        keys
	dedupWindow time.Duration
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewProducer(rdb *redis.Client, prefix string, dedupWindow time.Duration, m *metrics.Metrics) *Producer {
	if dedupWindow <= 0 {
		dedupWindow = 5 * time.Minute
	}
	return &Producer{rdb: rdb, keys: keys{prefix: prefix}, dedupWindow: dedupWindow, metrics: m, now: time.Now}
}

// Prefix returns the stream key prefix.
func (p *Producer) Prefix() string { return p.keys.prefix }

// Publish appends body to the partition's stream. When dedupID is not empty
// and was already published within the dedup window, Publish returns false
// without appending.
func (p *Producer) Publish(ctx context.Context, partition, dedupID string, body []byte) (bool, error) {
	if err := validPartition(partition); err != nil {
		return false, err
	}
	if dedupID != "" {
		ok, err := p.rdb.SetNX(ctx, p.keys.dedup(dedupID), p.now().UTC().Format(time.RFC3339Nano), p.dedupWindow).Result()
		if err != nil {
			return false, err
		}
		if !ok {
			p.metrics.Queue(p.keys.prefix, "duplicate")
			return false, nil
		}
	}

	pipe := p.rdb.TxPipeline()
	pipe.SAdd(ctx, p.keys.partitions(), partition)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: p.keys.stream(partition),
		Values: map[string]interface{}{
			fieldBody:        body,
			fieldDedup:       dedupID,
			fieldPublishedAt: p.now().UTC().Format(time.RFC3339Nano),
		},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		if dedupID != "" {
			// Let a retry publish again.
			_ = p.rdb.Del(context.WithoutCancel(ctx), p.keys.dedup(dedupID)).Err()
		}
		return false, err
	}
	p.metrics.Queue(p.keys.prefix, "published")
	return true, nil
}
