package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/open-builders/knock-backend/internal/metrics"
)

// Options configures a Consumer.
type Options struct {
	Prefix   string
	Group    string
	Consumer string
	// Visibility is how long a delivered message may stay unacknowledged
	// before it is redelivered. It is also the partition lease TTL.
	Visibility    time.Duration
	MaxDeliveries int64
	PollInterval  time.Duration
	MaxConcurrent int
	// Batch bounds how many messages one partition lease processes.
	Batch int
}

func (o Options) withDefaults() Options {
	if o.Group == "" {
		o.Group = "knock_workers"
	}
	if o.Consumer == "" {
		o.Consumer = "worker-" + uuid.NewString()[:8]
	}
	if o.Visibility <= 0 {
		o.Visibility = 30 * time.Second
	}
	if o.MaxDeliveries <= 0 {
		o.MaxDeliveries = 5
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 8
	}
	if o.Batch <= 0 {
		o.Batch = 32
	}
	return o
}

var (
	releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
	refreshLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Consumer polls every registered partition and hands messages to a Handler.
type Consumer struct {
	rdb     *redis.Client
	opts    Options
	keys    keys
	handle  Handler
	log     zerolog.Logger
	metrics *metrics.Metrics

	sem    chan struct{}
	mu     sync.Mutex
	active map[string]struct{}
	groups sync.Map
	wg     sync.WaitGroup
}

func NewConsumer(rdb *redis.Client, opts Options, handle Handler, log zerolog.Logger, m *metrics.Metrics) *Consumer {
	opts = opts.withDefaults()
	return &Consumer{
		rdb:     rdb,
		opts:    opts,
		keys:    keys{prefix: opts.Prefix},
		handle:  handle,
		log:     log.With().Str("queue", opts.Prefix).Logger(),
		metrics: m,
		sem:     make(chan struct{}, opts.MaxConcurrent),
		active:  make(map[string]struct{}),
	}
}

// Run polls until ctx is cancelled and waits for in-flight partitions.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info().Str("group", c.opts.Group).Str("consumer", c.opts.Consumer).Msg("consumer started")
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	defer c.wg.Wait()
	for {
		c.poll(ctx)
		select {
		case <-ctx.Done():
			c.log.Info().Msg("consumer stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll runs one polling pass over all partitions and waits for it to finish.
func (c *Consumer) Poll(ctx context.Context) {
	c.poll(ctx)
	c.wg.Wait()
}

func (c *Consumer) poll(ctx context.Context) {
	partitions, err := c.rdb.SMembers(ctx, c.keys.partitions()).Result()
	if err != nil {
		if ctx.Err() == nil {
			c.log.Error().Err(err).Msg("list partitions")
		}
		return
	}
	for _, p := range partitions {
		if !c.markActive(p) {
			continue
		}
		select {
		case c.sem <- struct{}{}:
		default:
			c.unmarkActive(p)
			return
		}
		c.wg.Add(1)
		go func(partition string) {
			defer c.wg.Done()
			defer func() { <-c.sem }()
			defer c.unmarkActive(partition)
			c.drain(ctx, partition)
		}(p)
	}
}

func (c *Consumer) markActive(p string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[p]; ok {
		return false
	}
	c.active[p] = struct{}{}
	return true
}

func (c *Consumer) unmarkActive(p string) {
	c.mu.Lock()
	delete(c.active, p)
	c.mu.Unlock()
}

func (c *Consumer) drain(ctx context.Context, partition string) {
	leaseKey := c.keys.lease(partition)
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, leaseKey, token, c.opts.Visibility).Result()
	if err != nil {
		c.log.Error().Err(err).Str("partition", partition).Msg("acquire partition lease")
		return
	}
	if !ok {
		return
	}
	defer func() {
		_ = releaseLease.Run(context.WithoutCancel(ctx), c.rdb, []string{leaseKey}, token).Err()
	}()

	stream := c.keys.stream(partition)
	if err := c.ensureGroup(ctx, stream); err != nil {
		c.log.Error().Err(err).Str("stream", stream).Msg("create consumer group")
		return
	}
	for i := 0; i < c.opts.Batch && ctx.Err() == nil; i++ {
		msg, err := c.next(ctx, partition)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Error().Err(err).Str("partition", partition).Msg("read partition")
			}
			return
		}
		if msg == nil || !c.process(ctx, *msg) {
			return
		}
		_ = refreshLease.Run(ctx, c.rdb, []string{leaseKey}, token, c.opts.Visibility.Milliseconds()).Err()
	}
}

func (c *Consumer) ensureGroup(ctx context.Context, stream string) error {
	if _, ok := c.groups.Load(stream); ok {
		return nil
	}
	err := c.rdb.XGroupCreateMkStream(ctx, stream, c.opts.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	c.groups.Store(stream, struct{}{})
	return nil
}

// next returns the partition's head: a reclaimed pending entry when its
// visibility timeout expired, otherwise the next new entry. It returns nil
// while the head is still in flight or the partition is empty.
func (c *Consumer) next(ctx context.Context, partition string) (*Message, error) {
	stream := c.keys.stream(partition)
	for {
		pending, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  c.opts.Group,
			Start:  "-",
			End:    "+",
			Count:  1,
		}).Result()
		if err != nil {
			return nil, err
		}
		if len(pending) == 0 {
			break
		}
		head := pending[0]
		if head.Idle < c.opts.Visibility {
			return nil, nil
		}
		claimed, err := c.rdb.XClaim(ctx, &redis.XClaimArgs{
			Stream:   stream,
			Group:    c.opts.Group,
			Consumer: c.opts.Consumer,
			MinIdle:  c.opts.Visibility,
			Messages: []string{head.ID},
		}).Result()
		if err != nil {
			return nil, err
		}
		if len(claimed) == 0 || claimed[0].ID == "" {
			// Entry trimmed while pending; drop it from the PEL.
			if err := c.rdb.XAck(ctx, stream, c.opts.Group, head.ID).Err(); err != nil {
				return nil, err
			}
			continue
		}
		msg := toMessage(partition, claimed[0], head.RetryCount+1)
		if msg.Deliveries > c.opts.MaxDeliveries {
			if err := c.deadLetter(ctx, msg, "delivery limit exceeded"); err != nil {
				return nil, err
			}
			continue
		}
		c.log.Warn().Str("partition", partition).Str("id", msg.ID).Int64("deliveries", msg.Deliveries).Msg("redelivering message")
		return &msg, nil
	}

	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.opts.Group,
		Consumer: c.opts.Consumer,
		Streams:  []string{stream, ">"},
		Count:    1,
		Block:    -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return nil, nil
	}
	msg := toMessage(partition, res[0].Messages[0], 1)
	return &msg, nil
}

// process handles one message and reports whether the partition may advance.
func (c *Consumer) process(ctx context.Context, msg Message) bool {
	start := time.Now()
	err := c.handle(ctx, msg)
	c.metrics.ObserveHandle(c.keys.prefix, time.Since(start))

	bg := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		if err := c.ack(bg, msg); err != nil {
			c.log.Error().Err(err).Str("id", msg.ID).Msg("ack message")
			return false
		}
		c.metrics.Queue(c.keys.prefix, "acked")
		return true
	case IsPermanent(err):
		c.log.Error().Err(err).Str("partition", msg.Partition).Str("id", msg.ID).Msg("message rejected")
		if err := c.deadLetter(bg, msg, err.Error()); err != nil {
			c.log.Error().Err(err).Str("id", msg.ID).Msg("dead-letter message")
			return false
		}
		return true
	default:
		c.metrics.Queue(c.keys.prefix, "failed")
		c.log.Warn().Err(err).
			Str("partition", msg.Partition).
			Str("id", msg.ID).
			Int64("deliveries", msg.Deliveries).
			Msg("message handling failed, will redeliver")
		return false
	}
}

func (c *Consumer) ack(ctx context.Context, msg Message) error {
	stream := c.keys.stream(msg.Partition)
	pipe := c.rdb.TxPipeline()
	pipe.XAck(ctx, stream, c.opts.Group, msg.ID)
	pipe.XDel(ctx, stream, msg.ID)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *Consumer) deadLetter(ctx context.Context, msg Message, reason string) error {
	stream := c.keys.stream(msg.Partition)
	pipe := c.rdb.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: c.keys.dead(),
		Values: map[string]interface{}{
			fieldPartition:  msg.Partition,
			fieldOriginalID: msg.ID,
			fieldBody:       msg.Body,
			fieldDedup:      msg.DedupID,
			fieldDeliveries: msg.Deliveries,
			fieldReason:     reason,
			fieldFailedAt:   time.Now().UTC().Format(time.RFC3339Nano),
		},
	})
	pipe.XAck(ctx, stream, c.opts.Group, msg.ID)
	pipe.XDel(ctx, stream, msg.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	c.metrics.Queue(c.keys.prefix, "dead")
	c.log.Error().
		Str("partition", msg.Partition).
		Str("id", msg.ID).
		Int64("deliveries", msg.Deliveries).
		Str("reason", reason).
		Msg("message moved to dead-letter stream")
	return nil
}
