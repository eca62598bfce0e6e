package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeadLetter is an entry of the "<prefix>:dead" stream.
type DeadLetter struct {
	ID         string
	Partition  string
	OriginalID string
	DedupID    string
	Body       []byte
	Deliveries int64
	Reason     string
	FailedAt   time.Time
}

// ErrDeadLetterNotFound is returned by Replay for an unknown id.
var ErrDeadLetterNotFound = errors.New("queue: dead letter not found")

// DeadLetters inspects and replays a queue's dead-letter stream.
type DeadLetters struct {
	rdb  *redis.Client
	keys keys
}

func NewDeadLetters(rdb *redis.Client, prefix string) *DeadLetters {
	return &DeadLetters{rdb: rdb, keys: keys{prefix: prefix}}
}

func (d *DeadLetters) Len(ctx context.Context) (int64, error) {
	return d.rdb.XLen(ctx, d.keys.dead()).Result()
}

// List returns up to count dead letters, oldest first.
func (d *DeadLetters) List(ctx context.Context, count int64) ([]DeadLetter, error) {
	xs, err := d.rdb.XRangeN(ctx, d.keys.dead(), "-", "+", count).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DeadLetter, 0, len(xs))
	for _, x := range xs {
		out = append(out, toDeadLetter(x))
	}
	return out, nil
}

// Replay republishes a dead letter to the tail of its partition and removes
// it from the dead-letter stream.
func (d *DeadLetters) Replay(ctx context.Context, id string) (*DeadLetter, error) {
	xs, err := d.rdb.XRange(ctx, d.keys.dead(), id, id).Result()
	if err != nil {
		return nil, err
	}
	if len(xs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDeadLetterNotFound, id)
	}
	dl := toDeadLetter(xs[0])
	if err := validPartition(dl.Partition); err != nil {
		return nil, err
	}
	pipe := d.rdb.TxPipeline()
	pipe.SAdd(ctx, d.keys.partitions(), dl.Partition)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: d.keys.stream(dl.Partition),
		Values: map[string]interface{}{
			fieldBody:        dl.Body,
			fieldDedup:       dl.DedupID,
			fieldPublishedAt: time.Now().UTC().Format(time.RFC3339Nano),
		},
	})
	pipe.XDel(ctx, d.keys.dead(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return &dl, nil
}

func toDeadLetter(x redis.XMessage) DeadLetter {
	dl := DeadLetter{
		ID:         x.ID,
		Partition:  str(x.Values[fieldPartition]),
		OriginalID: str(x.Values[fieldOriginalID]),
		DedupID:    str(x.Values[fieldDedup]),
		Body:       []byte(str(x.Values[fieldBody])),
		Reason:     str(x.Values[fieldReason]),
	}
	dl.Deliveries, _ = strconv.ParseInt(str(x.Values[fieldDeliveries]), 10, 64)
	dl.FailedAt, _ = time.Parse(time.RFC3339Nano, str(x.Values[fieldFailedAt]))
	return dl
}
