// Package queue implements a partitioned FIFO queue on Redis Streams.
//
// Each partition (a guild) is its own stream, "<prefix>:<partition>", read
// through one consumer group. A partition is processed by at most one worker
// at a time and its head must be acknowledged before the next entry is read,
// so ordering holds per partition while partitions proceed independently.
// Unacknowledged entries are reclaimed after the visibility timeout and moved
// to "<prefix>:dead" once they exceed the delivery ceiling.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldBody        = "body"
	fieldDedup       = "dedup"
	fieldPublishedAt = "published_at"
	fieldPartition   = "partition"
	fieldOriginalID  = "original_id"
	fieldDeliveries  = "deliveries"
	fieldReason      = "reason"
	fieldFailedAt    = "failed_at"
)

// Message is one entry read from a partition stream.
type Message struct {
	ID          string
	Partition   string
	Body        []byte
	DedupID     string
	PublishedAt time.Time
	// Deliveries counts this delivery; 1 on first read.
	Deliveries int64
}

// Handler processes a message. A nil return acknowledges it; any other error
// leaves it pending for redelivery unless it is Permanent.
type Handler func(ctx context.Context, msg Message) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return "permanent: " + e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the message is dead-lettered.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// ErrInvalidPartition is returned for partition names that collide with the
// queue's bookkeeping keys.
var ErrInvalidPartition = errors.New("queue: invalid partition")

type keys struct{ prefix string }

func (k keys) stream(partition string) string { return k.prefix + ":" + partition }
func (k keys) partitions() string             { return k.prefix + ":partitions" }
func (k keys) dead() string                   { return k.prefix + ":dead" }
func (k keys) lease(partition string) string  { return k.prefix + ":lease:" + partition }
func (k keys) dedup(id string) string         { return k.prefix + ":dedup:" + id }

func validPartition(p string) error {
	if p == "" || strings.Contains(p, ":") || p == "dead" || p == "partitions" {
		return fmt.Errorf("%w: %q", ErrInvalidPartition, p)
	}
	return nil
}

func toMessage(partition string, x redis.XMessage, deliveries int64) Message {
	msg := Message{
		ID:         x.ID,
		Partition:  partition,
		Body:       []byte(str(x.Values[fieldBody])),
		DedupID:    str(x.Values[fieldDedup]),
		Deliveries: deliveries,
	}
	if ts, err := time.Parse(time.RFC3339Nano, str(x.Values[fieldPublishedAt])); err == nil {
		msg.PublishedAt = ts
	}
	return msg
}

func str(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}
