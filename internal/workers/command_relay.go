package workers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/open-builders/knock-backend/internal/metrics"
	"github.com/open-builders/knock-backend/internal/service/command"
)

// Publisher appends a message to a queue partition.
type Publisher interface {
	Publish(ctx context.Context, partition, dedupID string, body []byte) (bool, error)
}

type relayItem struct {
	guildID       string
	interactionID string
	body          []byte
	receivedAt    time.Time
}

// CommandRelay moves verified interactions from the HTTP handler to the
// command queue. The handler answers Discord first and submits afterwards;
// the relay publishes each item once its settle delay has passed so the
// deferred response exists before a worker looks for it.
type CommandRelay struct {
	pub     Publisher
	settle  time.Duration
	items   chan relayItem
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

func NewCommandRelay(pub Publisher, capacity int, settle time.Duration, log zerolog.Logger, m *metrics.Metrics) *CommandRelay {
	if capacity <= 0 {
		capacity = 1
	}
	return &CommandRelay{
		pub:     pub,
		settle:  settle,
		items:   make(chan relayItem, capacity),
		log:     log,
		metrics: m,
		done:    make(chan struct{}),
	}
}

// Submit queues an interaction without blocking. It reports false when the
// relay is full or stopped.
func (r *CommandRelay) Submit(guildID, interactionID string, body []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	select {
	case r.items <- relayItem{guildID: guildID, interactionID: interactionID, body: body, receivedAt: time.Now()}:
		r.metrics.Queue("relay", "submitted")
		return true
	default:
		r.metrics.Queue("relay", "rejected")
		return false
	}
}

// Run publishes submitted items until ctx is cancelled, then publishes what
// is still buffered and returns.
func (r *CommandRelay) Run(ctx context.Context) {
	defer close(r.done)
	r.log.Info().Dur("settle_delay", r.settle).Msg("command relay started")
	for {
		select {
		case <-ctx.Done():
			r.drain()
			r.log.Info().Msg("command relay stopped")
			return
		case it := <-r.items:
			wait := time.Until(it.receivedAt.Add(r.settle))
			if wait > 0 {
				t := time.NewTimer(wait)
				select {
				case <-t.C:
				case <-ctx.Done():
					t.Stop()
				}
			}
			r.publish(it)
		}
	}
}

// Done is closed when Run has returned.
func (r *CommandRelay) Done() <-chan struct{} { return r.done }

func (r *CommandRelay) drain() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	for {
		select {
		case it := <-r.items:
			r.publish(it)
		default:
			return
		}
	}
}

func (r *CommandRelay) publish(it relayItem) {
	log := r.log.With().Str("guild_id", it.guildID).Str("interaction_id", it.interactionID).Logger()
	body, err := json.Marshal(command.Envelope{Body: it.body, ReceivedAt: it.receivedAt})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode command envelope")
		return
	}
	// detached from the run context so shutdown still flushes
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	published, err := r.pub.Publish(ctx, it.guildID, it.interactionID, body)
	if err != nil {
		log.Error().Err(err).Msg("failed to publish command")
		r.metrics.Queue("relay", "publish_failed")
		return
	}
	if !published {
		log.Warn().Msg("duplicate command suppressed")
		return
	}
	log.Debug().Dur("age", time.Since(it.receivedAt)).Msg("command published")
}
