package fulfillment

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/knock-backend/internal/common/errors"
	"github.com/open-builders/knock-backend/internal/service/discord"
)

// Request asks the fulfillment stage to resolve one pending win.
type Request struct {
	KnockEventID int64       `json:"knockEventId"`
	GuildID      string      `json:"guildId"`
	UserID       string      `json:"userId"`
	Interaction  discord.Ref `json:"interaction"`
	EnqueuedAt   time.Time   `json:"enqueuedAt"`
}

// Publisher appends a message to a partition with a dedup key.
type Publisher interface {
	Publish(ctx context.Context, partition, dedupID string, body []byte) (bool, error)
}

// Dispatcher enqueues Requests partitioned by guild and deduplicated by
// knock event id.
type Dispatcher struct {
	pub Publisher
	log zerolog.Logger
}

func NewDispatcher(pub Publisher, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{pub: pub, log: log}
}

func (d *Dispatcher) Dispatch(ctx context.Context, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode fulfillment request")
	}
	published, err := d.pub.Publish(ctx, req.GuildID, strconv.FormatInt(req.KnockEventID, 10), body)
	if err != nil {
		return apperrors.NewQueueError("publish fulfillment request", err)
	}
	if !published {
		d.log.Warn().Int64("knock_event_id", req.KnockEventID).Msg("duplicate fulfillment request suppressed")
	}
	return nil
}
