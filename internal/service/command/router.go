// Package command executes queued Discord commands: it decodes the relayed
// interaction, dispatches to a handler and renders the outcome into the
// deferred placeholder.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	rcache "github.com/open-builders/knock-backend/internal/cache/redis"
	apperrors "github.com/open-builders/knock-backend/internal/common/errors"
	"github.com/open-builders/knock-backend/internal/metrics"
	"github.com/open-builders/knock-backend/internal/queue"
	"github.com/open-builders/knock-backend/internal/service/admin"
	"github.com/open-builders/knock-backend/internal/service/discord"
	"github.com/open-builders/knock-backend/internal/service/knock"
	"github.com/open-builders/knock-backend/internal/service/notifications"
)

// Envelope is the command queue payload: the raw verified interaction.
type Envelope struct {
	Body       json.RawMessage `json:"body"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// Marker remembers which interactions were already processed.
type Marker interface {
	Get(ctx context.Context, id string) (*rcache.ProcessedInteraction, error)
	Mark(ctx context.Context, p *rcache.ProcessedInteraction) (bool, error)
}

type Router struct {
	knock          *knock.Service
	admin          *admin.Service
	notifier       *notifications.Notifier
	marker         Marker
	errorChannelID string
	loc            *time.Location
	log            zerolog.Logger
	metrics        *metrics.Metrics
	handlers       map[string]handlerFunc
}

// NewRouter wires the command handlers. errorChannelID may be empty.
func NewRouter(k *knock.Service, a *admin.Service, n *notifications.Notifier, marker Marker, errorChannelID string, log zerolog.Logger, m *metrics.Metrics) *Router {
	r := &Router{
		knock:          k,
		admin:          a,
		notifier:       n,
		marker:         marker,
		errorChannelID: errorChannelID,
		loc:            a.Location(),
		log:            log,
		metrics:        m,
	}
	r.handlers = map[string]handlerFunc{
		Knock:      r.handleKnock,
		AdminKnock: r.handleAdminKnock,
		Gifty:      r.handleGifty,
		Settings:   r.handleSettings,
		Prize:      r.handlePrize,
		TestWin:    r.handleTestWin,
		Help:       r.handleHelp,
		Info:       r.handleInfo,
		Credits:    r.handleCredits,
		DeviantArt: r.handleDeviantArt,
	}
	return r
}

// Handle implements queue.Handler. Infrastructure failures are returned so
// the message is redelivered; everything else is answered and acked.
func (r *Router) Handle(ctx context.Context, msg queue.Message) error {
	var env Envelope
	if err := json.Unmarshal(msg.Body, &env); err != nil {
		return queue.Permanent(fmt.Errorf("decode command envelope: %w", err))
	}
	inv, err := discord.ParseInvocation(env.Body)
	if err != nil {
		return queue.Permanent(fmt.Errorf("parse interaction: %w", err))
	}
	log := r.log.With().
		Str("interaction_id", inv.Ref.ID).
		Str("command", inv.Command).
		Str("guild_id", inv.GuildID).
		Str("user_id", inv.UserID).
		Int64("delivery", msg.Deliveries).
		Logger()

	seen, err := r.marker.Get(ctx, inv.Ref.ID)
	if err != nil {
		log.Warn().Err(err).Msg("interaction marker lookup failed")
	}
	if seen != nil {
		log.Info().Time("processed_at", seen.ProcessedAt).Msg("interaction already processed, skipping")
		r.metrics.Interaction(inv.Command, "duplicate")
		return nil
	}

	notify := r.notifier.Placeholder(ctx, inv.Ref)
	out, result, err := r.run(ctx, inv, log)
	if err != nil {
		r.metrics.Interaction(inv.Command, result)
		return err
	}

	if _, err := r.marker.Mark(ctx, &rcache.ProcessedInteraction{
		ID:          inv.Ref.ID,
		Command:     inv.Command,
		GuildID:     inv.GuildID,
		ProcessedAt: time.Now().UTC(),
	}); err != nil {
		log.Warn().Err(err).Msg("failed to mark interaction processed")
	}

	if out != nil && notify {
		if err := r.notifier.Reply(ctx, inv.Ref, *out); err != nil {
			log.Error().Err(err).Msg("command reply failed")
		}
	}
	r.metrics.Interaction(inv.Command, result)
	return nil
}

// run executes the handler and turns failures into replies. It returns an
// error only when the message should be redelivered.
func (r *Router) run(ctx context.Context, inv *discord.Invocation, log zerolog.Logger) (*discord.Reply, string, error) {
	h, ok := r.handlers[inv.Command]
	if !ok {
		log.Warn().Msg("unknown command")
		out := notifications.Error(apperrors.New(apperrors.ErrCodeUnknownCommand, "Unknown command"), r.loc)
		return &out, "unknown_command", nil
	}

	out, err := h(ctx, inv)
	if err == nil {
		return out, "ok", nil
	}

	appErr, isApp := apperrors.AsAppError(err)
	switch {
	case isApp && appErr.IsUserFacing():
		log.Info().Str("error_code", string(appErr.Code)).Msg(appErr.Message)
		reply := notifications.Error(appErr, r.loc)
		return &reply, "rejected", nil
	case isApp && appErr.IsInfrastructure():
		log.Error().Err(err).Str("error_code", string(appErr.Code)).Msg("command failed, will retry")
		return nil, "retry", err
	}

	correlationID := uuid.NewString()
	log.Error().Err(err).Str("correlation_id", correlationID).Msg("command failed")
	if r.errorChannelID != "" {
		alert := notifications.OperatorAlert(correlationID, inv.Command, inv.GuildID, inv.UserID, err)
		if err := r.notifier.Announce(ctx, r.errorChannelID, alert); err != nil {
			log.Error().Err(err).Msg("failed to post operator alert")
		}
	}
	reply := notifications.UnknownFailure(correlationID)
	return &reply, "error", nil
}
