package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/knock-backend/internal/common/errors"
	"github.com/open-builders/knock-backend/internal/metrics"
	"github.com/open-builders/knock-backend/internal/queue"
	"github.com/open-builders/knock-backend/internal/service/discord"
	"github.com/open-builders/knock-backend/internal/service/notifications"
)

// Handler consumes fulfillment messages: allocate, then notify.
type Handler struct {
	alloc    *Allocator
	notifier *notifications.Notifier
	loc      *time.Location
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

func NewHandler(alloc *Allocator, notifier *notifications.Notifier, loc *time.Location, log zerolog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{alloc: alloc, notifier: notifier, loc: loc, log: log, metrics: m}
}

// Handle implements queue.Handler.
func (h *Handler) Handle(ctx context.Context, msg queue.Message) error {
	var req Request
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		return queue.Permanent(fmt.Errorf("decode fulfillment request: %w", err))
	}
	log := h.log.With().
		Int64("knock_event_id", req.KnockEventID).
		Str("guild_id", req.GuildID).
		Str("user_id", req.UserID).
		Str("interaction_id", req.Interaction.ID).
		Int64("delivery", msg.Deliveries).
		Logger()

	res, err := h.alloc.Allocate(ctx, req.KnockEventID)
	if err != nil {
		if errors.Is(err, ErrKnockEventNotFound) {
			log.Warn().Err(err).Msg("knock event withdrawn, skipping")
			h.metrics.Fulfillment("withdrawn")
			return nil
		}
		if appErr, ok := apperrors.AsAppError(err); ok && appErr.IsUserFacing() {
			// The event stays pending; dead-letter the request so an operator
			// can replay it once the guild is fixed.
			log.Error().Err(err).Msg("fulfillment rejected")
			h.metrics.Fulfillment("rejected")
			_ = h.reply(ctx, req, notifications.Error(appErr, h.loc), log)
			return queue.Permanent(err)
		}
		log.Error().Err(err).Msg("fulfillment failed")
		h.metrics.Fulfillment("error")
		return err
	}

	h.metrics.Fulfillment(string(res.Outcome))
	switch res.Outcome {
	case OutcomeAlreadyResolved:
		log.Info().Msg("knock event already resolved, skipping")
		return nil
	case OutcomeQuotaExceeded:
		return h.reply(ctx, req, notifications.QuotaExceeded(res.Settings.KnocksPerDay, res.Settings.ResetHour, h.loc), log)
	case OutcomeOutOfPrizes:
		log.Warn().Msg("win resolved without prize: out of prizes")
		return h.reply(ctx, req, notifications.OutOfPrizes(), log)
	}

	log.Info().Str("prize_id", res.Prize.ID).Msg("prize awarded")
	if err := h.reply(ctx, req, notifications.PrizeWon(*res.Prize), log); err != nil {
		return err
	}
	if res.Settings.WinChannelID != nil {
		if err := h.notifier.Announce(ctx, *res.Settings.WinChannelID, notifications.WinAnnouncement(req.UserID, *res.Prize)); err != nil {
			log.Error().Err(err).Str("channel_id", *res.Settings.WinChannelID).Msg("win announcement failed")
		}
	}
	return nil
}

// reply notifies the user. The allocation is already committed, so delivery
// failures are logged rather than retried.
func (h *Handler) reply(ctx context.Context, req Request, r discord.Reply, log zerolog.Logger) error {
	if err := h.notifier.Reply(ctx, req.Interaction, r); err != nil {
		log.Error().Err(err).Msg("fulfillment reply failed")
	}
	return nil
}
