package notifications

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/open-builders/knock-backend/internal/service/discord"
)

// Notifier delivers outcome messages to the originating interaction and to
// guild channels.
type Notifier struct {
	messenger discord.Messenger
	log       zerolog.Logger
}

func NewNotifier(m discord.Messenger, log zerolog.Logger) *Notifier {
	return &Notifier{messenger: m, log: log}
}

// Reply replaces the deferred placeholder. A placeholder that no longer
// exists is logged and not reported as an error.
func (n *Notifier) Reply(ctx context.Context, ref discord.Ref, reply discord.Reply) error {
	err := n.messenger.EditOriginal(ctx, ref, reply)
	if errors.Is(err, discord.ErrPlaceholderUnavailable) {
		n.log.Warn().Err(err).Str("interaction_id", ref.ID).Msg("placeholder unavailable, reply dropped")
		return nil
	}
	return err
}

// Announce posts to a guild channel.
func (n *Notifier) Announce(ctx context.Context, channelID string, reply discord.Reply) error {
	if channelID == "" {
		return nil
	}
	return n.messenger.PostChannel(ctx, channelID, reply)
}

// Placeholder reports whether the deferred response can still be edited.
// Errors other than a missing placeholder count as available.
func (n *Notifier) Placeholder(ctx context.Context, ref discord.Ref) bool {
	err := n.messenger.GetOriginal(ctx, ref)
	if err == nil {
		return true
	}
	if errors.Is(err, discord.ErrPlaceholderUnavailable) {
		n.log.Warn().Str("interaction_id", ref.ID).Msg("placeholder unavailable, user notification skipped")
		return false
	}
	n.log.Warn().Err(err).Str("interaction_id", ref.ID).Msg("placeholder check failed")
	return true
}
