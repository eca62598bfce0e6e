package knock

import (
	"context"

	apperrors "github.com/open-builders/knock-backend/internal/common/errors"
	"github.com/open-builders/knock-backend/internal/common/validation"
	"github.com/open-builders/knock-backend/internal/domain/contest"
)

// LinkDeviantArt records the DeviantArt account a member's prizes are
// delivered to. Linking again replaces the previous name.
func (s *Service) LinkDeviantArt(ctx context.Context, guildID, userID, username string) (*contest.DeviantArtUser, error) {
	u := &contest.DeviantArtUser{GuildID: guildID, UserID: userID, Username: username}
	if err := validation.Struct(u); err != nil {
		return nil, err
	}
	err := s.store.InTx(ctx, func(ctx context.Context, tx contest.Tx) error {
		if err := tx.SaveDeviantArtUser(ctx, u); err != nil {
			return apperrors.NewDatabaseError("save deviantart user", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("guild_id", guildID).
		Str("user_id", userID).
		Str("deviantart_name", username).
		Msg("deviantart account linked")
	return u, nil
}
