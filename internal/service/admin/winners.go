package admin

import (
	"context"

	apperrors "github.com/open-builders/knock-backend/internal/common/errors"
	"github.com/open-builders/knock-backend/internal/domain/contest"
)

// Winners lists the guild's resolved wins oldest first, with the DeviantArt
// account each winner linked, if any.
func (s *Service) Winners(ctx context.Context, guildID string) ([]contest.Winner, error) {
	var wins []contest.Winner
	err := s.store.InTx(ctx, func(ctx context.Context, tx contest.Tx) error {
		var err error
		wins, err = tx.Winners(ctx, guildID)
		if err != nil {
			return apperrors.NewDatabaseError("list winners", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return wins, nil
}
