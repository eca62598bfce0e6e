// Package knock runs the knock transaction: event window and quota checks,
// gifty redemption, the win roll and the hand-off of wins to fulfillment.
package knock

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/knock-backend/internal/common/errors"
	"github.com/open-builders/knock-backend/internal/common/validation"
	"github.com/open-builders/knock-backend/internal/domain/contest"
	"github.com/open-builders/knock-backend/internal/metrics"
	"github.com/open-builders/knock-backend/internal/service/discord"
	"github.com/open-builders/knock-backend/internal/service/fulfillment"
	"github.com/open-builders/knock-backend/internal/service/quota"
	"github.com/open-builders/knock-backend/internal/utils/random"
)

// Dispatcher hands a pending win to the fulfillment stage.
type Dispatcher interface {
	Dispatch(ctx context.Context, req fulfillment.Request) error
}

// Result is the outcome of one knock.
type Result struct {
	KnockEventID int64
	Won          bool
	UsedGifty    bool
	// Remaining regular knocks in the current period.
	Remaining int
	// Banked is the number of unspent gifties left.
	Banked int
}

// Standing is a user's view of the contest for /info.
type Standing struct {
	Settings  *contest.GuildSettings
	Remaining int
	Banked    int
}

type Service struct {
	store      contest.Store
	ledger     *quota.Ledger
	rng        random.Source
	dispatcher Dispatcher
	log        zerolog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewService(store contest.Store, ledger *quota.Ledger, rng random.Source, dispatcher Dispatcher, log zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:      store,
		ledger:     ledger,
		rng:        rng,
		dispatcher: dispatcher,
		log:        log,
		metrics:    m,
		now:        time.Now,
	}
}

func (s *Service) settings(ctx context.Context, tx contest.Tx, guildID string) (*contest.GuildSettings, error) {
	gs, err := tx.GuildSettings(ctx, guildID)
	if errors.Is(err, contest.ErrNotFound) {
		return nil, apperrors.NewNotConfiguredError(guildID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("load guild settings", err)
	}
	return gs, nil
}

// Knock performs one knock for userID. Every check, the inserted event and
// the spent gifty commit together. A win is enqueued for fulfillment only
// after the commit; if the enqueue fails the pending event is withdrawn and
// its gifty returned, so the user can knock again.
func (s *Service) Knock(ctx context.Context, guildID, userID string, ref discord.Ref) (*Result, error) {
	var (
		res *Result
		at  time.Time
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx contest.Tx) error {
		res = nil
		now := s.now()
		at = now
		gs, err := s.settings(ctx, tx, guildID)
		if err != nil {
			return err
		}
		if !gs.Started(now) {
			return apperrors.NewEventNotStartedError(gs.StartDate, gs.EndDate)
		}
		if gs.Ended(now) {
			return apperrors.NewEventEndedError(*gs.EndDate)
		}

		if err := tx.LockUserKnocks(ctx, guildID, userID); err != nil {
			return apperrors.NewDatabaseError("lock user knocks", err)
		}
		usage, err := s.ledger.Usage(ctx, tx, gs, userID, now)
		if err != nil {
			return apperrors.NewDatabaseError("count knocks", err)
		}

		var gifty *contest.Gifty
		if usage.Exhausted() {
			gifty, err = tx.ClaimNextGifty(ctx, guildID, userID)
			if errors.Is(err, contest.ErrNotFound) {
				return apperrors.NewTooManyKnocksError(gs.KnocksPerDay, gs.ResetHour, usage.LastReset)
			}
			if err != nil {
				return apperrors.NewDatabaseError("claim gifty", err)
			}
		}

		u, err := s.rng.Float64()
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "roll knock")
		}
		won := u < gs.WinRate

		ev := &contest.KnockEvent{
			GuildID:   guildID,
			UserID:    userID,
			CreatedAt: now,
			Pending:   won,
		}
		if err := tx.InsertKnockEvent(ctx, ev); err != nil {
			return apperrors.NewDatabaseError("insert knock event", err)
		}
		if gifty != nil {
			ok, err := tx.SpendGifty(ctx, gifty.ID, ev.ID)
			if err != nil {
				return apperrors.NewDatabaseError("spend gifty", err)
			}
			if !ok {
				return apperrors.NewConflictError("gifty", "gifty was already spent")
			}
		}
		banked, err := tx.CountUnspentGifties(ctx, guildID, userID)
		if err != nil {
			return apperrors.NewDatabaseError("count gifties", err)
		}

		remaining := usage.Remaining()
		if gifty == nil {
			remaining--
		}
		res = &Result{
			KnockEventID: ev.ID,
			Won:          won,
			UsedGifty:    gifty != nil,
			Remaining:    max(remaining, 0),
			Banked:       banked,
		}
		return nil
	})
	if err != nil {
		s.metrics.Knock(outcomeOf(err))
		return nil, err
	}

	if res.Won {
		err := s.dispatcher.Dispatch(ctx, fulfillment.Request{
			KnockEventID: res.KnockEventID,
			GuildID:      guildID,
			UserID:       userID,
			Interaction:  ref,
			EnqueuedAt:   at,
		})
		if err != nil {
			s.withdraw(ctx, res.KnockEventID, err)
			s.metrics.Knock("error")
			return nil, err
		}
	}

	outcome := "loss"
	if res.Won {
		outcome = "win"
	}
	s.metrics.Knock(outcome)
	s.log.Info().
		Str("guild_id", guildID).
		Str("user_id", userID).
		Int64("knock_event_id", res.KnockEventID).
		Bool("won", res.Won).
		Bool("used_gifty", res.UsedGifty).
		Msg("knock recorded")
	return res, nil
}

// withdraw removes a committed pending win whose fulfillment request could
// not be enqueued and returns any gifty it spent.
func (s *Service) withdraw(ctx context.Context, knockEventID int64, cause error) {
	var deleted bool
	err := s.store.InTx(context.WithoutCancel(ctx), func(ctx context.Context, tx contest.Tx) error {
		var err error
		deleted, err = tx.DeletePendingKnockEvent(ctx, knockEventID)
		if err != nil || !deleted {
			return err
		}
		return tx.ReleaseGifties(ctx, knockEventID)
	})
	if err != nil {
		// The event stays pending and counts against the user's quota until
		// an operator resolves it.
		s.log.Error().
			Err(err).
			AnErr("cause", cause).
			Int64("knock_event_id", knockEventID).
			Msg("withdraw unqueued knock event")
		return
	}
	// withdrawn is false when the request reached the queue after all and
	// the event was already resolved.
	s.log.Error().
		Err(cause).
		Int64("knock_event_id", knockEventID).
		Bool("withdrawn", deleted).
		Msg("fulfillment enqueue failed")
}

func outcomeOf(err error) string {
	if appErr, ok := apperrors.AsAppError(err); ok {
		switch appErr.Code {
		case apperrors.ErrCodeTooManyKnocks:
			return "too_many_knocks"
		case apperrors.ErrCodeEventNotStarted, apperrors.ErrCodeEventEnded, apperrors.ErrCodeNotConfigured:
			return "closed"
		}
	}
	return "error"
}

// SendGifty records a gifty from one user to another. Unless privileged, a
// sender may send one gifty per reset period.
func (s *Service) SendGifty(ctx context.Context, guildID, fromUserID, toUserID string, privileged bool) (*contest.Gifty, error) {
	g := &contest.Gifty{GuildID: guildID, FromUserID: fromUserID, ToUserID: toUserID}
	if err := validation.Struct(g); err != nil {
		return nil, err
	}

	var sent *contest.Gifty
	err := s.store.InTx(ctx, func(ctx context.Context, tx contest.Tx) error {
		now := s.now()
		gs, err := s.settings(ctx, tx, guildID)
		if err != nil {
			return err
		}
		if !privileged {
			if err := tx.LockGiftySender(ctx, guildID, fromUserID); err != nil {
				return apperrors.NewDatabaseError("lock gifty sender", err)
			}
			last, err := tx.LastSentGifty(ctx, guildID, fromUserID)
			switch {
			case errors.Is(err, contest.ErrNotFound):
			case err != nil:
				return apperrors.NewDatabaseError("load last gifty", err)
			case !s.ledger.LastReset(now, gs.ResetHour).After(last.CreatedAt):
				return apperrors.NewRateLimitedError("You have already sent a gifty since the last reset. Try again soon!")
			}
		}
		ins := *g
		ins.CreatedAt = now
		if err := tx.InsertGifty(ctx, &ins); err != nil {
			return apperrors.NewDatabaseError("insert gifty", err)
		}
		sent = &ins
		return nil
	})
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeRateLimited) {
			s.metrics.Gifty("rate_limited")
		} else {
			s.metrics.Gifty("error")
		}
		return nil, err
	}
	s.metrics.Gifty("sent")
	return sent, nil
}

// Standing reports the user's remaining knocks and banked gifties.
func (s *Service) Standing(ctx context.Context, guildID, userID string) (*Standing, error) {
	var st *Standing
	err := s.store.InTx(ctx, func(ctx context.Context, tx contest.Tx) error {
		gs, err := s.settings(ctx, tx, guildID)
		if err != nil {
			return err
		}
		usage, err := s.ledger.Usage(ctx, tx, gs, userID, s.now())
		if err != nil {
			return apperrors.NewDatabaseError("count knocks", err)
		}
		banked, err := tx.CountUnspentGifties(ctx, guildID, userID)
		if err != nil {
			return apperrors.NewDatabaseError("count gifties", err)
		}
		st = &Standing{Settings: gs, Remaining: usage.Remaining(), Banked: banked}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}
