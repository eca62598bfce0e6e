package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/knock-backend/internal/common/errors"
	"github.com/open-builders/knock-backend/internal/domain/contest"
	"github.com/open-builders/knock-backend/internal/service/quota"
	"github.com/open-builders/knock-backend/internal/utils/random"
)

// ErrKnockEventNotFound means the event was withdrawn after a failed enqueue
// or discarded by an earlier delivery. Requests are only published once the
// event has committed, so there is nothing left to resolve.
var ErrKnockEventNotFound = errors.New("fulfillment: knock event not found")

type Outcome string

const (
	OutcomeWon             Outcome = "won"
	OutcomeOutOfPrizes     Outcome = "out_of_prizes"
	OutcomeQuotaExceeded   Outcome = "quota_exceeded"
	OutcomeAlreadyResolved Outcome = "already_resolved"
)

// Result describes what one allocation did.
type Result struct {
	Outcome  Outcome
	Event    contest.KnockEvent
	Prize    *contest.Prize
	Settings *contest.GuildSettings
}

// Allocator resolves pending wins against the guild's prize inventory.
type Allocator struct {
	store  contest.Store
	ledger *quota.Ledger
	rng    random.Source
	log    zerolog.Logger
}

func NewAllocator(store contest.Store, ledger *quota.Ledger, rng random.Source, log zerolog.Logger) *Allocator {
	return &Allocator{store: store, ledger: ledger, rng: rng, log: log}
}

// Allocate resolves the pending knock event in one transaction. Running it
// again for a resolved event changes nothing.
func (a *Allocator) Allocate(ctx context.Context, knockEventID int64) (*Result, error) {
	var res *Result
	err := a.store.InTx(ctx, func(ctx context.Context, tx contest.Tx) error {
		res = nil
		ev, err := tx.KnockEventForUpdate(ctx, knockEventID)
		if errors.Is(err, contest.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrKnockEventNotFound, knockEventID)
		}
		if err != nil {
			return apperrors.NewDatabaseError("lock knock event", err)
		}
		if !ev.Pending {
			res = &Result{Outcome: OutcomeAlreadyResolved, Event: *ev}
			return nil
		}

		gs, err := tx.GuildSettings(ctx, ev.GuildID)
		if errors.Is(err, contest.ErrNotFound) {
			return apperrors.NewNotConfiguredError(ev.GuildID)
		}
		if err != nil {
			return apperrors.NewDatabaseError("load guild settings", err)
		}

		exceeded, err := a.exceedsQuota(ctx, tx, gs, ev)
		if err != nil {
			return err
		}
		if exceeded {
			if err := tx.ReleaseGifties(ctx, ev.ID); err != nil {
				return apperrors.NewDatabaseError("release gifties", err)
			}
			if _, err := tx.DeletePendingKnockEvent(ctx, ev.ID); err != nil {
				return apperrors.NewDatabaseError("delete pending knock event", err)
			}
			res = &Result{Outcome: OutcomeQuotaExceeded, Event: *ev, Settings: gs}
			return nil
		}

		prize, err := a.draw(ctx, tx, ev.GuildID)
		if err != nil {
			return err
		}
		var prizeID *string
		outcome := OutcomeOutOfPrizes
		if prize != nil {
			prizeID = &prize.ID
			outcome = OutcomeWon
		}
		ok, err := tx.ResolveKnockEvent(ctx, ev.ID, prizeID)
		if err != nil {
			return apperrors.NewDatabaseError("resolve knock event", err)
		}
		if !ok {
			return apperrors.NewConflictError("knock_event", "event is no longer pending")
		}
		ev.Pending = false
		ev.PrizeID = prizeID
		res = &Result{Outcome: outcome, Event: *ev, Prize: prize, Settings: gs}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// exceedsQuota reports whether a pending event that was not paid for with a
// gifty sits beyond the allowance of its reset period.
func (a *Allocator) exceedsQuota(ctx context.Context, tx contest.Tx, gs *contest.GuildSettings, ev *contest.KnockEvent) (bool, error) {
	_, err := tx.GiftyForKnockEvent(ctx, ev.ID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, contest.ErrNotFound) {
		return false, apperrors.NewDatabaseError("load gifty for knock event", err)
	}
	since := a.ledger.LastReset(ev.CreatedAt, gs.ResetHour)
	pos, err := tx.CountKnocksThrough(ctx, ev.GuildID, ev.UserID, since, ev.ID)
	if err != nil {
		return false, apperrors.NewDatabaseError("count knocks", err)
	}
	if pos > gs.KnocksPerDay {
		a.log.Warn().
			Int64("knock_event_id", ev.ID).
			Int("position", pos).
			Int("knocks_per_day", gs.KnocksPerDay).
			Msg("pending knock exceeds quota, discarding")
		return true, nil
	}
	return false, nil
}

// draw picks a prize weighted by stock*weight and takes one unit of its
// stock. A prize whose guarded decrement fails is dropped and the draw is
// repeated. It returns nil when nothing is drawable.
func (a *Allocator) draw(ctx context.Context, tx contest.Tx, guildID string) (*contest.Prize, error) {
	prizes, err := tx.InStockPrizesForUpdate(ctx, guildID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("lock prizes", err)
	}
	for len(prizes) > 0 {
		weights := make([]int64, len(prizes))
		for i := range prizes {
			weights[i] = prizes[i].DrawWeight()
		}
		idx, err := random.WeightedIndex(a.rng, weights)
		if errors.Is(err, random.ErrNoWeight) {
			return nil, nil
		}
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "draw prize")
		}
		ok, err := tx.DecrementPrizeStock(ctx, guildID, prizes[idx].ID)
		if err != nil {
			return nil, apperrors.NewDatabaseError("decrement prize stock", err)
		}
		if !ok {
			a.log.Warn().Str("guild_id", guildID).Str("prize_id", prizes[idx].ID).Msg("prize stock exhausted during draw, redrawing")
			prizes = append(prizes[:idx], prizes[idx+1:]...)
			continue
		}
		p := prizes[idx]
		p.CurrentStock--
		return &p, nil
	}
	return nil, nil
}
