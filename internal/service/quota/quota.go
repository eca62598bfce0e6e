// Package quota computes per-user knock allowances for a reset period.
package quota

import (
	"context"
	"time"

	"github.com/open-builders/knock-backend/internal/domain/contest"
)

// LastReset returns the most recent reset boundary at or before now. The
// boundary is resetHour:00:00 wall-clock time in loc, today when the current
// hour has reached resetHour and yesterday otherwise.
func LastReset(now time.Time, resetHour int, loc *time.Location) time.Time {
	local := now.In(loc)
	day := local.Day()
	if resetHour > local.Hour() {
		day--
	}
	return time.Date(local.Year(), local.Month(), day, resetHour, 0, 0, 0, loc)
}

// Usage is a user's standing within the current reset period.
type Usage struct {
	LastReset time.Time
	Count     int
	Limit     int
}

// Remaining is the number of regular knocks left; never negative.
func (u Usage) Remaining() int {
	if u.Count >= u.Limit {
		return 0
	}
	return u.Limit - u.Count
}

// Exhausted reports whether the regular allowance is used up.
func (u Usage) Exhausted() bool { return u.Count >= u.Limit }

// Ledger counts knocks against guild settings in a fixed civil timezone.
type Ledger struct {
	loc *time.Location
}

func NewLedger(loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{loc: loc}
}

// Location returns the ledger's contest timezone.
func (l *Ledger) Location() *time.Location { return l.loc }

// LastReset is LastReset in the ledger's timezone.
func (l *Ledger) LastReset(now time.Time, resetHour int) time.Time {
	return LastReset(now, resetHour, l.loc)
}

// Usage counts the user's knocks since the last reset inside tx.
func (l *Ledger) Usage(ctx context.Context, tx contest.Tx, gs *contest.GuildSettings, userID string, now time.Time) (Usage, error) {
	since := l.LastReset(now, gs.ResetHour)
	n, err := tx.CountKnocksSince(ctx, gs.GuildID, userID, since)
	if err != nil {
		return Usage{}, err
	}
	return Usage{LastReset: since, Count: n, Limit: gs.KnocksPerDay}, nil
}
