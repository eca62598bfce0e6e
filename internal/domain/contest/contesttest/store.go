// Package contesttest provides an in-memory contest.Store for service tests.
//
// Transactions are fully serialised and run against a copy of the state that
// only replaces the committed state when fn returns nil.
package contesttest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/open-builders/knock-backend/internal/domain/contest"
)

type prizeKey struct{ guild, id string }

type userKey struct{ guild, user string }

type state struct {
	settings  map[string]contest.GuildSettings
	events    map[int64]contest.KnockEvent
	gifties   map[int64]contest.Gifty
	prizes    map[prizeKey]contest.Prize
	artists   map[userKey]contest.DeviantArtUser
	nextEvent int64
	nextGifty int64
}

func newState() *state {
	return &state{
		settings: make(map[string]contest.GuildSettings),
		events:   make(map[int64]contest.KnockEvent),
		gifties:  make(map[int64]contest.Gifty),
		prizes:   make(map[prizeKey]contest.Prize),
		artists:  make(map[userKey]contest.DeviantArtUser),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.settings {
		c.settings[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.gifties {
		c.gifties[k] = v
	}
	for k, v := range s.prizes {
		c.prizes[k] = v
	}
	for k, v := range s.artists {
		c.artists[k] = v
	}
	c.nextEvent = s.nextEvent
	c.nextGifty = s.nextGifty
	return c
}

// Store is a serialised, snapshot-isolated in-memory store.
type Store struct {
	mu    sync.Mutex
	state *state
	// BeforeCommit, when set, runs inside every transaction after fn succeeds.
	// A non-nil return rolls the transaction back.
	BeforeCommit func() error
	txCount      int
}

// New returns an empty store.
func New() *Store {
	return &Store{state: newState()}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx contest.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txCount++
	work := &tx{st: s.state.clone()}
	if err := fn(ctx, work); err != nil {
		return err
	}
	if s.BeforeCommit != nil {
		if err := s.BeforeCommit(); err != nil {
			return err
		}
	}
	s.state = work.st
	return nil
}

// Transactions returns how many transactions were started.
func (s *Store) Transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCount
}

// PutSettings seeds guild settings.
func (s *Store) PutSettings(gs contest.GuildSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.settings[gs.GuildID] = gs
}

// PutPrize seeds a prize.
func (s *Store) PutPrize(p contest.Prize) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.prizes[prizeKey{p.GuildID, p.ID}] = p
}

// PutGifty seeds a gifty and returns its id.
func (s *Store) PutGifty(g contest.Gifty) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.nextGifty++
	g.ID = s.state.nextGifty
	s.state.gifties[g.ID] = g
	return g.ID
}

// PutKnockEvent seeds a knock event and returns its id.
func (s *Store) PutKnockEvent(e contest.KnockEvent) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.nextEvent++
	e.ID = s.state.nextEvent
	s.state.events[e.ID] = e
	return e.ID
}

// PutDeviantArtUser seeds a linked DeviantArt account.
func (s *Store) PutDeviantArtUser(u contest.DeviantArtUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.artists[userKey{u.GuildID, u.UserID}] = u
}

// KnockEvents returns committed events ordered by id.
func (s *Store) KnockEvents() []contest.KnockEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]contest.KnockEvent, 0, len(s.state.events))
	for _, e := range s.state.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Gifties returns committed gifties ordered by id.
func (s *Store) Gifties() []contest.Gifty {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]contest.Gifty, 0, len(s.state.gifties))
	for _, g := range s.state.gifties {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Prizes returns the committed prizes of a guild ordered by id.
func (s *Store) Prizes(guildID string) []contest.Prize {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.guildPrizes(guildID, false)
}

// Settings returns committed settings for a guild.
func (s *Store) Settings(guildID string) (contest.GuildSettings, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gs, ok := s.state.settings[guildID]
	return gs, ok
}

func (s *state) guildPrizes(guildID string, inStockOnly bool) []contest.Prize {
	out := make([]contest.Prize, 0)
	for k, p := range s.prizes {
		if k.guild != guildID || (inStockOnly && p.CurrentStock <= 0) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type tx struct {
	st *state
}

func (t *tx) GuildSettings(_ context.Context, guildID string) (*contest.GuildSettings, error) {
	gs, ok := t.st.settings[guildID]
	if !ok {
		return nil, contest.ErrNotFound
	}
	return &gs, nil
}

func (t *tx) EnsureGuildSettings(ctx context.Context, guildID string) (*contest.GuildSettings, error) {
	if gs, err := t.GuildSettings(ctx, guildID); err == nil {
		return gs, nil
	}
	gs := contest.NewGuildSettings(guildID)
	t.st.settings[guildID] = *gs
	return gs, nil
}

func (t *tx) SaveGuildSettings(_ context.Context, gs *contest.GuildSettings) error {
	t.st.settings[gs.GuildID] = *gs
	return nil
}

// LockUserKnocks is a no-op: transactions are already serialised.
func (t *tx) LockUserKnocks(context.Context, string, string) error { return nil }

func (t *tx) CountKnocksSince(_ context.Context, guildID, userID string, since time.Time) (int, error) {
	n := 0
	for _, e := range t.st.events {
		if e.GuildID == guildID && e.UserID == userID && e.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (t *tx) CountKnocksThrough(_ context.Context, guildID, userID string, since time.Time, throughID int64) (int, error) {
	n := 0
	for _, e := range t.st.events {
		if e.GuildID == guildID && e.UserID == userID && e.CreatedAt.After(since) && e.ID <= throughID {
			n++
		}
	}
	return n, nil
}

func (t *tx) InsertKnockEvent(_ context.Context, e *contest.KnockEvent) error {
	t.st.nextEvent++
	e.ID = t.st.nextEvent
	t.st.events[e.ID] = *e
	return nil
}

func (t *tx) KnockEventForUpdate(_ context.Context, id int64) (*contest.KnockEvent, error) {
	e, ok := t.st.events[id]
	if !ok {
		return nil, contest.ErrNotFound
	}
	return &e, nil
}

func (t *tx) ResolveKnockEvent(_ context.Context, id int64, prizeID *string) (bool, error) {
	e, ok := t.st.events[id]
	if !ok || !e.Pending {
		return false, nil
	}
	e.Pending = false
	e.PrizeID = prizeID
	t.st.events[id] = e
	return true, nil
}

func (t *tx) DeletePendingKnockEvent(_ context.Context, id int64) (bool, error) {
	e, ok := t.st.events[id]
	if !ok || !e.Pending {
		return false, nil
	}
	delete(t.st.events, id)
	return true, nil
}

func (t *tx) ClaimNextGifty(_ context.Context, guildID, toUserID string) (*contest.Gifty, error) {
	var best *contest.Gifty
	for _, g := range t.st.gifties {
		if g.GuildID != guildID || g.ToUserID != toUserID || g.Spent() {
			continue
		}
		if best == nil || g.CreatedAt.Before(best.CreatedAt) || (g.CreatedAt.Equal(best.CreatedAt) && g.ID < best.ID) {
			g := g
			best = &g
		}
	}
	if best == nil {
		return nil, contest.ErrNotFound
	}
	return best, nil
}

func (t *tx) SpendGifty(_ context.Context, giftyID, knockEventID int64) (bool, error) {
	g, ok := t.st.gifties[giftyID]
	if !ok || g.Spent() {
		return false, nil
	}
	for _, other := range t.st.gifties {
		if other.KnockEventID != nil && *other.KnockEventID == knockEventID {
			return false, contest.ErrDuplicate
		}
	}
	g.KnockEventID = &knockEventID
	t.st.gifties[giftyID] = g
	return true, nil
}

func (t *tx) GiftyForKnockEvent(_ context.Context, knockEventID int64) (*contest.Gifty, error) {
	for _, g := range t.st.gifties {
		if g.KnockEventID != nil && *g.KnockEventID == knockEventID {
			g := g
			return &g, nil
		}
	}
	return nil, contest.ErrNotFound
}

func (t *tx) ReleaseGifties(_ context.Context, knockEventID int64) error {
	for id, g := range t.st.gifties {
		if g.KnockEventID != nil && *g.KnockEventID == knockEventID {
			g.KnockEventID = nil
			t.st.gifties[id] = g
		}
	}
	return nil
}

func (t *tx) CountUnspentGifties(_ context.Context, guildID, toUserID string) (int, error) {
	n := 0
	for _, g := range t.st.gifties {
		if g.GuildID == guildID && g.ToUserID == toUserID && !g.Spent() {
			n++
		}
	}
	return n, nil
}

// LockGiftySender is a no-op: transactions are already serialised.
func (t *tx) LockGiftySender(context.Context, string, string) error { return nil }

func (t *tx) LastSentGifty(_ context.Context, guildID, fromUserID string) (*contest.Gifty, error) {
	var last *contest.Gifty
	for _, g := range t.st.gifties {
		if g.GuildID != guildID || g.FromUserID != fromUserID {
			continue
		}
		if last == nil || g.CreatedAt.After(last.CreatedAt) {
			g := g
			last = &g
		}
	}
	if last == nil {
		return nil, contest.ErrNotFound
	}
	return last, nil
}

func (t *tx) InsertGifty(_ context.Context, g *contest.Gifty) error {
	t.st.nextGifty++
	g.ID = t.st.nextGifty
	t.st.gifties[g.ID] = *g
	return nil
}

func (t *tx) InStockPrizesForUpdate(_ context.Context, guildID string) ([]contest.Prize, error) {
	return t.st.guildPrizes(guildID, true), nil
}

func (t *tx) DecrementPrizeStock(_ context.Context, guildID, prizeID string) (bool, error) {
	k := prizeKey{guildID, prizeID}
	p, ok := t.st.prizes[k]
	if !ok || p.CurrentStock <= 0 {
		return false, nil
	}
	p.CurrentStock--
	t.st.prizes[k] = p
	return true, nil
}

func (t *tx) InsertPrize(_ context.Context, p *contest.Prize) error {
	k := prizeKey{p.GuildID, p.ID}
	if _, ok := t.st.prizes[k]; ok {
		return contest.ErrDuplicate
	}
	t.st.prizes[k] = *p
	return nil
}

func (t *tx) UpdatePrize(_ context.Context, p *contest.Prize) (bool, error) {
	k := prizeKey{p.GuildID, p.ID}
	if _, ok := t.st.prizes[k]; !ok {
		return false, nil
	}
	t.st.prizes[k] = *p
	return true, nil
}

func (t *tx) ListPrizes(_ context.Context, guildID string) ([]contest.Prize, error) {
	return t.st.guildPrizes(guildID, false), nil
}

func (t *tx) PrizeForUpdate(_ context.Context, guildID, prizeID string) (*contest.Prize, error) {
	p, ok := t.st.prizes[prizeKey{guildID, prizeID}]
	if !ok {
		return nil, contest.ErrNotFound
	}
	return &p, nil
}

func (t *tx) SaveDeviantArtUser(_ context.Context, u *contest.DeviantArtUser) error {
	t.st.artists[userKey{u.GuildID, u.UserID}] = *u
	return nil
}

func (t *tx) DeviantArtUser(_ context.Context, guildID, userID string) (*contest.DeviantArtUser, error) {
	u, ok := t.st.artists[userKey{guildID, userID}]
	if !ok {
		return nil, contest.ErrNotFound
	}
	return &u, nil
}

func (t *tx) Winners(_ context.Context, guildID string) ([]contest.Winner, error) {
	out := make([]contest.Winner, 0)
	for _, e := range t.st.events {
		if e.GuildID != guildID || e.Pending || e.PrizeID == nil {
			continue
		}
		w := contest.Winner{
			KnockEventID: e.ID,
			UserID:       e.UserID,
			CreatedAt:    e.CreatedAt,
			PrizeID:      *e.PrizeID,
		}
		if p, ok := t.st.prizes[prizeKey{guildID, *e.PrizeID}]; ok {
			w.PrizeName = p.Name
		}
		if u, ok := t.st.artists[userKey{guildID, e.UserID}]; ok {
			name := u.Username
			w.DeviantArtName = &name
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].KnockEventID < out[j].KnockEventID
	})
	return out, nil
}

var _ contest.Store = (*Store)(nil)
