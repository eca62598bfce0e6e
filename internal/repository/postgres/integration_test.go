package postgres_test

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/open-builders/knock-backend/internal/common/errors"
	"github.com/open-builders/knock-backend/internal/domain/contest"
	pgrepo "github.com/open-builders/knock-backend/internal/repository/postgres"
	"github.com/open-builders/knock-backend/internal/service/admin"
	"github.com/open-builders/knock-backend/internal/service/discord"
	"github.com/open-builders/knock-backend/internal/service/fulfillment"
	"github.com/open-builders/knock-backend/internal/service/knock"
	"github.com/open-builders/knock-backend/internal/service/quota"
	"github.com/open-builders/knock-backend/internal/utils/random"
	"github.com/open-builders/knock-backend/internal/utils/random/randomtest"
)

const image = "https://cdn.example.com/prize.png"

type stubDispatcher struct {
	mu  sync.Mutex
	n   int
	err error
}

func (d *stubDispatcher) Dispatch(context.Context, fulfillment.Request) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.n++
	return nil
}

type env struct {
	db    *sql.DB
	store *pgrepo.Store
	guild string
}

func newEnv(t *testing.T, configure func(gs *contest.GuildSettings)) *env {
	t.Helper()
	conn := requireDB(t)
	e := &env{db: conn, store: pgrepo.NewStore(conn, zerolog.Nop()), guild: newGuild()}
	e.tx(t, func(ctx context.Context, tx contest.Tx) error {
		gs := contest.NewGuildSettings(e.guild)
		start := time.Now().Add(-48 * time.Hour)
		gs.StartDate = &start
		if configure != nil {
			configure(gs)
		}
		return tx.SaveGuildSettings(ctx, gs)
	})
	return e
}

func (e *env) tx(t *testing.T, fn func(ctx context.Context, tx contest.Tx) error) {
	t.Helper()
	require.NoError(t, e.store.InTx(context.Background(), fn))
}

func (e *env) putPrize(t *testing.T, id string, stock int) {
	t.Helper()
	e.tx(t, func(ctx context.Context, tx contest.Tx) error {
		return tx.InsertPrize(ctx, &contest.Prize{
			GuildID: e.guild, ID: id, Name: id, InitialStock: stock, CurrentStock: stock, Weight: 10, Image: image,
		})
	})
}

func (e *env) pendingWin(t *testing.T, userID string) int64 {
	t.Helper()
	ev := &contest.KnockEvent{GuildID: e.guild, UserID: userID, CreatedAt: time.Now(), Pending: true}
	e.tx(t, func(ctx context.Context, tx contest.Tx) error { return tx.InsertKnockEvent(ctx, ev) })
	return ev.ID
}

func (e *env) prize(t *testing.T, id string) *contest.Prize {
	t.Helper()
	var p *contest.Prize
	e.tx(t, func(ctx context.Context, tx contest.Tx) error {
		var err error
		p, err = tx.PrizeForUpdate(ctx, e.guild, id)
		return err
	})
	return p
}

func (e *env) count(t *testing.T, q string, args ...interface{}) int {
	t.Helper()
	var n int
	require.NoError(t, e.db.QueryRowContext(context.Background(), q, args...).Scan(&n))
	return n
}

func (e *env) knockService(rolls []float64, d knock.Dispatcher) *knock.Service {
	return knock.NewService(e.store, quota.NewLedger(time.UTC), randomtest.Floats(rolls...), d, zerolog.Nop(), nil)
}

func (e *env) allocator() *fulfillment.Allocator {
	return fulfillment.NewAllocator(e.store, quota.NewLedger(time.UTC), random.Crypto{}, zerolog.Nop())
}

func TestLastUnitAwardedOnceUnderConcurrency(t *testing.T) {
	e := newEnv(t, nil)
	e.putPrize(t, "last-one", 1)
	ids := make([]int64, 8)
	for i := range ids {
		ids[i] = e.pendingWin(t, strconv.Itoa(1000+i))
	}

	alloc := e.allocator()
	var mu sync.Mutex
	outcomes := map[fulfillment.Outcome]int{}
	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			res, err := alloc.Allocate(context.Background(), id)
			if err != nil {
				return err
			}
			mu.Lock()
			outcomes[res.Outcome]++
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, outcomes[fulfillment.OutcomeWon])
	assert.Equal(t, 7, outcomes[fulfillment.OutcomeOutOfPrizes])
	assert.Equal(t, 0, e.prize(t, "last-one").CurrentStock)
	assert.Equal(t, 1, e.count(t, `SELECT count(*) FROM knock_events WHERE guild_id = $1 AND prize_id IS NOT NULL`, e.guild))
	assert.Equal(t, 0, e.count(t, `SELECT count(*) FROM knock_events WHERE guild_id = $1 AND is_pending`, e.guild))
}

func TestConcurrentKnocksRespectQuota(t *testing.T) {
	e := newEnv(t, func(gs *contest.GuildSettings) { gs.KnocksPerDay = 3 })
	svc := e.knockService([]float64{0.9}, &stubDispatcher{})

	var mu sync.Mutex
	ok, limited := 0, 0
	var g errgroup.Group
	for i := 0; i < 6; i++ {
		g.Go(func() error {
			_, err := svc.Knock(context.Background(), e.guild, "200", discord.Ref{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case apperrors.HasCode(err, apperrors.ErrCodeTooManyKnocks):
				limited++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 3, ok)
	assert.Equal(t, 3, limited)
	assert.Equal(t, 3, e.count(t, `SELECT count(*) FROM knock_events WHERE guild_id = $1`, e.guild))
}

func TestBankedGiftySpentOnce(t *testing.T) {
	e := newEnv(t, func(gs *contest.GuildSettings) { gs.KnocksPerDay = 1 })
	e.tx(t, func(ctx context.Context, tx contest.Tx) error {
		if err := tx.InsertKnockEvent(ctx, &contest.KnockEvent{GuildID: e.guild, UserID: "200", CreatedAt: time.Now()}); err != nil {
			return err
		}
		return tx.InsertGifty(ctx, &contest.Gifty{GuildID: e.guild, FromUserID: "300", ToUserID: "200", CreatedAt: time.Now()})
	})
	svc := e.knockService([]float64{0.9}, &stubDispatcher{})

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Knock(context.Background(), e.guild, "200", discord.Ref{})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, limited int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case apperrors.HasCode(err, apperrors.ErrCodeTooManyKnocks):
			limited++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, limited)
	assert.Equal(t, 1, e.count(t, `SELECT count(*) FROM gifties WHERE guild_id = $1 AND knock_event_id IS NOT NULL`, e.guild))
}

func TestClaimNextGiftySkipsLockedRows(t *testing.T) {
	e := newEnv(t, nil)
	e.tx(t, func(ctx context.Context, tx contest.Tx) error {
		return tx.InsertGifty(ctx, &contest.Gifty{GuildID: e.guild, FromUserID: "300", ToUserID: "200", CreatedAt: time.Now()})
	})

	claimed := make(chan struct{})
	release := make(chan struct{})
	holder := make(chan error, 1)
	go func() {
		holder <- e.store.InTx(context.Background(), func(ctx context.Context, tx contest.Tx) error {
			if _, err := tx.ClaimNextGifty(ctx, e.guild, "200"); err != nil {
				close(claimed)
				return err
			}
			close(claimed)
			<-release
			return nil
		})
	}()
	<-claimed

	err := e.store.InTx(context.Background(), func(ctx context.Context, tx contest.Tx) error {
		_, err := tx.ClaimNextGifty(ctx, e.guild, "200")
		return err
	})
	close(release)
	require.NoError(t, <-holder)
	assert.ErrorIs(t, err, contest.ErrNotFound)
}

func TestDecrementPrizeStockStopsAtZero(t *testing.T) {
	e := newEnv(t, nil)
	e.putPrize(t, "single", 1)
	e.tx(t, func(ctx context.Context, tx contest.Tx) error {
		ok, err := tx.DecrementPrizeStock(ctx, e.guild, "single")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = tx.DecrementPrizeStock(ctx, e.guild, "single")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	assert.Equal(t, 0, e.prize(t, "single").CurrentStock)
}

func TestConcurrentGiftySendsAllowOne(t *testing.T) {
	e := newEnv(t, nil)
	svc := e.knockService(nil, &stubDispatcher{})

	var mu sync.Mutex
	sent, limited := 0, 0
	var g errgroup.Group
	for i := 0; i < 5; i++ {
		to := strconv.Itoa(400 + i)
		g.Go(func() error {
			_, err := svc.SendGifty(context.Background(), e.guild, "200", to, false)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				sent++
			case apperrors.HasCode(err, apperrors.ErrCodeRateLimited):
				limited++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, sent)
	assert.Equal(t, 4, limited)
	assert.Equal(t, 1, e.count(t, `SELECT count(*) FROM gifties WHERE guild_id = $1`, e.guild))
}

func TestPrizeEditsDuringAllocationKeepAwardedUnits(t *testing.T) {
	e := newEnv(t, nil)
	e.putPrize(t, "popular", 20)
	ids := make([]int64, 10)
	for i := range ids {
		ids[i] = e.pendingWin(t, strconv.Itoa(2000+i))
	}

	alloc := e.allocator()
	adm := admin.NewService(e.store, time.UTC, zerolog.Nop())
	var g errgroup.Group
	for i, id := range ids {
		id := id
		stock := 30 + i
		g.Go(func() error {
			_, err := alloc.Allocate(context.Background(), id)
			return err
		})
		g.Go(func() error {
			_, err := adm.EditPrize(context.Background(), e.guild, "popular", admin.PrizeEdit{Stock: &stock})
			return err
		})
	}
	require.NoError(t, g.Wait())

	p := e.prize(t, "popular")
	awarded := e.count(t, `SELECT count(*) FROM knock_events WHERE guild_id = $1 AND prize_id = 'popular'`, e.guild)
	assert.Equal(t, 10, awarded)
	assert.Equal(t, awarded, p.InitialStock-p.CurrentStock)
}

func TestFailedEnqueueWithdrawsEventAndReturnsGifty(t *testing.T) {
	e := newEnv(t, func(gs *contest.GuildSettings) { gs.KnocksPerDay = 1 })
	e.tx(t, func(ctx context.Context, tx contest.Tx) error {
		if err := tx.InsertKnockEvent(ctx, &contest.KnockEvent{GuildID: e.guild, UserID: "200", CreatedAt: time.Now()}); err != nil {
			return err
		}
		return tx.InsertGifty(ctx, &contest.Gifty{GuildID: e.guild, FromUserID: "300", ToUserID: "200", CreatedAt: time.Now()})
	})
	svc := e.knockService([]float64{0.1}, &stubDispatcher{err: errors.New("redis down")})

	_, err := svc.Knock(context.Background(), e.guild, "200", discord.Ref{})
	require.Error(t, err)
	assert.Equal(t, 1, e.count(t, `SELECT count(*) FROM knock_events WHERE guild_id = $1`, e.guild))
	assert.Equal(t, 0, e.count(t, `SELECT count(*) FROM knock_events WHERE guild_id = $1 AND is_pending`, e.guild))
	assert.Equal(t, 0, e.count(t, `SELECT count(*) FROM gifties WHERE guild_id = $1 AND knock_event_id IS NOT NULL`, e.guild))
}

func TestWinnersJoinDeviantArtAccounts(t *testing.T) {
	e := newEnv(t, nil)
	e.putPrize(t, "candy", 5)
	e.tx(t, func(ctx context.Context, tx contest.Tx) error {
		if err := tx.SaveDeviantArtUser(ctx, &contest.DeviantArtUser{GuildID: e.guild, UserID: "300", Username: "first"}); err != nil {
			return err
		}
		return tx.SaveDeviantArtUser(ctx, &contest.DeviantArtUser{GuildID: e.guild, UserID: "300", Username: "Spooky-Artist"})
	})
	prize := "candy"
	at := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	e.tx(t, func(ctx context.Context, tx contest.Tx) error {
		for _, ev := range []*contest.KnockEvent{
			{GuildID: e.guild, UserID: "300", CreatedAt: at.Add(time.Minute), PrizeID: &prize},
			{GuildID: e.guild, UserID: "200", CreatedAt: at, PrizeID: &prize},
			{GuildID: e.guild, UserID: "400", CreatedAt: at, Pending: true},
			{GuildID: e.guild, UserID: "500", CreatedAt: at},
		} {
			if err := tx.InsertKnockEvent(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})

	var wins []contest.Winner
	e.tx(t, func(ctx context.Context, tx contest.Tx) error {
		u, err := tx.DeviantArtUser(ctx, e.guild, "300")
		require.NoError(t, err)
		assert.Equal(t, "Spooky-Artist", u.Username)
		_, err = tx.DeviantArtUser(ctx, e.guild, "200")
		assert.ErrorIs(t, err, contest.ErrNotFound)

		wins, err = tx.Winners(ctx, e.guild)
		return err
	})
	require.Len(t, wins, 2)
	assert.Equal(t, "200", wins[0].UserID)
	assert.Nil(t, wins[0].DeviantArtName)
	assert.True(t, at.Equal(wins[0].CreatedAt))
	assert.Equal(t, "300", wins[1].UserID)
	assert.Equal(t, "candy", wins[1].PrizeName)
	require.NotNil(t, wins[1].DeviantArtName)
	assert.Equal(t, "Spooky-Artist", *wins[1].DeviantArtName)
}
