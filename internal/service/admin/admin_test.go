package admin

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/open-builders/knock-backend/internal/common/errors"
	"github.com/open-builders/knock-backend/internal/domain/contest"
	"github.com/open-builders/knock-backend/internal/domain/contest/contesttest"
)

const guild = "100"

func newService(t *testing.T) (*Service, *contesttest.Store) {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	store := contesttest.New()
	return NewService(store, loc, zerolog.Nop()), store
}

func intp(v int) *int       { return &v }
func strp(v string) *string { return &v }

func validationField(t *testing.T, err error) string {
	t.Helper()
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok, "expected AppError, got %v", err)
	require.Equal(t, apperrors.ErrCodeValidation, appErr.Code)
	field, _ := appErr.Detail("field").(string)
	return field
}

func TestSettingsCreatedLazily(t *testing.T) {
	svc, store := newService(t)
	gs, err := svc.Settings(context.Background(), guild)
	require.NoError(t, err)
	assert.Equal(t, contest.DefaultResetHour, gs.ResetHour)
	assert.Equal(t, contest.DefaultKnocksPerDay, gs.KnocksPerDay)

	_, ok := store.Settings(guild)
	assert.True(t, ok)
}

func TestSetSettings(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	cases := []struct {
		name, value string
		check       func(t *testing.T, gs contest.GuildSettings)
	}{
		{"reset_time", "23", func(t *testing.T, gs contest.GuildSettings) { assert.Equal(t, 23, gs.ResetHour) }},
		{"knocks_per_day", "19", func(t *testing.T, gs contest.GuildSettings) { assert.Equal(t, 19, gs.KnocksPerDay) }},
		{"win_rate", "0.25", func(t *testing.T, gs contest.GuildSettings) { assert.Equal(t, 0.25, gs.WinRate) }},
		{"start_date", "2026-10-01", func(t *testing.T, gs contest.GuildSettings) {
			require.NotNil(t, gs.StartDate)
			assert.Equal(t, "2026-10-01T00:00:00-05:00", gs.StartDate.Format(time.RFC3339))
		}},
		{"end_date", "2026-11-01", func(t *testing.T, gs contest.GuildSettings) {
			require.NotNil(t, gs.EndDate)
			assert.Equal(t, 2026, gs.EndDate.Year())
		}},
		{"win_channel", "<#555>", func(t *testing.T, gs contest.GuildSettings) {
			require.NotNil(t, gs.WinChannelID)
			assert.Equal(t, "555", *gs.WinChannelID)
		}},
		{"win_channel", "none", func(t *testing.T, gs contest.GuildSettings) { assert.Nil(t, gs.WinChannelID) }},
	}
	for _, tc := range cases {
		t.Run(tc.name+"="+tc.value, func(t *testing.T) {
			_, err := svc.Set(ctx, guild, tc.name, tc.value)
			require.NoError(t, err)
			gs, _ := store.Settings(guild)
			tc.check(t, gs)
		})
	}
}

func TestSetSettingsRejectsBadValues(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	cases := []struct{ name, value, field string }{
		{"reset_time", "24", "reset_time"},
		{"reset_time", "-1", "reset_time"},
		{"knocks_per_day", "0", "knocks_per_day"},
		{"knocks_per_day", "20", "knocks_per_day"},
		{"win_rate", "1.5", "win_rate"},
		{"win_rate", "abc", "win_rate"},
		{"start_date", "10/01/2026", "start_date"},
		{"start_date", "2026-02-30", "start_date"},
		{"win_channel", "general", "win_channel"},
		{"colour", "orange", "setting"},
	}
	for _, tc := range cases {
		_, err := svc.Set(ctx, guild, tc.name, tc.value)
		assert.Equal(t, tc.field, validationField(t, err), "%s=%s", tc.name, tc.value)
	}
	_, ok := store.Settings(guild)
	assert.False(t, ok, "failed edits must roll back the lazily created row")
}

func TestStartMustPrecedeEnd(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	_, err := svc.Set(ctx, guild, "end_date", "2026-10-01")
	require.NoError(t, err)
	_, err = svc.Set(ctx, guild, "start_date", "2026-10-01")
	assert.Equal(t, "start_date", validationField(t, err))
	_, err = svc.Set(ctx, guild, "start_date", "2026-10-05")
	assert.Error(t, err)

	gs, _ := store.Settings(guild)
	assert.Nil(t, gs.StartDate)
}

func TestSettingNamesSorted(t *testing.T) {
	assert.Equal(t, []string{"end_date", "knocks_per_day", "reset_time", "start_date", "win_channel", "win_rate"}, SettingNames())
}

func TestAddPrize(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	p, err := svc.AddPrize(ctx, guild, NewPrize{ID: "candy-corn", Name: "Candy Corn", Stock: 20, Image: "https://cdn.example.com/corn.png"})
	require.NoError(t, err)
	assert.Equal(t, contest.DefaultPrizeWeight, p.Weight)
	assert.Equal(t, 20, p.CurrentStock)
	assert.Len(t, store.Prizes(guild), 1)

	_, err = svc.AddPrize(ctx, guild, NewPrize{ID: "candy-corn", Name: "Again", Stock: 1, Image: "https://cdn.example.com/corn.png"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))

	_, err = svc.AddPrize(ctx, guild, NewPrize{ID: "zero-weight", Name: "Hidden", Stock: 1, Weight: intp(0), Image: "https://cdn.example.com/x.jpg"})
	require.NoError(t, err)
}

func TestAddPrizeValidation(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	ok := NewPrize{ID: "lollipop", Name: "Lollipop", Stock: 5, Image: "https://cdn.example.com/pop.png"}

	cases := map[string]func(n *NewPrize){
		"id":           func(n *NewPrize) { n.ID = "X1" },
		"name":         func(n *NewPrize) { n.Name = strings.Repeat("a", 101) },
		"initialstock": func(n *NewPrize) { n.Stock = 1000 },
		"weight":       func(n *NewPrize) { n.Weight = intp(1001) },
		"image":        func(n *NewPrize) { n.Image = "https://cdn.example.com/pop.gif" },
	}
	for field, mutate := range cases {
		n := ok
		mutate(&n)
		_, err := svc.AddPrize(ctx, guild, n)
		assert.Equal(t, field, validationField(t, err))
	}
	assert.Empty(t, store.Prizes(guild))
}

func TestEditPrizeKeepsAwardedUnits(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	store.PutPrize(contest.Prize{ID: "lollipop", GuildID: guild, Name: "Lollipop", InitialStock: 10, CurrentStock: 6, Weight: 10, Image: "https://cdn.example.com/pop.png"})

	p, err := svc.EditPrize(ctx, guild, "lollipop", PrizeEdit{Stock: intp(15), Weight: intp(3)})
	require.NoError(t, err)
	assert.Equal(t, 15, p.InitialStock)
	assert.Equal(t, 11, p.CurrentStock)
	assert.Equal(t, 3, p.Weight)

	_, err = svc.EditPrize(ctx, guild, "lollipop", PrizeEdit{Stock: intp(3)})
	assert.Equal(t, "stock", validationField(t, err))

	_, err = svc.EditPrize(ctx, guild, "nope", PrizeEdit{Name: strp("x")})
	assert.Equal(t, "id", validationField(t, err))

	_, err = svc.EditPrize(ctx, guild, "lollipop", PrizeEdit{})
	assert.Error(t, err)
}

// lockLog records which prize reads and writes a transaction makes.
type lockLog struct {
	inner *contesttest.Store
	calls []string
}

type lockLogTx struct {
	contest.Tx
	log *lockLog
}

func (l *lockLog) InTx(ctx context.Context, fn func(ctx context.Context, tx contest.Tx) error) error {
	return l.inner.InTx(ctx, func(ctx context.Context, tx contest.Tx) error {
		return fn(ctx, &lockLogTx{Tx: tx, log: l})
	})
}

func (t *lockLogTx) PrizeForUpdate(ctx context.Context, guildID, prizeID string) (*contest.Prize, error) {
	t.log.calls = append(t.log.calls, "lock "+prizeID)
	return t.Tx.PrizeForUpdate(ctx, guildID, prizeID)
}

func (t *lockLogTx) UpdatePrize(ctx context.Context, p *contest.Prize) (bool, error) {
	t.log.calls = append(t.log.calls, "update "+p.ID)
	return t.Tx.UpdatePrize(ctx, p)
}

func TestPrizeEditsReadUnderRowLock(t *testing.T) {
	_, store := newService(t)
	store.PutPrize(contest.Prize{ID: "lollipop", GuildID: guild, Name: "Lollipop", InitialStock: 10, CurrentStock: 6, Weight: 10, Image: "https://cdn.example.com/pop.png"})
	calls := &lockLog{inner: store}
	svc := NewService(calls, time.UTC, zerolog.Nop())

	_, err := svc.EditPrize(context.Background(), guild, "lollipop", PrizeEdit{Weight: intp(3)})
	require.NoError(t, err)
	assert.Equal(t, []string{"lock lollipop", "update lollipop"}, calls.calls)

	calls.calls = nil
	_, err = svc.ImportPrizes(context.Background(), guild, strings.NewReader(catalogue))
	require.NoError(t, err)
	assert.Equal(t, []string{"lock candy-corn", "lock lollipop", "update lollipop"}, calls.calls)
}

func TestWinners(t *testing.T) {
	svc, store := newService(t)
	store.PutPrize(contest.Prize{ID: "candy", GuildID: guild, Name: "Candy Corn", InitialStock: 5, CurrentStock: 3, Weight: 10, Image: "https://cdn.example.com/c.png"})
	store.PutDeviantArtUser(contest.DeviantArtUser{GuildID: guild, UserID: "300", Username: "Spooky-Artist"})
	prize := "candy"
	at := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	store.PutKnockEvent(contest.KnockEvent{GuildID: guild, UserID: "300", CreatedAt: at.Add(time.Hour), PrizeID: &prize})
	store.PutKnockEvent(contest.KnockEvent{GuildID: guild, UserID: "200", CreatedAt: at, PrizeID: &prize})
	store.PutKnockEvent(contest.KnockEvent{GuildID: guild, UserID: "400", CreatedAt: at, Pending: true})
	store.PutKnockEvent(contest.KnockEvent{GuildID: guild, UserID: "500", CreatedAt: at})
	store.PutKnockEvent(contest.KnockEvent{GuildID: "999", UserID: "600", CreatedAt: at, PrizeID: &prize})

	wins, err := svc.Winners(context.Background(), guild)
	require.NoError(t, err)
	require.Len(t, wins, 2)
	assert.Equal(t, "200", wins[0].UserID)
	assert.Nil(t, wins[0].DeviantArtName)
	assert.Equal(t, "300", wins[1].UserID)
	assert.Equal(t, "Candy Corn", wins[1].PrizeName)
	require.NotNil(t, wins[1].DeviantArtName)
	assert.Equal(t, "Spooky-Artist", *wins[1].DeviantArtName)
}

const catalogue = `
prizes:
  - id: candy-corn
    name: Candy Corn
    stock: 30
    image: https://cdn.example.com/corn.png
  - id: lollipop
    name: Lollipop
    stock: 12
    weight: 2
    image: https://cdn.example.com/pop.png
`

func TestImportPrizes(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	store.PutPrize(contest.Prize{ID: "lollipop", GuildID: guild, Name: "Lolly", InitialStock: 10, CurrentStock: 8, Weight: 10, Image: "https://cdn.example.com/old.png"})

	report, err := svc.ImportPrizes(ctx, guild, strings.NewReader(catalogue))
	require.NoError(t, err)
	assert.Equal(t, []string{"candy-corn"}, report.Added)
	assert.Equal(t, []string{"lollipop"}, report.Updated)

	prizes := store.Prizes(guild)
	require.Len(t, prizes, 2)
	assert.Equal(t, contest.DefaultPrizeWeight, prizes[0].Weight)
	assert.Equal(t, 12, prizes[1].InitialStock)
	assert.Equal(t, 10, prizes[1].CurrentStock)
	assert.Equal(t, 2, prizes[1].Weight)
	assert.Equal(t, "Lollipop", prizes[1].Name)
}

func TestImportPrizesIsAllOrNothing(t *testing.T) {
	svc, store := newService(t)
	bad := catalogue + `
  - id: Bad
    name: Bad
    stock: 1
    image: https://cdn.example.com/bad.png
`
	_, err := svc.ImportPrizes(context.Background(), guild, strings.NewReader(bad))
	require.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	assert.Empty(t, store.Prizes(guild))

	_, err = svc.ImportPrizes(context.Background(), guild, strings.NewReader("prizes:\n  - id: a\n    colour: red\n"))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
}
