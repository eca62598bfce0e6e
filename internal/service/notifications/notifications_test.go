package notifications

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/open-builders/knock-backend/internal/common/errors"
	"github.com/open-builders/knock-backend/internal/domain/contest"
	"github.com/open-builders/knock-backend/internal/service/discord"
	"github.com/open-builders/knock-backend/internal/service/discord/discordtest"
)

func TestReplyDropsMissingPlaceholder(t *testing.T) {
	m := &discordtest.Messenger{EditErr: fmt.Errorf("edit: %w", discord.ErrPlaceholderUnavailable)}
	n := NewNotifier(m, zerolog.Nop())
	assert.NoError(t, n.Reply(context.Background(), discord.Ref{ID: "1"}, Text("hi")))

	m.EditErr = errors.New("503")
	assert.Error(t, n.Reply(context.Background(), discord.Ref{ID: "1"}, Text("hi")))
}

func TestPlaceholder(t *testing.T) {
	m := &discordtest.Messenger{}
	n := NewNotifier(m, zerolog.Nop())
	assert.True(t, n.Placeholder(context.Background(), discord.Ref{}))

	m.GetErr = discord.ErrPlaceholderUnavailable
	assert.False(t, n.Placeholder(context.Background(), discord.Ref{}))

	m.GetErr = errors.New("timeout")
	assert.True(t, n.Placeholder(context.Background(), discord.Ref{}))
	assert.Equal(t, 3, m.Gets())
}

func TestAnnounceSkipsEmptyChannel(t *testing.T) {
	m := &discordtest.Messenger{}
	n := NewNotifier(m, zerolog.Nop())
	require.NoError(t, n.Announce(context.Background(), "", Text("x")))
	require.NoError(t, n.Announce(context.Background(), "55", Text("x")))
	require.Len(t, m.Posts(), 1)
	assert.Equal(t, "55", m.Posts()[0].ChannelID)
}

func TestErrorRendering(t *testing.T) {
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)

	r := Error(apperrors.NewTooManyKnocksError(2, 6, time.Now()), loc)
	require.Len(t, r.Embeds, 1)
	assert.Equal(t, "Out of knocks", r.Embeds[0].Title)
	assert.Contains(t, r.Embeds[0].Description, "all 2 of your knocks")
	assert.Contains(t, r.Embeds[0].Description, "6 AM America/Chicago")

	start := time.Date(2023, 10, 1, 0, 0, 0, 0, loc)
	r = Error(apperrors.NewEventNotStartedError(&start, nil), loc)
	assert.Contains(t, r.Embeds[0].Description, "October 1")

	r = Error(apperrors.NewEventNotStartedError(nil, nil), loc)
	assert.Equal(t, "The event hasn't started yet.", r.Embeds[0].Description)

	r = Error(apperrors.New(apperrors.ErrCodeUnknownCommand, "x"), loc)
	assert.Equal(t, "Unknown command, use /help", r.Content)
}

func TestPrizeWonAndAnnouncement(t *testing.T) {
	p := contest.Prize{ID: "candy", Name: "Candy Corn", Image: "https://x.test/c.png"}
	r := PrizeWon(p)
	require.Len(t, r.Embeds, 1)
	assert.Equal(t, "Candy Corn", r.Embeds[0].Fields[0].Value)
	assert.Equal(t, "https://x.test/c.png", r.Embeds[0].Image.URL)

	a := WinAnnouncement("42", p)
	assert.Contains(t, a.Content, "<@42>")
	assert.Equal(t, []string{"42"}, a.MentionUsers)
}

func TestKnockLossFooter(t *testing.T) {
	assert.Equal(t, "Knocks left today: 1", KnockLoss(1, 0).Embeds[0].Footer.Text)
	assert.Equal(t, "Knocks left today: 0 | Gifties: 2", KnockLoss(0, 2).Embeds[0].Footer.Text)
}

func TestGiftySentMentions(t *testing.T) {
	assert.Equal(t, []string{"1", "2"}, GiftySent("1", "2").MentionUsers)
	assert.Equal(t, []string{"1"}, GiftySent("1", "1").MentionUsers)
}

func TestVagueAmount(t *testing.T) {
	assert.Equal(t, "none", VagueAmount(0))
	assert.Equal(t, "just one", VagueAmount(1))
	assert.Contains(t, []string{"a few", "several", "a couple", "not too many"}, VagueAmount(4))
	assert.Contains(t, []string{"tons", "too many to count", "a truckload"}, VagueAmount(500))
}

func TestPrizeListCapsFields(t *testing.T) {
	prizes := make([]contest.Prize, 0, 30)
	for i := 0; i < 30; i++ {
		prizes = append(prizes, contest.Prize{ID: fmt.Sprintf("p%02d", i), Name: "P", CurrentStock: 3, Weight: 10})
	}
	prizes = append([]contest.Prize{{ID: "gone", Name: "Gone", CurrentStock: 0}}, prizes...)
	r := PrizeList(prizes)
	assert.Len(t, r.Embeds[0].Fields, maxEmbedFields)
	require.NotNil(t, r.Embeds[0].Footer)

	empty := PrizeList(nil)
	assert.Equal(t, "There are no prizes left.", empty.Embeds[0].Description)
}
