package notifications

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	apperrors "github.com/open-builders/knock-backend/internal/common/errors"
	"github.com/open-builders/knock-backend/internal/domain/contest"
	"github.com/open-builders/knock-backend/internal/service/discord"
)

const (
	ColorPrimary = 0xF28C28
	ColorError   = 0xC0392B

	// Discord caps an embed at 25 fields.
	maxEmbedFields = 25
)

func embed(title, description string, color int) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
}

func embedReply(e *discordgo.MessageEmbed) discord.Reply {
	return discord.Reply{Embeds: []*discordgo.MessageEmbed{e}}
}

// Text is a plain content reply.
func Text(content string) discord.Reply { return discord.Reply{Content: content} }

func KnockLoss(remaining, banked int) discord.Reply {
	e := embed("No one was home", "You knocked and knocked but no one was home. Tricks this time.", ColorPrimary)
	e.Footer = &discordgo.MessageEmbedFooter{Text: knocksLeft(remaining, banked)}
	return embedReply(e)
}

func knocksLeft(remaining, banked int) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Knocks left today: %d", remaining))
	if banked > 0 {
		b.WriteString(fmt.Sprintf(" | Gifties: %d", banked))
	}
	return b.String()
}

func PrizeWon(p contest.Prize) discord.Reply {
	e := embed("Winner!", "You won! Congratulations on your lovely new prize!", ColorPrimary)
	e.Fields = []*discordgo.MessageEmbedField{{Name: "Prize", Value: p.Name}}
	if p.Image != "" {
		e.Image = &discordgo.MessageEmbedImage{URL: p.Image}
	}
	return embedReply(e)
}

func WinAnnouncement(userID string, p contest.Prize) discord.Reply {
	r := discord.Reply{
		Content:      fmt.Sprintf("<@%s> just won **%s**!", userID, p.Name),
		MentionUsers: []string{userID},
	}
	if p.Image != "" {
		e := embed(p.Name, "", ColorPrimary)
		e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: p.Image}
		r.Embeds = []*discordgo.MessageEmbed{e}
	}
	return r
}

func OutOfPrizes() discord.Reply {
	return embedReply(embed("All out of treats", "Someone answered the door, but the candy bowl is empty. We're all out of prizes!", ColorError))
}

func QuotaExceeded(knocksPerDay, resetHour int, loc *time.Location) discord.Reply {
	return embedReply(embed("Out of knocks", tooManyKnocks(knocksPerDay, resetHour, loc), ColorError))
}

func tooManyKnocks(knocksPerDay, resetHour int, loc *time.Location) string {
	return fmt.Sprintf("You've used all %d of your knocks. Knocks reset every day at %s.", knocksPerDay, hourLabel(resetHour, loc))
}

func hourLabel(hour int, loc *time.Location) string {
	t := time.Date(2000, 1, 1, hour, 0, 0, 0, loc)
	return t.Format("3 PM") + " " + loc.String()
}

// Error renders a user-correctable failure.
func Error(e *apperrors.AppError, loc *time.Location) discord.Reply {
	title := "Something's not right"
	desc := e.Message
	switch e.Code {
	case apperrors.ErrCodeTooManyKnocks:
		title = "Out of knocks"
		perDay, _ := e.Detail("knocks_per_day").(int)
		hour, _ := e.Detail("reset_time").(int)
		desc = tooManyKnocks(perDay, hour, loc)
	case apperrors.ErrCodeEventNotStarted:
		title = "Not yet!"
		desc = "The event hasn't started yet."
		if start, ok := e.Detail("start_date").(*time.Time); ok && start != nil {
			desc += " Come back on " + start.In(loc).Format("January 2") + "."
		}
	case apperrors.ErrCodeEventEnded:
		title = "That's a wrap"
		desc = "The event has ended. Thanks for playing!"
	case apperrors.ErrCodeRateLimited:
		title = "Gifty already sent"
	case apperrors.ErrCodeOutOfPrizes:
		return OutOfPrizes()
	case apperrors.ErrCodeUnknownCommand:
		return Text("Unknown command, use /help")
	}
	return embedReply(embed(title, desc, ColorError))
}

func UnknownFailure(correlationID string) discord.Reply {
	return Text("An unknown error occurred while processing your request. Reference ID: " + correlationID)
}

// OperatorAlert is posted to the operator error channel.
func OperatorAlert(correlationID, command, guildID, userID string, err error) discord.Reply {
	e := embed("Unhandled error", fmt.Sprintf("```%s```", truncate(err.Error(), 1800)), ColorError)
	e.Fields = []*discordgo.MessageEmbedField{
		{Name: "Reference", Value: correlationID, Inline: true},
		{Name: "Command", Value: orNone(command), Inline: true},
		{Name: "Guild", Value: orNone(guildID), Inline: true},
		{Name: "User", Value: orNone(userID), Inline: true},
	}
	return embedReply(e)
}

func GiftySent(fromUserID, toUserID string) discord.Reply {
	e := embed("New Gifty!", fmt.Sprintf("<@%s> is spreading the love! They just sent a one-time-use extra knock to a lucky friend.", fromUserID), ColorPrimary)
	e.Fields = []*discordgo.MessageEmbedField{{Name: "Recipient", Value: fmt.Sprintf("<@%s>", toUserID)}}
	r := embedReply(e)
	r.MentionUsers = []string{fromUserID}
	if toUserID != fromUserID {
		r.MentionUsers = append(r.MentionUsers, toUserID)
	}
	return r
}

func DeviantArtLinked(username string) discord.Reply {
	e := embed("Setting",
		"Your DeviantArt name has been saved! You can use the _/deviantart_ command again at any time to update it.",
		ColorPrimary)
	e.Fields = []*discordgo.MessageEmbedField{{Name: "DeviantArt Username", Value: username}}
	return embedReply(e)
}

func Help() discord.Reply {
	e := embed("How to Participate",
		"Every day until the event is over, you'll have the opportunity to knock on our door a few times for a chance to win fabulous prizes.",
		ColorPrimary)
	e.Fields = []*discordgo.MessageEmbedField{
		{Name: "Trick or Treat", Value: "Use the /knock command to try for a prize"},
		{Name: "Gifties", Value: "Use /gifty or right click a member to send them one extra knock"},
		{Name: "Want more info?", Value: "You can get details about the event by using the /info command"},
		{Name: "Want to see the juicy prizes?", Value: "Use the /prize list command to see what you could win!"},
		{Name: "Connect DeviantArt", Value: "Use the /deviantart command to set your DA username so we can deliver any adopts you win!"},
		{Name: "Issues?", Value: "If you're experiencing any bugs or issues please contact one of the event administrators for help."},
	}
	return embedReply(e)
}

func Credits() discord.Reply {
	return Text("Knock knock! Built by the event team. Thanks to everyone who donated prizes.")
}

// Info summarises the event and the caller's standing.
func Info(gs *contest.GuildSettings, remaining, banked int, loc *time.Location) discord.Reply {
	e := embed("Event Info", "", ColorPrimary)
	e.Fields = []*discordgo.MessageEmbedField{
		{Name: "Knocks per day", Value: fmt.Sprint(gs.KnocksPerDay), Inline: true},
		{Name: "Reset time", Value: hourLabel(gs.ResetHour, loc), Inline: true},
		{Name: "Your knocks left", Value: fmt.Sprint(remaining), Inline: true},
		{Name: "Your gifties", Value: fmt.Sprint(banked), Inline: true},
		{Name: "Start", Value: dateOrNone(gs.StartDate, loc), Inline: true},
		{Name: "End", Value: dateOrNone(gs.EndDate, loc), Inline: true},
	}
	return embedReply(e)
}

var remainingSynonyms = []string{
	"remaining",
	"left",
	"to go",
	"still to be won",
	"left in the closet",
	"waiting for a home",
}

// VagueAmount names n loosely, like "a few" or "heaps".
func VagueAmount(n int) string {
	var options []string
	switch {
	case n <= 0:
		return "none"
	case n == 1:
		return "just one"
	case n <= 5:
		options = []string{"a few", "several", "a couple", "not too many"}
	case n <= 10:
		options = []string{"a bunch", "a bundle", "an armload", "many"}
	case n <= 20:
		options = []string{"bunches", "gobs", "oodles", "bundles", "heaps"}
	default:
		options = []string{"tons", "too many to count", "a truckload"}
	}
	return options[n%len(options)]
}

func PrizeList(prizes []contest.Prize) discord.Reply {
	e := embed("Prize List",
		"These are the remaining prizes still to go for the event. Each prize has a different stock and likelihood of being given out (weight) per win.",
		ColorPrimary)
	for i, p := range prizes {
		if p.CurrentStock <= 0 {
			continue
		}
		if len(e.Fields) == maxEmbedFields {
			e.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("…and %d more", len(prizes)-i)}
			break
		}
		amount := VagueAmount(p.CurrentStock)
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
			Name: p.Name,
			Value: fmt.Sprintf("%s%s || %d || %s || weight: %d ||",
				strings.ToUpper(amount[:1]), amount[1:], p.CurrentStock, remainingSynonyms[i%len(remainingSynonyms)], p.Weight),
		})
	}
	if len(e.Fields) == 0 {
		e.Description = "There are no prizes left."
	}
	return embedReply(e)
}

// AdminPrizeList shows every prize including depleted ones.
func AdminPrizeList(prizes []contest.Prize) discord.Reply {
	var b strings.Builder
	if len(prizes) == 0 {
		b.WriteString("No prizes configured.")
	}
	for _, p := range prizes {
		b.WriteString(fmt.Sprintf("`%s` %s: %d/%d, weight %d\n", p.ID, p.Name, p.CurrentStock, p.InitialStock, p.Weight))
	}
	return embedReply(embed("[Admin] Prizes", truncate(b.String(), 4000), ColorPrimary))
}

func SettingsList(gs *contest.GuildSettings, loc *time.Location) discord.Reply {
	e := embed("[Admin] Event Settings", "", ColorPrimary)
	channel := "None"
	if gs.WinChannelID != nil {
		channel = fmt.Sprintf("<#%s>", *gs.WinChannelID)
	}
	e.Fields = []*discordgo.MessageEmbedField{
		{Name: fmt.Sprintf("Reset Time (0=midnight-23=11pm) (%s)", loc.String()), Value: fmt.Sprint(gs.ResetHour)},
		{Name: "Knocks Per Day", Value: fmt.Sprint(gs.KnocksPerDay), Inline: true},
		{Name: "Start Date", Value: dateOrNone(gs.StartDate, loc), Inline: true},
		{Name: "End Date", Value: dateOrNone(gs.EndDate, loc), Inline: true},
		{Name: "Win Rate", Value: fmt.Sprintf("%g", gs.WinRate), Inline: true},
		{Name: "Win Channel", Value: channel, Inline: true},
	}
	return embedReply(e)
}

func dateOrNone(t *time.Time, loc *time.Location) string {
	if t == nil {
		return "None"
	}
	return t.In(loc).Format("2006-01-02 15:04 MST")
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
