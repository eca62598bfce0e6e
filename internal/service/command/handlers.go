package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	apperrors "github.com/open-builders/knock-backend/internal/common/errors"
	"github.com/open-builders/knock-backend/internal/service/admin"
	"github.com/open-builders/knock-backend/internal/service/discord"
	"github.com/open-builders/knock-backend/internal/service/notifications"
)

// handlerFunc runs a command. A nil reply leaves the placeholder untouched.
type handlerFunc func(ctx context.Context, inv *discord.Invocation) (*discord.Reply, error)

func reply(r discord.Reply) (*discord.Reply, error) { return &r, nil }

func requireAdmin(inv *discord.Invocation) error {
	if !inv.Admin {
		return apperrors.NewForbiddenError("You lack the required permissions for that command.")
	}
	return nil
}

func (r *Router) handleKnock(ctx context.Context, inv *discord.Invocation) (*discord.Reply, error) {
	return r.knockFor(ctx, inv, inv.UserID)
}

func (r *Router) handleAdminKnock(ctx context.Context, inv *discord.Invocation) (*discord.Reply, error) {
	if err := requireAdmin(inv); err != nil {
		return nil, err
	}
	target := discord.StringOption(inv.Options, "user")
	if target == "" {
		return nil, apperrors.NewValidationError("user", "You must provide a target user for the adminknock command")
	}
	r.log.Info().Str("user_id", inv.UserID).Str("target_user_id", target).Msg("knocking on behalf of user")
	return r.knockFor(ctx, inv, target)
}

// knockFor runs a knock. Wins are answered by the fulfillment stage, so the
// placeholder is only edited for a loss.
func (r *Router) knockFor(ctx context.Context, inv *discord.Invocation, userID string) (*discord.Reply, error) {
	res, err := r.knock.Knock(ctx, inv.GuildID, userID, inv.Ref)
	if err != nil {
		return nil, err
	}
	if res.Won {
		return nil, nil
	}
	return reply(notifications.KnockLoss(res.Remaining, res.Banked))
}

func (r *Router) handleGifty(ctx context.Context, inv *discord.Invocation) (*discord.Reply, error) {
	to := inv.TargetID
	if inv.CommandType != discordgo.UserApplicationCommand {
		to = discord.StringOption(inv.Options, "user")
	}
	if to == "" {
		return nil, apperrors.NewValidationError("user", "No user specified")
	}
	if _, err := r.knock.SendGifty(ctx, inv.GuildID, inv.UserID, to, inv.Admin); err != nil {
		return nil, err
	}
	return reply(notifications.GiftySent(inv.UserID, to))
}

func (r *Router) handleDeviantArt(ctx context.Context, inv *discord.Invocation) (*discord.Reply, error) {
	name := strings.TrimSpace(discord.StringOption(inv.Options, "username"))
	if name == "" {
		return nil, apperrors.NewValidationError("username", "Invalid DeviantArt name provided. Must not be empty.")
	}
	u, err := r.knock.LinkDeviantArt(ctx, inv.GuildID, inv.UserID, name)
	if err != nil {
		return nil, err
	}
	return reply(notifications.DeviantArtLinked(u.Username))
}

func (r *Router) handleSettings(ctx context.Context, inv *discord.Invocation) (*discord.Reply, error) {
	if err := requireAdmin(inv); err != nil {
		return nil, err
	}
	sub, ok := inv.Subcommand()
	if !ok {
		return nil, unknownSubcommand(inv.Command)
	}
	switch sub.Name {
	case "list":
		gs, err := r.admin.Settings(ctx, inv.GuildID)
		if err != nil {
			return nil, err
		}
		return reply(notifications.SettingsList(gs, r.loc))
	case "set":
		name := discord.StringOption(sub.Options, "setting")
		if _, err := r.admin.Set(ctx, inv.GuildID, name, discord.StringOption(sub.Options, "value")); err != nil {
			return nil, err
		}
		return reply(notifications.Text("Got it. Updated " + name))
	}
	return nil, unknownSubcommand(inv.Command + " " + sub.Name)
}

func (r *Router) handlePrize(ctx context.Context, inv *discord.Invocation) (*discord.Reply, error) {
	sub, ok := inv.Subcommand()
	if !ok {
		return nil, unknownSubcommand(inv.Command)
	}
	if sub.Name == "list" {
		prizes, err := r.admin.Prizes(ctx, inv.GuildID)
		if err != nil {
			return nil, err
		}
		return reply(notifications.PrizeList(prizes))
	}
	if sub.Name != "admin" {
		return nil, unknownSubcommand(inv.Command + " " + sub.Name)
	}
	if err := requireAdmin(inv); err != nil {
		return nil, err
	}
	if len(sub.Options) == 0 {
		return nil, unknownSubcommand(inv.Command + " admin")
	}
	action := sub.Options[0]
	switch action.Name {
	case "list":
		prizes, err := r.admin.Prizes(ctx, inv.GuildID)
		if err != nil {
			return nil, err
		}
		return reply(notifications.AdminPrizeList(prizes))
	case "add":
		return r.addPrize(ctx, inv, action.Options)
	case "edit":
		return r.editPrize(ctx, inv, action.Options)
	}
	return nil, unknownSubcommand(inv.Command + " admin " + action.Name)
}

func (r *Router) addPrize(ctx context.Context, inv *discord.Invocation, opts []*discordgo.ApplicationCommandInteractionDataOption) (*discord.Reply, error) {
	stock, _ := discord.IntOption(opts, "stock")
	n := admin.NewPrize{
		ID:    discord.StringOption(opts, "id"),
		Name:  discord.StringOption(opts, "name"),
		Stock: int(stock),
		Image: discord.StringOption(opts, "image"),
	}
	if w, ok := discord.IntOption(opts, "weight"); ok {
		weight := int(w)
		n.Weight = &weight
	}
	p, err := r.admin.AddPrize(ctx, inv.GuildID, n)
	if err != nil {
		return nil, err
	}
	return reply(notifications.Text(fmt.Sprintf("Added %d units of %s as %s with weight %d", p.InitialStock, p.Name, p.ID, p.Weight)))
}

func (r *Router) editPrize(ctx context.Context, inv *discord.Invocation, opts []*discordgo.ApplicationCommandInteractionDataOption) (*discord.Reply, error) {
	id := discord.StringOption(opts, "id")
	field := discord.StringOption(opts, "field")
	value := strings.TrimSpace(discord.StringOption(opts, "value"))

	var edit admin.PrizeEdit
	switch field {
	case "stock", "weight":
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, apperrors.NewValidationError(field, "must be a whole number")
		}
		if field == "stock" {
			edit.Stock = &n
		} else {
			edit.Weight = &n
		}
	case "image":
		edit.Image = &value
	case "name":
		edit.Name = &value
	default:
		return nil, apperrors.NewValidationError("field", "must be one of stock, weight, image, name")
	}
	p, err := r.admin.EditPrize(ctx, inv.GuildID, id, edit)
	if err != nil {
		return nil, err
	}
	return reply(notifications.Text(fmt.Sprintf("Updated %s: %d/%d left, weight %d", p.ID, p.CurrentStock, p.InitialStock, p.Weight)))
}

func (r *Router) handleTestWin(ctx context.Context, inv *discord.Invocation) (*discord.Reply, error) {
	if err := requireAdmin(inv); err != nil {
		return nil, err
	}
	gs, err := r.admin.Settings(ctx, inv.GuildID)
	if err != nil {
		return nil, err
	}
	if gs.WinChannelID == nil {
		return reply(notifications.Text("Win channel isn't set."))
	}
	if err := r.notifier.Announce(ctx, *gs.WinChannelID, notifications.Text("Test message")); err != nil {
		return nil, err
	}
	return reply(notifications.Text("Sent test message."))
}

func (r *Router) handleInfo(ctx context.Context, inv *discord.Invocation) (*discord.Reply, error) {
	st, err := r.knock.Standing(ctx, inv.GuildID, inv.UserID)
	if err != nil {
		return nil, err
	}
	return reply(notifications.Info(st.Settings, st.Remaining, st.Banked, r.loc))
}

func (r *Router) handleHelp(context.Context, *discord.Invocation) (*discord.Reply, error) {
	return reply(notifications.Help())
}

func (r *Router) handleCredits(context.Context, *discord.Invocation) (*discord.Reply, error) {
	return reply(notifications.Credits())
}

func unknownSubcommand(name string) error {
	return apperrors.New(apperrors.ErrCodeUnknownCommand, "Unknown command: "+name)
}
