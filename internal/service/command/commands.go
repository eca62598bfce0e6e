package command

import (
	"github.com/bwmarrin/discordgo"
)

// Command names.
const (
	Knock      = "knock"
	AdminKnock = "adminknock"
	Gifty      = "gifty"
	Settings   = "settings"
	Prize      = "prize"
	TestWin    = "testwin"
	Help       = "help"
	Info       = "info"
	Credits    = "credits"
	DeviantArt = "deviantart"
)

var adminOnly = int64(discordgo.PermissionAdministrator)

func settingChoices(names []string) []*discordgo.ApplicationCommandOptionChoice {
	out := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(names))
	for _, n := range names {
		out = append(out, &discordgo.ApplicationCommandOptionChoice{Name: n, Value: n})
	}
	return out
}

// Commands returns the guild command definitions registered with Discord.
func Commands(settingNames []string) []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{Name: Knock, Description: "Trick or Treat!", Type: discordgo.ChatApplicationCommand},
		{Name: Help, Description: "Learn how to participate in Trick or Treat!", Type: discordgo.ChatApplicationCommand},
		{Name: Info, Description: "Get event information, like reset time", Type: discordgo.ChatApplicationCommand},
		{Name: Credits, Description: "Get event credits", Type: discordgo.ChatApplicationCommand},
		{Name: Gifty, Type: discordgo.UserApplicationCommand},
		{
			Name:        DeviantArt,
			Description: "Set your DeviantArt username so prizes can be delivered",
			Type:        discordgo.ChatApplicationCommand,
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "username",
				Description: "Your DeviantArt username",
				Required:    true,
				MaxLength:   30,
			}},
		},
		{
			Name:        Gifty,
			Description: "Send someone an extra knock to use. (This does not cost you a knock)",
			Type:        discordgo.ChatApplicationCommand,
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        "user",
				Description: "The user to send a gifty to",
				Required:    true,
			}},
		},
		{
			Name:                     AdminKnock,
			Description:              "Knock on behalf of a user [Admin only]",
			Type:                     discordgo.ChatApplicationCommand,
			DefaultMemberPermissions: &adminOnly,
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        "user",
				Description: "The user to knock for",
				Required:    true,
			}},
		},
		{
			Name:                     TestWin,
			Description:              "Post a test message to the win channel [Admin only]",
			Type:                     discordgo.ChatApplicationCommand,
			DefaultMemberPermissions: &adminOnly,
		},
		{
			Name:                     Settings,
			Description:              "Set up the event [Admin only]",
			Type:                     discordgo.ChatApplicationCommand,
			DefaultMemberPermissions: &adminOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "List all settings for the event",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "set",
					Description: "Change a setting for the event",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "setting",
							Description: "Which setting to edit",
							Required:    true,
							Choices:     settingChoices(settingNames),
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "value",
							Description: "The new setting value",
							Required:    true,
						},
					},
				},
			},
		},
		{
			Name:        Prize,
			Description: "Prize commands",
			Type:        discordgo.ChatApplicationCommand,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "List prizes",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
					Name:        "admin",
					Description: "Manage prizes [Admin only]",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionSubCommand,
							Name:        "list",
							Description: "List every prize with its stock",
						},
						{
							Type:        discordgo.ApplicationCommandOptionSubCommand,
							Name:        "add",
							Description: "Add a prize",
							Options: []*discordgo.ApplicationCommandOption{
								{Type: discordgo.ApplicationCommandOptionString, Name: "id", Description: `The id of the prize (eg: "myo-common")`, Required: true},
								{Type: discordgo.ApplicationCommandOptionString, Name: "name", Description: "The name of the prize", Required: true},
								{Type: discordgo.ApplicationCommandOptionInteger, Name: "stock", Description: "The number of this prize in the pool", Required: true},
								{Type: discordgo.ApplicationCommandOptionString, Name: "image", Description: "A link to an image for this prize", Required: true},
								{Type: discordgo.ApplicationCommandOptionInteger, Name: "weight", Description: "Likelihood of this prize per win. Defaults to 10"},
							},
						},
						{
							Type:        discordgo.ApplicationCommandOptionSubCommand,
							Name:        "edit",
							Description: "Modify a prize",
							Options: []*discordgo.ApplicationCommandOption{
								{Type: discordgo.ApplicationCommandOptionString, Name: "id", Description: "The id of the prize to edit", Required: true},
								{
									Type:        discordgo.ApplicationCommandOptionString,
									Name:        "field",
									Description: "The field to change",
									Required:    true,
									Choices: []*discordgo.ApplicationCommandOptionChoice{
										{Name: "stock", Value: "stock"},
										{Name: "weight", Value: "weight"},
										{Name: "image url", Value: "image"},
										{Name: "name", Value: "name"},
									},
								},
								{Type: discordgo.ApplicationCommandOptionString, Name: "value", Description: "The new value of the field", Required: true},
							},
						},
					},
				},
			},
		},
	}
}
