package discord

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// ErrNotGuildCommand is returned for interactions that are not application
// commands issued inside a guild by a member.
var ErrNotGuildCommand = errors.New("discord: not a guild application command")

// Invocation is the parsed subset of a guild application command.
type Invocation struct {
	Ref         Ref
	GuildID     string
	UserID      string
	Admin       bool
	Command     string
	CommandType discordgo.ApplicationCommandType
	// TargetID is the target of a user context-menu command.
	TargetID string
	Options  []*discordgo.ApplicationCommandInteractionDataOption
}

// ParseInteraction decodes a raw interaction payload.
func ParseInteraction(body []byte) (*discordgo.Interaction, error) {
	var i discordgo.Interaction
	if err := json.Unmarshal(body, &i); err != nil {
		return nil, err
	}
	return &i, nil
}

// IsGuildCommand reports whether i is an application command from a guild
// member.
func IsGuildCommand(i *discordgo.Interaction) bool {
	return i.Type == discordgo.InteractionApplicationCommand &&
		i.GuildID != "" && i.Member != nil && i.Member.User != nil
}

// NewInvocation extracts an Invocation from an interaction.
func NewInvocation(i *discordgo.Interaction) (*Invocation, error) {
	if !IsGuildCommand(i) {
		return nil, ErrNotGuildCommand
	}
	data, ok := i.Data.(discordgo.ApplicationCommandInteractionData)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected data %T", ErrNotGuildCommand, i.Data)
	}
	return &Invocation{
		Ref:         Ref{ID: i.ID, AppID: i.AppID, Token: i.Token, ChannelID: i.ChannelID},
		GuildID:     i.GuildID,
		UserID:      i.Member.User.ID,
		Admin:       i.Member.Permissions&discordgo.PermissionAdministrator != 0,
		Command:     data.Name,
		CommandType: data.CommandType,
		TargetID:    data.TargetID,
		Options:     data.Options,
	}, nil
}

// ParseInvocation decodes body and extracts the Invocation.
func ParseInvocation(body []byte) (*Invocation, error) {
	i, err := ParseInteraction(body)
	if err != nil {
		return nil, err
	}
	return NewInvocation(i)
}

// Subcommand returns the first subcommand or subcommand group option.
func (inv *Invocation) Subcommand() (*discordgo.ApplicationCommandInteractionDataOption, bool) {
	return firstOfType(inv.Options, discordgo.ApplicationCommandOptionSubCommand, discordgo.ApplicationCommandOptionSubCommandGroup)
}

func firstOfType(opts []*discordgo.ApplicationCommandInteractionDataOption, types ...discordgo.ApplicationCommandOptionType) (*discordgo.ApplicationCommandInteractionDataOption, bool) {
	for _, o := range opts {
		for _, t := range types {
			if o.Type == t {
				return o, true
			}
		}
	}
	return nil, false
}

// Option finds a named option among opts.
func Option(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) (*discordgo.ApplicationCommandInteractionDataOption, bool) {
	for _, o := range opts {
		if o.Name == name {
			return o, true
		}
	}
	return nil, false
}

// StringOption returns a string-valued option or "".
func StringOption(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	o, ok := Option(opts, name)
	if !ok {
		return ""
	}
	switch v := o.Value.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprint(v)
	}
}

// IntOption returns an integer-valued option.
func IntOption(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) (int64, bool) {
	o, ok := Option(opts, name)
	if !ok {
		return 0, false
	}
	switch v := o.Value.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}
