package http

import (
	"github.com/bwmarrin/discordgo"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/open-builders/knock-backend/internal/metrics"
	"github.com/open-builders/knock-backend/internal/service/command"
	"github.com/open-builders/knock-backend/internal/service/discord"
)

const guildOnlyMessage = "This command may only be used in a guild."

// privateCommands are answered ephemerally; their replies only reach the
// invoking member.
var privateCommands = map[string]bool{
	command.DeviantArt: true,
}

// CommandSubmitter hands a verified command to the asynchronous pipeline.
type CommandSubmitter interface {
	Submit(guildID, interactionID string, body []byte) bool
}

// InteractionHandlers answers Discord's interaction webhook. Commands are
// acknowledged with a deferred response and processed by the workers.
type InteractionHandlers struct {
	relay   CommandSubmitter
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewInteractionHandlers(relay CommandSubmitter, log zerolog.Logger, m *metrics.Metrics) *InteractionHandlers {
	return &InteractionHandlers{relay: relay, log: log, metrics: m}
}

func (h *InteractionHandlers) Handle(c *fiber.Ctx) error {
	// fasthttp reuses the request buffer after the handler returns
	body := append([]byte(nil), c.Body()...)

	i, err := discord.ParseInteraction(body)
	if err != nil {
		h.metrics.Interaction("unknown", "bad_request")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid interaction payload"})
	}

	switch i.Type {
	case discordgo.InteractionPing:
		h.metrics.Interaction("ping", "ok")
		return c.JSON(discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong})

	case discordgo.InteractionApplicationCommand:
		if !discord.IsGuildCommand(i) {
			h.metrics.Interaction("command", "not_guild")
			return c.JSON(discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{
					Content: guildOnlyMessage,
					Flags:   discordgo.MessageFlagsEphemeral,
				},
			})
		}
		if !h.relay.Submit(i.GuildID, i.ID, body) {
			h.metrics.Interaction("command", "busy")
			h.log.Warn().Str("interaction_id", i.ID).Str("guild_id", i.GuildID).Msg("command relay is full")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "busy"})
		}
		h.metrics.Interaction("command", "deferred")
		resp := discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredChannelMessageWithSource}
		if privateCommands[i.ApplicationCommandData().Name] {
			resp.Data = &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral}
		}
		return c.JSON(resp)
	}

	h.metrics.Interaction("unsupported", "bad_request")
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unsupported interaction type"})
}
