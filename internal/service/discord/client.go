package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	apperrors "github.com/open-builders/knock-backend/internal/common/errors"
)

// ErrPlaceholderUnavailable means the deferred response can no longer be
// edited: the interaction token expired or the message was deleted.
var ErrPlaceholderUnavailable = errors.New("discord: interaction response unavailable")

// Ref identifies an interaction whose original response can be edited.
type Ref struct {
	ID        string `json:"id"`
	AppID     string `json:"appId"`
	Token     string `json:"token"`
	ChannelID string `json:"channelId"`
}

func (r Ref) interaction() *discordgo.Interaction {
	return &discordgo.Interaction{ID: r.ID, AppID: r.AppID, Token: r.Token, ChannelID: r.ChannelID}
}

// Reply is the content of an outbound message.
type Reply struct {
	Content string
	Embeds  []*discordgo.MessageEmbed
	// MentionUsers limits which user mentions ping.
	MentionUsers []string
}

func (r Reply) allowedMentions() *discordgo.MessageAllowedMentions {
	return &discordgo.MessageAllowedMentions{Users: r.MentionUsers}
}

// Messenger is the outbound surface the services depend on.
type Messenger interface {
	EditOriginal(ctx context.Context, ref Ref, reply Reply) error
	GetOriginal(ctx context.Context, ref Ref) error
	PostChannel(ctx context.Context, channelID string, reply Reply) error
}

// Client talks to the Discord REST API through discordgo. Calls are made
// once; retries come from queue redelivery.
type Client struct {
	s     *discordgo.Session
	appID string
}

func NewClient(botToken, appID string) (*Client, error) {
	s, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, err
	}
	s.MaxRestRetries = 0
	s.ShouldRetryOnRateLimit = false
	s.Client = &http.Client{Timeout: 10 * time.Second}
	return &Client{s: s, appID: appID}, nil
}

func (c *Client) EditOriginal(ctx context.Context, ref Ref, reply Reply) error {
	edit := &discordgo.WebhookEdit{
		Content:         &reply.Content,
		Embeds:          &reply.Embeds,
		AllowedMentions: reply.allowedMentions(),
	}
	_, err := c.s.InteractionResponseEdit(ref.interaction(), edit, discordgo.WithContext(ctx))
	return classifyWebhook("edit original response", err)
}

func (c *Client) GetOriginal(ctx context.Context, ref Ref) error {
	_, err := c.s.InteractionResponse(ref.interaction(), discordgo.WithContext(ctx))
	return classifyWebhook("get original response", err)
}

func (c *Client) PostChannel(ctx context.Context, channelID string, reply Reply) error {
	_, err := c.s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:         reply.Content,
		Embeds:          reply.Embeds,
		AllowedMentions: reply.allowedMentions(),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return apperrors.NewDiscordAPIError("create channel message", err)
	}
	return nil
}

// RegisterGuildCommands replaces the guild's application commands.
func (c *Client) RegisterGuildCommands(ctx context.Context, guildID string, cmds []*discordgo.ApplicationCommand) ([]*discordgo.ApplicationCommand, error) {
	out, err := c.s.ApplicationCommandBulkOverwrite(c.appID, guildID, cmds, discordgo.WithContext(ctx))
	if err != nil {
		return nil, apperrors.NewDiscordAPIError("bulk overwrite guild commands", err)
	}
	return out, nil
}

func classifyWebhook(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsPlaceholderGone(err) {
		return fmt.Errorf("%s: %w (%v)", op, ErrPlaceholderUnavailable, err)
	}
	return apperrors.NewDiscordAPIError(op, err)
}

// IsPlaceholderGone reports whether err is Discord's answer for a webhook
// message that no longer exists: HTTP 404 or code 10015 (Unknown Webhook).
func IsPlaceholderGone(err error) bool {
	if errors.Is(err, ErrPlaceholderUnavailable) {
		return true
	}
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownWebhook {
		return true
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}

var _ Messenger = (*Client)(nil)
