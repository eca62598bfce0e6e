package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/open-builders/knock-backend/internal/service/admin"
	"github.com/open-builders/knock-backend/internal/service/command"
	"github.com/open-builders/knock-backend/internal/service/discord"
)

func commandsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commands",
		Short: "Manage the bot's application commands",
	}
	cmd.AddCommand(commandsRegisterCommand())
	return cmd
}

func commandsRegisterCommand() *cobra.Command {
	var guildID string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Overwrite the guild's application commands with the current definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			client, err := discord.NewClient(cfg.Discord.BotToken, cfg.Discord.ApplicationID)
			if err != nil {
				return err
			}
			registered, err := client.RegisterGuildCommands(cmd.Context(), guildID, command.Commands(admin.SettingNames()))
			if err != nil {
				return err
			}
			for _, c := range registered {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", c.ID, c.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&guildID, "guild", "", "guild to register commands in")
	_ = cmd.MarkFlagRequired("guild")
	return cmd
}
