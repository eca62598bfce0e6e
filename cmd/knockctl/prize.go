package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/open-builders/knock-backend/internal/common/logger"
	pgrepo "github.com/open-builders/knock-backend/internal/repository/postgres"
	"github.com/open-builders/knock-backend/internal/service/admin"
)

func prizeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prize",
		Short: "Manage a guild's prize catalogue",
	}
	cmd.AddCommand(prizeImportCommand())
	return cmd
}

func prizeImportCommand() *cobra.Command {
	var guildID string
	cmd := &cobra.Command{
		Use:   "import <catalogue.yaml>",
		Short: "Add or update prizes from a YAML catalogue in one transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			pg := openPostgres(cmd.Context(), cfg)
			defer pg.Close()

			svc := admin.NewService(pgrepo.NewStore(pg, logger.For("store")), cfg.Location(), logger.For("admin"))
			report, err := svc.ImportPrizes(cmd.Context(), guildID, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %d, updated %d\n", len(report.Added), len(report.Updated))
			return nil
		},
	}
	cmd.Flags().StringVar(&guildID, "guild", "", "guild that owns the prizes")
	_ = cmd.MarkFlagRequired("guild")
	return cmd
}
