package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/open-builders/knock-backend/internal/common/logger"
	"github.com/open-builders/knock-backend/internal/platform/db"
)

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			pg := openPostgres(cmd.Context(), cfg)
			defer pg.Close()

			n, err := db.Migrate(cmd.Context(), pg, logger.For("migrate"))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
			return nil
		},
	}
}
